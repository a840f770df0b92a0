package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/handler"
	"github.com/xenking/orderdesk/internal/notify"
	"github.com/xenking/orderdesk/internal/repository"
	"github.com/xenking/orderdesk/internal/scheduler"
	"github.com/xenking/orderdesk/pkg/health"
	"github.com/xenking/orderdesk/pkg/httpmiddleware"
)

// Telemetry supplies the OpenTelemetry providers; *app.Telemetry implements
// it.
type Telemetry interface {
	TracerProvider() trace.TracerProvider
	MeterProvider() metric.MeterProvider
}

var _ Telemetry = (*app.Telemetry)(nil)

// Run creates all dependencies, starts the HTTP server, the outbox relay and
// the daily report, and handles graceful shutdown. It is the single wiring
// point for the application.
func Run(ctx context.Context, lg *zap.Logger, m Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))

	if !cfg.SkipMigrations {
		if err := repository.RunMigrations(cfg.DatabaseURL); err != nil {
			return errors.Wrap(err, "run migrations")
		}
	}

	pool, err := repository.NewPool(ctx, cfg.DatabaseURL, repository.PoolConfig{
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()
	store := repository.NewStore(pool)

	loc, err := time.LoadLocation(cfg.Report.Timezone)
	if err != nil {
		return errors.Wrap(err, "load report timezone")
	}
	at, err := scheduler.ParseClock(cfg.Report.At)
	if err != nil {
		return errors.Wrap(err, "parse report time")
	}

	window := order.NewDeliveryWindow(store.Orders(), cfg.Window.Days)

	// Notifications.
	notifier, closeNotifier, err := newNotifier(cfg, window.Days(), lg, m.TracerProvider())
	if err != nil {
		return errors.Wrap(err, "create notifier")
	}
	defer func() {
		if err := closeNotifier(); err != nil {
			lg.Warn("Close notifier", zap.Error(err))
		}
	}()

	relay, err := notify.NewRelay(store.Outbox(), store.Orders(), notifier, notify.RelayConfig{
		PollInterval: cfg.Relay.PollInterval,
		BatchSize:    cfg.Relay.BatchSize,
		MaxAttempts:  cfg.Relay.MaxAttempts,
		SendTimeout:  cfg.Relay.SendTimeout,
		RetryBackoff: cfg.Relay.RetryBackoff,
	}, lg, m.MeterProvider())
	if err != nil {
		return errors.Wrap(err, "create relay")
	}

	// Domain services.
	coordinator, err := order.NewCoordinator(store, store.Orders(),
		order.WithTracerProvider(m.TracerProvider()),
		order.WithMeterProvider(m.MeterProvider()),
		order.WithAfterCommit(relay.Nudge),
	)
	if err != nil {
		return errors.Wrap(err, "create order coordinator")
	}
	report := &scheduler.Daily{
		Name:     "daily-report",
		At:       at,
		Location: loc,
		Job:      notify.NewDailyReport(window, notifier, loc, lg).Run,
		Timeout:  cfg.Report.Timeout,
	}

	// Health checks.
	healthSvc := health.New()
	healthSvc.Register(health.Readiness, "postgres", 5*time.Second, health.PingCheck(store))
	healthSvc.Register(health.Liveness, "goroutines", time.Second, health.GoroutineCountCheck(10000))
	if limit := cfg.Relay.BacklogLimit; limit > 0 {
		healthSvc.Register(health.Readiness, "notification_backlog", 5*time.Second,
			health.BacklogCheck(func(ctx context.Context) (int64, error) {
				return store.Outbox().Pending(ctx, cfg.Relay.MaxAttempts)
			}, limit),
			health.WithFailureThreshold(5),
		)
	}

	// HTTP.
	h := handler.NewHandler(handler.HandlerConfig{ReportLocation: loc}, coordinator, window)
	mux := http.NewServeMux()
	mux.HandleFunc("GET /livez", healthSvc.LiveEndpoint)
	mux.HandleFunc("GET /readyz", healthSvc.ReadyEndpoint)
	h.Register(mux)

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(mux,
			httpmiddleware.Recovery(),
			httpmiddleware.RequestID(),
			httpmiddleware.InjectLogger(zctx.From(ctx)),
			httpmiddleware.Instrument("orderdesk-api", m.TracerProvider(), m.MeterProvider()),
			httpmiddleware.LogRequests("/livez", "/readyz"),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", httpmiddleware.RequestIDHeader},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
		),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return healthSvc.Run(gctx, 10*time.Second)
	})
	g.Go(func() error {
		return relay.Run(gctx)
	})
	if cfg.Report.Enabled {
		g.Go(func() error {
			return report.Run(gctx, lg)
		})
	}

	// Graceful shutdown: wait for cancellation, drain, then stop.
	g.Go(func() error {
		<-gctx.Done()
		healthSvc.SetReady(false)
		lg.Info("Readiness set to false, draining", zap.Duration("delay", cfg.Graceful.ReadinessDelay))
		time.Sleep(cfg.Graceful.ReadinessDelay)

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), cfg.Graceful.ShutdownTimeout)
		defer cancel()

		lg.Info("Shutting down server", zap.Duration("timeout", cfg.Graceful.ShutdownTimeout))
		if err := server.Shutdown(shutdownCtx); err != nil {
			return errors.Wrap(err, "shutdown")
		}
		return nil
	})
	g.Go(func() error {
		lg.Info("Server listening", zap.String("addr", cfg.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "server")
		}
		return nil
	})
	healthSvc.SetReady(true)

	return g.Wait()
}

// newNotifier builds the configured notification sink. The returned close
// function releases its resources.
func newNotifier(cfg *Config, windowDays int, lg *zap.Logger, tp trace.TracerProvider) (order.Notifier, func() error, error) {
	settings := notify.Settings{
		StaffAddress: cfg.Notify.Staff,
		WindowDays:   windowDays,
	}
	noClose := func() error { return nil }

	switch cfg.Notify.Sink {
	case "http":
		n, err := notify.NewMailerNotifier(notify.MailerConfig{
			URL:            cfg.Notify.MailerURL,
			Timeout:        cfg.Notify.MailerTimeout,
			TracerProvider: tp,
		}, settings)
		if err != nil {
			return nil, nil, err
		}
		return n, noClose, nil
	case "kafka":
		n := notify.NewKafkaNotifier(notify.NewKafkaWriter(cfg.Notify.KafkaBrokers, cfg.Notify.KafkaTopic), settings)
		return n, n.Close, nil
	default:
		return notify.NewLogNotifier(lg, settings), noClose, nil
	}
}
