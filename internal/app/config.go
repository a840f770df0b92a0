package app

import (
	"os"
	"time"
	_ "time/tzdata" // report timezone must resolve in minimal images

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/orderdesk/internal/scheduler"
)

// Config holds the complete application configuration, loadable from
// environment variables (ORDERDESK_ prefix), flags, or YAML config files.
type Config struct {
	Addr        string `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL string `usage:"PostgreSQL connection URL (ORDERDESK_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	// SkipMigrations leaves schema management to the migrate command.
	SkipMigrations bool `default:"false" usage:"Do not apply migrations on startup" flag:"skip-migrations"`
	DB             DBConfig
	CORS           CORSConfig
	Graceful       GracefulConfig
	Window         WindowConfig
	Report         ReportConfig
	Notify         NotifyConfig
	Relay          RelayConfig
}

// DBConfig sizes the connection pool.
type DBConfig struct {
	MaxConns int32 `default:"10" usage:"Maximum pool connections" flag:"db-max-conns"`
	MinConns int32 `default:"1"  usage:"Minimum idle pool connections" flag:"db-min-conns"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// WindowConfig sets the delivery window length.
type WindowConfig struct {
	Days int `default:"5" usage:"Days after today covered by the delivery window" flag:"window-days"`
}

// ReportConfig schedules the daily report.
type ReportConfig struct {
	Enabled  bool          `default:"true" usage:"Send the daily delivery report" flag:"report-enabled"`
	At       string        `default:"08:00" usage:"Wall-clock time of the daily report (HH:MM)" flag:"report-at"`
	Timezone string        `default:"Europe/Rome" usage:"Timezone of the report schedule and of today" flag:"report-tz"`
	Timeout  time.Duration `default:"1m" usage:"Time limit of one report run" flag:"report-timeout"`
}

// NotifyConfig selects and configures the notification sink.
type NotifyConfig struct {
	Sink  string `default:"log" usage:"Notification sink: log, http or kafka" flag:"notify-sink"`
	Staff string `default:"" usage:"Staff address for alerts and the daily report" flag:"notify-staff"`
	MailerURL     string        `default:"" usage:"Mail service endpoint for the http sink" flag:"mailer-url"`
	MailerTimeout time.Duration `default:"10s" usage:"Mail service request timeout" flag:"mailer-timeout"`
	KafkaBrokers  []string      `default:"localhost:9092" usage:"Kafka brokers for the kafka sink" flag:"kafka-brokers"`
	KafkaTopic    string        `default:"orderdesk.notifications" usage:"Kafka topic for the kafka sink" flag:"kafka-topic"`
}

// RelayConfig tunes the outbox relay.
type RelayConfig struct {
	PollInterval time.Duration `default:"5s" usage:"Outbox poll interval" flag:"relay-poll-interval"`
	BatchSize    int           `default:"20" usage:"Notifications claimed per poll" flag:"relay-batch-size"`
	MaxAttempts  int           `default:"5" usage:"Delivery attempts before a notification is abandoned" flag:"relay-max-attempts"`
	SendTimeout  time.Duration `default:"15s" usage:"Time limit of one delivery" flag:"relay-send-timeout"`
	RetryBackoff time.Duration `default:"30s" usage:"Backoff per failed attempt" flag:"relay-retry-backoff"`
	// BacklogLimit marks the service unready when this many notifications
	// are waiting. Zero disables the check.
	BacklogLimit int64 `default:"1000" usage:"Pending notifications that fail readiness" flag:"relay-backlog-limit"`
}

// LoadConfig loads configuration from environment variables, YAML config files,
// and applies platform-specific defaults.
func LoadConfig() (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: "ORDERDESK",
		Files:     []string{"config.yaml", "/etc/orderdesk/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values the loader cannot.
func (c *Config) Validate() error {
	if c.DatabaseURL == "" {
		return errors.New("database URL is required: set ORDERDESK_DATABASE_URL or DATABASE_URL")
	}
	if _, err := scheduler.ParseClock(c.Report.At); err != nil {
		return errors.Wrap(err, "report time")
	}
	if _, err := time.LoadLocation(c.Report.Timezone); err != nil {
		return errors.Wrapf(err, "report timezone %q", c.Report.Timezone)
	}
	switch c.Notify.Sink {
	case "log":
	case "http":
		if c.Notify.MailerURL == "" {
			return errors.New("notify sink http requires a mailer URL")
		}
	case "kafka":
		if len(c.Notify.KafkaBrokers) == 0 || c.Notify.KafkaTopic == "" {
			return errors.New("notify sink kafka requires brokers and a topic")
		}
	default:
		return errors.Errorf("unknown notify sink %q", c.Notify.Sink)
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables that use
// standard names like DATABASE_URL and PORT.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
