package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/orderdesk/internal/domain/order"
	"github.com/xenking/orderdesk/internal/wire"
	"github.com/xenking/orderdesk/pkg/httpmiddleware"
)

// OrderService is the order API the handler delegates to.
type OrderService interface {
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.Order, error)
	UpdateStatus(ctx context.Context, id int64, raw string) (*order.Order, error)
	GetOrder(ctx context.Context, id int64) (*order.Order, error)
	ListOrders(ctx context.Context) ([]order.Order, error)
	ListCustomerOrders(ctx context.Context, customerID int64) ([]order.Order, error)
}

// DueReporter lists the orders due for delivery around a day.
type DueReporter interface {
	Run(ctx context.Context, today time.Time) ([]order.Order, error)
	Bounds(today time.Time) (from, to time.Time)
	Days() int
}

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ReportLocation is the timezone "today" is computed in for the due
	// report. Nil means UTC.
	ReportLocation *time.Location

	// MaxBodyBytes caps request bodies. Zero means 1 MiB.
	MaxBodyBytes int64
}

// Handler serves the order API over net/http.
type Handler struct {
	orders  OrderService
	window  DueReporter
	loc     *time.Location
	maxBody int64
	now     func() time.Time
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, orders OrderService, window DueReporter) *Handler {
	loc := cfg.ReportLocation
	if loc == nil {
		loc = time.UTC
	}
	maxBody := cfg.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	return &Handler{
		orders:  orders,
		window:  window,
		loc:     loc,
		maxBody: maxBody,
		now:     time.Now,
	}
}

// Register mounts the API routes on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /orders", h.PlaceOrder},
		{"GET /orders", h.ListOrders},
		{"GET /orders/{id}", h.GetOrder},
		{"PUT /orders/{id}/status", h.UpdateStatus},
		{"PUT /orders/{id}/stato", h.UpdateStatus},
		{"GET /customers/{id}/orders", h.ListCustomerOrders},
		{"GET /reports/due", h.DueReport},
	}
	for _, r := range routes {
		mux.HandleFunc(r.pattern, httpmiddleware.Route(r.handler))
	}
}

// PlaceOrder handles POST /orders.
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	req, err := decodePlaceOrder(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	o, err := h.orders.PlaceOrder(r.Context(), req)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
}

// UpdateStatus handles PUT /orders/{id}/status.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	raw, err := decodeStatus(http.MaxBytesReader(w, r.Body, h.maxBody))
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	o, err := h.orders.UpdateStatus(r.Context(), id, raw)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
}

// GetOrder handles GET /orders/{id}.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	o, err := h.orders.GetOrder(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrder(e, o) })
}

// ListOrders handles GET /orders.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := h.orders.ListOrders(r.Context())
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrders(e, orders) })
}

// ListCustomerOrders handles GET /customers/{id}/orders.
func (h *Handler) ListCustomerOrders(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	orders, err := h.orders.ListCustomerOrders(r.Context(), id)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) { wire.EncodeOrders(e, orders) })
}

// DueReport handles GET /reports/due. The optional date query parameter
// overrides today.
func (h *Handler) DueReport(w http.ResponseWriter, r *http.Request) {
	today := order.Today(h.now(), h.loc)
	if raw := r.URL.Query().Get("date"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			h.writeError(r.Context(), w, &order.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"})
			return
		}
		today = d
	}

	orders, err := h.window.Run(r.Context(), today)
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}
	from, to := h.window.Bounds(today)
	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("date")
		e.Str(wire.Date(from))
		e.FieldStart("window_days")
		e.Int(h.window.Days())
		e.FieldStart("from")
		e.Str(wire.Date(from))
		e.FieldStart("to")
		e.Str(wire.Date(to))
		e.FieldStart("count")
		e.Int(len(orders))
		e.FieldStart("orders")
		wire.EncodeOrders(e, orders)
		e.ObjEnd()
	})
}

func pathID(r *http.Request, name string) (int64, error) {
	id, ok := parseID(r.PathValue(name))
	if !ok {
		return 0, &order.ValidationError{Field: name, Reason: "must be a positive integer"}
	}
	return id, nil
}

func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	code, msg := mapOrderError(err)
	if code >= http.StatusInternalServerError {
		zctx.From(ctx).Error("Request failed", zap.Error(err))
	}
	writeJSON(w, code, func(e *jx.Encoder) { wire.EncodeError(e, code, msg) })
}

func writeJSON(w http.ResponseWriter, status int, encode func(e *jx.Encoder)) {
	var e jx.Encoder
	encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
