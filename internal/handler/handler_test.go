package handler

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/orderdesk/internal/domain/customer"
	"github.com/xenking/orderdesk/internal/domain/order"
)

type fakeService struct {
	placed   order.PlaceOrderRequest
	placeErr error

	statusID  int64
	statusRaw string
	statusErr error

	getErr error

	customerID int64
	listErr    error
}

func sampleOrder(id int64) *order.Order {
	return &order.Order{
		ID:         id,
		CustomerID: 7,
		Contact: order.Contact{
			Email:   "mario@example.com",
			Name:    "Mario",
			Surname: "Rossi",
			Phone:   "3331234567",
		},
		DeliveryDate:     time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC),
		DeliveryLocation: "Via Roma 1",
		Total:            decimal.RequireFromString("28"),
		Status:           order.StatusPending,
		CreatedAt:        time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		UpdatedAt:        time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC),
		Customer:         &customer.Customer{ID: 7, Email: "mario@example.com", Name: "Mario", Surname: "Rossi"},
		Items: []order.LineItem{
			{ID: 1, OrderID: id, ProductID: 3, ProductName: "Torta", Quantity: 2, UnitPrice: decimal.RequireFromString("14")},
		},
	}
}

func (f *fakeService) PlaceOrder(_ context.Context, req order.PlaceOrderRequest) (*order.Order, error) {
	f.placed = req
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	return sampleOrder(42), nil
}

func (f *fakeService) UpdateStatus(_ context.Context, id int64, raw string) (*order.Order, error) {
	f.statusID, f.statusRaw = id, raw
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if _, err := order.ParseStatus(raw); err != nil {
		return nil, err
	}
	o := sampleOrder(id)
	o.Status = order.Status(raw)
	return o, nil
}

func (f *fakeService) GetOrder(_ context.Context, id int64) (*order.Order, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return sampleOrder(id), nil
}

func (f *fakeService) ListOrders(context.Context) ([]order.Order, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return []order.Order{*sampleOrder(2), *sampleOrder(1)}, nil
}

func (f *fakeService) ListCustomerOrders(_ context.Context, customerID int64) ([]order.Order, error) {
	f.customerID = customerID
	return []order.Order{*sampleOrder(5)}, nil
}

type fakeDue struct {
	today time.Time
	err   error
}

func (f *fakeDue) Run(_ context.Context, today time.Time) ([]order.Order, error) {
	f.today = today
	if f.err != nil {
		return nil, f.err
	}
	return []order.Order{*sampleOrder(9)}, nil
}

func (f *fakeDue) Bounds(today time.Time) (time.Time, time.Time) {
	return today, today.AddDate(0, 0, 5)
}

func (f *fakeDue) Days() int { return 5 }

func newTestServer(t *testing.T, svc *fakeService, due *fakeDue) (*Handler, *http.ServeMux) {
	t.Helper()
	rome, err := time.LoadLocation("Europe/Rome")
	require.NoError(t, err)
	h := NewHandler(HandlerConfig{ReportLocation: rome}, svc, due)
	h.now = func() time.Time { return time.Date(2026, 10, 16, 23, 30, 0, 0, time.UTC) }
	mux := http.NewServeMux()
	h.Register(mux)
	return h, mux
}

func do(mux http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r *http.Request
	if body == "" {
		r = httptest.NewRequest(method, target, nil)
	} else {
		r = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, r)
	return w
}

// fields returns the raw top-level members of a JSON object body.
func fields(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := jx.DecodeBytes(w.Body.Bytes()).ObjBytes(func(d *jx.Decoder, key []byte) error {
		raw, err := d.Raw()
		out[string(key)] = raw.String()
		return err
	})
	require.NoError(t, err, w.Body.String())
	return out
}

func arrayLen(t *testing.T, raw string) int {
	t.Helper()
	n := 0
	require.NoError(t, jx.DecodeStr(raw).Arr(func(d *jx.Decoder) error {
		n++
		return d.Skip()
	}))
	return n
}

const validBody = `{
	"email": "mario@example.com",
	"nome": "Mario",
	"cognome": "Rossi",
	"cellulare": "3331234567",
	"data_consegna": "2026-10-20",
	"luogo_consegna": "Via Roma 1",
	"note_richieste": "citofonare",
	"prodotti": [
		{"prodotto_id": 3, "quantita": 2},
		{"prodotto_id": "4", "quantita": "abc", "note_configurazione": {"gusto": "fragola"}, "prezzo_totale": "35.50"}
	]
}`

func TestPlaceOrder(t *testing.T) {
	svc := &fakeService{}
	_, mux := newTestServer(t, svc, &fakeDue{})

	w := do(mux, http.MethodPost, "/orders", validBody)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	body := fields(t, w)
	assert.Equal(t, "42", body["id"])
	assert.Equal(t, `"28.00"`, body["totale"])
	assert.Equal(t, `"pendente"`, body["stato"])
	assert.Equal(t, `"2026-10-20"`, body["data_consegna"])
	assert.Equal(t, 1, arrayLen(t, body["prodotti"]))

	req := svc.placed
	assert.Equal(t, "mario@example.com", req.Email)
	assert.Equal(t, "citofonare", req.RequestNotes)
	assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), req.DeliveryDate)
	require.Len(t, req.Items, 2)
	assert.Equal(t, order.CartItem{ProductID: 3, Quantity: 2}, req.Items[0])

	configured := req.Items[1]
	assert.Equal(t, int64(4), configured.ProductID)
	assert.Zero(t, configured.Quantity, "non-numeric quantity is left for coercion")
	assert.JSONEq(t, `{"gusto":"fragola"}`, configured.ConfigurationNotes)
	require.True(t, configured.SubmittedTotal.Valid)
	assert.Equal(t, "35.5", configured.SubmittedTotal.Decimal.String())
}

func TestPlaceOrder_Decoding(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, req order.PlaceOrderRequest)
	}{
		{
			name: "rfc3339 delivery date keeps calendar day",
			body: `{"data_consegna": "2026-10-20T23:00:00+02:00", "prodotti": []}`,
			check: func(t *testing.T, req order.PlaceOrderRequest) {
				assert.Equal(t, time.Date(2026, 10, 20, 0, 0, 0, 0, time.UTC), req.DeliveryDate)
			},
		},
		{
			name: "explicit customer id as string",
			body: `{"cliente_id": "12", "prodotti": [{"prodotto_id": 1}]}`,
			check: func(t *testing.T, req order.PlaceOrderRequest) {
				assert.Equal(t, int64(12), req.CustomerID)
				assert.Zero(t, req.Items[0].Quantity)
			},
		},
		{
			name: "nulls are absent",
			body: `{"cliente_id": null, "note_richieste": null, "prodotti": [{"prodotto_id": 1, "quantita": 2.9, "prezzo_totale": null, "note_configurazione": null}]}`,
			check: func(t *testing.T, req order.PlaceOrderRequest) {
				assert.Zero(t, req.CustomerID)
				assert.Equal(t, 2, req.Items[0].Quantity)
				assert.False(t, req.Items[0].SubmittedTotal.Valid)
				assert.False(t, req.Items[0].Configured())
			},
		},
		{
			name: "quantity bounds",
			body: `{"prodotti": [{"prodotto_id": 1, "quantita": 2147483647}, {"prodotto_id": 1, "quantita": "-1e30"}]}`,
			check: func(t *testing.T, req order.PlaceOrderRequest) {
				assert.Equal(t, math.MaxInt32, req.Items[0].Quantity)
				assert.Zero(t, req.Items[1].Quantity)
			},
		},
		{
			name: "unknown fields ignored",
			body: `{"coupon": {"code": "X"}, "prodotti": [{"prodotto_id": 1, "extra": [1, 2]}]}`,
			check: func(t *testing.T, req order.PlaceOrderRequest) {
				assert.Len(t, req.Items, 1)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := decodePlaceOrder(strings.NewReader(tt.body))
			require.NoError(t, err)
			tt.check(t, req)
		})
	}
}

func TestPlaceOrder_BadRequest(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		message string
	}{
		{name: "malformed json", body: `{"email": `, message: "invalid body"},
		{name: "bad date", body: `{"data_consegna": "20/10/2026"}`, message: "invalid data_consegna"},
		{name: "bad product id", body: `{"prodotti": [{"prodotto_id": "tre"}]}`, message: "invalid prodotto_id"},
		{name: "bad customer id", body: `{"cliente_id": "x"}`, message: "invalid cliente_id"},
		{name: "customer id beyond int64", body: `{"cliente_id": 18446744073709551617}`, message: "invalid cliente_id"},
		{name: "product id beyond int64", body: `{"prodotti": [{"prodotto_id": "18446744073709551617"}]}`, message: "invalid prodotto_id"},
		{name: "quantity beyond int64", body: `{"prodotti": [{"prodotto_id": 1, "quantita": "18446744073709551617"}]}`, message: "invalid quantita"},
		{name: "quantity in exponent form", body: `{"prodotti": [{"prodotto_id": 1, "quantita": 1e19}]}`, message: "invalid quantita"},
		{name: "quantity beyond int32", body: `{"prodotti": [{"prodotto_id": 1, "quantita": 3000000000}]}`, message: "must not exceed 2147483647"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			_, mux := newTestServer(t, svc, &fakeDue{})
			w := do(mux, http.MethodPost, "/orders", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)
			body := fields(t, w)
			assert.Equal(t, "400", body["code"])
			assert.Contains(t, body["message"], tt.message)
			assert.Empty(t, svc.placed.Email, "service not called")
		})
	}
}

func TestPlaceOrder_ErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		code    int
		message string
	}{
		{
			name:    "validation",
			err:     &order.ValidationError{Field: "email", Reason: "required"},
			code:    http.StatusBadRequest,
			message: "invalid email: required",
		},
		{
			name:    "product not found",
			err:     errors.Wrap(&order.ProductNotFoundError{ProductID: 9}, "price cart"),
			code:    http.StatusUnprocessableEntity,
			message: "product 9 not found",
		},
		{
			name:    "product unavailable",
			err:     &order.ProductUnavailableError{ProductID: 4},
			code:    http.StatusUnprocessableEntity,
			message: "product 4 is not available",
		},
		{
			name:    "insufficient stock",
			err:     &order.InsufficientStockError{ProductID: 3, Requested: 5},
			code:    http.StatusUnprocessableEntity,
			message: "insufficient stock for product 3 (requested 5)",
		},
		{
			name: "configured price",
			err: &order.ConfiguredPriceError{
				ProductID: 2,
				UnitPrice: decimal.RequireFromString("1"),
				Min:       decimal.NewNullDecimal(decimal.RequireFromString("5")),
			},
			code:    http.StatusUnprocessableEntity,
			message: "configured unit price 1.00 for product 2 is out of bounds [5.00, -]",
		},
		{
			name:    "customer not found",
			err:     &order.CustomerNotFoundError{CustomerID: 77},
			code:    http.StatusUnprocessableEntity,
			message: "customer 77 not found",
		},
		{
			name:    "storage",
			err:     &order.StorageError{Op: "place order", Err: errors.New("connection reset")},
			code:    http.StatusInternalServerError,
			message: "internal error",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := newTestServer(t, &fakeService{placeErr: tt.err}, &fakeDue{})
			w := do(mux, http.MethodPost, "/orders", validBody)
			require.Equal(t, tt.code, w.Code)
			assert.Equal(t, `"`+tt.message+`"`, fields(t, w)["message"])
		})
	}
}

func TestPlaceOrder_BodyTooLarge(t *testing.T) {
	svc := &fakeService{}
	h := NewHandler(HandlerConfig{MaxBodyBytes: 16}, svc, &fakeDue{})
	mux := http.NewServeMux()
	h.Register(mux)

	w := do(mux, http.MethodPost, "/orders", validBody)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestUpdateStatus(t *testing.T) {
	for _, path := range []string{"/orders/15/status", "/orders/15/stato"} {
		t.Run(path, func(t *testing.T) {
			svc := &fakeService{}
			_, mux := newTestServer(t, svc, &fakeDue{})

			w := do(mux, http.MethodPut, path, `{"stato": "spedito"}`)
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, `"spedito"`, fields(t, w)["stato"])
			assert.Equal(t, int64(15), svc.statusID)
		})
	}
}

func TestUpdateStatus_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		body string
		err  error
		code int
	}{
		{name: "unknown status", path: "/orders/1/status", body: `{"stato": "perso"}`, code: http.StatusBadRequest},
		{name: "missing status", path: "/orders/1/status", body: `{}`, code: http.StatusBadRequest},
		{name: "bad id", path: "/orders/abc/status", body: `{"stato": "spedito"}`, code: http.StatusBadRequest},
		{name: "zero id", path: "/orders/0/status", body: `{"stato": "spedito"}`, code: http.StatusBadRequest},
		{name: "unknown order", path: "/orders/99/status", body: `{"stato": "spedito"}`, err: order.ErrOrderNotFound, code: http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, mux := newTestServer(t, &fakeService{statusErr: tt.err}, &fakeDue{})
			w := do(mux, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.code, w.Code, w.Body.String())
		})
	}
}

func TestReads(t *testing.T) {
	svc := &fakeService{}
	_, mux := newTestServer(t, svc, &fakeDue{})

	w := do(mux, http.MethodGet, "/orders/8", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := fields(t, w)
	assert.Equal(t, "8", body["id"])
	assert.Contains(t, body["cliente"], `"email":"mario@example.com"`)

	w = do(mux, http.MethodGet, "/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, arrayLen(t, w.Body.String()))

	w = do(mux, http.MethodGet, "/customers/7/orders", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, arrayLen(t, w.Body.String()))
	assert.Equal(t, int64(7), svc.customerID)

	svc.getErr = order.ErrOrderNotFound
	w = do(mux, http.MethodGet, "/orders/8", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	svc.listErr = errors.New("db down")
	w = do(mux, http.MethodGet, "/orders", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = do(mux, http.MethodDelete, "/orders/8", "")
	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
}

func TestDueReport(t *testing.T) {
	due := &fakeDue{}
	_, mux := newTestServer(t, &fakeService{}, due)

	// 23:30 UTC on Oct 16 is already Oct 17 in Rome.
	w := do(mux, http.MethodGet, "/reports/due", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := fields(t, w)
	assert.Equal(t, `"2026-10-17"`, body["from"])
	assert.Equal(t, `"2026-10-22"`, body["to"])
	assert.Equal(t, "5", body["window_days"])
	assert.Equal(t, "1", body["count"])
	assert.Equal(t, 1, arrayLen(t, body["orders"]))

	w = do(mux, http.MethodGet, "/reports/due?date=2026-12-30", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, time.Date(2026, 12, 30, 0, 0, 0, 0, time.UTC), due.today)
	assert.Equal(t, `"2027-01-04"`, fields(t, w)["to"])

	w = do(mux, http.MethodGet, "/reports/due?date=tomorrow", "")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	due.err = errors.New("timeout")
	w = do(mux, http.MethodGet, "/reports/due", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}
