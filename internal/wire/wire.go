// Package wire holds the JSON representation of orders shared by the HTTP
// API and the notification payloads.
package wire

import (
	"time"

	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// Money formats an amount with two decimal places.
func Money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// UnitPrice formats a unit price with two decimal places, or with the full
// stored precision when a configured line needs more.
func UnitPrice(d decimal.Decimal) string {
	if d.Equal(d.Round(2)) {
		return d.StringFixed(2)
	}
	return d.String()
}

// Date formats a civil date as YYYY-MM-DD.
func Date(t time.Time) string {
	return t.Format(time.DateOnly)
}

// EncodeOrder writes the API order object.
func EncodeOrder(e *jx.Encoder, o *order.Order) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(o.ID)
	e.FieldStart("cliente_id")
	e.Int64(o.CustomerID)
	e.FieldStart("email")
	e.Str(o.Contact.Email)
	e.FieldStart("nome")
	e.Str(o.Contact.Name)
	e.FieldStart("cognome")
	e.Str(o.Contact.Surname)
	e.FieldStart("cellulare")
	e.Str(o.Contact.Phone)
	e.FieldStart("data_consegna")
	e.Str(Date(o.DeliveryDate))
	e.FieldStart("luogo_consegna")
	e.Str(o.DeliveryLocation)
	e.FieldStart("totale")
	e.Str(Money(o.Total))
	e.FieldStart("stato")
	e.Str(string(o.Status))
	if o.RequestNotes != "" {
		e.FieldStart("note_richieste")
		e.Str(o.RequestNotes)
	}
	if !o.CreatedAt.IsZero() {
		e.FieldStart("created_at")
		e.Str(o.CreatedAt.UTC().Format(time.RFC3339))
		e.FieldStart("updated_at")
		e.Str(o.UpdatedAt.UTC().Format(time.RFC3339))
	}
	if c := o.Customer; c != nil {
		e.FieldStart("cliente")
		e.ObjStart()
		e.FieldStart("id")
		e.Int64(c.ID)
		e.FieldStart("email")
		e.Str(c.Email)
		e.FieldStart("nome")
		e.Str(c.Name)
		e.FieldStart("cognome")
		e.Str(c.Surname)
		e.FieldStart("cellulare")
		e.Str(c.Phone)
		if c.Address != "" {
			e.FieldStart("indirizzo")
			e.Str(c.Address)
		}
		e.ObjEnd()
	}
	e.FieldStart("prodotti")
	e.ArrStart()
	for _, li := range o.Items {
		EncodeLineItem(e, li)
	}
	e.ArrEnd()
	e.ObjEnd()
}

// EncodeLineItem writes one line item object.
func EncodeLineItem(e *jx.Encoder, li order.LineItem) {
	e.ObjStart()
	e.FieldStart("id")
	e.Int64(li.ID)
	e.FieldStart("prodotto_id")
	e.Int64(li.ProductID)
	e.FieldStart("nome")
	e.Str(li.ProductName)
	e.FieldStart("quantita")
	e.Int(li.Quantity)
	e.FieldStart("prezzo_unitario")
	e.Str(UnitPrice(li.UnitPrice))
	e.FieldStart("totale_riga")
	e.Str(Money(li.LineTotal()))
	if li.ConfigurationNotes != "" {
		e.FieldStart("note_configurazione")
		e.Str(li.ConfigurationNotes)
	}
	e.ObjEnd()
}

// EncodeOrders writes a JSON array of orders.
func EncodeOrders(e *jx.Encoder, orders []order.Order) {
	e.ArrStart()
	for i := range orders {
		EncodeOrder(e, &orders[i])
	}
	e.ArrEnd()
}

// EncodeError writes the error body {"code", "message"}.
func EncodeError(e *jx.Encoder, code int, message string) {
	e.ObjStart()
	e.FieldStart("code")
	e.Int(code)
	e.FieldStart("message")
	e.Str(message)
	e.ObjEnd()
}

// OrderJSON returns the encoded order.
func OrderJSON(o *order.Order) []byte {
	var e jx.Encoder
	EncodeOrder(&e, o)
	return e.Bytes()
}
