package handler

import (
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/orderdesk/internal/domain/order"
)

var (
	maxInt64 = decimal.NewFromInt(math.MaxInt64)
	minInt64 = decimal.NewFromInt(math.MinInt64)
	// maxQuantity is the largest quantity a line item column holds.
	maxQuantity = decimal.NewFromInt(math.MaxInt32)
)

func readBody(r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "read body")
	}
	return data, nil
}

func malformed(err error) error {
	return &order.ValidationError{Field: "body", Reason: "malformed JSON: " + err.Error()}
}

// decodePlaceOrder reads the POST /orders body. Numeric fields may arrive as
// JSON numbers or numeric strings; quantities that are missing or not numeric
// become 0 and are coerced by the pricing engine.
func decodePlaceOrder(r io.Reader) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	data, err := readBody(r)
	if err != nil {
		return req, err
	}

	var fieldErr error
	err = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "cliente_id":
			if d.Next() == jx.Null {
				return d.Null()
			}
			id, ok, err := decodeInt(d)
			if err != nil {
				return err
			}
			if !ok && fieldErr == nil {
				fieldErr = &order.ValidationError{Field: "cliente_id", Reason: "must be an integer"}
			}
			req.CustomerID = id
		case "email":
			return decodeText(d, &req.Email)
		case "nome":
			return decodeText(d, &req.Name)
		case "cognome":
			return decodeText(d, &req.Surname)
		case "cellulare":
			return decodeText(d, &req.Phone)
		case "luogo_consegna":
			return decodeText(d, &req.DeliveryLocation)
		case "note_richieste":
			return decodeText(d, &req.RequestNotes)
		case "data_consegna":
			var raw string
			if err := decodeText(d, &raw); err != nil {
				return err
			}
			if raw == "" {
				return nil
			}
			t, ok := parseDate(raw)
			if !ok && fieldErr == nil {
				fieldErr = &order.ValidationError{Field: "data_consegna", Reason: "must be a date (YYYY-MM-DD)"}
			}
			req.DeliveryDate = t
		case "prodotti":
			if d.Next() == jx.Null {
				return d.Null()
			}
			return d.Arr(func(d *jx.Decoder) error {
				item, invalid, err := decodeCartItem(d)
				if err != nil {
					return err
				}
				if invalid != nil && fieldErr == nil {
					fieldErr = invalid
				}
				if item.ProductID <= 0 && fieldErr == nil {
					fieldErr = &order.ValidationError{Field: "prodotto_id", Reason: "must be a positive integer"}
				}
				req.Items = append(req.Items, item)
				return nil
			})
		default:
			return d.Skip()
		}
		return nil
	})
	if err != nil {
		return req, malformed(err)
	}
	if fieldErr != nil {
		return req, fieldErr
	}
	return req, nil
}

// decodeCartItem reads one cart entry. invalid reports a field that decoded
// but cannot be accepted.
func decodeCartItem(d *jx.Decoder) (item order.CartItem, invalid error, err error) {
	err = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "prodotto_id":
			id, _, err := decodeInt(d)
			item.ProductID = id
			return err
		case "quantita":
			v, err := decodeDecimal(d)
			if err != nil {
				return err
			}
			q, ok := quantity(v)
			if !ok {
				invalid = &order.ValidationError{Field: "quantita", Reason: "must not exceed " + maxQuantity.String()}
			}
			item.Quantity = q
			return nil
		case "note_configurazione":
			notes, err := decodeNotes(d)
			item.ConfigurationNotes = notes
			return err
		case "prezzo_totale":
			v, err := decodeDecimal(d)
			item.SubmittedTotal = v
			return err
		default:
			return d.Skip()
		}
	})
	return item, invalid, err
}

// quantity truncates v to a whole quantity. Missing, non-numeric and negative
// values yield 0 for the pricing engine to coerce; ok is false above
// maxQuantity.
func quantity(v decimal.NullDecimal) (q int, ok bool) {
	if !v.Valid {
		return 0, true
	}
	whole := v.Decimal.Truncate(0)
	switch {
	case whole.GreaterThan(maxQuantity):
		return 0, false
	case whole.IsNegative():
		return 0, true
	}
	return int(whole.IntPart()), true
}

func decodeStatus(r io.Reader) (string, error) {
	data, err := readBody(r)
	if err != nil {
		return "", err
	}
	var status string
	err = jx.DecodeBytes(data).ObjBytes(func(d *jx.Decoder, key []byte) error {
		switch string(key) {
		case "stato", "status":
			return decodeText(d, &status)
		default:
			return d.Skip()
		}
	})
	if err != nil {
		return "", malformed(err)
	}
	return status, nil
}

// decodeText reads a string, treating null as empty.
func decodeText(d *jx.Decoder, dst *string) error {
	if d.Next() == jx.Null {
		return d.Null()
	}
	s, err := d.Str()
	if err != nil {
		return err
	}
	*dst = s
	return nil
}

// decodeNotes reads configuration notes. Structured notes are kept as their
// raw JSON text.
func decodeNotes(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Null:
		return "", d.Null()
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	default:
		raw, err := d.Raw()
		if err != nil {
			return "", err
		}
		return raw.String(), nil
	}
}

// decodeInt reads an integer given as a number or a numeric string. ok is
// false when the value is present but not numeric or outside the int64
// range; fractions are truncated.
func decodeInt(d *jx.Decoder) (n int64, ok bool, err error) {
	v, err := decodeDecimal(d)
	if err != nil {
		return 0, false, err
	}
	if !v.Valid {
		return 0, false, nil
	}
	whole := v.Decimal.Truncate(0)
	if whole.GreaterThan(maxInt64) || whole.LessThan(minInt64) {
		return 0, false, nil
	}
	return whole.IntPart(), true, nil
}

// decodeDecimal reads a number or numeric string. Null, empty and
// non-numeric strings yield an invalid NullDecimal.
func decodeDecimal(d *jx.Decoder) (decimal.NullDecimal, error) {
	var raw string
	switch d.Next() {
	case jx.Null:
		return decimal.NullDecimal{}, d.Null()
	case jx.Number:
		num, err := d.Num()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = num.String()
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.NullDecimal{}, err
		}
		raw = strings.TrimSpace(s)
	default:
		return decimal.NullDecimal{}, d.Skip()
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.NullDecimal{}, nil
	}
	return decimal.NewNullDecimal(v), nil
}

// parseDate accepts YYYY-MM-DD or an RFC 3339 timestamp; only the calendar
// date of the timestamp as written is kept.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// parseID is strconv.ParseInt restricted to positive ids.
func parseID(raw string) (int64, bool) {
	id, err := strconv.ParseInt(raw, 10, 64)
	return id, err == nil && id > 0
}
