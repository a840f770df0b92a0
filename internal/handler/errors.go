package handler

import (
	"net/http"

	"github.com/go-faster/errors"

	"github.com/xenking/orderdesk/internal/domain/order"
)

// mapOrderError converts domain errors to a status code and a client-facing
// message. Anything unrecognised is a 500 with a generic message.
func mapOrderError(err error) (int, string) {
	var validation *order.ValidationError
	if errors.As(err, &validation) {
		return http.StatusBadRequest, validation.Error()
	}

	var (
		notFound    *order.ProductNotFoundError
		unavailable *order.ProductUnavailableError
		stock       *order.InsufficientStockError
		price       *order.ConfiguredPriceError
		customer    *order.CustomerNotFoundError
	)
	switch {
	case errors.As(err, &notFound):
		return http.StatusUnprocessableEntity, notFound.Error()
	case errors.As(err, &unavailable):
		return http.StatusUnprocessableEntity, unavailable.Error()
	case errors.As(err, &stock):
		return http.StatusUnprocessableEntity, stock.Error()
	case errors.As(err, &price):
		return http.StatusUnprocessableEntity, price.Error()
	case errors.As(err, &customer):
		return http.StatusUnprocessableEntity, customer.Error()
	}

	if errors.Is(err, order.ErrOrderNotFound) {
		return http.StatusNotFound, order.ErrOrderNotFound.Error()
	}

	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "request body too large"
	}

	return http.StatusInternalServerError, "internal error"
}
