package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	validatorv10 "github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/cart"
	"github.com/xenking/kart-checkout/internal/domain/order"
)

// writeDomainError maps service errors to HTTP responses. Unknown errors are
// logged and reported as a generic 500.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		notFound    *cart.ItemNotFoundError
		stock       *order.InsufficientStockError
		unavailable *order.ItemUnavailableError
		invalid     validatorv10.ValidationErrors
	)
	switch {
	case errors.Is(err, errBadBody):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, invalid.Error())
	case errors.Is(err, order.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.As(err, &stock):
		writeError(w, http.StatusConflict, stock.Error())
	case errors.Is(err, order.ErrConflictingVerdict):
		writeError(w, http.StatusConflict, "order is no longer pending")
	case errors.Is(err, cart.ErrInvalidQuantity),
		errors.Is(err, order.ErrEmptyCart),
		errors.Is(err, order.ErrPaymentMethodMissing):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	case errors.As(err, &notFound):
		writeError(w, http.StatusUnprocessableEntity, notFound.Error())
	case errors.As(err, &unavailable):
		writeError(w, http.StatusUnprocessableEntity, unavailable.Error())
	case errors.Is(err, order.ErrTransactionConflict):
		zctx.From(r.Context()).Warn("Transaction conflict retries exhausted", zap.Error(err))
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "please retry")
	default:
		zctx.From(r.Context()).Error("Request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
