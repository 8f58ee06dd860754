// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/cagedesk/cagedesk/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	var (
		validationErr  *shared.ValidationError
		notFoundErr    *shared.NotFoundError
		stateErr       *shared.SessionStateError
		fundsErr       *shared.InsufficientFundsError
		inventoryErr   *shared.InsufficientInventoryError
		creditLimitErr *shared.CreditLimitExceededError
	)
	switch {
	case errors.As(err, &notFoundErr):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.As(err, &validationErr):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.As(err, &stateErr):
		Problem(w, http.StatusConflict, "Session State", err.Error())
	case errors.As(err, &fundsErr):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Funds", err.Error())
	case errors.As(err, &inventoryErr):
		Problem(w, http.StatusUnprocessableEntity, "Insufficient Inventory", err.Error())
	case errors.As(err, &creditLimitErr):
		Problem(w, http.StatusUnprocessableEntity, "Credit Limit Exceeded", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
