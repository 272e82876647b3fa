// Package httpx provides HTTP response utilities.
package httpx

import (
	"net/http"

	"github.com/caravel-erp/caravel-erp/internal/shared"
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch shared.KindOf(err) {
	case shared.KindValidation:
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case shared.KindNotFound:
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case shared.KindConflict:
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	case shared.KindState:
		Problem(w, http.StatusUnprocessableEntity, "Invalid State", err.Error())
	case shared.KindPeriodLocked:
		Problem(w, http.StatusUnprocessableEntity, "Period Locked", err.Error())
	case shared.KindRetryable:
		Problem(w, http.StatusServiceUnavailable, "Temporarily Unavailable", "please retry")
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
