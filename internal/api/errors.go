package api

import (
	"errors"
	"net/http"

	"github.com/phrazzld/safe-notify/internal/api/shared"
	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/store"
)

// MapErrorToStatusCode maps internal errors to appropriate HTTP status codes
// based on the error type. This prevents leaking internal error types or
// messages to clients.
func MapErrorToStatusCode(err error) int {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return http.StatusInternalServerError

	case errors.As(err, &verr),
		errors.Is(err, domain.ErrValidation),
		errors.Is(err, domain.ErrInvalidStatus),
		errors.Is(err, store.ErrInvalidEntity):
		return http.StatusBadRequest

	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound

	case errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, store.ErrConflict):
		return http.StatusConflict

	default:
		return http.StatusInternalServerError
	}
}

// GetSafeErrorMessage returns a sanitized, user-friendly error message
// based on the error type. Validation messages are built from field names
// and fixed text, so they are passed through.
func GetSafeErrorMessage(err error) string {
	if err == nil {
		return "An unexpected error occurred"
	}

	var verr *domain.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Error()

	case errors.Is(err, store.ErrTaskNotFound):
		return "Task not found"

	case errors.Is(err, domain.ErrInvalidTransition):
		var terr *domain.TransitionError
		if errors.As(err, &terr) && terr.To == domain.StatusPending {
			return "Task is not in DLQ (status " + string(publicStatus(terr.From)) + ")"
		}
		return "Task cannot change state"

	case errors.Is(err, store.ErrConflict):
		return "Task was modified concurrently, retry the request"

	case errors.Is(err, store.ErrInvalidEntity):
		return "Invalid entity data"

	default:
		return "An unexpected error occurred"
	}
}

// HandleAPIError writes a JSON error response for err. fallbackMessage, when
// set, replaces the generic message for server errors.
func HandleAPIError(w http.ResponseWriter, r *http.Request, err error, fallbackMessage string) {
	status := MapErrorToStatusCode(err)
	message := GetSafeErrorMessage(err)
	if status == http.StatusInternalServerError && fallbackMessage != "" {
		message = fallbackMessage
	}
	shared.RespondWithErrorAndLog(w, r, status, message, err)
}
