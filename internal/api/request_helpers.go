package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/phrazzld/safe-notify/internal/domain"
	"github.com/phrazzld/safe-notify/internal/store"
)

// List limits for GET /notifications.
const (
	// DefaultListLimit applies when ?limit= is omitted.
	DefaultListLimit = 50
	// MaxListLimit caps ?limit=.
	MaxListLimit = 1000
)

// getPathTaskID extracts and parses the task ID path parameter. A value that
// is not a UUID names no task, so it reads as not found.
func getPathTaskID(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "task_id"))
	if raw == "" {
		return uuid.Nil, domain.NewValidationError("task_id", "is required", nil)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, store.ErrTaskNotFound
	}
	return id, nil
}

// parseListFilter reads the optional status and limit query parameters.
// PROCESSING is not a public status: in-flight tasks are listed under PENDING.
func parseListFilter(r *http.Request) (store.ListFilter, error) {
	filter := store.ListFilter{Limit: DefaultListLimit}
	q := r.URL.Query()

	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status, err := domain.ParseStatus(strings.ToUpper(raw))
		if err != nil || status == domain.StatusProcessing {
			return filter, domain.NewValidationError("status",
				"must be one of PENDING, FAILED, SENT, DLQ", domain.ErrInvalidStatus)
		}
		filter.Status = status
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 || limit > MaxListLimit {
			return filter, domain.NewValidationError("limit",
				"must be an integer between 1 and "+strconv.Itoa(MaxListLimit), nil)
		}
		filter.Limit = limit
	}
	return filter, nil
}
