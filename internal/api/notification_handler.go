package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/phrazzld/safe-notify/internal/api/shared"
	"github.com/phrazzld/safe-notify/internal/platform/logger"
	"github.com/phrazzld/safe-notify/internal/service"
)

// NotificationHandler serves the notification pipeline endpoints.
type NotificationHandler struct {
	intake service.IntakeService
	replay service.ReplayService
	query  service.QueryService
	logger *slog.Logger
}

// NewNotificationHandler creates a NotificationHandler.
func NewNotificationHandler(
	intake service.IntakeService,
	replay service.ReplayService,
	query service.QueryService,
	logger *slog.Logger,
) *NotificationHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &NotificationHandler{
		intake: intake,
		replay: replay,
		query:  query,
		logger: logger.With("component", "notification_handler"),
	}
}

// RegisterRoutes mounts the handler's endpoints on r.
func (h *NotificationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Post("/events", h.SubmitEvent)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/tasks/{task_id}", h.GetTask)
	r.Post("/tasks/{task_id}/replay", h.ReplayTask)
}

// Health handles GET /healthz.
func (h *NotificationHandler) Health(w http.ResponseWriter, r *http.Request) {
	shared.RespondWithJSON(w, r, http.StatusOK, map[string]bool{"ok": true})
}

// SubmitEvent handles POST /events. It responds 201 with a new task and 200
// with the existing task when the event is a duplicate.
func (h *NotificationHandler) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitEventRequest
	if err := shared.DecodeJSON(w, r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := shared.ValidateRequest(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, shared.ValidationMessage(err), err)
		return
	}

	task, created, err := h.intake.Submit(r.Context(), req.params())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit event")
		return
	}

	status := http.StatusCreated
	if !created {
		status = http.StatusOK
	}
	log.Debug("event submitted",
		"task_id", task.ID,
		"duplicate", !created)

	shared.RespondWithJSON(w, r, status, SubmitEventResponse{
		TaskResponse: toTaskResponse(task),
		Duplicate:    !created,
	})
}

// ListNotifications handles GET /notifications.
func (h *NotificationHandler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	tasks, err := h.query.ListNotifications(r.Context(), filter)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load tasks")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ListNotificationsResponse{
		Items: toTaskResponses(tasks),
	})
}

// GetTask handles GET /tasks/{task_id}.
func (h *NotificationHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	taskID, err := getPathTaskID(r)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task, err := h.query.GetNotification(r.Context(), taskID)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to load task")
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, toTaskResponse(task))
}

// ReplayTask handles POST /tasks/{task_id}/replay. Failures are plain text:
// 404 for an unknown task and 409 for a task that is not in DLQ.
func (h *NotificationHandler) ReplayTask(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	taskID, err := getPathTaskID(r)
	if err != nil {
		shared.RespondWithText(w, r, MapErrorToStatusCode(err), GetSafeErrorMessage(err))
		return
	}

	task, err := h.replay.Replay(r.Context(), taskID)
	if err != nil {
		status := MapErrorToStatusCode(err)
		if status == http.StatusInternalServerError {
			log.Error("replay failed", "task_id", taskID, "error", err)
		}
		shared.RespondWithText(w, r, status, GetSafeErrorMessage(err))
		return
	}

	shared.RespondWithJSON(w, r, http.StatusOK, ReplayResponse{
		OK:     true,
		TaskID: task.ID,
		Task:   toTaskResponse(task),
	})
}
