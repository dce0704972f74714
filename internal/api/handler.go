package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/owenfields/lectern/internal/db"
	"github.com/owenfields/lectern/internal/dispatch"
	"github.com/owenfields/lectern/internal/reminder"
)

// TriggerRunner fires one reminder trigger pass.
type TriggerRunner interface {
	Run(ctx context.Context, reason string, now time.Time) (reminder.RunStats, error)
}

// BatchDispatcher runs one dispatcher batch.
type BatchDispatcher interface {
	RunBatch(ctx context.Context, now time.Time) (dispatch.BatchStats, error)
}

// NotificationStore is the read/maintenance surface the API exposes over
// the ledger.
type NotificationStore interface {
	GetNotification(ctx context.Context, id uuid.UUID) (*db.Notification, error)
	ListNotificationsByRecipient(ctx context.Context, recipientID uuid.UUID, limit, offset int) ([]*db.Notification, error)
	InvalidatePendingForLecture(ctx context.Context, lectureID uuid.UUID, detail string) (int64, error)
}

// ErrorResponse represents an error in problem+json format.
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// Handler holds dependencies for API handlers.
type Handler struct {
	logger     *zap.Logger
	store      NotificationStore
	runner     TriggerRunner
	dispatcher BatchDispatcher
}

// NewHandler creates a new API handler.
func NewHandler(logger *zap.Logger, store NotificationStore, runner TriggerRunner, dispatcher BatchDispatcher) *Handler {
	return &Handler{
		logger:     logger,
		store:      store,
		runner:     runner,
		dispatcher: dispatcher,
	}
}

// Routes mounts the pipeline routes on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/triggers/{reason}", h.TriggerReminders)
	r.Post("/dispatch", h.RunDispatch)
	r.Get("/notifications", h.ListNotifications)
	r.Get("/notifications/{id}", h.GetNotification)
	r.Post("/lectures/{id}/invalidate", h.InvalidateLectureReminders)
}

// TriggerReminders handles POST /v1/triggers/{reason}. The external cron
// hits this on its cadence; the call is idempotent and safe to retry.
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	reason := chi.URLParam(r, "reason")
	if reason != db.ReasonImminent && reason != db.ReasonNextDay {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid trigger reason",
			"reason must be imminent or next_day")
		return
	}

	stats, err := h.runner.Run(ctx, reason, time.Now())
	if err != nil {
		h.logger.Error("trigger run failed",
			zap.Error(err),
			zap.String("reason", reason),
		)
		h.writeError(w, http.StatusInternalServerError, "trigger_error", "Trigger run failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// RunDispatch handles POST /v1/dispatch: drain one batch of due entries.
func (h *Handler) RunDispatch(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	stats, err := h.dispatcher.RunBatch(ctx, time.Now())
	if err != nil {
		h.logger.Error("dispatch batch failed", zap.Error(err))
		h.writeError(w, http.StatusInternalServerError, "dispatch_error", "Dispatch batch failed", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(stats)
}

// ListNotifications handles GET /v1/notifications?recipient_id=xxx&limit=20&offset=0
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	recipientIDStr := r.URL.Query().Get("recipient_id")
	if recipientIDStr == "" {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Missing recipient_id",
			"recipient_id query parameter is required")
		return
	}

	recipientID, err := uuid.Parse(recipientIDStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid recipient_id",
			"recipient_id must be a valid UUID")
		return
	}

	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 && l <= 100 {
			limit = l
		}
	}

	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		if o, err := strconv.Atoi(offsetStr); err == nil && o >= 0 {
			offset = o
		}
	}

	notifications, err := h.store.ListNotificationsByRecipient(ctx, recipientID, limit, offset)
	if err != nil {
		h.logger.Error("failed to list notifications",
			zap.Error(err),
			zap.String("recipient_id", recipientIDStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to list notifications", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   notifications,
		"limit":  limit,
		"offset": offset,
		"count":  len(notifications),
	})
}

// GetNotification handles GET /v1/notifications/{id}
func (h *Handler) GetNotification(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	notifID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification ID",
			"ID must be a valid UUID")
		return
	}

	notif, err := h.store.GetNotification(ctx, notifID)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			h.writeError(w, http.StatusNotFound, "not_found", "Notification not found", "")
			return
		}
		h.logger.Error("failed to get notification",
			zap.Error(err),
			zap.String("id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to get notification", "")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(notif)
}

// InvalidateLectureReminders handles POST /v1/lectures/{id}/invalidate.
// The lecture CRUD layer calls this after a reschedule or cancellation so
// queued reminders for the old slot are not delivered.
func (h *Handler) InvalidateLectureReminders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idStr := chi.URLParam(r, "id")
	lectureID, err := uuid.Parse(idStr)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid lecture ID",
			"ID must be a valid UUID")
		return
	}

	var req struct {
		Detail string `json:"detail"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	if req.Detail == "" {
		req.Detail = "lecture rescheduled or cancelled"
	}

	count, err := h.store.InvalidatePendingForLecture(ctx, lectureID, req.Detail)
	if err != nil {
		h.logger.Error("failed to invalidate reminders",
			zap.Error(err),
			zap.String("lecture_id", idStr),
		)
		h.writeError(w, http.StatusInternalServerError, "database_error", "Failed to invalidate reminders", "")
		return
	}

	h.logger.Info("pending reminders invalidated",
		zap.String("lecture_id", idStr),
		zap.Int64("count", count),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"lecture_id":  idStr,
		"invalidated": count,
	})
}

func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
