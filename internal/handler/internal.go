package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/taskboard/internal/logger"
	"github.com/taskboard/internal/push"
	"github.com/taskboard/internal/repository"
	"github.com/taskboard/internal/ws"
)

// InternalHandler exposes the fan-out endpoints the CRUD layer calls after
// persisting a notification or activity row. The coordinator loads the row
// and relays it; it never decides whether to notify.
type InternalHandler struct {
	hub           *ws.Hub
	notifications *repository.NotificationRepository
	activities    *repository.ActivityRepository
	pushClient    *push.Client
}

func NewInternalHandler(hub *ws.Hub, notifications *repository.NotificationRepository, activities *repository.ActivityRepository, pushClient *push.Client) *InternalHandler {
	return &InternalHandler{hub: hub, notifications: notifications, activities: activities, pushClient: pushClient}
}

// Notify relays an already-persisted notification to the user's private
// channel, then fires an optional web push. POST {"notification_id": "..."}.
func (h *InternalHandler) Notify(w http.ResponseWriter, r *http.Request) {
	var req struct {
		NotificationID string `json:"notification_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.NotificationID == "" {
		http.Error(w, `{"error":"notification_id required"}`, http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	n, err := h.notifications.GetByID(ctx, req.NotificationID)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Errorf("internal notify %s: %v", req.NotificationID, err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	h.hub.NotifyUser(n.UserID, n)
	if h.pushClient != nil {
		data := map[string]string{"notification_id": n.ID, "type": n.Type}
		go h.pushClient.Notify(context.Background(), n.UserID, "TaskBoard", pushBodyForType(n.Type), data)
	}
	w.WriteHeader(http.StatusNoContent)
}

// Activity relays an already-persisted activity to its project room.
// POST {"activity_id": "..."}.
func (h *InternalHandler) Activity(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActivityID string `json:"activity_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ActivityID == "" {
		http.Error(w, `{"error":"activity_id required"}`, http.StatusBadRequest)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	a, err := h.activities.GetByID(ctx, req.ActivityID)
	if errors.Is(err, repository.ErrNotFound) {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}
	if err != nil {
		logger.Errorf("internal activity %s: %v", req.ActivityID, err)
		http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
		return
	}
	h.hub.NotifyProject(a.ProjectID, a)
	w.WriteHeader(http.StatusNoContent)
}

// pushBodyForType renders a short push body from the notification type;
// the full payload stays in the app.
func pushBodyForType(typ string) string {
	switch typ {
	case "task.assigned":
		return "A task was assigned to you"
	case "comment.mention":
		return "You were mentioned in a comment"
	case "chat.message":
		return "New message in project chat"
	default:
		return "You have a new notification"
	}
}
