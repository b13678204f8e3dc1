package handler

import (
	"encoding/json"
	"net/http"

	"github.com/taskboard/internal/middleware"
	"github.com/taskboard/internal/push"
)

// PushHandler passes browser push subscriptions through to the push
// microservice on behalf of the session user.
type PushHandler struct {
	client *push.Client
}

func NewPushHandler(client *push.Client) *PushHandler {
	return &PushHandler{client: client}
}

func (h *PushHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var sub push.PushSubscription
	if err := json.NewDecoder(r.Body).Decode(&sub); err != nil || sub.Endpoint == "" {
		http.Error(w, `{"error":"subscription required"}`, http.StatusBadRequest)
		return
	}
	if err := h.client.Subscribe(r.Context(), userID, sub); err != nil {
		http.Error(w, `{"error":"push service unavailable"}`, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *PushHandler) Unsubscribe(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	var req struct {
		Endpoint string `json:"endpoint"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Endpoint == "" {
		http.Error(w, `{"error":"endpoint required"}`, http.StatusBadRequest)
		return
	}
	if err := h.client.Unsubscribe(r.Context(), userID, req.Endpoint); err != nil {
		http.Error(w, `{"error":"push service unavailable"}`, http.StatusBadGateway)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
