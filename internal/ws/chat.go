package ws

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/taskboard/internal/logger"
	"github.com/taskboard/internal/model"
)

// Durable-store contracts the chat channel consumes. Implemented by the
// pgx repositories; tests substitute fakes.

// MessageStore persists and replays project chat messages.
type MessageStore interface {
	Create(ctx context.Context, m *model.ChatMessage) error
	ListRecent(ctx context.Context, projectID string, limit int) ([]model.ChatMessage, error)
}

// ProjectResolver maps a project to its organization.
type ProjectResolver interface {
	ResolveOrganization(ctx context.Context, projectID string) (string, error)
}

// ActivityStore appends activity rows.
type ActivityStore interface {
	Create(ctx context.Context, a *model.Activity) error
}

const storeTimeout = 5 * time.Second

// handleJoinRoom subscribes the connection to a project's chat room and
// replays recent history to the requesting connection only (no broadcast).
func (h *Hub) handleJoinRoom(ctx context.Context, c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" {
		return
	}
	h.mu.Lock()
	h.joinRoomLocked(c, projectRoom(ev.ProjectID))
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	history, err := h.messages.ListRecent(ctx, ev.ProjectID, h.historyLimit)
	if err != nil {
		logger.Errorf("ws chat history project=%s: %v", ev.ProjectID, err)
		return
	}
	h.sendToClient(c, OutgoingEvent{
		Type:    EventChatHistory,
		Payload: ChatHistoryPayload{ProjectID: ev.ProjectID, Messages: history},
	})
}

// handleSendMessage persists a chat message and rebroadcasts the persisted
// record to the project room, then records the matching activity. The
// per-project lock makes broadcast order equal durable-write completion
// order; a failed write produces no broadcast at all.
func (h *Hub) handleSendMessage(ctx context.Context, c *Client, ev IncomingEvent) {
	defer logger.DeferLogDuration("ws.handleSendMessage", time.Now())()
	if ev.ProjectID == "" || ev.SenderID == "" || (ev.Content == "" && ev.FileURL == "") {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()

	lock := h.projectSendLock(ev.ProjectID)
	lock.Lock()
	defer lock.Unlock()

	orgID, err := h.projects.ResolveOrganization(ctx, ev.ProjectID)
	if err != nil {
		logger.Errorf("ws resolve organization project=%s: %v", ev.ProjectID, err)
		return
	}

	m := &model.ChatMessage{
		ID:             uuid.New().String(),
		ProjectID:      ev.ProjectID,
		OrganizationID: orgID,
		SenderID:       ev.SenderID,
		Content:        ev.Content,
		FileURL:        ev.FileURL,
		FileType:       ev.FileType,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.messages.Create(ctx, m); err != nil {
		logger.Errorf("ws save message project=%s sender=%s: %v", ev.ProjectID, ev.SenderID, err)
		return
	}

	// Attach the sender's display snapshot from the connection, when known.
	h.mu.RLock()
	if c.userID == ev.SenderID && c.userName != "" {
		m.Sender = &model.UserRef{ID: c.userID, Name: c.userName, Image: c.userImage}
	}
	h.mu.RUnlock()

	h.broadcastRoom(projectRoom(ev.ProjectID), OutgoingEvent{Type: EventChatMessage, Payload: m})

	h.recordMessageActivity(ctx, m)
}

// recordMessageActivity appends and broadcasts the activity row describing
// a chat message. A failure here never retracts the already-sent message.
func (h *Hub) recordMessageActivity(ctx context.Context, m *model.ChatMessage) {
	summary := "sent a message"
	verb := "chat.message"
	if m.FileURL != "" {
		summary = "shared a file"
		verb = "chat.file"
	}
	if m.Sender != nil && m.Sender.Name != "" {
		summary = m.Sender.Name + " " + summary
	}
	actorID := m.SenderID
	targetID := m.ID
	a := &model.Activity{
		ID:             uuid.New().String(),
		ProjectID:      m.ProjectID,
		OrganizationID: m.OrganizationID,
		ActorID:        &actorID,
		Verb:           verb,
		TargetID:       &targetID,
		Summary:        summary,
		CreatedAt:      time.Now().UTC(),
	}
	if err := h.activities.Create(ctx, a); err != nil {
		logger.Errorf("ws record activity project=%s: %v", m.ProjectID, err)
		return
	}
	h.NotifyProject(m.ProjectID, a)
}

func (h *Hub) projectSendLock(projectID string) *sync.Mutex {
	h.sendLockMu.Lock()
	defer h.sendLockMu.Unlock()
	lock, ok := h.sendLocks[projectID]
	if !ok {
		lock = &sync.Mutex{}
		h.sendLocks[projectID] = lock
	}
	return lock
}
