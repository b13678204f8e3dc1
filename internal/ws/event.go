package ws

import "github.com/taskboard/internal/model"

type EventType string

// Inbound event types (client -> coordinator).
const (
	EventJoinRoom        EventType = "join-room"
	EventJoinUserChannel EventType = "join-user-channel"
	EventSendMessage     EventType = "send-message"
	EventSetTyping       EventType = "set-typing"
	EventViewProject     EventType = "view-project"
	EventViewTask        EventType = "view-task"
	EventTyping          EventType = "typing"
	EventSetEditing      EventType = "set-editing"
)

// Outbound event types (coordinator -> subscribed connections).
const (
	EventChatHistory         EventType = "chat-history"
	EventChatMessage         EventType = "chat-message"
	EventProjectPresence     EventType = "project-presence"
	EventTaskPresence        EventType = "task-presence"
	EventTypingRoster        EventType = "typing-roster"
	EventEditingSignal       EventType = "editing-signal"
	EventNotificationCreated EventType = "notification-created"
	EventActivityCreated     EventType = "activity-created"
	EventError               EventType = "error"
)

// Typing contexts accepted by the typing engine.
const (
	TypingContextComment     = "comment"
	TypingContextChat        = "chat"
	TypingContextDescription = "description"
)

// IncomingEvent is the flat wire form of every client event. Field casing
// matches the browser client (camelCase).
type IncomingEvent struct {
	Type      EventType `json:"type"`
	ProjectID string    `json:"projectId,omitempty"`
	TaskID    string    `json:"taskId,omitempty"`
	UserID    string    `json:"userId,omitempty"`
	UserName  string    `json:"userName,omitempty"`
	UserImage string    `json:"userImage,omitempty"`
	SenderID  string    `json:"senderId,omitempty"`
	Content   string    `json:"content,omitempty"`
	FileURL   string    `json:"fileUrl,omitempty"`
	FileType  string    `json:"fileType,omitempty"`
	Context   string    `json:"context,omitempty"`
	IsTyping  bool      `json:"isTyping,omitempty"`
	IsEditing bool      `json:"isEditing,omitempty"`
}

// OutgoingEvent is what the coordinator sends to a connection.
// Payload uses typed structs to avoid heap-heavy map[string]any.
type OutgoingEvent struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload"`
}

// PresenceUser is one entry of a project presence roster. SocketCount is the
// number of simultaneous connections backing the entry; the UI uses it only
// to suppress duplicate-self noise, never for ranking.
type PresenceUser struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Image       string `json:"image,omitempty"`
	SocketCount int    `json:"socketCount"`
}

// ProjectPresencePayload is broadcast after every project presence mutation.
type ProjectPresencePayload struct {
	ProjectID string         `json:"projectId"`
	Users     []PresenceUser `json:"users"`
}

// TaskPresencePayload is the full-task snapshot broadcast on every
// viewer/editor mutation.
type TaskPresencePayload struct {
	TaskID  string          `json:"taskId"`
	Viewers []model.UserRef `json:"viewers"`
	Editors []model.UserRef `json:"editors"`
}

// EditingSignalPayload is the advisory "who is editing" signal. Editor is
// nil when nobody is editing. It never blocks a second editor.
type EditingSignalPayload struct {
	TaskID    string         `json:"taskId"`
	ProjectID string         `json:"projectId"`
	Editor    *model.UserRef `json:"editor"`
}

// TypingUser is one live entry of a typing roster.
type TypingUser struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
	Context  string `json:"context"`
}

// TypingRosterPayload is broadcast on every typing update and on expiry.
type TypingRosterPayload struct {
	TaskID      string       `json:"taskId,omitempty"`
	ProjectID   string       `json:"projectId"`
	TypingUsers []TypingUser `json:"typingUsers"`
}

// LegacyTypingPayload is the pre-roster single-room typing flag, relayed
// verbatim for old clients.
type LegacyTypingPayload struct {
	ProjectID string `json:"projectId"`
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	IsTyping  bool   `json:"isTyping"`
}

// ChatHistoryPayload is sent to the joining connection only.
type ChatHistoryPayload struct {
	ProjectID string              `json:"projectId"`
	Messages  []model.ChatMessage `json:"messages"`
}
