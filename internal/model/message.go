package model

import "time"

// ChatMessage is a persisted project chat message. Immutable once created;
// ordering within a project is by CreatedAt ascending.
type ChatMessage struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"projectId"`
	OrganizationID string    `json:"organizationId"`
	SenderID       string    `json:"senderId"`
	Content        string    `json:"content,omitempty"`
	FileURL        string    `json:"fileUrl,omitempty"`
	FileType       string    `json:"fileType,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	Sender         *UserRef  `json:"sender,omitempty"`
}
