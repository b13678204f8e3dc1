package model

import (
	"encoding/json"
	"time"
)

// Notification is a durable per-user notification row. Created by the CRUD
// layer; the coordinator only relays it to the user's private channel.
type Notification struct {
	ID             string          `json:"id"`
	UserID         string          `json:"userId"`
	ProjectID      *string         `json:"projectId,omitempty"`
	OrganizationID *string         `json:"organizationId,omitempty"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IsRead         bool            `json:"isRead"`
	CreatedAt      time.Time       `json:"createdAt"`
}

// Activity is an append-only project activity row.
type Activity struct {
	ID             string          `json:"id"`
	ProjectID      string          `json:"projectId"`
	OrganizationID string          `json:"organizationId"`
	ActorID        *string         `json:"actorId,omitempty"`
	Verb           string          `json:"verb"`
	TargetID       *string         `json:"targetId,omitempty"`
	Summary        string          `json:"summary"`
	Meta           json.RawMessage `json:"meta,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
}
