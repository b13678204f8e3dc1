package storage

import "context"

// SessionStore resolves session ids to user ids. Sessions are issued by the
// external auth service; the realtime service only reads them.
// Implementations: redis.Client, memory.Client (for -dev without Redis).
type SessionStore interface {
	GetSession(ctx context.Context, sessionID string) (userID string, err error)
	SetSession(ctx context.Context, sessionID, userID string) error
	DeleteSession(ctx context.Context, sessionID string) error
	Close() error
}
