package memory

import (
	"context"
	"sync"
	"time"
)

const sessionTTL = 30 * 24 * time.Hour

type item struct {
	val string
	exp time.Time
}

// Client is an in-process SessionStore used by -dev mode and tests.
type Client struct {
	mu       sync.RWMutex
	sessions map[string]item
}

func New() *Client {
	return &Client{sessions: make(map[string]item)}
}

func (c *Client) Close() error { return nil }

func (c *Client) GetSession(ctx context.Context, sessionID string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.sessions[sessionID]
	if !ok || time.Now().After(v.exp) {
		return "", nil
	}
	return v.val, nil
}

func (c *Client) SetSession(ctx context.Context, sessionID, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessions[sessionID] = item{val: userID, exp: time.Now().Add(sessionTTL)}
	return nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, sessionID)
	return nil
}
