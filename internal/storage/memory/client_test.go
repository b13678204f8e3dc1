package memory

import (
	"context"
	"testing"
	"time"
)

func TestSessionRoundTrip(t *testing.T) {
	c := New()
	ctx := context.Background()

	if err := c.SetSession(ctx, "s1", "u1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	userID, err := c.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if userID != "u1" {
		t.Fatalf("want u1, got %q", userID)
	}

	if err := c.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	userID, err = c.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("get after delete: %v", err)
	}
	if userID != "" {
		t.Fatalf("deleted session must resolve to empty, got %q", userID)
	}
}

func TestMissingSessionIsNotAnError(t *testing.T) {
	c := New()
	userID, err := c.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("missing session must not error: %v", err)
	}
	if userID != "" {
		t.Fatalf("want empty user id, got %q", userID)
	}
}

func TestExpiredSession(t *testing.T) {
	c := New()
	c.mu.Lock()
	c.sessions["old"] = item{val: "u1", exp: time.Now().Add(-time.Minute)}
	c.mu.Unlock()

	userID, err := c.GetSession(context.Background(), "old")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if userID != "" {
		t.Fatalf("expired session must resolve to empty, got %q", userID)
	}
}
