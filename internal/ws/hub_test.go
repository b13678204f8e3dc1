package ws

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/taskboard/internal/model"
)

type fakeMessageStore struct {
	mu      sync.Mutex
	created []model.ChatMessage
	history []model.ChatMessage
	failure error
}

func (f *fakeMessageStore) Create(ctx context.Context, m *model.ChatMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return f.failure
	}
	f.created = append(f.created, *m)
	return nil
}

func (f *fakeMessageStore) ListRecent(ctx context.Context, projectID string, limit int) ([]model.ChatMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failure != nil {
		return nil, f.failure
	}
	out := make([]model.ChatMessage, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeMessageStore) createdIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, len(f.created))
	for i, m := range f.created {
		ids[i] = m.ID
	}
	return ids
}

type fakeProjectResolver struct{ orgID string }

func (f *fakeProjectResolver) ResolveOrganization(ctx context.Context, projectID string) (string, error) {
	return f.orgID, nil
}

type fakeActivityStore struct {
	mu      sync.Mutex
	created []model.Activity
}

func (f *fakeActivityStore) Create(ctx context.Context, a *model.Activity) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, *a)
	return nil
}

func newTestHub(msgs *fakeMessageStore) *Hub {
	return NewHub(msgs, &fakeProjectResolver{orgID: "org1"}, &fakeActivityStore{}, 100, 50)
}

// newTestClient builds a client with no underlying socket. The pumps never
// run; events pile up in the buffered send channel for inspection.
func newTestClient(h *Hub) *Client {
	c := NewClient(h, nil, "")
	h.addClient(c)
	return c
}

func drainEvents(c *Client) []OutgoingEvent {
	var events []OutgoingEvent
	for {
		select {
		case ev := <-c.send:
			events = append(events, ev)
		default:
			return events
		}
	}
}

func eventsOfType(events []OutgoingEvent, typ EventType) []OutgoingEvent {
	var out []OutgoingEvent
	for _, ev := range events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func TestViewProjectBroadcastsRoster(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	drainEvents(a)
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2", UserName: "Bob"})

	events := eventsOfType(drainEvents(a), EventProjectPresence)
	if len(events) != 1 {
		t.Fatalf("want one presence broadcast to a, got %d", len(events))
	}
	payload := events[0].Payload.(ProjectPresencePayload)
	if payload.ProjectID != "p1" || len(payload.Users) != 2 {
		t.Fatalf("want both users on the p1 roster, got %+v", payload)
	}
}

func TestSendMessageRequiresBody(t *testing.T) {
	msgs := &fakeMessageStore{}
	h := newTestHub(msgs)
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2"})
	drainEvents(a)
	drainEvents(b)

	h.HandleEvent(context.Background(), a, IncomingEvent{
		Type:      EventSendMessage,
		ProjectID: "p1",
		SenderID:  "u1",
		Content:   "",
	})

	if len(msgs.createdIDs()) != 0 {
		t.Fatal("empty message must not be persisted")
	}
	if got := eventsOfType(drainEvents(b), EventChatMessage); len(got) != 0 {
		t.Fatalf("empty message must not be broadcast, got %+v", got)
	}

	// A file-only message is a valid body.
	h.HandleEvent(context.Background(), a, IncomingEvent{
		Type:      EventSendMessage,
		ProjectID: "p1",
		SenderID:  "u1",
		FileURL:   "https://files.example/doc.pdf",
		FileType:  "application/pdf",
	})
	if len(msgs.createdIDs()) != 1 {
		t.Fatal("file-only message must be persisted")
	}
	if got := eventsOfType(drainEvents(b), EventChatMessage); len(got) != 1 {
		t.Fatalf("file-only message must be broadcast once, got %+v", got)
	}
}

func TestSendMessageFailedWriteNotBroadcast(t *testing.T) {
	msgs := &fakeMessageStore{failure: errors.New("db down")}
	h := newTestHub(msgs)
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2"})
	drainEvents(b)

	h.HandleEvent(context.Background(), a, IncomingEvent{
		Type:      EventSendMessage,
		ProjectID: "p1",
		SenderID:  "u1",
		Content:   "hello",
	})

	if got := eventsOfType(drainEvents(b), EventChatMessage); len(got) != 0 {
		t.Fatalf("failed write must not produce a broadcast, got %+v", got)
	}
}

func TestConcurrentSendsBroadcastInWriteOrder(t *testing.T) {
	msgs := &fakeMessageStore{}
	h := newTestHub(msgs)
	receiver := newTestClient(h)
	h.HandleEvent(context.Background(), receiver, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u9"})
	drainEvents(receiver)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		sender := newTestClient(h)
		content := "from-a"
		userID := "u1"
		if i == 1 {
			content = "from-b"
			userID = "u2"
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.HandleEvent(context.Background(), sender, IncomingEvent{
				Type:      EventSendMessage,
				ProjectID: "p1",
				SenderID:  userID,
				Content:   content,
			})
		}()
	}
	wg.Wait()

	wantOrder := msgs.createdIDs()
	if len(wantOrder) != 2 {
		t.Fatalf("want both messages persisted, got %d", len(wantOrder))
	}
	broadcasts := eventsOfType(drainEvents(receiver), EventChatMessage)
	if len(broadcasts) != 2 {
		t.Fatalf("want two broadcasts, got %d", len(broadcasts))
	}
	for i, ev := range broadcasts {
		m := ev.Payload.(*model.ChatMessage)
		if m.ID != wantOrder[i] {
			t.Fatalf("broadcast order diverges from write order: got %s at %d, want %s", m.ID, i, wantOrder[i])
		}
	}
}

func TestJoinRoomReplaysHistoryToRequesterOnly(t *testing.T) {
	history := []model.ChatMessage{
		{ID: "m1", ProjectID: "p1", Content: "first"},
		{ID: "m2", ProjectID: "p1", Content: "second"},
		{ID: "m3", ProjectID: "p1", Content: "third"},
	}
	h := newTestHub(&fakeMessageStore{history: history})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventJoinRoom, ProjectID: "p1"})
	drainEvents(b)
	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventJoinRoom, ProjectID: "p1"})

	got := eventsOfType(drainEvents(a), EventChatHistory)
	if len(got) != 1 {
		t.Fatalf("want one history event for the joiner, got %d", len(got))
	}
	payload := got[0].Payload.(ChatHistoryPayload)
	if len(payload.Messages) != 3 || payload.Messages[0].ID != "m1" || payload.Messages[2].ID != "m3" {
		t.Fatalf("history must replay oldest first, got %+v", payload.Messages)
	}
	if extra := eventsOfType(drainEvents(b), EventChatHistory); len(extra) != 0 {
		t.Fatalf("history must not be broadcast to other members, got %+v", extra)
	}
}

func TestSetEditingEmitsAdvisorySignal(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewTask, TaskID: "t1", ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewTask, TaskID: "t1", ProjectID: "p1", UserID: "u2", UserName: "Bob"})
	drainEvents(b)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventSetEditing, TaskID: "t1", ProjectID: "p1", UserID: "u1", UserName: "Alice", IsEditing: true})

	events := drainEvents(b)
	signals := eventsOfType(events, EventEditingSignal)
	if len(signals) != 1 {
		t.Fatalf("want one editing signal, got %d", len(signals))
	}
	sig := signals[0].Payload.(EditingSignalPayload)
	if sig.Editor == nil || sig.Editor.ID != "u1" {
		t.Fatalf("signal must carry the editor, got %+v", sig)
	}
	presences := eventsOfType(events, EventTaskPresence)
	if len(presences) != 1 {
		t.Fatalf("want one task presence broadcast, got %d", len(presences))
	}
	tp := presences[0].Payload.(TaskPresencePayload)
	if len(tp.Editors) != 1 || tp.Editors[0].ID != "u1" {
		t.Fatalf("presence must list u1 editing, got %+v", tp)
	}
}

func TestTypingBroadcastsRoster(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2", UserName: "Bob"})
	drainEvents(b)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventTyping, ProjectID: "p1", UserID: "u1", UserName: "Alice", Context: TypingContextChat})

	rosters := eventsOfType(drainEvents(b), EventTypingRoster)
	if len(rosters) != 1 {
		t.Fatalf("want one roster broadcast, got %d", len(rosters))
	}
	payload := rosters[0].Payload.(TypingRosterPayload)
	if len(payload.TypingUsers) != 1 || payload.TypingUsers[0].UserID != "u1" {
		t.Fatalf("roster must list the typist, got %+v", payload)
	}

	// Unknown context is dropped.
	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventTyping, ProjectID: "p1", UserID: "u1", Context: "sidebar"})
	if got := eventsOfType(drainEvents(b), EventTypingRoster); len(got) != 0 {
		t.Fatalf("invalid context must be ignored, got %+v", got)
	}
}

func TestLegacyTypingExcludesSender(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2"})
	drainEvents(a)
	drainEvents(b)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventSetTyping, ProjectID: "p1", UserID: "u1", UserName: "Alice", IsTyping: true})

	if got := eventsOfType(drainEvents(a), EventSetTyping); len(got) != 0 {
		t.Fatalf("sender must not receive its own typing flag, got %+v", got)
	}
	got := eventsOfType(drainEvents(b), EventSetTyping)
	if len(got) != 1 {
		t.Fatalf("want one typing flag at the peer, got %d", len(got))
	}
	payload := got[0].Payload.(LegacyTypingPayload)
	if payload.UserID != "u1" || !payload.IsTyping {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestDisconnectCleansEveryTracker(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	ctx := context.Background()
	h.HandleEvent(ctx, a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	h.HandleEvent(ctx, a, IncomingEvent{Type: EventViewTask, TaskID: "t1", ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	h.HandleEvent(ctx, a, IncomingEvent{Type: EventSetEditing, TaskID: "t1", ProjectID: "p1", UserID: "u1", UserName: "Alice", IsEditing: true})
	h.HandleEvent(ctx, a, IncomingEvent{Type: EventTyping, ProjectID: "p1", UserID: "u1", UserName: "Alice", Context: TypingContextComment})
	h.HandleEvent(ctx, b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2", UserName: "Bob"})
	h.HandleEvent(ctx, b, IncomingEvent{Type: EventViewTask, TaskID: "t1", ProjectID: "p1", UserID: "u2", UserName: "Bob"})
	drainEvents(b)

	h.removeClient(a)

	events := drainEvents(b)
	presence := eventsOfType(events, EventProjectPresence)
	if len(presence) != 1 {
		t.Fatalf("want one presence update on disconnect, got %d", len(presence))
	}
	roster := presence[0].Payload.(ProjectPresencePayload).Users
	if len(roster) != 1 || roster[0].ID != "u2" {
		t.Fatalf("u1 must leave the project roster, got %+v", roster)
	}

	taskEvents := eventsOfType(events, EventTaskPresence)
	if len(taskEvents) != 1 {
		t.Fatalf("want one task presence update, got %d", len(taskEvents))
	}
	tp := taskEvents[0].Payload.(TaskPresencePayload)
	if len(tp.Viewers) != 1 || tp.Viewers[0].ID != "u2" || len(tp.Editors) != 0 {
		t.Fatalf("u1 must leave viewers and editors, got %+v", tp)
	}

	signals := eventsOfType(events, EventEditingSignal)
	if len(signals) != 1 {
		t.Fatalf("want one editing signal, got %d", len(signals))
	}
	if sig := signals[0].Payload.(EditingSignalPayload); sig.Editor != nil {
		t.Fatalf("editing signal must clear after the editor leaves, got %+v", sig)
	}

	typing := eventsOfType(events, EventTypingRoster)
	if len(typing) != 1 {
		t.Fatalf("want one typing roster update, got %d", len(typing))
	}
	if users := typing[0].Payload.(TypingRosterPayload).TypingUsers; len(users) != 0 {
		t.Fatalf("typing entry must go with the user, got %+v", users)
	}

	// A second disconnect for the same client is a no-op.
	h.removeClient(a)
	if extra := drainEvents(b); len(extra) != 0 {
		t.Fatalf("repeated disconnect must emit nothing, got %+v", extra)
	}
}

func TestNotifyUserReachesPrivateChannelOnly(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventJoinUserChannel, UserID: "u1"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventJoinUserChannel, UserID: "u2"})

	n := &model.Notification{ID: "n1", UserID: "u1", Type: "task.assigned"}
	h.NotifyUser("u1", n)

	got := eventsOfType(drainEvents(a), EventNotificationCreated)
	if len(got) != 1 {
		t.Fatalf("want the notification at u1, got %d events", len(got))
	}
	if extra := drainEvents(b); len(extra) != 0 {
		t.Fatalf("u2 must not receive u1's notification, got %+v", extra)
	}

	// No live connection: dropped silently.
	h.NotifyUser("u3", n)
}

func TestConnectionCap(t *testing.T) {
	h := NewHub(&fakeMessageStore{}, &fakeProjectResolver{}, &fakeActivityStore{}, 1, 50)
	a := NewClient(h, nil, "")
	b := NewClient(h, nil, "")

	h.addClient(a)
	h.addClient(b)

	select {
	case <-b.done:
	default:
		t.Fatal("client over the cap must be closed")
	}
	select {
	case <-a.done:
		t.Fatal("client under the cap must stay open")
	default:
	}
}

func TestUnknownEventReportsError(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: "rename-board"})

	got := eventsOfType(drainEvents(a), EventError)
	if len(got) != 1 {
		t.Fatalf("want an error event for an unknown type, got %+v", got)
	}
}

func TestSweepTypingBroadcastsShrunkenRoster(t *testing.T) {
	h := newTestHub(&fakeMessageStore{})
	a := newTestClient(h)
	b := newTestClient(h)

	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u1", UserName: "Alice"})
	h.HandleEvent(context.Background(), b, IncomingEvent{Type: EventViewProject, ProjectID: "p1", UserID: "u2", UserName: "Bob"})
	h.HandleEvent(context.Background(), a, IncomingEvent{Type: EventTyping, ProjectID: "p1", UserID: "u1", UserName: "Alice", Context: TypingContextChat})
	drainEvents(b)

	h.sweepTyping(time.Now().Add(typingTimeout + time.Millisecond))

	rosters := eventsOfType(drainEvents(b), EventTypingRoster)
	if len(rosters) != 1 {
		t.Fatalf("sweep must rebroadcast the changed roster, got %d", len(rosters))
	}
	if users := rosters[0].Payload.(TypingRosterPayload).TypingUsers; len(users) != 0 {
		t.Fatalf("swept roster must be empty, got %+v", users)
	}
}
