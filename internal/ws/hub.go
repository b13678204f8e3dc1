package ws

import (
	"context"
	"sync"
	"time"

	"github.com/taskboard/internal/logger"
	"github.com/taskboard/internal/model"
)

// Room keys. A room is a broadcast group; an event sent to a room reaches
// every connection currently joined to it.
func projectRoom(projectID string) string { return "project:" + projectID }
func taskRoom(taskID string) string       { return "task:" + taskID }
func userRoom(userID string) string       { return "user:" + userID }

// sweepPeriod drives the periodic typing-expiry sweep.
const sweepPeriod = time.Second

// Hub is the presence and collaboration coordinator. It owns every mutable
// map (connections, rooms, presence, typing, editors); nothing else reads
// or writes them, and all access goes through its methods.
type Hub struct {
	mu       sync.RWMutex
	conns    map[*Client]struct{}
	rooms    map[string]map[*Client]struct{}
	total    int
	maxConns int

	presence *projectPresence
	tasks    *taskPresence
	typing   *typingTracker

	messages   MessageStore
	projects   ProjectResolver
	activities ActivityStore

	historyLimit int

	// sendLocks serializes send-message per project so broadcast order
	// matches durable-write completion order.
	sendLockMu sync.Mutex
	sendLocks  map[string]*sync.Mutex

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(messages MessageStore, projects ProjectResolver, activities ActivityStore, maxConns, historyLimit int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Hub{
		conns:        make(map[*Client]struct{}),
		rooms:        make(map[string]map[*Client]struct{}),
		maxConns:     maxConns,
		presence:     newProjectPresence(),
		tasks:        newTaskPresence(),
		typing:       newTypingTracker(),
		messages:     messages,
		projects:     projects,
		activities:   activities,
		historyLimit: historyLimit,
		sendLocks:    make(map[string]*sync.Mutex),
		register:     make(chan *Client, 64),
		unregister:   make(chan *Client, 64),
		done:         make(chan struct{}),
	}
}

// Run owns the register/unregister lifecycle and the typing sweep.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	ticker := time.NewTicker(sweepPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		case <-ticker.C:
			h.sweepTyping(time.Now())
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, h.total)
	for c := range h.conns {
		all = append(all, c)
	}
	h.conns = make(map[*Client]struct{})
	h.rooms = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting conn=%s", h.maxConns, c.id)
		c.Close()
		return
	}
	h.conns[c] = struct{}{}
	h.total++
	h.mu.Unlock()
}

// removeClient is the single disconnect path. Idempotent: a second call for
// the same connection finds it already gone and does nothing. It fully
// unwinds every tracker before returning so later snapshots cannot leak
// stale entries.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if _, ok := h.conns[c]; !ok {
		h.mu.Unlock()
		c.Close()
		return
	}
	delete(h.conns, c)
	h.total--
	for room := range c.rooms {
		h.leaveRoomLocked(c, room)
	}
	userID := c.userID
	joinedProjects := make(map[string]struct{}, len(c.projects))
	for id := range c.projects {
		joinedProjects[id] = struct{}{}
	}
	joinedTasks := make(map[string]string, len(c.tasks))
	for id, projectID := range c.tasks {
		joinedTasks[id] = projectID
	}
	h.mu.Unlock()

	c.Close()
	if userID == "" {
		// Disconnected before any join: registry entry only, nothing to unwind.
		return
	}

	for projectID := range joinedProjects {
		if roster, changed := h.presence.Remove(projectID, c.id, userID); changed {
			h.broadcastRoom(projectRoom(projectID), OutgoingEvent{
				Type:    EventProjectPresence,
				Payload: ProjectPresencePayload{ProjectID: projectID, Users: roster},
			})
		}
	}
	taskSet := make(map[string]struct{}, len(joinedTasks))
	for taskID, projectID := range joinedTasks {
		taskSet[taskID] = struct{}{}
		if viewers, editors, changed := h.tasks.RemoveUser(taskID, userID); changed {
			h.broadcastTaskState(taskID, projectID, viewers, editors)
		}
	}
	for key, roster := range h.typing.RemoveUser(userID, joinedProjects, taskSet, time.Now()) {
		h.broadcastTypingRoster(key, roster)
	}
}

// HandleEvent dispatches one inbound event. No event ever surfaces an error
// to the caller: malformed events are dropped (fail closed).
func (h *Hub) HandleEvent(ctx context.Context, c *Client, ev IncomingEvent) {
	switch ev.Type {
	case EventJoinRoom:
		h.handleJoinRoom(ctx, c, ev)
	case EventJoinUserChannel:
		h.handleJoinUserChannel(c, ev)
	case EventSendMessage:
		h.handleSendMessage(ctx, c, ev)
	case EventSetTyping:
		h.handleLegacyTyping(c, ev)
	case EventViewProject:
		h.handleViewProject(c, ev)
	case EventViewTask:
		h.handleViewTask(c, ev)
	case EventTyping:
		h.handleTyping(c, ev)
	case EventSetEditing:
		h.handleSetEditing(c, ev)
	default:
		h.sendToClient(c, OutgoingEvent{Type: EventError, Payload: "unknown event type"})
	}
}

func (h *Hub) handleJoinUserChannel(c *Client, ev IncomingEvent) {
	if ev.UserID == "" {
		return
	}
	h.mu.Lock()
	h.joinRoomLocked(c, userRoom(ev.UserID))
	h.mu.Unlock()
}

func (h *Hub) handleViewProject(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" {
		return
	}
	user := model.UserRef{ID: ev.UserID, Name: ev.UserName, Image: ev.UserImage}
	h.mu.Lock()
	h.identifyLocked(c, user)
	h.joinRoomLocked(c, projectRoom(ev.ProjectID))
	c.projects[ev.ProjectID] = struct{}{}
	h.mu.Unlock()

	roster := h.presence.Add(ev.ProjectID, c.id, user)
	h.broadcastRoom(projectRoom(ev.ProjectID), OutgoingEvent{
		Type:    EventProjectPresence,
		Payload: ProjectPresencePayload{ProjectID: ev.ProjectID, Users: roster},
	})
}

func (h *Hub) handleViewTask(c *Client, ev IncomingEvent) {
	if ev.TaskID == "" || ev.UserID == "" {
		return
	}
	user := model.UserRef{ID: ev.UserID, Name: ev.UserName, Image: ev.UserImage}
	h.mu.Lock()
	h.identifyLocked(c, user)
	h.joinRoomLocked(c, taskRoom(ev.TaskID))
	c.tasks[ev.TaskID] = ev.ProjectID
	if ev.ProjectID != "" {
		h.joinRoomLocked(c, projectRoom(ev.ProjectID))
	}
	h.mu.Unlock()

	viewers, editors := h.tasks.AddViewer(ev.TaskID, user)
	h.broadcastRoom(taskRoom(ev.TaskID), OutgoingEvent{
		Type:    EventTaskPresence,
		Payload: TaskPresencePayload{TaskID: ev.TaskID, Viewers: viewers, Editors: editors},
	})
}

func (h *Hub) handleSetEditing(c *Client, ev IncomingEvent) {
	if ev.TaskID == "" || ev.UserID == "" {
		return
	}
	user := model.UserRef{ID: ev.UserID, Name: ev.UserName, Image: ev.UserImage}
	h.mu.Lock()
	h.identifyLocked(c, user)
	h.joinRoomLocked(c, taskRoom(ev.TaskID))
	if _, ok := c.tasks[ev.TaskID]; !ok {
		c.tasks[ev.TaskID] = ev.ProjectID
	}
	h.mu.Unlock()

	viewers, editors := h.tasks.SetEditing(ev.TaskID, user, ev.IsEditing)
	h.broadcastRoom(taskRoom(ev.TaskID), OutgoingEvent{
		Type:    EventTaskPresence,
		Payload: TaskPresencePayload{TaskID: ev.TaskID, Viewers: viewers, Editors: editors},
	})
	h.broadcastRoom(taskRoom(ev.TaskID), OutgoingEvent{
		Type:    EventEditingSignal,
		Payload: EditingSignalPayload{TaskID: ev.TaskID, ProjectID: ev.ProjectID, Editor: h.tasks.CurrentEditor(ev.TaskID)},
	})
}

func (h *Hub) handleTyping(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" || !validTypingContext(ev.Context) {
		return
	}
	h.mu.Lock()
	h.identifyLocked(c, model.UserRef{ID: ev.UserID, Name: ev.UserName})
	h.mu.Unlock()

	key := typingKey{ProjectID: ev.ProjectID, TaskID: ev.TaskID, Context: ev.Context}
	roster := h.typing.Touch(key, ev.UserID, ev.UserName, time.Now())
	h.broadcastTypingRoster(key, roster)
}

// handleLegacyTyping relays the pre-roster single-room typing flag to the
// project room, excluding the sender.
func (h *Hub) handleLegacyTyping(c *Client, ev IncomingEvent) {
	if ev.ProjectID == "" || ev.UserID == "" {
		return
	}
	out := OutgoingEvent{
		Type: EventSetTyping,
		Payload: LegacyTypingPayload{
			ProjectID: ev.ProjectID,
			UserID:    ev.UserID,
			UserName:  ev.UserName,
			IsTyping:  ev.IsTyping,
		},
	}
	for _, target := range h.roomClients(projectRoom(ev.ProjectID)) {
		if target != c {
			h.sendToClient(target, out)
		}
	}
}

// sweepTyping removes stale typing entries and rebroadcasts every shrunken
// roster.
func (h *Hub) sweepTyping(now time.Time) {
	for key, roster := range h.typing.Sweep(now) {
		h.broadcastTypingRoster(key, roster)
	}
}

func (h *Hub) broadcastTypingRoster(key typingKey, roster []TypingUser) {
	h.broadcastRoom(key.room(), OutgoingEvent{
		Type: EventTypingRoster,
		Payload: TypingRosterPayload{
			TaskID:      key.TaskID,
			ProjectID:   key.ProjectID,
			TypingUsers: roster,
		},
	})
}

func (h *Hub) broadcastTaskState(taskID, projectID string, viewers, editors []model.UserRef) {
	h.broadcastRoom(taskRoom(taskID), OutgoingEvent{
		Type:    EventTaskPresence,
		Payload: TaskPresencePayload{TaskID: taskID, Viewers: viewers, Editors: editors},
	})
	h.broadcastRoom(taskRoom(taskID), OutgoingEvent{
		Type:    EventEditingSignal,
		Payload: EditingSignalPayload{TaskID: taskID, ProjectID: projectID, Editor: h.tasks.CurrentEditor(taskID)},
	})
}

// NotifyUser relays an already-persisted notification to the user's private
// channel. Fire-and-forget: without a live connection the event is dropped
// and the user finds the row on next page load.
func (h *Hub) NotifyUser(userID string, n *model.Notification) {
	h.broadcastRoom(userRoom(userID), OutgoingEvent{Type: EventNotificationCreated, Payload: n})
}

// NotifyProject relays an already-persisted activity to the project room,
// same fire-and-forget semantics.
func (h *Hub) NotifyProject(projectID string, a *model.Activity) {
	h.broadcastRoom(projectRoom(projectID), OutgoingEvent{Type: EventActivityCreated, Payload: a})
}

// identifyLocked records the identity snapshot on first join and subscribes
// the connection to its private user channel. Callers hold h.mu.
func (h *Hub) identifyLocked(c *Client, user model.UserRef) {
	if user.ID == "" {
		return
	}
	c.userID = user.ID
	if user.Name != "" {
		c.userName = user.Name
	}
	if user.Image != "" {
		c.userImage = user.Image
	}
	h.joinRoomLocked(c, userRoom(user.ID))
}

func (h *Hub) joinRoomLocked(c *Client, room string) {
	members, ok := h.rooms[room]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[room] = members
	}
	members[c] = struct{}{}
	c.rooms[room] = struct{}{}
}

func (h *Hub) leaveRoomLocked(c *Client, room string) {
	if members, ok := h.rooms[room]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
	delete(c.rooms, room)
}

// roomClients snapshots a room's membership so broadcasts never hold h.mu
// during channel sends.
func (h *Hub) roomClients(room string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	members := h.rooms[room]
	if len(members) == 0 {
		return nil
	}
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	return targets
}

func (h *Hub) broadcastRoom(room string, ev OutgoingEvent) {
	for _, c := range h.roomClients(room) {
		h.sendToClient(c, ev)
	}
}

func (h *Hub) sendToClient(c *Client, ev OutgoingEvent) {
	select {
	case c.send <- ev:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client conn=%s", c.id)
		c.Close()
	}
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func validTypingContext(ctx string) bool {
	switch ctx {
	case TypingContextComment, TypingContextChat, TypingContextDescription:
		return true
	}
	return false
}
