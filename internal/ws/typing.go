package ws

import (
	"sort"
	"sync"
	"time"
)

// typingTimeout is how long a typing entry stays live after the last
// keystroke. Staleness is always evaluated against the live timestamp at
// read time, so a roster computed at t+3001ms for an entry updated at t
// never includes it, sweep or no sweep.
const typingTimeout = 3000 * time.Millisecond

// typingKey scopes a typing roster: the task if present, else the project,
// plus the input context (comment, chat or description).
type typingKey struct {
	ProjectID string
	TaskID    string
	Context   string
}

func (k typingKey) room() string {
	if k.TaskID != "" {
		return taskRoom(k.TaskID)
	}
	return projectRoom(k.ProjectID)
}

type typingEntry struct {
	userName  string
	lastTyped time.Time
}

// typingTracker tracks recently-typing users per key with a sliding expiry.
// Expired entries are filtered on every read and physically removed by a
// periodic sweep driven from the hub (one sweep loop instead of a timer per
// keystroke; only the 3-second expiry contract is observable).
type typingTracker struct {
	mu      sync.Mutex
	entries map[typingKey]map[string]*typingEntry
}

func newTypingTracker() *typingTracker {
	return &typingTracker{entries: make(map[typingKey]map[string]*typingEntry)}
}

// Touch refreshes the user's entry for the key and returns the active
// roster. Rapid repeat calls just slide lastTyped forward.
func (t *typingTracker) Touch(key typingKey, userID, userName string, now time.Time) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	users, ok := t.entries[key]
	if !ok {
		users = make(map[string]*typingEntry)
		t.entries[key] = users
	}
	entry, ok := users[userID]
	if !ok {
		entry = &typingEntry{}
		users[userID] = entry
	}
	entry.userName = userName
	entry.lastTyped = now
	return t.rosterLocked(key, now)
}

// Roster recomputes the active roster for a key, filtering stale entries.
func (t *typingTracker) Roster(key typingKey, now time.Time) []TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.rosterLocked(key, now)
}

// Sweep deletes entries stale at now and returns the shrunken roster for
// every key that changed, so the hub can rebroadcast.
func (t *typingTracker) Sweep(now time.Time) map[typingKey][]TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed map[typingKey][]TypingUser
	for key, users := range t.entries {
		removed := false
		for id, entry := range users {
			if now.Sub(entry.lastTyped) >= typingTimeout {
				delete(users, id)
				removed = true
			}
		}
		if !removed {
			continue
		}
		if changed == nil {
			changed = make(map[typingKey][]TypingUser)
		}
		changed[key] = t.rosterLocked(key, now)
		if len(users) == 0 {
			delete(t.entries, key)
		}
	}
	return changed
}

// RemoveUser deletes the user's entries for every key scoped to the given
// projects and tasks (a connection's joined rooms, on disconnect). Returns
// the fresh roster per changed key.
func (t *typingTracker) RemoveUser(userID string, projectIDs, taskIDs map[string]struct{}, now time.Time) map[typingKey][]TypingUser {
	t.mu.Lock()
	defer t.mu.Unlock()
	var changed map[typingKey][]TypingUser
	for key, users := range t.entries {
		if key.TaskID != "" {
			if _, ok := taskIDs[key.TaskID]; !ok {
				continue
			}
		} else if _, ok := projectIDs[key.ProjectID]; !ok {
			continue
		}
		if _, ok := users[userID]; !ok {
			continue
		}
		delete(users, userID)
		if changed == nil {
			changed = make(map[typingKey][]TypingUser)
		}
		changed[key] = t.rosterLocked(key, now)
		if len(users) == 0 {
			delete(t.entries, key)
		}
	}
	return changed
}

func (t *typingTracker) rosterLocked(key typingKey, now time.Time) []TypingUser {
	users := t.entries[key]
	roster := make([]TypingUser, 0, len(users))
	for id, entry := range users {
		if now.Sub(entry.lastTyped) >= typingTimeout {
			continue
		}
		roster = append(roster, TypingUser{UserID: id, UserName: entry.userName, Context: key.Context})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].UserID < roster[j].UserID })
	return roster
}
