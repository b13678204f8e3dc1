package ws

import (
	"sort"
	"sync"

	"github.com/taskboard/internal/model"
)

// presenceEntry backs one user inside one project: the display snapshot from
// the most recent join plus every connection id currently viewing.
type presenceEntry struct {
	user  model.UserRef
	conns map[string]struct{}
}

// projectPresence tracks which distinct users view each project. Multiple
// simultaneous connections of one user collapse to a single roster entry.
type projectPresence struct {
	mu       sync.Mutex
	projects map[string]map[string]*presenceEntry
}

func newProjectPresence() *projectPresence {
	return &projectPresence{projects: make(map[string]map[string]*presenceEntry)}
}

// Add records connID viewing the project for user and returns the fresh
// roster to broadcast.
func (p *projectPresence) Add(projectID, connID string, user model.UserRef) []PresenceUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.projects[projectID]
	if !ok {
		users = make(map[string]*presenceEntry)
		p.projects[projectID] = users
	}
	entry, ok := users[user.ID]
	if !ok {
		entry = &presenceEntry{user: user, conns: make(map[string]struct{})}
		users[user.ID] = entry
	} else {
		// Refresh the display snapshot; a rejoin may carry a new name/avatar.
		entry.user = user
	}
	entry.conns[connID] = struct{}{}
	return rosterLocked(users)
}

// Remove drops one connection of a user from the project. When the user's
// last connection goes, the user leaves the roster. The second return is
// false when nothing changed (already-clean cleanup is not an error).
func (p *projectPresence) Remove(projectID, connID, userID string) ([]PresenceUser, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	users, ok := p.projects[projectID]
	if !ok {
		return nil, false
	}
	entry, ok := users[userID]
	if !ok {
		return nil, false
	}
	if _, ok := entry.conns[connID]; !ok {
		return nil, false
	}
	delete(entry.conns, connID)
	if len(entry.conns) == 0 {
		delete(users, userID)
	}
	if len(users) == 0 {
		delete(p.projects, projectID)
		return []PresenceUser{}, true
	}
	return rosterLocked(users), true
}

// Roster recomputes the current roster for a project.
func (p *projectPresence) Roster(projectID string) []PresenceUser {
	p.mu.Lock()
	defer p.mu.Unlock()
	return rosterLocked(p.projects[projectID])
}

// rosterLocked builds the outward roster: one entry per user with its
// connection count. Sorted by user id so broadcasts are stable; consumers
// still treat the roster as a set.
func rosterLocked(users map[string]*presenceEntry) []PresenceUser {
	roster := make([]PresenceUser, 0, len(users))
	for _, entry := range users {
		roster = append(roster, PresenceUser{
			ID:          entry.user.ID,
			Name:        entry.user.Name,
			Image:       entry.user.Image,
			SocketCount: len(entry.conns),
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].ID < roster[j].ID })
	return roster
}
