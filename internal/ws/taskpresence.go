package ws

import (
	"sort"
	"sync"

	"github.com/taskboard/internal/model"
)

// taskEntry holds the viewers and editors of one task, both keyed by user
// id. Editing is advisory: multiple editors are representable and permitted.
// editorOrder remembers insertion order so the advisory signal can report a
// deterministic "current editor" (the earliest still-active one).
type taskEntry struct {
	viewers     map[string]model.UserRef
	editors     map[string]model.UserRef
	editorOrder []string
}

// taskPresence tracks per-task viewers and the advisory editor set.
type taskPresence struct {
	mu    sync.Mutex
	tasks map[string]*taskEntry
}

func newTaskPresence() *taskPresence {
	return &taskPresence{tasks: make(map[string]*taskEntry)}
}

func (t *taskPresence) entryLocked(taskID string) *taskEntry {
	entry, ok := t.tasks[taskID]
	if !ok {
		entry = &taskEntry{
			viewers: make(map[string]model.UserRef),
			editors: make(map[string]model.UserRef),
		}
		t.tasks[taskID] = entry
	}
	return entry
}

// AddViewer records user as viewing the task and returns the snapshot.
func (t *taskPresence) AddViewer(taskID string, user model.UserRef) ([]model.UserRef, []model.UserRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entryLocked(taskID)
	entry.viewers[user.ID] = user
	return snapshotLocked(entry)
}

// SetEditing adds or removes user from the task's editor set. It does not
// enforce a single writer; a second concurrent editor is allowed.
func (t *taskPresence) SetEditing(taskID string, user model.UserRef, editing bool) ([]model.UserRef, []model.UserRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry := t.entryLocked(taskID)
	if editing {
		if _, ok := entry.editors[user.ID]; !ok {
			entry.editorOrder = append(entry.editorOrder, user.ID)
		}
		entry.editors[user.ID] = user
	} else {
		t.dropEditorLocked(entry, user.ID)
	}
	t.pruneLocked(taskID, entry)
	return snapshotLocked(entry)
}

// RemoveUser removes the user from both viewers and editors of the task.
// Returns the fresh snapshot and whether anything changed.
func (t *taskPresence) RemoveUser(taskID, userID string) ([]model.UserRef, []model.UserRef, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		return nil, nil, false
	}
	_, hadViewer := entry.viewers[userID]
	_, hadEditor := entry.editors[userID]
	if !hadViewer && !hadEditor {
		return nil, nil, false
	}
	delete(entry.viewers, userID)
	t.dropEditorLocked(entry, userID)
	t.pruneLocked(taskID, entry)
	viewers, editors := snapshotLocked(entry)
	return viewers, editors, true
}

// Snapshot returns the current viewer and editor lists for a task.
func (t *taskPresence) Snapshot(taskID string) ([]model.UserRef, []model.UserRef) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		return []model.UserRef{}, []model.UserRef{}
	}
	return snapshotLocked(entry)
}

// CurrentEditor returns the earliest still-active editor, or nil. This is
// the advisory editing signal only: it informs the UI and blocks nobody.
func (t *taskPresence) CurrentEditor(taskID string) *model.UserRef {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.tasks[taskID]
	if !ok {
		return nil
	}
	for _, id := range entry.editorOrder {
		if u, ok := entry.editors[id]; ok {
			ref := u
			return &ref
		}
	}
	return nil
}

func (t *taskPresence) dropEditorLocked(entry *taskEntry, userID string) {
	if _, ok := entry.editors[userID]; !ok {
		return
	}
	delete(entry.editors, userID)
	for i, id := range entry.editorOrder {
		if id == userID {
			entry.editorOrder = append(entry.editorOrder[:i], entry.editorOrder[i+1:]...)
			break
		}
	}
}

func (t *taskPresence) pruneLocked(taskID string, entry *taskEntry) {
	if len(entry.viewers) == 0 && len(entry.editors) == 0 {
		delete(t.tasks, taskID)
	}
}

// snapshotLocked returns viewers sorted by id and editors in insertion
// order (the order the advisory signal derives from).
func snapshotLocked(entry *taskEntry) ([]model.UserRef, []model.UserRef) {
	viewers := make([]model.UserRef, 0, len(entry.viewers))
	for _, u := range entry.viewers {
		viewers = append(viewers, u)
	}
	sort.Slice(viewers, func(i, j int) bool { return viewers[i].ID < viewers[j].ID })

	editors := make([]model.UserRef, 0, len(entry.editors))
	for _, id := range entry.editorOrder {
		if u, ok := entry.editors[id]; ok {
			editors = append(editors, u)
		}
	}
	return viewers, editors
}
