package ws

import (
	"testing"

	"github.com/taskboard/internal/model"
)

func TestTaskPresenceViewersAndEditors(t *testing.T) {
	tp := newTaskPresence()
	alice := model.UserRef{ID: "u1", Name: "Alice"}
	bob := model.UserRef{ID: "u2", Name: "Bob"}

	tp.AddViewer("t1", alice)
	viewers, editors := tp.AddViewer("t1", bob)
	if len(viewers) != 2 {
		t.Fatalf("want 2 viewers, got %d", len(viewers))
	}
	if len(editors) != 0 {
		t.Fatalf("want no editors yet, got %+v", editors)
	}

	// Editing is advisory: a second editor is allowed, not rejected.
	tp.SetEditing("t1", alice, true)
	_, editors = tp.SetEditing("t1", bob, true)
	if len(editors) != 2 {
		t.Fatalf("want both advisory editors, got %+v", editors)
	}
	if ed := tp.CurrentEditor("t1"); ed == nil || ed.ID != "u1" {
		t.Fatalf("current editor must be the earliest one (u1), got %+v", ed)
	}

	// When the first editor stops, the signal moves to the next.
	_, editors = tp.SetEditing("t1", alice, false)
	if len(editors) != 1 || editors[0].ID != "u2" {
		t.Fatalf("want only u2 editing, got %+v", editors)
	}
	if ed := tp.CurrentEditor("t1"); ed == nil || ed.ID != "u2" {
		t.Fatalf("current editor must fall over to u2, got %+v", ed)
	}
}

func TestTaskPresenceRemoveUser(t *testing.T) {
	tp := newTaskPresence()
	alice := model.UserRef{ID: "u1", Name: "Alice"}
	bob := model.UserRef{ID: "u2", Name: "Bob"}

	tp.AddViewer("t1", alice)
	tp.AddViewer("t1", bob)
	tp.SetEditing("t1", alice, true)

	viewers, editors, changed := tp.RemoveUser("t1", "u1")
	if !changed {
		t.Fatal("removing a present user must report a change")
	}
	if len(viewers) != 1 || viewers[0].ID != "u2" {
		t.Fatalf("want only u2 viewing, got %+v", viewers)
	}
	if len(editors) != 0 {
		t.Fatalf("u1's editor entry must go with the user, got %+v", editors)
	}
	if ed := tp.CurrentEditor("t1"); ed != nil {
		t.Fatalf("no editor expected after u1 left, got %+v", ed)
	}

	if _, _, changed := tp.RemoveUser("t1", "u1"); changed {
		t.Fatal("second remove of the same user must be a no-op")
	}
	if _, _, changed := tp.RemoveUser("t-unknown", "u1"); changed {
		t.Fatal("remove from an unknown task must be a no-op")
	}
}

func TestTaskPresencePrunesEmptyTasks(t *testing.T) {
	tp := newTaskPresence()
	tp.AddViewer("t1", model.UserRef{ID: "u1"})
	tp.RemoveUser("t1", "u1")

	if _, ok := tp.tasks["t1"]; ok {
		t.Fatal("empty task entry must be pruned")
	}
	viewers, editors := tp.Snapshot("t1")
	if len(viewers) != 0 || len(editors) != 0 {
		t.Fatalf("snapshot of a pruned task must be empty, got %+v %+v", viewers, editors)
	}
}

func TestTaskPresenceSetEditingFalseWithoutViewing(t *testing.T) {
	tp := newTaskPresence()
	// Stop-editing from a user who never started is harmless.
	viewers, editors := tp.SetEditing("t1", model.UserRef{ID: "u1"}, false)
	if len(viewers) != 0 || len(editors) != 0 {
		t.Fatalf("want empty snapshot, got %+v %+v", viewers, editors)
	}
	if _, ok := tp.tasks["t1"]; ok {
		t.Fatal("no-op edit must not leave an entry behind")
	}
}
