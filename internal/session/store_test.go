package session

import (
	"testing"
	"time"
)

func TestStore_PutGet(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}

	sess := &Session{SessionID: "s1", Task: AgentTask{RoleName: "engineer"}, Status: StatusPending}
	if err := store.Put(sess); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	got, ok := store.Get("s1")
	if !ok {
		t.Fatal("expected session s1 to be found")
	}
	if got.Status != StatusPending {
		t.Errorf("Status = %v, want %v", got.Status, StatusPending)
	}
}

func TestStore_SurvivesReload(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	sess := &Session{SessionID: "s2", Task: AgentTask{RoleName: "architect"}, Status: StatusRunning}
	if err := store.Put(sess); err != nil {
		t.Fatalf("Put error: %v", err)
	}

	reloaded, err := NewStore(dir)
	if err != nil {
		t.Fatalf("reload NewStore error: %v", err)
	}
	got, ok := reloaded.Get("s2")
	if !ok {
		t.Fatal("expected reloaded store to find s2")
	}
	if got.Status != StatusRunning {
		t.Errorf("Status = %v, want %v", got.Status, StatusRunning)
	}
}

func TestStore_ListActiveExcludesTerminal(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	store.Put(&Session{SessionID: "running", Task: AgentTask{RoleName: "engineer"}, Status: StatusRunning})
	store.Put(&Session{SessionID: "done", Task: AgentTask{RoleName: "engineer"}, Status: StatusCompleted})

	active := store.ListActive()
	if len(active) != 1 || active[0].SessionID != "running" {
		t.Fatalf("ListActive = %+v, want only the running session", active)
	}
}

func TestStore_ListByRole(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore error: %v", err)
	}
	store.Put(&Session{SessionID: "a", Task: AgentTask{RoleName: "reviewer"}, Status: StatusPending})
	store.Put(&Session{SessionID: "b", Task: AgentTask{RoleName: "engineer"}, Status: StatusPending})

	got := store.ListByRole("reviewer")
	if len(got) != 1 || got[0].SessionID != "a" {
		t.Fatalf("ListByRole(reviewer) = %+v, want only session a", got)
	}
}

func TestSession_TransitionToRejectsIllegalMoves(t *testing.T) {
	sess := &Session{SessionID: "s", Status: StatusPending}
	if err := sess.transitionTo(StatusCompleted, time.Now()); err == nil {
		t.Fatal("expected error transitioning pending -> completed directly")
	}
	if err := sess.transitionTo(StatusRunning, time.Now()); err != nil {
		t.Fatalf("unexpected error pending -> running: %v", err)
	}
	if err := sess.transitionTo(StatusRunning, time.Now()); err == nil {
		t.Fatal("expected error re-entering running from running")
	}
	if err := sess.transitionTo(StatusCompleted, time.Now()); err != nil {
		t.Fatalf("unexpected error running -> completed: %v", err)
	}
	if err := sess.transitionTo(StatusFailed, time.Now()); err == nil {
		t.Fatal("expected error leaving a terminal state")
	}
}
