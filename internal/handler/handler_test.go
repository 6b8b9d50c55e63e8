package handler

import (
	"context"
	"sync"

	"github.com/indenscale/monoco/internal/session"
)

// fakeScheduler is a minimal in-memory stand-in for *session.Scheduler,
// recording every task it is asked to schedule.
type fakeScheduler struct {
	mu       sync.Mutex
	tasks    []session.AgentTask
	sessions map[string]*session.Session
	failWith error
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{sessions: make(map[string]*session.Session)}
}

func (f *fakeScheduler) Schedule(_ context.Context, task session.AgentTask) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failWith != nil {
		return "", f.failWith
	}
	f.tasks = append(f.tasks, task)
	id := session.NewID()
	f.sessions[id] = &session.Session{SessionID: id, Task: task, Status: session.StatusRunning}
	return id, nil
}

func (f *fakeScheduler) GetStatus(sessionID string) (*session.Session, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[sessionID]
	return s, ok
}

func (f *fakeScheduler) lastTask() (session.AgentTask, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.tasks) == 0 {
		return session.AgentTask{}, false
	}
	return f.tasks[len(f.tasks)-1], true
}

func (f *fakeScheduler) taskCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}
