// Package session implements the AgentTask/Session data model (C3/C4):
// the immutable description of one scheduler invocation, the runtime
// record of a spawned agent process, and their durable storage.
package session

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewID generates a UUIDv7 identifier, falling back to v4 on the rare
// platform where v7 generation fails (clock read error).
func NewID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.New().String()
	}
	return id.String()
}

// AgentTask is the immutable descriptor for one scheduler invocation.
// It is created by a handler and consumed by AgentScheduler.Schedule.
type AgentTask struct {
	TaskID   string         `json:"task_id"`
	RoleName string         `json:"role_name"` // architect|engineer|reviewer|coroner|mailbox
	IssueID  string         `json:"issue_id,omitempty"`
	Prompt   string         `json:"prompt"`
	Engine   string         `json:"engine"`
	Timeout  time.Duration  `json:"timeout,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`

	// ParentSessionID and Depth are set when this task is spawned by a
	// running session (a subagent). Depth 0 means top-level.
	ParentSessionID string `json:"parent_session_id,omitempty"`
	Depth           int    `json:"depth"`
}

// Status is the scheduler's session state. Sessions move monotonically
// through pending -> running -> {completed|failed|terminated}; once a
// session reaches a terminal status it never changes again.
type Status string

const (
	StatusPending     Status = "pending"
	StatusRunning     Status = "running"
	StatusCompleted   Status = "completed"
	StatusFailed      Status = "failed"
	StatusTerminated  Status = "terminated"
)

// Terminal reports whether s is one of the states a Session cannot
// leave once reached.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTerminated:
		return true
	default:
		return false
	}
}

// validTransition reports whether moving from `from` to `to` is legal
// under the scheduler's state machine.
func validTransition(from, to Status) bool {
	if from.Terminal() {
		return false
	}
	switch from {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusTerminated
	case StatusRunning:
		return to == StatusCompleted || to == StatusFailed || to == StatusTerminated
	default:
		return false
	}
}

// Session is the runtime identity of one spawned agent process.
type Session struct {
	SessionID       string     `json:"session_id"`
	Task            AgentTask  `json:"task"`
	Status          Status     `json:"status"`
	PID             int        `json:"pid,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	EndedAt         *time.Time `json:"ended_at,omitempty"`
	ExitCode        *int       `json:"exit_code,omitempty"`
	LogLocation     string     `json:"log_location,omitempty"`
	ParentSessionID string     `json:"parent_session_id,omitempty"`

	// Metadata carries scheduler-attached detail not part of the
	// originating task, e.g. {"reason": "timeout"} on termination or
	// {"reason": "daemon_restart"} on recovery.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// transitionTo moves the session to status, stamping the relevant
// timestamp fields. It returns an error if the transition is illegal,
// leaving the session unchanged.
func (s *Session) transitionTo(status Status, at time.Time) error {
	if !validTransition(s.Status, status) {
		return fmt.Errorf("session %s: illegal transition %s -> %s", s.SessionID, s.Status, status)
	}
	s.Status = status
	switch status {
	case StatusRunning:
		t := at
		s.StartedAt = &t
	case StatusCompleted, StatusFailed, StatusTerminated:
		t := at
		s.EndedAt = &t
	}
	return nil
}

// Stats summarizes scheduler state for get_stats().
type Stats struct {
	Running         int            `json:"running"`
	Pending         int            `json:"pending"`
	Completed       int            `json:"completed"`
	Failed          int            `json:"failed"`
	PerRoleCounts   map[string]int `json:"per_role_counts"`
	OldestRunningAge time.Duration `json:"oldest_running_age"`
}
