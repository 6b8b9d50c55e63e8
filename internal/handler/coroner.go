package handler

import (
	"fmt"
	"os"
	"strings"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/session"
)

// handleSessionFailed is the Coroner handler (spec.md §4.8): on a
// failed session it schedules a Coroner task carrying the exit code,
// a tail of the failed session's log, and the failure reason (if any),
// so the Coroner agent can write a postmortem without re-reading the
// whole log itself. Coroner sessions record the failed session as
// their ParentSessionID and are always scheduled at Depth 1.
//
// A failed Coroner session is not investigated: the role is checked up
// front and skipped, so a chain of failures cannot recurse.
func (s *Set) handleSessionFailed(evt bus.Event) {
	sessionID := stringPayload(evt, "session_id")
	roleName := stringPayload(evt, "role_name")
	if roleName == "coroner" {
		s.logger.Warn("coroner: refusing to investigate a coroner failure", "session_id", sessionID)
		return
	}

	sess, ok := s.cfg.Scheduler.GetStatus(sessionID)
	if !ok {
		s.logger.Warn("coroner: failed session not found", "session_id", sessionID)
		return
	}

	exitCode := 0
	if sess.ExitCode != nil {
		exitCode = *sess.ExitCode
	}
	reason, _ := sess.Metadata["reason"].(string)
	tail := s.readLogTail(sess.LogLocation)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the Coroner. Session %s (role %s) failed with exit code %d", sessionID, roleName, exitCode)
	if reason != "" {
		fmt.Fprintf(&sb, " (reason: %s)", reason)
	}
	sb.WriteString(".\n\nWrite a postmortem: what the agent was asked to do, what went wrong, and whether it is safe to retry.\n\n")
	if tail != "" {
		fmt.Fprintf(&sb, "Last %d lines of its log:\n\n```\n%s\n```\n", s.cfg.LogTailLines, tail)
	}

	task := session.AgentTask{
		RoleName:        "coroner",
		Prompt:          sb.String(),
		Engine:          s.cfg.DefaultEngine,
		Metadata:        map[string]any{"working_dir": s.cfg.WorkspaceDir, "failed_session_id": sessionID},
		ParentSessionID: sessionID,
		Depth:           1,
	}

	newID, err := s.schedule(task)
	if err != nil {
		s.logger.Error("coroner: schedule failed", "failed_session_id", sessionID, "error", err)
		return
	}
	s.logger.Info("coroner: scheduled", "session_id", newID, "failed_session_id", sessionID)
}

// readLogTail returns up to LogTailLines trailing lines of the log at
// path, or "" if the log is missing or empty. Errors are swallowed: a
// missing log must never block the autopsy from being scheduled.
func (s *Set) readLogTail(path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	n := s.cfg.LogTailLines
	if n <= 0 || n > len(lines) {
		n = len(lines)
	}
	return strings.Join(lines[len(lines)-n:], "\n")
}
