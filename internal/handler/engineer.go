package handler

import (
	"fmt"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/session"
)

// handleIssueStageChanged is the Engineer handler (spec.md §4.8): it
// fires only on a transition into the "doing" stage, and deliberately
// does not chain to the Reviewer on completion (the
// Engineer→Reviewer handover is disabled by policy — Reviewer only
// runs from PR_CREATED; see policy.EngineerToReviewerHandoverDisabled).
// Before scheduling, it consults the swarm-storm CooldownGuard so a
// repeatedly-failing issue does not get re-engineered in a tight loop.
func (s *Set) handleIssueStageChanged(evt bus.Event) {
	toStage := stringPayload(evt, "to_stage")
	if toStage != "doing" {
		return
	}
	issueID := stringPayload(evt, "issue_id")
	if issueID == "" {
		return
	}

	if s.cfg.Cooldown != nil {
		allowed, err := s.cfg.Cooldown.Allowed("engineer", issueID, time.Now())
		if err != nil {
			s.logger.Error("engineer: cooldown check failed", "issue_id", issueID, "error", err)
			return
		}
		if !allowed {
			s.logger.Info("engineer: refused by swarm-storm cooldown", "issue_id", issueID)
			s.cfg.Bus.Publish(bus.SchedulerCooldown, map[string]any{
				"role":     "engineer",
				"issue_id": issueID,
			}, evt.CorrelationID)
			return
		}
	}

	task := session.AgentTask{
		RoleName: "engineer",
		IssueID:  issueID,
		Prompt:   fmt.Sprintf("You are the Engineer. Issue %s has moved to the doing stage. Read its file under Issues/, implement the change it describes, and open a pull request when done.", issueID),
		Engine:   s.cfg.DefaultEngine,
		Metadata: map[string]any{"working_dir": s.cfg.WorkspaceDir, "isolation": "worktree"},
	}

	sessionID, err := s.schedule(task)
	if err != nil {
		s.logger.Error("engineer: schedule failed", "issue_id", issueID, "error", err)
		return
	}
	s.logger.Info("engineer: scheduled", "session_id", sessionID, "issue_id", issueID)
}
