package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/session"
)

// handleMemoThreshold is the Architect handler (spec.md §4.8): it fires
// once MEMO_THRESHOLD crosses the configured count, debounced by
// MemoPolicy so a burst of memo writes spawns at most one Architect
// session per min-gap window. The scheduled task's prompt concatenates
// every pending memo entry's body; the Architect's own output (new
// Issue files) is picked up independently by the issue watcher, not by
// this handler.
func (s *Set) handleMemoThreshold(evt bus.Event) {
	if s.cfg.MemoPolicy != nil && !s.cfg.MemoPolicy.Allow(time.Now()) {
		s.logger.Debug("architect: memo threshold debounced", "correlation_id", evt.CorrelationID)
		return
	}

	entries, _ := evt.Payload["entries"].([]map[string]any)
	var sb strings.Builder
	sb.WriteString("You are the Architect. The following memo entries have accumulated and need triage into Issue files:\n\n")
	for _, e := range entries {
		hash, _ := e["hash"].(string)
		body, _ := e["body"].(string)
		fmt.Fprintf(&sb, "## [%s]\n\n%s\n\n", hash, body)
	}

	task := session.AgentTask{
		RoleName: "architect",
		Prompt:   sb.String(),
		Engine:   s.cfg.DefaultEngine,
		Metadata: map[string]any{"working_dir": s.cfg.WorkspaceDir},
	}

	sessionID, err := s.schedule(task)
	if err != nil {
		s.logger.Error("architect: schedule failed", "error", err)
		return
	}
	s.logger.Info("architect: scheduled", "session_id", sessionID, "memo_count", len(entries))
}
