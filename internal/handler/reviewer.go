package handler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/session"
)

// handlePRCreated is the Reviewer handler (spec.md §4.8): PR_CREATED is
// externally emitted (by whatever forge integration detects a new pull
// request — a webhook receiver or poller outside this handler's
// concern) carrying at minimum "repo" ("owner/repo") and "number". When
// a Forge registry is configured, the handler enriches the prompt with
// the PR diff, changed-file list, and CI check status (per
// SPEC_FULL.md §12) before scheduling; without one it falls back to a
// bare prompt naming the PR.
func (s *Set) handlePRCreated(evt bus.Event) {
	repo := stringPayload(evt, "repo")
	number := intPayload(evt, "number")
	if repo == "" || number == 0 {
		s.logger.Warn("reviewer: PR_CREATED missing repo/number", "correlation_id", evt.CorrelationID)
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the Reviewer. Review pull request #%d in %s.\n\n", number, repo)

	if s.cfg.Forge != nil {
		s.enrichPR(&sb, repo, number)
	}

	task := session.AgentTask{
		RoleName: "reviewer",
		Prompt:   sb.String(),
		Engine:   s.cfg.DefaultEngine,
		Metadata: map[string]any{"working_dir": s.cfg.WorkspaceDir, "repo": repo, "pr_number": number},
	}

	sessionID, err := s.schedule(task)
	if err != nil {
		s.logger.Error("reviewer: schedule failed", "repo", repo, "number", number, "error", err)
		return
	}
	s.logger.Info("reviewer: scheduled", "session_id", sessionID, "repo", repo, "number", number)
}

func (s *Set) enrichPR(sb *strings.Builder, repo string, number int) {
	provider, cfg, err := s.cfg.Forge.Account(s.cfg.ForgeAccount)
	if err != nil {
		s.logger.Warn("reviewer: forge account unavailable, skipping enrichment", "error", err)
		return
	}
	owner, name := s.cfg.Forge.ResolveRepo(cfg, repo)
	fullRepo := owner + "/" + name

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if files, err := provider.GetPRFiles(ctx, fullRepo, number); err == nil {
		sb.WriteString("Changed files:\n")
		for _, f := range files {
			fmt.Fprintf(sb, "- %s (%s, +%d/-%d)\n", f.Filename, f.Status, f.Additions, f.Deletions)
		}
		sb.WriteString("\n")
	} else {
		s.logger.Warn("reviewer: GetPRFiles failed", "repo", fullRepo, "number", number, "error", err)
	}

	if diff, err := provider.GetPRDiff(ctx, fullRepo, number); err == nil {
		fmt.Fprintf(sb, "Diff:\n\n```diff\n%s\n```\n\n", diff)
	} else {
		s.logger.Warn("reviewer: GetPRDiff failed", "repo", fullRepo, "number", number, "error", err)
	}

	if checks, err := provider.ListChecks(ctx, fullRepo, number); err == nil && len(checks) > 0 {
		sb.WriteString("CI checks:\n")
		for _, c := range checks {
			fmt.Fprintf(sb, "- %s: %s (%s)\n", c.Name, c.Status, c.Conclusion)
		}
		sb.WriteString("\n")
	}
}

func intPayload(evt bus.Event, key string) int {
	if evt.Payload == nil {
		return 0
	}
	switch v := evt.Payload[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
