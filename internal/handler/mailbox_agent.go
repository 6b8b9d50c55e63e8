package handler

import (
	"fmt"
	"strings"
	"time"

	"github.com/indenscale/monoco/internal/bus"
	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/route"
	"github.com/indenscale/monoco/internal/session"
)

// handleMailboxInbound is the MailboxAgent handler (spec.md §4.8): one
// MAILBOX_INBOUND_RECEIVED event carries a debounced batch of messages
// for a single provider/session pair. The batch's most recent message
// is routed through the MessageRouter; the whole batch's bodies become
// the scheduled task's history so the chosen role sees the full
// exchange, not just the latest line. If scheduling fails, a synthetic
// refusal message is written back to the sender via outbound mailbox
// rather than silently dropping the conversation.
func (s *Set) handleMailboxInbound(evt bus.Event) {
	provider := stringPayload(evt, "provider")
	messages, _ := evt.Payload["messages"].([]map[string]any)
	if len(messages) == 0 {
		return
	}

	last := messages[len(messages)-1]
	history := make([]string, 0, len(messages)-1)
	for _, m := range messages[:len(messages)-1] {
		if body, _ := m["body"].(string); body != "" {
			history = append(history, body)
		}
	}
	body, _ := last["body"].(string)
	mentions, _ := last["mentions"].([]string)

	ctx := route.Context{
		Body:     body,
		History:  history,
		Mentions: mentions,
		Metadata: last,
	}

	decision := s.cfg.Router.Route(ctx)
	s.logger.Info("mailbox_agent: routed", "provider", provider, "role", decision.Role,
		"rule_kind", decision.RuleKind, "reason", decision.Reason)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are the %s. A message arrived via %s:\n\n", decision.Role, provider)
	for _, h := range history {
		fmt.Fprintf(&sb, "> %s\n\n", h)
	}
	sb.WriteString(body)

	task := session.AgentTask{
		RoleName: decision.Role,
		Prompt:   sb.String(),
		Engine:   s.cfg.DefaultEngine,
		Metadata: map[string]any{"working_dir": s.cfg.WorkspaceDir, "provider": provider},
	}

	if _, err := s.schedule(task); err != nil {
		s.logger.Error("mailbox_agent: schedule failed, sending refusal", "provider", provider, "error", err)
		s.refuse(provider, last, err)
	}
}

func (s *Set) refuse(provider string, last map[string]any, cause error) {
	if s.cfg.Mailbox == nil {
		return
	}
	senderID, _ := last["from"].(string)
	env := mailbox.Envelope{
		Type:      "refusal",
		Timestamp: time.Now(),
		To:        []string{senderID},
		Participants: mailbox.Participants{
			Recipients: []mailbox.Person{{ID: senderID}},
		},
		Body: fmt.Sprintf("Your message could not be handled right now: %s", cause),
	}
	if replyTo, _ := last["envelope_id"].(string); replyTo != "" {
		env.ReplyTo = replyTo
	}
	if _, err := s.cfg.Mailbox.CreateOutbound(provider, env); err != nil {
		s.logger.Error("mailbox_agent: failed to write refusal", "provider", provider, "error", err)
	}
}
