// Package route implements the MessageRouter (C7): given a conversation
// context, decide which role should handle it. Rules are evaluated in
// descending priority; the first match wins. A fallback rule (role
// Architect) always exists, seeded at construction if the configured
// rule list omits one.
package route

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/indenscale/monoco/internal/config"
)

// Kind identifies a rule's match semantics.
type Kind string

const (
	KindCommand  Kind = "command"
	KindMention  Kind = "mention"
	KindKeyword  Kind = "keyword"
	KindRegex    Kind = "regex"
	KindFallback Kind = "fallback"
)

// Context is the conversation context a routing decision is made from:
// the latest message plus enough recent history and session metadata to
// evaluate every rule kind without a further lookup.
type Context struct {
	Body     string            // latest message body
	History  []string          // recent message bodies, most recent last
	Mentions []string          // participants.mentions from the envelope
	Metadata map[string]any    // session metadata (correlation id, provider, ...)
}

// Decision records the outcome of one Route call, returned to callers
// for logging/audit and available afterward via GetAuditLog.
type Decision struct {
	Role      string    `json:"role"`
	Reason    string    `json:"reason"`
	RuleKind  Kind      `json:"rule_kind"`
	Pattern   string    `json:"pattern,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// rule is a compiled, ready-to-evaluate routing rule.
type rule struct {
	kind     Kind
	pattern  string
	role     string
	priority int
	re       *regexp.Regexp // non-nil only for KindRegex
}

// Router evaluates routing rules against conversation context. Safe for
// concurrent use; Reload swaps the rule list atomically (copy-on-write)
// so in-flight Route calls never observe a half-updated list.
type Router struct {
	logger *slog.Logger

	mu    sync.RWMutex
	rules []rule

	auditMu sync.Mutex
	audit   []Decision
}

// NewRouter builds a Router from the configured rules, compiling regex
// patterns up front so a malformed pattern is caught at startup rather
// than at first routing decision. A fallback rule targeting "architect"
// is appended if the configuration has none.
func NewRouter(logger *slog.Logger, cfg config.RoutingConfig) (*Router, error) {
	if logger == nil {
		logger = slog.Default()
	}
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	return &Router{logger: logger, rules: rules}, nil
}

func compileRules(cfgRules []config.RuleConfig) ([]rule, error) {
	rules := make([]rule, 0, len(cfgRules)+1)
	haveFallback := false

	for _, rc := range cfgRules {
		r := rule{kind: Kind(rc.Kind), pattern: rc.Pattern, role: rc.Role, priority: rc.Priority}
		if r.kind == KindRegex {
			re, err := regexp.Compile(rc.Pattern)
			if err != nil {
				return nil, fmt.Errorf("route: compile regex rule %q: %w", rc.Pattern, err)
			}
			r.re = re
		}
		if r.kind == KindFallback {
			haveFallback = true
		}
		rules = append(rules, r)
	}

	if !haveFallback {
		rules = append(rules, rule{kind: KindFallback, role: "architect", priority: -1})
	}

	sort.SliceStable(rules, func(i, j int) bool { return rules[i].priority > rules[j].priority })
	return rules, nil
}

// Reload replaces the rule list in effect for subsequent Route calls.
// Intended to be called in response to a configuration-change event per
// spec.md §4.7.
func (r *Router) Reload(cfg config.RoutingConfig) error {
	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.rules = rules
	r.mu.Unlock()
	return nil
}

// Route evaluates the rule list in descending priority and returns the
// first match's target role along with a human-readable reason.
func (r *Router) Route(ctx Context) Decision {
	r.mu.RLock()
	rules := r.rules
	r.mu.RUnlock()

	var d Decision
	for _, ru := range rules {
		if matched, reason := ru.matches(ctx); matched {
			d = Decision{
				Role:      ru.role,
				Reason:    reason,
				RuleKind:  ru.kind,
				Pattern:   ru.pattern,
				Timestamp: time.Now(),
			}
			break
		}
	}
	r.recordAudit(d)
	return d
}

func (ru rule) matches(ctx Context) (bool, string) {
	switch ru.kind {
	case KindCommand:
		token := firstToken(ctx.Body)
		if strings.HasPrefix(token, "/") && strings.TrimPrefix(token, "/") == ru.pattern {
			return true, fmt.Sprintf("command %q matched", ru.pattern)
		}
		return false, ""

	case KindMention:
		target := strings.ToLower(strings.TrimPrefix(ru.pattern, "@"))
		for _, m := range ctx.Mentions {
			if strings.ToLower(strings.TrimPrefix(m, "@")) == target {
				return true, fmt.Sprintf("mentioned %q in participants", ru.pattern)
			}
		}
		if strings.Contains(strings.ToLower(ctx.Body), "@"+target) {
			return true, fmt.Sprintf("mentioned %q in body", ru.pattern)
		}
		return false, ""

	case KindKeyword:
		body := strings.ToLower(ctx.Body)
		for _, kw := range strings.Split(ru.pattern, "|") {
			kw = strings.TrimSpace(kw)
			if kw != "" && strings.Contains(body, strings.ToLower(kw)) {
				return true, fmt.Sprintf("keyword %q found", kw)
			}
		}
		return false, ""

	case KindRegex:
		full := strings.Join(append(append([]string{}, ctx.History...), ctx.Body), "\n")
		if ru.re.MatchString(full) {
			return true, fmt.Sprintf("regex %q matched", ru.pattern)
		}
		return false, ""

	case KindFallback:
		return true, "fallback rule"

	default:
		return false, ""
	}
}

func firstToken(body string) string {
	fields := strings.Fields(body)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

func (r *Router) recordAudit(d Decision) {
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	r.audit = append(r.audit, d)
	const maxAudit = 500
	if len(r.audit) > maxAudit {
		r.audit = r.audit[len(r.audit)-maxAudit:]
	}
}

// GetAuditLog returns the most recent routing decisions, newest last,
// capped at limit (0 means no cap beyond the in-memory retention).
func (r *Router) GetAuditLog(limit int) []Decision {
	r.auditMu.Lock()
	defer r.auditMu.Unlock()
	if limit <= 0 || limit >= len(r.audit) {
		out := make([]Decision, len(r.audit))
		copy(out, r.audit)
		return out
	}
	out := make([]Decision, limit)
	copy(out, r.audit[len(r.audit)-limit:])
	return out
}
