// Package policy implements the scheduling policies described in
// spec.md §4.10: memo-accumulation debouncing, the Engineer→Reviewer
// handover ban, and the swarm-storm cooldown guard. These sit between
// the event bus and the handler set — handlers consult a policy before
// asking the AgentScheduler to run something, rather than the
// scheduler or bus enforcing them directly.
package policy

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/indenscale/monoco/internal/config"
	"github.com/indenscale/monoco/internal/opstate"
)

// EngineerToReviewerHandoverDisabled documents the handover policy: the
// Engineer handler never schedules a Reviewer task directly on
// completion. Reviewer only runs in response to an externally emitted
// PR_CREATED event. This eliminates the "swarm storm" class of failures
// where repeated failed sessions spawn cascading work.
const EngineerToReviewerHandoverDisabled = true

// MemoPolicy debounces Architect spawns triggered by memo accumulation:
// after a spawn, a further MEMO_THRESHOLD is ignored until minGap has
// elapsed, even if the watcher keeps reporting the threshold crossed.
type MemoPolicy struct {
	minGap time.Duration

	mu        sync.Mutex
	lastSpawn time.Time
}

// NewMemoPolicy constructs a MemoPolicy with the configured minimum gap.
func NewMemoPolicy(cfg config.WatchersConfig) *MemoPolicy {
	gap := time.Duration(cfg.MemoMinGapSec) * time.Second
	if gap <= 0 {
		gap = 60 * time.Second
	}
	return &MemoPolicy{minGap: gap}
}

// Allow reports whether an Architect spawn may proceed at `now`. If it
// returns true, the gap window is reset so a subsequent call before
// minGap elapses returns false.
func (p *MemoPolicy) Allow(now time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.lastSpawn.IsZero() && now.Sub(p.lastSpawn) < p.minGap {
		return false
	}
	p.lastSpawn = now
	return true
}

// cooldownRecord is the JSON value stored per (role, issue_id) key.
type cooldownRecord struct {
	Attempts      int       `json:"attempts"`
	LastFailureAt time.Time `json:"last_failure_at"`
}

const cooldownNamespace = "swarm_storm_cooldown"

// CooldownGuard implements the per-(role, issue_id) swarm-storm guard:
// after a SESSION_FAILED, re-scheduling the same (role, issue_id) is
// refused for a cooldown window that grows exponentially with
// consecutive failures, capped at MaxAttempts (after which the pair is
// refused indefinitely until Reset is called by a successful run).
type CooldownGuard struct {
	state       *opstate.Store
	base        time.Duration
	max         time.Duration
	maxAttempts int
}

// NewCooldownGuard constructs a CooldownGuard persisted in state.
func NewCooldownGuard(state *opstate.Store, cfg config.PolicyConfig) *CooldownGuard {
	base := time.Duration(cfg.CooldownBaseSec) * time.Second
	if base <= 0 {
		base = 60 * time.Second
	}
	max := time.Duration(cfg.CooldownMaxSec) * time.Second
	if max <= 0 {
		max = 30 * time.Minute
	}
	attempts := cfg.CooldownMaxAttempts
	if attempts <= 0 {
		attempts = 5
	}
	return &CooldownGuard{state: state, base: base, max: max, maxAttempts: attempts}
}

func cooldownKey(role, issueID string) string {
	return role + ":" + issueID
}

// Allowed reports whether scheduling (role, issueID) is currently
// permitted: either there is no failure history, or enough time has
// elapsed since the last failure given its backoff window, and the
// attempt cap has not been exhausted.
func (g *CooldownGuard) Allowed(role, issueID string, now time.Time) (bool, error) {
	rec, ok, err := g.load(role, issueID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	if rec.Attempts >= g.maxAttempts {
		return false, nil
	}
	window := g.backoffWindow(rec.Attempts)
	return now.Sub(rec.LastFailureAt) >= window, nil
}

// RecordFailure registers a SESSION_FAILED for (role, issueID) at `at`,
// incrementing its attempt count, and returns the cooldown window that
// now applies plus whether the attempt cap has been reached.
func (g *CooldownGuard) RecordFailure(role, issueID string, at time.Time) (cooldown time.Duration, exhausted bool, err error) {
	rec, ok, err := g.load(role, issueID)
	if err != nil {
		return 0, false, err
	}
	if !ok {
		rec = cooldownRecord{}
	}
	rec.Attempts++
	rec.LastFailureAt = at

	if err := g.save(role, issueID, rec); err != nil {
		return 0, false, err
	}
	return g.backoffWindow(rec.Attempts), rec.Attempts >= g.maxAttempts, nil
}

// Reset clears the failure streak for (role, issueID), called after a
// session for that pair completes successfully.
func (g *CooldownGuard) Reset(role, issueID string) error {
	return g.state.Delete(cooldownNamespace, cooldownKey(role, issueID))
}

// backoffWindow returns base * 2^(attempts-1), capped at max.
func (g *CooldownGuard) backoffWindow(attempts int) time.Duration {
	if attempts <= 1 {
		return g.base
	}
	d := g.base
	for i := 1; i < attempts && d < g.max; i++ {
		d *= 2
	}
	if d > g.max {
		d = g.max
	}
	return d
}

func (g *CooldownGuard) load(role, issueID string) (cooldownRecord, bool, error) {
	raw, err := g.state.Get(cooldownNamespace, cooldownKey(role, issueID))
	if err != nil {
		return cooldownRecord{}, false, fmt.Errorf("policy: load cooldown: %w", err)
	}
	if raw == "" {
		return cooldownRecord{}, false, nil
	}
	var rec cooldownRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return cooldownRecord{}, false, fmt.Errorf("policy: parse cooldown record: %w", err)
	}
	return rec, true, nil
}

func (g *CooldownGuard) save(role, issueID string, rec cooldownRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("policy: marshal cooldown record: %w", err)
	}
	if err := g.state.Set(cooldownNamespace, cooldownKey(role, issueID), string(data)); err != nil {
		return fmt.Errorf("policy: save cooldown: %w", err)
	}
	return nil
}
