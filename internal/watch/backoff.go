// Package watch implements the FilesystemWatcher set (C5): the memo
// inbox watcher, the issue-directory watcher, and the mailbox inbound
// watcher. Each runs as an independent cooperative loop supervised by
// a Supervisor that restarts a failing loop with exponential backoff,
// generalizing the daemon's connection-watch primitive from "probe a
// remote service" to "run one watcher iteration".
package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// IterateFunc runs one watcher pass (a poll cycle or a native-event
// batch). A non-nil error marks the watcher degraded for this pass;
// the Supervisor backs off before retrying.
type IterateFunc func(ctx context.Context) error

// BackoffConfig controls how a Supervisor retries a failing watcher.
type BackoffConfig struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultBackoffConfig returns 1s, 2s, 4s, 8s... capped at 30s, the
// schedule named in spec.md §7 for watcher restarts.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
	}
}

// SupervisorConfig configures one supervised watcher loop.
type SupervisorConfig struct {
	Name     string
	Iterate  IterateFunc
	Interval time.Duration // steady-state delay between successful passes
	Backoff  BackoffConfig

	// OnDegraded/OnRecovered fire on a ready<->degraded transition, in a
	// separate goroutine. Either may be nil.
	OnDegraded  func(err error)
	OnRecovered func()

	// Kick, if non-nil, lets a native filesystem watcher wake the
	// steady-state wait early instead of waiting out the full Interval.
	// The poll Interval remains in effect regardless, so the watcher
	// still makes progress when Kick is nil or never fires (network
	// filesystems without inotify support).
	Kick <-chan struct{}

	Logger *slog.Logger
}

// Supervisor runs one IterateFunc in a loop, backing off exponentially
// after consecutive failures and resuming the steady-state interval
// once an iteration succeeds again.
type Supervisor struct {
	cfg SupervisorConfig

	mu      sync.Mutex
	ready   bool
	lastErr error
}

// NewSupervisor constructs a Supervisor; zero-value Backoff/Interval
// fields are replaced with defaults.
func NewSupervisor(cfg SupervisorConfig) *Supervisor {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	defaults := DefaultBackoffConfig()
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = defaults.InitialDelay
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = defaults.MaxDelay
	}
	if cfg.Backoff.Multiplier <= 0 {
		cfg.Backoff.Multiplier = defaults.Multiplier
	}
	return &Supervisor{cfg: cfg, ready: true}
}

// Ready reports whether the watcher's most recent pass succeeded.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// LastError returns the error from the most recent failing pass, or
// nil if the watcher is currently healthy.
func (s *Supervisor) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Run blocks, iterating until ctx is cancelled.
func (s *Supervisor) Run(ctx context.Context) {
	delay := s.cfg.Backoff.InitialDelay
	for {
		err := s.cfg.Iterate(ctx)
		s.recordResult(err)

		if err != nil {
			s.cfg.Logger.Warn("watcher pass failed, backing off",
				"watcher", s.cfg.Name, "next_delay", delay.String(), "error", err)
			if !sleepCtx(ctx, delay) {
				return
			}
			delay = time.Duration(float64(delay) * s.cfg.Backoff.Multiplier)
			if delay > s.cfg.Backoff.MaxDelay {
				delay = s.cfg.Backoff.MaxDelay
			}
			continue
		}

		delay = s.cfg.Backoff.InitialDelay
		if !s.waitNextPass(ctx) {
			return
		}
	}
}

// waitNextPass waits for the steady-state interval to elapse, or for a
// native-watch kick to arrive, whichever comes first. Returns false if
// ctx was cancelled.
func (s *Supervisor) waitNextPass(ctx context.Context) bool {
	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	case <-s.cfg.Kick:
		return true
	}
}

func (s *Supervisor) recordResult(err error) {
	s.mu.Lock()
	wasReady := s.ready
	s.ready = err == nil
	s.lastErr = err
	s.mu.Unlock()

	if wasReady && err != nil && s.cfg.OnDegraded != nil {
		go s.cfg.OnDegraded(err)
	} else if !wasReady && err == nil && s.cfg.OnRecovered != nil {
		go s.cfg.OnRecovered()
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
