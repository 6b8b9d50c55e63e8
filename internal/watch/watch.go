package watch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/indenscale/monoco/internal/bus"
)

// Config configures the Set.
type Config struct {
	WorkspaceDir string // repo root containing Memos/ and Issues/
	DataDir      string // .monoco root containing mailbox/

	PollInterval time.Duration
	MemoThreshold int

	// MailboxDebounce maps provider name to its quiescence window
	// (e.g. {"email": 0, "mqtt": 30 * time.Second}).
	MailboxDebounce map[string]time.Duration
}

// Set runs the three FilesystemWatcher (C5) loops: memo, issue, and
// mailbox inbound. Each runs under its own Supervisor, so one watcher's
// repeated failure (a Memos/ directory briefly unmounted, say) never
// stops the others.
type Set struct {
	Memo    *MemoWatcher
	Issue   *IssueWatcher
	Mailbox *MailboxWatcher

	supervisors []*Supervisor
	stopNative  []func()

	wg sync.WaitGroup
}

// NewSet constructs the watcher set, wiring SCHEDULER_WATCHER_DEGRADED
// and SCHEDULER_WATCHER_RECOVERED onto the bus for each watcher.
func NewSet(b *bus.Bus, logger *slog.Logger, cfg Config) *Set {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}

	s := &Set{
		Memo:    NewMemoWatcher(b, cfg.WorkspaceDir, cfg.MemoThreshold),
		Issue:   NewIssueWatcher(b, logger, cfg.WorkspaceDir),
		Mailbox: NewMailboxWatcher(b, logger, cfg.DataDir, cfg.MailboxDebounce),
	}

	watched := []struct {
		name    string
		root    string
		iterate IterateFunc
	}{
		{"memo", cfg.WorkspaceDir, s.Memo.Iterate},
		{"issue", cfg.WorkspaceDir, s.Issue.Iterate},
		{"mailbox", cfg.DataDir, s.Mailbox.Iterate},
	}

	for _, wd := range watched {
		name := wd.name
		kick, stop, err := WatchNative(wd.root, logger)
		if err != nil {
			logger.Warn("native watch unavailable, falling back to polling only", "watcher", name, "error", err)
			kick = nil
		} else {
			s.stopNative = append(s.stopNative, stop)
		}

		sup := NewSupervisor(SupervisorConfig{
			Name:     name,
			Iterate:  wd.iterate,
			Interval: cfg.PollInterval,
			Kick:     kick,
			Logger:   logger,
			OnDegraded: func(err error) {
				b.Publish(bus.SchedulerWatcherDegraded, map[string]any{"watcher": name, "error": err.Error()}, "")
			},
			OnRecovered: func() {
				b.Publish(bus.SchedulerWatcherRecovered, map[string]any{"watcher": name}, "")
			},
		})
		s.supervisors = append(s.supervisors, sup)
	}

	return s
}

// Start launches every watcher's Supervisor loop in its own goroutine.
// Stop (via ctx cancellation) and Wait block until all have exited.
func (s *Set) Start(ctx context.Context) {
	for _, sup := range s.supervisors {
		s.wg.Add(1)
		go func(sup *Supervisor) {
			defer s.wg.Done()
			sup.Run(ctx)
		}(sup)
	}
}

// Wait blocks until every watcher goroutine has exited (after ctx
// cancellation) and stops the native fsnotify watches.
func (s *Set) Wait() {
	s.wg.Wait()
	for _, stop := range s.stopNative {
		stop()
	}
}

// Health reports each watcher's Supervisor status, for /healthz.
func (s *Set) Health() map[string]bool {
	out := make(map[string]bool, len(s.supervisors))
	for _, sup := range s.supervisors {
		out[sup.cfg.Name] = sup.Ready()
	}
	return out
}
