package watch

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/indenscale/monoco/internal/bus"
)

// issueFrontMatter is the subset of an issue file's YAML header the
// watcher cares about.
type issueFrontMatter struct {
	ID    string `yaml:"id"`
	Stage string `yaml:"stage"`
}

type issueState struct {
	hash  string
	stage string
	id    string
}

// IssueWatcher walks Issues/** tracking a content hash per file, and
// emits ISSUE_CREATED / ISSUE_STAGE_CHANGED as files are added or their
// `stage` front-matter field changes.
type IssueWatcher struct {
	bus    *bus.Bus
	logger *slog.Logger
	root   string

	mu    sync.Mutex
	known map[string]issueState
}

// NewIssueWatcher constructs an IssueWatcher rooted at workspaceDir/Issues.
func NewIssueWatcher(b *bus.Bus, logger *slog.Logger, workspaceDir string) *IssueWatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &IssueWatcher{
		bus:    b,
		logger: logger,
		root:   filepath.Join(workspaceDir, "Issues"),
		known:  make(map[string]issueState),
	}
}

// Iterate walks the issue tree once, diffing content hashes against the
// previous pass.
func (w *IssueWatcher) Iterate(_ context.Context) error {
	seen := make(map[string]bool)

	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || filepath.Ext(path) != ".md" {
			return nil
		}
		seen[path] = true
		w.processFile(path)
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("walk issues tree: %w", err)
	}

	w.reapDeleted(seen)
	return nil
}

func (w *IssueWatcher) processFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		w.logger.Warn("issue watcher: read failed", "path", path, "error", err)
		return
	}

	hash := HashBytes(data)

	w.mu.Lock()
	prev, existed := w.known[path]
	w.mu.Unlock()
	if existed && prev.hash == hash {
		return
	}

	var fm issueFrontMatter
	if _, err := unmarshalFrontMatter(data, &fm); err != nil {
		w.logger.Warn("issue watcher: malformed front matter", "path", path, "error", err)
		return
	}
	if fm.ID == "" {
		fm.ID = strings.TrimSuffix(filepath.Base(path), ".md")
	}

	next := issueState{hash: hash, stage: fm.Stage, id: fm.ID}
	w.mu.Lock()
	w.known[path] = next
	w.mu.Unlock()

	if !existed {
		w.bus.Publish(bus.IssueCreated, map[string]any{
			"issue_id": fm.ID,
			"path":     path,
			"stage":    fm.Stage,
		}, "")
		return
	}

	if prev.stage != fm.Stage {
		w.bus.Publish(bus.IssueStageChanged, map[string]any{
			"issue_id":   fm.ID,
			"from_stage": prev.stage,
			"to_stage":   fm.Stage,
		}, "")
	}
}

func (w *IssueWatcher) reapDeleted(seen map[string]bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for path, st := range w.known {
		if seen[path] {
			continue
		}
		delete(w.known, path)
		if st.stage == "closed" {
			continue // silent, per spec
		}
		w.logger.Warn("issue file removed while not closed", "issue_id", st.id, "path", path, "stage", st.stage)
	}
}
