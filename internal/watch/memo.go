package watch

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"golang.org/x/crypto/blake2b"

	"github.com/indenscale/monoco/internal/bus"
)

// MemoEntry is one `## [hash]` block parsed out of Memos/inbox.md.
type MemoEntry struct {
	Hash string `json:"hash"`
	Body string `json:"body"`
	Raw  string `json:"-"` // original markdown including the heading line
}

// SplitMemoEntries parses inbox.md content into its constituent entries,
// each introduced by a level-2 heading of the form `## [hash]`. Content
// before the first such heading is ignored (front matter, stray notes).
func SplitMemoEntries(data []byte) []MemoEntry {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(data))

	var entries []MemoEntry
	var cur *MemoEntry
	var bodyStart, rawStart int

	flush := func(end int) {
		if cur == nil {
			return
		}
		cur.Body = strings.TrimSpace(string(data[bodyStart:end]))
		cur.Raw = string(data[rawStart:end])
		entries = append(entries, *cur)
		cur = nil
	}

	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if h, ok := n.(*ast.Heading); ok && h.Level == 2 {
			// Lines() starts after the "## " marker; cut at the start of
			// the heading line so the marker stays with this entry.
			lineStart := bytes.LastIndexByte(data[:n.Lines().At(0).Start], '\n') + 1
			flush(lineStart)
			title := strings.TrimSpace(extractText(h, data))
			hash := strings.Trim(title, "[]")
			cur = &MemoEntry{Hash: hash}
			rawStart = lineStart
			if lines := n.Lines(); lines.Len() > 0 {
				bodyStart = lines.At(lines.Len() - 1).Stop
			}
			continue
		}
	}
	flush(len(data))
	return entries
}

func extractText(n ast.Node, source []byte) string {
	var sb strings.Builder
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if t, ok := c.(*ast.Text); ok {
			sb.Write(t.Segment.Value(source))
		}
	}
	return sb.String()
}

// HashBytes returns the blake2b-256 content hash used throughout the
// watcher set for change detection (issue files, memo batches).
func HashBytes(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoWatcher watches Memos/inbox.md for non-whitespace growth and
// publishes MEMO_THRESHOLD once the unprocessed entry count reaches the
// configured threshold. It never edits inbox.md itself; consumption
// (archiving processed entries) is the Architect handler's job, done
// through ArchiveMemos after the handler's session completes.
type MemoWatcher struct {
	bus       *bus.Bus
	inboxPath string
	threshold int

	lastHash string
}

// NewMemoWatcher constructs a MemoWatcher rooted at workspaceDir/Memos/inbox.md.
func NewMemoWatcher(b *bus.Bus, workspaceDir string, threshold int) *MemoWatcher {
	if threshold <= 0 {
		threshold = 5
	}
	return &MemoWatcher{
		bus:       b,
		inboxPath: filepath.Join(workspaceDir, "Memos", "inbox.md"),
		threshold: threshold,
	}
}

// Iterate is the Supervisor-driven pass: re-read inbox.md, and if its
// content changed and the entry count has reached the threshold,
// publish MEMO_THRESHOLD with the parsed entries.
func (w *MemoWatcher) Iterate(_ context.Context) error {
	data, err := os.ReadFile(w.inboxPath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read memo inbox: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	hash := HashBytes(data)
	if hash == w.lastHash {
		return nil
	}
	w.lastHash = hash

	entries := SplitMemoEntries(data)
	if len(entries) < w.threshold {
		return nil
	}

	payload := make([]map[string]any, len(entries))
	for i, e := range entries {
		payload[i] = map[string]any{"hash": e.Hash, "body": e.Body}
	}
	w.bus.Publish(bus.MemoThreshold, map[string]any{
		"entries": payload,
		"count":   len(entries),
	}, "")
	return nil
}

// ArchiveMemos moves the consumed entries to Memos/.archive/inbox-{ts}.md
// and rewrites inbox.md to contain only the remaining entries (those
// not part of the consumed batch). This is the "archive, not truncate"
// resolution: a full audit trail survives under .archive while the
// threshold count for the next batch starts from the entries still
// pending. Callers pass the full current entry set and the subset
// consumed by the completed Architect session.
func ArchiveMemos(workspaceDir string, all []MemoEntry, consumed []MemoEntry, now time.Time) error {
	consumedHashes := make(map[string]bool, len(consumed))
	for _, e := range consumed {
		consumedHashes[e.Hash] = true
	}

	var archived, remaining []string
	for _, e := range all {
		if consumedHashes[e.Hash] {
			archived = append(archived, fmt.Sprintf("## [%s]\n\n%s\n", e.Hash, e.Body))
		} else {
			remaining = append(remaining, fmt.Sprintf("## [%s]\n\n%s\n", e.Hash, e.Body))
		}
	}
	if len(archived) == 0 {
		return nil
	}

	archiveDir := filepath.Join(workspaceDir, "Memos", ".archive")
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create memo archive dir: %w", err)
	}
	archivePath := filepath.Join(archiveDir, fmt.Sprintf("inbox-%s.md", now.UTC().Format("20060102T150405")))
	if err := writeAtomic(archivePath, []byte(strings.Join(archived, "\n"))); err != nil {
		return fmt.Errorf("write memo archive: %w", err)
	}

	inboxPath := filepath.Join(workspaceDir, "Memos", "inbox.md")
	if err := writeAtomic(inboxPath, []byte(strings.Join(remaining, "\n"))); err != nil {
		return fmt.Errorf("truncate memo inbox: %w", err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
