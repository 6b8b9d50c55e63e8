// Package mailbox implements the MailboxStore (C6): atomic, Maildir-style
// read/write of provider-partitioned message directories under
// .monoco/mailbox/, plus the Courier that drives outbound delivery
// through provider adapters. Ingress adapters (IMAP, MQTT) write inbound
// envelopes here; the FilesystemWatcher set picks them up independently.
// Files in inbound/ are immutable once committed — every state change
// after that is a directory move, never an in-place edit.
package mailbox

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Person identifies one participant in a conversation.
type Person struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name,omitempty"`
}

// SessionRef groups messages belonging to one external conversation.
type SessionRef struct {
	ID   string `yaml:"id,omitempty"`
	Type string `yaml:"type,omitempty"`
}

// Participants records who sent a message and who else is party to it.
type Participants struct {
	Sender     Person   `yaml:"sender"`
	Recipients []Person `yaml:"recipients,omitempty"`
	CC         []Person `yaml:"cc,omitempty"`
	Mentions   []string `yaml:"mentions,omitempty"`
}

// Correlation spans a chain of tasks triggered transitively by one
// external message.
type Correlation struct {
	CorrelationID string `yaml:"correlation_id,omitempty"`
}

// Envelope is the front-matter header of one mailbox message file. Body
// holds the message text that follows the header and is not part of the
// YAML document itself.
type Envelope struct {
	ID           string       `yaml:"id"`
	Provider     string       `yaml:"provider"`
	Session      SessionRef   `yaml:"session,omitempty"`
	ThreadKey    string       `yaml:"thread_key,omitempty"`
	ParentID     string       `yaml:"parent_id,omitempty"`
	RootID       string       `yaml:"root_id,omitempty"`
	Timestamp    time.Time    `yaml:"timestamp"`
	Type         string       `yaml:"type"`
	Participants Participants `yaml:"participants"`
	Artifacts    []string     `yaml:"artifacts,omitempty"`
	Correlation  Correlation  `yaml:"correlation,omitempty"`
	ReplyTo      string       `yaml:"reply_to,omitempty"`
	To           []string     `yaml:"to,omitempty"`
	RetryCount   int          `yaml:"x-retry-count,omitempty"`

	Body string `yaml:"-"`
}

const (
	stateInbound  = "inbound"
	stateOutbound = "outbound"
	stateArchive  = "archive"
	stateRejected = "_rejected"
	stateSending  = ".sending"
)

// Store holds the root of the .monoco/mailbox/ directory tree and
// provides atomic operations on the messages beneath it.
type Store struct {
	root string // dataDir/mailbox
}

// NewStore returns a Store rooted at dataDir/mailbox. Directories are
// created lazily, per provider, on first write.
func NewStore(dataDir string) *Store {
	return &Store{root: filepath.Join(dataDir, "mailbox")}
}

// InboundDir returns the inbound directory for provider.
func (s *Store) InboundDir(provider string) string {
	return filepath.Join(s.root, stateInbound, provider)
}

// OutboundDir returns the outbound directory for provider.
func (s *Store) OutboundDir(provider string) string {
	return filepath.Join(s.root, stateOutbound, provider)
}

// ArchiveDir returns the archive directory for provider.
func (s *Store) ArchiveDir(provider string) string {
	return filepath.Join(s.root, stateArchive, provider)
}

// RejectedDir returns the _rejected directory for provider.
func (s *Store) RejectedDir(provider string) string {
	return filepath.Join(s.root, stateRejected, provider)
}

// SendingDir returns the .sending claim directory for provider.
func (s *Store) SendingDir(provider string) string {
	return filepath.Join(s.root, stateSending, provider)
}

// filename builds the on-disk name for an envelope: a sortable
// ISO8601-compact timestamp, the provider, and a short unique suffix so
// two messages arriving in the same second never collide.
func filename(provider string, ts time.Time) string {
	return fmt.Sprintf("%s_%s_%s.md", ts.UTC().Format("20060102T150405.000000Z"), provider, uuid.New().String()[:8])
}

// encode renders an envelope and body as a front-matter document.
func encode(env Envelope) ([]byte, error) {
	header, err := yaml.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("mailbox: marshal envelope: %w", err)
	}
	var sb strings.Builder
	sb.WriteString("---\n")
	sb.Write(header)
	sb.WriteString("---\n")
	sb.WriteString(env.Body)
	return []byte(sb.String()), nil
}

// decode splits a message file into its envelope and body.
func decode(data []byte) (Envelope, error) {
	const delim = "---\n"
	if !strings.HasPrefix(string(data), delim) {
		return Envelope{}, fmt.Errorf("mailbox: missing front-matter delimiter")
	}
	rest := string(data)[len(delim):]
	idx := strings.Index(rest, "\n"+delim)
	if idx < 0 {
		return Envelope{}, fmt.Errorf("mailbox: unterminated front-matter")
	}
	header := rest[:idx+1]
	body := rest[idx+1+len(delim):]

	var env Envelope
	if err := yaml.Unmarshal([]byte(header), &env); err != nil {
		return Envelope{}, fmt.Errorf("mailbox: parse envelope: %w", err)
	}
	env.Body = body
	return env, nil
}

// writeAtomic writes data to a temp file in dir and renames it into
// place, so a concurrent reader never observes a partially written
// message.
func writeAtomic(dir, name string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mailbox: create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, name)
	tmp := dest + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("mailbox: write temp file: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("mailbox: rename into place: %w", err)
	}
	return dest, nil
}

// CreateInbound writes a new inbound message for provider, assigning ID
// and Timestamp if unset. Returns the path the ingress adapter's caller
// (the mailbox watcher) will observe.
func (s *Store) CreateInbound(provider string, env Envelope) (string, error) {
	env.Provider = provider
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	data, err := encode(env)
	if err != nil {
		return "", err
	}
	return writeAtomic(s.InboundDir(provider), filename(provider, env.Timestamp), data)
}

// RejectInbound moves a malformed inbound file to the provider's
// _rejected directory, for operator review.
func (s *Store) RejectInbound(provider, path string) (string, error) {
	dir := s.RejectedDir(provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mailbox: create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("mailbox: reject move: %w", err)
	}
	return dest, nil
}

// MoveToArchive moves any mailbox message (inbound or outbound) to the
// archive directory for its provider, preserving the filename. The
// provider is inferred from path's parent directory.
func (s *Store) MoveToArchive(path string) (string, error) {
	provider := filepath.Base(filepath.Dir(path))
	dir := s.ArchiveDir(provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mailbox: create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return "", fmt.Errorf("mailbox: archive move: %w", err)
	}
	return dest, nil
}

// CreateOutbound writes a new outbound message awaiting delivery by the
// Courier.
func (s *Store) CreateOutbound(provider string, env Envelope) (string, error) {
	env.Provider = provider
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}
	data, err := encode(env)
	if err != nil {
		return "", err
	}
	return writeAtomic(s.OutboundDir(provider), filename(provider, env.Timestamp), data)
}

// Handle identifies one outbound message claimed for delivery.
type Handle struct {
	Provider     string
	OriginalName string
	ClaimedPath  string
	Envelope     Envelope
}

// ClaimOutbound renames an outbound file into the provider's .sending
// directory so concurrent Courier instances cannot double-deliver it,
// and returns the parsed envelope plus a handle for ReleaseOutbound.
func (s *Store) ClaimOutbound(path string) (Handle, error) {
	provider := filepath.Base(filepath.Dir(path))
	dir := s.SendingDir(provider)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Handle{}, fmt.Errorf("mailbox: create %s: %w", dir, err)
	}
	name := filepath.Base(path)
	claimed := filepath.Join(dir, name)
	if err := os.Rename(path, claimed); err != nil {
		return Handle{}, fmt.Errorf("mailbox: claim move: %w", err)
	}

	data, err := os.ReadFile(claimed)
	if err != nil {
		return Handle{}, fmt.Errorf("mailbox: read claimed message: %w", err)
	}
	env, err := decode(data)
	if err != nil {
		return Handle{}, fmt.Errorf("mailbox: decode claimed message: %w", err)
	}

	return Handle{Provider: provider, OriginalName: name, ClaimedPath: claimed, Envelope: env}, nil
}

// ReleaseOutbound finishes a claim started by ClaimOutbound. On success
// the message is archived. On failure it is restored to outbound/ with
// its retry counter incremented.
func (s *Store) ReleaseOutbound(h Handle, success bool) error {
	if success {
		_, err := s.MoveToArchive(h.ClaimedPath)
		return err
	}

	h.Envelope.RetryCount++
	data, err := encode(h.Envelope)
	if err != nil {
		return err
	}
	if _, err := writeAtomic(s.OutboundDir(h.Provider), h.OriginalName, data); err != nil {
		return err
	}
	return os.Remove(h.ClaimedPath)
}

// ReadEnvelope reads and parses the message at path.
func (s *Store) ReadEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, fmt.Errorf("mailbox: read %s: %w", path, err)
	}
	return decode(data)
}

// ListProviders returns the provider subdirectories present under the
// given state directory (e.g. s.root+"/inbound").
func ListProviders(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(stateDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			names = append(names, e.Name())
		}
	}
	return names, nil
}

// ListOutboundProviders returns provider subdirectories under outbound/.
func (s *Store) ListOutboundProviders() ([]string, error) {
	return ListProviders(filepath.Join(s.root, stateOutbound))
}

// ListOutboundPending returns the full paths of outbound messages
// waiting to be claimed for the given provider, oldest first (the
// filename's leading timestamp makes lexical order chronological).
func (s *Store) ListOutboundPending(provider string) ([]string, error) {
	dir := s.OutboundDir(provider)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	return paths, nil
}
