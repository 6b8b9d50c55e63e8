package email

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/indenscale/monoco/internal/mailbox"
	"github.com/indenscale/monoco/internal/opstate"
)

// pollNamespace is the opstate namespace for email polling state.
const pollNamespace = "email_poll"

// Poller checks the configured email account for new messages by
// comparing IMAP UIDs against a persisted high-water mark, and bridges
// each new message into the mailbox store as an inbound envelope. It is
// not a tool — it runs as infrastructure code driven by a Supervisor
// iteration, the same pattern as the filesystem watchers.
type Poller struct {
	client *Client
	acct   AccountConfig
	store  *mailbox.Store
	state  *opstate.Store
	logger *slog.Logger
}

// NewPoller creates an email poller over client, tracking state in the
// provided opstate store and bridging new messages into store.
func NewPoller(client *Client, acct AccountConfig, store *mailbox.Store, state *opstate.Store, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Poller{client: client, acct: acct, store: store, state: state, logger: logger}
}

// Iterate is the IterateFunc the mailbox provider is supervised under:
// one pass checks for new INBOX messages and writes each as an inbound
// mailbox envelope.
func (p *Poller) Iterate(ctx context.Context) error {
	_, err := p.checkAccount(ctx)
	return err
}

// checkAccount checks the account's configured mailbox folder for
// messages newer than the stored high-water mark, writing each as an
// inbound envelope. Returns the number of envelopes written.
//
// On first run (no stored high-water mark), the current highest UID is
// recorded silently without ingesting it — this prevents flooding the
// scheduler with the entire inbox on initial deployment.
func (p *Poller) checkAccount(ctx context.Context) (int, error) {
	folder := p.acct.IMAP.Mailbox
	if folder == "" {
		folder = "INBOX"
	}
	stateKey := folder

	storedStr, err := p.state.Get(pollNamespace, stateKey)
	if err != nil {
		return 0, fmt.Errorf("get high-water mark %q: %w", stateKey, err)
	}

	var storedUID uint64
	if storedStr == "" {
		envelopes, err := p.client.ListMessages(ctx, ListOptions{Folder: folder, Limit: 1})
		if err != nil {
			return 0, fmt.Errorf("seed list: %w", err)
		}
		if len(envelopes) == 0 {
			return 0, nil
		}
		seedUID := envelopes[0].UID
		p.logger.Info("email poll first run, seeding high-water mark", "uid", seedUID)
		if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(seedUID), 10)); err != nil {
			return 0, fmt.Errorf("seed high-water mark %q: %w", stateKey, err)
		}
		return 0, nil
	}

	storedUID, err = strconv.ParseUint(storedStr, 10, 32)
	if err != nil {
		p.logger.Warn("corrupt high-water mark, reseeding", "stored", storedStr)
		envelopes, listErr := p.client.ListMessages(ctx, ListOptions{Folder: folder, Limit: 1})
		if listErr != nil {
			return 0, fmt.Errorf("reseed list: %w", listErr)
		}
		if len(envelopes) > 0 {
			if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(uint64(envelopes[0].UID), 10)); err != nil {
				return 0, fmt.Errorf("reseed high-water mark %q: %w", stateKey, err)
			}
		}
		return 0, nil
	}

	newMessages, err := p.client.ListMessages(ctx, ListOptions{Folder: folder, SinceUID: uint32(storedUID)})
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	if len(newMessages) == 0 {
		return 0, nil
	}

	if err := p.advanceHighWaterMark(stateKey, storedUID, newMessages); err != nil {
		return 0, err
	}

	newMessages = p.filterSelfSent(newMessages)

	count := 0
	for _, env := range newMessages {
		full, err := p.client.ReadMessage(ctx, folder, env.UID)
		if err != nil {
			p.logger.Warn("email poll: read message failed", "uid", env.UID, "error", err)
			continue
		}
		if _, err := p.ingest(full); err != nil {
			p.logger.Warn("email poll: ingest failed", "uid", env.UID, "error", err)
			continue
		}
		count++
	}
	return count, nil
}

// ingest writes a fetched email message as an inbound mailbox envelope.
func (p *Poller) ingest(msg *Message) (string, error) {
	body := msg.TextBody
	if body == "" {
		body = msg.HTMLBody
	}
	return p.store.CreateInbound("email", mailbox.Envelope{
		Session:   mailbox.SessionRef{ID: threadSessionID(msg), Type: "email"},
		ThreadKey: msg.Subject,
		ParentID:  lastOrEmpty(msg.InReplyTo),
		Type:      "text",
		Participants: mailbox.Participants{
			Sender: mailbox.Person{ID: extractAddress(msg.From)},
		},
		ReplyTo: msg.ReplyTo,
		To:      msg.To,
		Body:    body,
	})
}

// threadSessionID groups a message with its thread using the earliest
// Message-ID in its References chain, falling back to its own
// Message-ID for a thread's first message.
func threadSessionID(msg *Message) string {
	if len(msg.References) > 0 {
		return msg.References[0]
	}
	return msg.MessageID
}

func lastOrEmpty(ss []string) string {
	if len(ss) == 0 {
		return ""
	}
	return ss[len(ss)-1]
}

// filterSelfSent removes messages where From matches the account's
// configured From address. This prevents the agent from ingesting its
// own outbound replies that appear in INBOX (Bcc-to-self, server-side
// sent copies).
func (p *Poller) filterSelfSent(messages []Envelope) []Envelope {
	if p.acct.DefaultFrom == "" {
		return messages
	}
	ownAddr := strings.ToLower(extractAddress(p.acct.DefaultFrom))
	filtered := make([]Envelope, 0, len(messages))
	for _, env := range messages {
		if strings.ToLower(extractAddress(env.From)) == ownAddr {
			p.logger.Debug("skipping self-sent message", "uid", env.UID, "subject", env.Subject)
			continue
		}
		filtered = append(filtered, env)
	}
	return filtered
}

// advanceHighWaterMark updates the stored high-water mark to the highest
// UID found in the result set, but never decreases it.
func (p *Poller) advanceHighWaterMark(stateKey string, currentMark uint64, allNew []Envelope) error {
	var highest uint64
	for _, env := range allNew {
		if uint64(env.UID) > highest {
			highest = uint64(env.UID)
		}
	}
	if highest <= currentMark {
		return nil
	}
	if err := p.state.Set(pollNamespace, stateKey, strconv.FormatUint(highest, 10)); err != nil {
		return fmt.Errorf("update high-water mark %q: %w", stateKey, err)
	}
	return nil
}
