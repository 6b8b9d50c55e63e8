package mailbox

import (
	"context"
	"log/slog"

	"github.com/indenscale/monoco/internal/bus"
)

// ProviderSender delivers one outbound envelope through a specific
// external channel (SMTP, MQTT, ...). Implementations are registered
// with a Courier keyed by provider name.
type ProviderSender interface {
	Send(ctx context.Context, env Envelope) error
}

// Courier drives outbound delivery: for each provider with a registered
// ProviderSender, it claims pending outbound messages one at a time and
// hands them to the sender, archiving on success and restoring (with an
// incremented retry counter) on failure.
type Courier struct {
	store   *Store
	senders map[string]ProviderSender
	bus     *bus.Bus
	logger  *slog.Logger
}

// NewCourier constructs a Courier over store, publishing delivery
// lifecycle events on b.
func NewCourier(store *Store, b *bus.Bus, logger *slog.Logger) *Courier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Courier{store: store, senders: make(map[string]ProviderSender), bus: b, logger: logger}
}

// Register associates a ProviderSender with a provider name.
func (c *Courier) Register(provider string, sender ProviderSender) {
	c.senders[provider] = sender
}

// DeliverOnce claims and attempts delivery of every pending outbound
// message across all registered providers. Intended to be called from a
// Supervisor-style poll loop, same as the filesystem watchers.
func (c *Courier) DeliverOnce(ctx context.Context) error {
	for provider, sender := range c.senders {
		pending, err := c.store.ListOutboundPending(provider)
		if err != nil {
			c.logger.Warn("courier: list outbound failed", "provider", provider, "error", err)
			continue
		}
		for _, path := range pending {
			c.deliver(ctx, provider, sender, path)
		}
	}
	return nil
}

func (c *Courier) deliver(ctx context.Context, provider string, sender ProviderSender, path string) {
	c.bus.Publish(bus.MailboxOutboundRequest, map[string]any{"provider": provider, "path": path}, "")

	handle, err := c.store.ClaimOutbound(path)
	if err != nil {
		c.logger.Warn("courier: claim failed", "provider", provider, "path", path, "error", err)
		return
	}

	sendErr := sender.Send(ctx, handle.Envelope)
	if releaseErr := c.store.ReleaseOutbound(handle, sendErr == nil); releaseErr != nil {
		c.logger.Error("courier: release failed", "provider", provider, "path", path, "error", releaseErr)
	}

	if sendErr != nil {
		c.logger.Warn("courier: delivery failed, will retry", "provider", provider, "path", path,
			"attempt", handle.Envelope.RetryCount+1, "error", sendErr)
		return
	}
	c.logger.Info("courier: delivered", "provider", provider, "envelope_id", handle.Envelope.ID)
}
