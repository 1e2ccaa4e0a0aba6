package orchestration

import (
	"context"
	"fmt"

	"github.com/koscakluka/ema-live/core/relay"
)

// broadcast shares text with the bound meeting.
func (c *Console) broadcast(ctx context.Context, text string) error {
	if c.relay == nil {
		return relay.ErrNotBound
	}
	return c.relay.Publish(ctx, relay.Message{
		Type:      relay.TypeChat,
		Text:      text,
		Mode:      string(c.Mode()),
		Timestamp: c.now().UnixMilli(),
	})
}

// remotePrompt handles a message from another meeting participant. Stale
// messages are dropped; accepted ones become user turns and are forwarded
// to the engine.
func (c *Console) remotePrompt(msg relay.Message) {
	if !c.turns.AcceptRemote(msg.Text, msg.Timestamp) {
		return
	}
	c.goWorker("remote prompt", func(ctx context.Context) error {
		if err := c.ensureConnected(ctx); err != nil {
			return fmt.Errorf("failed to connect for remote prompt: %w", err)
		}
		return c.session.SendText([]string{msg.Text}, true)
	})
}
