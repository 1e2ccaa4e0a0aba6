// Package redisrelay carries meeting relay traffic over Redis pub/sub.
package redisrelay

import (
	"context"
	"fmt"
	"sync"

	"github.com/koscakluka/ema-live/core/relay"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const scopeName = "github.com/koscakluka/ema-live/core/relay/redisrelay"

var (
	tracer = otel.Tracer(scopeName)
	logger = otelslog.NewLogger(scopeName)
)

const DefaultPrefix = "ema-live"

// Transport publishes each meeting on its own Redis channel. Redis delivers
// a message to its publisher too; relay.Bridge filters those out.
type Transport struct {
	client *redis.Client
	prefix string
}

type Option func(*Transport)

// WithPrefix sets the channel name prefix. Default is "ema-live".
func WithPrefix(prefix string) Option {
	return func(t *Transport) { t.prefix = prefix }
}

func NewTransport(client *redis.Client, opts ...Option) *Transport {
	t := &Transport{client: client, prefix: DefaultPrefix}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ChannelName returns the Redis channel used for meetingID.
func (t *Transport) ChannelName(meetingID string) string {
	return fmt.Sprintf("%s:meeting:%s", t.prefix, meetingID)
}

func (t *Transport) Open(ctx context.Context, meetingID string) (relay.Channel, error) {
	name := t.ChannelName(meetingID)
	ctx, span := tracer.Start(ctx, "subscribe redis relay")
	defer span.End()
	span.SetAttributes(attribute.String("relay.channel", name))

	pubsub := t.client.Subscribe(ctx, name)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to subscribe")
		return nil, fmt.Errorf("failed to subscribe to %s: %w", name, err)
	}
	return &channel{client: t.client, pubsub: pubsub, name: name}, nil
}

type channel struct {
	client    *redis.Client
	pubsub    *redis.PubSub
	name      string
	closeOnce sync.Once
}

func (c *channel) Publish(ctx context.Context, payload []byte) error {
	return c.client.Publish(ctx, c.name, payload).Err()
}

func (c *channel) Receive() ([]byte, error) {
	msg, err := c.pubsub.ReceiveMessage(context.Background())
	if err != nil {
		return nil, err
	}
	return []byte(msg.Payload), nil
}

func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		if err = c.pubsub.Close(); err != nil {
			logger.Debug("failed to close redis subscription", "channel", c.name, "error", err)
		}
	})
	return err
}
