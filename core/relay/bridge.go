package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultBackoffBase = 250 * time.Millisecond
	DefaultBackoffMax  = 10 * time.Second
)

// Bridge keeps one meeting binding alive over a Transport, reconnecting
// with exponential backoff whenever the channel drops.
//
// Delivery is at-least-once at best and may be reordered; subscribers
// deduplicate by Message.Timestamp.
type Bridge struct {
	transport   Transport
	clientID    string
	backoffBase time.Duration
	backoffMax  time.Duration

	mu      sync.Mutex
	binding *binding
	closed  bool

	handlersMu sync.Mutex
	handlers   map[uint64]func(Message)
	nextID     uint64

	deliveryErrors metric.Int64Counter
	received       metric.Int64Counter
}

type binding struct {
	meetingID string
	cancel    context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	channel Channel
}

func (b *binding) current() Channel {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channel
}

func (b *binding) set(ch Channel) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channel = ch
}

type BridgeOption func(*Bridge)

// WithBackoff sets the reconnection backoff curve.
func WithBackoff(base, max time.Duration) BridgeOption {
	return func(b *Bridge) {
		if base > 0 {
			b.backoffBase = base
		}
		if max > 0 {
			b.backoffMax = max
		}
	}
}

// WithClientID sets the id used to recognize this bridge's own messages.
func WithClientID(id string) BridgeOption {
	return func(b *Bridge) { b.clientID = id }
}

func NewBridge(transport Transport, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		transport:   transport,
		clientID:    uuid.NewString(),
		backoffBase: DefaultBackoffBase,
		backoffMax:  DefaultBackoffMax,
		handlers:    map[uint64]func(Message){},
	}
	for _, opt := range opts {
		opt(b)
	}

	var err error
	if b.deliveryErrors, err = meter.Int64Counter("relay.delivery_errors",
		metric.WithDescription("Relay messages that could not be published"),
	); err != nil {
		logger.Warn("failed to create delivery error counter", "error", err)
	}
	if b.received, err = meter.Int64Counter("relay.messages_received",
		metric.WithDescription("Relay messages received from other clients"),
	); err != nil {
		logger.Warn("failed to create received counter", "error", err)
	}
	return b
}

// ClientID returns the id attached to published messages.
func (b *Bridge) ClientID() string {
	return b.clientID
}

// MeetingID returns the bound meeting id, or "".
func (b *Bridge) MeetingID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.binding == nil {
		return ""
	}
	return b.binding.meetingID
}

// Connected reports whether the bound meeting channel is currently open.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	bnd := b.binding
	b.mu.Unlock()
	return bnd != nil && bnd.current() != nil
}

// Bind joins meetingID, leaving any previous meeting first. Binding to the
// meeting already bound is a no-op. The channel is opened in the
// background.
func (b *Bridge) Bind(meetingID string) error {
	id, err := NormalizeMeetingID(meetingID)
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	if b.binding != nil && b.binding.meetingID == id {
		b.mu.Unlock()
		return nil
	}
	previous := b.binding
	ctx, cancel := context.WithCancel(context.Background())
	bnd := &binding{meetingID: id, cancel: cancel, done: make(chan struct{})}
	b.binding = bnd
	b.mu.Unlock()

	if previous != nil {
		previous.stop()
	}
	logger.Info("binding relay", "meeting_id", id)
	go b.run(ctx, bnd)
	return nil
}

// Unbind leaves the current meeting. It is a no-op when nothing is bound.
func (b *Bridge) Unbind() {
	b.mu.Lock()
	bnd := b.binding
	b.binding = nil
	b.mu.Unlock()

	if bnd != nil {
		logger.Info("unbinding relay", "meeting_id", bnd.meetingID)
		bnd.stop()
	}
}

func (bnd *binding) stop() {
	bnd.cancel()
	<-bnd.done
}

// Subscribe registers a handler for messages from other clients. The
// returned function removes it.
func (b *Bridge) Subscribe(handler func(Message)) (unsubscribe func()) {
	b.handlersMu.Lock()
	defer b.handlersMu.Unlock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = handler
	return func() {
		b.handlersMu.Lock()
		defer b.handlersMu.Unlock()
		delete(b.handlers, id)
	}
}

// Publish sends msg to every other client in the meeting. Failures are
// returned as *DeliveryError.
func (b *Bridge) Publish(ctx context.Context, msg Message) error {
	b.mu.Lock()
	bnd := b.binding
	b.mu.Unlock()
	if bnd == nil {
		return ErrNotBound
	}

	ctx, span := tracer.Start(ctx, "publish relay message")
	defer span.End()
	span.SetAttributes(attribute.String("relay.meeting_id", bnd.meetingID))

	err := b.publish(ctx, bnd, msg)
	if err != nil {
		deliveryErr := &DeliveryError{MeetingID: bnd.meetingID, Err: err}
		span.RecordError(deliveryErr)
		span.SetStatus(codes.Error, "failed to publish")
		logger.Warn("failed to publish relay message", "error", deliveryErr)
		if b.deliveryErrors != nil {
			b.deliveryErrors.Add(ctx, 1)
		}
		return deliveryErr
	}
	return nil
}

func (b *Bridge) publish(ctx context.Context, bnd *binding, msg Message) error {
	ch := bnd.current()
	if ch == nil {
		return ErrDisconnected
	}
	if msg.Type == "" {
		msg.Type = TypeChat
	}
	payload, err := json.Marshal(envelope{Sender: b.clientID, Message: msg})
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}
	return ch.Publish(ctx, payload)
}

// Close unbinds and rejects further binds.
func (b *Bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.Unbind()
	return nil
}

// run keeps the binding's channel open until ctx ends.
func (b *Bridge) run(ctx context.Context, bnd *binding) {
	defer close(bnd.done)

	for ctx.Err() == nil {
		ch, err := b.open(ctx, bnd.meetingID)
		if err != nil {
			return
		}
		bnd.set(ch)
		stopClose := context.AfterFunc(ctx, func() { _ = ch.Close() })
		logger.Info("relay connected", "meeting_id", bnd.meetingID)

		err = b.receive(ctx, ch)
		stopClose()
		bnd.set(nil)
		_ = ch.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Warn("relay connection lost, reconnecting", "meeting_id", bnd.meetingID, "error", err)
	}
}

func (b *Bridge) open(ctx context.Context, meetingID string) (Channel, error) {
	backoff := retry.NewExponential(b.backoffBase)
	backoff = retry.WithCappedDuration(b.backoffMax, backoff)
	backoff = retry.WithJitterPercent(20, backoff)

	var ch Channel
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		if ch, err = b.transport.Open(ctx, meetingID); err != nil {
			logger.Warn("failed to open relay channel", "meeting_id", meetingID, "error", err)
			return retry.RetryableError(err)
		}
		return nil
	})
	return ch, err
}

func (b *Bridge) receive(ctx context.Context, ch Channel) error {
	for {
		payload, err := ch.Receive()
		if err != nil {
			return err
		}

		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			logger.Warn("dropping undecodable relay message", "error", err)
			continue
		}
		if env.Sender == b.clientID || env.Type != TypeChat {
			continue
		}
		if b.received != nil {
			b.received.Add(ctx, 1)
		}
		b.deliver(env.Message)
	}
}

func (b *Bridge) deliver(msg Message) {
	b.handlersMu.Lock()
	handlers := make([]func(Message), 0, len(b.handlers))
	for id := uint64(0); id < b.nextID; id++ {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.handlersMu.Unlock()

	for _, h := range handlers {
		h(msg)
	}
}
