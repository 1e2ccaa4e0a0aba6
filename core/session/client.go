// Package session owns the duplex channel to the remote speech engine. It
// serializes outbound traffic, translates server frames into typed events
// and enforces the connection state machine.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

const (
	DefaultControlQueue      = 64
	DefaultAudioQueue        = 128
	DefaultEventQueue        = 512
	DefaultReconnectDebounce = 500 * time.Millisecond
)

// Client is the single owner of the engine channel.
//
// Connect is idempotent: concurrent calls while Connecting share one
// handshake, and a call while Open succeeds without doing anything.
// Disconnect always succeeds, cancels an in-flight Connect, and the close
// event is emitted at most once per opened session.
//
// Events are delivered to subscribers in emission order on a single
// dispatcher goroutine. Audio chunk events are dropped when subscribers fall
// too far behind; every other event is delivered.
type Client struct {
	dialer        Dialer
	controlQueue  int
	audioQueue    int
	eventQueue    int
	debounceDelay time.Duration

	mu      sync.Mutex
	state   State
	attempt *connectAttempt
	conn    *connection
	closing chan struct{}
	desired config.Snapshot
	baseCtx context.Context
	closed  bool

	muted atomic.Bool

	reconfigure *debouncedApply

	listenersMu sync.Mutex
	listeners   map[uint64]func(events.Event)
	nextID      uint64

	events chan events.Event
	done   chan struct{}
	wg     sync.WaitGroup

	droppedAudio   metric.Int64Counter
	protocolErrors metric.Int64Counter
}

type connectAttempt struct {
	done     chan struct{}
	err      error
	cancel   context.CancelFunc
	canceled bool
}

type ClientOption func(*Client)

func WithControlQueue(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.controlQueue = n
		}
	}
}

func WithAudioQueue(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.audioQueue = n
		}
	}
}

func WithEventQueue(n int) ClientOption {
	return func(c *Client) {
		if n > 0 {
			c.eventQueue = n
		}
	}
}

// WithReconnectDebounce sets the quiet period Reconfigure waits for before
// restarting the session.
func WithReconnectDebounce(d time.Duration) ClientOption {
	return func(c *Client) { c.debounceDelay = d }
}

// WithConfig sets the configuration used until Connect or Reconfigure is
// called with another one.
func WithConfig(cfg config.Snapshot) ClientOption {
	return func(c *Client) { c.desired = cfg.Clone() }
}

func NewClient(dialer Dialer, opts ...ClientOption) *Client {
	c := &Client{
		dialer:        dialer,
		controlQueue:  DefaultControlQueue,
		audioQueue:    DefaultAudioQueue,
		eventQueue:    DefaultEventQueue,
		debounceDelay: DefaultReconnectDebounce,
		listeners:     map[uint64]func(events.Event){},
		baseCtx:       context.Background(),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.events = make(chan events.Event, c.eventQueue)
	c.reconfigure = newDebouncedApply(c.debounceDelay, c.applyConfig)

	var err error
	if c.droppedAudio, err = meter.Int64Counter("session.dropped_audio_chunks",
		metric.WithDescription("Audio chunks dropped because a session queue was full"),
	); err != nil {
		logger.Warn("failed to create dropped audio counter", "error", err)
	}
	if c.protocolErrors, err = meter.Int64Counter("session.protocol_errors",
		metric.WithDescription("Malformed engine frames that were dropped"),
	); err != nil {
		logger.Warn("failed to create protocol error counter", "error", err)
	}

	c.wg.Add(1)
	go c.dispatch()
	return c
}

// Subscribe registers a handler for every event. The returned function
// removes it. Handlers run on the dispatcher goroutine and must not call
// Connect, Disconnect or Close synchronously.
func (c *Client) Subscribe(handler func(events.Event)) (unsubscribe func()) {
	c.listenersMu.Lock()
	defer c.listenersMu.Unlock()
	id := c.nextID
	c.nextID++
	c.listeners[id] = handler
	return func() {
		c.listenersMu.Lock()
		defer c.listenersMu.Unlock()
		delete(c.listeners, id)
	}
}

func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Config returns the configuration the client will connect with next, or
// is connected with.
func (c *Client) Config() config.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.desired.Clone()
}

// SessionID returns the id of the open session, or "".
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return ""
	}
	return c.conn.id
}

// Connect opens the engine channel with cfg.
func (c *Client) Connect(ctx context.Context, cfg config.Snapshot) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigurationError{Err: err}
	}

	for {
		c.mu.Lock()
		if c.closed {
			c.mu.Unlock()
			return ErrClientClosed
		}
		if closing := c.closing; closing != nil {
			c.mu.Unlock()
			select {
			case <-closing:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		switch c.state {
		case StateOpen:
			c.mu.Unlock()
			return nil
		case StateConnecting:
			attempt := c.attempt
			c.mu.Unlock()
			select {
			case <-attempt.done:
				return attempt.err
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		dialCtx, cancel := context.WithCancel(ctx)
		attempt := &connectAttempt{done: make(chan struct{}), cancel: cancel}
		c.attempt = attempt
		c.state = StateConnecting
		c.desired = cfg.Clone()
		c.baseCtx = context.WithoutCancel(ctx)
		c.mu.Unlock()

		c.dial(dialCtx, attempt, cfg.Clone())
		return attempt.err
	}
}

func (c *Client) dial(ctx context.Context, attempt *connectAttempt, cfg config.Snapshot) {
	defer close(attempt.done)
	defer attempt.cancel()

	ctx, span := tracer.Start(ctx, "connect session")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.model", cfg.Model),
		attribute.String("session.config_hash", cfg.Hash()),
	)

	conn, err := c.dialer.Dial(ctx, cfg)

	c.mu.Lock()
	c.attempt = nil
	if attempt.canceled {
		c.state = StateIdle
		c.mu.Unlock()
		if err == nil {
			_ = conn.Close()
		}
		attempt.err = ErrConnectCanceled
		span.SetStatus(codes.Error, attempt.err.Error())
		return
	}
	if err != nil {
		c.state = StateError
		c.mu.Unlock()

		attempt.err = &ConnectionError{Op: "dial", Err: err}
		span.RecordError(attempt.err)
		span.SetStatus(codes.Error, attempt.err.Error())
		logger.Error("failed to connect session", "error", attempt.err)
		c.emit(events.NewSessionFailed(attempt.err))

		c.mu.Lock()
		if c.state == StateError {
			c.state = StateIdle
		}
		c.mu.Unlock()
		return
	}

	cn := newConnection(conn, cfg, c.controlQueue, c.audioQueue)
	c.conn = cn
	c.state = StateOpen
	c.startConnection(cn)
	c.mu.Unlock()

	span.SetAttributes(attribute.String("session.id", cn.id))
	logger.Info("session open", "session_id", cn.id, "model", cfg.Model)
	c.emit(events.NewSessionOpened(cn.id))
	close(cn.opened)
}

// Disconnect tears the channel down. It is safe to call in any state and
// any number of times.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	if closing := c.closing; closing != nil {
		c.mu.Unlock()
		<-closing
		return nil
	}

	switch c.state {
	case StateConnecting:
		attempt := c.attempt
		attempt.canceled = true
		attempt.cancel()
		c.mu.Unlock()
		<-attempt.done
		return nil
	case StateOpen:
		cn := c.conn
		c.beginClosing(StateClosing)
		c.mu.Unlock()

		c.teardown(cn, "")
		c.finishClosing()
		return nil
	}

	c.mu.Unlock()
	return nil
}

// beginClosing must be called with mu held.
func (c *Client) beginClosing(state State) {
	c.state = state
	c.conn = nil
	c.closing = make(chan struct{})
}

func (c *Client) finishClosing() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = StateIdle
	close(c.closing)
	c.closing = nil
}

// connectionLost handles a channel that failed underneath an open session.
func (c *Client) connectionLost(cn *connection, err error) {
	c.mu.Lock()
	if c.conn != cn {
		c.mu.Unlock()
		return
	}

	reason := "closed by engine"
	if errors.Is(err, io.EOF) {
		c.beginClosing(StateClosing)
		c.mu.Unlock()
		logger.Info("session closed by engine", "session_id", cn.id)
	} else {
		c.beginClosing(StateError)
		c.mu.Unlock()

		connErr := &ConnectionError{Op: "receive", Err: err}
		reason = connErr.Error()
		logger.Error("session connection lost", "session_id", cn.id, "error", connErr)
		c.emit(events.NewSessionFailed(connErr))
	}

	c.teardown(cn, reason)
	c.finishClosing()
}

// teardown stops a connection's goroutines and emits its close event once.
func (c *Client) teardown(cn *connection, reason string) {
	cn.closeOnce.Do(func() {
		cn.cancel()
		if err := cn.conn.Close(); err != nil {
			logger.Debug("error closing engine channel", "session_id", cn.id, "error", err)
		}
		cn.wg.Wait()
		<-cn.opened

		if pending := cn.tools.outstanding(); len(pending) > 0 {
			logger.Warn("session closed with unanswered tool calls", "session_id", cn.id, "ids", pending)
		}
		logger.Info("session closed", "session_id", cn.id, "reason", reason)
		c.emit(events.NewSessionClosed(cn.id, reason))
	})
}

// Reconfigure changes the session configuration. While Open or Connecting,
// the session is restarted with the new configuration once edits stop
// arriving for the debounce delay. Otherwise the configuration is stored at
// once and used by the next Connect.
func (c *Client) Reconfigure(cfg config.Snapshot) error {
	if err := cfg.Validate(); err != nil {
		return &ConfigurationError{Err: err}
	}
	c.mu.Lock()
	if c.state != StateOpen && c.state != StateConnecting {
		c.desired = cfg.Clone()
	}
	c.mu.Unlock()
	// A submission made while Open may still be pending; the latest one must
	// win when it fires.
	c.reconfigure.Submit(cfg.Clone())
	return nil
}

// ReconfigurePending reports whether a configuration change is waiting for
// its debounce delay.
func (c *Client) ReconfigurePending() bool {
	return c.reconfigure.Pending()
}

func (c *Client) applyConfig(cfg config.Snapshot) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.desired = cfg.Clone()
	attempt := c.attempt
	baseCtx := c.baseCtx
	c.mu.Unlock()

	if attempt != nil {
		<-attempt.done
	}

	c.mu.Lock()
	cn := c.conn
	open := c.state == StateOpen
	c.mu.Unlock()
	if !open || cn == nil || cn.hash == cfg.Hash() {
		return
	}

	logger.Info("restarting session with new configuration", "session_id", cn.id)
	_ = c.Disconnect()
	if err := c.Connect(baseCtx, cfg); err != nil {
		logger.Error("failed to reconnect with new configuration", "error", err)
	}
}

// SetMuted controls whether SendAudioChunk accepts audio.
func (c *Client) SetMuted(muted bool) {
	c.muted.Store(muted)
}

func (c *Client) Muted() bool {
	return c.muted.Load()
}

// SendText queues user text. It never blocks.
func (c *Client) SendText(parts []string, turnComplete bool) error {
	return c.enqueueControl(outbound{parts: parts, turnComplete: turnComplete})
}

// SendAudioChunk queues a capture chunk. Chunks are written in strictly
// increasing sequence order; a chunk not newer than the last written one is
// dropped. It never blocks.
func (c *Client) SendAudioChunk(chunk audio.Chunk) error {
	if c.muted.Load() {
		return ErrMuted
	}

	c.mu.Lock()
	cn := c.openConnection()
	c.mu.Unlock()
	if cn == nil {
		return ErrNotOpen
	}

	select {
	case cn.audio <- chunk:
		return nil
	default:
		err := &audio.OverflowError{Queue: "session audio", Capacity: cap(cn.audio), Seq: chunk.Seq}
		c.countDroppedAudio()
		logger.Warn("dropping capture chunk", "session_id", cn.id, "error", err)
		return err
	}
}

// RespondToTool acknowledges one tool invocation. Each invocation must be
// answered exactly once; answering an unknown or already answered id fails
// with ErrUnknownToolCall.
func (c *Client) RespondToTool(id string, response map[string]any) error {
	c.mu.Lock()
	cn := c.openConnection()
	c.mu.Unlock()
	if cn == nil {
		return ErrNotOpen
	}

	name, ok := cn.tools.resolve(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownToolCall, id)
	}
	return c.enqueueControlOn(cn, outbound{
		toolResponses: []ToolResponse{{ID: id, Name: name, Response: response}},
	})
}

// PendingToolCalls returns ids of invocations not answered yet.
func (c *Client) PendingToolCalls() []string {
	c.mu.Lock()
	cn := c.openConnection()
	c.mu.Unlock()
	if cn == nil {
		return nil
	}
	return cn.tools.outstanding()
}

func (c *Client) enqueueControl(msg outbound) error {
	c.mu.Lock()
	cn := c.openConnection()
	c.mu.Unlock()
	if cn == nil {
		return ErrNotOpen
	}
	return c.enqueueControlOn(cn, msg)
}

func (c *Client) enqueueControlOn(cn *connection, msg outbound) error {
	select {
	case cn.control <- msg:
		return nil
	default:
		err := &audio.OverflowError{Queue: "session control", Capacity: cap(cn.control)}
		logger.Error("dropping outbound message", "session_id", cn.id, "error", err)
		return err
	}
}

// openConnection must be called with mu held.
func (c *Client) openConnection() *connection {
	if c.state != StateOpen {
		return nil
	}
	return c.conn
}

// Close disconnects and stops event delivery. The client cannot be reused.
func (c *Client) Close() error {
	_ = c.Disconnect()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	close(c.done)
	c.wg.Wait()
	return nil
}

func (c *Client) countDroppedAudio() {
	if c.droppedAudio != nil {
		c.droppedAudio.Add(context.Background(), 1)
	}
}

func (c *Client) countProtocolError() {
	if c.protocolErrors != nil {
		c.protocolErrors.Add(context.Background(), 1)
	}
}
