package session

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// outbound is one control message. Exactly one of parts or toolResponses
// is set.
type outbound struct {
	parts         []string
	turnComplete  bool
	toolResponses []ToolResponse
}

// connection is the per-session half of the client: one engine channel and
// the goroutines that serve it.
type connection struct {
	id   string
	conn Conn
	cfg  config.Snapshot
	hash string

	ctx    context.Context
	cancel context.CancelFunc

	control chan outbound
	audio   chan audio.Chunk
	tools   *toolLedger

	// opened is closed once SessionOpened has been emitted so no frame
	// event can overtake it.
	opened    chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newConnection(conn Conn, cfg config.Snapshot, controlQueue, audioQueue int) *connection {
	ctx, cancel := context.WithCancel(context.Background())
	return &connection{
		id:      uuid.NewString(),
		conn:    conn,
		cfg:     cfg,
		hash:    cfg.Hash(),
		ctx:     ctx,
		cancel:  cancel,
		control: make(chan outbound, controlQueue),
		audio:   make(chan audio.Chunk, audioQueue),
		tools:   newToolLedger(),
		opened:  make(chan struct{}),
	}
}

// startConnection must be called with mu held.
func (c *Client) startConnection(cn *connection) {
	cn.wg.Add(2)
	go func() {
		defer cn.wg.Done()
		c.write(cn)
	}()
	go func() {
		defer cn.wg.Done()
		c.read(cn)
	}()
}

// write is the only goroutine that sends on the engine channel. Control
// messages go ahead of queued audio.
func (c *Client) write(cn *connection) {
	var lastSeq uint64
	for {
		select {
		case <-cn.ctx.Done():
			return
		case msg := <-cn.control:
			c.writeControl(cn, msg)
			continue
		default:
		}

		select {
		case <-cn.ctx.Done():
			return
		case msg := <-cn.control:
			c.writeControl(cn, msg)
		case chunk := <-cn.audio:
			if chunk.Seq != 0 && chunk.Seq <= lastSeq {
				logger.Debug("dropping out of order capture chunk", "session_id", cn.id, "seq", chunk.Seq, "last_seq", lastSeq)
				continue
			}
			lastSeq = chunk.Seq
			if err := cn.conn.SendAudio(cn.ctx, chunk); err != nil && cn.ctx.Err() == nil {
				logger.Warn("failed to send capture chunk", "session_id", cn.id, "seq", chunk.Seq, "error", err)
			}
		}
	}
}

func (c *Client) writeControl(cn *connection, msg outbound) {
	ctx, span := tracer.Start(cn.ctx, "send control message",
		trace.WithAttributes(attribute.String("session.id", cn.id)))
	defer span.End()

	var err error
	if len(msg.toolResponses) > 0 {
		span.SetAttributes(attribute.Int("session.tool_responses", len(msg.toolResponses)))
		err = cn.conn.SendToolResponses(ctx, msg.toolResponses)
	} else {
		span.SetAttributes(attribute.Bool("session.turn_complete", msg.turnComplete))
		err = cn.conn.SendContent(ctx, msg.parts, msg.turnComplete)
	}
	if err != nil && cn.ctx.Err() == nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send control message")
		logger.Error("failed to send control message", "session_id", cn.id, "error", err)
	}
}

// read is the only goroutine that receives from the engine channel.
func (c *Client) read(cn *connection) {
	select {
	case <-cn.opened:
	case <-cn.ctx.Done():
		return
	}

	var seq uint64
	for {
		frame, err := cn.conn.Receive()
		if err != nil {
			if cn.ctx.Err() != nil {
				return
			}
			var protoErr *ProtocolError
			if errors.As(err, &protoErr) {
				c.countProtocolError()
				logger.Warn("dropping malformed engine frame", "session_id", cn.id, "error", err)
				continue
			}
			go c.connectionLost(cn, err)
			return
		}
		if frame.Empty() {
			continue
		}
		c.dispatchFrame(cn, frame, &seq)
	}
}

func (c *Client) dispatchFrame(cn *connection, frame Frame, seq *uint64) {
	if t := frame.InputTranscription; t != nil {
		c.emit(events.NewInputTranscription(t.Text, t.Finished))
	}
	if t := frame.OutputTranscription; t != nil {
		c.emit(events.NewOutputTranscription(t.Text, t.Finished))
	}
	for _, text := range frame.ModelText {
		c.emit(events.NewContent(text))
	}
	for _, data := range frame.ModelAudio {
		*seq++
		c.emit(events.NewAudioChunk(audio.Chunk{Seq: *seq, Source: audio.SourcePlayback, Data: data}))
	}
	if frame.Interrupted {
		c.emit(events.NewInterrupted())
	}
	if frame.TurnComplete {
		c.emit(events.NewTurnComplete())
	}
	if len(frame.ToolCalls) > 0 {
		cn.tools.add(frame.ToolCalls)
		c.emit(events.NewToolCall(frame.ToolCalls))
	}
}

// emit queues an event for subscribers. It must not be called with mu
// held.
func (c *Client) emit(event events.Event) {
	if _, ok := event.(events.AudioChunk); ok {
		select {
		case c.events <- event:
		case <-c.done:
		default:
			c.countDroppedAudio()
			logger.Warn("dropping playback chunk event, subscribers are behind")
		}
		return
	}

	select {
	case c.events <- event:
	case <-c.done:
	}
}

func (c *Client) dispatch() {
	defer c.wg.Done()
	for {
		select {
		case event := <-c.events:
			c.deliver(event)
		case <-c.done:
			for {
				select {
				case event := <-c.events:
					c.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (c *Client) deliver(event events.Event) {
	c.listenersMu.Lock()
	handlers := make([]func(events.Event), 0, len(c.listeners))
	for id := uint64(0); id < c.nextID; id++ {
		if h, ok := c.listeners[id]; ok {
			handlers = append(handlers, h)
		}
	}
	c.listenersMu.Unlock()

	for _, h := range handlers {
		h(event)
	}
}
