package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
)

type received struct {
	frame Frame
	err   error
}

type fakeConn struct {
	frames chan received
	closed chan struct{}
	once   sync.Once

	closes atomic.Int32
	// closeGate, when set, holds Close until it is closed.
	closeGate chan struct{}

	mu        sync.Mutex
	seqs      []uint64
	texts     [][]string
	responses []ToolResponse
}

func newFakeConn() *fakeConn {
	return &fakeConn{frames: make(chan received, 16), closed: make(chan struct{})}
}

func (c *fakeConn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seqs = append(c.seqs, chunk.Seq)
	return nil
}

func (c *fakeConn) SendContent(_ context.Context, parts []string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, parts)
	return nil
}

func (c *fakeConn) SendToolResponses(_ context.Context, responses []ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses...)
	return nil
}

func (c *fakeConn) Receive() (Frame, error) {
	select {
	case r := <-c.frames:
		return r.frame, r.err
	case <-c.closed:
		return Frame{}, io.EOF
	}
}

func (c *fakeConn) Close() error {
	c.closes.Add(1)
	if c.closeGate != nil {
		<-c.closeGate
	}
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentSeqs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]uint64(nil), c.seqs...)
}

func (c *fakeConn) sentResponses() []ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ToolResponse(nil), c.responses...)
}

type fakeDialer struct {
	dials atomic.Int32
	// gate, when set, holds every dial until it is closed or the dial
	// context ends.
	gate chan struct{}
	err  error

	mu    sync.Mutex
	conns []*fakeConn
	cfgs  []config.Snapshot
}

func (d *fakeDialer) Dial(ctx context.Context, cfg config.Snapshot) (Conn, error) {
	d.dials.Add(1)
	if d.gate != nil {
		select {
		case <-d.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if d.err != nil {
		return nil, d.err
	}
	conn := newFakeConn()
	d.mu.Lock()
	d.conns = append(d.conns, conn)
	d.cfgs = append(d.cfgs, cfg)
	d.mu.Unlock()
	return conn, nil
}

func (d *fakeDialer) last() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) lastConfig() config.Snapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cfgs[len(d.cfgs)-1]
}

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func record(c *Client) *recorder {
	r := &recorder{}
	c.Subscribe(func(e events.Event) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.events = append(r.events, e)
	})
	return r
}

func (r *recorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, 0, len(r.events))
	for _, e := range r.events {
		kinds = append(kinds, e.Kind())
	}
	return kinds
}

func (r *recorder) count(kind events.Kind) int {
	n := 0
	for _, k := range r.kinds() {
		if k == kind {
			n++
		}
	}
	return n
}

func (r *recorder) first(kind events.Kind) events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if e.Kind() == kind {
			return e
		}
	}
	return nil
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

var errDial = errors.New("dial refused")
