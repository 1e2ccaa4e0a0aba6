// Package playback schedules streamed PCM onto the output device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/koscakluka/ema-live/core/audio"
	"go.opentelemetry.io/otel/metric"
)

const DefaultMaxQueuedChunks = 256

// Device pulls audio from a source on its own real-time schedule.
type Device interface {
	StartPlayback(ctx context.Context, source audio.PlaybackSource) error
	StopPlayback() error
}

var ErrNoDevice = errors.New("no playback device")

// Player is a bounded, sample-accurate playback queue. Its single producer is
// the session's audio stream and its single consumer is the device callback
// calling Fill. Chunks play back to back, chunk N+1 starting at the byte
// after chunk N ends, with no timers involved.
//
// Speaking turns true when the first byte of a burst is handed to the device
// and false once the queue has drained and a further chunk-duration of
// silence has been played.
type Player struct {
	device   Device
	maxQueue int

	mu       sync.Mutex
	queue    []audio.Chunk
	cursor   int
	lastSeq  uint64
	speaking bool
	idle     int
	hangover int
	meter    audio.VolumeMeter

	volume  atomic.Uint64
	dropped atomic.Uint64

	listenersMu sync.Mutex
	listeners   []func(speaking bool)
	signal      chan struct{}
	done        chan struct{}
	closeOnce   sync.Once

	droppedCounter metric.Int64Counter
}

type Option func(*Player)

func WithMaxQueuedChunks(n int) Option {
	return func(p *Player) {
		if n > 0 {
			p.maxQueue = n
		}
	}
}

// WithSpeakingListener registers a listener for speaking transitions.
// Listeners run on the player's notification goroutine, in registration
// order. Rapid transitions may be coalesced; listeners always observe the
// latest state.
func WithSpeakingListener(listener func(speaking bool)) Option {
	return func(p *Player) { p.listeners = append(p.listeners, listener) }
}

func New(device Device, opts ...Option) *Player {
	p := &Player{
		device:   device,
		maxQueue: DefaultMaxQueuedChunks,
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}

	var err error
	if p.droppedCounter, err = meter.Int64Counter("playback.dropped_chunks",
		metric.WithDescription("Chunks dropped because the playback queue was full"),
	); err != nil {
		logger.Warn("failed to create dropped chunk counter", "error", err)
	}

	go p.notifyLoop()
	return p
}

// OnSpeakingChanged registers an additional speaking listener.
func (p *Player) OnSpeakingChanged(listener func(speaking bool)) {
	p.listenersMu.Lock()
	defer p.listenersMu.Unlock()
	p.listeners = append(p.listeners, listener)
}

// Start hands the player to the device as its source.
func (p *Player) Start(ctx context.Context) error {
	if p.device == nil {
		return ErrNoDevice
	}
	if err := p.device.StartPlayback(ctx, p); err != nil {
		return fmt.Errorf("failed to start playback: %w", err)
	}
	return nil
}

// Stop detaches from the device and discards queued audio.
func (p *Player) Stop() error {
	p.Interrupt()
	if p.device == nil {
		return nil
	}
	if err := p.device.StopPlayback(); err != nil {
		return fmt.Errorf("failed to stop playback: %w", err)
	}
	return nil
}

// Close stops notifications. The player must not be used afterwards.
func (p *Player) Close() {
	p.closeOnce.Do(func() { close(p.done) })
}

// Enqueue queues a chunk for playback. It never blocks; when the queue is
// full the chunk is dropped and an *audio.OverflowError returned. Chunks with
// a sequence number not above the last accepted one are discarded.
func (p *Player) Enqueue(chunk audio.Chunk) error {
	if len(chunk.Data) == 0 {
		return nil
	}

	p.mu.Lock()
	if chunk.Seq != 0 && chunk.Seq <= p.lastSeq {
		p.mu.Unlock()
		logger.Debug("discarding out of order chunk", "seq", chunk.Seq, "last", p.lastSeq)
		return nil
	}
	if len(p.queue) >= p.maxQueue {
		p.mu.Unlock()
		p.dropped.Add(1)
		if p.droppedCounter != nil {
			p.droppedCounter.Add(context.Background(), 1)
		}
		err := &audio.OverflowError{Queue: "playback", Capacity: p.maxQueue, Seq: chunk.Seq}
		logger.Warn("dropping playback chunk", "error", err)
		return err
	}
	if chunk.Seq != 0 {
		p.lastSeq = chunk.Seq
	}
	p.queue = append(p.queue, chunk)
	p.mu.Unlock()
	return nil
}

// Fill implements audio.PlaybackSource.
func (p *Player) Fill(out []byte) int {
	p.mu.Lock()

	n := 0
	for n < len(out) && len(p.queue) > 0 {
		head := p.queue[0]
		copied := copy(out[n:], head.Data[p.cursor:])
		n += copied
		p.cursor += copied
		if p.cursor >= len(head.Data) {
			p.hangover = len(head.Data)
			p.queue[0] = audio.Chunk{}
			p.queue = p.queue[1:]
			p.cursor = 0
		}
	}
	clear(out[n:])

	changed := false
	if n > 0 {
		p.idle = 0
		if !p.speaking {
			p.speaking, changed = true, true
		}
	}
	if len(p.queue) == 0 {
		p.idle += len(out) - n
		if p.speaking && p.idle >= p.hangover {
			p.speaking, changed = false, true
		}
	}
	volume := p.meter.Update(out)
	p.mu.Unlock()

	p.volume.Store(math.Float64bits(volume))
	if changed {
		p.notify()
	}
	return n
}

// Interrupt drops everything queued and silences output immediately. Audio
// queued before the call is never played. Sequence tracking restarts, so a
// new session may number its chunks from one again.
func (p *Player) Interrupt() {
	p.mu.Lock()
	dropped := len(p.queue)
	clear(p.queue)
	p.queue = p.queue[:0]
	p.cursor = 0
	p.idle = 0
	p.lastSeq = 0
	changed := p.speaking
	p.speaking = false
	p.mu.Unlock()

	if dropped > 0 {
		logger.Debug("playback interrupted", "dropped_chunks", dropped)
	}
	if changed {
		p.notify()
	}
}

func (p *Player) Speaking() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speaking
}

// Volume returns the output volume in [0,1].
func (p *Player) Volume() float64 {
	return math.Float64frombits(p.volume.Load())
}

// Queued returns the number of chunks waiting to play.
func (p *Player) Queued() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue)
}

// Dropped returns how many chunks were dropped on overflow.
func (p *Player) Dropped() uint64 {
	return p.dropped.Load()
}

func (p *Player) notify() {
	select {
	case p.signal <- struct{}{}:
	default:
	}
}

func (p *Player) notifyLoop() {
	delivered := false
	for {
		select {
		case <-p.done:
			return
		case <-p.signal:
		}

		speaking := p.Speaking()
		if speaking == delivered {
			continue
		}
		delivered = speaking

		p.listenersMu.Lock()
		listeners := append([]func(bool){}, p.listeners...)
		p.listenersMu.Unlock()
		for _, listener := range listeners {
			listener(speaking)
		}
	}
}
