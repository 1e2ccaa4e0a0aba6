// Package capture samples the microphone, meters its volume and applies the
// ducking gain before handing chunks to the session.
package capture

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
)

// Device delivers raw microphone periods. onAudio is called from the device's
// real-time callback; the buffer is only valid for the duration of the call.
type Device interface {
	StartCapture(ctx context.Context, onAudio func(audio []byte)) error
	StopCapture() error
}

var ErrNoDevice = errors.New("no capture device")

// Capture turns device periods into sequenced chunks. Chunks are emitted only
// while started and unmuted; while muted the volume signal reads zero.
type Capture struct {
	device   Device
	encoding audio.EncodingInfo

	gain  *audio.GainRamp
	meter audio.VolumeMeter

	onChunk  func(audio.Chunk)
	onVolume func(float64)

	started atomic.Bool
	muted   atomic.Bool
	seq     atomic.Uint64
	volume  atomic.Uint64

	mu sync.Mutex
	// processMu serializes period processing; meter is not safe for
	// concurrent use.
	processMu sync.Mutex
}

type Option func(*Capture)

// WithChunkHandler sets where chunks go. The handler runs on the device
// callback and must not block.
func WithChunkHandler(onChunk func(audio.Chunk)) Option {
	return func(c *Capture) { c.onChunk = onChunk }
}

// WithVolumeHandler sets a listener for the volume signal, called once per
// device period.
func WithVolumeHandler(onVolume func(float64)) Option {
	return func(c *Capture) { c.onVolume = onVolume }
}

// WithGainRamp sets how long a full gain change takes.
func WithGainRamp(ramp time.Duration) Option {
	return func(c *Capture) { c.gain = audio.NewGainRamp(c.encoding.SampleRate, ramp) }
}

// WithMuted sets the initial mute state.
func WithMuted(muted bool) Option {
	return func(c *Capture) { c.muted.Store(muted) }
}

func New(device Device, opts ...Option) *Capture {
	c := &Capture{
		device:   device,
		encoding: audio.CaptureEncoding(),
	}
	c.gain = audio.NewGainRamp(c.encoding.SampleRate, audio.DefaultGainRamp)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start begins sampling. Calling Start while started is a no-op.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started.Load() {
		return nil
	}
	if c.device == nil {
		return ErrNoDevice
	}

	c.started.Store(true)
	if err := c.device.StartCapture(ctx, c.process); err != nil {
		c.started.Store(false)
		return fmt.Errorf("failed to start capture: %w", err)
	}
	logger.Debug("capture started")
	return nil
}

// Stop ends sampling. It is safe to call in any state.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started.Swap(false) {
		return nil
	}

	c.setVolume(0)
	if c.device == nil {
		return nil
	}
	if err := c.device.StopCapture(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}
	logger.Debug("capture stopped")
	return nil
}

func (c *Capture) Started() bool {
	return c.started.Load()
}

func (c *Capture) SetMuted(muted bool) {
	c.muted.Store(muted)
	if muted {
		c.setVolume(0)
	}
}

func (c *Capture) Muted() bool {
	return c.muted.Load()
}

// Volume returns the latest volume in [0,1].
func (c *Capture) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// SetGainMultiplier sets the target capture gain. It returns immediately;
// the change is ramped over the next periods.
func (c *Capture) SetGainMultiplier(factor float64) {
	c.gain.SetTarget(factor)
}

// GainMultiplier returns the gain being applied right now.
func (c *Capture) GainMultiplier() float64 {
	return c.gain.Current()
}

// Duck lowers capture gain while the remote agent is speaking and restores it
// afterwards.
func (c *Capture) Duck(speaking bool) {
	if speaking {
		c.SetGainMultiplier(audio.DuckedGain)
	} else {
		c.SetGainMultiplier(audio.NominalGain)
	}
}

func (c *Capture) process(pcm []byte) {
	if !c.started.Load() || len(pcm) == 0 {
		return
	}

	c.processMu.Lock()
	defer c.processMu.Unlock()

	if c.muted.Load() {
		c.meter.Reset()
		c.setVolume(0)
		return
	}

	data := make([]byte, len(pcm))
	copy(data, pcm)
	c.gain.Apply(data)

	c.setVolume(c.meter.Update(data))

	chunk := audio.Chunk{
		Seq:    c.seq.Add(1),
		Source: audio.SourceCapture,
		Data:   data,
	}
	if c.onChunk != nil {
		c.onChunk(chunk)
	}
}

func (c *Capture) setVolume(v float64) {
	c.volume.Store(math.Float64bits(v))
	if c.onVolume != nil {
		c.onVolume(v)
	}
}
