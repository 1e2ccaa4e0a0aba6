package orchestration

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/capture"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/playback"
	"github.com/koscakluka/ema-live/core/relay"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/tools"
	"github.com/koscakluka/ema-live/core/turns"
)

const defaultToolTimeout = 5 * time.Second

var ErrNoRelay = errors.New("console has no relay configured")

// Console ties one engine session to the microphone, the speaker, the turn
// log and an optional meeting relay.
type Console struct {
	session *session.Client
	capture *capture.Capture
	player  *playback.Player
	turns   *turns.Aggregator
	relay   *relay.Bridge
	tools   *tools.Set

	captureDevice  capture.Device
	playbackDevice playback.Device
	now            func() time.Time
	toolTimeout    time.Duration

	mu      sync.RWMutex
	mode    config.Mode
	playing atomic.Bool

	baseCtx     context.Context
	cancel      context.CancelFunc
	workers     sync.WaitGroup
	unsubscribe []func()
	closeOnce   sync.Once
}

func NewConsole(dialer session.Dialer, opts ...ConsoleOption) *Console {
	options := consoleOptions{
		config:      config.Default(),
		now:         time.Now,
		toolTimeout: defaultToolTimeout,
	}
	for _, opt := range opts {
		opt(&options)
	}

	mode := options.config.EffectiveMode()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Console{
		captureDevice:  options.captureDevice,
		playbackDevice: options.playbackDevice,
		now:            options.now,
		toolTimeout:    options.toolTimeout,
		mode:           mode,
		baseCtx:        ctx,
		cancel:         cancel,
	}

	c.session = session.NewClient(dialer, append([]session.ClientOption{session.WithConfig(options.config)}, options.sessionOptions...)...)
	c.turns = turns.NewAggregator(turns.NewLog(), append([]turns.AggregatorOption{turns.WithMode(mode), turns.WithLanguage(options.config.Language)}, options.turnOptions...)...)
	c.player = playback.New(options.playbackDevice, append(options.playbackOptions, playback.WithSpeakingListener(c.speakingChanged))...)

	// The microphone starts muted in translate mode.
	muted := mode == config.ModeTranslate
	c.capture = capture.New(options.captureDevice, append(options.captureOptions,
		capture.WithChunkHandler(c.captured),
		capture.WithMuted(muted),
	)...)
	c.session.SetMuted(muted)

	c.tools = tools.NewSet(
		tools.Broadcast(func(ctx context.Context, args tools.BroadcastArgs) error {
			return c.broadcast(ctx, args.Text)
		}),
		tools.DetectedLanguage(func(_ context.Context, args tools.DetectedLanguageArgs) error {
			c.turns.SetDetectedLanguage(args.Language)
			return nil
		}),
	)

	if options.relayTransport != nil {
		c.relay = relay.NewBridge(options.relayTransport, options.relayOptions...)
		c.unsubscribe = append(c.unsubscribe, c.relay.Subscribe(c.remotePrompt))
	}
	c.unsubscribe = append(c.unsubscribe, c.session.Subscribe(c.handleSessionEvent))
	return c
}

// Connect opens the engine session and starts the audio devices. Device
// failures are logged and do not fail the call.
func (c *Console) Connect(ctx context.Context) error {
	if err := c.session.Connect(ctx, c.session.Config()); err != nil {
		return err
	}

	if c.playbackDevice != nil && !c.playing.Swap(true) {
		if err := c.player.Start(c.baseCtx); err != nil {
			c.playing.Store(false)
			logger.Error("failed to start playback", "error", err)
		}
	}
	if c.captureDevice != nil {
		if err := c.capture.Start(c.baseCtx); err != nil {
			logger.Error("failed to start capture", "error", err)
		}
	}
	return nil
}

// Disconnect stops the audio devices and closes the engine session.
func (c *Console) Disconnect() error {
	var errs []error
	if err := c.capture.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := c.session.Disconnect(); err != nil {
		errs = append(errs, err)
	}
	if err := c.stopPlayback(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *Console) stopPlayback() error {
	if !c.playing.Swap(false) {
		c.player.Interrupt()
		return nil
	}
	return c.player.Stop()
}

// Toggle connects when idle and disconnects otherwise.
func (c *Console) Toggle(ctx context.Context) error {
	if c.session.State() == session.StateIdle {
		return c.Connect(ctx)
	}
	return c.Disconnect()
}

func (c *Console) ensureConnected(ctx context.Context) error {
	if c.session.State() == session.StateOpen {
		return nil
	}
	return c.Connect(ctx)
}

// SendText records a typed prompt, sends it to the engine, connecting first
// when needed, and shares it with the meeting.
func (c *Console) SendText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	c.turns.AddUserPrompt(text, false)
	if err := c.ensureConnected(ctx); err != nil {
		return err
	}
	if err := c.session.SendText([]string{text}, true); err != nil {
		return err
	}
	if err := c.broadcast(ctx, text); err != nil && !errors.Is(err, relay.ErrNotBound) {
		logger.Warn("failed to share prompt with meeting", "error", err)
	}
	return nil
}

func (c *Console) SetMuted(muted bool) {
	c.capture.SetMuted(muted)
	c.session.SetMuted(muted)
}

func (c *Console) Muted() bool {
	return c.session.Muted()
}

// UpdateConfig applies a new configuration. An open session restarts with
// it after the reconnect debounce; the mode takes effect locally at once.
func (c *Console) UpdateConfig(cfg config.Snapshot) error {
	if err := c.session.Reconfigure(cfg); err != nil {
		return err
	}
	mode := cfg.EffectiveMode()
	c.mu.Lock()
	c.mode = mode
	c.mu.Unlock()
	c.turns.SetMode(mode)
	c.turns.SetLanguage(cfg.Language)
	return nil
}

// Config returns the configuration most recently applied.
func (c *Console) Config() config.Snapshot {
	return c.session.Config()
}

func (c *Console) Mode() config.Mode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Console) State() session.State {
	return c.session.State()
}

func (c *Console) Display() turns.Display {
	return c.turns.Display()
}

// Turns returns the conversation history.
func (c *Console) Turns() []turns.Turn {
	return c.turns.Log().Snapshot()
}

// TurnsVersion changes whenever the history does.
func (c *Console) TurnsVersion() uint64 {
	return c.turns.Log().Version()
}

func (c *Console) InputVolume() float64 {
	return c.capture.Volume()
}

func (c *Console) OutputVolume() float64 {
	return c.player.Volume()
}

func (c *Console) Speaking() bool {
	return c.player.Speaking()
}

// Bind joins a meeting. Relay timestamps of the previous meeting no longer
// apply once the binding changes.
func (c *Console) Bind(meetingID string) error {
	if c.relay == nil {
		return ErrNoRelay
	}
	previous := c.relay.MeetingID()
	if err := c.relay.Bind(meetingID); err != nil {
		return err
	}
	if c.relay.MeetingID() != previous {
		c.turns.ResetRemote()
	}
	return nil
}

func (c *Console) Unbind() {
	if c.relay != nil {
		c.relay.Unbind()
		c.turns.ResetRemote()
	}
}

// MeetingID returns the bound meeting, or "".
func (c *Console) MeetingID() string {
	if c.relay == nil {
		return ""
	}
	return c.relay.MeetingID()
}

func (c *Console) RelayConnected() bool {
	return c.relay != nil && c.relay.Connected()
}

// Run blocks until ctx ends, then closes the console.
func (c *Console) Run(ctx context.Context) error {
	<-ctx.Done()
	return c.Close()
}

// Close releases every resource. The console cannot be reused.
func (c *Console) Close() error {
	c.closeOnce.Do(func() {
		for _, unsubscribe := range c.unsubscribe {
			unsubscribe()
		}
		c.cancel()
		if c.relay != nil {
			_ = c.relay.Close()
		}
		_ = c.session.Close()
		c.workers.Wait()

		if err := c.capture.Stop(); err != nil {
			logger.Warn("failed to stop capture", "error", err)
		}
		if err := c.stopPlayback(); err != nil {
			logger.Warn("failed to stop playback", "error", err)
		}
		c.player.Close()
		c.turns.Close()
	})
	return nil
}

// handleSessionEvent runs on the session's dispatcher goroutine.
func (c *Console) handleSessionEvent(event events.Event) {
	c.turns.Handle(event)
	if namespace := event.Kind().Namespace(); namespace == "session" || namespace == "turn" {
		logger.Debug("session event", "kind", event.Kind())
	}

	switch e := event.(type) {
	case events.SessionOpened, events.SessionClosed, events.Interrupted:
		c.player.Interrupt()
	case events.AudioChunk:
		if c.Mode() == config.ModeTranscribe {
			return
		}
		var overflow *audio.OverflowError
		if err := c.player.Enqueue(e.Chunk); err != nil && !errors.As(err, &overflow) {
			logger.Warn("failed to queue playback chunk", "error", err)
		}
	case events.ToolCall:
		invocations := e.Invocations
		c.goWorker("tool call", func(ctx context.Context) error {
			c.dispatchTools(ctx, invocations)
			return nil
		})
	case events.SessionFailed:
		logger.Error("session failed", "error", e.Err)
	}
}

// captured runs on the capture device callback.
func (c *Console) captured(chunk audio.Chunk) {
	err := c.session.SendAudioChunk(chunk)
	if err != nil && !errors.Is(err, session.ErrNotOpen) && !errors.Is(err, session.ErrMuted) {
		logger.Debug("capture chunk not sent", "seq", chunk.Seq, "error", err)
	}
}

func (c *Console) speakingChanged(speaking bool) {
	c.capture.Duck(speaking)
	c.turns.SetSpeaking(speaking)
}

func (c *Console) goWorker(name string, run func(context.Context) error) {
	c.workers.Add(1)
	go func() {
		defer c.workers.Done()
		if err := panicSafeNamedWorker(name, run)(c.baseCtx); err != nil {
			logger.Error("worker failed", "worker", name, "error", err)
		}
	}()
}
