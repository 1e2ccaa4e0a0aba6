package orchestration

import (
	"time"

	"github.com/koscakluka/ema-live/core/capture"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/playback"
	"github.com/koscakluka/ema-live/core/relay"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/turns"
)

type ConsoleOption func(*consoleOptions)

type consoleOptions struct {
	config          config.Snapshot
	captureDevice   capture.Device
	playbackDevice  playback.Device
	relayTransport  relay.Transport
	relayOptions    []relay.BridgeOption
	sessionOptions  []session.ClientOption
	turnOptions     []turns.AggregatorOption
	playbackOptions []playback.Option
	captureOptions  []capture.Option
	now             func() time.Time
	toolTimeout     time.Duration
}

// WithConfig sets the session configuration. Defaults to config.Default().
func WithConfig(cfg config.Snapshot) ConsoleOption {
	return func(o *consoleOptions) { o.config = cfg }
}

func WithCaptureDevice(device capture.Device, opts ...capture.Option) ConsoleOption {
	return func(o *consoleOptions) {
		o.captureDevice = device
		o.captureOptions = append(o.captureOptions, opts...)
	}
}

func WithPlaybackDevice(device playback.Device, opts ...playback.Option) ConsoleOption {
	return func(o *consoleOptions) {
		o.playbackDevice = device
		o.playbackOptions = append(o.playbackOptions, opts...)
	}
}

// WithRelay enables meeting fan-out over transport.
func WithRelay(transport relay.Transport, opts ...relay.BridgeOption) ConsoleOption {
	return func(o *consoleOptions) {
		o.relayTransport = transport
		o.relayOptions = append(o.relayOptions, opts...)
	}
}

func WithSessionOptions(opts ...session.ClientOption) ConsoleOption {
	return func(o *consoleOptions) { o.sessionOptions = append(o.sessionOptions, opts...) }
}

func WithTurnOptions(opts ...turns.AggregatorOption) ConsoleOption {
	return func(o *consoleOptions) { o.turnOptions = append(o.turnOptions, opts...) }
}

// WithNow replaces the clock used to timestamp relay messages.
func WithNow(now func() time.Time) ConsoleOption {
	return func(o *consoleOptions) { o.now = now }
}

// WithToolTimeout bounds how long a single tool invocation may run.
func WithToolTimeout(d time.Duration) ConsoleOption {
	return func(o *consoleOptions) { o.toolTimeout = d }
}
