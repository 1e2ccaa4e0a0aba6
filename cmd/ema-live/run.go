package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/audio/miniaudio"
	"github.com/koscakluka/ema-live/core/audio/portaudio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/playback"
	"github.com/koscakluka/ema-live/core/relay/redisrelay"
	"github.com/koscakluka/ema-live/core/relay/wsrelay"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/session/gemini"
	"github.com/koscakluka/ema-live/core/session/wire"
	"github.com/koscakluka/ema-live/core/tools"
	"github.com/koscakluka/ema-live/core/turns"
	"github.com/koscakluka/ema-live/core/turns/redissink"
	"github.com/koscakluka/ema-live/internal/tui"
)

var (
	meetingFlag string
	connectFlag bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the interactive console",
	Args:  cobra.NoArgs,
	RunE:  runConsole,
}

func init() {
	runCmd.Flags().StringVarP(&meetingFlag, "meeting", "m", "", "meeting id to join")
	runCmd.Flags().BoolVar(&connectFlag, "connect", false, "connect to the engine on start")
	rootCmd.AddCommand(runCmd)
}

func runConsole(cmd *cobra.Command, _ []string) error {
	settings, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if meetingFlag != "" {
		settings.Relay.Meeting = meetingFlag
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dialer, err := newDialer(ctx, settings.Engine)
	if err != nil {
		return err
	}

	opts := []orchestration.ConsoleOption{
		orchestration.WithConfig(settings.Session),
		orchestration.WithSessionOptions(session.WithReconnectDebounce(settings.ReconnectDebounce)),
	}

	audioOpts, closeAudio, err := audioOptions(settings.Audio)
	if err != nil {
		return err
	}
	defer closeAudio()
	opts = append(opts, audioOpts...)

	relayOpts, closeRelay := relayOptions(settings.Relay)
	defer closeRelay()
	opts = append(opts, relayOpts...)

	turnOpts, closeTurnLog := turnLogOptions(settings.TurnLog)
	defer closeTurnLog()
	opts = append(opts, turnOpts...)

	console := orchestration.NewConsole(dialer, opts...)
	if settings.Relay.Meeting != "" && settings.Relay.Kind != config.RelayNone {
		if err := console.Bind(settings.Relay.Meeting); err != nil {
			_ = console.Close()
			return fmt.Errorf("failed to join meeting: %w", err)
		}
	}
	if connectFlag {
		if err := console.Connect(ctx); err != nil {
			_ = console.Close()
			return fmt.Errorf("failed to connect: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return console.Run(gctx)
	})
	g.Go(func() error {
		defer stop()
		program := tea.NewProgram(tui.New(console), tea.WithAltScreen(), tea.WithContext(gctx))
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			return fmt.Errorf("failed to run terminal ui: %w", err)
		}
		return nil
	})
	return g.Wait()
}

func newDialer(ctx context.Context, settings config.EngineSettings) (session.Dialer, error) {
	switch settings.Kind {
	case config.EngineWire:
		header := http.Header{}
		if settings.APIKey != "" {
			header.Set("x-goog-api-key", settings.APIKey)
		}
		return wire.NewDialer(settings.URL, wire.WithHeader(header), wire.WithTools(tools.Declarations())), nil
	default:
		var opts []gemini.DialerOption
		if settings.URL != "" {
			opts = append(opts, gemini.WithBaseURL(settings.URL))
		}
		return gemini.NewDialer(ctx, settings.APIKey, opts...)
	}
}

func audioOptions(settings config.AudioSettings) ([]orchestration.ConsoleOption, func(), error) {
	queue := playback.WithMaxQueuedChunks(settings.PlaybackQueue)

	switch settings.Backend {
	case config.AudioNone:
		return nil, func() {}, nil
	case config.AudioPortaudio:
		client, err := portaudio.NewClient(settings.FramesPerBuffer)
		if err != nil {
			return nil, nil, err
		}
		return []orchestration.ConsoleOption{
			orchestration.WithCaptureDevice(client),
			orchestration.WithPlaybackDevice(client, queue),
		}, client.Close, nil
	default:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, err
		}
		return []orchestration.ConsoleOption{
			orchestration.WithCaptureDevice(client),
			orchestration.WithPlaybackDevice(client, queue),
		}, client.Close, nil
	}
}

func relayOptions(settings config.RelaySettings) ([]orchestration.ConsoleOption, func()) {
	switch settings.Kind {
	case config.RelayWebSocket:
		transport := wsrelay.NewTransport(settings.URL)
		return []orchestration.ConsoleOption{orchestration.WithRelay(transport)}, func() {}
	case config.RelayRedis:
		client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
		transport := redisrelay.NewTransport(client)
		return []orchestration.ConsoleOption{orchestration.WithRelay(transport)}, func() { _ = client.Close() }
	}
	return nil, func() {}
}

func turnLogOptions(settings config.TurnLogSettings) ([]orchestration.ConsoleOption, func()) {
	if settings.Kind != config.TurnLogRedis {
		return nil, func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: settings.RedisAddr})
	sink := redissink.New(client, redissink.WithStream(settings.Stream))
	return []orchestration.ConsoleOption{
		orchestration.WithTurnOptions(turns.WithSink(sink, turns.DefaultSinkQueue)),
	}, func() { _ = client.Close() }
}
