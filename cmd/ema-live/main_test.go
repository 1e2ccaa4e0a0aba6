package main

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/relay"
	"github.com/koscakluka/ema-live/core/session/wire"
)

func TestMeetingNewPrintsValidID(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"meeting", "new"})
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	if err := rootCmd.Execute(); err != nil {
		t.Fatalf("meeting new failed: %v", err)
	}
	id := strings.TrimSpace(out.String())
	if _, err := relay.NormalizeMeetingID(id); err != nil {
		t.Fatalf("printed invalid meeting id %q: %v", id, err)
	}
}

func TestNewDialerWire(t *testing.T) {
	dialer, err := newDialer(context.Background(), config.EngineSettings{Kind: config.EngineWire, URL: "ws://localhost:1/live"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := dialer.(*wire.Dialer); !ok {
		t.Fatalf("expected wire dialer, got %T", dialer)
	}
}

func TestRelayOptionsNone(t *testing.T) {
	opts, closeRelay := relayOptions(config.RelaySettings{Kind: config.RelayNone})
	defer closeRelay()
	if len(opts) != 0 {
		t.Fatalf("expected no relay options, got %d", len(opts))
	}
}

func TestAudioOptionsNone(t *testing.T) {
	opts, closeAudio, err := audioOptions(config.AudioSettings{Backend: config.AudioNone})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer closeAudio()
	if len(opts) != 0 {
		t.Fatalf("expected no audio options, got %d", len(opts))
	}
}

func TestTurnLogOptions(t *testing.T) {
	opts, closeTurnLog := turnLogOptions(config.TurnLogSettings{Kind: config.TurnLogNone})
	closeTurnLog()
	if len(opts) != 0 {
		t.Fatalf("expected no turn log options, got %d", len(opts))
	}

	opts, closeTurnLog = turnLogOptions(config.TurnLogSettings{Kind: config.TurnLogRedis, RedisAddr: "localhost:6379", Stream: "test:turns"})
	defer closeTurnLog()
	if len(opts) != 1 {
		t.Fatalf("expected one turn log option, got %d", len(opts))
	}
}
