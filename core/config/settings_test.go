package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"EMA_LIVE_ENGINE", "EMA_LIVE_API_KEY", "GEMINI_API_KEY", "EMA_LIVE_ENGINE_URL",
		"EMA_LIVE_RELAY", "EMA_LIVE_RELAY_URL", "EMA_LIVE_REDIS_ADDR", "EMA_LIVE_MEETING",
		"EMA_LIVE_AUDIO_BACKEND", "EMA_LIVE_PLAYBACK_QUEUE", "EMA_LIVE_MODEL", "EMA_LIVE_VOICE",
		"EMA_LIVE_LANGUAGE", "EMA_LIVE_MODE", "EMA_LIVE_RECONNECT_DEBOUNCE_MS",
		"EMA_LIVE_TURN_LOG", "EMA_LIVE_TURN_LOG_REDIS_ADDR", "EMA_LIVE_TURN_LOG_STREAM",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadRequiresAPIKeyForGemini(t *testing.T) {
	clearEnv(t)

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "api key") {
		t.Fatalf("expected api key error, got %v", err)
	}
}

func TestLoadReadsFileThenEnvironment(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "ema-live.yaml")
	data := `
engine:
  kind: wire
  url: ws://engine.local/live
relay:
  kind: redis
  redis_addr: localhost:6379
  meeting: ab12cd
session:
  model: test-model
  voice: Kore
  mode: transcribe
reconnect_debounce: 250ms
`
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	t.Setenv("EMA_LIVE_VOICE", "Charon")
	t.Setenv("EMA_LIVE_PLAYBACK_QUEUE", "32")

	settings, err := Load(path)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if settings.Engine.Kind != EngineWire || settings.Engine.URL != "ws://engine.local/live" {
		t.Fatalf("unexpected engine settings: %+v", settings.Engine)
	}
	if settings.Relay.Kind != RelayRedis || settings.Relay.Meeting != "ab12cd" {
		t.Fatalf("unexpected relay settings: %+v", settings.Relay)
	}
	if settings.Session.Model != "test-model" || settings.Session.Mode != ModeTranscribe {
		t.Fatalf("unexpected session settings: %+v", settings.Session)
	}
	if settings.Session.Voice != "Charon" {
		t.Fatalf("expected environment to override voice, got %q", settings.Session.Voice)
	}
	if settings.Audio.PlaybackQueue != 32 {
		t.Fatalf("expected playback queue 32, got %d", settings.Audio.PlaybackQueue)
	}
	if settings.ReconnectDebounce != 250*time.Millisecond {
		t.Fatalf("expected 250ms debounce, got %v", settings.ReconnectDebounce)
	}
}

func TestLoadRejectsUnknownBackends(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMA_LIVE_API_KEY", "key")
	t.Setenv("EMA_LIVE_RELAY", "carrier-pigeon")

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "carrier-pigeon") {
		t.Fatalf("expected unknown relay error, got %v", err)
	}
}

func TestLoadTurnLogSettings(t *testing.T) {
	clearEnv(t)
	t.Setenv("EMA_LIVE_API_KEY", "key")
	t.Setenv("EMA_LIVE_TURN_LOG", TurnLogRedis)

	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "turn log") {
		t.Fatalf("expected turn log address error, got %v", err)
	}

	t.Setenv("EMA_LIVE_TURN_LOG_REDIS_ADDR", "localhost:6379")
	settings, err := Load("")
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if settings.TurnLog.Kind != TurnLogRedis || settings.TurnLog.Stream != DefaultTurnLogStream {
		t.Fatalf("unexpected turn log settings: %+v", settings.TurnLog)
	}
}
