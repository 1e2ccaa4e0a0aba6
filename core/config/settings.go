package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	EngineGemini = "gemini"
	EngineWire   = "wire"

	RelayNone      = "none"
	RelayWebSocket = "websocket"
	RelayRedis     = "redis"

	AudioMiniaudio = "miniaudio"
	AudioPortaudio = "portaudio"
	AudioNone      = "none"

	TurnLogNone  = "none"
	TurnLogRedis = "redis"

	DefaultTurnLogStream = "ema-live:turns"

	DefaultReconnectDebounce = 500 * time.Millisecond
	DefaultPlaybackQueue     = 256
	DefaultRelayURL          = "ws://localhost:8787/relay"
)

// Settings is the application configuration, loaded once at startup. The
// Session part seeds the first Snapshot.
type Settings struct {
	Engine            EngineSettings  `yaml:"engine"`
	Relay             RelaySettings   `yaml:"relay"`
	Audio             AudioSettings   `yaml:"audio"`
	TurnLog           TurnLogSettings `yaml:"turn_log"`
	Session           Snapshot        `yaml:"session"`
	ReconnectDebounce time.Duration   `yaml:"reconnect_debounce"`
}

type EngineSettings struct {
	Kind   string `yaml:"kind"`
	APIKey string `yaml:"api_key"`
	URL    string `yaml:"url"`
}

type RelaySettings struct {
	Kind      string `yaml:"kind"`
	URL       string `yaml:"url"`
	RedisAddr string `yaml:"redis_addr"`
	Meeting   string `yaml:"meeting"`
}

// TurnLogSettings selects where finalized agent turns are recorded.
type TurnLogSettings struct {
	Kind      string `yaml:"kind"`
	RedisAddr string `yaml:"redis_addr"`
	Stream    string `yaml:"stream"`
}

type AudioSettings struct {
	Backend         string `yaml:"backend"`
	PlaybackQueue   int    `yaml:"playback_queue"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// DefaultSettings returns settings usable without any file or environment,
// except for the engine API key.
func DefaultSettings() Settings {
	return Settings{
		Engine: EngineSettings{Kind: EngineGemini},
		Relay:  RelaySettings{Kind: RelayWebSocket, URL: DefaultRelayURL},
		Audio: AudioSettings{
			Backend:         AudioMiniaudio,
			PlaybackQueue:   DefaultPlaybackQueue,
			FramesPerBuffer: 2048,
		},
		TurnLog:           TurnLogSettings{Kind: TurnLogNone, Stream: DefaultTurnLogStream},
		Session:           Default(),
		ReconnectDebounce: DefaultReconnectDebounce,
	}
}

// Load resolves settings from defaults, then the YAML file at path (if not
// empty), then EMA_LIVE_* environment variables.
func Load(path string) (Settings, error) {
	settings := DefaultSettings()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Settings{}, fmt.Errorf("failed to read settings file: %w", err)
		}
		if err := yaml.Unmarshal(data, &settings); err != nil {
			return Settings{}, fmt.Errorf("failed to parse settings file: %w", err)
		}
	}

	settings.applyEnv()

	if settings.ReconnectDebounce <= 0 {
		settings.ReconnectDebounce = DefaultReconnectDebounce
	}
	if settings.TurnLog.Stream == "" {
		settings.TurnLog.Stream = DefaultTurnLogStream
	}
	if settings.Audio.PlaybackQueue <= 0 {
		settings.Audio.PlaybackQueue = DefaultPlaybackQueue
	}
	if settings.Audio.FramesPerBuffer < 256 {
		settings.Audio.FramesPerBuffer = 2048
	}

	return settings, settings.Validate()
}

func (s *Settings) applyEnv() {
	s.Engine.Kind = envOrDefault("EMA_LIVE_ENGINE", s.Engine.Kind)
	s.Engine.APIKey = firstNonEmpty(os.Getenv("EMA_LIVE_API_KEY"), os.Getenv("GEMINI_API_KEY"), s.Engine.APIKey)
	s.Engine.URL = envOrDefault("EMA_LIVE_ENGINE_URL", s.Engine.URL)

	s.Relay.Kind = envOrDefault("EMA_LIVE_RELAY", s.Relay.Kind)
	s.Relay.URL = envOrDefault("EMA_LIVE_RELAY_URL", s.Relay.URL)
	s.Relay.RedisAddr = envOrDefault("EMA_LIVE_REDIS_ADDR", s.Relay.RedisAddr)
	s.Relay.Meeting = envOrDefault("EMA_LIVE_MEETING", s.Relay.Meeting)

	s.Audio.Backend = envOrDefault("EMA_LIVE_AUDIO_BACKEND", s.Audio.Backend)
	s.Audio.PlaybackQueue = envOrDefaultInt("EMA_LIVE_PLAYBACK_QUEUE", s.Audio.PlaybackQueue)

	s.TurnLog.Kind = envOrDefault("EMA_LIVE_TURN_LOG", s.TurnLog.Kind)
	s.TurnLog.RedisAddr = envOrDefault("EMA_LIVE_TURN_LOG_REDIS_ADDR", s.TurnLog.RedisAddr)
	s.TurnLog.Stream = envOrDefault("EMA_LIVE_TURN_LOG_STREAM", s.TurnLog.Stream)

	s.Session.Model = envOrDefault("EMA_LIVE_MODEL", s.Session.Model)
	s.Session.Voice = envOrDefault("EMA_LIVE_VOICE", s.Session.Voice)
	s.Session.Language = envOrDefault("EMA_LIVE_LANGUAGE", s.Session.Language)
	s.Session.Mode = Mode(envOrDefault("EMA_LIVE_MODE", string(s.Session.Mode)))

	if ms := envOrDefaultInt("EMA_LIVE_RECONNECT_DEBOUNCE_MS", -1); ms >= 0 {
		s.ReconnectDebounce = time.Duration(ms) * time.Millisecond
	}
}

// Validate checks that the selected backends have what they need.
func (s Settings) Validate() error {
	var errs []error

	switch s.Engine.Kind {
	case EngineGemini:
		if s.Engine.APIKey == "" {
			errs = append(errs, errors.New("engine api key is required for the gemini engine"))
		}
	case EngineWire:
		if s.Engine.URL == "" {
			errs = append(errs, errors.New("engine url is required for the wire engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown engine %q", s.Engine.Kind))
	}

	switch s.Relay.Kind {
	case RelayNone, "":
	case RelayWebSocket:
		if s.Relay.URL == "" {
			errs = append(errs, errors.New("relay url is required for the websocket relay"))
		}
	case RelayRedis:
		if s.Relay.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis relay"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown relay %q", s.Relay.Kind))
	}

	switch s.TurnLog.Kind {
	case TurnLogNone, "":
	case TurnLogRedis:
		if s.TurnLog.RedisAddr == "" {
			errs = append(errs, errors.New("redis address is required for the redis turn log"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown turn log %q", s.TurnLog.Kind))
	}

	switch s.Audio.Backend {
	case AudioMiniaudio, AudioPortaudio, AudioNone:
	default:
		errs = append(errs, fmt.Errorf("unknown audio backend %q", s.Audio.Backend))
	}

	if err := s.Session.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("session: %w", err))
	}

	return errors.Join(errs...)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func envOrDefault(key string, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}

func envOrDefaultInt(key string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}
