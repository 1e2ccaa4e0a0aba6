package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"

	"github.com/cespare/xxhash/v2"
	"github.com/jinzhu/copier"
)

const (
	DefaultModel    = "gemini-2.5-flash-native-audio-preview-09-2025"
	DefaultVoice    = "Zephyr"
	DefaultLanguage = "west_flemish"
)

// Mode selects what the engine is asked to do with the user's speech.
type Mode string

const (
	// ModeTranslate speaks a translation of the user's speech aloud.
	ModeTranslate Mode = "translate"
	// ModeTranscribe produces text only; engine audio is not played.
	ModeTranscribe Mode = "transcribe"
)

func (m Mode) Valid() bool {
	return m == ModeTranslate || m == ModeTranscribe
}

var (
	ErrEmpty        = errors.New("configuration is empty")
	ErrMissingModel = errors.New("model is required")
)

// Snapshot is the configuration of one engine session. A live session holds
// its own clone; changing settings means building a new Snapshot with the
// With* methods, never mutating one in place.
type Snapshot struct {
	Model        string   `json:"model" yaml:"model"`
	Voice        string   `json:"voice" yaml:"voice"`
	Language     string   `json:"language" yaml:"language"`
	Mode         Mode     `json:"mode" yaml:"mode"`
	VoiceFocus   bool     `json:"voiceFocus" yaml:"voice_focus"`
	Instructions string   `json:"instructions,omitempty" yaml:"instructions"`
	Tools        []string `json:"tools,omitempty" yaml:"tools"`
}

// Default returns the configuration the console starts with.
func Default() Snapshot {
	return Snapshot{
		Model:    DefaultModel,
		Voice:    DefaultVoice,
		Language: DefaultLanguage,
		Mode:     ModeTranslate,
		Tools:    []string{"broadcast_to_websocket", "report_detected_language"},
	}
}

func (s Snapshot) IsZero() bool {
	return s.Model == "" &&
		s.Voice == "" &&
		s.Language == "" &&
		s.Mode == "" &&
		!s.VoiceFocus &&
		s.Instructions == "" &&
		len(s.Tools) == 0
}

// Validate reports whether the snapshot can be used to open a session.
func (s Snapshot) Validate() error {
	if s.IsZero() {
		return ErrEmpty
	}
	if s.Model == "" {
		return ErrMissingModel
	}
	if s.Mode != "" && !s.Mode.Valid() {
		return fmt.Errorf("unknown mode %q", s.Mode)
	}
	return nil
}

// EffectiveMode returns the mode, defaulting to translate.
func (s Snapshot) EffectiveMode() Mode {
	if s.Mode == "" {
		return ModeTranslate
	}
	return s.Mode
}

// Clone returns a deep copy that shares no memory with s.
func (s Snapshot) Clone() Snapshot {
	var out Snapshot
	if err := copier.CopyWithOption(&out, &s, copier.Option{DeepCopy: true}); err != nil {
		// copier only fails on mismatched kinds, which cannot happen for
		// identical types; fall back to a manual copy anyway.
		out = s
		out.Tools = slices.Clone(s.Tools)
	}
	return out
}

// Hash identifies the configuration. Tool order does not matter.
func (s Snapshot) Hash() string {
	normalized := s.Clone()
	slices.Sort(normalized.Tools)
	normalized.Tools = slices.Compact(normalized.Tools)
	data, err := json.Marshal(normalized)
	if err != nil {
		return ""
	}
	return strconv.FormatUint(xxhash.Sum64(data), 16)
}

// HasTool reports whether the named tool is enabled.
func (s Snapshot) HasTool(name string) bool {
	return slices.Contains(s.Tools, name)
}

func (s Snapshot) WithModel(model string) Snapshot {
	out := s.Clone()
	out.Model = model
	return out
}

func (s Snapshot) WithVoice(voice string) Snapshot {
	out := s.Clone()
	out.Voice = voice
	return out
}

func (s Snapshot) WithLanguage(language string) Snapshot {
	out := s.Clone()
	out.Language = language
	return out
}

func (s Snapshot) WithMode(mode Mode) Snapshot {
	out := s.Clone()
	out.Mode = mode
	return out
}

func (s Snapshot) WithVoiceFocus(focus bool) Snapshot {
	out := s.Clone()
	out.VoiceFocus = focus
	return out
}

func (s Snapshot) WithInstructions(instructions string) Snapshot {
	out := s.Clone()
	out.Instructions = instructions
	return out
}

// WithTool enables or disables a tool.
func (s Snapshot) WithTool(name string, enabled bool) Snapshot {
	out := s.Clone()
	out.Tools = slices.DeleteFunc(out.Tools, func(t string) bool { return t == name })
	if enabled {
		out.Tools = append(out.Tools, name)
	}
	return out
}
