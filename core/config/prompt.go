package config

import (
	"strings"
)

const translatorTemplate = `SYSTEM PROMPT: SIMULTANEOUS INTERPRETER
PERSONA: You are {VOICE_ALIAS}, a high-fidelity conference interpreter.

OPERATING PROTOCOLS:
1. SYNC: Call the "broadcast_to_websocket" tool for every chunk of translated text you generate so every participant in the meeting sees your output in real time.
2. VERBATIM FIDELITY: Keep the exact meaning, register and dialect of the source. For {TARGET_LANGUAGE}, focus on: {PHONETIC_NUANCE}.
3. ZERO LATENCY: Translate as the audio arrives. Do not wait for a full sentence if the meaning is clear.
4. PURE OUTPUT: Output only the translated speech. No explanations.
5. NO META-TALK: Never say "Translating to..." or "I think you said...".
{VOICE_FOCUS_INSTRUCTION}`

const transcriptionTemplate = `SYSTEM PROMPT: VERBATIM SCRIBE
PERSONA: You are a professional verbatim transcriptionist.

OPERATING PROTOCOLS:
1. TRANSCRIPTION FOCUS: You are in transcription mode. Text accuracy is the only goal.
2. SYNC: Call the "broadcast_to_websocket" tool for every phrase or sentence transcribed so remote participants see the text instantly.
3. AUDIO MODALITY: You operate on an audio channel. You may produce soft neutral vocalizations, but your contribution is the tool-based text output.
4. VERBATIM ACCURACY: Do not summarize. Capture every stutter, hesitation and word exactly.
5. DETECT AND REPORT: Call "report_detected_language" as soon as the speaker's language is known.
6. ZERO LATENCY: Output text in small, rapid segments.
{VOICE_FOCUS_INSTRUCTION}`

const voiceFocusInstruction = `VOICE FOCUS: ENABLED. Isolate the primary speaker's voice and reject environmental noise.`

// LanguageProfile describes how to speak a target language.
type LanguageProfile struct {
	Name           string
	Dialect        string
	Instructions   string
	PhoneticNuance string
}

var languageProfiles = map[string]LanguageProfile{
	"west_flemish": {
		Name:           "West Flemish",
		Dialect:        "Coastal raw dialect",
		Instructions:   "Translate verbatim into raw West-Vlaams.",
		PhoneticNuance: "Sharp, short vowels, G-H shift, high coastal resonance.",
	},
	"dutch_flemish": {
		Name:           "Flemish Dutch",
		Dialect:        "Belgian Dutch",
		Instructions:   "Belgian vocabulary only.",
		PhoneticNuance: "Soft g, musical intonation, Antwerp/Gent mix.",
	},
	"taglish": {
		Name:           "Taglish",
		Dialect:        "Modern Manila Mixed",
		Instructions:   "Fluid mixing of Tagalog and English for urban communication.",
		PhoneticNuance: "Fast-paced, high inflection, specific urban Manila cadence.",
	},
}

var voiceAliases = map[string]string{
	"Zephyr": "King Aeolus (Master of the Winds)",
	"Puck":   "King Pan (Spirit of Nature)",
	"Charon": "King Hades (Oracle of the Deep)",
	"Kore":   "Queen Persephone (Queen of the Underworld)",
	"Fenrir": "King Lycaon (Ancient Guardian)",
	"Aoede":  "Muse Aoede (Voice of Song)",
	"Orus":   "King Orus (Keeper of the Dawn)",
	"Leda":   "Queen Leda (Keeper of the Lake)",
}

// Voices lists the prebuilt voices with a persona alias.
func Voices() []string {
	return []string{"Zephyr", "Puck", "Charon", "Kore", "Fenrir", "Aoede", "Orus", "Leda"}
}

// VoiceAlias returns the persona name used in prompts for a voice.
func VoiceAlias(voice string) string {
	if alias, ok := voiceAliases[voice]; ok {
		return alias
	}
	return "Persona " + voice
}

// Language returns the profile for a language id, deriving a generic one
// from the id when there is no built-in profile.
func Language(id string) LanguageProfile {
	if profile, ok := languageProfiles[id]; ok {
		return profile
	}

	words := strings.Fields(strings.ReplaceAll(id, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return LanguageProfile{
		Name:           strings.Join(words, " "),
		Dialect:        "Standard",
		Instructions:   "1:1 verbatim output.",
		PhoneticNuance: "Clear, formal intonation.",
	}
}

// SystemInstruction renders the system prompt for the snapshot. Extra
// Instructions are appended after the template.
func (s Snapshot) SystemInstruction() string {
	focus := ""
	if s.VoiceFocus {
		focus = voiceFocusInstruction
	}

	var prompt string
	switch s.EffectiveMode() {
	case ModeTranscribe:
		prompt = strings.Replace(transcriptionTemplate, "{VOICE_FOCUS_INSTRUCTION}", focus, 1)
	default:
		language := Language(s.Language)
		prompt = strings.NewReplacer(
			"{VOICE_ALIAS}", VoiceAlias(s.Voice),
			"{TARGET_LANGUAGE}", language.Name,
			"{PHONETIC_NUANCE}", language.PhoneticNuance,
			"{VOICE_FOCUS_INSTRUCTION}", focus,
		).Replace(translatorTemplate)
	}

	prompt = strings.TrimRight(prompt, "\n")
	if s.Instructions != "" {
		prompt += "\n\n" + s.Instructions
	}
	return prompt
}
