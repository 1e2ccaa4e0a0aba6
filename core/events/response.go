package events

import "github.com/koscakluka/ema-live/core/audio"

const (
	// KindContent identifies partial model text.
	KindContent Kind = "response.content"
	// KindAudioChunk identifies a decoded model audio chunk.
	KindAudioChunk Kind = "response.audio_chunk"
	// KindOutputTranscription identifies partial transcript of model speech.
	KindOutputTranscription Kind = "response.output_transcription"
	// KindInputTranscription identifies partial transcript of user speech.
	KindInputTranscription Kind = "input.transcription"
)

// Content carries partial model text.
type Content struct {
	Base
	Text string
}

// NewContent creates a content event.
func NewContent(text string) Content {
	return Content{Base: NewBase(KindContent), Text: text}
}

// AudioChunk carries one chunk of model audio.
type AudioChunk struct {
	Base
	Chunk audio.Chunk
}

// NewAudioChunk creates an audio chunk event.
func NewAudioChunk(chunk audio.Chunk) AudioChunk {
	return AudioChunk{Base: NewBase(KindAudioChunk), Chunk: chunk}
}

// OutputTranscription carries partial transcript of model speech.
type OutputTranscription struct {
	Base
	Text     string
	Finished bool
}

// NewOutputTranscription creates an output transcription event.
func NewOutputTranscription(text string, finished bool) OutputTranscription {
	return OutputTranscription{Base: NewBase(KindOutputTranscription), Text: text, Finished: finished}
}

// InputTranscription carries partial transcript of user speech.
type InputTranscription struct {
	Base
	Text     string
	Finished bool
}

// NewInputTranscription creates an input transcription event.
func NewInputTranscription(text string, finished bool) InputTranscription {
	return InputTranscription{Base: NewBase(KindInputTranscription), Text: text, Finished: finished}
}
