package session

import (
	"context"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
)

// Dialer opens duplex channels to a remote speech engine. The channel is
// configured with cfg for its whole lifetime.
type Dialer interface {
	Dial(ctx context.Context, cfg config.Snapshot) (Conn, error)
}

// Conn is one open engine channel. Send methods are only called from a
// single writer goroutine and Receive only from a single reader goroutine.
// Close must unblock a pending Receive.
type Conn interface {
	// SendAudio streams one microphone chunk (realtimeInput).
	SendAudio(ctx context.Context, chunk audio.Chunk) error
	// SendContent sends user text (clientContent).
	SendContent(ctx context.Context, parts []string, turnComplete bool) error
	// SendToolResponses acknowledges tool invocations (toolResponse).
	SendToolResponses(ctx context.Context, responses []ToolResponse) error
	// Receive blocks for the next server frame. A *ProtocolError means the
	// frame was malformed and the channel is still usable.
	Receive() (Frame, error)
	Close() error
}

// ToolResponse answers one ToolInvocation.
type ToolResponse struct {
	ID       string
	Name     string
	Response map[string]any
}

// OK is the acknowledgement every tool invocation receives.
func OK() map[string]any {
	return map[string]any{"result": "ok"}
}

// Transcription is a partial transcript carried by a frame.
type Transcription struct {
	Text     string
	Finished bool
}

// Frame is one decoded server frame. A frame may carry several kinds of
// content at once; the client emits them as separate events in field order.
type Frame struct {
	InputTranscription  *Transcription
	OutputTranscription *Transcription
	// ModelText holds text parts of the model turn.
	ModelText []string
	// ModelAudio holds decoded 24 kHz PCM parts of the model turn.
	ModelAudio   [][]byte
	Interrupted  bool
	TurnComplete bool
	ToolCalls    []events.ToolInvocation
}

// Empty reports whether the frame carries nothing the client acts on, such
// as setup acknowledgements or usage metadata.
func (f Frame) Empty() bool {
	return f.InputTranscription == nil &&
		f.OutputTranscription == nil &&
		len(f.ModelText) == 0 &&
		len(f.ModelAudio) == 0 &&
		!f.Interrupted &&
		!f.TurnComplete &&
		len(f.ToolCalls) == 0
}
