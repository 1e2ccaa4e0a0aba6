package gemini

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/session"
	"google.golang.org/genai"
)

// translate converts a server message into a frame. Audio parts with an odd
// byte length cannot be 16-bit PCM and fail the whole message.
func translate(msg *genai.LiveServerMessage) (session.Frame, error) {
	var frame session.Frame
	if msg == nil {
		return frame, nil
	}

	if content := msg.ServerContent; content != nil {
		if t := content.InputTranscription; t != nil {
			frame.InputTranscription = &session.Transcription{Text: t.Text, Finished: t.Finished}
		}
		if t := content.OutputTranscription; t != nil {
			frame.OutputTranscription = &session.Transcription{Text: t.Text, Finished: t.Finished}
		}
		if turn := content.ModelTurn; turn != nil {
			for _, part := range turn.Parts {
				if part == nil {
					continue
				}
				if part.Text != "" && !part.Thought {
					frame.ModelText = append(frame.ModelText, part.Text)
				}
				if blob := part.InlineData; blob != nil && strings.HasPrefix(blob.MIMEType, "audio/") {
					if len(blob.Data)%2 != 0 {
						return session.Frame{}, &session.ProtocolError{
							Reason: fmt.Sprintf("audio part has odd length %d", len(blob.Data)),
						}
					}
					frame.ModelAudio = append(frame.ModelAudio, blob.Data)
				}
			}
		}
		frame.Interrupted = content.Interrupted
		frame.TurnComplete = content.TurnComplete
	}

	if call := msg.ToolCall; call != nil {
		for _, fc := range call.FunctionCalls {
			if fc == nil {
				continue
			}
			frame.ToolCalls = append(frame.ToolCalls, events.ToolInvocation{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	return frame, nil
}

// convertSchema maps a reflected JSON schema onto the subset the Live API
// accepts for function parameters.
func convertSchema(s *jsonschema.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Description: s.Description,
		Required:    s.Required,
	}
	switch s.Type {
	case "object":
		out.Type = genai.TypeObject
	case "string":
		out.Type = genai.TypeString
	case "integer":
		out.Type = genai.TypeInteger
	case "number":
		out.Type = genai.TypeNumber
	case "boolean":
		out.Type = genai.TypeBoolean
	case "array":
		out.Type = genai.TypeArray
		out.Items = convertSchema(s.Items)
	}
	for _, e := range s.Enum {
		if str, ok := e.(string); ok {
			out.Enum = append(out.Enum, str)
		}
	}

	if s.Properties != nil && s.Properties.Len() > 0 {
		out.Properties = make(map[string]*genai.Schema, s.Properties.Len())
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			out.Properties[pair.Key] = convertSchema(pair.Value)
		}
	}
	return out
}
