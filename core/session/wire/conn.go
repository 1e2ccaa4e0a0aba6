// Package wire speaks the engine protocol directly over a websocket. It is
// meant for self-hosted engine proxies.
package wire

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const closeGracePeriod = time.Second

type Dialer struct {
	url    string
	header http.Header
	tools  *tools.Set
	dialer *websocket.Dialer
}

type DialerOption func(*Dialer)

// WithHeader adds handshake headers, e.g. for authentication.
func WithHeader(header http.Header) DialerOption {
	return func(d *Dialer) { d.header = header.Clone() }
}

func WithTools(set *tools.Set) DialerOption {
	return func(d *Dialer) { d.tools = set }
}

func NewDialer(url string, opts ...DialerOption) *Dialer {
	d := &Dialer{
		url:    url,
		header: http.Header{},
		tools:  tools.Declarations(),
		dialer: websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) Dial(ctx context.Context, cfg config.Snapshot) (session.Conn, error) {
	ctx, span := tracer.Start(ctx, "dial engine websocket")
	defer span.End()
	span.SetAttributes(attribute.String("wire.url", d.url))

	ws, _, err := d.dialer.DialContext(ctx, d.url, d.header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dial")
		return nil, fmt.Errorf("failed to open engine websocket: %w", err)
	}

	c := &conn{ws: ws}
	if err := c.write(ClientMessage{Setup: setupFrame(cfg, d.tools)}); err != nil {
		_ = ws.Close()
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to send setup")
		return nil, fmt.Errorf("failed to send setup: %w", err)
	}
	return c, nil
}

func setupFrame(cfg config.Snapshot, set *tools.Set) *Setup {
	setup := &Setup{
		Model:                    cfg.Model,
		Voice:                    cfg.Voice,
		SystemInstruction:        cfg.SystemInstruction(),
		InputAudioTranscription:  &struct{}{},
		OutputAudioTranscription: &struct{}{},
	}
	for _, t := range set.Enabled(cfg.Tools) {
		setup.Tools = append(setup.Tools, FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return setup
}

type conn struct {
	ws     *websocket.Conn
	connMu sync.Mutex
}

func (c *conn) write(msg ClientMessage) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.ws.WriteJSON(msg)
}

func (c *conn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	return c.write(ClientMessage{RealtimeInput: &RealtimeInput{Media: Blob{
		MIMEType: audio.CaptureEncoding().MIMEType(),
		Data:     audio.EncodeBase64(chunk.Data),
	}}})
}

func (c *conn) SendContent(_ context.Context, parts []string, turnComplete bool) error {
	content := Content{Role: "user"}
	for _, text := range parts {
		content.Parts = append(content.Parts, Part{Text: text})
	}
	return c.write(ClientMessage{ClientContent: &ClientContent{
		Turns:        []Content{content},
		TurnComplete: turnComplete,
	}})
}

func (c *conn) SendToolResponses(_ context.Context, responses []session.ToolResponse) error {
	out := make([]FunctionResponse, 0, len(responses))
	for _, r := range responses {
		out = append(out, FunctionResponse{ID: r.ID, Name: r.Name, Response: r.Response})
	}
	return c.write(ClientMessage{ToolResponse: &ToolResponse{FunctionResponses: out}})
}

func (c *conn) Receive() (session.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
			return session.Frame{}, io.EOF
		}
		return session.Frame{}, err
	}

	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return session.Frame{}, &session.ProtocolError{Reason: "undecodable server message", Err: err}
	}
	return Decode(msg)
}

func (c *conn) Close() error {
	c.connMu.Lock()
	err := c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(closeGracePeriod))
	c.connMu.Unlock()
	if err != nil && err != websocket.ErrCloseSent {
		logger.Debug("failed to send close message", "error", err)
	}
	return c.ws.Close()
}

// Decode converts a server message into a frame.
func Decode(msg ServerMessage) (session.Frame, error) {
	var frame session.Frame

	if content := msg.ServerContent; content != nil {
		if t := content.InputTranscription; t != nil {
			frame.InputTranscription = &session.Transcription{Text: t.Text, Finished: t.Finished}
		}
		if t := content.OutputTranscription; t != nil {
			frame.OutputTranscription = &session.Transcription{Text: t.Text, Finished: t.Finished}
		}
		if turn := content.ModelTurn; turn != nil {
			for _, part := range turn.Parts {
				if part.Text != "" {
					frame.ModelText = append(frame.ModelText, part.Text)
				}
				if blob := part.InlineData; blob != nil && strings.HasPrefix(blob.MIMEType, "audio/") {
					pcm, err := audio.DecodeBase64(blob.Data)
					if err != nil {
						return session.Frame{}, &session.ProtocolError{Reason: "invalid audio payload", Err: err}
					}
					frame.ModelAudio = append(frame.ModelAudio, pcm)
				}
			}
		}
		frame.Interrupted = content.Interrupted
		frame.TurnComplete = content.TurnComplete
	}

	if call := msg.ToolCall; call != nil {
		for _, fc := range call.FunctionCalls {
			frame.ToolCalls = append(frame.ToolCalls, events.ToolInvocation{ID: fc.ID, Name: fc.Name, Args: fc.Args})
		}
	}
	return frame, nil
}
