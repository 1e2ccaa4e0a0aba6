// Package gemini connects sessions to the Gemini Live API.
package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/core/tools"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"google.golang.org/genai"
)

type Dialer struct {
	client *genai.Client
	tools  *tools.Set
}

type DialerOption func(*dialerOptions)

type dialerOptions struct {
	baseURL string
	tools   *tools.Set
}

// WithBaseURL points the dialer at a different API endpoint.
func WithBaseURL(url string) DialerOption {
	return func(o *dialerOptions) { o.baseURL = url }
}

// WithTools sets the tool declarations sessions can enable. Defaults to
// tools.Declarations().
func WithTools(set *tools.Set) DialerOption {
	return func(o *dialerOptions) { o.tools = set }
}

func NewDialer(ctx context.Context, apiKey string, opts ...DialerOption) (*Dialer, error) {
	options := dialerOptions{tools: tools.Declarations()}
	for _, opt := range opts {
		opt(&options)
	}

	clientConfig := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if options.baseURL != "" {
		clientConfig.HTTPOptions = genai.HTTPOptions{BaseURL: options.baseURL}
	}
	client, err := genai.NewClient(ctx, clientConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Dialer{client: client, tools: options.tools}, nil
}

func (d *Dialer) Dial(ctx context.Context, cfg config.Snapshot) (session.Conn, error) {
	ctx, span := tracer.Start(ctx, "dial gemini live")
	defer span.End()
	span.SetAttributes(attribute.String("gemini.model", cfg.Model))

	live, err := d.client.Live.Connect(ctx, cfg.Model, connectConfig(cfg, d.tools))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to connect")
		return nil, err
	}
	return &conn{live: live}, nil
}

// connectConfig maps a snapshot to the setup sent with the handshake. Input
// transcription is always requested since transcribe mode depends on it.
func connectConfig(cfg config.Snapshot, set *tools.Set) *genai.LiveConnectConfig {
	connect := &genai.LiveConnectConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SpeechConfig: &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		},
		SystemInstruction:        &genai.Content{Parts: []*genai.Part{{Text: cfg.SystemInstruction()}}},
		InputAudioTranscription:  &genai.AudioTranscriptionConfig{},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}

	if declarations := functionDeclarations(set.Enabled(cfg.Tools)); len(declarations) > 0 {
		connect.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}
	return connect
}

func functionDeclarations(enabled []tools.Tool) []*genai.FunctionDeclaration {
	declarations := make([]*genai.FunctionDeclaration, 0, len(enabled))
	for _, t := range enabled {
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  convertSchema(t.Parameters()),
		})
	}
	return declarations
}

type conn struct {
	live *genai.Session
}

func (c *conn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	return c.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: chunk.Data, MIMEType: audio.CaptureEncoding().MIMEType()},
	})
}

func (c *conn) SendContent(_ context.Context, parts []string, turnComplete bool) error {
	content := &genai.Content{Role: genai.RoleUser}
	for _, text := range parts {
		content.Parts = append(content.Parts, &genai.Part{Text: text})
	}
	return c.live.SendClientContent(genai.LiveClientContentInput{
		Turns:        []*genai.Content{content},
		TurnComplete: genai.Ptr(turnComplete),
	})
}

func (c *conn) SendToolResponses(_ context.Context, responses []session.ToolResponse) error {
	functionResponses := make([]*genai.FunctionResponse, 0, len(responses))
	for _, r := range responses {
		functionResponses = append(functionResponses, &genai.FunctionResponse{
			ID:       r.ID,
			Name:     r.Name,
			Response: r.Response,
		})
	}
	return c.live.SendToolResponse(genai.LiveToolResponseInput{FunctionResponses: functionResponses})
}

func (c *conn) Receive() (session.Frame, error) {
	msg, err := c.live.Receive()
	if err != nil {
		return session.Frame{}, receiveError(err)
	}
	if msg.GoAway != nil {
		logger.Warn("engine is going away", "time_left", msg.GoAway.TimeLeft)
	}
	return translate(msg)
}

func (c *conn) Close() error {
	return c.live.Close()
}

func receiveError(err error) error {
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return io.EOF
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &session.ProtocolError{Reason: "undecodable server message", Err: err}
	}
	return err
}
