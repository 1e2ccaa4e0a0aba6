// Package wsrelay carries meeting relay traffic over websockets: a client
// Transport and the Hub server it connects to.
package wsrelay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-live/core/relay"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const writeTimeout = 5 * time.Second

// MeetingParam is the query parameter carrying the meeting id.
const MeetingParam = "meeting"

type Transport struct {
	url    string
	header http.Header
	dialer *websocket.Dialer
}

type TransportOption func(*Transport)

func WithHeader(header http.Header) TransportOption {
	return func(t *Transport) { t.header = header.Clone() }
}

func NewTransport(url string, opts ...TransportOption) *Transport {
	t := &Transport{url: url, header: http.Header{}, dialer: websocket.DefaultDialer}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Transport) Open(ctx context.Context, meetingID string) (relay.Channel, error) {
	ctx, span := tracer.Start(ctx, "open relay websocket")
	defer span.End()
	span.SetAttributes(attribute.String("relay.meeting_id", meetingID))

	u, err := url.Parse(t.url)
	if err != nil {
		return nil, fmt.Errorf("invalid relay url: %w", err)
	}
	query := u.Query()
	query.Set(MeetingParam, meetingID)
	u.RawQuery = query.Encode()

	ws, _, err := t.dialer.DialContext(ctx, u.String(), t.header)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to dial")
		return nil, fmt.Errorf("failed to open relay websocket: %w", err)
	}
	return &channel{ws: ws}, nil
}

type channel struct {
	ws        *websocket.Conn
	connMu    sync.Mutex
	closeOnce sync.Once
}

func (c *channel) Publish(ctx context.Context, payload []byte) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	return c.ws.WriteMessage(websocket.TextMessage, payload)
}

func (c *channel) Receive() ([]byte, error) {
	for {
		msgType, payload, err := c.ws.ReadMessage()
		if err != nil {
			return nil, err
		}
		if msgType == websocket.TextMessage {
			return payload, nil
		}
	}
}

func (c *channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.connMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.connMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
