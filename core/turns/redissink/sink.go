// Package redissink records finalized turns on a Redis stream.
package redissink

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/koscakluka/ema-live/core/turns"
)

const scopeName = "github.com/koscakluka/ema-live/core/turns/redissink"

var tracer = otel.Tracer(scopeName)

const (
	DefaultStream = "ema-live:turns"
	DefaultMaxLen = 10000
)

// Sink appends one stream entry per turn. The stream is trimmed to MaxLen
// entries on every write.
type Sink struct {
	client *redis.Client
	stream string
	maxLen int64
}

type Option func(*Sink)

func WithStream(stream string) Option {
	return func(s *Sink) {
		if stream != "" {
			s.stream = stream
		}
	}
}

// WithMaxLen bounds the stream length. Zero disables trimming.
func WithMaxLen(n int64) Option {
	return func(s *Sink) { s.maxLen = n }
}

func New(client *redis.Client, opts ...Option) *Sink {
	s := &Sink{client: client, stream: DefaultStream, maxLen: DefaultMaxLen}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Sink) Stream() string {
	return s.stream
}

func (s *Sink) Record(ctx context.Context, record turns.Record) error {
	ctx, span := tracer.Start(ctx, "record turn")
	defer span.End()
	span.SetAttributes(
		attribute.String("turn.id", record.Turn.ID),
		attribute.String("session.id", record.SessionID),
	)

	err := s.client.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Values: map[string]any{
			"turn_id":     record.Turn.ID,
			"session_id":  record.SessionID,
			"role":        string(record.Turn.Role),
			"user_text":   record.UserText,
			"agent_text":  record.Turn.Text,
			"language":    record.Language,
			"created_at":  record.Turn.CreatedAt.UTC().Format(time.RFC3339Nano),
			"audio_bytes": strconv.Itoa(len(record.Turn.Audio)),
		},
	}).Err()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}
