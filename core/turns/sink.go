package turns

import (
	"context"
	"time"
)

const (
	DefaultSinkQueue   = 64
	defaultSinkTimeout = 5 * time.Second
)

// Record is what a Sink receives for each finalized agent turn.
type Record struct {
	SessionID string
	// UserText is the user input the agent answered, if known.
	UserText string
	Language string
	Turn     Turn
}

// Sink stores finalized agent turns outside the process.
type Sink interface {
	Record(ctx context.Context, record Record) error
}

// WithSink records every finalized agent turn that has text. Records are
// written in order from a single goroutine; when the sink falls behind by
// more than queue records, new ones are dropped.
func WithSink(sink Sink, queue int) AggregatorOption {
	return func(a *Aggregator) {
		a.sink = sink
		a.sinkQueueLen = queue
	}
}

func (a *Aggregator) sinkQueueSize() int {
	if a.sinkQueueLen <= 0 {
		return DefaultSinkQueue
	}
	return a.sinkQueueLen
}

// record must be called with mu held.
func (a *Aggregator) record(turn Turn) {
	if a.sink == nil || a.closed || turn.Text == "" {
		return
	}

	rec := Record{
		SessionID: a.sessionID,
		UserText:  a.lastUserText,
		Language:  a.language,
		Turn:      turn,
	}
	select {
	case a.sinkQueue <- rec:
	default:
		logger.Warn("turn sink queue full, dropping turn", "turn_id", turn.ID)
	}
}

func (a *Aggregator) recordLoop() {
	defer close(a.sinkDone)
	for rec := range a.sinkQueue {
		ctx, cancel := context.WithTimeout(context.Background(), defaultSinkTimeout)
		if err := a.sink.Record(ctx, rec); err != nil {
			logger.Warn("failed to record turn", "turn_id", rec.Turn.ID, "error", err)
		}
		cancel()
	}
}
