package turns

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
)

const (
	DefaultSegmentLimit     = 4
	DefaultInputIdleTimeout = 7 * time.Second
	DefaultDisplayTimeout   = 8 * time.Second
)

// Display is the live, non-historical view of the conversation.
type Display struct {
	// Segments holds the most recent input transcription partials.
	Segments []string
	// Translation is the agent's current output text.
	Translation      string
	DetectedLanguage string
	// RemoteInput is set while the current exchange was started by a prompt
	// from another meeting participant.
	RemoteInput bool
	Speaking    bool
}

// Transcription joins the input segments for display.
func (d Display) Transcription() string {
	return strings.Join(d.Segments, " ")
}

// Timer is the part of *time.Timer the aggregator uses.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d, like time.AfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

// Aggregator consumes session events and maintains the TurnLog and the live
// Display. It is the only writer of its Log.
type Aggregator struct {
	log *Log

	segmentLimit     int
	inputIdleTimeout time.Duration
	displayTimeout   time.Duration
	now              func() time.Time
	afterFunc        AfterFunc

	sink         Sink
	sinkQueueLen int
	sinkQueue    chan Record
	sinkDone     chan struct{}

	mu            sync.Mutex
	closed        bool
	mode          config.Mode
	language      string
	sessionID     string
	display       Display
	lastUserText  string
	audio         bytes.Buffer
	lastTimestamp int64

	inputTimer      Timer
	inputTimerGen   uint64
	displayTimer    Timer
	displayTimerGen uint64
}

type AggregatorOption func(*Aggregator)

// WithClock replaces the wall clock and timer scheduling.
func WithClock(now func() time.Time, afterFunc AfterFunc) AggregatorOption {
	return func(a *Aggregator) {
		a.now = now
		a.afterFunc = afterFunc
	}
}

func WithInputIdleTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.inputIdleTimeout = d }
}

func WithDisplayTimeout(d time.Duration) AggregatorOption {
	return func(a *Aggregator) { a.displayTimeout = d }
}

func WithSegmentLimit(n int) AggregatorOption {
	return func(a *Aggregator) {
		if n > 0 {
			a.segmentLimit = n
		}
	}
}

func WithMode(mode config.Mode) AggregatorOption {
	return func(a *Aggregator) { a.mode = mode }
}

// WithLanguage sets the target language recorded with finalized turns.
func WithLanguage(language string) AggregatorOption {
	return func(a *Aggregator) { a.language = language }
}

func NewAggregator(log *Log, opts ...AggregatorOption) *Aggregator {
	if log == nil {
		log = NewLog()
	}
	a := &Aggregator{
		log:              log,
		segmentLimit:     DefaultSegmentLimit,
		inputIdleTimeout: DefaultInputIdleTimeout,
		displayTimeout:   DefaultDisplayTimeout,
		now:              time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		mode: config.ModeTranslate,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.sink != nil {
		a.sinkQueue = make(chan Record, a.sinkQueueSize())
		a.sinkDone = make(chan struct{})
		go a.recordLoop()
	}
	return a
}

func (a *Aggregator) Log() *Log {
	return a.log
}

func (a *Aggregator) SetMode(mode config.Mode) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.mode = mode
}

func (a *Aggregator) SetLanguage(language string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.language = language
}

// Display returns a copy of the live display state.
func (a *Aggregator) Display() Display {
	a.mu.Lock()
	defer a.mu.Unlock()
	d := a.display
	d.Segments = append([]string(nil), a.display.Segments...)
	return d
}

// Handle applies one session event.
func (a *Aggregator) Handle(event events.Event) {
	switch e := event.(type) {
	case events.Content:
		a.appendAgentText(e.Text)
	case events.OutputTranscription:
		a.appendAgentText(e.Text)
	case events.InputTranscription:
		a.inputTranscription(e.Text)
	case events.AudioChunk:
		a.bufferAudio(e.Chunk.Data)
	case events.TurnComplete:
		a.turnComplete()
	case events.SessionOpened:
		a.mu.Lock()
		a.sessionID = e.SessionID
		a.mu.Unlock()
	case events.SessionClosed:
		a.sessionClosed()
	}
}

func (a *Aggregator) appendAgentText(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.display.Translation += text
	a.log.appendPartial(RoleAgent, text, a.now())
	a.rearmDisplayTimer()
}

func (a *Aggregator) inputTranscription(text string) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	segments := a.display.Segments
	if n := len(segments); n > 0 && strings.HasPrefix(text, segments[n-1]) {
		segments[n-1] = text
	} else {
		segments = append(segments, text)
		if len(segments) > a.segmentLimit {
			segments = append([]string(nil), segments[len(segments)-a.segmentLimit:]...)
		}
	}
	a.display.Segments = segments
	a.lastUserText = text

	if a.inputTimer != nil {
		a.inputTimer.Stop()
	}
	a.inputTimerGen++
	gen := a.inputTimerGen
	a.inputTimer = a.afterFunc(a.inputIdleTimeout, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.inputTimerGen {
			return
		}
		a.display.Segments = nil
		a.inputTimer = nil
	})
}

func (a *Aggregator) bufferAudio(data []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.audio.Write(data)
}

func (a *Aggregator) turnComplete() {
	a.mu.Lock()
	defer a.mu.Unlock()

	var audio []byte
	if a.audio.Len() > 0 {
		audio = bytes.Clone(a.audio.Bytes())
	}
	turn, ok := a.log.finalize(RoleAgent, audio)
	if !ok && len(audio) > 0 {
		turn, ok = a.log.addAudio(RoleAgent, audio, a.now()), true
	}
	a.audio.Reset()
	if ok {
		a.record(turn)
	}

	if a.mode == config.ModeTranscribe && a.lastUserText != "" {
		a.log.add(RoleUser, a.lastUserText, true, a.now())
		a.display.Segments = nil
		a.stopInputTimer()
	}
	if a.mode == config.ModeTranscribe {
		a.lastUserText = ""
	}
}

func (a *Aggregator) sessionClosed() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.display.DetectedLanguage = ""
	a.display.Segments = nil
	a.stopInputTimer()
	if a.audio.Len() > 0 {
		logger.Debug("discarding audio of unfinished turn", "bytes", a.audio.Len())
		a.audio.Reset()
	}
}

// AddUserPrompt records a typed or relayed prompt as a final user turn and
// clears the live translation in preparation for the answer.
func (a *Aggregator) AddUserPrompt(text string, remote bool) {
	if text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	a.display.RemoteInput = remote
	a.display.Translation = ""
	a.lastUserText = text
	a.log.add(RoleUser, text, true, a.now())
	a.rearmDisplayTimer()
}

// AcceptRemote applies the relay's monotonicity rule: a message whose
// timestamp is not newer than the last accepted one is dropped. Accepted
// prompts are recorded like AddUserPrompt with remote set. A zero timestamp
// is stamped with the current time.
func (a *Aggregator) AcceptRemote(text string, timestamp int64) bool {
	if text == "" {
		return false
	}
	a.mu.Lock()
	if timestamp != 0 && timestamp <= a.lastTimestamp {
		a.mu.Unlock()
		logger.Debug("dropping stale relay message", "timestamp", timestamp, "last", a.lastTimestamp)
		return false
	}
	if timestamp == 0 {
		timestamp = a.now().UnixMilli()
	}
	a.lastTimestamp = timestamp
	a.mu.Unlock()

	a.AddUserPrompt(text, true)
	return true
}

// ResetRemote forgets the last accepted relay timestamp. Timestamps are only
// comparable within one meeting, so it is called when the binding changes.
func (a *Aggregator) ResetRemote() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastTimestamp = 0
}

func (a *Aggregator) SetDetectedLanguage(language string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.display.DetectedLanguage = language
}

// SetSpeaking feeds the playback speaking signal, which holds the display
// timeout off while audio is playing.
func (a *Aggregator) SetSpeaking(speaking bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.display.Speaking == speaking {
		return
	}
	a.display.Speaking = speaking
	a.rearmDisplayTimer()
}

// rearmDisplayTimer must be called with mu held. The timeout only clears
// the display; the Log is never touched.
func (a *Aggregator) rearmDisplayTimer() {
	if a.displayTimer != nil {
		a.displayTimer.Stop()
		a.displayTimer = nil
	}
	a.displayTimerGen++
	if a.display.Speaking || a.display.Translation == "" {
		return
	}

	gen := a.displayTimerGen
	a.displayTimer = a.afterFunc(a.displayTimeout, func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if gen != a.displayTimerGen {
			return
		}
		a.display.Translation = ""
		a.display.RemoteInput = false
		a.displayTimer = nil
	})
}

func (a *Aggregator) stopInputTimer() {
	if a.inputTimer != nil {
		a.inputTimer.Stop()
		a.inputTimer = nil
	}
	a.inputTimerGen++
}

// Close stops pending timers and flushes the turn sink.
func (a *Aggregator) Close() {
	a.mu.Lock()
	a.stopInputTimer()
	if a.displayTimer != nil {
		a.displayTimer.Stop()
		a.displayTimer = nil
	}
	a.displayTimerGen++
	alreadyClosed := a.closed
	a.closed = true
	a.mu.Unlock()

	if a.sink != nil && !alreadyClosed {
		close(a.sinkQueue)
		<-a.sinkDone
	}
}
