package session

import (
	"context"
	"errors"
	"io"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/events"
)

func TestConcurrentConnectsShareOneHandshake(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	c := NewClient(dialer)
	defer c.Close()

	var wg sync.WaitGroup
	errs := make(chan error, 5)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- c.Connect(context.Background(), config.Default())
		}()
	}

	waitFor(t, "handshake to start", func() bool { return c.State() == StateConnecting })
	close(dialer.gate)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected connect error: %v", err)
		}
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("expected one handshake, got %d", got)
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("expected open state, got %s", got)
	}
	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("connect while open should succeed, got %v", err)
	}
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("connect while open should not dial, got %d dials", got)
	}
}

func TestDisconnectIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	rec := record(c)

	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect while idle should succeed, got %v", err)
	}
	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	sessionID := c.SessionID()
	for i := 0; i < 3; i++ {
		if err := c.Disconnect(); err != nil {
			t.Fatalf("unexpected disconnect error: %v", err)
		}
	}
	c.Close()

	if got := rec.count(events.KindSessionOpened); got != 1 {
		t.Fatalf("expected one open event, got %d", got)
	}
	if got := rec.count(events.KindSessionClosed); got != 1 {
		t.Fatalf("expected one close event, got %d", got)
	}
	closed := rec.first(events.KindSessionClosed).(events.SessionClosed)
	if closed.SessionID != sessionID {
		t.Fatalf("expected close event for %q, got %q", sessionID, closed.SessionID)
	}
	if got := dialer.last().closes.Load(); got != 1 {
		t.Fatalf("expected channel to be closed once, got %d", got)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
}

func TestConnectRejectsEmptyConfiguration(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()

	err := c.Connect(context.Background(), config.Snapshot{})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected configuration error, got %v", err)
	}
	if got := dialer.dials.Load(); got != 0 {
		t.Fatalf("expected no handshake, got %d", got)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
}

func TestConnectFailureReportsAndReturnsToIdle(t *testing.T) {
	dialer := &fakeDialer{err: errDial}
	c := NewClient(dialer)
	rec := record(c)

	err := c.Connect(context.Background(), config.Default())
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if !errors.Is(err, errDial) {
		t.Fatalf("expected dial cause to be wrapped, got %v", err)
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle state after failure, got %s", got)
	}
	c.Close()

	if got := rec.kinds(); !slices.Equal(got, []events.Kind{events.KindSessionFailed}) {
		t.Fatalf("expected a single failure event, got %v", got)
	}
}

func TestSendRequiresOpenSession(t *testing.T) {
	c := NewClient(&fakeDialer{})
	defer c.Close()

	if err := c.SendText([]string{"hello"}, true); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := c.SendAudioChunk(audio.Chunk{Seq: 1, Data: make([]byte, 4)}); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
	if err := c.RespondToTool("call-1", OK()); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}

	c.SetMuted(true)
	if err := c.SendAudioChunk(audio.Chunk{Seq: 1, Data: make([]byte, 4)}); !errors.Is(err, ErrMuted) {
		t.Fatalf("expected ErrMuted, got %v", err)
	}
}

func TestAudioChunksAreWrittenInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	for seq := uint64(1); seq <= 10; seq++ {
		if err := c.SendAudioChunk(audio.Chunk{Seq: seq, Source: audio.SourceCapture, Data: make([]byte, 4)}); err != nil {
			t.Fatalf("unexpected send error: %v", err)
		}
	}
	_ = c.SendAudioChunk(audio.Chunk{Seq: 4, Data: make([]byte, 4)})
	_ = c.SendAudioChunk(audio.Chunk{Seq: 11, Data: make([]byte, 4)})

	conn := dialer.last()
	waitFor(t, "chunks to be written", func() bool { return len(conn.sentSeqs()) == 11 })

	want := []uint64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11}
	if got := conn.sentSeqs(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestAudioQueueOverflowIsReported(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer, WithAudioQueue(1))
	defer c.Close()

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	conn := dialer.last()
	conn.mu.Lock()
	var overflow *audio.OverflowError
	for seq := uint64(1); seq <= 10 && overflow == nil; seq++ {
		err := c.SendAudioChunk(audio.Chunk{Seq: seq, Data: make([]byte, 4)})
		errors.As(err, &overflow)
	}
	conn.mu.Unlock()

	if overflow == nil {
		t.Fatalf("expected an overflow error with a blocked writer")
	}
	if overflow.Capacity != 1 {
		t.Fatalf("expected capacity 1 in overflow error, got %d", overflow.Capacity)
	}
}

func TestFrameContentIsEmittedInOrder(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	dialer.last().frames <- received{frame: Frame{
		InputTranscription:  &Transcription{Text: "hallo"},
		OutputTranscription: &Transcription{Text: "hello"},
		ModelText:           []string{"hello"},
		ModelAudio:          [][]byte{make([]byte, 4), make([]byte, 4)},
		TurnComplete:        true,
	}}
	waitFor(t, "turn complete", func() bool { return rec.count(events.KindTurnComplete) == 1 })
	c.Close()

	want := []events.Kind{
		events.KindSessionOpened,
		events.KindInputTranscription,
		events.KindOutputTranscription,
		events.KindContent,
		events.KindAudioChunk,
		events.KindAudioChunk,
		events.KindTurnComplete,
		events.KindSessionClosed,
	}
	if got := rec.kinds(); !slices.Equal(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()
	first := rec.events[4].(events.AudioChunk).Chunk
	second := rec.events[5].(events.AudioChunk).Chunk
	if first.Seq != 1 || second.Seq != 2 || first.Source != audio.SourcePlayback {
		t.Fatalf("unexpected playback chunks: %+v %+v", first, second)
	}
}

func TestToolInvocationIsAnsweredOnce(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	conn := dialer.last()
	conn.frames <- received{frame: Frame{ToolCalls: []events.ToolInvocation{
		{ID: "call-1", Name: "report_detected_language", Args: map[string]any{"language": "Dutch"}},
	}}}
	waitFor(t, "tool call", func() bool { return rec.count(events.KindToolCall) == 1 })

	if got := c.PendingToolCalls(); !slices.Equal(got, []string{"call-1"}) {
		t.Fatalf("expected call-1 to be pending, got %v", got)
	}
	if err := c.RespondToTool("call-1", OK()); err != nil {
		t.Fatalf("unexpected respond error: %v", err)
	}
	if err := c.RespondToTool("call-1", OK()); !errors.Is(err, ErrUnknownToolCall) {
		t.Fatalf("expected second response to be rejected, got %v", err)
	}

	waitFor(t, "tool response", func() bool { return len(conn.sentResponses()) == 1 })
	resp := conn.sentResponses()[0]
	if resp.ID != "call-1" || resp.Name != "report_detected_language" || resp.Response["result"] != "ok" {
		t.Fatalf("unexpected tool response %+v", resp)
	}
}

func TestMalformedFramesAreSkipped(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	conn := dialer.last()
	conn.frames <- received{err: &ProtocolError{Reason: "odd audio payload"}}
	conn.frames <- received{frame: Frame{ModelText: []string{"still here"}}}

	waitFor(t, "content after malformed frame", func() bool { return rec.count(events.KindContent) == 1 })
	if got := c.State(); got != StateOpen {
		t.Fatalf("expected session to stay open, got %s", got)
	}
	if got := rec.count(events.KindSessionFailed); got != 0 {
		t.Fatalf("expected no failure events, got %d", got)
	}
}

func TestEngineCloseEndsSession(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	dialer.last().Close()

	waitFor(t, "session close", func() bool { return rec.count(events.KindSessionClosed) == 1 })
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	if got := rec.count(events.KindSessionFailed); got != 0 {
		t.Fatalf("clean engine close should not fail, got %d failures", got)
	}
	if err := c.SendText([]string{"hello"}, true); !errors.Is(err, ErrNotOpen) {
		t.Fatalf("expected ErrNotOpen after close, got %v", err)
	}
}

func TestReceiveFailureReportsError(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	dialer.last().frames <- received{err: errors.New("connection reset")}

	waitFor(t, "session close", func() bool { return rec.count(events.KindSessionClosed) == 1 })
	waitFor(t, "idle state", func() bool { return c.State() == StateIdle })
	failed, ok := rec.first(events.KindSessionFailed).(events.SessionFailed)
	if !ok {
		t.Fatalf("expected a failure event")
	}
	var connErr *ConnectionError
	if !errors.As(failed.Err, &connErr) || connErr.Op != "receive" {
		t.Fatalf("expected receive connection error, got %v", failed.Err)
	}
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	dialer := &fakeDialer{gate: make(chan struct{})}
	c := NewClient(dialer)
	rec := record(c)

	errs := make(chan error, 1)
	go func() { errs <- c.Connect(context.Background(), config.Default()) }()
	waitFor(t, "handshake to start", func() bool { return c.State() == StateConnecting })

	if err := c.Disconnect(); err != nil {
		t.Fatalf("unexpected disconnect error: %v", err)
	}
	select {
	case err := <-errs:
		if !errors.Is(err, ErrConnectCanceled) {
			t.Fatalf("expected ErrConnectCanceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("connect did not return after disconnect")
	}
	if got := c.State(); got != StateIdle {
		t.Fatalf("expected idle state, got %s", got)
	}
	c.Close()

	if got := rec.kinds(); len(got) != 0 {
		t.Fatalf("expected no events for a canceled handshake, got %v", got)
	}
}

func TestReconfigureRestartsOnceAfterQuietPeriod(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer, WithReconnectDebounce(20*time.Millisecond))
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	for _, voice := range []string{"Puck", "Charon", "Kore"} {
		if err := c.Reconfigure(config.Default().WithVoice(voice)); err != nil {
			t.Fatalf("unexpected reconfigure error: %v", err)
		}
	}

	waitFor(t, "restart", func() bool { return dialer.dials.Load() == 2 && c.State() == StateOpen })
	time.Sleep(50 * time.Millisecond)

	if got := dialer.dials.Load(); got != 2 {
		t.Fatalf("expected a single restart, got %d dials", got)
	}
	if got := dialer.lastConfig().Voice; got != "Kore" {
		t.Fatalf("expected restart with the latest voice, got %q", got)
	}
	if got := c.Config().Voice; got != "Kore" {
		t.Fatalf("expected current config voice Kore, got %q", got)
	}
	waitFor(t, "events", func() bool { return rec.count(events.KindSessionOpened) == 2 })
	if got := rec.count(events.KindSessionClosed); got != 1 {
		t.Fatalf("expected the first session to close once, got %d", got)
	}
}

func TestReconfigureWhileIdleOnlyStoresConfig(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer, WithReconnectDebounce(5*time.Millisecond))
	defer c.Close()

	if err := c.Reconfigure(config.Default().WithLanguage("dutch")); err != nil {
		t.Fatalf("unexpected reconfigure error: %v", err)
	}
	waitFor(t, "config to apply", func() bool { return !c.ReconfigurePending() })
	waitFor(t, "config to store", func() bool { return c.Config().Language == "dutch" })
	if got := dialer.dials.Load(); got != 0 {
		t.Fatalf("expected no handshake while idle, got %d", got)
	}
}

func TestClosedClientRejectsConnect(t *testing.T) {
	c := NewClient(&fakeDialer{})
	c.Close()
	if err := c.Connect(context.Background(), config.Default()); !errors.Is(err, ErrClientClosed) {
		t.Fatalf("expected ErrClientClosed, got %v", err)
	}
}

func TestConnectWaitsForClosingSession(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	if err := c.Connect(context.Background(), config.Default()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	first := dialer.last()
	first.closeGate = make(chan struct{})

	disconnected := make(chan error, 1)
	go func() { disconnected <- c.Disconnect() }()
	waitFor(t, "closing state", func() bool { return c.State() == StateClosing })

	connected := make(chan error, 1)
	go func() { connected <- c.Connect(context.Background(), config.Default()) }()

	time.Sleep(20 * time.Millisecond)
	if got := dialer.dials.Load(); got != 1 {
		t.Fatalf("expected connect to wait for the close, got %d dials", got)
	}
	if got := rec.count(events.KindSessionClosed); got != 0 {
		t.Fatalf("expected no close event before the channel closed, got %d", got)
	}

	close(first.closeGate)
	if err := <-disconnected; err != nil {
		t.Fatalf("unexpected disconnect error: %v", err)
	}
	if err := <-connected; err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}

	if got := dialer.dials.Load(); got != 2 {
		t.Fatalf("expected a second handshake after the close, got %d", got)
	}
	if got := c.State(); got != StateOpen {
		t.Fatalf("expected open state, got %s", got)
	}
	waitFor(t, "events", func() bool { return rec.count(events.KindSessionOpened) == 2 })
	if got := rec.count(events.KindSessionClosed); got != 1 {
		t.Fatalf("expected one close event, got %d", got)
	}
	want := []events.Kind{events.KindSessionOpened, events.KindSessionClosed, events.KindSessionOpened}
	if got := rec.kinds(); !slices.Equal(got, want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
}

func TestEngineCloseRacingReconnectKeepsEventsPaired(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer)
	defer c.Close()
	rec := record(c)

	const rounds = 50
	for i := 0; i < rounds; i++ {
		if err := c.Connect(context.Background(), config.Default()); err != nil {
			t.Fatalf("round %d: unexpected connect error: %v", i, err)
		}
		conn := dialer.last()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			conn.frames <- received{err: io.EOF}
		}()
		go func() {
			defer wg.Done()
			_ = c.Disconnect()
		}()
		wg.Wait()
		waitFor(t, "idle", func() bool { return c.State() == StateIdle })
	}

	dials := int(dialer.dials.Load())
	if dials != rounds {
		t.Fatalf("expected %d handshakes, got %d", rounds, dials)
	}
	waitFor(t, "events", func() bool { return rec.count(events.KindSessionClosed) == dials })
	if got := rec.count(events.KindSessionOpened); got != dials {
		t.Fatalf("expected %d open events, got %d", dials, got)
	}
	if got := rec.count(events.KindSessionFailed); got != 0 {
		t.Fatalf("expected no failures, got %d", got)
	}
}

func TestReconfigureWhileIdleAppliesToNextConnect(t *testing.T) {
	dialer := &fakeDialer{}
	c := NewClient(dialer, WithReconnectDebounce(time.Hour))
	defer c.Close()

	if err := c.Reconfigure(config.Default().WithVoice("Kore")); err != nil {
		t.Fatalf("unexpected reconfigure error: %v", err)
	}
	if got := c.Config().Voice; got != "Kore" {
		t.Fatalf("expected stored voice Kore before the debounce, got %q", got)
	}
	if err := c.Connect(context.Background(), c.Config()); err != nil {
		t.Fatalf("unexpected connect error: %v", err)
	}
	if got := dialer.lastConfig().Voice; got != "Kore" {
		t.Fatalf("expected handshake with voice Kore, got %q", got)
	}
}
