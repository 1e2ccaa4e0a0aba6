package orchestration

import (
	"context"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
	"github.com/koscakluka/ema-live/core/config"
	"github.com/koscakluka/ema-live/core/session"
)

type fakeEngineConn struct {
	frames chan session.Frame
	closed chan struct{}
	once   sync.Once

	mu        sync.Mutex
	audio     []audio.Chunk
	texts     []string
	responses []session.ToolResponse
}

func (c *fakeEngineConn) SendAudio(_ context.Context, chunk audio.Chunk) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audio = append(c.audio, chunk)
	return nil
}

func (c *fakeEngineConn) SendContent(_ context.Context, parts []string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.texts = append(c.texts, parts...)
	return nil
}

func (c *fakeEngineConn) SendToolResponses(_ context.Context, responses []session.ToolResponse) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, responses...)
	return nil
}

func (c *fakeEngineConn) Receive() (session.Frame, error) {
	select {
	case f := <-c.frames:
		return f, nil
	case <-c.closed:
		return session.Frame{}, io.EOF
	}
}

func (c *fakeEngineConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeEngineConn) sentTexts() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeEngineConn) sentAudio() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.audio)
}

func (c *fakeEngineConn) sentResponses() []session.ToolResponse {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]session.ToolResponse(nil), c.responses...)
}

type fakeEngine struct {
	dials atomic.Int32
	mu    sync.Mutex
	conn  *fakeEngineConn
}

func (e *fakeEngine) Dial(context.Context, config.Snapshot) (session.Conn, error) {
	e.dials.Add(1)
	conn := &fakeEngineConn{frames: make(chan session.Frame, 16), closed: make(chan struct{})}
	e.mu.Lock()
	e.conn = conn
	e.mu.Unlock()
	return conn, nil
}

func (e *fakeEngine) current() *fakeEngineConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn
}

type fakeMicrophone struct {
	mu      sync.Mutex
	onAudio func([]byte)
}

func (m *fakeMicrophone) StartCapture(_ context.Context, onAudio func([]byte)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAudio = onAudio
	return nil
}

func (m *fakeMicrophone) StopCapture() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAudio = nil
	return nil
}

func (m *fakeMicrophone) speak(pcm []byte) {
	m.mu.Lock()
	onAudio := m.onAudio
	m.mu.Unlock()
	if onAudio != nil {
		onAudio(pcm)
	}
}

type fakeSpeaker struct {
	starts atomic.Int32
	mu     sync.Mutex
	source audio.PlaybackSource
}

func (s *fakeSpeaker) StartPlayback(_ context.Context, source audio.PlaybackSource) error {
	s.starts.Add(1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = source
	return nil
}

func (s *fakeSpeaker) StopPlayback() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = nil
	return nil
}

func (s *fakeSpeaker) pull(n int) int {
	s.mu.Lock()
	source := s.source
	s.mu.Unlock()
	if source == nil {
		return 0
	}
	return source.Fill(make([]byte, n))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
