package playback

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/koscakluka/ema-live/core/audio"
)

func chunk(seq uint64, data ...byte) audio.Chunk {
	return audio.Chunk{Seq: seq, Source: audio.SourcePlayback, Data: data}
}

func TestFillChainsChunksSampleAccurately(t *testing.T) {
	p := New(nil)
	defer p.Close()

	_ = p.Enqueue(chunk(1, 1, 2, 3, 4, 5, 6))
	_ = p.Enqueue(chunk(2, 7, 8, 9, 10))

	var played []byte
	for i := 0; i < 3; i++ {
		out := make([]byte, 4)
		p.Fill(out)
		played = append(played, out...)
	}

	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 0, 0}
	if !bytes.Equal(played, want) {
		t.Fatalf("expected %v, got %v", want, played)
	}
}

func TestSpeakingHoldsForOneChunkDurationAfterDrain(t *testing.T) {
	p := New(nil)
	defer p.Close()

	if p.Speaking() {
		t.Fatalf("expected not speaking before any audio")
	}
	_ = p.Enqueue(chunk(1, 1, 1, 1, 1, 1, 1, 1, 1))

	out := make([]byte, 4)
	p.Fill(out)
	if !p.Speaking() {
		t.Fatalf("expected speaking once the first bytes play")
	}
	p.Fill(out) // drains the queue exactly
	p.Fill(out) // 4 bytes of silence, half a chunk
	if !p.Speaking() {
		t.Fatalf("expected speaking to hold within one chunk-duration")
	}

	// A new chunk arriving within the hangover keeps the burst going.
	_ = p.Enqueue(chunk(2, 2, 2, 2, 2))
	p.Fill(out)
	if !p.Speaking() {
		t.Fatalf("expected speaking to continue")
	}
	p.Fill(out)
	if p.Speaking() {
		t.Fatalf("expected speaking to end after a chunk-duration of silence")
	}
}

func TestInterruptFlushesQueue(t *testing.T) {
	p := New(nil)
	defer p.Close()

	_ = p.Enqueue(chunk(1, 1, 1, 1, 1))
	_ = p.Enqueue(chunk(2, 2, 2, 2, 2))
	out := make([]byte, 2)
	p.Fill(out)

	p.Interrupt()
	if p.Speaking() {
		t.Fatalf("expected speaking to stop on interrupt")
	}

	out = make([]byte, 8)
	if n := p.Fill(out); n != 0 {
		t.Fatalf("expected no audio after interrupt, got %d bytes", n)
	}
	if !bytes.Equal(out, make([]byte, 8)) {
		t.Fatalf("expected silence after interrupt, got %v", out)
	}

	// A new session may restart its numbering.
	_ = p.Enqueue(chunk(1, 3, 3))
	if p.Queued() != 1 {
		t.Fatalf("expected chunk after interrupt to be queued")
	}
}

func TestEnqueueDropsBeyondCapacity(t *testing.T) {
	p := New(nil, WithMaxQueuedChunks(2))
	defer p.Close()

	if err := p.Enqueue(chunk(1, 1, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := p.Enqueue(chunk(2, 1, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err := p.Enqueue(chunk(3, 1, 1))
	var overflow *audio.OverflowError
	if !errors.As(err, &overflow) {
		t.Fatalf("expected overflow error, got %v", err)
	}
	if p.Queued() != 2 || p.Dropped() != 1 {
		t.Fatalf("expected 2 queued and 1 dropped, got %d and %d", p.Queued(), p.Dropped())
	}
}

func TestEnqueueDiscardsStaleSequence(t *testing.T) {
	p := New(nil)
	defer p.Close()

	_ = p.Enqueue(chunk(5, 1, 1))
	_ = p.Enqueue(chunk(4, 2, 2))
	if p.Queued() != 1 {
		t.Fatalf("expected stale chunk discarded, got %d queued", p.Queued())
	}
}

func TestSpeakingListenerSeesTransitions(t *testing.T) {
	changes := make(chan bool, 4)
	p := New(nil, WithSpeakingListener(func(speaking bool) { changes <- speaking }))
	defer p.Close()

	_ = p.Enqueue(chunk(1, 1, 1))
	p.Fill(make([]byte, 2))

	select {
	case got := <-changes:
		if !got {
			t.Fatalf("expected speaking=true first")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for speaking=true")
	}

	p.Fill(make([]byte, 2))
	select {
	case got := <-changes:
		if got {
			t.Fatalf("expected speaking=false")
		}
	case <-time.After(time.Second):
		t.Fatalf("timed out waiting for speaking=false")
	}
}

type fakeDevice struct {
	source audio.PlaybackSource
	stops  int
}

func (d *fakeDevice) StartPlayback(_ context.Context, source audio.PlaybackSource) error {
	d.source = source
	return nil
}

func (d *fakeDevice) StopPlayback() error {
	d.stops++
	return nil
}

func TestStartHandsPlayerToDevice(t *testing.T) {
	device := &fakeDevice{}
	p := New(device)
	defer p.Close()

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if device.source != p {
		t.Fatalf("expected player to be the device source")
	}
	if err := p.Stop(); err != nil || device.stops != 1 {
		t.Fatalf("expected stop to reach the device, err=%v stops=%d", err, device.stops)
	}
	if err := New(nil).Start(context.Background()); !errors.Is(err, ErrNoDevice) {
		t.Fatalf("expected ErrNoDevice, got %v", err)
	}
}
