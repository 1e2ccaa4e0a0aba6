package redisrelay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/koscakluka/ema-live/core/relay"
	"github.com/redis/go-redis/v9"
)

func setupTransport(t *testing.T, opts ...Option) (*Transport, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewTransport(client, opts...), mr
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

func TestChannelName(t *testing.T) {
	transport, _ := setupTransport(t, WithPrefix("test"))
	if got := transport.ChannelName("ABC123"); got != "test:meeting:ABC123" {
		t.Fatalf("unexpected channel name %q", got)
	}
}

func TestChannelRoundTrip(t *testing.T) {
	transport, mr := setupTransport(t)

	ch, err := transport.Open(context.Background(), "ROUND1")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}
	defer ch.Close()

	if got := mr.PubSubNumSub("ema-live:meeting:ROUND1"); got["ema-live:meeting:ROUND1"] != 1 {
		t.Fatalf("expected one subscriber, got %v", got)
	}

	if err := ch.Publish(context.Background(), []byte(`{"type":"chat","text":"hi"}`)); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	payload, err := ch.Receive()
	if err != nil {
		t.Fatalf("unexpected receive error: %v", err)
	}
	if string(payload) != `{"type":"chat","text":"hi"}` {
		t.Fatalf("unexpected payload %s", payload)
	}
}

func TestCloseUnblocksReceive(t *testing.T) {
	transport, _ := setupTransport(t)
	ch, err := transport.Open(context.Background(), "CLOSE1")
	if err != nil {
		t.Fatalf("unexpected open error: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		_, err := ch.Receive()
		done <- err
	}()
	time.Sleep(10 * time.Millisecond)
	ch.Close()
	ch.Close()

	select {
	case err := <-done:
		if err == nil {
			t.Fatalf("expected receive to fail after close")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("receive did not return after close")
	}
}

func TestBridgesOverRedis(t *testing.T) {
	transport, _ := setupTransport(t)
	alice := relay.NewBridge(transport)
	bob := relay.NewBridge(transport)
	defer alice.Close()
	defer bob.Close()

	var mu sync.Mutex
	var aliceGot, bobGot []relay.Message
	alice.Subscribe(func(m relay.Message) {
		mu.Lock()
		defer mu.Unlock()
		aliceGot = append(aliceGot, m)
	})
	bob.Subscribe(func(m relay.Message) {
		mu.Lock()
		defer mu.Unlock()
		bobGot = append(bobGot, m)
	})

	for _, b := range []*relay.Bridge{alice, bob} {
		if err := b.Bind("REDIS1"); err != nil {
			t.Fatalf("unexpected bind error: %v", err)
		}
	}
	waitFor(t, "bridges to connect", func() bool { return alice.Connected() && bob.Connected() })

	if err := alice.Publish(context.Background(), relay.Message{Text: "hallo", Mode: "transcribe", Timestamp: 7}); err != nil {
		t.Fatalf("unexpected publish error: %v", err)
	}
	waitFor(t, "delivery", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(bobGot) == 1
	})
	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if bobGot[0].Text != "hallo" || bobGot[0].Mode != "transcribe" {
		t.Fatalf("unexpected message %+v", bobGot[0])
	}
	if len(aliceGot) != 0 {
		t.Fatalf("publisher should filter its own message, got %v", aliceGot)
	}
}
