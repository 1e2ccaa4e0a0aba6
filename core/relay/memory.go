package relay

import (
	"context"
	"errors"
	"sync"
)

const memoryChannelBuffer = 64

var errChannelClosed = errors.New("relay channel closed")

// MemoryTransport is an in-process relay. Every channel on a meeting,
// including the publisher's own, receives each published payload.
type MemoryTransport struct {
	mu    sync.Mutex
	rooms map[string]map[*memoryChannel]struct{}
}

func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{rooms: map[string]map[*memoryChannel]struct{}{}}
}

func (t *MemoryTransport) Open(_ context.Context, meetingID string) (Channel, error) {
	ch := &memoryChannel{
		transport: t,
		meetingID: meetingID,
		inbox:     make(chan []byte, memoryChannelBuffer),
		closed:    make(chan struct{}),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.rooms[meetingID] == nil {
		t.rooms[meetingID] = map[*memoryChannel]struct{}{}
	}
	t.rooms[meetingID][ch] = struct{}{}
	return ch, nil
}

// Members returns how many channels are open on meetingID.
func (t *MemoryTransport) Members(meetingID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.rooms[meetingID])
}

func (t *MemoryTransport) publish(meetingID string, payload []byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for ch := range t.rooms[meetingID] {
		select {
		case ch.inbox <- payload:
		default:
			logger.Warn("dropping relay message for slow member", "meeting_id", meetingID)
		}
	}
}

func (t *MemoryTransport) leave(ch *memoryChannel) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.rooms[ch.meetingID], ch)
	if len(t.rooms[ch.meetingID]) == 0 {
		delete(t.rooms, ch.meetingID)
	}
}

type memoryChannel struct {
	transport *MemoryTransport
	meetingID string
	inbox     chan []byte
	closed    chan struct{}
	once      sync.Once
}

func (c *memoryChannel) Publish(_ context.Context, payload []byte) error {
	select {
	case <-c.closed:
		return errChannelClosed
	default:
	}
	c.transport.publish(c.meetingID, payload)
	return nil
}

func (c *memoryChannel) Receive() ([]byte, error) {
	select {
	case payload := <-c.inbox:
		return payload, nil
	case <-c.closed:
		return nil, errChannelClosed
	}
}

func (c *memoryChannel) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.transport.leave(c)
	})
	return nil
}
