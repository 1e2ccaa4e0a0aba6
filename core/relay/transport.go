package relay

import "context"

// Transport opens meeting channels on a pub/sub backend.
type Transport interface {
	Open(ctx context.Context, meetingID string) (Channel, error)
}

// Channel is one subscription to a meeting. Publish and Receive may be
// called concurrently with each other. Close must unblock a pending
// Receive and may be called more than once.
type Channel interface {
	Publish(ctx context.Context, payload []byte) error
	Receive() ([]byte, error)
	Close() error
}
