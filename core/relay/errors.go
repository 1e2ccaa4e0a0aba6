package relay

import (
	"errors"
	"fmt"
)

var (
	ErrNotBound     = errors.New("relay is not bound to a meeting")
	ErrDisconnected = errors.New("relay transport is reconnecting")
	ErrClosed       = errors.New("relay bridge is closed")
)

// DeliveryError reports a message that could not be handed to the
// transport. It is never fatal to the conversation.
type DeliveryError struct {
	MeetingID string
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("failed to deliver relay message to meeting %s: %v", e.MeetingID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
