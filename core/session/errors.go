package session

import (
	"errors"
	"fmt"
)

var (
	ErrNotOpen         = errors.New("session is not open")
	ErrMuted           = errors.New("capture is muted")
	ErrConnectCanceled = errors.New("connect canceled by disconnect")
	ErrClientClosed    = errors.New("client is closed")
	ErrUnknownToolCall = errors.New("unknown or already answered tool call")
)

// ConfigurationError rejects a connect call with empty or invalid
// configuration. It is fatal to that call only.
type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid session configuration: %v", e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ConnectionError is a transport or authentication failure. The client
// returns to Idle and the caller may retry.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("session connection failed during %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// ProtocolError is a malformed frame from the engine. The frame is dropped
// and the session continues.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err == nil {
		return "malformed engine frame: " + e.Reason
	}
	return fmt.Sprintf("malformed engine frame: %s: %v", e.Reason, e.Err)
}

func (e *ProtocolError) Unwrap() error { return e.Err }
