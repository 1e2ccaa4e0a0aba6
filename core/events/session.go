package events

const (
	// KindSessionOpened identifies a session that finished its handshake.
	KindSessionOpened Kind = "session.opened"
	// KindSessionClosed identifies a torn down session.
	KindSessionClosed Kind = "session.closed"
	// KindSessionFailed identifies a connection or transport failure.
	KindSessionFailed Kind = "session.failed"
)

// SessionOpened marks that the engine channel is open.
type SessionOpened struct {
	Base
	SessionID string
}

// NewSessionOpened creates a session opened event.
func NewSessionOpened(sessionID string) SessionOpened {
	return SessionOpened{Base: NewBase(KindSessionOpened), SessionID: sessionID}
}

// SessionClosed marks that the engine channel was closed.
type SessionClosed struct {
	Base
	SessionID string
	// Reason is empty for a locally requested disconnect.
	Reason string
}

// NewSessionClosed creates a session closed event.
func NewSessionClosed(sessionID, reason string) SessionClosed {
	return SessionClosed{Base: NewBase(KindSessionClosed), SessionID: sessionID, Reason: reason}
}

// SessionFailed carries a connection or transport failure.
type SessionFailed struct {
	Base
	Err error
}

// NewSessionFailed creates a session failed event.
func NewSessionFailed(err error) SessionFailed {
	return SessionFailed{Base: NewBase(KindSessionFailed), Err: err}
}
