package events

const (
	// KindTurnComplete identifies the end of a model turn.
	KindTurnComplete Kind = "turn.complete"
	// KindInterrupted identifies a cut off model turn.
	KindInterrupted Kind = "turn.interrupted"
)

// TurnComplete marks that the model finished its turn.
type TurnComplete struct {
	Base
}

// NewTurnComplete creates a turn complete event.
func NewTurnComplete() TurnComplete {
	return TurnComplete{Base: NewBase(KindTurnComplete)}
}

// Interrupted marks that the model's output was cut off.
type Interrupted struct {
	Base
}

// NewInterrupted creates an interrupted event.
func NewInterrupted() Interrupted {
	return Interrupted{Base: NewBase(KindInterrupted)}
}
