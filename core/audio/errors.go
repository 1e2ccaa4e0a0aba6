package audio

import "fmt"

// OverflowError reports a chunk dropped because a bounded queue was full.
type OverflowError struct {
	Queue    string
	Capacity int
	Seq      uint64
}

func (e *OverflowError) Error() string {
	return fmt.Sprintf("%s queue full (capacity %d), dropped chunk %d", e.Queue, e.Capacity, e.Seq)
}
