// Package turns reconstructs conversation turns from the session's stream of
// partial events.
package turns

import (
	"bytes"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Turn is one contiguous contribution by a single role. Text may grow while
// the turn is not final; once final the turn never changes again.
type Turn struct {
	ID        string
	Role      Role
	Text      string
	IsFinal   bool
	CreatedAt time.Time
	// Audio is the concatenated playback audio of an agent turn, set when
	// the turn is finalized.
	Audio []byte
}

func (t Turn) clone() Turn {
	t.Audio = bytes.Clone(t.Audio)
	return t
}

// Log is the ordered conversation history. Only the Aggregator writes to it;
// readers get copies.
type Log struct {
	mu      sync.RWMutex
	turns   []Turn
	version uint64
}

func NewLog() *Log {
	return &Log{}
}

// Snapshot returns a copy of every turn in order.
func (l *Log) Snapshot() []Turn {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Turn, len(l.turns))
	for i, t := range l.turns {
		out[i] = t.clone()
	}
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.turns)
}

// Last returns a copy of the tail turn.
func (l *Log) Last() (Turn, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.turns) == 0 {
		return Turn{}, false
	}
	return l.turns[len(l.turns)-1].clone(), true
}

// Version increases on every change, so readers can cheaply tell whether a
// new snapshot is worth taking.
func (l *Log) Version() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.version
}

// appendPartial extends the open turn of role if it is at the tail, otherwise
// opens a new one.
func (l *Log) appendPartial(role Role, text string, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if n := len(l.turns); n > 0 {
		tail := &l.turns[n-1]
		if tail.Role == role && !tail.IsFinal {
			tail.Text += text
			l.version++
			return
		}
	}
	l.open(role, text, false, now)
}

// add appends a new turn.
func (l *Log) add(role Role, text string, final bool, now time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open(role, text, final, now)
}

// finalize closes the open turn of role, attaching audio if any. It returns
// the finalized turn and whether there was an open turn.
func (l *Log) finalize(role Role, audio []byte) (Turn, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	i := l.openIndex(role)
	if i < 0 {
		return Turn{}, false
	}
	l.turns[i].IsFinal = true
	if len(audio) > 0 {
		l.turns[i].Audio = audio
	}
	l.version++
	return l.turns[i].clone(), true
}

// addAudio appends a final turn that has audio but no text.
func (l *Log) addAudio(role Role, audio []byte, now time.Time) Turn {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.open(role, "", true, now)
	l.turns[len(l.turns)-1].Audio = audio
	return l.turns[len(l.turns)-1].clone()
}

// open must be called with mu held. A role never has more than one open
// turn: an older one is finalized before a new one starts.
func (l *Log) open(role Role, text string, final bool, now time.Time) {
	if i := l.openIndex(role); i >= 0 {
		l.turns[i].IsFinal = true
	}
	l.turns = append(l.turns, Turn{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		IsFinal:   final,
		CreatedAt: now,
	})
	l.version++
}

func (l *Log) openIndex(role Role) int {
	return slices.IndexFunc(l.turns, func(t Turn) bool { return t.Role == role && !t.IsFinal })
}
