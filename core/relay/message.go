// Package relay fans finalized text out to every client bound to the same
// meeting, independently of the engine session.
package relay

import (
	"crypto/rand"
	"errors"
	"strings"
)

// TypeChat is the only message type exchanged over the relay.
const TypeChat = "chat"

// Message is the relay wire message. Timestamp is in unix milliseconds and
// receivers drop anything not newer than what they already processed.
type Message struct {
	Type      string `json:"type"`
	Text      string `json:"text"`
	Mode      string `json:"mode,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// envelope tags a message with the publishing client so transports that
// echo to the sender can be filtered.
type envelope struct {
	Sender string `json:"sender,omitempty"`
	Message
}

const (
	meetingIDLength   = 6
	meetingIDAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

var ErrInvalidMeetingID = errors.New("meeting id must be 6 alphanumeric characters")

// NewMeetingID generates a random meeting id.
func NewMeetingID() string {
	// Bytes at or above the largest multiple of the alphabet size are
	// rejected to keep the distribution uniform.
	limit := byte(256 - 256%len(meetingIDAlphabet))
	id := make([]byte, 0, meetingIDLength)
	buf := make([]byte, meetingIDLength*2)
	for len(id) < meetingIDLength {
		_, _ = rand.Read(buf)
		for _, b := range buf {
			if b < limit && len(id) < meetingIDLength {
				id = append(id, meetingIDAlphabet[int(b)%len(meetingIDAlphabet)])
			}
		}
	}
	return string(id)
}

// NormalizeMeetingID validates id and returns its canonical upper case form.
func NormalizeMeetingID(id string) (string, error) {
	id = strings.ToUpper(strings.TrimSpace(id))
	if len(id) != meetingIDLength {
		return "", ErrInvalidMeetingID
	}
	for _, r := range id {
		if !strings.ContainsRune(meetingIDAlphabet, r) {
			return "", ErrInvalidMeetingID
		}
	}
	return id, nil
}
