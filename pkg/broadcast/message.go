// Package broadcast carries lock/unlock notifications between every open tab
// of a session.
package broadcast

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Channel is the pub/sub channel name.
const Channel = "lock_screen"

// Action is the closed set of message kinds.
type Action string

const (
	ActionUnlock  Action = "unlock"
	ActionLock    Action = "lock"
	ActionSignOut Action = "sign_out"
)

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionUnlock, ActionLock, ActionSignOut:
		return true
	}
	return false
}

var ErrInvalidMessage = errors.New("invalid broadcast message")

// Message is one notification on the channel.
type Message struct {
	Action    Action    `json:"action"`
	SessionID string    `json:"session_id"`
	SentAt    time.Time `json:"sent_at"`
}

// Encode serializes m.
func (m Message) Encode() ([]byte, error) {
	if !m.Action.Valid() {
		return nil, fmt.Errorf("%w: action %q", ErrInvalidMessage, m.Action)
	}
	return json.Marshal(m)
}

// Decode parses a message, rejecting unknown actions and missing session ids.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if !m.Action.Valid() {
		return Message{}, fmt.Errorf("%w: action %q", ErrInvalidMessage, m.Action)
	}
	if m.SessionID == "" {
		return Message{}, fmt.Errorf("%w: missing session_id", ErrInvalidMessage)
	}
	return m, nil
}
