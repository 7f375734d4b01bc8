package domain

import (
	"time"

	"github.com/google/uuid"
)

// LockState is the persisted lock record of one session. It is absent while
// the session is unlocked.
type LockState struct {
	SessionID      uuid.UUID      `json:"session_id"`
	UserID         uuid.UUID      `json:"user_id"`
	Status         string         `json:"status"`
	Reason         string         `json:"reason,omitempty"`
	FailedAttempts int            `json:"failed_attempts"`
	BlockedUntil   *time.Time     `json:"blocked_until,omitempty"`
	MethodOverride AuthMethodKind `json:"method_override,omitempty"`
	Durability     Durability     `json:"durability"`
	LockedAt       time.Time      `json:"locked_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}
