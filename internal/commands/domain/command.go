package commands

import (
	"errors"
	"time"
)

const (
	StatusQueued  = "queued"
	StatusSent    = "sent"
	StatusAcked   = "ack"
	StatusFailed  = "failed"
	StatusExpired = "expired"
)

var (
	// ErrNotFound indicates the command does not exist or belongs to another device.
	ErrNotFound = errors.New("commands: not found")
	// ErrNotResolvable indicates the command is not in a state that accepts a resolution.
	ErrNotResolvable = errors.New("commands: not resolvable")
	// ErrInvalidWindow indicates an inconsistent scheduling window.
	ErrInvalidWindow = errors.New("commands: invalid scheduling window")
)

// Command is a unit of operator-issued work targeted at exactly one device.
// Status is the invariant-bearing field; commands are never deleted.
type Command struct {
	CommandID   string
	TenantID    string
	PropertyID  string
	DeviceID    string
	CommandType string
	Payload     []byte
	Priority    int
	NotBefore   *time.Time
	ExpiresAt   time.Time
	Status      string
	Error       string
	CreatedAt   time.Time
	SentAt      time.Time
	ResolvedAt  time.Time
}

// IsTerminal reports whether status is one of the terminal states.
func IsTerminal(status string) bool {
	switch status {
	case StatusAcked, StatusFailed, StatusExpired:
		return true
	default:
		return false
	}
}

// CanTransition reports whether the lifecycle permits from -> to.
// Legal transitions: queued->sent, sent->ack, sent->failed and the
// sweep-driven queued/sent->expired.
func CanTransition(from, to string) bool {
	switch from {
	case StatusQueued:
		return to == StatusSent || to == StatusExpired
	case StatusSent:
		return to == StatusAcked || to == StatusFailed || to == StatusExpired
	default:
		return false
	}
}

// ValidateWindow checks the scheduling window invariants: expires_at must be
// after created_at and, when set, not_before must precede expires_at.
func (c *Command) ValidateWindow() error {
	if c == nil {
		return ErrInvalidWindow
	}
	if c.ExpiresAt.IsZero() || !c.ExpiresAt.After(c.CreatedAt) {
		return ErrInvalidWindow
	}
	if c.NotBefore != nil && !c.NotBefore.Before(c.ExpiresAt) {
		return ErrInvalidWindow
	}
	return nil
}

// Deliverable reports whether the command is eligible for dispatch at now:
// unresolved, inside its activation window and not past its deadline.
func (c *Command) Deliverable(now time.Time) bool {
	if c == nil {
		return false
	}
	if c.Status != StatusQueued && c.Status != StatusSent {
		return false
	}
	if c.NotBefore != nil && c.NotBefore.After(now) {
		return false
	}
	return c.ExpiresAt.After(now)
}
