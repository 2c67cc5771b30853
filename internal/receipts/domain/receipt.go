package receipts

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	StatusReceived = "received"
	StatusAck      = "ack"
	StatusError    = "error"
)

// Receipt is an immutable record of a device's report about a command.
// Receipts are append-only and deliberately decoupled from Command.status:
// historical "received" pings survive even though they do not affect
// delivery state.
type Receipt struct {
	ID         string
	CommandID  string
	DeviceID   string
	Status     string
	Details    json.RawMessage
	ReceivedAt time.Time
}

// ValidStatus reports whether value is one of the reportable statuses.
func ValidStatus(value string) bool {
	switch value {
	case StatusReceived, StatusAck, StatusError:
		return true
	default:
		return false
	}
}

// NewID generates a receipt identifier.
func NewID() string {
	return "rcpt-" + uuid.NewString()
}
