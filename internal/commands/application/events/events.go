package events

import "time"

// CommandIssued is published when an operator queues a command for a device.
type CommandIssued struct {
	CommandID   string    `json:"command_id"`
	TenantID    string    `json:"tenant_id"`
	PropertyID  string    `json:"property_id"`
	DeviceID    string    `json:"device_id"`
	CommandType string    `json:"command_type"`
	Priority    int       `json:"priority"`
	ExpiresAt   time.Time `json:"expires_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// CommandAcknowledged is published when a device resolves a command,
// successfully or not.
type CommandAcknowledged struct {
	CommandID   string    `json:"command_id"`
	DeviceID    string    `json:"device_id"`
	CommandType string    `json:"command_type"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	DurationMS  int64     `json:"duration_ms,omitempty"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// CommandExpired is published for commands swept past their deadline.
type CommandExpired struct {
	CommandID string    `json:"command_id"`
	DeviceID  string    `json:"device_id"`
	ExpiredAt time.Time `json:"expired_at"`
}
