package devices

import (
	"errors"
	"time"
)

const (
	TypeRoomTV     = "room_tv"
	TypeLobbyTotem = "lobby_totem"
	TypeAdPlayer   = "ad_player"
)

// ErrNotFound indicates the device is not registered.
var ErrNotFound = errors.New("devices: not found")

// Device is the identity of a physical endpoint. Identity is immutable and
// owned by provisioning; this subsystem only reads it.
type Device struct {
	ID              string
	TenantID        string
	PropertyID      string
	DeviceType      string
	Name            string
	Timezone        string
	ConfigUpdatedAt time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Status is the current liveness row for a device, not history.
// Exactly one row exists per device (upsert semantics).
type Status struct {
	DeviceID   string
	LastSeenAt time.Time
	AppVersion string
	Network    string
	PowerState string
	Notes      string
	UpdatedAt  time.Time
}
