package application

import (
	"context"
	"errors"
	"time"

	devices "roomcast-cloud/internal/devices/domain"
)

// ErrPropertyIDRequired indicates a fleet query without a property id.
var ErrPropertyIDRequired = errors.New("devices: property_id required")

// DefaultOfflineAfter is how long a device may stay silent before the fleet
// view reports it offline.
const DefaultOfflineAfter = 10 * time.Minute

// Repository is the slice of the device store the fleet service needs.
type Repository interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
	ListByProperty(ctx context.Context, propertyID string) ([]devices.Device, error)
	GetStatus(ctx context.Context, deviceID string) (*devices.Status, error)
}

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// FleetEntry is one device row in the fleet view, registration joined with
// the latest liveness report.
type FleetEntry struct {
	DeviceID   string     `json:"device_id"`
	TenantID   string     `json:"tenant_id"`
	PropertyID string     `json:"property_id"`
	DeviceType string     `json:"device_type"`
	Name       string     `json:"name"`
	Timezone   string     `json:"timezone,omitempty"`
	Online     bool       `json:"online"`
	LastSeenAt *time.Time `json:"last_seen_at,omitempty"`
	AppVersion string     `json:"app_version,omitempty"`
	Network    string     `json:"network,omitempty"`
	PowerState string     `json:"power_state,omitempty"`
}

// Service serves the operator fleet view.
type Service struct {
	repo         Repository
	offlineAfter time.Duration
	clock        Clock
}

// NewService constructs the fleet service.
func NewService(repo Repository, offlineAfter time.Duration, clock Clock) (*Service, error) {
	if repo == nil {
		return nil, errors.New("devices: nil repository")
	}
	if offlineAfter <= 0 {
		offlineAfter = DefaultOfflineAfter
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{repo: repo, offlineAfter: offlineAfter, clock: clock}, nil
}

// Fleet lists a property's devices with liveness, filtered to the caller's
// tenant. Devices without any status row read as offline with no last-seen.
func (s *Service) Fleet(ctx context.Context, tenantID, propertyID string) ([]FleetEntry, error) {
	if propertyID == "" {
		return nil, ErrPropertyIDRequired
	}
	list, err := s.repo.ListByProperty(ctx, propertyID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	entries := make([]FleetEntry, 0, len(list))
	for i := range list {
		device := list[i]
		if tenantID != "" && device.TenantID != tenantID {
			continue
		}
		entry := FleetEntry{
			DeviceID:   device.ID,
			TenantID:   device.TenantID,
			PropertyID: device.PropertyID,
			DeviceType: device.DeviceType,
			Name:       device.Name,
			Timezone:   device.Timezone,
		}
		status, err := s.repo.GetStatus(ctx, device.ID)
		if err != nil {
			return nil, err
		}
		if status != nil && !status.LastSeenAt.IsZero() {
			seen := status.LastSeenAt
			entry.LastSeenAt = &seen
			entry.Online = now.Sub(seen) <= s.offlineAfter
			entry.AppVersion = status.AppVersion
			entry.Network = status.Network
			entry.PowerState = status.PowerState
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
