package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	devices "roomcast-cloud/internal/devices/domain"
)

// DeviceRepository is an in-memory device registry for unit tests.
type DeviceRepository struct {
	mu       sync.Mutex
	devices  map[string]devices.Device
	statuses map[string]devices.Status

	// StatusErr, when set, is returned from UpsertStatus. Tests use it to
	// exercise failure isolation in the dispatch path.
	StatusErr error
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository() *DeviceRepository {
	return &DeviceRepository{
		devices:  make(map[string]devices.Device),
		statuses: make(map[string]devices.Status),
	}
}

// Add registers a device.
func (r *DeviceRepository) Add(device devices.Device) {
	r.mu.Lock()
	r.devices[device.ID] = device
	r.mu.Unlock()
}

// Get loads a device by id, nil when absent.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	device, ok := r.devices[id]
	if !ok {
		return nil, nil
	}
	return &device, nil
}

// ListByProperty loads devices for a property ordered by id.
func (r *DeviceRepository) ListByProperty(ctx context.Context, propertyID string) ([]devices.Device, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []devices.Device
	for _, device := range r.devices {
		if device.PropertyID == propertyID {
			result = append(result, device)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

// UpsertStatus stores the single liveness row for a device.
func (r *DeviceRepository) UpsertStatus(ctx context.Context, status devices.Status) error {
	_ = ctx
	if r.StatusErr != nil {
		return r.StatusErr
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	r.mu.Lock()
	existing, ok := r.statuses[status.DeviceID]
	if ok {
		if status.AppVersion == "" {
			status.AppVersion = existing.AppVersion
		}
		if status.Network == "" {
			status.Network = existing.Network
		}
		if status.PowerState == "" {
			status.PowerState = existing.PowerState
		}
		if status.Notes == "" {
			status.Notes = existing.Notes
		}
	}
	r.statuses[status.DeviceID] = status
	r.mu.Unlock()
	return nil
}

// GetStatus loads the liveness row for a device, nil when never seen.
func (r *DeviceRepository) GetStatus(ctx context.Context, deviceID string) (*devices.Status, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	status, ok := r.statuses[deviceID]
	if !ok {
		return nil, nil
	}
	return &status, nil
}
