package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	devices "roomcast-cloud/internal/devices/domain"
)

const (
	defaultDevicesTable      = "devices"
	defaultDeviceStatusTable = "device_status"
)

// DeviceRepository is a Postgres implementation for devices and their status rows.
type DeviceRepository struct {
	db          *sql.DB
	table       string
	statusTable string
}

// NewDeviceRepository constructs a repository.
func NewDeviceRepository(db *sql.DB, opts ...Option) *DeviceRepository {
	repo := &DeviceRepository{db: db, table: defaultDevicesTable, statusTable: defaultDeviceStatusTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Option configures the repository.
type Option func(*DeviceRepository)

// WithDevicesTable overrides the devices table name.
func WithDevicesTable(table string) Option {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// WithStatusTable overrides the device status table name.
func WithStatusTable(table string) Option {
	return func(repo *DeviceRepository) {
		if table != "" {
			repo.statusTable = table
		}
	}
}

// Get loads a device by id, nil when absent.
func (r *DeviceRepository) Get(ctx context.Context, id string) (*devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if id == "" {
		return nil, errors.New("device repo: empty id")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, property_id, device_type, name, timezone, config_updated_at, created_at, updated_at
FROM %s
WHERE id = $1
LIMIT 1`, r.table)

	var device devices.Device
	var configUpdatedAt sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, id).Scan(
		&device.ID,
		&device.TenantID,
		&device.PropertyID,
		&device.DeviceType,
		&device.Name,
		&device.Timezone,
		&configUpdatedAt,
		&device.CreatedAt,
		&device.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if configUpdatedAt.Valid {
		device.ConfigUpdatedAt = configUpdatedAt.Time.UTC()
	}
	device.CreatedAt = device.CreatedAt.UTC()
	device.UpdatedAt = device.UpdatedAt.UTC()
	return &device, nil
}

// ListByProperty loads devices for a property.
func (r *DeviceRepository) ListByProperty(ctx context.Context, propertyID string) ([]devices.Device, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	if propertyID == "" {
		return nil, errors.New("device repo: empty property id")
	}
	query := fmt.Sprintf(`
SELECT id, tenant_id, property_id, device_type, name, timezone, config_updated_at, created_at, updated_at
FROM %s
WHERE property_id = $1
ORDER BY id ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, propertyID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []devices.Device
	for rows.Next() {
		var device devices.Device
		var configUpdatedAt sql.NullTime
		if err := rows.Scan(
			&device.ID,
			&device.TenantID,
			&device.PropertyID,
			&device.DeviceType,
			&device.Name,
			&device.Timezone,
			&configUpdatedAt,
			&device.CreatedAt,
			&device.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if configUpdatedAt.Valid {
			device.ConfigUpdatedAt = configUpdatedAt.Time.UTC()
		}
		device.CreatedAt = device.CreatedAt.UTC()
		device.UpdatedAt = device.UpdatedAt.UTC()
		result = append(result, device)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// UpsertStatus writes the single liveness row for a device. The statement is
// an insert-or-update keyed on device_id, so exactly one row exists per
// device at any time.
func (r *DeviceRepository) UpsertStatus(ctx context.Context, status devices.Status) error {
	if r == nil || r.db == nil {
		return errors.New("device repo: nil db")
	}
	if status.DeviceID == "" {
		return errors.New("device repo: empty device id")
	}
	if status.UpdatedAt.IsZero() {
		status.UpdatedAt = time.Now().UTC()
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	device_id, last_seen_at, app_version, network, power_state, notes, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7
)
ON CONFLICT (device_id)
DO UPDATE SET
	last_seen_at = EXCLUDED.last_seen_at,
	app_version = CASE WHEN EXCLUDED.app_version = '' THEN %s.app_version ELSE EXCLUDED.app_version END,
	network = CASE WHEN EXCLUDED.network = '' THEN %s.network ELSE EXCLUDED.network END,
	power_state = CASE WHEN EXCLUDED.power_state = '' THEN %s.power_state ELSE EXCLUDED.power_state END,
	notes = CASE WHEN EXCLUDED.notes = '' THEN %s.notes ELSE EXCLUDED.notes END,
	updated_at = EXCLUDED.updated_at`,
		r.statusTable, r.statusTable, r.statusTable, r.statusTable, r.statusTable)
	_, err := r.db.ExecContext(ctx, query,
		status.DeviceID, status.LastSeenAt.UTC(), status.AppVersion, status.Network, status.PowerState, status.Notes, status.UpdatedAt.UTC())
	return err
}

// GetStatus loads the liveness row for a device, nil when never seen.
func (r *DeviceRepository) GetStatus(ctx context.Context, deviceID string) (*devices.Status, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("device repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT device_id, last_seen_at, app_version, network, power_state, notes, updated_at
FROM %s
WHERE device_id = $1
LIMIT 1`, r.statusTable)

	var status devices.Status
	if err := r.db.QueryRowContext(ctx, query, deviceID).Scan(
		&status.DeviceID,
		&status.LastSeenAt,
		&status.AppVersion,
		&status.Network,
		&status.PowerState,
		&status.Notes,
		&status.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	status.LastSeenAt = status.LastSeenAt.UTC()
	status.UpdatedAt = status.UpdatedAt.UTC()
	return &status, nil
}
