package application

import (
	"context"
	"time"

	devices "roomcast-cloud/internal/devices/domain"
	"roomcast-cloud/internal/observability/metrics"
)

// HeartbeatRequest carries a device's periodic liveness report. All telemetry
// fields are optional; empty fields leave the stored value untouched.
type HeartbeatRequest struct {
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version,omitempty"`
	Network    string `json:"network,omitempty"`
	PowerState string `json:"power_state,omitempty"`
	Notes      string `json:"notes,omitempty"`
}

// HeartbeatResponse acknowledges the report and piggybacks a small command
// batch so quiet devices still pick up work between explicit pulls.
type HeartbeatResponse struct {
	DeviceID        string         `json:"device_id"`
	Timestamp       time.Time      `json:"timestamp"`
	PendingCommands []CommandView  `json:"pending_commands"`
	Flags           HeartbeatFlags `json:"flags"`
}

// HeartbeatFlags carries the advisory hints returned with every heartbeat.
type HeartbeatFlags struct {
	NextHeartbeatSeconds int  `json:"next_heartbeat_seconds"`
	ConfigRefreshNeeded  bool `json:"config_refresh_needed,omitempty"`
}

// Heartbeat records the device's telemetry and runs an opportunistic dispatch
// pass with a smaller batch than an explicit pull. An unknown device is a hard
// error; beyond that the two halves are isolated, so a failed status upsert
// does not cost the device its batch and a failed dispatch pass does not lose
// the liveness report.
func (s *Service) Heartbeat(ctx context.Context, req HeartbeatRequest) (*HeartbeatResponse, error) {
	device, err := s.lookupDevice(ctx, req.DeviceID)
	if err != nil {
		metrics.IncHeartbeat(metrics.ResultError)
		return nil, err
	}

	now := s.clock.Now()
	status := devices.Status{
		DeviceID:   device.ID,
		LastSeenAt: now,
		AppVersion: req.AppVersion,
		Network:    req.Network,
		PowerState: req.PowerState,
		Notes:      req.Notes,
		UpdatedAt:  now,
	}
	if err := s.registry.UpsertStatus(ctx, status); err != nil && s.logger != nil {
		s.logger.Printf("dispatch: heartbeat status upsert failed for %s: %v", device.ID, err)
	}

	views, err := s.collectBatch(ctx, device.ID, now, s.cfg.HeartbeatBatchSize)
	if err != nil {
		if s.logger != nil {
			s.logger.Printf("dispatch: heartbeat batch failed for %s: %v", device.ID, err)
		}
		views = []CommandView{}
	}

	metrics.IncHeartbeat(metrics.ResultSuccess)
	return &HeartbeatResponse{
		DeviceID:        device.ID,
		Timestamp:       now,
		PendingCommands: views,
		Flags: HeartbeatFlags{
			NextHeartbeatSeconds: s.cfg.HeartbeatIntervalSeconds,
			ConfigRefreshNeeded:  s.configRefreshNeeded(device, now),
		},
	}, nil
}

func (s *Service) configRefreshNeeded(device *devices.Device, now time.Time) bool {
	if device.ConfigUpdatedAt.IsZero() {
		return true
	}
	return device.ConfigUpdatedAt.Before(now.Add(-s.cfg.ConfigStaleAfter()))
}
