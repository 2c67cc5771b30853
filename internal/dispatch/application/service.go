package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"roomcast-cloud/internal/commands/application/events"
	commands "roomcast-cloud/internal/commands/domain"
	devices "roomcast-cloud/internal/devices/domain"
	"roomcast-cloud/internal/observability/metrics"
)

var (
	// ErrDeviceIDRequired indicates a request without a device id; rejected
	// before any store access.
	ErrDeviceIDRequired = errors.New("dispatch: device_id required")
	// ErrDeviceNotFound indicates the device is not registered.
	ErrDeviceNotFound = errors.New("dispatch: device not found")
)

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

// SystemClock reports wall-clock time in UTC.
type SystemClock struct{}

// Now implements Clock.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// CommandStore is the slice of the command store the engine needs.
type CommandStore interface {
	ListDeliverable(ctx context.Context, deviceID string, now time.Time, limit int) ([]commands.Command, error)
	Claim(ctx context.Context, commandID string, sentAt time.Time) (bool, error)
	ExpireOverdue(ctx context.Context, deviceID string, now time.Time) ([]string, error)
}

// DeviceRegistry is the slice of the device registry the engine needs.
type DeviceRegistry interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
	UpsertStatus(ctx context.Context, status devices.Status) error
}

// EventPublisher emits lifecycle events from the dispatch path.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// PullRequest is a device's explicit request for pending commands.
type PullRequest struct {
	DeviceID   string `json:"device_id"`
	AppVersion string `json:"app_version,omitempty"`
	LastSeenAt string `json:"last_seen_at,omitempty"`
}

// PullResponse is returned to the polling device.
type PullResponse struct {
	DeviceID        string        `json:"device_id"`
	Commands        []CommandView `json:"commands"`
	Timestamp       time.Time     `json:"timestamp"`
	NextPollSeconds int           `json:"next_poll_seconds"`
}

// CommandView is the wire shape of a dispatched command.
type CommandView struct {
	CommandID   string          `json:"command_id"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Service is the dispatch engine: a bounded, non-blocking selection and
// claiming pass over one device's command set. Devices re-poll on the
// suggested cadence; the engine never waits for new work.
type Service struct {
	store    CommandStore
	registry DeviceRegistry
	cfg      Config
	bus      EventPublisher
	clock    Clock
	logger   *log.Logger
}

// NewService constructs the dispatch engine. The event publisher may be nil.
func NewService(store CommandStore, registry DeviceRegistry, cfg Config, bus EventPublisher, clock Clock, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("dispatch: nil command store")
	}
	if registry == nil {
		return nil, errors.New("dispatch: nil device registry")
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{store: store, registry: registry, cfg: cfg, bus: bus, clock: clock, logger: logger}, nil
}

// PullCommands serves an explicit command pull: sweep overdue commands,
// select the eligible batch and claim whatever is still queued. Commands
// already sent are returned again unchanged; delivery is at-least-once
// until the device resolves them or they expire.
func (s *Service) PullCommands(ctx context.Context, req PullRequest) (*PullResponse, error) {
	started := s.clock.Now()
	resp, err := s.pull(ctx, req)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveDispatch(result, s.clock.Now().Sub(started))
	return resp, err
}

func (s *Service) pull(ctx context.Context, req PullRequest) (*PullResponse, error) {
	device, err := s.lookupDevice(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	views, err := s.collectBatch(ctx, device.ID, now, s.cfg.PullBatchSize)
	if err != nil {
		return nil, err
	}

	// Liveness is best-effort relative to delivery: a failed upsert must not
	// cost the device its batch.
	status := devices.Status{
		DeviceID:   device.ID,
		LastSeenAt: reportedLastSeen(req.LastSeenAt, now),
		AppVersion: req.AppVersion,
		UpdatedAt:  now,
	}
	if err := s.registry.UpsertStatus(ctx, status); err != nil && s.logger != nil {
		s.logger.Printf("dispatch: status upsert failed for %s: %v", device.ID, err)
	}

	return &PullResponse{
		DeviceID:        device.ID,
		Commands:        views,
		Timestamp:       now,
		NextPollSeconds: s.cfg.PullIntervalSeconds,
	}, nil
}

// reportedLastSeen prefers the device's own poll timestamp over server time.
// Unparseable or future values fall back to now; device clocks drift.
func reportedLastSeen(reported string, now time.Time) time.Time {
	if reported == "" {
		return now
	}
	ts, err := time.Parse(time.RFC3339, reported)
	if err != nil || ts.After(now) {
		return now
	}
	return ts.UTC()
}

func (s *Service) lookupDevice(ctx context.Context, deviceID string) (*devices.Device, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	device, err := s.registry.Get(ctx, deviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}
	return device, nil
}

// collectBatch runs the expiry sweep and the selection/claim pass for one
// device. The claim is a conditional write per command: when concurrent
// polls race for the same device, at most one observes a command as still
// queued.
func (s *Service) collectBatch(ctx context.Context, deviceID string, now time.Time, limit int) ([]CommandView, error) {
	expired, err := s.store.ExpireOverdue(ctx, deviceID, now)
	if err != nil {
		return nil, err
	}
	metrics.AddCommandsExpired(len(expired))
	for _, id := range expired {
		s.publish(ctx, events.CommandExpired{CommandID: id, DeviceID: deviceID, ExpiredAt: now})
	}

	batch, err := s.store.ListDeliverable(ctx, deviceID, now, limit)
	if err != nil {
		return nil, err
	}

	claimed := 0
	views := make([]CommandView, 0, len(batch))
	for i := range batch {
		cmd := batch[i]
		if cmd.Status == commands.StatusQueued {
			ok, err := s.store.Claim(ctx, cmd.CommandID, now)
			if err != nil {
				return nil, err
			}
			if ok {
				claimed++
			}
			// A lost race means a concurrent poll claimed it first; the
			// command is sent either way and still belongs in this batch.
			cmd.Status = commands.StatusSent
			cmd.SentAt = now
		}
		views = append(views, toView(cmd))
	}
	metrics.AddCommandsClaimed(claimed)
	return views, nil
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Printf("dispatch: event publish failed: %v", err)
	}
}

func toView(cmd commands.Command) CommandView {
	view := CommandView{
		CommandID:   cmd.CommandID,
		CommandType: cmd.CommandType,
		Priority:    cmd.Priority,
		NotBefore:   cmd.NotBefore,
		ExpiresAt:   cmd.ExpiresAt,
		Status:      cmd.Status,
		CreatedAt:   cmd.CreatedAt,
	}
	if len(cmd.Payload) > 0 {
		view.Payload = json.RawMessage(cmd.Payload)
	}
	return view
}
