package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/google/uuid"

	"roomcast-cloud/internal/commands/application/events"
	commands "roomcast-cloud/internal/commands/domain"
	devices "roomcast-cloud/internal/devices/domain"
	"roomcast-cloud/internal/observability/metrics"
	receipts "roomcast-cloud/internal/receipts/domain"
)

var (
	ErrDeviceIDRequired    = errors.New("commands: device_id required")
	ErrCommandIDRequired   = errors.New("commands: command_id required")
	ErrCommandTypeRequired = errors.New("commands: command_type required")
	ErrInvalidPayload      = errors.New("commands: payload must be a JSON object")
	ErrInvalidStatus       = errors.New("commands: unknown acknowledgment status")
	ErrDeviceNotFound      = errors.New("commands: device not found")
)

// defaultTTL bounds commands issued without an explicit deadline.
const defaultTTL = 24 * time.Hour

// Clock abstracts time for tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// CommandStore is the slice of the command store the lifecycle service needs.
type CommandStore interface {
	Create(ctx context.Context, cmd *commands.Command) error
	GetByID(ctx context.Context, id string) (*commands.Command, error)
	Resolve(ctx context.Context, commandID, status, errMsg string, resolvedAt time.Time) (bool, error)
	ListByDeviceAndTime(ctx context.Context, tenantID, deviceID string, from, to time.Time) ([]commands.Command, error)
}

// ReceiptLog appends and reads device delivery reports.
type ReceiptLog interface {
	Append(ctx context.Context, receipt receipts.Receipt) error
	ListByCommand(ctx context.Context, commandID string) ([]receipts.Receipt, error)
}

// DeviceRegistry resolves device registrations.
type DeviceRegistry interface {
	Get(ctx context.Context, id string) (*devices.Device, error)
}

// EventPublisher emits lifecycle events.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// IssueRequest is an operator's request to queue a command.
type IssueRequest struct {
	DeviceID    string          `json:"device_id"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
	ExpiresAt   *time.Time      `json:"expires_at,omitempty"`
}

// IssueResponse is the wire shape of a freshly queued command.
type IssueResponse struct {
	CommandID   string          `json:"command_id"`
	TenantID    string          `json:"tenant_id"`
	PropertyID  string          `json:"property_id"`
	DeviceID    string          `json:"device_id"`
	CommandType string          `json:"command_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority"`
	NotBefore   *time.Time      `json:"not_before,omitempty"`
	ExpiresAt   time.Time       `json:"expires_at"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
}

// AckRequest is a device's report about one command.
type AckRequest struct {
	DeviceID     string          `json:"device_id"`
	CommandID    string          `json:"command_id"`
	Status       string          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
	DurationMS   int64           `json:"duration_ms,omitempty"`
	Details      json.RawMessage `json:"details,omitempty"`
}

// AckResult reports the command's state after processing an acknowledgment.
// AcknowledgedStatus echoes what the device reported; CommandStatus is the
// command's state afterwards, which differs for "received" and retried reports.
type AckResult struct {
	CommandID          string    `json:"command_id"`
	DeviceID           string    `json:"device_id"`
	AcknowledgedStatus string    `json:"acknowledged_status"`
	CommandStatus      string    `json:"command_status"`
	Timestamp          time.Time `json:"timestamp"`
	AlreadyResolved    bool      `json:"already_resolved,omitempty"`
}

// Service owns the command lifecycle outside the dispatch path: operator
// issuance and device acknowledgment.
type Service struct {
	store    CommandStore
	receipts ReceiptLog
	registry DeviceRegistry
	bus      EventPublisher
	clock    Clock
	logger   *log.Logger
}

// NewService constructs the lifecycle service. The event publisher may be nil.
func NewService(store CommandStore, receiptLog ReceiptLog, registry DeviceRegistry, bus EventPublisher, clock Clock, logger *log.Logger) (*Service, error) {
	if store == nil {
		return nil, errors.New("commands: nil command store")
	}
	if receiptLog == nil {
		return nil, errors.New("commands: nil receipt log")
	}
	if registry == nil {
		return nil, errors.New("commands: nil device registry")
	}
	if clock == nil {
		clock = systemClock{}
	}
	return &Service{store: store, receipts: receiptLog, registry: registry, bus: bus, clock: clock, logger: logger}, nil
}

// Issue validates and persists a new queued command for a registered device.
// tenantID comes from the authenticated operator, never from the request body.
func (s *Service) Issue(ctx context.Context, tenantID string, req IssueRequest) (*IssueResponse, error) {
	if req.DeviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if req.CommandType == "" {
		return nil, ErrCommandTypeRequired
	}
	if len(req.Payload) > 0 && !json.Valid(req.Payload) {
		return nil, ErrInvalidPayload
	}

	device, err := s.registry.Get(ctx, req.DeviceID)
	if err != nil {
		return nil, err
	}
	if device == nil {
		return nil, ErrDeviceNotFound
	}

	now := s.clock.Now()
	expiresAt := now.Add(defaultTTL)
	if req.ExpiresAt != nil {
		expiresAt = req.ExpiresAt.UTC()
	}

	cmd := &commands.Command{
		CommandID:   NewCommandID(),
		TenantID:    tenantID,
		PropertyID:  device.PropertyID,
		DeviceID:    device.ID,
		CommandType: req.CommandType,
		Payload:     []byte(req.Payload),
		Priority:    req.Priority,
		NotBefore:   req.NotBefore,
		ExpiresAt:   expiresAt,
		Status:      commands.StatusQueued,
		CreatedAt:   now,
	}
	if err := cmd.ValidateWindow(); err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, cmd); err != nil {
		return nil, err
	}
	metrics.IncCommandIssued()

	s.publish(ctx, events.CommandIssued{
		CommandID:   cmd.CommandID,
		TenantID:    cmd.TenantID,
		PropertyID:  cmd.PropertyID,
		DeviceID:    cmd.DeviceID,
		CommandType: cmd.CommandType,
		Priority:    cmd.Priority,
		ExpiresAt:   cmd.ExpiresAt,
		CreatedAt:   cmd.CreatedAt,
	})
	return &IssueResponse{
		CommandID:   cmd.CommandID,
		TenantID:    cmd.TenantID,
		PropertyID:  cmd.PropertyID,
		DeviceID:    cmd.DeviceID,
		CommandType: cmd.CommandType,
		Payload:     json.RawMessage(cmd.Payload),
		Priority:    cmd.Priority,
		NotBefore:   cmd.NotBefore,
		ExpiresAt:   cmd.ExpiresAt,
		Status:      cmd.Status,
		CreatedAt:   cmd.CreatedAt,
	}, nil
}

// Acknowledge processes a device's report about one command. A "received"
// report is recorded but changes no state; "ack" and "error" resolve the
// command. Reports for commands belonging to another device read as not
// found, so one device cannot learn whether another's command ids exist.
func (s *Service) Acknowledge(ctx context.Context, req AckRequest) (*AckResult, error) {
	if req.DeviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	if req.CommandID == "" {
		return nil, ErrCommandIDRequired
	}
	if !receipts.ValidStatus(req.Status) {
		return nil, ErrInvalidStatus
	}

	cmd, err := s.store.GetByID(ctx, req.CommandID)
	if err != nil {
		return nil, err
	}
	if cmd == nil || cmd.DeviceID != req.DeviceID {
		return nil, commands.ErrNotFound
	}

	now := s.clock.Now()

	if req.Status == receipts.StatusReceived {
		s.appendReceipt(ctx, req, now)
		return s.ackResult(req, cmd.Status, now, false), nil
	}

	if commands.IsTerminal(cmd.Status) {
		// Retried acknowledgment. Keep the receipt, leave the state alone.
		s.appendReceipt(ctx, req, now)
		return s.ackResult(req, cmd.Status, now, true), nil
	}

	target := commands.StatusAcked
	if req.Status == receipts.StatusError {
		target = commands.StatusFailed
	}

	ok, err := s.store.Resolve(ctx, cmd.CommandID, target, req.ErrorMessage, now)
	if err != nil {
		return nil, err
	}
	if !ok {
		// Lost a race with another resolution or the expiry sweep.
		current, err := s.store.GetByID(ctx, cmd.CommandID)
		if err != nil {
			return nil, err
		}
		if current != nil && commands.IsTerminal(current.Status) {
			s.appendReceipt(ctx, req, now)
			return s.ackResult(req, current.Status, now, true), nil
		}
		return nil, commands.ErrNotResolvable
	}

	s.appendReceipt(ctx, req, now)
	s.publish(ctx, events.CommandAcknowledged{
		CommandID:   cmd.CommandID,
		DeviceID:    cmd.DeviceID,
		CommandType: cmd.CommandType,
		Status:      target,
		Error:       req.ErrorMessage,
		DurationMS:  req.DurationMS,
		ResolvedAt:  now,
	})
	return s.ackResult(req, target, now, false), nil
}

func (s *Service) ackResult(req AckRequest, commandStatus string, now time.Time, alreadyResolved bool) *AckResult {
	return &AckResult{
		CommandID:          req.CommandID,
		DeviceID:           req.DeviceID,
		AcknowledgedStatus: req.Status,
		CommandStatus:      commandStatus,
		Timestamp:          now,
		AlreadyResolved:    alreadyResolved,
	}
}

// History returns one device's commands created inside [from, to], scoped to
// the caller's tenant.
func (s *Service) History(ctx context.Context, tenantID, deviceID string, from, to time.Time) ([]commands.Command, error) {
	if deviceID == "" {
		return nil, ErrDeviceIDRequired
	}
	return s.store.ListByDeviceAndTime(ctx, tenantID, deviceID, from, to)
}

// Receipts returns the receipt trail for one command.
func (s *Service) Receipts(ctx context.Context, commandID string) ([]receipts.Receipt, error) {
	if commandID == "" {
		return nil, ErrCommandIDRequired
	}
	return s.receipts.ListByCommand(ctx, commandID)
}

// appendReceipt records the report on the append-only log. The status update
// already happened, so a log failure is logged and swallowed.
func (s *Service) appendReceipt(ctx context.Context, req AckRequest, now time.Time) {
	details := mergeErrorDetails(req.Details, req.ErrorMessage)
	receipt := receipts.Receipt{
		CommandID:  req.CommandID,
		DeviceID:   req.DeviceID,
		Status:     req.Status,
		Details:    details,
		ReceivedAt: now,
	}
	if err := s.receipts.Append(ctx, receipt); err != nil && s.logger != nil {
		s.logger.Printf("commands: receipt append failed for %s: %v", req.CommandID, err)
	}
}

// mergeErrorDetails folds the reported error message into the details object
// so the audit trail keeps both. Non-object details are nested under a
// "details" key rather than discarded.
func mergeErrorDetails(details json.RawMessage, errMsg string) json.RawMessage {
	if errMsg == "" {
		return details
	}
	merged := map[string]json.RawMessage{}
	if len(details) > 0 {
		if err := json.Unmarshal(details, &merged); err != nil {
			merged = map[string]json.RawMessage{"details": details}
		}
	}
	encodedMsg, err := json.Marshal(errMsg)
	if err != nil {
		return details
	}
	merged["error"] = encodedMsg
	encoded, err := json.Marshal(merged)
	if err != nil {
		return details
	}
	return encoded
}

func (s *Service) publish(ctx context.Context, event any) {
	if s.bus == nil {
		return
	}
	if err := s.bus.Publish(ctx, event); err != nil && s.logger != nil {
		s.logger.Printf("commands: event publish failed: %v", err)
	}
}

// NewCommandID generates a command identifier.
func NewCommandID() string {
	return "cmd-" + uuid.NewString()
}
