package http

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	commandsapp "roomcast-cloud/internal/commands/application"
	commands "roomcast-cloud/internal/commands/domain"
	commandsmem "roomcast-cloud/internal/commands/infrastructure/memory"
	devices "roomcast-cloud/internal/devices/domain"
	devicesmem "roomcast-cloud/internal/devices/infrastructure/memory"
	dispatchapp "roomcast-cloud/internal/dispatch/application"
	receiptsmem "roomcast-cloud/internal/receipts/infrastructure/memory"
)

func newTestHandler(t *testing.T) (*Handler, *commandsmem.CommandRepository) {
	t.Helper()
	logger := log.New(os.Stdout, "", 0)
	store := commandsmem.NewCommandRepository()
	registry := devicesmem.NewDeviceRepository()
	registry.Add(devices.Device{
		ID:         "dev-1",
		TenantID:   "hotel-1",
		PropertyID: "property-1",
		DeviceType: devices.TypeRoomTV,
	})

	dispatchSvc, err := dispatchapp.NewService(store, registry, dispatchapp.DefaultConfig(), nil, nil, logger)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}
	lifecycleSvc, err := commandsapp.NewService(store, receiptsmem.NewReceiptRepository(), registry, nil, nil, logger)
	if err != nil {
		t.Fatalf("lifecycle service: %v", err)
	}
	handler, err := NewHandler(dispatchSvc, lifecycleSvc)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler, store
}

func seedQueued(t *testing.T, store *commandsmem.CommandRepository, id string) {
	t.Helper()
	now := time.Now().UTC()
	err := store.Create(context.Background(), &commands.Command{
		CommandID:   id,
		TenantID:    "hotel-1",
		DeviceID:    "dev-1",
		CommandType: "reload_content",
		Payload:     []byte(`{"channel":"promo"}`),
		ExpiresAt:   now.Add(time.Hour),
		Status:      commands.StatusQueued,
		CreatedAt:   now,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestPullEndpoint(t *testing.T) {
	handler, store := newTestHandler(t)
	seedQueued(t, store, "cmd-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/pull", strings.NewReader(`{"device_id":"dev-1","app_version":"2.4.0"}`))
	resp := httptest.NewRecorder()
	handler.PullCommands(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body dispatchapp.PullResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Commands) != 1 || body.Commands[0].CommandID != "cmd-1" {
		t.Fatalf("unexpected batch: %+v", body.Commands)
	}
	if body.Commands[0].Status != commands.StatusSent {
		t.Errorf("expected sent, got %s", body.Commands[0].Status)
	}
}

func TestPullEndpointErrors(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/pull", strings.NewReader(`{broken`))
	resp := httptest.NewRecorder()
	handler.PullCommands(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad json, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/pull", strings.NewReader(`{}`))
	resp = httptest.NewRecorder()
	handler.PullCommands(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing device_id, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/pull", strings.NewReader(`{"device_id":"ghost"}`))
	resp = httptest.NewRecorder()
	handler.PullCommands(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown device, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/v1/device/commands/pull", nil)
	resp = httptest.NewRecorder()
	handler.PullCommands(resp, req)
	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.Code)
	}
}

func TestHeartbeatEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/heartbeat", strings.NewReader(`{"device_id":"dev-1","network":"wifi","power_state":"on"}`))
	resp := httptest.NewRecorder()
	handler.Heartbeat(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	var body dispatchapp.HeartbeatResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Flags.NextHeartbeatSeconds == 0 {
		t.Error("expected next heartbeat hint")
	}
	if body.PendingCommands == nil {
		t.Error("pending_commands should encode as an array")
	}
}

func TestAckEndpoint(t *testing.T) {
	handler, store := newTestHandler(t)
	seedQueued(t, store, "cmd-1")

	// Deliver first so the command is resolvable.
	pull := httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/pull", strings.NewReader(`{"device_id":"dev-1"}`))
	handler.PullCommands(httptest.NewRecorder(), pull)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/ack", strings.NewReader(`{"device_id":"dev-1","command_id":"cmd-1","status":"ack"}`))
	resp := httptest.NewRecorder()
	handler.Acknowledge(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}

	var result commandsapp.AckResult
	if err := json.Unmarshal(resp.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if result.CommandStatus != commands.StatusAcked {
		t.Fatalf("expected ack, got %s", result.CommandStatus)
	}
	if result.CommandID != "cmd-1" || result.DeviceID != "dev-1" {
		t.Errorf("response must echo the command/device pair: %+v", result)
	}
	if result.AcknowledgedStatus != "ack" {
		t.Errorf("reported status not echoed: %q", result.AcknowledgedStatus)
	}
	if result.Timestamp.IsZero() {
		t.Error("expected a resolution timestamp")
	}
}

func TestAckEndpointErrors(t *testing.T) {
	handler, store := newTestHandler(t)
	seedQueued(t, store, "cmd-1")

	req := httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/ack", strings.NewReader(`{"device_id":"dev-1","command_id":"cmd-1","status":"done"}`))
	resp := httptest.NewRecorder()
	handler.Acknowledge(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad status, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/ack", strings.NewReader(`{"device_id":"dev-1","command_id":"ghost","status":"ack"}`))
	resp = httptest.NewRecorder()
	handler.Acknowledge(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown command, got %d", resp.Code)
	}

	// Never delivered: the conditional resolve refuses a queued command.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/device/commands/ack", strings.NewReader(`{"device_id":"dev-1","command_id":"cmd-1","status":"ack"}`))
	resp = httptest.NewRecorder()
	handler.Acknowledge(resp, req)
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409 for unresolvable command, got %d", resp.Code)
	}
}
