package integration_test

import (
	"context"
	"database/sql"
	"log"
	"os"
	"testing"
	"time"

	commandsapp "roomcast-cloud/internal/commands/application"
	commands "roomcast-cloud/internal/commands/domain"
	commandsrepo "roomcast-cloud/internal/commands/infrastructure/postgres"
	devicesrepo "roomcast-cloud/internal/devices/infrastructure/postgres"
	dispatchapp "roomcast-cloud/internal/dispatch/application"
	receipts "roomcast-cloud/internal/receipts/domain"
	receiptsrepo "roomcast-cloud/internal/receipts/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestCommandPipeline_IssuePullAck(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "commands") ||
		!tableExists(db, "command_receipts") ||
		!tableExists(db, "devices") ||
		!tableExists(db, "device_status") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM command_receipts")
	_, _ = db.ExecContext(ctx, "DELETE FROM commands")
	_, _ = db.ExecContext(ctx, "DELETE FROM device_status")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE id = 'dev-it-1'")

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
INSERT INTO devices (id, tenant_id, property_id, device_type, name, timezone, config_updated_at, created_at, updated_at)
VALUES ('dev-it-1', 'hotel-it', 'property-it', 'room_tv', 'Room 101 TV', 'UTC', $1, $1, $1)`, now)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}

	logger := log.New(os.Stdout, "", 0)
	commandStore := commandsrepo.NewCommandRepository(db)
	receiptStore := receiptsrepo.NewReceiptRepository(db)
	deviceStore := devicesrepo.NewDeviceRepository(db)

	lifecycle, err := commandsapp.NewService(commandStore, receiptStore, deviceStore, nil, nil, logger)
	if err != nil {
		t.Fatalf("lifecycle service: %v", err)
	}
	dispatch, err := dispatchapp.NewService(commandStore, deviceStore, dispatchapp.DefaultConfig(), nil, nil, logger)
	if err != nil {
		t.Fatalf("dispatch service: %v", err)
	}

	issued, err := lifecycle.Issue(ctx, "hotel-it", commandsapp.IssueRequest{
		DeviceID:    "dev-it-1",
		CommandType: "reload_content",
		Payload:     []byte(`{"channel":"promo"}`),
		Priority:    3,
	})
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Status != commands.StatusQueued {
		t.Fatalf("expected queued, got %s", issued.Status)
	}

	pull, err := dispatch.PullCommands(ctx, dispatchapp.PullRequest{DeviceID: "dev-it-1", AppVersion: "2.4.0"})
	if err != nil {
		t.Fatalf("pull: %v", err)
	}
	if len(pull.Commands) != 1 || pull.Commands[0].CommandID != issued.CommandID {
		t.Fatalf("unexpected batch: %+v", pull.Commands)
	}
	if pull.Commands[0].Status != commands.StatusSent {
		t.Fatalf("expected sent, got %s", pull.Commands[0].Status)
	}

	status, err := deviceStore.GetStatus(ctx, "dev-it-1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	if status == nil || status.AppVersion != "2.4.0" {
		t.Fatalf("pull should upsert liveness, got %+v", status)
	}

	result, err := lifecycle.Acknowledge(ctx, commandsapp.AckRequest{
		DeviceID:  "dev-it-1",
		CommandID: issued.CommandID,
		Status:    receipts.StatusAck,
	})
	if err != nil {
		t.Fatalf("ack: %v", err)
	}
	if result.CommandStatus != commands.StatusAcked {
		t.Fatalf("expected ack, got %s", result.CommandStatus)
	}

	stored, err := commandStore.GetByID(ctx, issued.CommandID)
	if err != nil {
		t.Fatalf("get command: %v", err)
	}
	if stored.Status != commands.StatusAcked || stored.ResolvedAt.IsZero() {
		t.Fatalf("terminal state not persisted: %+v", stored)
	}

	trail, err := receiptStore.ListByCommand(ctx, issued.CommandID)
	if err != nil {
		t.Fatalf("list receipts: %v", err)
	}
	if len(trail) != 1 || trail[0].Status != receipts.StatusAck {
		t.Fatalf("unexpected receipt trail: %+v", trail)
	}
}

func TestCommandPipeline_ExpirySweep(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "commands") || !tableExists(db, "devices") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	_, _ = db.ExecContext(ctx, "DELETE FROM commands")
	_, _ = db.ExecContext(ctx, "DELETE FROM device_status")
	_, _ = db.ExecContext(ctx, "DELETE FROM devices WHERE id = 'dev-it-2'")

	now := time.Now().UTC()
	_, err = db.ExecContext(ctx, `
INSERT INTO devices (id, tenant_id, property_id, device_type, name, timezone, config_updated_at, created_at, updated_at)
VALUES ('dev-it-2', 'hotel-it', 'property-it', 'ad_player', 'Lobby Player', 'UTC', $1, $1, $1)`, now)
	if err != nil {
		t.Fatalf("seed device: %v", err)
	}

	commandStore := commandsrepo.NewCommandRepository(db)
	err = commandStore.Create(ctx, &commands.Command{
		CommandID:   "cmd-it-expired",
		TenantID:    "hotel-it",
		PropertyID:  "property-it",
		DeviceID:    "dev-it-2",
		CommandType: "reboot",
		ExpiresAt:   now.Add(-time.Minute),
		Status:      commands.StatusQueued,
		CreatedAt:   now.Add(-time.Hour),
	})
	if err != nil {
		t.Fatalf("seed command: %v", err)
	}

	swept, err := commandStore.ExpireOverdue(ctx, "dev-it-2", now)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(swept) != 1 || swept[0] != "cmd-it-expired" {
		t.Fatalf("expected the overdue command swept, got %v", swept)
	}

	stored, err := commandStore.GetByID(ctx, "cmd-it-expired")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.Status != commands.StatusExpired {
		t.Fatalf("expected expired, got %s", stored.Status)
	}
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow("SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name).Scan(&exists)
	return err == nil && exists
}
