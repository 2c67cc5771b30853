package application

import (
	"context"
	"testing"
	"time"

	devices "roomcast-cloud/internal/devices/domain"
	devicesmem "roomcast-cloud/internal/devices/infrastructure/memory"
)

type fixedClock struct {
	t time.Time
}

func (c fixedClock) Now() time.Time { return c.t }

func TestFleetOnlineDetermination(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	repo := devicesmem.NewDeviceRepository()
	repo.Add(devices.Device{ID: "dev-online", TenantID: "hotel-1", PropertyID: "property-1", DeviceType: devices.TypeRoomTV})
	repo.Add(devices.Device{ID: "dev-offline", TenantID: "hotel-1", PropertyID: "property-1", DeviceType: devices.TypeRoomTV})
	repo.Add(devices.Device{ID: "dev-silent", TenantID: "hotel-1", PropertyID: "property-1", DeviceType: devices.TypeAdPlayer})
	repo.Add(devices.Device{ID: "dev-foreign", TenantID: "hotel-2", PropertyID: "property-1", DeviceType: devices.TypeRoomTV})

	ctx := context.Background()
	_ = repo.UpsertStatus(ctx, devices.Status{DeviceID: "dev-online", LastSeenAt: now.Add(-time.Minute), AppVersion: "2.4.0"})
	_ = repo.UpsertStatus(ctx, devices.Status{DeviceID: "dev-offline", LastSeenAt: now.Add(-time.Hour)})

	svc, err := NewService(repo, DefaultOfflineAfter, fixedClock{t: now})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	entries, err := svc.Fleet(ctx, "hotel-1", "property-1")
	if err != nil {
		t.Fatalf("fleet: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("foreign tenant device must be filtered, got %d entries", len(entries))
	}

	byID := make(map[string]FleetEntry, len(entries))
	for _, entry := range entries {
		byID[entry.DeviceID] = entry
	}
	if !byID["dev-online"].Online {
		t.Error("recently seen device should be online")
	}
	if byID["dev-online"].AppVersion != "2.4.0" {
		t.Error("status fields should be joined into the entry")
	}
	if byID["dev-offline"].Online {
		t.Error("stale device should be offline")
	}
	if byID["dev-silent"].Online || byID["dev-silent"].LastSeenAt != nil {
		t.Error("never-seen device should be offline with no last-seen")
	}

	if _, err := svc.Fleet(ctx, "hotel-1", ""); err != ErrPropertyIDRequired {
		t.Fatalf("expected ErrPropertyIDRequired, got %v", err)
	}
}
