package commands

import (
	"testing"
	"time"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusQueued, StatusSent, true},
		{StatusQueued, StatusExpired, true},
		{StatusQueued, StatusAcked, false},
		{StatusQueued, StatusFailed, false},
		{StatusSent, StatusAcked, true},
		{StatusSent, StatusFailed, true},
		{StatusSent, StatusExpired, true},
		{StatusSent, StatusQueued, false},
		{StatusAcked, StatusFailed, false},
		{StatusFailed, StatusSent, false},
		{StatusExpired, StatusSent, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestIsTerminal(t *testing.T) {
	for _, status := range []string{StatusAcked, StatusFailed, StatusExpired} {
		if !IsTerminal(status) {
			t.Errorf("expected %s terminal", status)
		}
	}
	for _, status := range []string{StatusQueued, StatusSent, ""} {
		if IsTerminal(status) {
			t.Errorf("expected %s not terminal", status)
		}
	}
}

func TestValidateWindow(t *testing.T) {
	created := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	cmd := &Command{CreatedAt: created, ExpiresAt: created.Add(time.Hour)}
	if err := cmd.ValidateWindow(); err != nil {
		t.Fatalf("valid window rejected: %v", err)
	}

	cmd = &Command{CreatedAt: created, ExpiresAt: created}
	if err := cmd.ValidateWindow(); err != ErrInvalidWindow {
		t.Fatalf("expected ErrInvalidWindow for expires_at == created_at, got %v", err)
	}

	cmd = &Command{CreatedAt: created}
	if err := cmd.ValidateWindow(); err != ErrInvalidWindow {
		t.Fatalf("expected ErrInvalidWindow for zero expires_at, got %v", err)
	}

	after := created.Add(2 * time.Hour)
	cmd = &Command{CreatedAt: created, ExpiresAt: created.Add(time.Hour), NotBefore: &after}
	if err := cmd.ValidateWindow(); err != ErrInvalidWindow {
		t.Fatalf("expected ErrInvalidWindow for not_before past expires_at, got %v", err)
	}
}

func TestDeliverable(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

	cmd := &Command{Status: StatusQueued, ExpiresAt: now.Add(time.Hour)}
	if !cmd.Deliverable(now) {
		t.Fatal("queued command inside window should be deliverable")
	}

	cmd.Status = StatusSent
	if !cmd.Deliverable(now) {
		t.Fatal("sent command inside window should be deliverable")
	}

	cmd.Status = StatusAcked
	if cmd.Deliverable(now) {
		t.Fatal("resolved command should not be deliverable")
	}

	future := now.Add(time.Minute)
	cmd = &Command{Status: StatusQueued, NotBefore: &future, ExpiresAt: now.Add(time.Hour)}
	if cmd.Deliverable(now) {
		t.Fatal("command before not_before should be held")
	}
	if !cmd.Deliverable(future) {
		t.Fatal("command at not_before should be deliverable")
	}

	cmd = &Command{Status: StatusQueued, ExpiresAt: now}
	if cmd.Deliverable(now) {
		t.Fatal("command at expires_at should not be deliverable")
	}
}
