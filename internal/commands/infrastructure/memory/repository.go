package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	commands "roomcast-cloud/internal/commands/domain"
)

// CommandRepository is an in-memory command store used by unit tests. The
// claim and resolve operations are compare-and-set under a single mutex,
// matching the conditional-update semantics of the Postgres store.
type CommandRepository struct {
	mu   sync.Mutex
	data map[string]*commands.Command
}

// NewCommandRepository constructs a repository.
func NewCommandRepository() *CommandRepository {
	return &CommandRepository{data: make(map[string]*commands.Command)}
}

// Create inserts a command.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	_ = ctx
	if cmd == nil {
		return commands.ErrNotFound
	}
	clone := *cmd
	r.mu.Lock()
	r.data[cmd.CommandID] = &clone
	r.mu.Unlock()
	return nil
}

// GetByID fetches a command by id, nil when absent.
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[id]
	if !ok {
		return nil, nil
	}
	clone := *cmd
	return &clone, nil
}

// ListDeliverable returns eligible commands ordered by priority descending,
// then creation time ascending.
func (r *CommandRepository) ListDeliverable(ctx context.Context, deviceID string, now time.Time, limit int) ([]commands.Command, error) {
	_ = ctx
	if limit <= 0 {
		limit = 10
	}
	r.mu.Lock()
	var eligible []commands.Command
	for _, cmd := range r.data {
		if cmd.DeviceID != deviceID {
			continue
		}
		if !cmd.Deliverable(now) {
			continue
		}
		eligible = append(eligible, *cmd)
	}
	r.mu.Unlock()

	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	return eligible, nil
}

// Claim flips queued -> sent for one command; false when it lost the race.
func (r *CommandRepository) Claim(ctx context.Context, commandID string, sentAt time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[commandID]
	if !ok || cmd.Status != commands.StatusQueued {
		return false, nil
	}
	cmd.Status = commands.StatusSent
	cmd.SentAt = sentAt
	return true, nil
}

// Resolve flips sent -> ack/failed for one command.
func (r *CommandRepository) Resolve(ctx context.Context, commandID, status, errMsg string, resolvedAt time.Time) (bool, error) {
	_ = ctx
	if status != commands.StatusAcked && status != commands.StatusFailed {
		return false, commands.ErrNotResolvable
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cmd, ok := r.data[commandID]
	if !ok || cmd.Status != commands.StatusSent {
		return false, nil
	}
	cmd.Status = status
	cmd.Error = errMsg
	cmd.ResolvedAt = resolvedAt
	return true, nil
}

// ExpireOverdue sweeps overdue queued/sent commands for a device and returns
// the ids it transitioned.
func (r *CommandRepository) ExpireOverdue(ctx context.Context, deviceID string, now time.Time) ([]string, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, cmd := range r.data {
		if cmd.DeviceID != deviceID {
			continue
		}
		if cmd.Status != commands.StatusQueued && cmd.Status != commands.StatusSent {
			continue
		}
		if cmd.ExpiresAt.After(now) {
			continue
		}
		cmd.Status = commands.StatusExpired
		cmd.ResolvedAt = now
		ids = append(ids, cmd.CommandID)
	}
	return ids, nil
}

// ListByDeviceAndTime lists commands for a device in a creation time range.
func (r *CommandRepository) ListByDeviceAndTime(ctx context.Context, tenantID, deviceID string, from, to time.Time) ([]commands.Command, error) {
	_ = ctx
	r.mu.Lock()
	var result []commands.Command
	for _, cmd := range r.data {
		if cmd.TenantID != tenantID || cmd.DeviceID != deviceID {
			continue
		}
		if cmd.CreatedAt.Before(from) || !cmd.CreatedAt.Before(to) {
			continue
		}
		result = append(result, *cmd)
	}
	r.mu.Unlock()
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	return result, nil
}
