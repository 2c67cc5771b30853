package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	commands "roomcast-cloud/internal/commands/domain"
)

const defaultCommandsTable = "commands"

const commandColumns = `command_id, tenant_id, property_id, device_id, command_type, payload,
	priority, not_before, expires_at, status, error, created_at, sent_at, resolved_at`

// CommandRepository is a Postgres implementation of the command store.
type CommandRepository struct {
	db    *sql.DB
	table string
}

// NewCommandRepository constructs a repository.
func NewCommandRepository(db *sql.DB, opts ...Option) *CommandRepository {
	repo := &CommandRepository{db: db, table: defaultCommandsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Option configures the repository.
type Option func(*CommandRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *CommandRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Create inserts a command in queued state.
func (r *CommandRepository) Create(ctx context.Context, cmd *commands.Command) error {
	if r == nil || r.db == nil {
		return errors.New("command repo: nil db")
	}
	if cmd == nil {
		return errors.New("command repo: nil command")
	}
	payload := cmd.Payload
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	if !json.Valid(payload) {
		return errors.New("command repo: invalid payload")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	command_id, tenant_id, property_id, device_id, command_type, payload,
	priority, not_before, expires_at, status, created_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
)`, r.table)
	var notBefore any
	if cmd.NotBefore != nil {
		notBefore = cmd.NotBefore.UTC()
	}
	_, err := r.db.ExecContext(ctx, query,
		cmd.CommandID, cmd.TenantID, cmd.PropertyID, cmd.DeviceID, cmd.CommandType, payload,
		cmd.Priority, notBefore, cmd.ExpiresAt.UTC(), cmd.Status, cmd.CreatedAt.UTC())
	return err
}

// GetByID fetches a command by id.
func (r *CommandRepository) GetByID(ctx context.Context, id string) (*commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE command_id = $1
LIMIT 1`, commandColumns, r.table)
	return scanCommand(r.db.QueryRowContext(ctx, query, id))
}

// ListDeliverable returns up to limit eligible commands for a device at now,
// ordered by priority descending then creation time ascending. Eligible means
// unresolved, activated and not past its deadline.
func (r *CommandRepository) ListDeliverable(ctx context.Context, deviceID string, now time.Time, limit int) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	if deviceID == "" {
		return nil, errors.New("command repo: empty device id")
	}
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE device_id = $1
	AND status IN ($2, $3)
	AND (not_before IS NULL OR not_before <= $4)
	AND expires_at > $4
ORDER BY priority DESC, created_at ASC
LIMIT $5`, commandColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, deviceID, commands.StatusQueued, commands.StatusSent, now.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommands(rows)
}

// Claim advances a single command from queued to sent. The update is a
// conditional write guarded by the expected prior status, so at most one of
// any concurrent pollers observes claimed=true.
func (r *CommandRepository) Claim(ctx context.Context, commandID string, sentAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, sent_at = $2
WHERE command_id = $3 AND status = $4`, r.table)
	result, err := r.db.ExecContext(ctx, query, commands.StatusSent, sentAt.UTC(), commandID, commands.StatusQueued)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}

// Resolve advances a sent command to a terminal ack/failed status. The update
// is guarded by status=sent; zero rows means the command was not resolvable
// and the caller decides between idempotent no-op and rejection.
func (r *CommandRepository) Resolve(ctx context.Context, commandID, status, errMsg string, resolvedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("command repo: nil db")
	}
	if status != commands.StatusAcked && status != commands.StatusFailed {
		return false, commands.ErrNotResolvable
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, error = $2, resolved_at = $3
WHERE command_id = $4 AND status = $5`, r.table)
	result, err := r.db.ExecContext(ctx, query, status, errMsg, resolvedAt.UTC(), commandID, commands.StatusSent)
	if err != nil {
		return false, err
	}
	count, _ := result.RowsAffected()
	return count > 0, nil
}

// ExpireOverdue sweeps the device's overdue commands to expired and returns
// the ids it transitioned.
func (r *CommandRepository) ExpireOverdue(ctx context.Context, deviceID string, now time.Time) ([]string, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s
SET status = $1, resolved_at = $2
WHERE device_id = $3 AND status IN ($4, $5) AND expires_at <= $2
RETURNING command_id`, r.table)
	rows, err := r.db.QueryContext(ctx, query, commands.StatusExpired, now.UTC(), deviceID, commands.StatusQueued, commands.StatusSent)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListByDeviceAndTime lists commands for a device in a creation time range.
func (r *CommandRepository) ListByDeviceAndTime(ctx context.Context, tenantID, deviceID string, from, to time.Time) ([]commands.Command, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("command repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND device_id = $2 AND created_at >= $3 AND created_at < $4
ORDER BY created_at ASC`, commandColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, tenantID, deviceID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectCommands(rows)
}

func collectCommands(rows *sql.Rows) ([]commands.Command, error) {
	var result []commands.Command
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (*commands.Command, error) {
	var cmd commands.Command
	var payload []byte
	var notBefore sql.NullTime
	var sentAt sql.NullTime
	var resolvedAt sql.NullTime
	var errMsg sql.NullString
	if err := row.Scan(
		&cmd.CommandID,
		&cmd.TenantID,
		&cmd.PropertyID,
		&cmd.DeviceID,
		&cmd.CommandType,
		&payload,
		&cmd.Priority,
		&notBefore,
		&cmd.ExpiresAt,
		&cmd.Status,
		&errMsg,
		&cmd.CreatedAt,
		&sentAt,
		&resolvedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	cmd.Payload = payload
	if notBefore.Valid {
		t := notBefore.Time.UTC()
		cmd.NotBefore = &t
	}
	if sentAt.Valid {
		cmd.SentAt = sentAt.Time.UTC()
	}
	if resolvedAt.Valid {
		cmd.ResolvedAt = resolvedAt.Time.UTC()
	}
	if errMsg.Valid {
		cmd.Error = errMsg.String
	}
	cmd.ExpiresAt = cmd.ExpiresAt.UTC()
	cmd.CreatedAt = cmd.CreatedAt.UTC()
	return &cmd, nil
}
