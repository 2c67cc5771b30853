package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	receipts "roomcast-cloud/internal/receipts/domain"
)

const defaultReceiptsTable = "command_receipts"

// ReceiptRepository is a Postgres implementation of the receipt log.
// Rows are only ever inserted.
type ReceiptRepository struct {
	db    *sql.DB
	table string
}

// NewReceiptRepository constructs a repository.
func NewReceiptRepository(db *sql.DB, opts ...Option) *ReceiptRepository {
	repo := &ReceiptRepository{db: db, table: defaultReceiptsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Option configures the repository.
type Option func(*ReceiptRepository)

// WithTable overrides the default table name.
func WithTable(table string) Option {
	return func(repo *ReceiptRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// Append writes one receipt.
func (r *ReceiptRepository) Append(ctx context.Context, receipt receipts.Receipt) error {
	if r == nil || r.db == nil {
		return errors.New("receipt repo: nil db")
	}
	if receipt.ID == "" {
		receipt.ID = receipts.NewID()
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}
	details := receipt.Details
	if len(details) == 0 {
		details = json.RawMessage("{}")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id, command_id, device_id, status, details, received_at
) VALUES (
	$1, $2, $3, $4, $5, $6
)`, r.table)
	_, err := r.db.ExecContext(ctx, query,
		receipt.ID, receipt.CommandID, receipt.DeviceID, receipt.Status, []byte(details), receipt.ReceivedAt.UTC())
	return err
}

// ListByCommand returns the receipts for a command in arrival order.
func (r *ReceiptRepository) ListByCommand(ctx context.Context, commandID string) ([]receipts.Receipt, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("receipt repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, command_id, device_id, status, details, received_at
FROM %s
WHERE command_id = $1
ORDER BY received_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, commandID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

// ListByTimeRange returns receipts received within [from, to) across the fleet.
func (r *ReceiptRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]receipts.Receipt, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("receipt repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT id, command_id, device_id, status, details, received_at
FROM %s
WHERE received_at >= $1 AND received_at < $2
ORDER BY received_at ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectReceipts(rows)
}

func collectReceipts(rows *sql.Rows) ([]receipts.Receipt, error) {
	var result []receipts.Receipt
	for rows.Next() {
		var receipt receipts.Receipt
		var details []byte
		if err := rows.Scan(
			&receipt.ID,
			&receipt.CommandID,
			&receipt.DeviceID,
			&receipt.Status,
			&details,
			&receipt.ReceivedAt,
		); err != nil {
			return nil, err
		}
		receipt.Details = details
		receipt.ReceivedAt = receipt.ReceivedAt.UTC()
		result = append(result, receipt)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
