package memory

import (
	"context"
	"sync"
	"time"

	receipts "roomcast-cloud/internal/receipts/domain"
)

// ReceiptRepository is an in-memory receipt log for unit tests.
type ReceiptRepository struct {
	mu   sync.Mutex
	data []receipts.Receipt
}

// NewReceiptRepository constructs a repository.
func NewReceiptRepository() *ReceiptRepository {
	return &ReceiptRepository{}
}

// Append stores one receipt.
func (r *ReceiptRepository) Append(ctx context.Context, receipt receipts.Receipt) error {
	_ = ctx
	if receipt.ID == "" {
		receipt.ID = receipts.NewID()
	}
	if receipt.ReceivedAt.IsZero() {
		receipt.ReceivedAt = time.Now().UTC()
	}
	r.mu.Lock()
	r.data = append(r.data, receipt)
	r.mu.Unlock()
	return nil
}

// ListByCommand returns receipts for a command in arrival order.
func (r *ReceiptRepository) ListByCommand(ctx context.Context, commandID string) ([]receipts.Receipt, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []receipts.Receipt
	for _, receipt := range r.data {
		if receipt.CommandID == commandID {
			result = append(result, receipt)
		}
	}
	return result, nil
}

// ListByTimeRange returns receipts received within [from, to).
func (r *ReceiptRepository) ListByTimeRange(ctx context.Context, from, to time.Time) ([]receipts.Receipt, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []receipts.Receipt
	for _, receipt := range r.data {
		if receipt.ReceivedAt.Before(from) || !receipt.ReceivedAt.Before(to) {
			continue
		}
		result = append(result, receipt)
	}
	return result, nil
}

// Count returns the number of stored receipts, for assertion convenience.
func (r *ReceiptRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.data)
}
