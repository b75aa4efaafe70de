package orders

import (
	"context"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// Store persists orders. Lookups return (nil, nil) when nothing matches.
//
// MarkPaid and MarkCancelled are conditional on the order still being
// Pending, decided atomically by the backend. When the order is already
// terminal they return the current order together with
// domain.ErrInvalidState, and domain.ErrNotFound for unknown ids.
type Store interface {
	Create(ctx context.Context, order *domain.Order) (string, error)
	GetByReceiptID(ctx context.Context, id string) (*domain.Order, error)
	FindByRemoteOrderID(ctx context.Context, remoteOrderID string) (*domain.Order, error)

	// AttachRemoteOrder records the processor order id while the order is Pending.
	AttachRemoteOrder(ctx context.Context, id, remoteOrderID string) error
	MarkPaid(ctx context.Context, id string, payment domain.Payment) (*domain.Order, error)
	MarkCancelled(ctx context.Context, id string, at time.Time) (*domain.Order, error)
	// ClaimStock stamps a Paid order before its stock is decremented. Only
	// one caller gets true; it alone may decrement. ReleaseStockClaim clears
	// the stamp again when it still holds claimedAt, so a failed decrement
	// can be retried.
	ClaimStock(ctx context.Context, id string, at time.Time) (bool, error)
	ReleaseStockClaim(ctx context.Context, id string, claimedAt time.Time) error

	ListByOwner(ctx context.Context, ownerKey string, status domain.OrderStatus) ([]domain.Order, error)
	ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error)
	ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error)
	ListPaidWithoutStock(ctx context.Context, limit int) ([]domain.Order, error)
}

const defaultListLimit = 100

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 1000 {
		return defaultListLimit
	}
	return limit
}
