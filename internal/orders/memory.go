package orders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// MemoryStore keeps orders in process. Used for local development and tests.
type MemoryStore struct {
	mu     sync.Mutex
	orders map[string]*domain.Order
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{orders: make(map[string]*domain.Order)}
}

func (s *MemoryStore) Create(_ context.Context, order *domain.Order) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New().String()
	order.ID = id
	order.Status = domain.OrderStatusPending
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	s.orders[id] = order.Clone()
	return id, nil
}

func (s *MemoryStore) GetByReceiptID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.orders[id].Clone(), nil
}

func (s *MemoryStore) FindByRemoteOrderID(_ context.Context, remoteOrderID string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if remoteOrderID != "" && o.RemoteOrderID == remoteOrderID {
			return o.Clone(), nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) AttachRemoteOrder(_ context.Context, id, remoteOrderID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return domain.ErrInvalidState
	}
	o.RemoteOrderID = remoteOrderID
	return nil
}

func (s *MemoryStore) MarkPaid(_ context.Context, id string, payment domain.Payment) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return o.Clone(), domain.ErrInvalidState
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	o.Status = domain.OrderStatusPaid
	o.Payment = &payment
	return o.Clone(), nil
}

func (s *MemoryStore) MarkCancelled(_ context.Context, id string, at time.Time) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPending {
		return o.Clone(), domain.ErrInvalidState
	}
	at = at.UTC()
	o.Status = domain.OrderStatusCancelled
	o.CancelledAt = &at
	return o.Clone(), nil
}

func (s *MemoryStore) ClaimStock(_ context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return false, domain.ErrNotFound
	}
	if o.Status != domain.OrderStatusPaid || o.StockAppliedAt != nil {
		return false, nil
	}
	at = at.UTC()
	o.StockAppliedAt = &at
	return true, nil
}

func (s *MemoryStore) ReleaseStockClaim(_ context.Context, id string, claimedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return domain.ErrNotFound
	}
	if o.StockAppliedAt != nil && o.StockAppliedAt.Equal(claimedAt) {
		o.StockAppliedAt = nil
	}
	return nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, ownerKey string, status domain.OrderStatus) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.OwnerKey == ownerKey && o.Status == status
	}, true, defaultListLimit), nil
}

func (s *MemoryStore) ListByStatus(_ context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.Status == status
	}, true, normalizeLimit(limit)), nil
}

func (s *MemoryStore) ListPendingBefore(_ context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusPending && o.CreatedAt.Before(before)
	}, false, normalizeLimit(limit)), nil
}

func (s *MemoryStore) ListPaidWithoutStock(_ context.Context, limit int) ([]domain.Order, error) {
	return s.filter(func(o *domain.Order) bool {
		return o.Status == domain.OrderStatusPaid && o.StockAppliedAt == nil
	}, false, normalizeLimit(limit)), nil
}

func (s *MemoryStore) filter(match func(*domain.Order) bool, newestFirst bool, limit int) []domain.Order {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := []domain.Order{}
	for _, o := range s.orders {
		if match(o) {
			out = append(out, *o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if newestFirst {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
