package orders

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const ordersCollection = "orders"

// orderDoc is the Firestore shape of an order, keyed by the order id.
type orderDoc struct {
	OwnerKey        string                 `firestore:"ownerKey"`
	Items           []domain.LineItem      `firestore:"items"`
	SubtotalMinor   int64                  `firestore:"subtotalMinor"`
	ShippingMinor   int64                  `firestore:"shippingMinor"`
	TotalMinor      int64                  `firestore:"totalMinor"`
	Currency        string                 `firestore:"currency"`
	ShippingAddress domain.ShippingAddress `firestore:"shippingAddress"`
	Status          string                 `firestore:"status"`
	RemoteOrderID   string                 `firestore:"remoteOrderId"`
	Payment         *domain.Payment        `firestore:"payment"`
	StockAppliedAt  *time.Time             `firestore:"stockAppliedAt"`
	CancelledAt     *time.Time             `firestore:"cancelledAt"`
	CreatedAt       time.Time              `firestore:"createdAt"`
	UpdatedAt       time.Time              `firestore:"updatedAt"`
}

func toDoc(o *domain.Order) orderDoc {
	return orderDoc{
		OwnerKey:        o.OwnerKey,
		Items:           o.LineItems,
		SubtotalMinor:   o.SubtotalMinor,
		ShippingMinor:   o.ShippingMinor,
		TotalMinor:      o.TotalMinor,
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		Status:          string(o.Status),
		RemoteOrderID:   o.RemoteOrderID,
		Payment:         o.Payment,
		StockAppliedAt:  o.StockAppliedAt,
		CancelledAt:     o.CancelledAt,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       time.Now().UTC(),
	}
}

func fromSnapshot(snap *firestore.DocumentSnapshot) (*domain.Order, error) {
	var d orderDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, err
	}
	o := &domain.Order{
		ID:              snap.Ref.ID,
		OwnerKey:        d.OwnerKey,
		LineItems:       d.Items,
		SubtotalMinor:   d.SubtotalMinor,
		ShippingMinor:   d.ShippingMinor,
		TotalMinor:      d.TotalMinor,
		Currency:        d.Currency,
		ShippingAddress: d.ShippingAddress,
		Status:          domain.OrderStatus(d.Status),
		RemoteOrderID:   d.RemoteOrderID,
		Payment:         d.Payment,
		StockAppliedAt:  d.StockAppliedAt,
		CancelledAt:     d.CancelledAt,
		CreatedAt:       d.CreatedAt.UTC(),
	}
	if o.LineItems == nil {
		o.LineItems = []domain.LineItem{}
	}
	return o, nil
}

// FirestoreStore keeps orders in the orders collection. Transitions run
// inside RunTransaction, which retries on contention, so the Pending check
// and the write are atomic.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(ordersCollection)
}

func (s *FirestoreStore) Create(ctx context.Context, order *domain.Order) (string, error) {
	id := uuid.New().String()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusPending

	if _, err := s.col().Doc(id).Create(ctx, toDoc(order)); err != nil {
		return "", domain.Persistence("create order", err)
	}
	order.ID = id
	return id, nil
}

func (s *FirestoreStore) GetByReceiptID(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, nil
	}
	snap, err := s.col().Doc(id).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, domain.Persistence("get order", err)
	}
	order, err := fromSnapshot(snap)
	if err != nil {
		return nil, domain.Persistence("decode order", err)
	}
	return order, nil
}

func (s *FirestoreStore) FindByRemoteOrderID(ctx context.Context, remoteOrderID string) (*domain.Order, error) {
	if remoteOrderID == "" {
		return nil, nil
	}
	found, err := s.query(ctx, s.col().Where("remoteOrderId", "==", remoteOrderID).Limit(1))
	if err != nil {
		return nil, err
	}
	if len(found) == 0 {
		return nil, nil
	}
	return &found[0], nil
}

var errAlreadyTerminal = errors.New("order already terminal")

// transition runs mutate inside a transaction after checking the order is
// still Pending.
func (s *FirestoreStore) transition(ctx context.Context, id string, mutate func(*domain.Order) []firestore.Update) (*domain.Order, error) {
	if id == "" {
		return nil, domain.ErrNotFound
	}
	ref := s.col().Doc(id)

	var current *domain.Order
	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}
		current, err = fromSnapshot(snap)
		if err != nil {
			return err
		}
		if current.Status != domain.OrderStatusPending {
			return errAlreadyTerminal
		}

		updates := mutate(current)
		updates = append(updates, firestore.Update{Path: "updatedAt", Value: time.Now().UTC()})
		return tx.Update(ref, updates)
	})

	switch {
	case err == nil:
		return current, nil
	case errors.Is(err, errAlreadyTerminal):
		return current, domain.ErrInvalidState
	case errors.Is(err, domain.ErrNotFound):
		return nil, domain.ErrNotFound
	default:
		return nil, domain.Persistence("transition order", err)
	}
}

func (s *FirestoreStore) AttachRemoteOrder(ctx context.Context, id, remoteOrderID string) error {
	_, err := s.transition(ctx, id, func(o *domain.Order) []firestore.Update {
		o.RemoteOrderID = remoteOrderID
		return []firestore.Update{{Path: "remoteOrderId", Value: remoteOrderID}}
	})
	return err
}

func (s *FirestoreStore) MarkPaid(ctx context.Context, id string, payment domain.Payment) (*domain.Order, error) {
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	return s.transition(ctx, id, func(o *domain.Order) []firestore.Update {
		o.Status = domain.OrderStatusPaid
		o.Payment = &payment
		return []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusPaid)},
			{Path: "payment", Value: payment},
		}
	})
}

func (s *FirestoreStore) MarkCancelled(ctx context.Context, id string, at time.Time) (*domain.Order, error) {
	at = at.UTC()
	return s.transition(ctx, id, func(o *domain.Order) []firestore.Update {
		o.Status = domain.OrderStatusCancelled
		o.CancelledAt = &at
		return []firestore.Update{
			{Path: "status", Value: string(domain.OrderStatusCancelled)},
			{Path: "cancelledAt", Value: at},
		}
	})
}

func (s *FirestoreStore) ClaimStock(ctx context.Context, id string, at time.Time) (bool, error) {
	ref := s.col().Doc(id)
	stamped := false

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		stamped = false
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}
		o, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusPaid || o.StockAppliedAt != nil {
			return nil
		}
		stamped = true
		return tx.Update(ref, []firestore.Update{{Path: "stockAppliedAt", Value: at.UTC()}})
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return false, err
		}
		return false, domain.Persistence("claim stock", err)
	}
	return stamped, nil
}

func (s *FirestoreStore) ReleaseStockClaim(ctx context.Context, id string, claimedAt time.Time) error {
	ref := s.col().Doc(id)

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		snap, err := tx.Get(ref)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return domain.ErrNotFound
			}
			return err
		}
		o, err := fromSnapshot(snap)
		if err != nil {
			return err
		}
		if o.StockAppliedAt == nil || !o.StockAppliedAt.Equal(claimedAt) {
			return nil
		}
		return tx.Update(ref, []firestore.Update{{Path: "stockAppliedAt", Value: nil}})
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return err
		}
		return domain.Persistence("release stock claim", err)
	}
	return nil
}

func (s *FirestoreStore) ListByOwner(ctx context.Context, ownerKey string, st domain.OrderStatus) ([]domain.Order, error) {
	return s.query(ctx, s.col().
		Where("ownerKey", "==", ownerKey).
		Where("status", "==", string(st)).
		OrderBy("createdAt", firestore.Desc).
		Limit(defaultListLimit))
}

func (s *FirestoreStore) ListByStatus(ctx context.Context, st domain.OrderStatus, limit int) ([]domain.Order, error) {
	return s.query(ctx, s.col().
		Where("status", "==", string(st)).
		OrderBy("createdAt", firestore.Desc).
		Limit(normalizeLimit(limit)))
}

func (s *FirestoreStore) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return s.query(ctx, s.col().
		Where("status", "==", string(domain.OrderStatusPending)).
		Where("createdAt", "<", before.UTC()).
		OrderBy("createdAt", firestore.Asc).
		Limit(normalizeLimit(limit)))
}

func (s *FirestoreStore) ListPaidWithoutStock(ctx context.Context, limit int) ([]domain.Order, error) {
	return s.query(ctx, s.col().
		Where("status", "==", string(domain.OrderStatusPaid)).
		Where("stockAppliedAt", "==", nil).
		OrderBy("createdAt", firestore.Asc).
		Limit(normalizeLimit(limit)))
}

func (s *FirestoreStore) query(ctx context.Context, q firestore.Query) ([]domain.Order, error) {
	it := q.Documents(ctx)
	defer it.Stop()

	out := []domain.Order{}
	for {
		snap, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, domain.Persistence("query orders", err)
		}
		o, err := fromSnapshot(snap)
		if err != nil {
			return nil, domain.Persistence("decode order", err)
		}
		out = append(out, *o)
	}
	return out, nil
}
