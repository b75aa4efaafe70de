package cart

import (
	"context"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const cartsCollection = "carts"

type cartDoc struct {
	Items     []domain.CartItem `firestore:"items"`
	UpdatedAt time.Time         `firestore:"updatedAt"`
}

// FirestoreStore keeps carts at carts/{ownerKey}, the layout the storefront
// client already reads.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	snap, err := s.client.Collection(cartsCollection).Doc(ownerKey).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return emptyCart(ownerKey), nil
	}
	if err != nil {
		return nil, domain.Persistence("get cart", err)
	}

	var d cartDoc
	if err := snap.DataTo(&d); err != nil {
		return nil, domain.Persistence("decode cart", err)
	}
	c := emptyCart(ownerKey)
	c.UpdatedAt = d.UpdatedAt
	if d.Items != nil {
		c.Items = d.Items
	}
	return c, nil
}

func (s *FirestoreStore) Put(ctx context.Context, cart *domain.Cart) error {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	_, err := s.client.Collection(cartsCollection).Doc(cart.OwnerKey).Set(ctx, cartDoc{
		Items:     items,
		UpdatedAt: time.Now().UTC(),
	})
	return domain.Persistence("put cart", err)
}

func (s *FirestoreStore) Clear(ctx context.Context, ownerKey string) error {
	_, err := s.client.Collection(cartsCollection).Doc(ownerKey).Delete(ctx)
	if status.Code(err) == codes.NotFound {
		return nil
	}
	return domain.Persistence("clear cart", err)
}
