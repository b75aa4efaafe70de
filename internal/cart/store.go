// Package cart keeps one cart per signed-in owner so it follows them across
// devices. A missing cart reads as empty.
package cart

import (
	"context"
	"sync"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type Store interface {
	Get(ctx context.Context, ownerKey string) (*domain.Cart, error)
	Put(ctx context.Context, cart *domain.Cart) error
	Clear(ctx context.Context, ownerKey string) error
}

func emptyCart(ownerKey string) *domain.Cart {
	return &domain.Cart{OwnerKey: ownerKey, Items: []domain.CartItem{}}
}

type MemoryStore struct {
	mu    sync.Mutex
	carts map[string]domain.Cart
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{carts: make(map[string]domain.Cart)}
}

func (s *MemoryStore) Get(_ context.Context, ownerKey string) (*domain.Cart, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[ownerKey]
	if !ok {
		return emptyCart(ownerKey), nil
	}
	c.Items = append([]domain.CartItem{}, c.Items...)
	return &c, nil
}

func (s *MemoryStore) Put(_ context.Context, cart *domain.Cart) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c := *cart
	c.Items = append([]domain.CartItem{}, cart.Items...)
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	s.carts[cart.OwnerKey] = c
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, ownerKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.carts, ownerKey)
	return nil
}
