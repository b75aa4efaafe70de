package cart

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type Repository struct {
	db *sql.DB
}

var _ Store = (*Repository)(nil)

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) Get(ctx context.Context, ownerKey string) (*domain.Cart, error) {
	var raw []byte
	var updatedAt time.Time
	err := r.db.QueryRowContext(ctx,
		`SELECT items, updated_at FROM carts WHERE owner_key = $1`, ownerKey,
	).Scan(&raw, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return emptyCart(ownerKey), nil
	}
	if err != nil {
		return nil, domain.Persistence("get cart", err)
	}

	c := emptyCart(ownerKey)
	c.UpdatedAt = updatedAt
	if err := json.Unmarshal(raw, &c.Items); err != nil {
		return nil, domain.Persistence("decode cart", err)
	}
	return c, nil
}

func (r *Repository) Put(ctx context.Context, cart *domain.Cart) error {
	items := cart.Items
	if items == nil {
		items = []domain.CartItem{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return domain.Persistence("encode cart", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO carts (owner_key, items, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (owner_key) DO UPDATE SET items = EXCLUDED.items, updated_at = NOW()
	`, cart.OwnerKey, raw)
	return domain.Persistence("put cart", err)
}

func (r *Repository) Clear(ctx context.Context, ownerKey string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM carts WHERE owner_key = $1`, ownerKey)
	return domain.Persistence("clear cart", err)
}
