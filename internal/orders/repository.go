package orders

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

// OrderRepository is the Postgres Store. Status transitions are single
// conditional UPDATE statements, so two concurrent confirmations of the
// same order can never both succeed.
type OrderRepository struct {
	db *sql.DB
}

var _ Store = (*OrderRepository)(nil)

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

const orderColumns = `id, owner_key, status, subtotal_minor, shipping_minor, total_minor, currency,
	shipping_address, COALESCE(remote_order_id, ''), payment, stock_applied_at, cancelled_at, created_at`

func (r *OrderRepository) Create(ctx context.Context, order *domain.Order) (string, error) {
	addr, err := json.Marshal(order.ShippingAddress)
	if err != nil {
		return "", fmt.Errorf("marshal shipping address: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", domain.Persistence("begin create order", err)
	}
	defer func() { _ = tx.Rollback() }()

	id := uuid.New().String()
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO orders (id, owner_key, status, subtotal_minor, shipping_minor, total_minor, currency,
			shipping_address, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
	`, id, order.OwnerKey, domain.OrderStatusPending, order.SubtotalMinor, order.ShippingMinor,
		order.TotalMinor, order.Currency, addr, order.CreatedAt)
	if err != nil {
		return "", domain.Persistence("insert order", err)
	}

	for i, item := range order.LineItems {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO order_items (id, order_id, position, product_id, name, size, quantity, unit_price_minor)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		`, uuid.New().String(), id, i, item.ProductID, item.Name, item.Size, item.Quantity, item.UnitPriceMinor)
		if err != nil {
			return "", domain.Persistence("insert order item", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", domain.Persistence("commit create order", err)
	}

	order.ID = id
	order.Status = domain.OrderStatusPending
	return id, nil
}

func (r *OrderRepository) GetByReceiptID(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	row := r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Persistence("get order", err)
	}

	if err := r.loadItems(ctx, map[string]*domain.Order{order.ID: order}, []string{order.ID}); err != nil {
		return nil, err
	}
	return order, nil
}

func (r *OrderRepository) FindByRemoteOrderID(ctx context.Context, remoteOrderID string) (*domain.Order, error) {
	var id string
	err := r.db.QueryRowContext(ctx, `SELECT id FROM orders WHERE remote_order_id = $1`, remoteOrderID).Scan(&id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, domain.Persistence("find order by remote id", err)
	}
	return r.GetByReceiptID(ctx, id)
}

func (r *OrderRepository) AttachRemoteOrder(ctx context.Context, id, remoteOrderID string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET remote_order_id = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'Pending'
	`, id, remoteOrderID)
	if err != nil {
		return domain.Persistence("attach remote order", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Persistence("attach remote order", err)
	}
	if rowsAffected == 0 {
		_, err := r.classifyMiss(ctx, id)
		return err
	}
	return nil
}

func (r *OrderRepository) MarkPaid(ctx context.Context, id string, payment domain.Payment) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	if payment.PaidAt.IsZero() {
		payment.PaidAt = time.Now().UTC()
	}
	data, err := json.Marshal(payment)
	if err != nil {
		return nil, fmt.Errorf("marshal payment: %w", err)
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = 'Paid', payment = $2, paid_at = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'Pending'
	`, id, data, payment.PaidAt)
	if err != nil {
		return nil, domain.Persistence("mark order paid", err)
	}

	return r.afterTransition(ctx, id, result)
}

func (r *OrderRepository) MarkCancelled(ctx context.Context, id string, at time.Time) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET status = 'Cancelled', cancelled_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'Pending'
	`, id, at.UTC())
	if err != nil {
		return nil, domain.Persistence("mark order cancelled", err)
	}

	return r.afterTransition(ctx, id, result)
}

func (r *OrderRepository) afterTransition(ctx context.Context, id string, result sql.Result) (*domain.Order, error) {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, domain.Persistence("transition order", err)
	}
	if rowsAffected == 0 {
		return r.classifyMiss(ctx, id)
	}

	order, err := r.GetByReceiptID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

// classifyMiss explains why a conditional update touched no rows.
func (r *OrderRepository) classifyMiss(ctx context.Context, id string) (*domain.Order, error) {
	current, err := r.GetByReceiptID(ctx, id)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, domain.ErrNotFound
	}
	return current, domain.ErrInvalidState
}

// ClaimStock is a conditional write on stock_applied_at; concurrent claims
// serialize on the row and only one sees a NULL stamp.
func (r *OrderRepository) ClaimStock(ctx context.Context, id string, at time.Time) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, domain.ErrNotFound
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE orders SET stock_applied_at = $2, updated_at = NOW()
		WHERE id = $1 AND status = 'Paid' AND stock_applied_at IS NULL
	`, id, at.UTC())
	if err != nil {
		return false, domain.Persistence("claim stock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, domain.Persistence("claim stock", err)
	}
	return rowsAffected == 1, nil
}

func (r *OrderRepository) ReleaseStockClaim(ctx context.Context, id string, claimedAt time.Time) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.ErrNotFound
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE orders SET stock_applied_at = NULL, updated_at = NOW()
		WHERE id = $1 AND stock_applied_at = $2
	`, id, claimedAt.UTC())
	if err != nil {
		return domain.Persistence("release stock claim", err)
	}
	return nil
}

func (r *OrderRepository) ListByOwner(ctx context.Context, ownerKey string, status domain.OrderStatus) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE owner_key = $1 AND status = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, ownerKey, status, defaultListLimit)
}

func (r *OrderRepository) ListByStatus(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, status, normalizeLimit(limit))
}

func (r *OrderRepository) ListPendingBefore(ctx context.Context, before time.Time, limit int) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'Pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`, before.UTC(), normalizeLimit(limit))
}

func (r *OrderRepository) ListPaidWithoutStock(ctx context.Context, limit int) ([]domain.Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE status = 'Paid' AND stock_applied_at IS NULL
		ORDER BY created_at ASC
		LIMIT $1
	`, normalizeLimit(limit))
}

// list loads orders and their items with two queries instead of one per order.
func (r *OrderRepository) list(ctx context.Context, query string, args ...any) ([]domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, domain.Persistence("list orders", err)
	}
	defer func() { _ = rows.Close() }()

	orderMap := make(map[string]*domain.Order)
	var orderIDs []string

	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, domain.Persistence("scan order", err)
		}
		orderMap[order.ID] = order
		orderIDs = append(orderIDs, order.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("list orders", err)
	}

	if len(orderIDs) == 0 {
		return []domain.Order{}, nil
	}

	if err := r.loadItems(ctx, orderMap, orderIDs); err != nil {
		return nil, err
	}

	orders := make([]domain.Order, 0, len(orderIDs))
	for _, id := range orderIDs {
		orders = append(orders, *orderMap[id])
	}
	return orders, nil
}

func (r *OrderRepository) loadItems(ctx context.Context, orderMap map[string]*domain.Order, orderIDs []string) error {
	itemRows, err := r.db.QueryContext(ctx, `
		SELECT order_id, product_id, name, size, quantity, unit_price_minor
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY order_id, position
	`, pq.Array(orderIDs))
	if err != nil {
		return domain.Persistence("list order items", err)
	}
	defer func() { _ = itemRows.Close() }()

	for itemRows.Next() {
		var orderID string
		var item domain.LineItem
		if err := itemRows.Scan(&orderID, &item.ProductID, &item.Name, &item.Size, &item.Quantity, &item.UnitPriceMinor); err != nil {
			return domain.Persistence("scan order item", err)
		}
		if order := orderMap[orderID]; order != nil {
			order.LineItems = append(order.LineItems, item)
		}
	}
	if err := itemRows.Err(); err != nil {
		return domain.Persistence("list order items", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var (
		order          domain.Order
		addr           []byte
		payment        []byte
		stockAppliedAt sql.NullTime
		cancelledAt    sql.NullTime
	)

	err := row.Scan(&order.ID, &order.OwnerKey, &order.Status, &order.SubtotalMinor, &order.ShippingMinor,
		&order.TotalMinor, &order.Currency, &addr, &order.RemoteOrderID, &payment, &stockAppliedAt,
		&cancelledAt, &order.CreatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(addr, &order.ShippingAddress); err != nil {
		return nil, fmt.Errorf("decode shipping address: %w", err)
	}
	if len(payment) > 0 {
		var p domain.Payment
		if err := json.Unmarshal(payment, &p); err != nil {
			return nil, fmt.Errorf("decode payment: %w", err)
		}
		order.Payment = &p
	}
	if stockAppliedAt.Valid {
		t := stockAppliedAt.Time.UTC()
		order.StockAppliedAt = &t
	}
	if cancelledAt.Valid {
		t := cancelledAt.Time.UTC()
		order.CancelledAt = &t
	}
	order.CreatedAt = order.CreatedAt.UTC()
	order.LineItems = []domain.LineItem{}
	return &order, nil
}
