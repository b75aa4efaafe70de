package inventory

import (
	"context"
	"database/sql"
	"errors"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type InventoryRepository struct {
	db *sql.DB
}

var _ Store = (*InventoryRepository)(nil)

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

// ApplyDecrement runs the whole batch in one transaction. Each line locks
// its row and writes GREATEST(stock - q, 0), returning both values so the
// clamp can be reported.
func (r *InventoryRepository) ApplyDecrement(ctx context.Context, items []domain.LineItem) (domain.DecrementReport, error) {
	var report domain.DecrementReport

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return report, domain.Persistence("begin decrement", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, line := range sortedLines(items) {
		var before, after int
		err := tx.QueryRowContext(ctx, `
			WITH prev AS (
				SELECT product_id, size, stock
				FROM product_sizes
				WHERE product_id = $1 AND size = $2
				FOR UPDATE
			)
			UPDATE product_sizes AS p
			SET stock = GREATEST(p.stock - $3, 0), updated_at = NOW()
			FROM prev
			WHERE p.product_id = prev.product_id AND p.size = prev.size
			RETURNING prev.stock, p.stock
		`, line.ProductID, line.Size, line.Quantity).Scan(&before, &after)

		if errors.Is(err, sql.ErrNoRows) {
			reason, err := r.missReason(ctx, tx, line.ProductID)
			if err != nil {
				return domain.DecrementReport{}, err
			}
			report.Skipped = append(report.Skipped, domain.SkippedLine{
				ProductID: line.ProductID,
				Size:      line.Size,
				Quantity:  line.Quantity,
				Reason:    reason,
			})
			continue
		}
		if err != nil {
			return domain.DecrementReport{}, domain.Persistence("decrement stock", err)
		}

		report.Applied = append(report.Applied, domain.LineOutcome{
			ProductID: line.ProductID,
			Size:      line.Size,
			Requested: line.Quantity,
			Before:    before,
			After:     after,
		})
	}

	if err := tx.Commit(); err != nil {
		return domain.DecrementReport{}, domain.Persistence("commit decrement", err)
	}
	return report, nil
}

func (r *InventoryRepository) missReason(ctx context.Context, tx *sql.Tx, productID string) (string, error) {
	var exists bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists)
	if err != nil {
		return "", domain.Persistence("lookup product", err)
	}
	if exists {
		return skipUnknownSize, nil
	}
	return skipUnknownProduct, nil
}

func (r *InventoryRepository) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, productID).Scan(&exists); err != nil {
		return nil, domain.Persistence("lookup product", err)
	}
	if !exists {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT size, stock
		FROM product_sizes
		WHERE product_id = $1
		ORDER BY size
	`, productID)
	if err != nil {
		return nil, domain.Persistence("get stock", err)
	}
	defer func() { _ = rows.Close() }()

	stock := &domain.StockLevel{ProductID: productID, Sizes: map[string]int{}}
	for rows.Next() {
		var size string
		var qty int
		if err := rows.Scan(&size, &qty); err != nil {
			return nil, domain.Persistence("scan stock", err)
		}
		stock.Sizes[size] = qty
	}
	if err := rows.Err(); err != nil {
		return nil, domain.Persistence("get stock", err)
	}

	return stock, nil
}

// SetStock restocks a size to an absolute value, creating the size row if
// needed. The product itself must exist.
func (r *InventoryRepository) SetStock(ctx context.Context, productID, size string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	result, err := r.db.ExecContext(ctx, `
		INSERT INTO product_sizes (product_id, size, stock)
		SELECT id, $2, $3 FROM products WHERE id = $1
		ON CONFLICT (product_id, size) DO UPDATE SET stock = EXCLUDED.stock, updated_at = NOW()
	`, productID, size, stock)
	if err != nil {
		return domain.Persistence("set stock", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return domain.Persistence("set stock", err)
	}
	if rowsAffected == 0 {
		return domain.ErrNotFound
	}
	return nil
}
