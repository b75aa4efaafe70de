package inventory

import (
	"context"
	"log/slog"
	"sort"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const (
	skipUnknownProduct = "unknown product"
	skipUnknownSize    = "unknown size"
)

// Adjuster applies the stock decrement for a paid order. Each (product, size)
// counter is decremented atomically and clamped at zero; a shortfall is
// reported instead of letting stock go negative. Unknown products or sizes
// are skipped and reported rather than failing the batch.
//
// The Adjuster does not deduplicate: callers invoke it once per transition
// into Paid.
type Adjuster interface {
	ApplyDecrement(ctx context.Context, items []domain.LineItem) (domain.DecrementReport, error)
}

// Store is the full inventory backend used by the inventory service.
type Store interface {
	Adjuster
	GetStock(ctx context.Context, productID string) (*domain.StockLevel, error)
	SetStock(ctx context.Context, productID, size string, stock int) error
}

// sortedLines merges duplicate lines and orders them by (product, size) so
// concurrent batches lock rows in the same order.
func sortedLines(items []domain.LineItem) []domain.LineItem {
	merged := make(map[[2]string]int, len(items))
	for _, item := range items {
		if item.Quantity <= 0 {
			continue
		}
		merged[[2]string{item.ProductID, item.Size}] += item.Quantity
	}

	lines := make([]domain.LineItem, 0, len(merged))
	for key, qty := range merged {
		lines = append(lines, domain.LineItem{ProductID: key[0], Size: key[1], Quantity: qty})
	}
	sort.Slice(lines, func(i, j int) bool {
		if lines[i].ProductID != lines[j].ProductID {
			return lines[i].ProductID < lines[j].ProductID
		}
		return lines[i].Size < lines[j].Size
	})
	return lines
}

func clamp(before, quantity int) int {
	if after := before - quantity; after > 0 {
		return after
	}
	return 0
}

// LogReport writes skipped and short lines at ERROR with reconcile=true.
func LogReport(logger *slog.Logger, orderID string, report domain.DecrementReport) {
	for _, s := range report.Skipped {
		logger.Error("stock line skipped",
			"reconcile", true,
			"order_id", orderID,
			"product_id", s.ProductID,
			"size", s.Size,
			"quantity", s.Quantity,
			"reason", s.Reason,
		)
	}
	for _, line := range report.Shortfalls() {
		logger.Error("stock clamped at zero",
			"reconcile", true,
			"order_id", orderID,
			"product_id", line.ProductID,
			"size", line.Size,
			"requested", line.Requested,
			"shortfall", line.Shortfall(),
		)
	}
}
