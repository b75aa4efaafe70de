package inventory

import (
	"context"
	"sync"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

type MemoryStore struct {
	mu       sync.Mutex
	products map[string]map[string]int
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{products: make(map[string]map[string]int)}
}

// Seed sets the full size map for a product.
func (s *MemoryStore) Seed(productID string, sizes map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	copied := make(map[string]int, len(sizes))
	for size, qty := range sizes {
		copied[size] = qty
	}
	s.products[productID] = copied
}

func (s *MemoryStore) ApplyDecrement(_ context.Context, items []domain.LineItem) (domain.DecrementReport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report domain.DecrementReport
	for _, line := range sortedLines(items) {
		sizes, ok := s.products[line.ProductID]
		if !ok {
			report.Skipped = append(report.Skipped, domain.SkippedLine{
				ProductID: line.ProductID, Size: line.Size, Quantity: line.Quantity, Reason: skipUnknownProduct,
			})
			continue
		}
		before, ok := sizes[line.Size]
		if !ok {
			report.Skipped = append(report.Skipped, domain.SkippedLine{
				ProductID: line.ProductID, Size: line.Size, Quantity: line.Quantity, Reason: skipUnknownSize,
			})
			continue
		}
		after := clamp(before, line.Quantity)
		sizes[line.Size] = after
		report.Applied = append(report.Applied, domain.LineOutcome{
			ProductID: line.ProductID, Size: line.Size, Requested: line.Quantity, Before: before, After: after,
		})
	}
	return report, nil
}

func (s *MemoryStore) GetStock(_ context.Context, productID string) (*domain.StockLevel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes, ok := s.products[productID]
	if !ok {
		return nil, nil
	}
	level := &domain.StockLevel{ProductID: productID, Sizes: make(map[string]int, len(sizes))}
	for size, qty := range sizes {
		level.Sizes[size] = qty
	}
	return level, nil
}

func (s *MemoryStore) SetStock(_ context.Context, productID, size string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sizes, ok := s.products[productID]
	if !ok {
		return domain.ErrNotFound
	}
	sizes[size] = stock
	return nil
}
