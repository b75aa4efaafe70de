package inventory

import (
	"context"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/joao-fontenele/storefront-payments/internal/domain"
)

const productsCollection = "products"

type productDoc struct {
	Name  string         `firestore:"name"`
	Sizes map[string]int `firestore:"sizes"`
}

// FirestoreStore keeps per-size stock in products/{id}.sizes. A batch reads
// every product it touches first, then writes, inside one transaction, so
// concurrent orders on the same size serialize instead of racing.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) col() *firestore.CollectionRef {
	return s.client.Collection(productsCollection)
}

func (s *FirestoreStore) ApplyDecrement(ctx context.Context, items []domain.LineItem) (domain.DecrementReport, error) {
	lines := sortedLines(items)
	var report domain.DecrementReport

	seen := map[string]bool{}
	var refs []*firestore.DocumentRef
	for _, line := range lines {
		if !seen[line.ProductID] {
			seen[line.ProductID] = true
			refs = append(refs, s.col().Doc(line.ProductID))
		}
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		report = domain.DecrementReport{}

		snaps, err := tx.GetAll(refs)
		if err != nil {
			return err
		}
		products := make(map[string]map[string]int, len(snaps))
		for _, snap := range snaps {
			if !snap.Exists() {
				continue
			}
			var doc productDoc
			if err := snap.DataTo(&doc); err != nil {
				return err
			}
			if doc.Sizes == nil {
				doc.Sizes = map[string]int{}
			}
			products[snap.Ref.ID] = doc.Sizes
		}

		updates := map[string][]firestore.Update{}
		for _, line := range lines {
			sizes, ok := products[line.ProductID]
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
			updates[line.ProductID] = append(updates[line.ProductID], firestore.Update{
				FieldPath: firestore.FieldPath{"sizes", line.Size},
				Value:     after,
			})
			report.Applied = append(report.Applied, domain.LineOutcome{
				ProductID: line.ProductID, Size: line.Size, Requested: line.Quantity, Before: before, After: after,
			})
		}

		for _, ref := range refs {
			if u := updates[ref.ID]; len(u) > 0 {
				if err := tx.Update(ref, u); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return domain.DecrementReport{}, domain.Persistence("decrement stock", err)
	}
	return report, nil
}

func (s *FirestoreStore) GetStock(ctx context.Context, productID string) (*domain.StockLevel, error) {
	snap, err := s.col().Doc(productID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, domain.Persistence("get stock", err)
	}
	var doc productDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, domain.Persistence("decode product", err)
	}
	if doc.Sizes == nil {
		doc.Sizes = map[string]int{}
	}
	return &domain.StockLevel{ProductID: productID, Sizes: doc.Sizes}, nil
}

func (s *FirestoreStore) SetStock(ctx context.Context, productID, size string, stock int) error {
	if stock < 0 {
		return &domain.ValidationError{Field: "stock", Reason: "must not be negative"}
	}
	_, err := s.col().Doc(productID).Update(ctx, []firestore.Update{
		{FieldPath: firestore.FieldPath{"sizes", size}, Value: stock},
	})
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return domain.ErrNotFound
		}
		return domain.Persistence("set stock", err)
	}
	return nil
}
