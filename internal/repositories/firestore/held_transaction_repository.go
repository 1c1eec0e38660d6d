package firestore

import (
	"context"
	"errors"

	"cloud.google.com/go/firestore"

	domain "github.com/tillpoint/api/internal/domain"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
)

const heldCollection = "heldTransactions"

// HeldTransactionRepository parks carts between customers.
type HeldTransactionRepository struct {
	provider *pfirestore.Provider
	held     *pfirestore.BaseRepository[heldDocument]
}

// NewHeldTransactionRepository constructs a Firestore-backed hold store.
func NewHeldTransactionRepository(provider *pfirestore.Provider) (*HeldTransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("held transaction repository requires firestore provider")
	}
	return &HeldTransactionRepository{
		provider: provider,
		held:     pfirestore.NewBaseRepository[heldDocument](provider, heldCollection, nil, nil),
	}, nil
}

// Insert parks the cart.
func (r *HeldTransactionRepository) Insert(ctx context.Context, held domain.HeldTransaction) error {
	if held.ID == "" {
		return errors.New("held transaction repository: id is required")
	}
	return r.held.Create(ctx, held.ID, newHeldDocument(held))
}

// Take reads and deletes the hold in one transaction. A hold parked at another station is treated
// as missing.
func (r *HeldTransactionRepository) Take(ctx context.Context, stationID, holdID string) (domain.HeldTransaction, error) {
	var out domain.HeldTransaction
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		doc, err := r.held.GetTx(ctx, tx, holdID)
		if err != nil {
			return err
		}
		if doc.Data.StationID != stationID {
			return pfirestore.NotFound("heldTransactions.take", "hold "+holdID)
		}
		out = doc.Data.toDomain(doc.ID)
		return r.held.DeleteTx(ctx, tx, holdID)
	}, pfirestore.WithTxName("heldTransactions.take"))
	if err != nil {
		return domain.HeldTransaction{}, err
	}
	return out, nil
}

// ListByStation returns the station's parked carts, oldest first.
func (r *HeldTransactionRepository) ListByStation(ctx context.Context, stationID string) ([]domain.HeldTransaction, error) {
	docs, err := r.held.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("stationId", "==", stationID).OrderBy("heldAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	out := make([]domain.HeldTransaction, 0, len(docs))
	for _, doc := range docs {
		out = append(out, doc.Data.toDomain(doc.ID))
	}
	return out, nil
}
