package firestore

import (
	"context"
	"errors"
	"strings"

	"cloud.google.com/go/firestore"

	domain "github.com/tillpoint/api/internal/domain"
	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
)

const transactionsCollection = "transactions"

// TransactionRepository stores completed sales.
type TransactionRepository struct {
	transactions *pfirestore.BaseRepository[transactionDocument]
}

// NewTransactionRepository constructs a Firestore-backed transaction store.
func NewTransactionRepository(provider *pfirestore.Provider) (*TransactionRepository, error) {
	if provider == nil {
		return nil, errors.New("transaction repository requires firestore provider")
	}
	return &TransactionRepository{
		transactions: pfirestore.NewBaseRepository[transactionDocument](provider, transactionsCollection, nil, nil),
	}, nil
}

// Insert writes the record. A duplicate ID surfaces as a conflict so a retried tender cannot
// overwrite the original sale.
func (r *TransactionRepository) Insert(ctx context.Context, record domain.TransactionRecord) error {
	if strings.TrimSpace(record.ID) == "" {
		return errors.New("transaction repository: id is required")
	}
	return r.transactions.Create(ctx, record.ID, newTransactionDocument(record))
}

// FindByID loads a completed sale.
func (r *TransactionRepository) FindByID(ctx context.Context, transactionID string) (domain.TransactionRecord, error) {
	doc, err := r.transactions.Get(ctx, transactionID)
	if err != nil {
		return domain.TransactionRecord{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListByShift returns the sales rung up during a shift, oldest first.
func (r *TransactionRepository) ListByShift(ctx context.Context, shiftID string) ([]domain.TransactionRecord, error) {
	docs, err := r.transactions.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("shiftId", "==", shiftID).OrderBy("completedAt", firestore.Asc)
	})
	if err != nil {
		return nil, err
	}
	records := make([]domain.TransactionRecord, 0, len(docs))
	for _, doc := range docs {
		records = append(records, doc.Data.toDomain(doc.ID))
	}
	return records, nil
}
