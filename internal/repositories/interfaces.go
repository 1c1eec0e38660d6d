package repositories

import (
	"context"

	domain "github.com/tillpoint/api/internal/domain"
)

// Registry exposes typed repository accessors and lifecycle hooks for dependency injection.
type Registry interface {
	Close(ctx context.Context) error

	Products() ProductRepository
	Transactions() TransactionRepository
	Shifts() ShiftRepository
	HeldTransactions() HeldTransactionRepository
	Health() HealthRepository
}

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// ProductRepository resolves scanned codes to catalog entries.
type ProductRepository interface {
	// FindByCode matches the barcode first and the SKU second. Inactive products are reported as not found.
	FindByCode(ctx context.Context, code string) (domain.Product, error)
	FindByID(ctx context.Context, productID string) (domain.Product, error)
}

// TransactionRepository stores finalized sales. Records are immutable once inserted.
type TransactionRepository interface {
	Insert(ctx context.Context, record domain.TransactionRecord) error
	FindByID(ctx context.Context, transactionID string) (domain.TransactionRecord, error)
	ListByShift(ctx context.Context, shiftID string) ([]domain.TransactionRecord, error)
}

// ShiftRepository persists cash drawer shifts.
type ShiftRepository interface {
	// Open inserts the session unless the station already has an open shift, which is a conflict.
	Open(ctx context.Context, session domain.ShiftSession) error
	FindOpenByStation(ctx context.Context, stationID string) (domain.ShiftSession, error)
	FindByID(ctx context.Context, shiftID string) (domain.ShiftSession, error)
	Save(ctx context.Context, session domain.ShiftSession) error
}

// HeldTransactionRepository parks carts for later recall.
type HeldTransactionRepository interface {
	Insert(ctx context.Context, held domain.HeldTransaction) error
	// Take removes and returns the held cart so it can only be recalled once.
	Take(ctx context.Context, stationID, holdID string) (domain.HeldTransaction, error)
	ListByStation(ctx context.Context, stationID string) ([]domain.HeldTransaction, error)
}

// HealthRepository exposes status of downstream dependencies for health checks.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.HealthReport, error)
}
