package firestore

import (
	"context"
	"errors"

	pfirestore "github.com/tillpoint/api/internal/platform/firestore"
	"github.com/tillpoint/api/internal/repositories"
)

// Registry wires the Firestore repositories behind repositories.Registry.
type Registry struct {
	provider     *pfirestore.Provider
	products     *ProductRepository
	transactions *TransactionRepository
	shifts       *ShiftRepository
	held         *HeldTransactionRepository
	health       repositories.HealthRepository
}

var _ repositories.Registry = (*Registry)(nil)

// NewRegistry builds every repository on the shared provider. health may be nil when readiness
// probes are not needed, for example in tools.
func NewRegistry(provider *pfirestore.Provider, health repositories.HealthRepository) (*Registry, error) {
	if provider == nil {
		return nil, errors.New("firestore registry requires provider")
	}
	products, err := NewProductRepository(provider)
	if err != nil {
		return nil, err
	}
	transactions, err := NewTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	shifts, err := NewShiftRepository(provider)
	if err != nil {
		return nil, err
	}
	held, err := NewHeldTransactionRepository(provider)
	if err != nil {
		return nil, err
	}
	return &Registry{
		provider:     provider,
		products:     products,
		transactions: transactions,
		shifts:       shifts,
		held:         held,
		health:       health,
	}, nil
}

func (r *Registry) Close(ctx context.Context) error { return r.provider.Close(ctx) }

func (r *Registry) Products() repositories.ProductRepository { return r.products }

func (r *Registry) Transactions() repositories.TransactionRepository { return r.transactions }

func (r *Registry) Shifts() repositories.ShiftRepository { return r.shifts }

func (r *Registry) HeldTransactions() repositories.HeldTransactionRepository { return r.held }

func (r *Registry) Health() repositories.HealthRepository { return r.health }
