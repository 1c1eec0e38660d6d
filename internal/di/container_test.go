package di

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/config"
	"github.com/tillpoint/api/internal/repositories"
)

type stubRegistry struct {
	health repositories.HealthRepository
	closed bool
}

func (r *stubRegistry) Close(context.Context) error {
	r.closed = true
	return nil
}

func (r *stubRegistry) Products() repositories.ProductRepository         { return stubProducts{} }
func (r *stubRegistry) Transactions() repositories.TransactionRepository { return stubTransactions{} }
func (r *stubRegistry) Shifts() repositories.ShiftRepository             { return stubShifts{} }
func (r *stubRegistry) HeldTransactions() repositories.HeldTransactionRepository {
	return stubHeld{}
}
func (r *stubRegistry) Health() repositories.HealthRepository { return r.health }

type stubProducts struct{}

func (stubProducts) FindByCode(context.Context, string) (domain.Product, error) {
	return domain.Product{}, nil
}
func (stubProducts) FindByID(context.Context, string) (domain.Product, error) {
	return domain.Product{}, nil
}

type stubTransactions struct{}

func (stubTransactions) Insert(context.Context, domain.TransactionRecord) error { return nil }
func (stubTransactions) FindByID(context.Context, string) (domain.TransactionRecord, error) {
	return domain.TransactionRecord{}, nil
}
func (stubTransactions) ListByShift(context.Context, string) ([]domain.TransactionRecord, error) {
	return nil, nil
}

type stubShifts struct{}

func (stubShifts) Open(context.Context, domain.ShiftSession) error { return nil }
func (stubShifts) FindOpenByStation(context.Context, string) (domain.ShiftSession, error) {
	return domain.ShiftSession{}, nil
}
func (stubShifts) FindByID(context.Context, string) (domain.ShiftSession, error) {
	return domain.ShiftSession{}, nil
}
func (stubShifts) Save(context.Context, domain.ShiftSession) error { return nil }

type stubHeld struct{}

func (stubHeld) Insert(context.Context, domain.HeldTransaction) error { return nil }
func (stubHeld) Take(context.Context, string, string) (domain.HeldTransaction, error) {
	return domain.HeldTransaction{}, nil
}
func (stubHeld) ListByStation(context.Context, string) ([]domain.HeldTransaction, error) {
	return nil, nil
}

type stubHealth struct{}

func (stubHealth) Collect(context.Context) (domain.HealthReport, error) {
	return domain.HealthReport{Status: domain.HealthOK}, nil
}

func TestNewContainerRequiresRegistry(t *testing.T) {
	if _, err := NewContainer(context.Background(), config.Config{}, nil, Infrastructure{}); err == nil {
		t.Fatal("expected error for nil registry")
	}
}

func TestNewContainerBuildsServices(t *testing.T) {
	reg := &stubRegistry{health: stubHealth{}}
	cfg := config.Config{Build: config.BuildConfig{Version: "1.2.3", CommitSHA: "abc"}}
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	c, err := NewContainer(context.Background(), cfg, reg, Infrastructure{Clock: func() time.Time { return now }})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Services.Checkout == nil || c.Services.Shifts == nil {
		t.Fatalf("expected checkout and shift services, got %+v", c.Services)
	}
	if c.Services.System == nil {
		t.Fatal("expected system service when health repository present")
	}
	if c.Stations == nil {
		t.Fatal("expected station registry")
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !reg.closed {
		t.Fatal("expected registry to be closed")
	}
}

func TestNewContainerSkipsSystemWithoutHealth(t *testing.T) {
	c, err := NewContainer(context.Background(), config.Config{}, &stubRegistry{}, Infrastructure{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Services.System != nil {
		t.Fatal("expected no system service without health repository")
	}
}

func TestPricingConfig(t *testing.T) {
	got := PricingConfig(config.PricingConfig{
		Model:           "dual_pricing",
		SurchargeType:   "flat_amount",
		Surcharge:       decimal.RequireFromString("0.50"),
		DefaultTaxRate:  decimal.RequireFromString("0.0825"),
		ShowDualPricing: true,
	})
	if got.Model != domain.PricingModelDual {
		t.Fatalf("expected dual pricing, got %s", got.Model)
	}
	if got.SurchargeType != domain.SurchargeFlatAmount {
		t.Fatalf("expected flat surcharge, got %s", got.SurchargeType)
	}
	if !got.Surcharge.Equal(decimal.RequireFromString("0.5")) || !got.DefaultTaxRate.Equal(decimal.RequireFromString("0.0825")) {
		t.Fatalf("unexpected amounts %+v", got)
	}
	if !got.DualPricingActive() {
		t.Fatal("expected dual pricing active")
	}

	fallback := PricingConfig(config.PricingConfig{Model: "unknown", SurchargeType: ""})
	if fallback.Model != domain.PricingModelStandard || fallback.SurchargeType != domain.SurchargePercentage {
		t.Fatalf("unexpected fallback %+v", fallback)
	}
}
