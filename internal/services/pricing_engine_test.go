package services

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tillpoint/api/internal/domain"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func assertMoney(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, dec(want).Equal(got), "%s: want %s, got %s", field, want, got.StringFixed(2))
}

func catalogItem(id, price string, qty int) domain.LineItem {
	return domain.LineItem{
		ID:        id,
		Name:      id,
		UnitPrice: dec(price),
		Quantity:  qty,
		Detail:    domain.CatalogDetail{ProductID: id},
	}
}

func standardConfig(taxRate string) domain.PricingConfig {
	return domain.PricingConfig{Model: domain.PricingModelStandard, DefaultTaxRate: dec(taxRate)}
}

func dualConfig(taxRate, surcharge string, kind domain.SurchargeType) domain.PricingConfig {
	return domain.PricingConfig{
		Model:           domain.PricingModelDual,
		SurchargeType:   kind,
		Surcharge:       dec(surcharge),
		DefaultTaxRate:  dec(taxRate),
		ShowDualPricing: true,
	}
}

func TestPricingEngine_BasicCart(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{catalogItem("soda", "10.00", 2)},
		Config: standardConfig("8"),
	})

	assertMoney(t, "20.00", result.SubtotalCash, "subtotal")
	assertMoney(t, "1.60", result.TaxCash, "tax")
	assertMoney(t, "21.60", result.CashTotal, "total")
	assertMoney(t, "21.60", result.CardTotal, "card total")
	assert.Equal(t, 2, result.ItemCount)
	assert.False(t, result.DualPricing)
}

func TestPricingEngine_TransactionPercentDiscountScalesTax(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:               []domain.LineItem{catalogItem("soda", "10.00", 2)},
		Config:              standardConfig("8"),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountPercent, Value: dec("10")},
	})

	assertMoney(t, "2.00", result.TransactionDiscount, "discount")
	assertMoney(t, "18.00", result.DiscountedSubtotalCash, "discounted subtotal")
	assertMoney(t, "1.44", result.TaxCash, "tax")
	assertMoney(t, "19.44", result.CashTotal, "total")
}

func TestPricingEngine_PromotionAndDiscountFormOneDeduction(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:               []domain.LineItem{catalogItem("soda", "10.00", 2)},
		Config:              standardConfig("8"),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountAmount, Value: dec("3.00")},
		Promotion:           domain.PromotionResult{Amount: dec("2.00"), Applied: []string{"2 off"}},
	})

	assertMoney(t, "15.00", result.DiscountedSubtotalCash, "discounted subtotal")
	assertMoney(t, "1.20", result.TaxCash, "tax")
	assertMoney(t, "16.20", result.CashTotal, "total")
	assert.Equal(t, []string{"2 off"}, result.Promotions)
}

func TestPricingEngine_DeductionClampedToSubtotal(t *testing.T) {
	var events []string
	engine := NewPricingEngine(PricingEngineDeps{Logger: func(_ context.Context, event string, _ map[string]any) {
		events = append(events, event)
	}})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:               []domain.LineItem{catalogItem("gum", "1.00", 1)},
		Config:              standardConfig("8"),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountAmount, Value: dec("5.00")},
		Promotion:           domain.PromotionResult{Amount: dec("1.00")},
	})

	assertMoney(t, "0", result.DiscountedSubtotalCash, "discounted subtotal")
	assertMoney(t, "0", result.TaxCash, "tax")
	assertMoney(t, "0", result.CashTotal, "total")
	assertMoney(t, "1.00", result.TransactionDiscount, "transaction discount")
	assertMoney(t, "0", result.PromotionDiscount, "promotion")
	assert.Equal(t, []string{"pricing.discount_clamped"}, events)
}

func TestPricingEngine_ItemDiscountAndTaxOverride(t *testing.T) {
	item := catalogItem("wine", "20.00", 1)
	item.DiscountPercent = dec("25")
	item.TaxRate = decPtr("10")

	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{item, catalogItem("bread", "3.00", 1)},
		Config: standardConfig("0"),
	})

	assertMoney(t, "18.00", result.SubtotalCash, "subtotal")
	assertMoney(t, "1.50", result.TaxCash, "tax")
	require.Len(t, result.Lines, 2)
	assertMoney(t, "15.00", result.Lines[0].CashPrice, "line cash price")
	assertMoney(t, "1.50", result.Lines[0].TaxCash, "line tax")
	assertMoney(t, "0", result.Lines[1].TaxCash, "line tax default")
}

func TestPricingEngine_PercentSurchargeIsPerItem(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{catalogItem("a", "12.35", 1), catalogItem("b", "7.65", 1)},
		Config: dualConfig("8", "4", domain.SurchargePercentage),
	})

	assertMoney(t, "21.60", result.CashTotal, "cash total")
	assertMoney(t, "20.80", result.SubtotalCard, "card subtotal")
	assertMoney(t, "1.67", result.TaxCard, "card tax")
	assertMoney(t, "22.47", result.CardTotal, "card total")

	aggregate := domain.Round2(result.CashTotal.Mul(dec("1.04")))
	assert.False(t, aggregate.Equal(result.CardTotal), "per-item card total should differ from aggregate %s", aggregate)
}

func TestPricingEngine_FlatSurchargeAddedOnce(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{catalogItem("a", "5.00", 1), catalogItem("b", "5.00", 1)},
		Config: dualConfig("0", "0.50", domain.SurchargeFlatAmount),
	})

	assertMoney(t, "10.00", result.SubtotalCard, "card subtotal")
	assertMoney(t, "10.00", result.CashTotal, "cash total")
	assertMoney(t, "10.50", result.CardTotal, "card total")
}

func TestPricingEngine_DualPricingNeedsDisplayFlag(t *testing.T) {
	cfg := dualConfig("8", "4", domain.SurchargePercentage)
	cfg.ShowDualPricing = false

	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{catalogItem("a", "10.00", 1)},
		Config: cfg,
	})

	assert.False(t, result.DualPricing)
	assert.True(t, result.CashTotal.Equal(result.CardTotal))
}

func TestPricingEngine_DefaultSurcharge(t *testing.T) {
	cfg := dualConfig("0", "0", domain.SurchargeFlatAmount)
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{catalogItem("a", "10.00", 1)},
		Config: cfg,
	})
	assertMoney(t, "13.99", result.CardTotal, "card total")
}

func TestPricingEngine_ExplicitCardPrice(t *testing.T) {
	item := domain.LineItem{
		ID:        "coffee",
		UnitPrice: dec("2.00"),
		Quantity:  2,
		Detail:    domain.DualPriceDetail{ProductID: "coffee", CashPrice: dec("2.00"), CardPrice: dec("2.10")},
	}
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{item},
		Config: dualConfig("0", "4", domain.SurchargePercentage),
	})
	assertMoney(t, "4.00", result.SubtotalCash, "cash subtotal")
	assertMoney(t, "4.20", result.SubtotalCard, "card subtotal")
}

func TestPricingEngine_CardPriceNeverBelowCashPrice(t *testing.T) {
	item := domain.LineItem{
		ID:        "soda",
		UnitPrice: dec("3.00"),
		Quantity:  3,
		Detail:    domain.DualPriceDetail{ProductID: "soda", CashPrice: dec("3.00"), CardPrice: dec("2.50")},
	}
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:  []domain.LineItem{item},
		Config: dualConfig("8", "4", domain.SurchargePercentage),
	})
	assertMoney(t, "9.00", result.SubtotalCash, "cash subtotal")
	assertMoney(t, "9.00", result.SubtotalCard, "card subtotal clamps to cash")
	require.Len(t, result.Lines, 1)
	assertMoney(t, "9.00", result.Lines[0].CardPrice, "line card price")
	assert.True(t, result.CardTotal.GreaterThanOrEqual(result.CashTotal))
}

func TestPricingEngine_DiscountScalesCardDeduction(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:               []domain.LineItem{catalogItem("a", "100.00", 1)},
		Config:              dualConfig("0", "4", domain.SurchargePercentage),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountAmount, Value: dec("10.00")},
	})
	assertMoney(t, "90.00", result.DiscountedSubtotalCash, "cash")
	assertMoney(t, "93.60", result.DiscountedSubtotalCard, "card")
	assert.True(t, result.CardTotal.GreaterThanOrEqual(result.CashTotal))
}

func TestPricingEngine_LotteryOffsetAndTip(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Items:         []domain.LineItem{catalogItem("soda", "10.00", 2)},
		Config:        standardConfig("8"),
		LotteryOffset: dec("5.00"),
		Tip:           dec("3.00"),
	})
	assertMoney(t, "21.60", result.CashTotal, "total")
	assertMoney(t, "16.60", result.CustomerPayableCash, "payable")
	assertMoney(t, "1.60", result.TaxCash, "tip must not be taxed")
	assertMoney(t, "19.60", result.AmountDueCash(), "due with tip")

	big := engine.Calculate(context.Background(), PriceCommand{
		Items:         []domain.LineItem{catalogItem("soda", "10.00", 1)},
		Config:        standardConfig("0"),
		LotteryOffset: dec("50.00"),
	})
	assertMoney(t, "0", big.CustomerPayableCash, "payable clamps at zero")
	assertMoney(t, "0", big.CustomerPayableCard, "card payable clamps at zero")
}

func TestPricingEngine_EmptyCart(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	result := engine.Calculate(context.Background(), PriceCommand{
		Config:              dualConfig("8", "4", domain.SurchargePercentage),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountAmount, Value: dec("5")},
	})
	assertMoney(t, "0", result.SubtotalCash, "subtotal")
	assertMoney(t, "0", result.CashTotal, "total")
	assertMoney(t, "0", result.DiscountedSubtotalCard, "card")
	assert.Equal(t, 0, result.ItemCount)
}

func TestPricingEngine_Idempotent(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	cmd := PriceCommand{
		Items:               []domain.LineItem{catalogItem("a", "3.33", 3), catalogItem("b", "0.99", 7)},
		Config:              dualConfig("7.25", "3.5", domain.SurchargePercentage),
		TransactionDiscount: domain.TransactionDiscount{Kind: domain.DiscountPercent, Value: dec("15")},
		Promotion:           domain.PromotionResult{Amount: dec("1.11")},
		LotteryOffset:       dec("2"),
	}
	first := engine.Calculate(context.Background(), cmd)
	second := engine.Calculate(context.Background(), cmd)
	assert.Equal(t, first, second)
}

func TestPricingEngine_InvariantsHoldAcrossInputs(t *testing.T) {
	engine := NewPricingEngine(PricingEngineDeps{})
	prices := []string{"0.01", "0.99", "1.05", "3.33", "19.99", "250.00"}
	discounts := []domain.TransactionDiscount{
		{},
		{Kind: domain.DiscountPercent, Value: dec("15")},
		{Kind: domain.DiscountPercent, Value: dec("100")},
		{Kind: domain.DiscountAmount, Value: dec("7.77")},
		{Kind: domain.DiscountAmount, Value: dec("1000")},
	}
	configs := []domain.PricingConfig{
		standardConfig("8.875"),
		dualConfig("6", "3.99", domain.SurchargePercentage),
		dualConfig("6", "1.25", domain.SurchargeFlatAmount),
	}

	for _, cfg := range configs {
		for _, discount := range discounts {
			for qty := 1; qty <= 3; qty++ {
				items := make([]domain.LineItem, 0, len(prices))
				for i, price := range prices {
					item := catalogItem(price, price, qty+i%2)
					item.DiscountPercent = decimal.NewFromInt(int64(i * 5))
					items = append(items, item)
				}
				result := engine.Calculate(context.Background(), PriceCommand{
					Items:               items,
					Config:              cfg,
					TransactionDiscount: discount,
					Promotion:           domain.PromotionResult{Amount: dec("0.50")},
				})
				require.False(t, result.SubtotalCash.IsNegative())
				require.False(t, result.TaxCash.IsNegative())
				require.True(t, result.CashTotal.GreaterThanOrEqual(result.TaxCash))
				if cfg.DualPricingActive() {
					require.True(t, result.CardTotal.GreaterThanOrEqual(result.CashTotal), "card %s < cash %s", result.CardTotal, result.CashTotal)
				} else {
					require.True(t, result.CardTotal.Equal(result.CashTotal))
				}
			}
		}
	}
}
