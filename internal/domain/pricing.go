package domain

import "github.com/shopspring/decimal"

// PricingModel selects between single-price and cash/card dual pricing.
type PricingModel string

const (
	PricingModelStandard PricingModel = "STANDARD"
	PricingModelDual     PricingModel = "DUAL_PRICING"
)

// SurchargeType selects how the card surcharge is applied under dual pricing.
type SurchargeType string

const (
	// SurchargePercentage applies the surcharge per item as a percentage of the cash price.
	SurchargePercentage SurchargeType = "PERCENTAGE"
	// SurchargeFlatAmount adds the surcharge once to the card total.
	SurchargeFlatAmount SurchargeType = "FLAT_AMOUNT"
)

// DefaultCardSurcharge applies when dual pricing is active but no surcharge was configured.
var DefaultCardSurcharge = decimal.RequireFromString("3.99")

// PricingConfig is the store-level pricing configuration.
type PricingConfig struct {
	Model           PricingModel
	SurchargeType   SurchargeType
	Surcharge       decimal.Decimal
	DefaultTaxRate  decimal.Decimal
	ShowDualPricing bool
}

// DualPricingActive reports whether card totals diverge from cash totals.
func (c PricingConfig) DualPricingActive() bool {
	return c.Model == PricingModelDual && c.ShowDualPricing
}

// EffectiveSurcharge returns the surcharge magnitude, falling back to DefaultCardSurcharge.
func (c PricingConfig) EffectiveSurcharge() decimal.Decimal {
	if c.Surcharge.IsPositive() {
		return c.Surcharge
	}
	return DefaultCardSurcharge
}

// DiscountKind selects whether a transaction discount is a percentage or a flat amount.
type DiscountKind string

const (
	DiscountPercent DiscountKind = "PERCENT"
	DiscountAmount  DiscountKind = "AMOUNT"
)

// TransactionDiscount is the cashier-entered whole-cart discount.
type TransactionDiscount struct {
	Kind  DiscountKind
	Value decimal.Decimal
}

// IsZero reports whether the discount removes nothing.
func (d TransactionDiscount) IsZero() bool {
	return !d.Value.IsPositive()
}

// PromotionResult is the amount returned by the promotion oracle for a given cart revision.
type PromotionResult struct {
	Revision uint64
	Amount   decimal.Decimal
	Applied  []string
}

// LineTotals is the per-line output of the pricing engine.
type LineTotals struct {
	ItemID    string
	Quantity  int
	CashPrice decimal.Decimal
	CardPrice decimal.Decimal
	TaxCash   decimal.Decimal
	TaxCard   decimal.Decimal
}

// TotalsResult captures every monetary figure of the in-flight transaction.
type TotalsResult struct {
	SubtotalCash           decimal.Decimal
	SubtotalCard           decimal.Decimal
	TransactionDiscount    decimal.Decimal
	PromotionDiscount      decimal.Decimal
	DiscountedSubtotalCash decimal.Decimal
	DiscountedSubtotalCard decimal.Decimal
	TaxCash                decimal.Decimal
	TaxCard                decimal.Decimal
	CashTotal              decimal.Decimal
	CardTotal              decimal.Decimal
	LotteryOffset          decimal.Decimal
	CustomerPayableCash    decimal.Decimal
	CustomerPayableCard    decimal.Decimal
	Tip                    decimal.Decimal
	ItemCount              int
	DualPricing            bool
	Promotions             []string
	Lines                  []LineTotals
}

// AmountDueCash is the cash-basis amount the customer hands over, tip included.
func (t TotalsResult) AmountDueCash() decimal.Decimal {
	return t.CustomerPayableCash.Add(t.Tip)
}

// AmountDueCard is the card-basis amount charged, tip included.
func (t TotalsResult) AmountDueCard() decimal.Decimal {
	return t.CustomerPayableCard.Add(t.Tip)
}

// PromotionRequest is the cart snapshot sent to the promotion service. The response must echo
// Revision so late answers can be recognised.
type PromotionRequest struct {
	StationID string
	Revision  uint64
	Items     []LineItem
}
