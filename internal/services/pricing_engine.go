package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// PricingEngine derives every total of a transaction from its inputs. It holds no state besides
// its logger, so two calls with the same command always return the same result.
type PricingEngine struct {
	logger func(context.Context, string, map[string]any)
}

// PricingEngineDeps bundles optional collaborators of the engine.
type PricingEngineDeps struct {
	Logger func(context.Context, string, map[string]any)
}

// NewPricingEngine constructs an engine. A nil logger discards clamp events.
func NewPricingEngine(deps PricingEngineDeps) *PricingEngine {
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &PricingEngine{logger: logger}
}

// PriceCommand is the full input of a pricing pass.
type PriceCommand struct {
	Items               []domain.LineItem
	Config              domain.PricingConfig
	TransactionDiscount domain.TransactionDiscount
	Promotion           domain.PromotionResult
	Tip                 decimal.Decimal
	LotteryOffset       decimal.Decimal
}

// Calculate runs the pricing steps in their fixed order: per-line cash and card prices, per-line
// tax, one combined deduction for the transaction discount and promotion that also scales tax
// down proportionally, totals with the flat card fee, and finally the lottery offset.
func (e *PricingEngine) Calculate(ctx context.Context, cmd PriceCommand) domain.TotalsResult {
	cfg := cmd.Config
	dual := cfg.DualPricingActive()
	percentSurcharge := dual && cfg.SurchargeType != domain.SurchargeFlatAmount
	surcharge := cfg.EffectiveSurcharge()
	surchargeMultiplier := decimal.NewFromInt(1).Add(domain.Percent(surcharge))

	result := domain.TotalsResult{
		DualPricing: dual,
		Lines:       make([]domain.LineTotals, 0, len(cmd.Items)),
	}

	subtotalCash := decimal.Zero
	subtotalCard := decimal.Zero
	taxCash := decimal.Zero
	taxCard := decimal.Zero

	for _, item := range cmd.Items {
		qty := item.Quantity
		if qty < 1 {
			qty = 1
		}
		quantity := decimal.NewFromInt(int64(qty))
		discountRate := domain.Percent(domain.ClampPercent(item.DiscountPercent))

		lineTotal := domain.NonNegative(item.UnitPrice).Mul(quantity)
		cashPrice := domain.Round2(lineTotal.Sub(lineTotal.Mul(discountRate)))

		cardPrice := cashPrice
		if percentSurcharge {
			if detail, ok := item.Detail.(domain.DualPriceDetail); ok && detail.CardPrice.IsPositive() {
				cardLine := detail.CardPrice.Mul(quantity)
				cardPrice = decimal.Max(cashPrice, domain.Round2(cardLine.Sub(cardLine.Mul(discountRate))))
			} else {
				cardPrice = domain.Round2(cashPrice.Mul(surchargeMultiplier))
			}
		}

		rate := cfg.DefaultTaxRate
		if item.TaxRate != nil {
			rate = *item.TaxRate
		}
		rate = domain.Percent(domain.NonNegative(rate))
		lineTaxCash := domain.Round2(cashPrice.Mul(rate))
		lineTaxCard := domain.Round2(cardPrice.Mul(rate))

		subtotalCash = subtotalCash.Add(cashPrice)
		subtotalCard = subtotalCard.Add(cardPrice)
		taxCash = taxCash.Add(lineTaxCash)
		taxCard = taxCard.Add(lineTaxCard)
		result.ItemCount += qty

		result.Lines = append(result.Lines, domain.LineTotals{
			ItemID:    item.ID,
			Quantity:  qty,
			CashPrice: cashPrice,
			CardPrice: cardPrice,
			TaxCash:   lineTaxCash,
			TaxCard:   lineTaxCard,
		})
	}

	txDiscount := transactionDiscountAmount(cmd.TransactionDiscount, subtotalCash)
	promo := domain.Round2(domain.NonNegative(cmd.Promotion.Amount))
	deduction := txDiscount.Add(promo)
	if deduction.GreaterThan(subtotalCash) {
		e.logger(ctx, "pricing.discount_clamped", map[string]any{
			"subtotalCash": subtotalCash.StringFixed(2),
			"transaction":  txDiscount.StringFixed(2),
			"promotion":    promo.StringFixed(2),
		})
		deduction = subtotalCash
		if txDiscount.GreaterThan(subtotalCash) {
			txDiscount = subtotalCash
		}
		promo = subtotalCash.Sub(txDiscount)
	}

	ratio := decimal.Zero
	if subtotalCash.IsPositive() {
		ratio = deduction.Div(subtotalCash)
	}
	cardScale := decimal.NewFromInt(1)
	if subtotalCash.IsPositive() {
		cardScale = subtotalCard.Div(subtotalCash)
	}

	discountedCash := domain.Round2(domain.NonNegative(subtotalCash.Sub(deduction)))
	discountedCard := domain.Round2(domain.NonNegative(subtotalCard.Sub(deduction.Mul(cardScale))))

	keep := decimal.NewFromInt(1).Sub(ratio)
	taxCash = domain.Round2(domain.NonNegative(taxCash.Mul(keep)))
	taxCard = domain.Round2(domain.NonNegative(taxCard.Mul(keep)))

	cashTotal := domain.Round2(discountedCash.Add(taxCash))
	cardTotal := domain.Round2(discountedCard.Add(taxCard))
	if dual && !percentSurcharge {
		cardTotal = domain.Round2(cashTotal.Add(surcharge))
	}

	lottery := domain.Round2(domain.NonNegative(cmd.LotteryOffset))

	result.SubtotalCash = domain.Round2(subtotalCash)
	result.SubtotalCard = domain.Round2(subtotalCard)
	result.TransactionDiscount = txDiscount
	result.PromotionDiscount = promo
	result.DiscountedSubtotalCash = discountedCash
	result.DiscountedSubtotalCard = discountedCard
	result.TaxCash = taxCash
	result.TaxCard = taxCard
	result.CashTotal = cashTotal
	result.CardTotal = cardTotal
	result.LotteryOffset = lottery
	result.CustomerPayableCash = domain.Round2(domain.NonNegative(cashTotal.Sub(lottery)))
	result.CustomerPayableCard = domain.Round2(domain.NonNegative(cardTotal.Sub(lottery)))
	result.Tip = domain.Round2(domain.NonNegative(cmd.Tip))
	if len(cmd.Promotion.Applied) > 0 && promo.IsPositive() {
		result.Promotions = append([]string(nil), cmd.Promotion.Applied...)
	}
	return result
}

func transactionDiscountAmount(discount domain.TransactionDiscount, subtotalCash decimal.Decimal) decimal.Decimal {
	if discount.IsZero() {
		return decimal.Zero
	}
	switch discount.Kind {
	case domain.DiscountPercent:
		return domain.Round2(subtotalCash.Mul(domain.Percent(domain.ClampPercent(discount.Value))))
	default:
		return domain.Round2(discount.Value)
	}
}
