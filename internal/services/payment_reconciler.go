package services

import (
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// PaymentReconciler validates tendered amounts against computed totals. Failures are reported as
// validation errors and never corrected.
type PaymentReconciler struct{}

// NewPaymentReconciler returns a reconciler.
func NewPaymentReconciler() PaymentReconciler {
	return PaymentReconciler{}
}

// Cash settles the transaction on the cash basis. Received must cover the amount due.
func (PaymentReconciler) Cash(totals domain.TotalsResult, received decimal.Decimal) (domain.PaymentOutcome, error) {
	due := domain.Round2(totals.AmountDueCash())
	if received.IsNegative() {
		return domain.PaymentOutcome{}, validationError("cashReceived", "must not be negative")
	}
	if received.LessThan(due) {
		return domain.PaymentOutcome{}, validationError("cashReceived", "is less than the amount due "+due.StringFixed(2))
	}
	return domain.PaymentOutcome{
		Method:       domain.TenderCash,
		AmountDue:    due,
		Tender:       domain.TenderSplit{{Method: domain.TenderCash, Amount: due}},
		CashReceived: received,
		Change:       domain.Round2(received.Sub(due)),
	}, nil
}

// Card settles the transaction on the card basis. The charged amount must match the amount due.
func (PaymentReconciler) Card(totals domain.TotalsResult, amount decimal.Decimal) (domain.PaymentOutcome, error) {
	due := domain.Round2(totals.AmountDueCard())
	if !domain.WithinCent(amount, due) {
		return domain.PaymentOutcome{}, validationError("amount", "does not match the card total "+due.StringFixed(2))
	}
	return domain.PaymentOutcome{
		Method:    domain.TenderCard,
		AmountDue: due,
		Tender:    domain.TenderSplit{{Method: domain.TenderCard, Amount: due}},
	}, nil
}

// Split settles part of the cash-basis amount due in cash and the remainder by card.
func (r PaymentReconciler) Split(totals domain.TotalsResult, cashPortion, cashReceived decimal.Decimal) (domain.PaymentOutcome, error) {
	total := domain.Round2(totals.AmountDueCash())
	cashPortion = domain.Round2(cashPortion)
	if !cashPortion.IsPositive() {
		return domain.PaymentOutcome{}, validationError("cashAmount", "must be greater than zero")
	}
	if cashPortion.GreaterThanOrEqual(total) {
		return domain.PaymentOutcome{}, validationError("cashAmount", "must be less than the total "+total.StringFixed(2))
	}
	if cashReceived.LessThan(cashPortion) {
		return domain.PaymentOutcome{}, validationError("cashReceived", "is less than the cash portion")
	}
	cardPortion := domain.NonNegative(total.Sub(cashPortion))
	split := domain.TenderSplit{
		{Method: domain.TenderCash, Amount: cashPortion},
		{Method: domain.TenderCard, Amount: cardPortion},
	}
	if err := r.ValidateSplit(split, total); err != nil {
		return domain.PaymentOutcome{}, err
	}
	return domain.PaymentOutcome{
		Method:       domain.TenderMethodSplit,
		AmountDue:    total,
		Tender:       split,
		CashReceived: cashReceived,
		Change:       domain.Round2(cashReceived.Sub(cashPortion)),
	}, nil
}

// ValidateSplit checks that a declared split covers the total within one cent and carries at
// most one leg per method, each positive.
func (PaymentReconciler) ValidateSplit(split domain.TenderSplit, total decimal.Decimal) error {
	if len(split) == 0 {
		return validationError("tender", "at least one tender entry is required")
	}
	seen := make(map[domain.TenderMethod]bool, len(split))
	for _, entry := range split {
		switch entry.Method {
		case domain.TenderCash, domain.TenderCard:
		default:
			return validationError("tender", "unsupported method "+string(entry.Method))
		}
		if seen[entry.Method] {
			return validationError("tender", "duplicate "+string(entry.Method)+" entry")
		}
		seen[entry.Method] = true
		if !entry.Amount.IsPositive() {
			return validationError("tender", string(entry.Method)+" amount must be positive")
		}
	}
	if !domain.WithinCent(split.Sum(), total) {
		return validationError("tender", "entries sum to "+split.Sum().StringFixed(2)+", expected "+total.StringFixed(2))
	}
	return nil
}
