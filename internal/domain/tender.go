package domain

import "github.com/shopspring/decimal"

// TenderMethod identifies how a transaction was paid.
type TenderMethod string

const (
	TenderCash        TenderMethod = "CASH"
	TenderCard        TenderMethod = "CARD"
	TenderMethodSplit TenderMethod = "SPLIT"
)

// TenderEntry is one leg of a payment.
type TenderEntry struct {
	Method TenderMethod
	Amount decimal.Decimal
}

// TenderSplit lists the legs of a payment. A split carries at most one cash and one card leg.
type TenderSplit []TenderEntry

// Sum adds the legs together.
func (s TenderSplit) Sum() decimal.Decimal {
	total := decimal.Zero
	for _, entry := range s {
		total = total.Add(entry.Amount)
	}
	return total
}

// Amount returns the total of legs paid with the given method.
func (s TenderSplit) Amount(method TenderMethod) decimal.Decimal {
	total := decimal.Zero
	for _, entry := range s {
		if entry.Method == method {
			total = total.Add(entry.Amount)
		}
	}
	return total
}

// PaymentOutcome is the reconciled result of tendering a transaction.
type PaymentOutcome struct {
	Method       TenderMethod
	AmountDue    decimal.Decimal
	Tender       TenderSplit
	CashReceived decimal.Decimal
	Change       decimal.Decimal
}

// CashCollected is the cash that stays in the drawer once change is handed back.
func (p PaymentOutcome) CashCollected() decimal.Decimal {
	return p.Tender.Amount(TenderCash)
}

// CardCharged is the portion charged to a card.
func (p PaymentOutcome) CardCharged() decimal.Decimal {
	return p.Tender.Amount(TenderCard)
}
