package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is the finalized transaction handed to persistence after tender.
type TransactionRecord struct {
	ID                string
	StationID         string
	ShiftID           string
	Items             []LineItem
	Totals            TotalsResult
	Discount          TransactionDiscount
	Payment           PaymentOutcome
	AgeVerification   AgeVerificationStatus
	CardAuthorization *CardAuthorization
	CompletedAt       time.Time
}

// Card authorization statuses reported by processors.
const (
	CardAuthorized = "authorized"
	CardPending    = "pending"
	CardDeclined   = "declined"
	CardCancelled  = "cancelled"
)

// CardAuthorization references the processor-side payment for the card leg.
type CardAuthorization struct {
	Provider  string
	Reference string
	Amount    decimal.Decimal
	Status    string
}

// HeldTransaction is a parked cart that can be recalled later at the same station.
type HeldTransaction struct {
	ID        string
	StationID string
	Items     []LineItem
	Discount  TransactionDiscount
	Tip       decimal.Decimal
	Lottery   decimal.Decimal
	HeldAt    time.Time
}

// Product is the catalog entry a barcode scan resolves to.
type Product struct {
	ID              string
	Name            string
	Barcode         string
	SKU             string
	Price           decimal.Decimal
	CashPrice       *decimal.Decimal
	CardPrice       *decimal.Decimal
	TaxRate         *decimal.Decimal
	MinimumAge      int
	BenefitEligible bool
	CaseBreak       bool
	UnitsPerCase    int
	CasePrice       *decimal.Decimal
	Active          bool
}
