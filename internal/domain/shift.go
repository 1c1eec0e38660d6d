package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ShiftStatus tracks the lifecycle of a cash drawer shift.
type ShiftStatus string

const (
	ShiftOpen   ShiftStatus = "OPEN"
	ShiftClosed ShiftStatus = "CLOSED"
)

// ShiftSession is one cash drawer shift at a station. Variance is counted minus expected:
// negative means the drawer is short, positive means it is over.
type ShiftSession struct {
	ID            string
	StationID     string
	Status        ShiftStatus
	StartingFloat decimal.Decimal
	CashSales     decimal.Decimal
	SaleCount     int
	Counted       *decimal.Decimal
	Expected      *decimal.Decimal
	Variance      *decimal.Decimal
	Note          string
	OpenedAt      time.Time
	ClosedAt      *time.Time
	UpdatedAt     time.Time
}

// ExpectedCash is the amount the drawer should hold right now.
func (s ShiftSession) ExpectedCash() decimal.Decimal {
	return s.StartingFloat.Add(s.CashSales)
}

// ShiftCloseSummary reports the reconciliation produced when a shift closes.
type ShiftCloseSummary struct {
	ShiftID       string
	StationID     string
	StartingFloat decimal.Decimal
	CashSales     decimal.Decimal
	SaleCount     int
	Expected      decimal.Decimal
	Counted       decimal.Decimal
	Variance      decimal.Decimal
	Note          string
	OpenedAt      time.Time
	ClosedAt      time.Time
}

// Short reports whether the drawer held less cash than expected.
func (s ShiftCloseSummary) Short() bool {
	return s.Variance.IsNegative()
}
