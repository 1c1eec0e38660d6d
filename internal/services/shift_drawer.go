package services

import (
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// ShiftCashDrawer accounts for the cash in one station's drawer across a shift. It does not lock:
// callers serialise access per station.
type ShiftCashDrawer struct {
	session domain.ShiftSession
	now     func() time.Time
}

// OpenShift starts a new shift with the given starting float.
func OpenShift(stationID string, startingFloat decimal.Decimal, now func() time.Time) (*ShiftCashDrawer, error) {
	if startingFloat.IsNegative() {
		return nil, validationError("startingFloat", "must not be negative")
	}
	if now == nil {
		now = time.Now
	}
	opened := now().UTC()
	return &ShiftCashDrawer{
		session: domain.ShiftSession{
			ID:            ulid.Make().String(),
			StationID:     stationID,
			Status:        domain.ShiftOpen,
			StartingFloat: domain.Round2(startingFloat),
			CashSales:     decimal.Zero,
			OpenedAt:      opened,
			UpdatedAt:     opened,
		},
		now: now,
	}, nil
}

// ResumeShift rebuilds a drawer from a stored session.
func ResumeShift(session domain.ShiftSession, now func() time.Time) *ShiftCashDrawer {
	if now == nil {
		now = time.Now
	}
	return &ShiftCashDrawer{session: session, now: now}
}

// Session returns a snapshot of the shift.
func (d *ShiftCashDrawer) Session() domain.ShiftSession {
	return d.session
}

// RecordCashSale adds the cash kept from a completed cash or split-cash transaction.
func (d *ShiftCashDrawer) RecordCashSale(amount decimal.Decimal) error {
	if d.session.Status != domain.ShiftOpen {
		return ErrShiftNotOpen
	}
	if amount.IsNegative() {
		return validationError("amount", "cash sale must not be negative")
	}
	d.session.CashSales = domain.Round2(d.session.CashSales.Add(amount))
	d.session.SaleCount++
	d.session.UpdatedAt = d.now().UTC()
	return nil
}

// ReconcileSales rebuilds the running cash total from the sales stored against the shift.
func (d *ShiftCashDrawer) ReconcileSales(records []domain.TransactionRecord) error {
	if d.session.Status != domain.ShiftOpen {
		return ErrShiftNotOpen
	}
	cash := decimal.Zero
	count := 0
	for _, record := range records {
		if record.ShiftID != d.session.ID || record.Payment.Method == domain.TenderCard {
			continue
		}
		cash = cash.Add(record.Payment.CashCollected())
		count++
	}
	d.session.CashSales = domain.Round2(cash)
	d.session.SaleCount = count
	return nil
}

// Close counts the drawer and ends the shift. A closed shift cannot be closed again and is
// left untouched by the attempt.
func (d *ShiftCashDrawer) Close(counted decimal.Decimal, note string) (domain.ShiftCloseSummary, error) {
	if d.session.Status == domain.ShiftClosed {
		return domain.ShiftCloseSummary{}, ErrShiftAlreadyClosed
	}
	if counted.IsNegative() {
		return domain.ShiftCloseSummary{}, validationError("counted", "must not be negative")
	}
	counted = domain.Round2(counted)
	expected := domain.Round2(d.session.ExpectedCash())
	variance := counted.Sub(expected)
	closed := d.now().UTC()

	d.session.Status = domain.ShiftClosed
	d.session.Counted = &counted
	d.session.Expected = &expected
	d.session.Variance = &variance
	d.session.Note = note
	d.session.ClosedAt = &closed
	d.session.UpdatedAt = closed

	return SummarizeShift(d.session), nil
}

// SummarizeShift builds the close summary of a closed session.
func SummarizeShift(s domain.ShiftSession) domain.ShiftCloseSummary {
	summary := domain.ShiftCloseSummary{
		ShiftID:       s.ID,
		StationID:     s.StationID,
		StartingFloat: s.StartingFloat,
		CashSales:     s.CashSales,
		SaleCount:     s.SaleCount,
		Expected:      s.ExpectedCash(),
		Note:          s.Note,
		OpenedAt:      s.OpenedAt,
	}
	if s.Expected != nil {
		summary.Expected = *s.Expected
	}
	if s.Counted != nil {
		summary.Counted = *s.Counted
	}
	if s.Variance != nil {
		summary.Variance = *s.Variance
	}
	if s.ClosedAt != nil {
		summary.ClosedAt = *s.ClosedAt
	}
	return summary
}
