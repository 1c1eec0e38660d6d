package services

import (
	domain "github.com/tillpoint/api/internal/domain"
)

// AgeVerificationGate holds age-restricted items until the cashier confirms, skips or cancels.
// Once verified or skipped, later restricted items in the same transaction pass straight through.
type AgeVerificationGate struct {
	state domain.AgeVerificationState
}

// NewAgeVerificationGate returns a gate in the NotRequired state.
func NewAgeVerificationGate() *AgeVerificationGate {
	return &AgeVerificationGate{state: domain.AgeVerificationState{Status: domain.AgeNotRequired}}
}

// State returns a snapshot of the gate.
func (g *AgeVerificationGate) State() domain.AgeVerificationState {
	snapshot := g.state
	if g.state.PendingItem != nil {
		item := *g.state.PendingItem
		snapshot.PendingItem = &item
	}
	return snapshot
}

// Admit decides whether the item may enter the cart now. It returns true when the item is
// unrestricted or the gate is already bypassed; otherwise the item is parked and the gate
// moves to Pending. A restricted item arriving while another is pending is rejected.
func (g *AgeVerificationGate) Admit(item domain.LineItem, qty int) (bool, error) {
	if !item.RequiresAgeVerification() {
		return true, nil
	}
	if g.state.Bypassed() {
		return true, nil
	}
	if g.state.Status == domain.AgePending {
		return false, validationError("ageVerification", "another item is awaiting age verification")
	}
	if qty < 1 {
		qty = 1
	}
	parked := item
	g.state = domain.AgeVerificationState{
		Status:          domain.AgePending,
		PendingItem:     &parked,
		PendingQuantity: qty,
	}
	return false, nil
}

// Confirm records a checked ID and releases the pending item.
func (g *AgeVerificationGate) Confirm() (domain.LineItem, int, error) {
	return g.release(domain.AgeVerified)
}

// Skip releases the pending item without an ID check. Later restricted items are not prompted.
func (g *AgeVerificationGate) Skip() (domain.LineItem, int, error) {
	return g.release(domain.AgeSkipped)
}

// Cancel discards the pending item.
func (g *AgeVerificationGate) Cancel() error {
	if g.state.Status != domain.AgePending {
		return validationError("ageVerification", "no item is awaiting age verification")
	}
	g.state = domain.AgeVerificationState{Status: domain.AgeCancelled}
	return nil
}

// Reset returns the gate to NotRequired. Called on complete, void and hold.
func (g *AgeVerificationGate) Reset() {
	g.state = domain.AgeVerificationState{Status: domain.AgeNotRequired}
}

func (g *AgeVerificationGate) release(next domain.AgeVerificationStatus) (domain.LineItem, int, error) {
	if g.state.Status != domain.AgePending || g.state.PendingItem == nil {
		return domain.LineItem{}, 0, validationError("ageVerification", "no item is awaiting age verification")
	}
	item := *g.state.PendingItem
	qty := g.state.PendingQuantity
	g.state = domain.AgeVerificationState{Status: next}
	return item, qty, nil
}
