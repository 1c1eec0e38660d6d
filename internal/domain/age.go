package domain

// AgeVerificationStatus is the state of the age verification gate for the current transaction.
type AgeVerificationStatus string

const (
	AgeNotRequired AgeVerificationStatus = "NOT_REQUIRED"
	AgePending     AgeVerificationStatus = "PENDING"
	AgeVerified    AgeVerificationStatus = "VERIFIED"
	AgeSkipped     AgeVerificationStatus = "SKIPPED"
	AgeCancelled   AgeVerificationStatus = "CANCELLED"
)

// AgeVerificationState snapshots the gate. PendingItem is set only while Status is AgePending.
type AgeVerificationState struct {
	Status          AgeVerificationStatus
	PendingItem     *LineItem
	PendingQuantity int
}

// Bypassed reports whether restricted items are admitted without prompting again.
func (s AgeVerificationState) Bypassed() bool {
	return s.Status == AgeVerified || s.Status == AgeSkipped
}
