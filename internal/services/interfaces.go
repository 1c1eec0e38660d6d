package services

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	LineItem          = domain.LineItem
	TotalsResult      = domain.TotalsResult
	PromotionRequest  = domain.PromotionRequest
	PromotionResult   = domain.PromotionResult
	TransactionRecord = domain.TransactionRecord
	HeldTransaction   = domain.HeldTransaction
	ShiftSession      = domain.ShiftSession
	ShiftCloseSummary = domain.ShiftCloseSummary
	HealthReport      = domain.HealthReport
)

// PromotionEvaluator asks the promotion service what the cart is worth in discounts. The result
// must carry the request revision.
type PromotionEvaluator interface {
	Evaluate(ctx context.Context, req PromotionRequest) (PromotionResult, error)
}

// CardAuthorizer charges the card leg of a tender through the card processor. A declined card is
// reported through the authorization status, not as an error.
type CardAuthorizer interface {
	Authorize(ctx context.Context, stationID, reference string, amount decimal.Decimal) (domain.CardAuthorization, error)
	Cancel(ctx context.Context, auth domain.CardAuthorization) error
}

// TransactionEventPublisher fans completed sales and closed shifts out to downstream consumers.
type TransactionEventPublisher interface {
	PublishTransactionCompleted(ctx context.Context, record TransactionRecord) error
	PublishShiftClosed(ctx context.Context, summary ShiftCloseSummary) error
}

// ShiftReportExporter writes the close report for a shift and returns where it was stored.
type ShiftReportExporter interface {
	ExportShiftReport(ctx context.Context, summary ShiftCloseSummary, records []TransactionRecord) (string, error)
}

// CheckoutMetrics receives register activity for instrumentation.
type CheckoutMetrics interface {
	PricingRecalculated(ctx context.Context, stationID string)
	PromotionDropped(ctx context.Context, stationID, reason string)
	PromotionLookup(ctx context.Context, latency time.Duration, ok bool)
	TenderCompleted(ctx context.Context, method string, amount float64)
	ShiftClosed(ctx context.Context, stationID string, variance float64)
}

type noopMetrics struct{}

func (noopMetrics) PricingRecalculated(context.Context, string) {}
func (noopMetrics) PromotionDropped(context.Context, string, string) {}
func (noopMetrics) PromotionLookup(context.Context, time.Duration, bool) {}
func (noopMetrics) TenderCompleted(context.Context, string, float64) {}
func (noopMetrics) ShiftClosed(context.Context, string, float64) {}

// CheckoutService drives the in-flight transaction of every station.
type CheckoutService interface {
	Snapshot(ctx context.Context, stationID string) (SessionSnapshot, error)
	ScanItem(ctx context.Context, cmd ScanItemCommand) (ScanResult, error)
	AddCaseBreak(ctx context.Context, cmd AddCaseBreakCommand) (AddResult, error)
	AddItem(ctx context.Context, cmd AddItemCommand) (AddResult, error)
	UpdateItem(ctx context.Context, cmd UpdateItemCommand) (SessionSnapshot, error)
	RemoveItem(ctx context.Context, stationID string, index int) (SessionSnapshot, error)
	ResolveAgeVerification(ctx context.Context, stationID string, decision AgeDecision) (AddResult, error)
	SetDiscount(ctx context.Context, stationID string, discount *domain.TransactionDiscount) (SessionSnapshot, error)
	SetTip(ctx context.Context, stationID string, amount decimal.Decimal) (SessionSnapshot, error)
	AddLotteryPayout(ctx context.Context, stationID string, amount decimal.Decimal) (SessionSnapshot, error)
	Tender(ctx context.Context, cmd TenderCommand) (TenderReceipt, error)
	Void(ctx context.Context, stationID string) (SessionSnapshot, error)
	Hold(ctx context.Context, stationID string) (HeldTransaction, error)
	Recall(ctx context.Context, stationID, holdID string) (SessionSnapshot, error)
	ListHeld(ctx context.Context, stationID string) ([]HeldTransaction, error)
}

// ShiftService opens, reports and closes cash drawer shifts.
type ShiftService interface {
	OpenShift(ctx context.Context, cmd OpenShiftCommand) (ShiftSession, error)
	CurrentShift(ctx context.Context, stationID string) (ShiftSession, error)
	CloseShift(ctx context.Context, cmd CloseShiftCommand) (ShiftCloseResult, error)
}

// SystemService reports service health for readiness probes.
type SystemService interface {
	HealthReport(ctx context.Context) (HealthReport, error)
}
