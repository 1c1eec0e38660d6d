package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/textutil"
	"github.com/tillpoint/api/internal/repositories"
)

const maxShiftNoteLength = 500

var defaultVarianceNoteThreshold = decimal.RequireFromString("5.00")

// OpenShiftCommand starts a shift at a station.
type OpenShiftCommand struct {
	StationID     string
	StartingFloat decimal.Decimal
}

// CloseShiftCommand counts the drawer. ShiftID is optional; without it the station's open shift
// is closed.
type CloseShiftCommand struct {
	StationID string
	ShiftID   string
	Counted   decimal.Decimal
	Note      string
}

// ShiftCloseResult is the reconciliation of a closed shift and the location of its report.
type ShiftCloseResult struct {
	Summary   ShiftCloseSummary
	ReportURI string
}

// ShiftServiceDeps wires the dependencies required by the shift service.
type ShiftServiceDeps struct {
	Stations              *StationRegistry
	Shifts                repositories.ShiftRepository
	Transactions          repositories.TransactionRepository
	Exporter              ShiftReportExporter
	Publisher             TransactionEventPublisher
	Metrics               CheckoutMetrics
	VarianceNoteThreshold decimal.Decimal
	Clock                 func() time.Time
	Logger                func(ctx context.Context, event string, fields map[string]any)
}

type shiftService struct {
	stations     *StationRegistry
	shifts       repositories.ShiftRepository
	transactions repositories.TransactionRepository
	exporter     ShiftReportExporter
	publisher    TransactionEventPublisher
	metrics      CheckoutMetrics
	threshold    decimal.Decimal
	now          func() time.Time
	logger       func(ctx context.Context, event string, fields map[string]any)
}

// NewShiftService constructs a ShiftService. Stations must be the registry shared with the
// checkout service so drawer updates for one station never interleave.
func NewShiftService(deps ShiftServiceDeps) (ShiftService, error) {
	if deps.Stations == nil {
		return nil, errors.New("shift service: station registry is required")
	}
	if deps.Shifts == nil {
		return nil, errors.New("shift service: shift repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	threshold := deps.VarianceNoteThreshold
	if !threshold.IsPositive() {
		threshold = defaultVarianceNoteThreshold
	}

	return &shiftService{
		stations:     deps.Stations,
		shifts:       deps.Shifts,
		transactions: deps.Transactions,
		exporter:     deps.Exporter,
		publisher:    deps.Publisher,
		metrics:      metrics,
		threshold:    threshold,
		now: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

func (s *shiftService) OpenShift(ctx context.Context, cmd OpenShiftCommand) (ShiftSession, error) {
	var opened ShiftSession
	err := s.stations.withStation(cmd.StationID, func(session *CheckoutSession) error {
		drawer, err := OpenShift(session.StationID(), cmd.StartingFloat, s.now)
		if err != nil {
			return err
		}
		if err := s.shifts.Open(ctx, drawer.Session()); err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsConflict() {
				return ErrShiftAlreadyOpen
			}
			return err
		}
		opened = drawer.Session()
		return nil
	})
	if err != nil {
		return ShiftSession{}, err
	}
	s.logger(ctx, "shift.opened", map[string]any{
		"stationID":     opened.StationID,
		"shiftID":       opened.ID,
		"startingFloat": opened.StartingFloat.StringFixed(2),
	})
	return opened, nil
}

func (s *shiftService) CurrentShift(ctx context.Context, stationID string) (ShiftSession, error) {
	stationID, err := requireStation(stationID)
	if err != nil {
		return ShiftSession{}, err
	}
	shift, err := s.shifts.FindOpenByStation(ctx, stationID)
	if err != nil {
		return ShiftSession{}, translateShiftError(err)
	}
	return shift, nil
}

// CloseShift counts the drawer and closes the shift. Cash sales are recomputed from the
// transactions stored against the shift before the variance is taken. A variance beyond the
// configured threshold needs a note. The close report and event are best effort once the shift
// is stored.
func (s *shiftService) CloseShift(ctx context.Context, cmd CloseShiftCommand) (ShiftCloseResult, error) {
	var (
		summary ShiftCloseSummary
		records []TransactionRecord
	)
	err := s.stations.withStation(cmd.StationID, func(session *CheckoutSession) error {
		shift, err := s.lookup(ctx, session.StationID(), strings.TrimSpace(cmd.ShiftID))
		if err != nil {
			return err
		}

		drawer := ResumeShift(shift, s.now)
		note := textutil.CleanLabel(cmd.Note, maxShiftNoteLength)
		if shift.Status == domain.ShiftOpen {
			if s.transactions != nil {
				records, err = s.transactions.ListByShift(ctx, shift.ID)
				if err != nil {
					s.logger(ctx, "shift.sales_lookup_failed", map[string]any{
						"shiftID": shift.ID,
						"error":   err,
					})
					return fmt.Errorf("%w: shift sales: %v", ErrExternalUnavailable, err)
				}
				if err := drawer.ReconcileSales(records); err != nil {
					return err
				}
			}
			expected := drawer.Session().ExpectedCash()
			variance := domain.Round2(cmd.Counted).Sub(domain.Round2(expected))
			if variance.Abs().GreaterThan(s.threshold) && note == "" {
				return validationError("note", fmt.Sprintf("is required when the variance exceeds %s", s.threshold.StringFixed(2)))
			}
		}

		summary, err = drawer.Close(cmd.Counted, note)
		if err != nil {
			return err
		}
		return s.shifts.Save(ctx, drawer.Session())
	})
	if err != nil {
		return ShiftCloseResult{}, err
	}

	result := ShiftCloseResult{Summary: summary}
	result.ReportURI = s.exportReport(ctx, summary, records)
	if s.publisher != nil {
		if err := s.publisher.PublishShiftClosed(ctx, summary); err != nil {
			s.logger(ctx, "shift.publish_failed", map[string]any{
				"shiftID": summary.ShiftID,
				"error":   err,
			})
		}
	}
	variance, _ := summary.Variance.Float64()
	s.metrics.ShiftClosed(ctx, summary.StationID, variance)
	s.logger(ctx, "shift.closed", map[string]any{
		"stationID": summary.StationID,
		"shiftID":   summary.ShiftID,
		"expected":  summary.Expected.StringFixed(2),
		"counted":   summary.Counted.StringFixed(2),
		"variance":  summary.Variance.StringFixed(2),
	})
	return result, nil
}

func (s *shiftService) lookup(ctx context.Context, stationID, shiftID string) (ShiftSession, error) {
	if shiftID == "" {
		shift, err := s.shifts.FindOpenByStation(ctx, stationID)
		if err != nil {
			return ShiftSession{}, translateShiftError(err)
		}
		return shift, nil
	}
	shift, err := s.shifts.FindByID(ctx, shiftID)
	if err != nil {
		return ShiftSession{}, translateShiftError(err)
	}
	if shift.StationID != stationID {
		return ShiftSession{}, ErrShiftNotOpen
	}
	return shift, nil
}

func (s *shiftService) exportReport(ctx context.Context, summary ShiftCloseSummary, records []TransactionRecord) string {
	if s.exporter == nil {
		return ""
	}
	uri, err := s.exporter.ExportShiftReport(ctx, summary, records)
	if err != nil {
		s.logger(ctx, "shift.report_failed", map[string]any{
			"shiftID": summary.ShiftID,
			"error":   err,
		})
		return ""
	}
	return uri
}

func translateShiftError(err error) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return ErrShiftNotOpen
		case repoErr.IsUnavailable():
			return fmt.Errorf("%w: shift storage: %v", ErrExternalUnavailable, err)
		}
	}
	return err
}
