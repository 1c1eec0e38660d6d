package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// ObjectOpener opens a writer for bucket/object. The object is committed on Close.
type ObjectOpener func(ctx context.Context, bucket, object, contentType string) io.WriteCloser

// ReportWriter exports shift close reports to Cloud Storage as JSON documents.
type ReportWriter struct {
	bucket string
	open   ObjectOpener
	now    func() time.Time
}

// ReportWriterOption customises writer behaviour.
type ReportWriterOption func(*ReportWriter)

// WithObjectOpener replaces the Cloud Storage writer, mostly for tests.
func WithObjectOpener(open ObjectOpener) ReportWriterOption {
	return func(w *ReportWriter) {
		if open != nil {
			w.open = open
		}
	}
}

// WithClock injects a custom clock used when a summary carries no close time.
func WithClock(clock func() time.Time) ReportWriterOption {
	return func(w *ReportWriter) {
		if clock != nil {
			w.now = clock
		}
	}
}

// NewReportWriter constructs a report writer for the given bucket.
func NewReportWriter(client *gcs.Client, bucket string, opts ...ReportWriterOption) (*ReportWriter, error) {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return nil, errors.New("storage report writer: bucket is required")
	}
	w := &ReportWriter{
		bucket: bucket,
		now:    time.Now,
	}
	if client != nil {
		w.open = func(ctx context.Context, bucket, object, contentType string) io.WriteCloser {
			ow := client.Bucket(bucket).Object(object).NewWriter(ctx)
			ow.ContentType = contentType
			return ow
		}
	}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	if w.open == nil {
		return nil, errors.New("storage report writer: client is required")
	}
	return w, nil
}

type shiftReportDocument struct {
	ShiftID       string              `json:"shiftId"`
	StationID     string              `json:"stationId"`
	OpenedAt      time.Time           `json:"openedAt"`
	ClosedAt      time.Time           `json:"closedAt"`
	StartingFloat string              `json:"startingFloat"`
	CashSales     string              `json:"cashSales"`
	SaleCount     int                 `json:"saleCount"`
	Expected      string              `json:"expected"`
	Counted       string              `json:"counted"`
	Variance      string              `json:"variance"`
	Note          string              `json:"note,omitempty"`
	Totals        shiftReportTotals   `json:"totals"`
	Transactions  []shiftReportTxLine `json:"transactions"`
}

type shiftReportTotals struct {
	Cash    string `json:"cash"`
	Card    string `json:"card"`
	Tax     string `json:"tax"`
	Tips    string `json:"tips"`
	Lottery string `json:"lotteryPayouts"`
}

type shiftReportTxLine struct {
	ID          string    `json:"id"`
	Method      string    `json:"method"`
	AmountDue   string    `json:"amountDue"`
	CashTaken   string    `json:"cashTaken"`
	CardCharged string    `json:"cardCharged"`
	Items       int       `json:"items"`
	CompletedAt time.Time `json:"completedAt"`
}

// ExportShiftReport writes the reconciliation and the shift's sales and returns the gs:// URI.
func (w *ReportWriter) ExportShiftReport(ctx context.Context, summary domain.ShiftCloseSummary, records []domain.TransactionRecord) (string, error) {
	if w == nil || w.open == nil {
		return "", errors.New("storage report writer: not initialised")
	}
	closedAt := summary.ClosedAt
	if closedAt.IsZero() {
		closedAt = w.now()
	}
	object, err := ShiftReportPath(summary.StationID, summary.ShiftID, closedAt)
	if err != nil {
		return "", err
	}

	doc := buildShiftReport(summary, records)
	doc.ClosedAt = closedAt.UTC()

	writer := w.open(ctx, w.bucket, object, "application/json")
	enc := json.NewEncoder(writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = writer.Close()
		return "", fmt.Errorf("storage: encode shift report: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("storage: write shift report: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", w.bucket, object), nil
}

func buildShiftReport(summary domain.ShiftCloseSummary, records []domain.TransactionRecord) shiftReportDocument {
	doc := shiftReportDocument{
		ShiftID:       summary.ShiftID,
		StationID:     summary.StationID,
		OpenedAt:      summary.OpenedAt.UTC(),
		StartingFloat: summary.StartingFloat.StringFixed(2),
		CashSales:     summary.CashSales.StringFixed(2),
		SaleCount:     summary.SaleCount,
		Expected:      summary.Expected.StringFixed(2),
		Counted:       summary.Counted.StringFixed(2),
		Variance:      summary.Variance.StringFixed(2),
		Note:          summary.Note,
		Transactions:  make([]shiftReportTxLine, 0, len(records)),
	}

	cash, card, tax, tips, lottery := decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero, decimal.Zero
	for _, record := range records {
		cashTaken := record.Payment.CashCollected()
		cardCharged := record.Payment.CardCharged()
		cash = cash.Add(cashTaken)
		card = card.Add(cardCharged)
		tax = tax.Add(record.Totals.TaxCash)
		tips = tips.Add(record.Totals.Tip)
		lottery = lottery.Add(record.Totals.LotteryOffset)
		doc.Transactions = append(doc.Transactions, shiftReportTxLine{
			ID:          record.ID,
			Method:      string(record.Payment.Method),
			AmountDue:   record.Payment.AmountDue.StringFixed(2),
			CashTaken:   cashTaken.StringFixed(2),
			CardCharged: cardCharged.StringFixed(2),
			Items:       record.Totals.ItemCount,
			CompletedAt: record.CompletedAt.UTC(),
		})
	}
	doc.Totals = shiftReportTotals{
		Cash:    cash.StringFixed(2),
		Card:    card.StringFixed(2),
		Tax:     tax.StringFixed(2),
		Tips:    tips.StringFixed(2),
		Lottery: lottery.StringFixed(2),
	}
	return doc
}
