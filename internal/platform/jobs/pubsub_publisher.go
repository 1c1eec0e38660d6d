package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/textutil"
)

const (
	EventTransactionCompleted = "transaction.completed"
	EventShiftClosed          = "shift.closed"
)

// TransactionLineMessage is the wire form of a sold line.
type TransactionLineMessage struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

// TransactionCompletedMessage is published once a sale has been persisted.
type TransactionCompletedMessage struct {
	TransactionID string                   `json:"transactionId"`
	StationID     string                   `json:"stationId"`
	ShiftID       string                   `json:"shiftId,omitempty"`
	Method        string                   `json:"method"`
	AmountDue     string                   `json:"amountDue"`
	CashTotal     string                   `json:"cashTotal"`
	CardTotal     string                   `json:"cardTotal"`
	Tax           string                   `json:"tax"`
	Tip           string                   `json:"tip"`
	LotteryOffset string                   `json:"lotteryOffset"`
	Change        string                   `json:"change"`
	CardReference string                   `json:"cardReference,omitempty"`
	Lines         []TransactionLineMessage `json:"lines"`
	CompletedAt   time.Time                `json:"completedAt"`
}

// ShiftClosedMessage is published after a drawer reconciliation.
type ShiftClosedMessage struct {
	ShiftID       string    `json:"shiftId"`
	StationID     string    `json:"stationId"`
	StartingFloat string    `json:"startingFloat"`
	CashSales     string    `json:"cashSales"`
	SaleCount     int       `json:"saleCount"`
	Expected      string    `json:"expected"`
	Counted       string    `json:"counted"`
	Variance      string    `json:"variance"`
	Note          string    `json:"note,omitempty"`
	OpenedAt      time.Time `json:"openedAt"`
	ClosedAt      time.Time `json:"closedAt"`
}

// PubSubTransactionPublisher publishes register events to a Pub/Sub topic.
type PubSubTransactionPublisher struct {
	topic      *pubsub.Topic
	shiftTopic *pubsub.Topic
	marshal    func(any) ([]byte, error)
}

// PublisherOption customises the publisher.
type PublisherOption func(*PubSubTransactionPublisher)

// WithShiftTopic routes shift closed events to a dedicated topic.
func WithShiftTopic(topic *pubsub.Topic) PublisherOption {
	return func(p *PubSubTransactionPublisher) {
		if topic != nil {
			p.shiftTopic = topic
		}
	}
}

// NewPubSubTransactionPublisher constructs a Pub/Sub backed register event publisher. Shift
// events share the transaction topic unless WithShiftTopic is given.
func NewPubSubTransactionPublisher(topic *pubsub.Topic, opts ...PublisherOption) (*PubSubTransactionPublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub transaction publisher: topic is required")
	}
	p := &PubSubTransactionPublisher{
		topic:      topic,
		shiftTopic: topic,
		marshal:    json.Marshal,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}
	return p, nil
}

// PublishTransactionCompleted enqueues a completed sale.
func (p *PubSubTransactionPublisher) PublishTransactionCompleted(ctx context.Context, record domain.TransactionRecord) error {
	msg := TransactionCompletedMessage{
		TransactionID: record.ID,
		StationID:     record.StationID,
		ShiftID:       record.ShiftID,
		Method:        string(record.Payment.Method),
		AmountDue:     record.Payment.AmountDue.StringFixed(2),
		CashTotal:     record.Totals.CashTotal.StringFixed(2),
		CardTotal:     record.Totals.CardTotal.StringFixed(2),
		Tax:           record.Totals.TaxCash.StringFixed(2),
		Tip:           record.Totals.Tip.StringFixed(2),
		LotteryOffset: record.Totals.LotteryOffset.StringFixed(2),
		Change:        record.Payment.Change.StringFixed(2),
		Lines:         make([]TransactionLineMessage, 0, len(record.Items)),
		CompletedAt:   record.CompletedAt.UTC(),
	}
	if record.CardAuthorization != nil {
		msg.CardReference = record.CardAuthorization.Reference
	}
	for _, item := range record.Items {
		msg.Lines = append(msg.Lines, TransactionLineMessage{
			ID:        item.ID,
			Name:      item.Name,
			Kind:      string(item.Kind()),
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.StringFixed(2),
		})
	}
	attrs := map[string]string{
		"eventType":     EventTransactionCompleted,
		"transactionId": record.ID,
		"stationId":     record.StationID,
		"shiftId":       record.ShiftID,
		"method":        string(record.Payment.Method),
	}
	_, err := p.publish(ctx, p.topic, msg, attrs)
	return err
}

// PublishShiftClosed enqueues a shift reconciliation.
func (p *PubSubTransactionPublisher) PublishShiftClosed(ctx context.Context, summary domain.ShiftCloseSummary) error {
	msg := ShiftClosedMessage{
		ShiftID:       summary.ShiftID,
		StationID:     summary.StationID,
		StartingFloat: summary.StartingFloat.StringFixed(2),
		CashSales:     summary.CashSales.StringFixed(2),
		SaleCount:     summary.SaleCount,
		Expected:      summary.Expected.StringFixed(2),
		Counted:       summary.Counted.StringFixed(2),
		Variance:      summary.Variance.StringFixed(2),
		Note:          summary.Note,
		OpenedAt:      summary.OpenedAt.UTC(),
		ClosedAt:      summary.ClosedAt.UTC(),
	}
	attrs := map[string]string{
		"eventType": EventShiftClosed,
		"shiftId":   summary.ShiftID,
		"stationId": summary.StationID,
	}
	if summary.Short() {
		attrs["short"] = "true"
	}
	_, err := p.publish(ctx, p.shiftTopic, msg, attrs)
	return err
}

func (p *PubSubTransactionPublisher) publish(ctx context.Context, topic *pubsub.Topic, payload any, attrs map[string]string) (string, error) {
	if p == nil || topic == nil {
		return "", errors.New("pubsub transaction publisher: not initialised")
	}

	data, err := p.marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal %s: %w", attrs["eventType"], err)
	}

	result := topic.Publish(ctx, &pubsub.Message{
		Data:       data,
		Attributes: dropEmpty(textutil.NormalizeStringMap(attrs)),
	})

	id, err := result.Get(ctx)
	if err != nil {
		return "", fmt.Errorf("publish %s: %w", attrs["eventType"], err)
	}
	return id, nil
}

func dropEmpty(attrs map[string]string) map[string]string {
	for key, value := range attrs {
		if strings.TrimSpace(value) == "" {
			delete(attrs, key)
		}
	}
	return attrs
}
