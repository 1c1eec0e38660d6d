package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

// StripeLogger defines the logging contract for Stripe processor operations.
type StripeLogger func(ctx context.Context, event string, fields map[string]any)

const (
	defaultConfirmTimeout = 15 * time.Second
	defaultPollInterval   = time.Second
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Cancel(id string, params *stripe.PaymentIntentCancelParams) (*stripe.PaymentIntent, error)
}

type stripeReaderAPI interface {
	ProcessPaymentIntent(id string, params *stripe.TerminalReaderProcessPaymentIntentParams) (*stripe.TerminalReader, error)
}

type stripeClients struct {
	intents stripePaymentIntentAPI
	readers stripeReaderAPI
}

// StripeTerminalConfig configures the StripeTerminalProcessor.
type StripeTerminalConfig struct {
	APIKey         string
	AccountID      string
	// Readers maps station ids to Stripe Terminal reader ids. Stations without a reader only get
	// the payment intent created; the register app collects the card itself.
	Readers        map[string]string
	// ConfirmTimeout bounds how long Authorize waits for the card to be presented.
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	Backends       *stripe.Backends
	Logger         StripeLogger
	Clients        *stripeClients
}

// StripeTerminalProcessor authorizes card-present payments through Stripe Terminal.
type StripeTerminalProcessor struct {
	api            stripeClients
	account        string
	readers        map[string]string
	confirmTimeout time.Duration
	pollInterval   time.Duration
	logger         StripeLogger
}

// NewStripeTerminalProcessor constructs a Stripe processor using the given configuration.
func NewStripeTerminalProcessor(cfg StripeTerminalConfig) (*StripeTerminalProcessor, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Clients == nil {
		return nil, errors.New("stripe: api key is required")
	}

	var clients stripeClients
	if cfg.Clients != nil {
		clients = *cfg.Clients
	} else {
		sc := client.New(apiKey, cfg.Backends)
		clients = stripeClients{
			intents: sc.PaymentIntents,
			readers: sc.TerminalReaders,
		}
	}
	if clients.intents == nil {
		return nil, errors.New("stripe: incomplete client configuration")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	readers := make(map[string]string, len(cfg.Readers))
	for station, reader := range cfg.Readers {
		if s, r := strings.TrimSpace(station), strings.TrimSpace(reader); s != "" && r != "" {
			readers[s] = r
		}
	}

	confirmTimeout := cfg.ConfirmTimeout
	if confirmTimeout <= 0 {
		confirmTimeout = defaultConfirmTimeout
	}
	pollInterval := cfg.PollInterval
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &StripeTerminalProcessor{
		api:            clients,
		account:        strings.TrimSpace(cfg.AccountID),
		readers:        readers,
		confirmTimeout: confirmTimeout,
		pollInterval:   pollInterval,
		logger:         logger,
	}, nil
}

// Authorize creates a manual-capture card_present PaymentIntent and, when the station has a
// reader, hands it to the reader. It then waits up to the confirm timeout for the intent to
// leave the collecting state; an intent still collecting at the deadline is returned as pending.
// Card errors come back as a declined authorization.
func (p *StripeTerminalProcessor) Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error) {
	if p == nil {
		return Authorization{}, errors.New("stripe: processor is nil")
	}
	if req.Amount <= 0 {
		return Authorization{}, errors.New("stripe: amount must be positive")
	}
	currency := strings.ToLower(defaultString(req.Currency, "usd"))

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.Amount),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card_present"}),
		CaptureMethod:      stripe.String(string(stripe.PaymentIntentCaptureMethodManual)),
	}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if req.Reference != "" {
		params.Description = stripe.String("Register sale " + req.Reference)
	}
	if len(req.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(req.Metadata))
		for k, v := range req.Metadata {
			params.Metadata[k] = v
		}
	}

	intent, err := p.api.intents.New(params)
	if err != nil {
		if declined, ok := declinedAuthorization(err, req, currency); ok {
			p.logger(ctx, "payments.stripe.intent.declined", map[string]any{
				"stationID": req.StationID,
				"reference": req.Reference,
			})
			return declined, nil
		}
		return Authorization{}, fmt.Errorf("stripe: create payment intent: %w", err)
	}

	auth := stripeAuthorization(intent)
	reader := p.readers[req.StationID]
	if reader != "" && p.api.readers != nil {
		readerParams := &stripe.TerminalReaderProcessPaymentIntentParams{
			PaymentIntent: stripe.String(intent.ID),
		}
		readerParams.Context = ctx
		if p.account != "" {
			readerParams.SetStripeAccount(p.account)
		}
		if _, err := p.api.readers.ProcessPaymentIntent(reader, readerParams); err != nil {
			if declined, ok := declinedAuthorization(err, req, currency); ok {
				declined.IntentID = intent.ID
				declined.ReaderID = reader
				return declined, nil
			}
			return Authorization{}, fmt.Errorf("stripe: process payment intent on reader: %w", err)
		}
	}

	p.logger(ctx, "payments.stripe.intent.created", map[string]any{
		"paymentIntent": intent.ID,
		"stationID":     req.StationID,
		"status":        intent.Status,
		"reader":        reader,
	})
	if auth.Status == StatusPending {
		auth, err = p.awaitConfirmation(ctx, auth)
		if err != nil {
			p.voidIntent(context.WithoutCancel(ctx), intent.ID)
			return Authorization{}, err
		}
	}
	if reader != "" && p.api.readers != nil {
		auth.ReaderID = reader
	}
	return auth, nil
}

func (p *StripeTerminalProcessor) awaitConfirmation(ctx context.Context, last Authorization) (Authorization, error) {
	ctx, cancel := context.WithTimeout(ctx, p.confirmTimeout)
	defer cancel()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger(ctx, "payments.stripe.intent.unconfirmed", map[string]any{
				"paymentIntent": last.IntentID,
			})
			return last, nil
		case <-ticker.C:
		}

		params := &stripe.PaymentIntentParams{}
		params.Context = ctx
		if p.account != "" {
			params.SetStripeAccount(p.account)
		}
		intent, err := p.api.intents.Get(last.IntentID, params)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			return Authorization{}, fmt.Errorf("stripe: poll payment intent: %w", err)
		}
		last = stripeAuthorization(intent)
		if last.Status != StatusPending {
			return last, nil
		}
	}
}

func (p *StripeTerminalProcessor) voidIntent(ctx context.Context, intentID string) {
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	if _, err := p.api.intents.Cancel(intentID, params); err != nil {
		p.logger(ctx, "payments.stripe.intent.cancel_failed", map[string]any{
			"paymentIntent": intentID,
			"error":         err,
		})
	}
}

// Cancel voids an uncaptured PaymentIntent.
func (p *StripeTerminalProcessor) Cancel(ctx context.Context, req CancelRequest) (Authorization, error) {
	if p == nil {
		return Authorization{}, errors.New("stripe: processor is nil")
	}
	if strings.TrimSpace(req.IntentID) == "" {
		return Authorization{}, errors.New("stripe: intent id is required")
	}
	params := &stripe.PaymentIntentCancelParams{}
	params.Context = ctx
	if key := strings.TrimSpace(req.IdempotencyKey); key != "" {
		params.SetIdempotencyKey(key)
	}
	if p.account != "" {
		params.SetStripeAccount(p.account)
	}
	intent, err := p.api.intents.Cancel(req.IntentID, params)
	if err != nil {
		return Authorization{}, fmt.Errorf("stripe: cancel payment intent: %w", err)
	}
	p.logger(ctx, "payments.stripe.intent.cancelled", map[string]any{
		"paymentIntent": intent.ID,
	})
	return stripeAuthorization(intent), nil
}

func stripeAuthorization(intent *stripe.PaymentIntent) Authorization {
	if intent == nil {
		return Authorization{}
	}
	status := StatusPending
	switch intent.Status {
	case stripe.PaymentIntentStatusRequiresCapture, stripe.PaymentIntentStatusSucceeded:
		status = StatusAuthorized
	case stripe.PaymentIntentStatusCanceled:
		status = StatusCancelled
	case stripe.PaymentIntentStatusRequiresPaymentMethod:
		// The reader reports a refused card by sending the intent back for a new payment method.
		if intent.LastPaymentError != nil {
			status = StatusDeclined
		}
	}
	return Authorization{
		Provider: "stripe",
		IntentID: intent.ID,
		Status:   status,
		Amount:   intent.Amount,
		Currency: strings.ToUpper(string(intent.Currency)),
	}
}

func declinedAuthorization(err error, req AuthorizeRequest, currency string) (Authorization, bool) {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Type != stripe.ErrorTypeCard {
		return Authorization{}, false
	}
	return Authorization{
		Provider: "stripe",
		Status:   StatusDeclined,
		Amount:   req.Amount,
		Currency: strings.ToUpper(currency),
	}, true
}

func defaultString(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}
