package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// Status enumerates the normalised authorization states shared across processors.
type Status string

const (
	// StatusAuthorized indicates the card was approved and funds are held for capture.
	StatusAuthorized Status = "authorized"
	// StatusPending indicates the reader is still waiting for the customer to present the card.
	StatusPending Status = "pending"
	// StatusDeclined indicates the issuer refused the charge.
	StatusDeclined Status = "declined"
	// StatusCancelled indicates the authorization was voided.
	StatusCancelled Status = "cancelled"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a processor.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// AuthorizeRequest asks a processor to hold the card leg of a register sale.
type AuthorizeRequest struct {
	StationID string
	Reference string
	// Amount is expressed in minor units.
	Amount         int64
	Currency       string
	IdempotencyKey string
	Metadata       map[string]string
}

// CancelRequest voids a previous authorization.
type CancelRequest struct {
	IntentID       string
	IdempotencyKey string
}

// Authorization normalises processor specific fields for storage.
type Authorization struct {
	Provider string
	IntentID string
	Status   Status
	Amount   int64
	Currency string
	ReaderID string
}

// Processor defines the contract for card processor adapters to implement.
type Processor interface {
	Authorize(ctx context.Context, req AuthorizeRequest) (Authorization, error)
	Cancel(ctx context.Context, req CancelRequest) (Authorization, error)
}

// Manager coordinates processor selection and exposes the card authorizer used by checkout.
type Manager struct {
	providers       map[string]Processor
	defaultProvider string
	stationRoutes   map[string]string
	currency        string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides the processor used for stations without explicit routing.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = provider
	}
}

// WithStationRoutes pins stations to processors, for example a lane with a different terminal.
func WithStationRoutes(routes map[string]string) ManagerOption {
	return func(m *Manager) {
		if len(routes) == 0 {
			return
		}
		if m.stationRoutes == nil {
			m.stationRoutes = make(map[string]string, len(routes))
		}
		for k, v := range routes {
			m.stationRoutes[strings.TrimSpace(k)] = strings.TrimSpace(v)
		}
	}
}

// WithCurrency sets the ISO currency sent with every authorization.
func WithCurrency(currency string) ManagerOption {
	return func(m *Manager) {
		if c := strings.ToLower(strings.TrimSpace(currency)); c != "" {
			m.currency = c
		}
	}
}

// NewManager constructs a Manager over the supplied processors.
func NewManager(providers map[string]Processor, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	copyMap := make(map[string]Processor, len(providers))
	for k, v := range providers {
		key := strings.TrimSpace(strings.ToLower(k))
		if key == "" || v == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", k)
		}
		copyMap[key] = v
	}
	m := &Manager{
		providers: copyMap,
		currency:  "usd",
	}
	if _, ok := copyMap["stripe"]; ok {
		m.defaultProvider = "stripe"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolveProvider(stationID, preferred string) (string, Processor, error) {
	if m == nil {
		return "", nil, errors.New("payments: manager is nil")
	}
	if len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if provider := strings.TrimSpace(strings.ToLower(preferred)); provider != "" {
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
		return "", nil, ErrUnsupportedProvider
	}
	if route, ok := m.stationRoutes[strings.TrimSpace(stationID)]; ok {
		provider := strings.ToLower(route)
		if p, ok := m.providers[provider]; ok {
			return provider, p, nil
		}
	}
	if def := strings.TrimSpace(strings.ToLower(m.defaultProvider)); def != "" {
		if p, ok := m.providers[def]; ok {
			return def, p, nil
		}
	}
	if len(m.providers) == 1 {
		for key, p := range m.providers {
			return key, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// Authorize holds amount on the card presented at the station. The transaction reference doubles
// as the idempotency key so a retried tender never double charges. A declined card is returned
// as an authorization with the declined status.
func (m *Manager) Authorize(ctx context.Context, stationID, reference string, amount decimal.Decimal) (domain.CardAuthorization, error) {
	key, provider, err := m.resolveProvider(stationID, "")
	if err != nil {
		return domain.CardAuthorization{}, err
	}
	auth, err := provider.Authorize(ctx, AuthorizeRequest{
		StationID:      stationID,
		Reference:      reference,
		Amount:         ToMinorUnits(amount),
		Currency:       m.currency,
		IdempotencyKey: "tender-" + reference,
		Metadata: map[string]string{
			"station_id":     stationID,
			"transaction_id": reference,
		},
	})
	if err != nil {
		return domain.CardAuthorization{}, err
	}
	auth.Provider = key
	return toDomainAuthorization(auth), nil
}

// Cancel voids an authorization through the processor that issued it.
func (m *Manager) Cancel(ctx context.Context, auth domain.CardAuthorization) error {
	_, provider, err := m.resolveProvider("", auth.Provider)
	if err != nil {
		return err
	}
	_, err = provider.Cancel(ctx, CancelRequest{
		IntentID:       auth.Reference,
		IdempotencyKey: "cancel-" + auth.Reference,
	})
	return err
}

// ToMinorUnits converts a two-decimal amount to cents.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(2).Round(0).IntPart()
}

func toDomainAuthorization(auth Authorization) domain.CardAuthorization {
	status := domain.CardAuthorized
	switch auth.Status {
	case StatusPending:
		status = domain.CardPending
	case StatusDeclined:
		status = domain.CardDeclined
	case StatusCancelled:
		status = domain.CardCancelled
	}
	return domain.CardAuthorization{
		Provider:  auth.Provider,
		Reference: auth.IntentID,
		Amount:    decimal.New(auth.Amount, -2),
		Status:    status,
	}
}
