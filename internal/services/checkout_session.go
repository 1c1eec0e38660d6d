package services

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// CheckoutSession is the single owner of an in-flight transaction at one station: the cart,
// the age gate, the discount inputs, the tip and the lottery offset. Every change goes through
// its methods so pricing always sees one consistent snapshot. It is not safe for concurrent use.
type CheckoutSession struct {
	stationID  string
	config     domain.PricingConfig
	engine     *PricingEngine
	reconciler PaymentReconciler
	now        func() time.Time

	cart      *Cart
	gate      *AgeVerificationGate
	discount  domain.TransactionDiscount
	promotion domain.PromotionResult
	tip       decimal.Decimal
	lottery   decimal.Decimal
}

// CheckoutSessionDeps configures a session.
type CheckoutSessionDeps struct {
	StationID string
	Config    domain.PricingConfig
	Engine    *PricingEngine
	Now       func() time.Time
}

// NewCheckoutSession returns an empty session.
func NewCheckoutSession(deps CheckoutSessionDeps) *CheckoutSession {
	engine := deps.Engine
	if engine == nil {
		engine = NewPricingEngine(PricingEngineDeps{})
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &CheckoutSession{
		stationID:  deps.StationID,
		config:     deps.Config,
		engine:     engine,
		reconciler: NewPaymentReconciler(),
		now:        func() time.Time { return now().UTC() },
		cart:       NewCart(),
		gate:       NewAgeVerificationGate(),
	}
}

// SessionSnapshot is a consistent read of the session.
type SessionSnapshot struct {
	StationID       string
	Revision        uint64
	Items           []domain.LineItem
	Totals          domain.TotalsResult
	AgeVerification domain.AgeVerificationState
	Discount        domain.TransactionDiscount
}

// AddOutcome reports what happened to an add request.
type AddOutcome struct {
	Admitted            bool
	PendingVerification bool
	Revision            uint64
}

// TenderRequest describes how the customer pays.
type TenderRequest struct {
	Method       domain.TenderMethod
	Amount       decimal.Decimal
	CashReceived decimal.Decimal
	CashPortion  decimal.Decimal
}

// StationID returns the register this session belongs to.
func (s *CheckoutSession) StationID() string {
	return s.stationID
}

// Empty reports whether the cart has no lines.
func (s *CheckoutSession) Empty() bool {
	return s.cart.Len() == 0
}

// Revision returns the current cart revision.
func (s *CheckoutSession) Revision() uint64 {
	return s.cart.Revision()
}

// Config returns the pricing configuration in use.
func (s *CheckoutSession) Config() domain.PricingConfig {
	return s.config
}

// SetConfig replaces the pricing configuration, for example after the store toggles dual pricing.
func (s *CheckoutSession) SetConfig(cfg domain.PricingConfig) {
	s.config = cfg
}

// Totals prices the current state. A promotion amount is only used when it was computed for the
// current cart revision.
func (s *CheckoutSession) Totals(ctx context.Context) domain.TotalsResult {
	promotion := domain.PromotionResult{}
	if s.promotion.Revision == s.cart.Revision() {
		promotion = s.promotion
	}
	return s.engine.Calculate(ctx, PriceCommand{
		Items:               s.cart.Items(),
		Config:              s.config,
		TransactionDiscount: s.discount,
		Promotion:           promotion,
		Tip:                 s.tip,
		LotteryOffset:       s.lottery,
	})
}

// Snapshot returns items, totals and gate state read at the same instant.
func (s *CheckoutSession) Snapshot(ctx context.Context) SessionSnapshot {
	return SessionSnapshot{
		StationID:       s.stationID,
		Revision:        s.cart.Revision(),
		Items:           s.cart.Items(),
		Totals:          s.Totals(ctx),
		AgeVerification: s.gate.State(),
		Discount:        s.discount,
	}
}

// AddItem offers an item to the cart. Age-restricted items park in the gate until resolved.
func (s *CheckoutSession) AddItem(item domain.LineItem, qty int) (AddOutcome, error) {
	admitted, err := s.gate.Admit(item, qty)
	if err != nil {
		return AddOutcome{Revision: s.cart.Revision()}, err
	}
	if !admitted {
		return AddOutcome{PendingVerification: true, Revision: s.cart.Revision()}, nil
	}
	s.cart.AddItem(item, qty)
	return AddOutcome{Admitted: true, Revision: s.cart.Revision()}, nil
}

// ConfirmAge records a checked ID and admits the pending item.
func (s *CheckoutSession) ConfirmAge() (AddOutcome, error) {
	item, qty, err := s.gate.Confirm()
	if err != nil {
		return AddOutcome{Revision: s.cart.Revision()}, err
	}
	s.cart.AddItem(item, qty)
	return AddOutcome{Admitted: true, Revision: s.cart.Revision()}, nil
}

// SkipAge admits the pending item without an ID check.
func (s *CheckoutSession) SkipAge() (AddOutcome, error) {
	item, qty, err := s.gate.Skip()
	if err != nil {
		return AddOutcome{Revision: s.cart.Revision()}, err
	}
	s.cart.AddItem(item, qty)
	return AddOutcome{Admitted: true, Revision: s.cart.Revision()}, nil
}

// CancelAge drops the pending item.
func (s *CheckoutSession) CancelAge() error {
	return s.gate.Cancel()
}

// RemoveItem drops a line.
func (s *CheckoutSession) RemoveItem(index int) {
	s.cart.RemoveItem(index)
}

// SetQuantity changes a line quantity; below one removes the line.
func (s *CheckoutSession) SetQuantity(index, qty int) {
	s.cart.SetQuantity(index, qty)
}

// SetItemDiscountPercent sets a per-line discount.
func (s *CheckoutSession) SetItemDiscountPercent(index int, pct decimal.Decimal) {
	s.cart.SetItemDiscountPercent(index, pct)
}

// SetItemPrice overrides a line price.
func (s *CheckoutSession) SetItemPrice(index int, price decimal.Decimal) {
	s.cart.SetItemPrice(index, price)
}

// SetTransactionDiscount replaces the whole-cart discount.
func (s *CheckoutSession) SetTransactionDiscount(discount domain.TransactionDiscount) error {
	switch discount.Kind {
	case domain.DiscountPercent:
		if discount.Value.GreaterThan(decimal.NewFromInt(100)) {
			return validationError("discount.value", "percentage must not exceed 100")
		}
	case domain.DiscountAmount:
	default:
		return validationError("discount.kind", fmt.Sprintf("unsupported discount kind %q", discount.Kind))
	}
	if discount.Value.IsNegative() {
		return validationError("discount.value", "must not be negative")
	}
	s.discount = discount
	return nil
}

// ClearTransactionDiscount removes the whole-cart discount.
func (s *CheckoutSession) ClearTransactionDiscount() {
	s.discount = domain.TransactionDiscount{}
}

// SetTip sets the tip added on top of the charged total.
func (s *CheckoutSession) SetTip(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return validationError("tip", "must not be negative")
	}
	s.tip = domain.Round2(amount)
	return nil
}

// AddLotteryPayout accumulates a lottery winnings payout that offsets what the customer pays.
func (s *CheckoutSession) AddLotteryPayout(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return validationError("lotteryPayout", "must be greater than zero")
	}
	s.lottery = domain.Round2(s.lottery.Add(amount))
	return nil
}

// ClearLotteryPayout removes any lottery offset.
func (s *CheckoutSession) ClearLotteryPayout() {
	s.lottery = decimal.Zero
}

// PromotionRequest snapshots the cart for an asynchronous promotion lookup.
func (s *CheckoutSession) PromotionRequest() PromotionRequest {
	return PromotionRequest{
		StationID: s.stationID,
		Revision:  s.cart.Revision(),
		Items:     s.cart.Items(),
	}
}

// ApplyPromotion installs a promotion result. Results computed for another cart revision are
// rejected with ErrStaleResult and leave the session unchanged.
func (s *CheckoutSession) ApplyPromotion(result domain.PromotionResult) error {
	if result.Revision != s.cart.Revision() {
		return fmt.Errorf("%w: promotion for revision %d, cart at %d", ErrStaleResult, result.Revision, s.cart.Revision())
	}
	result.Amount = domain.NonNegative(result.Amount)
	result.Applied = append([]string(nil), result.Applied...)
	s.promotion = result
	return nil
}

// Finalize reconciles the tender and builds the transaction record. The session is left intact
// so a failed hand-off can be retried; call Complete once the record is stored.
func (s *CheckoutSession) Finalize(ctx context.Context, req TenderRequest) (domain.TransactionRecord, error) {
	if s.cart.Len() == 0 {
		return domain.TransactionRecord{}, validationError("cart", "is empty")
	}
	state := s.gate.State()
	if state.Status == domain.AgePending {
		return domain.TransactionRecord{}, validationError("ageVerification", "an item is awaiting age verification")
	}

	totals := s.Totals(ctx)
	var (
		outcome domain.PaymentOutcome
		err     error
	)
	switch req.Method {
	case domain.TenderCash:
		outcome, err = s.reconciler.Cash(totals, req.CashReceived)
	case domain.TenderCard:
		amount := req.Amount
		if amount.IsZero() {
			amount = totals.AmountDueCard()
		}
		outcome, err = s.reconciler.Card(totals, amount)
	case domain.TenderMethodSplit:
		outcome, err = s.reconciler.Split(totals, req.CashPortion, req.CashReceived)
	default:
		err = validationError("method", fmt.Sprintf("unsupported tender method %q", req.Method))
	}
	if err != nil {
		return domain.TransactionRecord{}, err
	}

	return domain.TransactionRecord{
		ID:              ulid.Make().String(),
		StationID:       s.stationID,
		Items:           s.cart.Items(),
		Totals:          totals,
		Discount:        s.discount,
		Payment:         outcome,
		AgeVerification: state.Status,
		CompletedAt:     s.now(),
	}, nil
}

// Complete clears the session after a successful hand-off.
func (s *CheckoutSession) Complete() {
	s.reset()
}

// Void abandons the transaction.
func (s *CheckoutSession) Void() {
	s.reset()
}

// Hold parks the transaction and clears the session.
func (s *CheckoutSession) Hold() (domain.HeldTransaction, error) {
	if s.cart.Len() == 0 {
		return domain.HeldTransaction{}, validationError("cart", "is empty")
	}
	held := domain.HeldTransaction{
		ID:        ulid.Make().String(),
		StationID: s.stationID,
		Items:     s.cart.Items(),
		Discount:  s.discount,
		Tip:       s.tip,
		Lottery:   s.lottery,
		HeldAt:    s.now(),
	}
	s.reset()
	return held, nil
}

// Recall restores a held transaction into an empty session.
func (s *CheckoutSession) Recall(held domain.HeldTransaction) error {
	if s.cart.Len() > 0 {
		return validationError("cart", "must be empty to recall a held transaction")
	}
	s.reset()
	s.cart.Replace(held.Items)
	s.discount = held.Discount
	s.tip = held.Tip
	s.lottery = held.Lottery
	return nil
}

func (s *CheckoutSession) reset() {
	s.cart.Clear()
	s.gate.Reset()
	s.discount = domain.TransactionDiscount{}
	s.promotion = domain.PromotionResult{}
	s.tip = decimal.Zero
	s.lottery = decimal.Zero
}
