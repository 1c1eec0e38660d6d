package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/textutil"
	"github.com/tillpoint/api/internal/repositories"
)

const (
	defaultPromotionTimeout = 3 * time.Second
	maxItemNameLength       = 80
)

// AgeDecision is the cashier's answer to an age verification prompt.
type AgeDecision string

const (
	AgeDecisionConfirm AgeDecision = "confirm"
	AgeDecisionSkip    AgeDecision = "skip"
	AgeDecisionCancel  AgeDecision = "cancel"
)

// ScanItemCommand looks a barcode or SKU up in the catalog and adds the product.
type ScanItemCommand struct {
	StationID string
	Code      string
	Quantity  int
}

// ScanResult reports a scan. When Variants is non-empty the product is sold by the case and
// nothing was added; the caller picks a variant and calls AddCaseBreak.
type ScanResult struct {
	Product  domain.Product
	Variants []CaseBreakVariant
	AddResult
}

// AddCaseBreakCommand adds one sale unit of a case-break product.
type AddCaseBreakCommand struct {
	StationID string
	ProductID string
	Variant   domain.CaseBreakVariantKind
	Quantity  int
}

// AddItemCommand adds a line that is not looked up in the catalog: a quick-add item or a
// lottery ticket sale.
type AddItemCommand struct {
	StationID       string
	Kind            domain.ItemKind
	Name            string
	UnitPrice       decimal.Decimal
	Quantity        int
	Barcode         string
	TaxRate         *decimal.Decimal
	MinimumAge      int
	BenefitEligible bool
	GameName        string
}

// UpdateItemCommand edits one line. Nil fields are left unchanged.
type UpdateItemCommand struct {
	StationID       string
	Index           int
	Quantity        *int
	DiscountPercent *decimal.Decimal
	UnitPrice       *decimal.Decimal
}

// AddResult pairs the outcome of an add with the session state after it.
type AddResult struct {
	Outcome  AddOutcome
	Snapshot SessionSnapshot
}

// TenderCommand pays the in-flight transaction of a station.
type TenderCommand struct {
	StationID string
	Request   TenderRequest
}

// TenderReceipt is returned once a transaction has been stored.
type TenderReceipt struct {
	Record   TransactionRecord
	Snapshot SessionSnapshot
}

// CheckoutServiceDeps wires the dependencies required by the checkout service.
type CheckoutServiceDeps struct {
	Pricing          domain.PricingConfig
	Stations         *StationRegistry
	Products         repositories.ProductRepository
	Transactions     repositories.TransactionRepository
	Shifts           repositories.ShiftRepository
	Held             repositories.HeldTransactionRepository
	Promotions       PromotionEvaluator
	Cards            CardAuthorizer
	Publisher        TransactionEventPublisher
	Metrics          CheckoutMetrics
	Clock            func() time.Time
	Logger           func(ctx context.Context, event string, fields map[string]any)
	Dispatch         func(func())
	PromotionTimeout time.Duration
}

type checkoutService struct {
	stations         *StationRegistry
	products         repositories.ProductRepository
	transactions     repositories.TransactionRepository
	shifts           repositories.ShiftRepository
	held             repositories.HeldTransactionRepository
	promotions       PromotionEvaluator
	cards            CardAuthorizer
	publisher        TransactionEventPublisher
	metrics          CheckoutMetrics
	now              func() time.Time
	logger           func(ctx context.Context, event string, fields map[string]any)
	dispatch         func(func())
	promotionTimeout time.Duration
}

// NewCheckoutService constructs a CheckoutService validating required dependencies.
func NewCheckoutService(deps CheckoutServiceDeps) (CheckoutService, error) {
	if deps.Products == nil {
		return nil, errors.New("checkout service: product repository is required")
	}
	if deps.Transactions == nil {
		return nil, errors.New("checkout service: transaction repository is required")
	}
	if deps.Shifts == nil {
		return nil, errors.New("checkout service: shift repository is required")
	}
	if deps.Held == nil {
		return nil, errors.New("checkout service: held transaction repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	now := func() time.Time { return clock().UTC() }

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = noopMetrics{}
	}
	dispatch := deps.Dispatch
	if dispatch == nil {
		dispatch = func(fn func()) { go fn() }
	}
	timeout := deps.PromotionTimeout
	if timeout <= 0 {
		timeout = defaultPromotionTimeout
	}

	stations := deps.Stations
	if stations == nil {
		engine := NewPricingEngine(PricingEngineDeps{Logger: logger})
		pricing := deps.Pricing
		stations = NewStationRegistry(func(stationID string) *CheckoutSession {
			return NewCheckoutSession(CheckoutSessionDeps{
				StationID: stationID,
				Config:    pricing,
				Engine:    engine,
				Now:       now,
			})
		})
	}

	return &checkoutService{
		stations:         stations,
		products:         deps.Products,
		transactions:     deps.Transactions,
		shifts:           deps.Shifts,
		held:             deps.Held,
		promotions:       deps.Promotions,
		cards:            deps.Cards,
		publisher:        deps.Publisher,
		metrics:          metrics,
		now:              now,
		logger:           logger,
		dispatch:         dispatch,
		promotionTimeout: timeout,
	}, nil
}

func (s *checkoutService) Snapshot(ctx context.Context, stationID string) (SessionSnapshot, error) {
	var snap SessionSnapshot
	err := s.stations.withStation(stationID, func(session *CheckoutSession) error {
		snap = session.Snapshot(ctx)
		return nil
	})
	return snap, err
}

// ScanItem resolves a code against the catalog. Unknown codes return ErrProductNotFound so the
// register can offer a quick-add instead.
func (s *checkoutService) ScanItem(ctx context.Context, cmd ScanItemCommand) (ScanResult, error) {
	stationID, err := requireStation(cmd.StationID)
	if err != nil {
		return ScanResult{}, err
	}
	code := strings.TrimSpace(cmd.Code)
	if code == "" {
		return ScanResult{}, validationError("code", "is required")
	}

	product, err := s.products.FindByCode(ctx, code)
	if err != nil {
		return ScanResult{}, s.translateProductError(ctx, err, code)
	}

	if product.CaseBreak {
		snap, err := s.Snapshot(ctx, stationID)
		if err != nil {
			return ScanResult{}, err
		}
		return ScanResult{
			Product:   product,
			Variants:  ResolveCaseBreak(CaseBreakProductFrom(product)),
			AddResult: AddResult{Outcome: AddOutcome{Revision: snap.Revision}, Snapshot: snap},
		}, nil
	}

	result, err := s.add(ctx, stationID, catalogLineItem(product), cmd.Quantity)
	if err != nil {
		return ScanResult{}, err
	}
	return ScanResult{Product: product, AddResult: result}, nil
}

func (s *checkoutService) AddCaseBreak(ctx context.Context, cmd AddCaseBreakCommand) (AddResult, error) {
	stationID, err := requireStation(cmd.StationID)
	if err != nil {
		return AddResult{}, err
	}
	productID := strings.TrimSpace(cmd.ProductID)
	if productID == "" {
		return AddResult{}, validationError("productId", "is required")
	}

	product, err := s.products.FindByID(ctx, productID)
	if err != nil {
		return AddResult{}, s.translateProductError(ctx, err, productID)
	}
	if !product.CaseBreak {
		return AddResult{}, validationError("productId", "is not sold by the case")
	}
	caseProduct := CaseBreakProductFrom(product)
	variant, err := FindCaseBreakVariant(caseProduct, cmd.Variant)
	if err != nil {
		return AddResult{}, err
	}
	return s.add(ctx, stationID, variant.LineItem(caseProduct), cmd.Quantity)
}

// AddItem adds a quick-add or lottery line. Neither kind merges with existing lines.
func (s *checkoutService) AddItem(ctx context.Context, cmd AddItemCommand) (AddResult, error) {
	stationID, err := requireStation(cmd.StationID)
	if err != nil {
		return AddResult{}, err
	}
	if cmd.UnitPrice.IsNegative() {
		return AddResult{}, validationError("unitPrice", "must not be negative")
	}

	item := domain.LineItem{
		ID:              ulid.Make().String(),
		Name:            textutil.CleanLabel(cmd.Name, maxItemNameLength),
		UnitPrice:       domain.Round2(cmd.UnitPrice),
		TaxRate:         cmd.TaxRate,
		BenefitEligible: cmd.BenefitEligible,
	}
	if cmd.MinimumAge > 0 {
		item.AgeRestriction = &domain.AgeRestriction{MinimumAge: cmd.MinimumAge}
	}

	switch cmd.Kind {
	case domain.ItemKindQuickAdd, "":
		if item.Name == "" {
			return AddResult{}, validationError("name", "is required")
		}
		item.Detail = domain.QuickAddDetail{Barcode: strings.TrimSpace(cmd.Barcode)}
	case domain.ItemKindLottery:
		game := textutil.CleanLabel(cmd.GameName, maxItemNameLength)
		if game == "" {
			game = item.Name
		}
		if game == "" {
			return AddResult{}, validationError("gameName", "is required")
		}
		if item.Name == "" {
			item.Name = "Lottery: " + game
		}
		if item.TaxRate == nil {
			untaxed := decimal.Zero
			item.TaxRate = &untaxed
		}
		tickets := cmd.Quantity
		if tickets < 1 {
			tickets = 1
		}
		item.Detail = domain.LotteryDetail{GameName: game, TicketCount: tickets}
	default:
		return AddResult{}, validationError("kind", fmt.Sprintf("unsupported item kind %q", cmd.Kind))
	}
	return s.add(ctx, stationID, item, cmd.Quantity)
}

func (s *checkoutService) UpdateItem(ctx context.Context, cmd UpdateItemCommand) (SessionSnapshot, error) {
	if cmd.Quantity == nil && cmd.DiscountPercent == nil && cmd.UnitPrice == nil {
		return SessionSnapshot{}, validationError("item", "no changes supplied")
	}
	return s.mutate(ctx, cmd.StationID, func(session *CheckoutSession) error {
		if cmd.UnitPrice != nil {
			session.SetItemPrice(cmd.Index, *cmd.UnitPrice)
		}
		if cmd.DiscountPercent != nil {
			session.SetItemDiscountPercent(cmd.Index, *cmd.DiscountPercent)
		}
		if cmd.Quantity != nil {
			session.SetQuantity(cmd.Index, *cmd.Quantity)
		}
		return nil
	})
}

func (s *checkoutService) RemoveItem(ctx context.Context, stationID string, index int) (SessionSnapshot, error) {
	return s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		session.RemoveItem(index)
		return nil
	})
}

func (s *checkoutService) ResolveAgeVerification(ctx context.Context, stationID string, decision AgeDecision) (AddResult, error) {
	var outcome AddOutcome
	snap, err := s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		var err error
		switch decision {
		case AgeDecisionConfirm:
			outcome, err = session.ConfirmAge()
		case AgeDecisionSkip:
			outcome, err = session.SkipAge()
		case AgeDecisionCancel:
			err = session.CancelAge()
			outcome = AddOutcome{Revision: session.Revision()}
		default:
			err = validationError("decision", fmt.Sprintf("unsupported decision %q", decision))
		}
		return err
	})
	if err != nil {
		return AddResult{}, err
	}
	s.logger(ctx, "checkout.age_verification", map[string]any{
		"stationID": snap.StationID,
		"decision":  string(decision),
	})
	return AddResult{Outcome: outcome, Snapshot: snap}, nil
}

// SetDiscount replaces the transaction discount; nil clears it.
func (s *checkoutService) SetDiscount(ctx context.Context, stationID string, discount *domain.TransactionDiscount) (SessionSnapshot, error) {
	return s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		if discount == nil || discount.IsZero() {
			session.ClearTransactionDiscount()
			return nil
		}
		return session.SetTransactionDiscount(*discount)
	})
}

func (s *checkoutService) SetTip(ctx context.Context, stationID string, amount decimal.Decimal) (SessionSnapshot, error) {
	return s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		return session.SetTip(amount)
	})
}

func (s *checkoutService) AddLotteryPayout(ctx context.Context, stationID string, amount decimal.Decimal) (SessionSnapshot, error) {
	return s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		return session.AddLotteryPayout(amount)
	})
}

// Tender pays the transaction and hands the record to persistence. The station must have an open
// shift. The session is only cleared once the record is stored; a persistence failure is
// returned unmodified and leaves the cart in place for another attempt.
func (s *checkoutService) Tender(ctx context.Context, cmd TenderCommand) (receipt TenderReceipt, err error) {
	ctx, span := startSpan(ctx, "checkout.tender", cmd.StationID)
	defer func() { endSpan(span, err) }()

	err = s.stations.withStation(cmd.StationID, func(session *CheckoutSession) error {
		shift, err := s.shifts.FindOpenByStation(ctx, session.StationID())
		if err != nil {
			return s.translateShiftLookup(ctx, err, session.StationID())
		}

		record, err := session.Finalize(ctx, cmd.Request)
		if err != nil {
			return err
		}
		record.ShiftID = shift.ID

		if card := record.Payment.CardCharged(); card.IsPositive() && s.cards != nil {
			auth, err := s.cards.Authorize(ctx, record.StationID, record.ID, card)
			if err != nil {
				s.logger(ctx, "checkout.card_authorization_failed", map[string]any{
					"stationID":     record.StationID,
					"transactionID": record.ID,
					"error":         err,
				})
				return fmt.Errorf("%w: card authorization: %v", ErrExternalUnavailable, err)
			}
			switch auth.Status {
			case domain.CardAuthorized:
			case domain.CardDeclined:
				return validationError("card", "was declined")
			case domain.CardCancelled:
				return validationError("card", "was cancelled")
			default:
				// Holds that never reached capture are voided before rejecting.
				s.cancelAuthorization(ctx, auth)
				return validationError("card", "was not authorized")
			}
			record.CardAuthorization = &auth
		}

		if err := s.transactions.Insert(ctx, record); err != nil {
			s.logger(ctx, "checkout.persist_failed", map[string]any{
				"stationID":     record.StationID,
				"transactionID": record.ID,
				"error":         err,
			})
			if record.CardAuthorization != nil {
				s.cancelAuthorization(ctx, *record.CardAuthorization)
			}
			return err
		}

		s.recordCashSale(ctx, shift, record)
		session.Complete()
		receipt = TenderReceipt{Record: record, Snapshot: session.Snapshot(ctx)}
		return nil
	})
	if err != nil {
		return TenderReceipt{}, err
	}

	record := receipt.Record
	if s.publisher != nil {
		if err := s.publisher.PublishTransactionCompleted(ctx, record); err != nil {
			s.logger(ctx, "checkout.publish_failed", map[string]any{
				"transactionID": record.ID,
				"error":         err,
			})
		}
	}
	amount, _ := record.Payment.AmountDue.Float64()
	s.metrics.TenderCompleted(ctx, string(record.Payment.Method), amount)
	s.logger(ctx, "checkout.tendered", map[string]any{
		"stationID":     record.StationID,
		"transactionID": record.ID,
		"method":        string(record.Payment.Method),
		"amountDue":     record.Payment.AmountDue.StringFixed(2),
	})
	return receipt, nil
}

func (s *checkoutService) Void(ctx context.Context, stationID string) (SessionSnapshot, error) {
	snap, err := s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		session.Void()
		return nil
	})
	if err == nil {
		s.logger(ctx, "checkout.voided", map[string]any{"stationID": snap.StationID})
	}
	return snap, err
}

// Hold parks the cart. If the hold cannot be stored the cart is restored.
func (s *checkoutService) Hold(ctx context.Context, stationID string) (HeldTransaction, error) {
	var held HeldTransaction
	err := s.stations.withStation(stationID, func(session *CheckoutSession) error {
		var err error
		held, err = session.Hold()
		if err != nil {
			return err
		}
		if err := s.held.Insert(ctx, held); err != nil {
			s.logger(ctx, "checkout.hold_failed", map[string]any{
				"stationID": held.StationID,
				"error":     err,
			})
			if restoreErr := session.Recall(held); restoreErr != nil {
				return errors.Join(err, restoreErr)
			}
			return err
		}
		return nil
	})
	if err != nil {
		return HeldTransaction{}, err
	}
	return held, nil
}

// Recall restores a held cart into the station's empty session. Holds belong to the station
// that parked them.
func (s *checkoutService) Recall(ctx context.Context, stationID, holdID string) (SessionSnapshot, error) {
	holdID = strings.TrimSpace(holdID)
	if holdID == "" {
		return SessionSnapshot{}, validationError("holdId", "is required")
	}
	return s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		if !session.Empty() {
			return validationError("cart", "must be empty to recall a held transaction")
		}
		held, err := s.held.Take(ctx, session.StationID(), holdID)
		if err != nil {
			var repoErr repositories.RepositoryError
			if errors.As(err, &repoErr) && repoErr.IsNotFound() {
				return fmt.Errorf("%w: %s", ErrHeldTransactionNotFound, holdID)
			}
			return err
		}
		return session.Recall(held)
	})
}

func (s *checkoutService) ListHeld(ctx context.Context, stationID string) ([]HeldTransaction, error) {
	stationID, err := requireStation(stationID)
	if err != nil {
		return nil, err
	}
	return s.held.ListByStation(ctx, stationID)
}

func (s *checkoutService) add(ctx context.Context, stationID string, item domain.LineItem, qty int) (AddResult, error) {
	var outcome AddOutcome
	snap, err := s.mutate(ctx, stationID, func(session *CheckoutSession) error {
		var err error
		outcome, err = session.AddItem(item, qty)
		return err
	})
	if err != nil {
		return AddResult{}, err
	}
	return AddResult{Outcome: outcome, Snapshot: snap}, nil
}

// mutate applies fn under the station lock and, when the cart revision moved, asks for a fresh
// promotion once the lock is released.
func (s *checkoutService) mutate(ctx context.Context, stationID string, fn func(session *CheckoutSession) error) (_ SessionSnapshot, err error) {
	ctx, span := startSpan(ctx, "checkout.reprice", stationID)
	defer func() { endSpan(span, err) }()

	var (
		snap    SessionSnapshot
		req     PromotionRequest
		changed bool
	)
	err = s.stations.withStation(stationID, func(session *CheckoutSession) error {
		before := session.Revision()
		if err := fn(session); err != nil {
			return err
		}
		changed = session.Revision() != before
		req = session.PromotionRequest()
		snap = session.Snapshot(ctx)
		return nil
	})
	if err != nil {
		return SessionSnapshot{}, err
	}
	s.metrics.PricingRecalculated(ctx, snap.StationID)
	if changed {
		s.requestPromotion(ctx, req)
	}
	return snap, nil
}

// requestPromotion evaluates promotions in the background. The answer is tagged with the
// revision it was computed for and dropped if the cart has moved on by the time it arrives.
func (s *checkoutService) requestPromotion(ctx context.Context, req PromotionRequest) {
	if s.promotions == nil || len(req.Items) == 0 {
		return
	}
	detached := context.WithoutCancel(ctx)
	s.dispatch(func() {
		lookupCtx, cancel := context.WithTimeout(detached, s.promotionTimeout)
		defer cancel()

		started := time.Now()
		result, err := s.promotions.Evaluate(lookupCtx, req)
		s.metrics.PromotionLookup(detached, time.Since(started), err == nil)
		if err != nil {
			s.logger(detached, "checkout.promotion_lookup_failed", map[string]any{
				"stationID": req.StationID,
				"revision":  req.Revision,
				"error":     err,
			})
			s.metrics.PromotionDropped(detached, req.StationID, "error")
			return
		}
		result.Revision = req.Revision

		err = s.stations.withStation(req.StationID, func(session *CheckoutSession) error {
			return session.ApplyPromotion(result)
		})
		if errors.Is(err, ErrStaleResult) {
			s.logger(detached, "checkout.promotion_stale", map[string]any{
				"stationID": req.StationID,
				"revision":  req.Revision,
			})
			s.metrics.PromotionDropped(detached, req.StationID, "stale")
		}
	})
}

func (s *checkoutService) recordCashSale(ctx context.Context, shift domain.ShiftSession, record TransactionRecord) {
	if record.Payment.Method == domain.TenderCard {
		return
	}
	drawer := ResumeShift(shift, s.now)
	if err := drawer.RecordCashSale(record.Payment.CashCollected()); err != nil {
		s.logger(ctx, "checkout.drawer_update_failed", map[string]any{
			"shiftID": shift.ID,
			"error":   err,
		})
		return
	}
	if err := s.shifts.Save(ctx, drawer.Session()); err != nil {
		s.logger(ctx, "checkout.drawer_update_failed", map[string]any{
			"shiftID": shift.ID,
			"error":   err,
		})
	}
}

func (s *checkoutService) cancelAuthorization(ctx context.Context, auth domain.CardAuthorization) {
	if s.cards == nil {
		return
	}
	if err := s.cards.Cancel(ctx, auth); err != nil {
		s.logger(ctx, "checkout.card_cancel_failed", map[string]any{
			"reference": auth.Reference,
			"error":     err,
		})
	}
}

func (s *checkoutService) translateProductError(ctx context.Context, err error, code string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return fmt.Errorf("%w: %s", ErrProductNotFound, code)
	}
	s.logger(ctx, "checkout.catalog_lookup_failed", map[string]any{
		"code":  code,
		"error": err,
	})
	return fmt.Errorf("%w: catalog lookup: %v", ErrExternalUnavailable, err)
}

func (s *checkoutService) translateShiftLookup(ctx context.Context, err error, stationID string) error {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) && repoErr.IsNotFound() {
		return ErrShiftNotOpen
	}
	s.logger(ctx, "checkout.shift_lookup_failed", map[string]any{
		"stationID": stationID,
		"error":     err,
	})
	return fmt.Errorf("%w: shift lookup: %v", ErrExternalUnavailable, err)
}

func catalogLineItem(product domain.Product) domain.LineItem {
	item := domain.LineItem{
		ID:              product.ID,
		Name:            product.Name,
		UnitPrice:       product.Price,
		TaxRate:         product.TaxRate,
		BenefitEligible: product.BenefitEligible,
		Detail: domain.CatalogDetail{
			ProductID: product.ID,
			Barcode:   product.Barcode,
			SKU:       product.SKU,
		},
	}
	if product.CashPrice != nil && product.CardPrice != nil {
		item.UnitPrice = *product.CashPrice
		item.Detail = domain.DualPriceDetail{
			ProductID: product.ID,
			CashPrice: *product.CashPrice,
			CardPrice: *product.CardPrice,
		}
	}
	if product.MinimumAge > 0 {
		item.AgeRestriction = &domain.AgeRestriction{MinimumAge: product.MinimumAge}
	}
	return item
}

func requireStation(stationID string) (string, error) {
	stationID = strings.TrimSpace(stationID)
	if stationID == "" {
		return "", validationError("stationId", "is required")
	}
	return stationID, nil
}
