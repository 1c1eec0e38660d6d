package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/httpx"
	"github.com/tillpoint/api/internal/services"
)

// CheckoutHandlers exposes the in-flight transaction of a station.
type CheckoutHandlers struct {
	checkout    services.CheckoutService
	tenderGuard func(http.Handler) http.Handler
	scanLimiter rateLimiter
}

// CheckoutOption customises checkout handlers.
type CheckoutOption func(*CheckoutHandlers)

// WithTenderMiddleware wraps the tender endpoint, normally with the idempotency middleware.
func WithTenderMiddleware(mw func(http.Handler) http.Handler) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.tenderGuard = mw
	}
}

// WithScanRateLimit allows limit scans per station per window, with bursts up to limit. Scanners
// that bounce a read are answered with 429 instead of adding the item twice.
func WithScanRateLimit(limit int, window time.Duration, clock func() time.Time) CheckoutOption {
	return func(h *CheckoutHandlers) {
		h.scanLimiter = newStationLimiter(limit, window, clock)
	}
}

// NewCheckoutHandlers constructs checkout handlers over the checkout service.
func NewCheckoutHandlers(checkout services.CheckoutService, opts ...CheckoutOption) *CheckoutHandlers {
	h := &CheckoutHandlers{checkout: checkout}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers checkout endpoints under a station scoped router.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/checkout", h.getSession)
	r.Post("/checkout/items", h.addItem)
	r.Post("/checkout/items:scan", h.scanItem)
	r.Post("/checkout/items:case-break", h.addCaseBreak)
	r.Patch("/checkout/items/{index}", h.updateItem)
	r.Delete("/checkout/items/{index}", h.removeItem)
	r.Post("/checkout/age-verification:confirm", h.ageDecision(services.AgeDecisionConfirm))
	r.Post("/checkout/age-verification:skip", h.ageDecision(services.AgeDecisionSkip))
	r.Post("/checkout/age-verification:cancel", h.ageDecision(services.AgeDecisionCancel))
	r.Put("/checkout/discount", h.setDiscount)
	r.Delete("/checkout/discount", h.clearDiscount)
	r.Put("/checkout/tip", h.setTip)
	r.Post("/checkout/lottery-payouts", h.addLotteryPayout)

	tender := http.Handler(http.HandlerFunc(h.tender))
	if h.tenderGuard != nil {
		tender = h.tenderGuard(tender)
	}
	r.Method(http.MethodPost, "/checkout/tender", tender)

	r.Post("/checkout:void", h.void)
	r.Post("/checkout:hold", h.hold)
	r.Get("/checkout/held", h.listHeld)
	r.Post("/checkout/held/{holdId}:recall", h.recall)
}

func (h *CheckoutHandlers) available(w http.ResponseWriter, r *http.Request) bool {
	if h.checkout == nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("checkout_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return false
	}
	return true
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	snap, err := h.checkout.Snapshot(r.Context(), stationID(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionResponse(snap))
}

type scanRequest struct {
	Code     string `json:"code"`
	Quantity int    `json:"quantity"`
}

func (h *CheckoutHandlers) scanItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	ctx := r.Context()
	station := stationID(r)
	if h.scanLimiter != nil && !h.scanLimiter.Allow(station) {
		httpx.WriteError(ctx, w, httpx.NewError("scan_rate_limited", "too many scans for this station", http.StatusTooManyRequests))
		return
	}
	var req scanRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	result, err := h.checkout.ScanItem(ctx, services.ScanItemCommand{
		StationID: station,
		Code:      strings.TrimSpace(req.Code),
		Quantity:  defaultQuantity(req.Quantity),
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newScanResponse(result))
}

type caseBreakRequest struct {
	ProductID string `json:"productId"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
}

func (h *CheckoutHandlers) addCaseBreak(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req caseBreakRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	result, err := h.checkout.AddCaseBreak(r.Context(), services.AddCaseBreakCommand{
		StationID: stationID(r),
		ProductID: strings.TrimSpace(req.ProductID),
		Variant:   domain.CaseBreakVariantKind(strings.ToLower(strings.TrimSpace(req.Variant))),
		Quantity:  defaultQuantity(req.Quantity),
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newAddResponse(result))
}

type addItemRequest struct {
	Kind            string           `json:"kind"`
	Name            string           `json:"name"`
	UnitPrice       decimal.Decimal  `json:"unitPrice"`
	Quantity        int              `json:"quantity"`
	Barcode         string           `json:"barcode"`
	TaxRate         *decimal.Decimal `json:"taxRate"`
	MinimumAge      int              `json:"minimumAge"`
	BenefitEligible bool             `json:"benefitEligible"`
	GameName        string           `json:"gameName"`
}

func (h *CheckoutHandlers) addItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req addItemRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	result, err := h.checkout.AddItem(r.Context(), services.AddItemCommand{
		StationID:       stationID(r),
		Kind:            domain.ItemKind(strings.ToLower(strings.TrimSpace(req.Kind))),
		Name:            req.Name,
		UnitPrice:       req.UnitPrice,
		Quantity:        defaultQuantity(req.Quantity),
		Barcode:         req.Barcode,
		TaxRate:         req.TaxRate,
		MinimumAge:      req.MinimumAge,
		BenefitEligible: req.BenefitEligible,
		GameName:        req.GameName,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	status := http.StatusCreated
	if !result.Outcome.Admitted {
		status = http.StatusAccepted
	}
	writeJSONResponse(w, status, newAddResponse(result))
}

type updateItemRequest struct {
	Quantity        *int             `json:"quantity"`
	DiscountPercent *decimal.Decimal `json:"discountPercent"`
	UnitPrice       *decimal.Decimal `json:"unitPrice"`
}

func (h *CheckoutHandlers) updateItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	var req updateItemRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	snap, err := h.checkout.UpdateItem(r.Context(), services.UpdateItemCommand{
		StationID:       stationID(r),
		Index:           index,
		Quantity:        req.Quantity,
		DiscountPercent: req.DiscountPercent,
		UnitPrice:       req.UnitPrice,
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionResponse(snap))
}

func (h *CheckoutHandlers) removeItem(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	index, ok := itemIndex(w, r)
	if !ok {
		return
	}
	snap, err := h.checkout.RemoveItem(r.Context(), stationID(r), index)
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionResponse(snap))
}

func (h *CheckoutHandlers) ageDecision(decision services.AgeDecision) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.available(w, r) {
			return
		}
		result, err := h.checkout.ResolveAgeVerification(r.Context(), stationID(r), decision)
		if err != nil {
			writeServiceError(r.Context(), w, err)
			return
		}
		writeJSONResponse(w, http.StatusOK, newAddResponse(result))
	}
}

type discountRequest struct {
	Kind  string          `json:"kind"`
	Value decimal.Decimal `json:"value"`
}

func (h *CheckoutHandlers) setDiscount(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req discountRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	kind := domain.DiscountKind(strings.ToUpper(strings.TrimSpace(req.Kind)))
	if kind == "" {
		kind = domain.DiscountPercent
	}
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.SetDiscount(r.Context(), stationID(r), &domain.TransactionDiscount{Kind: kind, Value: req.Value})
	})
}

func (h *CheckoutHandlers) clearDiscount(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.SetDiscount(r.Context(), stationID(r), nil)
	})
}

type amountRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

func (h *CheckoutHandlers) setTip(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req amountRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.SetTip(r.Context(), stationID(r), req.Amount)
	})
}

func (h *CheckoutHandlers) addLotteryPayout(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req amountRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.AddLotteryPayout(r.Context(), stationID(r), req.Amount)
	})
}

type tenderRequest struct {
	Method       string          `json:"method"`
	Amount       decimal.Decimal `json:"amount"`
	CashReceived decimal.Decimal `json:"cashReceived"`
	CashPortion  decimal.Decimal `json:"cashPortion"`
}

func (h *CheckoutHandlers) tender(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	var req tenderRequest
	if !decodeJSONBody(w, r, &req, false) {
		return
	}
	receipt, err := h.checkout.Tender(r.Context(), services.TenderCommand{
		StationID: stationID(r),
		Request: services.TenderRequest{
			Method:       domain.TenderMethod(strings.ToUpper(strings.TrimSpace(req.Method))),
			Amount:       req.Amount,
			CashReceived: req.CashReceived,
			CashPortion:  req.CashPortion,
		},
	})
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, tenderResponse{
		Transaction: newTransactionResponse(receipt.Record),
		Session:     newSessionResponse(receipt.Snapshot),
	})
}

func (h *CheckoutHandlers) void(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.Void(r.Context(), stationID(r))
	})
}

func (h *CheckoutHandlers) hold(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	held, err := h.checkout.Hold(r.Context(), stationID(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusCreated, newHeldTransactionResponse(held))
}

func (h *CheckoutHandlers) listHeld(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	held, err := h.checkout.ListHeld(r.Context(), stationID(r))
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	out := make([]heldTransactionResponse, 0, len(held))
	for _, entry := range held {
		out = append(out, newHeldTransactionResponse(entry))
	}
	writeJSONResponse(w, http.StatusOK, map[string]any{"held": out})
}

func (h *CheckoutHandlers) recall(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	holdID := strings.TrimSpace(chi.URLParam(r, "holdId"))
	h.writeSnapshot(w, r, func() (services.SessionSnapshot, error) {
		return h.checkout.Recall(r.Context(), stationID(r), holdID)
	})
}

func (h *CheckoutHandlers) writeSnapshot(w http.ResponseWriter, r *http.Request, fn func() (services.SessionSnapshot, error)) {
	snap, err := fn()
	if err != nil {
		writeServiceError(r.Context(), w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, newSessionResponse(snap))
}

func itemIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(chi.URLParam(r, "index"))
	index, err := strconv.Atoi(raw)
	if err != nil {
		httpx.WriteError(r.Context(), w, httpx.NewError("invalid_request", "item index must be an integer", http.StatusBadRequest).WithField("index", "must be an integer"))
		return 0, false
	}
	return index, true
}

func defaultQuantity(qty int) int {
	if qty == 0 {
		return 1
	}
	return qty
}
