package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/platform/idempotency"
	"github.com/tillpoint/api/internal/services"
)

type stubCheckoutService struct {
	snapshotFunc func(ctx context.Context, stationID string) (services.SessionSnapshot, error)
	scanFunc     func(ctx context.Context, cmd services.ScanItemCommand) (services.ScanResult, error)
	addFunc      func(ctx context.Context, cmd services.AddItemCommand) (services.AddResult, error)
	updateFunc   func(ctx context.Context, cmd services.UpdateItemCommand) (services.SessionSnapshot, error)
	ageFunc      func(ctx context.Context, stationID string, decision services.AgeDecision) (services.AddResult, error)
	discountFunc func(ctx context.Context, stationID string, discount *domain.TransactionDiscount) (services.SessionSnapshot, error)
	tenderFunc   func(ctx context.Context, cmd services.TenderCommand) (services.TenderReceipt, error)
	recallFunc   func(ctx context.Context, stationID, holdID string) (services.SessionSnapshot, error)
}

func (s *stubCheckoutService) Snapshot(ctx context.Context, stationID string) (services.SessionSnapshot, error) {
	if s.snapshotFunc != nil {
		return s.snapshotFunc(ctx, stationID)
	}
	return services.SessionSnapshot{StationID: stationID}, nil
}

func (s *stubCheckoutService) ScanItem(ctx context.Context, cmd services.ScanItemCommand) (services.ScanResult, error) {
	if s.scanFunc != nil {
		return s.scanFunc(ctx, cmd)
	}
	return services.ScanResult{}, nil
}

func (s *stubCheckoutService) AddCaseBreak(context.Context, services.AddCaseBreakCommand) (services.AddResult, error) {
	return services.AddResult{}, nil
}

func (s *stubCheckoutService) AddItem(ctx context.Context, cmd services.AddItemCommand) (services.AddResult, error) {
	if s.addFunc != nil {
		return s.addFunc(ctx, cmd)
	}
	return services.AddResult{}, nil
}

func (s *stubCheckoutService) UpdateItem(ctx context.Context, cmd services.UpdateItemCommand) (services.SessionSnapshot, error) {
	if s.updateFunc != nil {
		return s.updateFunc(ctx, cmd)
	}
	return services.SessionSnapshot{}, nil
}

func (s *stubCheckoutService) RemoveItem(_ context.Context, stationID string, _ int) (services.SessionSnapshot, error) {
	return services.SessionSnapshot{StationID: stationID}, nil
}

func (s *stubCheckoutService) ResolveAgeVerification(ctx context.Context, stationID string, decision services.AgeDecision) (services.AddResult, error) {
	if s.ageFunc != nil {
		return s.ageFunc(ctx, stationID, decision)
	}
	return services.AddResult{}, nil
}

func (s *stubCheckoutService) SetDiscount(ctx context.Context, stationID string, discount *domain.TransactionDiscount) (services.SessionSnapshot, error) {
	if s.discountFunc != nil {
		return s.discountFunc(ctx, stationID, discount)
	}
	return services.SessionSnapshot{}, nil
}

func (s *stubCheckoutService) SetTip(context.Context, string, decimal.Decimal) (services.SessionSnapshot, error) {
	return services.SessionSnapshot{}, nil
}

func (s *stubCheckoutService) AddLotteryPayout(context.Context, string, decimal.Decimal) (services.SessionSnapshot, error) {
	return services.SessionSnapshot{}, nil
}

func (s *stubCheckoutService) Tender(ctx context.Context, cmd services.TenderCommand) (services.TenderReceipt, error) {
	if s.tenderFunc != nil {
		return s.tenderFunc(ctx, cmd)
	}
	return services.TenderReceipt{}, nil
}

func (s *stubCheckoutService) Void(_ context.Context, stationID string) (services.SessionSnapshot, error) {
	return services.SessionSnapshot{StationID: stationID}, nil
}

func (s *stubCheckoutService) Hold(_ context.Context, stationID string) (services.HeldTransaction, error) {
	return services.HeldTransaction{ID: "hold_1", StationID: stationID}, nil
}

func (s *stubCheckoutService) Recall(ctx context.Context, stationID, holdID string) (services.SessionSnapshot, error) {
	if s.recallFunc != nil {
		return s.recallFunc(ctx, stationID, holdID)
	}
	return services.SessionSnapshot{StationID: stationID}, nil
}

func (s *stubCheckoutService) ListHeld(context.Context, string) ([]services.HeldTransaction, error) {
	return nil, nil
}

var _ services.CheckoutService = (*stubCheckoutService)(nil)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

func newCheckoutRouter(svc services.CheckoutService, opts ...CheckoutOption) http.Handler {
	handler := NewCheckoutHandlers(svc, opts...)
	return NewRouter(WithStationRoutes(handler.Routes))
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewBufferString(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func decodeBody(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode response %q: %v", rr.Body.String(), err)
	}
	return body
}

func sampleSnapshot(stationID string) services.SessionSnapshot {
	rate := decimal.RequireFromString("8")
	return services.SessionSnapshot{
		StationID: stationID,
		Revision:  3,
		Items: []domain.LineItem{{
			ID:        "sku-1",
			Name:      "Cola",
			UnitPrice: decimal.RequireFromString("2.5"),
			Quantity:  2,
			TaxRate:   &rate,
			Detail:    domain.CatalogDetail{ProductID: "sku-1", Barcode: "0001"},
		}},
		Totals: domain.TotalsResult{
			SubtotalCash:        decimal.RequireFromString("5"),
			TaxCash:             decimal.RequireFromString("0.4"),
			CashTotal:           decimal.RequireFromString("5.4"),
			CustomerPayableCash: decimal.RequireFromString("5.4"),
			Tip:                 decimal.RequireFromString("1"),
			ItemCount:           2,
		},
		AgeVerification: domain.AgeVerificationState{Status: domain.AgeNotRequired},
	}
}

func TestCheckoutHandlersScanItem(t *testing.T) {
	var captured services.ScanItemCommand
	svc := &stubCheckoutService{
		scanFunc: func(_ context.Context, cmd services.ScanItemCommand) (services.ScanResult, error) {
			captured = cmd
			return services.ScanResult{
				Product: domain.Product{ID: "sku-1", Name: "Cola", Price: decimal.RequireFromString("2.5")},
				AddResult: services.AddResult{
					Outcome:  services.AddOutcome{Admitted: true, Revision: 3},
					Snapshot: sampleSnapshot(cmd.StationID),
				},
			}, nil
		},
	}

	rr := doJSON(t, newCheckoutRouter(svc), http.MethodPost, "/api/v1/stations/lane-1/checkout/items:scan", `{"code":" 0001 "}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.StationID != "lane-1" || captured.Code != "0001" || captured.Quantity != 1 {
		t.Fatalf("unexpected command %#v", captured)
	}

	body := decodeBody(t, rr)
	if body["admitted"] != true {
		t.Fatalf("expected admitted, got %v", body["admitted"])
	}
	session := body["session"].(map[string]any)
	totals := session["totals"].(map[string]any)
	if totals["cashTotal"] != "5.40" {
		t.Fatalf("expected cash total 5.40, got %v", totals["cashTotal"])
	}
	if totals["amountDueCash"] != "6.40" {
		t.Fatalf("expected amount due to include tip, got %v", totals["amountDueCash"])
	}
	items := session["items"].([]any)
	item := items[0].(map[string]any)
	if item["unitPrice"] != "2.50" || item["kind"] != "catalog" || item["taxRate"] != "8" {
		t.Fatalf("unexpected item payload %v", item)
	}
	product := body["product"].(map[string]any)
	if product["price"] != "2.50" {
		t.Fatalf("expected product price 2.50, got %v", product["price"])
	}
}

func TestCheckoutHandlersScanItemNotFound(t *testing.T) {
	svc := &stubCheckoutService{
		scanFunc: func(context.Context, services.ScanItemCommand) (services.ScanResult, error) {
			return services.ScanResult{}, fmt.Errorf("%w: 9999", services.ErrProductNotFound)
		},
	}

	rr := doJSON(t, newCheckoutRouter(svc), http.MethodPost, "/api/v1/stations/lane-1/checkout/items:scan", `{"code":"9999"}`, nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["error"] != "product_not_found" {
		t.Fatalf("expected product_not_found, got %v", body["error"])
	}
}

func TestCheckoutHandlersScanRateLimited(t *testing.T) {
	now := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	router := newCheckoutRouter(&stubCheckoutService{}, WithScanRateLimit(1, time.Second, func() time.Time { return now }))

	first := doJSON(t, router, http.MethodPost, "/api/v1/stations/lane-1/checkout/items:scan", `{"code":"1"}`, nil)
	if first.Code != http.StatusOK {
		t.Fatalf("expected first scan accepted, got %d", first.Code)
	}
	second := doJSON(t, router, http.MethodPost, "/api/v1/stations/lane-1/checkout/items:scan", `{"code":"1"}`, nil)
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", second.Code)
	}
	other := doJSON(t, router, http.MethodPost, "/api/v1/stations/lane-2/checkout/items:scan", `{"code":"1"}`, nil)
	if other.Code != http.StatusOK {
		t.Fatalf("expected other station unaffected, got %d", other.Code)
	}
}

func TestCheckoutHandlersAddItemPendingVerification(t *testing.T) {
	var captured services.AddItemCommand
	svc := &stubCheckoutService{
		addFunc: func(_ context.Context, cmd services.AddItemCommand) (services.AddResult, error) {
			captured = cmd
			pending := domain.LineItem{ID: "q1", Name: cmd.Name, UnitPrice: cmd.UnitPrice, Quantity: cmd.Quantity, Detail: domain.QuickAddDetail{}}
			snap := services.SessionSnapshot{
				StationID:       cmd.StationID,
				AgeVerification: domain.AgeVerificationState{Status: domain.AgePending, PendingItem: &pending, PendingQuantity: 1},
			}
			return services.AddResult{Outcome: services.AddOutcome{PendingVerification: true}, Snapshot: snap}, nil
		},
	}

	payload := `{"kind":"QUICK_ADD","name":"Wine","unitPrice":"12.99","minimumAge":21}`
	rr := doJSON(t, newCheckoutRouter(svc), http.MethodPost, "/api/v1/stations/lane-1/checkout/items", payload, nil)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}
	if captured.Kind != domain.ItemKindQuickAdd || captured.MinimumAge != 21 || !captured.UnitPrice.Equal(decimal.RequireFromString("12.99")) {
		t.Fatalf("unexpected command %#v", captured)
	}
	body := decodeBody(t, rr)
	age := body["session"].(map[string]any)["ageVerification"].(map[string]any)
	if age["status"] != "PENDING" {
		t.Fatalf("expected pending status, got %v", age["status"])
	}
	if age["pendingItem"].(map[string]any)["name"] != "Wine" {
		t.Fatalf("expected pending item, got %v", age["pendingItem"])
	}
}

func TestCheckoutHandlersUpdateItemRejectsBadIndex(t *testing.T) {
	rr := doJSON(t, newCheckoutRouter(&stubCheckoutService{}), http.MethodPatch, "/api/v1/stations/lane-1/checkout/items/abc", `{"quantity":2}`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["field"] != "index" {
		t.Fatalf("expected index field, got %v", body["field"])
	}
}

func TestCheckoutHandlersUpdateItem(t *testing.T) {
	var captured services.UpdateItemCommand
	svc := &stubCheckoutService{
		updateFunc: func(_ context.Context, cmd services.UpdateItemCommand) (services.SessionSnapshot, error) {
			captured = cmd
			return sampleSnapshot(cmd.StationID), nil
		},
	}
	rr := doJSON(t, newCheckoutRouter(svc), http.MethodPatch, "/api/v1/stations/lane-1/checkout/items/0", `{"discountPercent":"10"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if captured.Index != 0 || captured.Quantity != nil || captured.DiscountPercent == nil || !captured.DiscountPercent.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("unexpected command %#v", captured)
	}
}

func TestCheckoutHandlersAgeDecisionRoutes(t *testing.T) {
	var decisions []services.AgeDecision
	svc := &stubCheckoutService{
		ageFunc: func(_ context.Context, _ string, decision services.AgeDecision) (services.AddResult, error) {
			decisions = append(decisions, decision)
			if decision == services.AgeDecisionSkip {
				return services.AddResult{}, &services.ValidationError{Field: "ageVerification", Reason: "no item is awaiting verification"}
			}
			return services.AddResult{Outcome: services.AddOutcome{Admitted: true}}, nil
		},
	}
	router := newCheckoutRouter(svc)

	rr := doJSON(t, router, http.MethodPost, "/api/v1/stations/lane-1/checkout/age-verification:confirm", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodPost, "/api/v1/stations/lane-1/checkout/age-verification:skip", "", nil)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected status 422, got %d", rr.Code)
	}
	if body := decodeBody(t, rr); body["field"] != "ageVerification" {
		t.Fatalf("expected field in envelope, got %v", body)
	}
	if len(decisions) != 2 || decisions[0] != services.AgeDecisionConfirm || decisions[1] != services.AgeDecisionSkip {
		t.Fatalf("unexpected decisions %v", decisions)
	}
}

func TestCheckoutHandlersDiscount(t *testing.T) {
	var captured []*domain.TransactionDiscount
	svc := &stubCheckoutService{
		discountFunc: func(_ context.Context, _ string, discount *domain.TransactionDiscount) (services.SessionSnapshot, error) {
			captured = append(captured, discount)
			return services.SessionSnapshot{}, nil
		},
	}
	router := newCheckoutRouter(svc)

	rr := doJSON(t, router, http.MethodPut, "/api/v1/stations/lane-1/checkout/discount", `{"kind":"amount","value":"3.00"}`, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	rr = doJSON(t, router, http.MethodDelete, "/api/v1/stations/lane-1/checkout/discount", "", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(captured) != 2 || captured[0] == nil || captured[0].Kind != domain.DiscountAmount || captured[1] != nil {
		t.Fatalf("unexpected discounts %#v", captured)
	}
}

func TestCheckoutHandlersTenderErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", &services.ValidationError{Field: "cashReceived", Reason: "is less than the amount due"}, http.StatusUnprocessableEntity, "validation_failed"},
		{"no shift", fmt.Errorf("%w: lane-1", services.ErrShiftNotOpen), http.StatusConflict, "shift_not_open"},
		{"card processor", fmt.Errorf("%w: stripe timeout", services.ErrExternalUnavailable), http.StatusServiceUnavailable, "dependency_unavailable"},
		{"persistence", stubRepoError{msg: "firestore: write rejected"}, http.StatusBadGateway, "persistence_failed"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "internal_error"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &stubCheckoutService{
				tenderFunc: func(context.Context, services.TenderCommand) (services.TenderReceipt, error) {
					return services.TenderReceipt{}, tc.err
				},
			}
			rr := doJSON(t, newCheckoutRouter(svc), http.MethodPost, "/api/v1/stations/lane-1/checkout/tender", `{"method":"cash","cashReceived":"20"}`, nil)
			if rr.Code != tc.status {
				t.Fatalf("expected status %d, got %d", tc.status, rr.Code)
			}
			body := decodeBody(t, rr)
			if body["error"] != tc.code {
				t.Fatalf("expected code %s, got %v", tc.code, body["error"])
			}
			if tc.name == "persistence" && body["message"] != "firestore: write rejected" {
				t.Fatalf("expected persistence message surfaced unmodified, got %v", body["message"])
			}
		})
	}
}

func TestCheckoutHandlersTenderIsIdempotent(t *testing.T) {
	calls := 0
	svc := &stubCheckoutService{
		tenderFunc: func(_ context.Context, cmd services.TenderCommand) (services.TenderReceipt, error) {
			calls++
			if cmd.Request.Method != domain.TenderCash {
				t.Fatalf("expected CASH tender, got %s", cmd.Request.Method)
			}
			record := domain.TransactionRecord{
				ID:        fmt.Sprintf("txn_%d", calls),
				StationID: cmd.StationID,
				Payment: domain.PaymentOutcome{
					Method:       domain.TenderCash,
					AmountDue:    decimal.RequireFromString("5.40"),
					Tender:       domain.TenderSplit{{Method: domain.TenderCash, Amount: decimal.RequireFromString("5.40")}},
					CashReceived: cmd.Request.CashReceived,
					Change:       cmd.Request.CashReceived.Sub(decimal.RequireFromString("5.40")),
				},
				CompletedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
			}
			return services.TenderReceipt{Record: record, Snapshot: services.SessionSnapshot{StationID: cmd.StationID, Revision: 4}}, nil
		},
	}
	guard := idempotency.Middleware(idempotency.NewMemoryStore())
	router := newCheckoutRouter(svc, WithTenderMiddleware(guard))

	path := "/api/v1/stations/lane-1/checkout/tender"
	payload := `{"method":"cash","cashReceived":"10"}`
	headers := map[string]string{"Idempotency-Key": "tender-abc"}

	first := doJSON(t, router, http.MethodPost, path, payload, headers)
	if first.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", first.Code, first.Body.String())
	}
	second := doJSON(t, router, http.MethodPost, path, payload, headers)
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if calls != 1 {
		t.Fatalf("expected tender executed once, got %d", calls)
	}
	body := decodeBody(t, second)
	txn := body["transaction"].(map[string]any)
	if txn["id"] != "txn_1" || txn["change"] != "4.60" {
		t.Fatalf("unexpected replayed transaction %v", txn)
	}

	missing := doJSON(t, router, http.MethodPost, path, payload, nil)
	if missing.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without key, got %d", missing.Code)
	}
}

func TestCheckoutHandlersRecallMissingHold(t *testing.T) {
	var holdID string
	svc := &stubCheckoutService{
		recallFunc: func(_ context.Context, _ string, id string) (services.SessionSnapshot, error) {
			holdID = id
			return services.SessionSnapshot{}, services.ErrHeldTransactionNotFound
		},
	}
	rr := doJSON(t, newCheckoutRouter(svc), http.MethodPost, "/api/v1/stations/lane-1/checkout/held/hold_9:recall", "", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	if holdID != "hold_9" {
		t.Fatalf("expected hold id hold_9, got %q", holdID)
	}
}

func TestCheckoutHandlersInvalidJSON(t *testing.T) {
	rr := doJSON(t, newCheckoutRouter(&stubCheckoutService{}), http.MethodPost, "/api/v1/stations/lane-1/checkout/items", `{"name":`, nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	rr = doJSON(t, newCheckoutRouter(&stubCheckoutService{}), http.MethodPut, "/api/v1/stations/lane-1/checkout/tip", "", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for empty body, got %d", rr.Code)
	}
}

func TestCheckoutHandlersServiceUnavailable(t *testing.T) {
	rr := doJSON(t, newCheckoutRouter(nil), http.MethodGet, "/api/v1/stations/lane-1/checkout", "", nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
