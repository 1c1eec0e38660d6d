package handlers

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
	"github.com/tillpoint/api/internal/services"
)

// Money leaves the API as fixed two-decimal strings.
func money(v decimal.Decimal) string {
	return v.StringFixed(2)
}

func optionalMoney(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := money(*v)
	return &s
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

type lineItemResponse struct {
	Index           int     `json:"index"`
	ID              string  `json:"id"`
	Kind            string  `json:"kind"`
	Name            string  `json:"name"`
	UnitPrice       string  `json:"unitPrice"`
	Quantity        int     `json:"quantity"`
	DiscountPercent string  `json:"discountPercent"`
	TaxRate         *string `json:"taxRate,omitempty"`
	MinimumAge      int     `json:"minimumAge,omitempty"`
	BenefitEligible bool    `json:"benefitEligible,omitempty"`
	ProductID       string  `json:"productId,omitempty"`
	Barcode         string  `json:"barcode,omitempty"`
	Variant         string  `json:"variant,omitempty"`
	UnitsPerSale    int     `json:"unitsPerSale,omitempty"`
	GameName        string  `json:"gameName,omitempty"`
	CashPrice       *string `json:"cashPrice,omitempty"`
	CardPrice       *string `json:"cardPrice,omitempty"`
}

func newLineItemResponse(index int, item domain.LineItem) lineItemResponse {
	resp := lineItemResponse{
		Index:           index,
		ID:              item.ID,
		Kind:            string(item.Kind()),
		Name:            item.Name,
		UnitPrice:       money(item.UnitPrice),
		Quantity:        item.Quantity,
		DiscountPercent: item.DiscountPercent.StringFixed(2),
		BenefitEligible: item.BenefitEligible,
	}
	if item.TaxRate != nil {
		rate := item.TaxRate.String()
		resp.TaxRate = &rate
	}
	if item.AgeRestriction != nil {
		resp.MinimumAge = item.AgeRestriction.MinimumAge
	}
	switch detail := item.Detail.(type) {
	case domain.CatalogDetail:
		resp.ProductID = detail.ProductID
		resp.Barcode = detail.Barcode
	case domain.QuickAddDetail:
		resp.Barcode = detail.Barcode
	case domain.CaseBreakDetail:
		resp.ProductID = detail.ProductID
		resp.Variant = string(detail.Variant)
		resp.UnitsPerSale = detail.UnitsPerSale
	case domain.LotteryDetail:
		resp.GameName = detail.GameName
	case domain.DualPriceDetail:
		resp.ProductID = detail.ProductID
		resp.CashPrice = optionalMoney(&detail.CashPrice)
		resp.CardPrice = optionalMoney(&detail.CardPrice)
	}
	return resp
}

func newLineItemResponses(items []domain.LineItem) []lineItemResponse {
	out := make([]lineItemResponse, 0, len(items))
	for i, item := range items {
		out = append(out, newLineItemResponse(i, item))
	}
	return out
}

type totalsResponse struct {
	SubtotalCash           string   `json:"subtotalCash"`
	SubtotalCard           string   `json:"subtotalCard"`
	TransactionDiscount    string   `json:"transactionDiscount"`
	PromotionDiscount      string   `json:"promotionDiscount"`
	DiscountedSubtotalCash string   `json:"discountedSubtotalCash"`
	DiscountedSubtotalCard string   `json:"discountedSubtotalCard"`
	TaxCash                string   `json:"taxCash"`
	TaxCard                string   `json:"taxCard"`
	CashTotal              string   `json:"cashTotal"`
	CardTotal              string   `json:"cardTotal"`
	LotteryOffset          string   `json:"lotteryOffset"`
	PayableCash            string   `json:"payableCash"`
	PayableCard            string   `json:"payableCard"`
	Tip                    string   `json:"tip"`
	AmountDueCash          string   `json:"amountDueCash"`
	AmountDueCard          string   `json:"amountDueCard"`
	ItemCount              int      `json:"itemCount"`
	DualPricing            bool     `json:"dualPricing"`
	Promotions             []string `json:"promotions,omitempty"`
}

func newTotalsResponse(t domain.TotalsResult) totalsResponse {
	return totalsResponse{
		SubtotalCash:           money(t.SubtotalCash),
		SubtotalCard:           money(t.SubtotalCard),
		TransactionDiscount:    money(t.TransactionDiscount),
		PromotionDiscount:      money(t.PromotionDiscount),
		DiscountedSubtotalCash: money(t.DiscountedSubtotalCash),
		DiscountedSubtotalCard: money(t.DiscountedSubtotalCard),
		TaxCash:                money(t.TaxCash),
		TaxCard:                money(t.TaxCard),
		CashTotal:              money(t.CashTotal),
		CardTotal:              money(t.CardTotal),
		LotteryOffset:          money(t.LotteryOffset),
		PayableCash:            money(t.CustomerPayableCash),
		PayableCard:            money(t.CustomerPayableCard),
		Tip:                    money(t.Tip),
		AmountDueCash:          money(t.AmountDueCash()),
		AmountDueCard:          money(t.AmountDueCard()),
		ItemCount:              t.ItemCount,
		DualPricing:            t.DualPricing,
		Promotions:             t.Promotions,
	}
}

type ageVerificationResponse struct {
	Status          string            `json:"status"`
	PendingItem     *lineItemResponse `json:"pendingItem,omitempty"`
	PendingQuantity int               `json:"pendingQuantity,omitempty"`
}

type discountResponse struct {
	Kind  string `json:"kind"`
	Value string `json:"value"`
}

type sessionResponse struct {
	StationID       string                  `json:"stationId"`
	Revision        uint64                  `json:"revision"`
	Items           []lineItemResponse      `json:"items"`
	Totals          totalsResponse          `json:"totals"`
	AgeVerification ageVerificationResponse `json:"ageVerification"`
	Discount        *discountResponse       `json:"discount,omitempty"`
}

func newSessionResponse(snap services.SessionSnapshot) sessionResponse {
	resp := sessionResponse{
		StationID: snap.StationID,
		Revision:  snap.Revision,
		Items:     newLineItemResponses(snap.Items),
		Totals:    newTotalsResponse(snap.Totals),
		AgeVerification: ageVerificationResponse{
			Status:          string(snap.AgeVerification.Status),
			PendingQuantity: snap.AgeVerification.PendingQuantity,
		},
	}
	if resp.AgeVerification.Status == "" {
		resp.AgeVerification.Status = string(domain.AgeNotRequired)
	}
	if pending := snap.AgeVerification.PendingItem; pending != nil {
		item := newLineItemResponse(-1, *pending)
		resp.AgeVerification.PendingItem = &item
	}
	if !snap.Discount.IsZero() {
		resp.Discount = &discountResponse{Kind: string(snap.Discount.Kind), Value: snap.Discount.Value.String()}
	}
	return resp
}

type addResponse struct {
	Admitted            bool            `json:"admitted"`
	PendingVerification bool            `json:"pendingVerification"`
	Session             sessionResponse `json:"session"`
}

func newAddResponse(result services.AddResult) addResponse {
	return addResponse{
		Admitted:            result.Outcome.Admitted,
		PendingVerification: result.Outcome.PendingVerification,
		Session:             newSessionResponse(result.Snapshot),
	}
}

type productResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Barcode    string `json:"barcode,omitempty"`
	SKU        string `json:"sku,omitempty"`
	Price      string `json:"price"`
	MinimumAge int    `json:"minimumAge,omitempty"`
	CaseBreak  bool   `json:"caseBreak"`
}

type caseBreakVariantResponse struct {
	Kind         string `json:"kind"`
	Label        string `json:"label"`
	UnitsPerSale int    `json:"unitsPerSale"`
	Price        string `json:"price"`
}

type scanResponse struct {
	addResponse
	Product  productResponse            `json:"product"`
	Variants []caseBreakVariantResponse `json:"variants,omitempty"`
}

func newScanResponse(result services.ScanResult) scanResponse {
	resp := scanResponse{
		addResponse: newAddResponse(result.AddResult),
		Product: productResponse{
			ID:         result.Product.ID,
			Name:       result.Product.Name,
			Barcode:    result.Product.Barcode,
			SKU:        result.Product.SKU,
			Price:      money(result.Product.Price),
			MinimumAge: result.Product.MinimumAge,
			CaseBreak:  result.Product.CaseBreak,
		},
	}
	for _, v := range result.Variants {
		resp.Variants = append(resp.Variants, caseBreakVariantResponse{
			Kind:         string(v.Kind),
			Label:        v.Label,
			UnitsPerSale: v.UnitsPerSale,
			Price:        money(v.Price),
		})
	}
	return resp
}

type tenderEntryResponse struct {
	Method string `json:"method"`
	Amount string `json:"amount"`
}

type cardAuthorizationResponse struct {
	Provider  string `json:"provider"`
	Reference string `json:"reference"`
	Amount    string `json:"amount"`
	Status    string `json:"status"`
}

type transactionResponse struct {
	ID                string                     `json:"id"`
	StationID         string                     `json:"stationId"`
	ShiftID           string                     `json:"shiftId,omitempty"`
	Method            string                     `json:"method"`
	AmountDue         string                     `json:"amountDue"`
	CashReceived      string                     `json:"cashReceived"`
	Change            string                     `json:"change"`
	Tender            []tenderEntryResponse      `json:"tender"`
	Items             []lineItemResponse         `json:"items"`
	Totals            totalsResponse             `json:"totals"`
	AgeVerification   string                     `json:"ageVerification,omitempty"`
	CardAuthorization *cardAuthorizationResponse `json:"cardAuthorization,omitempty"`
	CompletedAt       string                     `json:"completedAt"`
}

func newTransactionResponse(record domain.TransactionRecord) transactionResponse {
	resp := transactionResponse{
		ID:              record.ID,
		StationID:       record.StationID,
		ShiftID:         record.ShiftID,
		Method:          string(record.Payment.Method),
		AmountDue:       money(record.Payment.AmountDue),
		CashReceived:    money(record.Payment.CashReceived),
		Change:          money(record.Payment.Change),
		Tender:          make([]tenderEntryResponse, 0, len(record.Payment.Tender)),
		Items:           newLineItemResponses(record.Items),
		Totals:          newTotalsResponse(record.Totals),
		AgeVerification: string(record.AgeVerification),
		CompletedAt:     formatTime(record.CompletedAt),
	}
	for _, entry := range record.Payment.Tender {
		resp.Tender = append(resp.Tender, tenderEntryResponse{Method: string(entry.Method), Amount: money(entry.Amount)})
	}
	if auth := record.CardAuthorization; auth != nil {
		resp.CardAuthorization = &cardAuthorizationResponse{
			Provider:  auth.Provider,
			Reference: auth.Reference,
			Amount:    money(auth.Amount),
			Status:    auth.Status,
		}
	}
	return resp
}

type tenderResponse struct {
	Transaction transactionResponse `json:"transaction"`
	Session     sessionResponse     `json:"session"`
}

type heldTransactionResponse struct {
	ID        string             `json:"id"`
	StationID string             `json:"stationId"`
	ItemCount int                `json:"itemCount"`
	Items     []lineItemResponse `json:"items"`
	Tip       string             `json:"tip"`
	Lottery   string             `json:"lotteryPayout"`
	HeldAt    string             `json:"heldAt"`
}

func newHeldTransactionResponse(held domain.HeldTransaction) heldTransactionResponse {
	count := 0
	for _, item := range held.Items {
		count += item.Quantity
	}
	return heldTransactionResponse{
		ID:        held.ID,
		StationID: held.StationID,
		ItemCount: count,
		Items:     newLineItemResponses(held.Items),
		Tip:       money(held.Tip),
		Lottery:   money(held.Lottery),
		HeldAt:    formatTime(held.HeldAt),
	}
}

type shiftResponse struct {
	ID            string  `json:"id"`
	StationID     string  `json:"stationId"`
	Status        string  `json:"status"`
	StartingFloat string  `json:"startingFloat"`
	CashSales     string  `json:"cashSales"`
	SaleCount     int     `json:"saleCount"`
	ExpectedCash  string  `json:"expectedCash"`
	Counted       *string `json:"counted,omitempty"`
	Variance      *string `json:"variance,omitempty"`
	Note          string  `json:"note,omitempty"`
	OpenedAt      string  `json:"openedAt"`
	ClosedAt      string  `json:"closedAt,omitempty"`
}

func newShiftResponse(s domain.ShiftSession) shiftResponse {
	resp := shiftResponse{
		ID:            s.ID,
		StationID:     s.StationID,
		Status:        string(s.Status),
		StartingFloat: money(s.StartingFloat),
		CashSales:     money(s.CashSales),
		SaleCount:     s.SaleCount,
		ExpectedCash:  money(s.ExpectedCash()),
		Counted:       optionalMoney(s.Counted),
		Variance:      optionalMoney(s.Variance),
		Note:          s.Note,
		OpenedAt:      formatTime(s.OpenedAt),
	}
	if s.Expected != nil {
		resp.ExpectedCash = money(*s.Expected)
	}
	if s.ClosedAt != nil {
		resp.ClosedAt = formatTime(*s.ClosedAt)
	}
	return resp
}

type shiftCloseResponse struct {
	ShiftID       string `json:"shiftId"`
	StationID     string `json:"stationId"`
	StartingFloat string `json:"startingFloat"`
	CashSales     string `json:"cashSales"`
	SaleCount     int    `json:"saleCount"`
	Expected      string `json:"expected"`
	Counted       string `json:"counted"`
	Variance      string `json:"variance"`
	Short         bool   `json:"short"`
	Note          string `json:"note,omitempty"`
	OpenedAt      string `json:"openedAt"`
	ClosedAt      string `json:"closedAt"`
	ReportURI     string `json:"reportUri,omitempty"`
}

func newShiftCloseResponse(result services.ShiftCloseResult) shiftCloseResponse {
	s := result.Summary
	return shiftCloseResponse{
		ShiftID:       s.ShiftID,
		StationID:     s.StationID,
		StartingFloat: money(s.StartingFloat),
		CashSales:     money(s.CashSales),
		SaleCount:     s.SaleCount,
		Expected:      money(s.Expected),
		Counted:       money(s.Counted),
		Variance:      money(s.Variance),
		Short:         s.Short(),
		Note:          s.Note,
		OpenedAt:      formatTime(s.OpenedAt),
		ClosedAt:      formatTime(s.ClosedAt),
		ReportURI:     result.ReportURI,
	}
}
