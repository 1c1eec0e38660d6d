package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

// Amounts are stored as decimal strings so cents survive the round trip exactly.

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func moneyPtr(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func parseMoney(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

func parseMoneyPtr(s *string) *decimal.Decimal {
	if s == nil || *s == "" {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

type lineItemDocument struct {
	ID              string  `firestore:"id"`
	Name            string  `firestore:"name"`
	Kind            string  `firestore:"kind"`
	UnitPrice       string  `firestore:"unitPrice"`
	Quantity        int     `firestore:"quantity"`
	DiscountPercent string  `firestore:"discountPercent"`
	TaxRate         *string `firestore:"taxRate,omitempty"`
	MinimumAge      int     `firestore:"minimumAge,omitempty"`
	BenefitEligible bool    `firestore:"benefitEligible"`

	ProductID    string  `firestore:"productId,omitempty"`
	Barcode      string  `firestore:"barcode,omitempty"`
	SKU          string  `firestore:"sku,omitempty"`
	Variant      string  `firestore:"variant,omitempty"`
	UnitsPerSale int     `firestore:"unitsPerSale,omitempty"`
	GameName     string  `firestore:"gameName,omitempty"`
	TicketCount  int     `firestore:"ticketCount,omitempty"`
	CashPrice    *string `firestore:"cashPrice,omitempty"`
	CardPrice    *string `firestore:"cardPrice,omitempty"`
}

func newLineItemDocuments(items []domain.LineItem) []lineItemDocument {
	docs := make([]lineItemDocument, 0, len(items))
	for _, item := range items {
		doc := lineItemDocument{
			ID:              item.ID,
			Name:            item.Name,
			Kind:            string(item.Kind()),
			UnitPrice:       money(item.UnitPrice),
			Quantity:        item.Quantity,
			DiscountPercent: item.DiscountPercent.String(),
			TaxRate:         moneyPtr(item.TaxRate),
			BenefitEligible: item.BenefitEligible,
		}
		if item.AgeRestriction != nil {
			doc.MinimumAge = item.AgeRestriction.MinimumAge
		}
		switch detail := item.Detail.(type) {
		case domain.CatalogDetail:
			doc.ProductID, doc.Barcode, doc.SKU = detail.ProductID, detail.Barcode, detail.SKU
		case domain.QuickAddDetail:
			doc.Barcode = detail.Barcode
		case domain.CaseBreakDetail:
			doc.ProductID, doc.Variant, doc.UnitsPerSale = detail.ProductID, string(detail.Variant), detail.UnitsPerSale
		case domain.LotteryDetail:
			doc.GameName, doc.TicketCount = detail.GameName, detail.TicketCount
		case domain.DualPriceDetail:
			cash, card := money(detail.CashPrice), money(detail.CardPrice)
			doc.ProductID, doc.CashPrice, doc.CardPrice = detail.ProductID, &cash, &card
		}
		docs = append(docs, doc)
	}
	return docs
}

func (d lineItemDocument) toDomain() domain.LineItem {
	item := domain.LineItem{
		ID:              d.ID,
		Name:            d.Name,
		UnitPrice:       parseMoney(d.UnitPrice),
		Quantity:        d.Quantity,
		DiscountPercent: parseMoney(d.DiscountPercent),
		TaxRate:         parseMoneyPtr(d.TaxRate),
		BenefitEligible: d.BenefitEligible,
	}
	if d.MinimumAge > 0 {
		item.AgeRestriction = &domain.AgeRestriction{MinimumAge: d.MinimumAge}
	}
	switch domain.ItemKind(d.Kind) {
	case domain.ItemKindQuickAdd:
		item.Detail = domain.QuickAddDetail{Barcode: d.Barcode}
	case domain.ItemKindCaseBreak:
		item.Detail = domain.CaseBreakDetail{ProductID: d.ProductID, Variant: domain.CaseBreakVariantKind(d.Variant), UnitsPerSale: d.UnitsPerSale}
	case domain.ItemKindLottery:
		item.Detail = domain.LotteryDetail{GameName: d.GameName, TicketCount: d.TicketCount}
	case domain.ItemKindDualPrice:
		detail := domain.DualPriceDetail{ProductID: d.ProductID}
		if p := parseMoneyPtr(d.CashPrice); p != nil {
			detail.CashPrice = *p
		}
		if p := parseMoneyPtr(d.CardPrice); p != nil {
			detail.CardPrice = *p
		}
		item.Detail = detail
	default:
		item.Detail = domain.CatalogDetail{ProductID: d.ProductID, Barcode: d.Barcode, SKU: d.SKU}
	}
	return item
}

func lineItemsToDomain(docs []lineItemDocument) []domain.LineItem {
	items := make([]domain.LineItem, 0, len(docs))
	for _, doc := range docs {
		items = append(items, doc.toDomain())
	}
	return items
}

type discountDocument struct {
	Kind  string `firestore:"kind,omitempty"`
	Value string `firestore:"value,omitempty"`
}

func newDiscountDocument(d domain.TransactionDiscount) discountDocument {
	if d.IsZero() {
		return discountDocument{}
	}
	return discountDocument{Kind: string(d.Kind), Value: d.Value.String()}
}

func (d discountDocument) toDomain() domain.TransactionDiscount {
	if d.Kind == "" {
		return domain.TransactionDiscount{}
	}
	return domain.TransactionDiscount{Kind: domain.DiscountKind(d.Kind), Value: parseMoney(d.Value)}
}

// totalsDocument keeps the figures receipts and reports need. Per-line breakdowns are recomputable
// from the items and are not stored.
type totalsDocument struct {
	SubtotalCash           string   `firestore:"subtotalCash"`
	SubtotalCard           string   `firestore:"subtotalCard"`
	TransactionDiscount    string   `firestore:"transactionDiscount"`
	PromotionDiscount      string   `firestore:"promotionDiscount"`
	DiscountedSubtotalCash string   `firestore:"discountedSubtotalCash"`
	DiscountedSubtotalCard string   `firestore:"discountedSubtotalCard"`
	TaxCash                string   `firestore:"taxCash"`
	TaxCard                string   `firestore:"taxCard"`
	CashTotal              string   `firestore:"cashTotal"`
	CardTotal              string   `firestore:"cardTotal"`
	LotteryOffset          string   `firestore:"lotteryOffset"`
	CustomerPayableCash    string   `firestore:"customerPayableCash"`
	CustomerPayableCard    string   `firestore:"customerPayableCard"`
	Tip                    string   `firestore:"tip"`
	ItemCount              int      `firestore:"itemCount"`
	DualPricing            bool     `firestore:"dualPricing"`
	Promotions             []string `firestore:"promotions,omitempty"`
}

func newTotalsDocument(t domain.TotalsResult) totalsDocument {
	return totalsDocument{
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
		CustomerPayableCash:    money(t.CustomerPayableCash),
		CustomerPayableCard:    money(t.CustomerPayableCard),
		Tip:                    money(t.Tip),
		ItemCount:              t.ItemCount,
		DualPricing:            t.DualPricing,
		Promotions:             append([]string(nil), t.Promotions...),
	}
}

func (d totalsDocument) toDomain() domain.TotalsResult {
	return domain.TotalsResult{
		SubtotalCash:           parseMoney(d.SubtotalCash),
		SubtotalCard:           parseMoney(d.SubtotalCard),
		TransactionDiscount:    parseMoney(d.TransactionDiscount),
		PromotionDiscount:      parseMoney(d.PromotionDiscount),
		DiscountedSubtotalCash: parseMoney(d.DiscountedSubtotalCash),
		DiscountedSubtotalCard: parseMoney(d.DiscountedSubtotalCard),
		TaxCash:                parseMoney(d.TaxCash),
		TaxCard:                parseMoney(d.TaxCard),
		CashTotal:              parseMoney(d.CashTotal),
		CardTotal:              parseMoney(d.CardTotal),
		LotteryOffset:          parseMoney(d.LotteryOffset),
		CustomerPayableCash:    parseMoney(d.CustomerPayableCash),
		CustomerPayableCard:    parseMoney(d.CustomerPayableCard),
		Tip:                    parseMoney(d.Tip),
		ItemCount:              d.ItemCount,
		DualPricing:            d.DualPricing,
		Promotions:             append([]string(nil), d.Promotions...),
	}
}

type tenderDocument struct {
	Method string `firestore:"method"`
	Amount string `firestore:"amount"`
}

type paymentDocument struct {
	Method       string           `firestore:"method"`
	AmountDue    string           `firestore:"amountDue"`
	Tender       []tenderDocument `firestore:"tender"`
	CashReceived string           `firestore:"cashReceived"`
	Change       string           `firestore:"change"`
}

func newPaymentDocument(p domain.PaymentOutcome) paymentDocument {
	doc := paymentDocument{
		Method:       string(p.Method),
		AmountDue:    money(p.AmountDue),
		CashReceived: money(p.CashReceived),
		Change:       money(p.Change),
	}
	for _, entry := range p.Tender {
		doc.Tender = append(doc.Tender, tenderDocument{Method: string(entry.Method), Amount: money(entry.Amount)})
	}
	return doc
}

func (d paymentDocument) toDomain() domain.PaymentOutcome {
	outcome := domain.PaymentOutcome{
		Method:       domain.TenderMethod(d.Method),
		AmountDue:    parseMoney(d.AmountDue),
		CashReceived: parseMoney(d.CashReceived),
		Change:       parseMoney(d.Change),
	}
	for _, entry := range d.Tender {
		outcome.Tender = append(outcome.Tender, domain.TenderEntry{Method: domain.TenderMethod(entry.Method), Amount: parseMoney(entry.Amount)})
	}
	return outcome
}

type cardAuthorizationDocument struct {
	Provider  string `firestore:"provider"`
	Reference string `firestore:"reference"`
	Amount    string `firestore:"amount"`
	Status    string `firestore:"status"`
}

type transactionDocument struct {
	StationID         string                     `firestore:"stationId"`
	ShiftID           string                     `firestore:"shiftId"`
	Items             []lineItemDocument         `firestore:"items"`
	Totals            totalsDocument             `firestore:"totals"`
	Discount          discountDocument           `firestore:"discount"`
	Payment           paymentDocument            `firestore:"payment"`
	AgeVerification   string                     `firestore:"ageVerification"`
	CardAuthorization *cardAuthorizationDocument `firestore:"cardAuthorization,omitempty"`
	CompletedAt       time.Time                  `firestore:"completedAt"`
}

func newTransactionDocument(record domain.TransactionRecord) transactionDocument {
	doc := transactionDocument{
		StationID:       record.StationID,
		ShiftID:         record.ShiftID,
		Items:           newLineItemDocuments(record.Items),
		Totals:          newTotalsDocument(record.Totals),
		Discount:        newDiscountDocument(record.Discount),
		Payment:         newPaymentDocument(record.Payment),
		AgeVerification: string(record.AgeVerification),
		CompletedAt:     record.CompletedAt.UTC(),
	}
	if auth := record.CardAuthorization; auth != nil {
		doc.CardAuthorization = &cardAuthorizationDocument{
			Provider:  auth.Provider,
			Reference: auth.Reference,
			Amount:    money(auth.Amount),
			Status:    auth.Status,
		}
	}
	return doc
}

func (d transactionDocument) toDomain(id string) domain.TransactionRecord {
	record := domain.TransactionRecord{
		ID:              id,
		StationID:       d.StationID,
		ShiftID:         d.ShiftID,
		Items:           lineItemsToDomain(d.Items),
		Totals:          d.Totals.toDomain(),
		Discount:        d.Discount.toDomain(),
		Payment:         d.Payment.toDomain(),
		AgeVerification: domain.AgeVerificationStatus(d.AgeVerification),
		CompletedAt:     d.CompletedAt.UTC(),
	}
	if auth := d.CardAuthorization; auth != nil {
		record.CardAuthorization = &domain.CardAuthorization{
			Provider:  auth.Provider,
			Reference: auth.Reference,
			Amount:    parseMoney(auth.Amount),
			Status:    auth.Status,
		}
	}
	return record
}

type shiftDocument struct {
	StationID     string     `firestore:"stationId"`
	Status        string     `firestore:"status"`
	StartingFloat string     `firestore:"startingFloat"`
	CashSales     string     `firestore:"cashSales"`
	SaleCount     int        `firestore:"saleCount"`
	Counted       *string    `firestore:"counted,omitempty"`
	Expected      *string    `firestore:"expected,omitempty"`
	Variance      *string    `firestore:"variance,omitempty"`
	Note          string     `firestore:"note,omitempty"`
	OpenedAt      time.Time  `firestore:"openedAt"`
	ClosedAt      *time.Time `firestore:"closedAt,omitempty"`
	UpdatedAt     time.Time  `firestore:"updatedAt"`
}

func newShiftDocument(s domain.ShiftSession) shiftDocument {
	doc := shiftDocument{
		StationID:     s.StationID,
		Status:        string(s.Status),
		StartingFloat: money(s.StartingFloat),
		CashSales:     money(s.CashSales),
		SaleCount:     s.SaleCount,
		Counted:       moneyPtr(s.Counted),
		Expected:      moneyPtr(s.Expected),
		Variance:      moneyPtr(s.Variance),
		Note:          s.Note,
		OpenedAt:      s.OpenedAt.UTC(),
		UpdatedAt:     s.UpdatedAt.UTC(),
	}
	if s.ClosedAt != nil {
		closed := s.ClosedAt.UTC()
		doc.ClosedAt = &closed
	}
	return doc
}

func (d shiftDocument) toDomain(id string) domain.ShiftSession {
	session := domain.ShiftSession{
		ID:            id,
		StationID:     d.StationID,
		Status:        domain.ShiftStatus(d.Status),
		StartingFloat: parseMoney(d.StartingFloat),
		CashSales:     parseMoney(d.CashSales),
		SaleCount:     d.SaleCount,
		Counted:       parseMoneyPtr(d.Counted),
		Expected:      parseMoneyPtr(d.Expected),
		Variance:      parseMoneyPtr(d.Variance),
		Note:          d.Note,
		OpenedAt:      d.OpenedAt.UTC(),
		UpdatedAt:     d.UpdatedAt.UTC(),
	}
	if d.ClosedAt != nil {
		closed := d.ClosedAt.UTC()
		session.ClosedAt = &closed
	}
	return session
}

type heldDocument struct {
	StationID string             `firestore:"stationId"`
	Items     []lineItemDocument `firestore:"items"`
	Discount  discountDocument   `firestore:"discount"`
	Tip       string             `firestore:"tip"`
	Lottery   string             `firestore:"lottery"`
	HeldAt    time.Time          `firestore:"heldAt"`
}

func newHeldDocument(h domain.HeldTransaction) heldDocument {
	return heldDocument{
		StationID: h.StationID,
		Items:     newLineItemDocuments(h.Items),
		Discount:  newDiscountDocument(h.Discount),
		Tip:       money(h.Tip),
		Lottery:   money(h.Lottery),
		HeldAt:    h.HeldAt.UTC(),
	}
}

func (d heldDocument) toDomain(id string) domain.HeldTransaction {
	return domain.HeldTransaction{
		ID:        id,
		StationID: d.StationID,
		Items:     lineItemsToDomain(d.Items),
		Discount:  d.Discount.toDomain(),
		Tip:       parseMoney(d.Tip),
		Lottery:   parseMoney(d.Lottery),
		HeldAt:    d.HeldAt.UTC(),
	}
}

type productDocument struct {
	Name            string  `firestore:"name"`
	Barcode         string  `firestore:"barcode"`
	SKU             string  `firestore:"sku"`
	Price           string  `firestore:"price"`
	CashPrice       *string `firestore:"cashPrice,omitempty"`
	CardPrice       *string `firestore:"cardPrice,omitempty"`
	TaxRate         *string `firestore:"taxRate,omitempty"`
	MinimumAge      int     `firestore:"minimumAge,omitempty"`
	BenefitEligible bool    `firestore:"benefitEligible"`
	CaseBreak       bool    `firestore:"caseBreak"`
	UnitsPerCase    int     `firestore:"unitsPerCase,omitempty"`
	CasePrice       *string `firestore:"casePrice,omitempty"`
	Active          bool    `firestore:"active"`
}

func (d productDocument) toDomain(id string) domain.Product {
	return domain.Product{
		ID:              id,
		Name:            d.Name,
		Barcode:         d.Barcode,
		SKU:             d.SKU,
		Price:           parseMoney(d.Price),
		CashPrice:       parseMoneyPtr(d.CashPrice),
		CardPrice:       parseMoneyPtr(d.CardPrice),
		TaxRate:         parseMoneyPtr(d.TaxRate),
		MinimumAge:      d.MinimumAge,
		BenefitEligible: d.BenefitEligible,
		CaseBreak:       d.CaseBreak,
		UnitsPerCase:    d.UnitsPerCase,
		CasePrice:       parseMoneyPtr(d.CasePrice),
		Active:          d.Active,
	}
}
