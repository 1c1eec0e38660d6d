package domain

import "github.com/shopspring/decimal"

// ItemKind identifies which variant of LineItem detail is attached.
type ItemKind string

const (
	// ItemKindCatalog marks items scanned or picked from the catalog.
	ItemKindCatalog ItemKind = "catalog"
	// ItemKindQuickAdd marks cashier-entered items that do not exist in the catalog.
	ItemKindQuickAdd ItemKind = "quick_add"
	// ItemKindCaseBreak marks single/pack/case variants derived from one product.
	ItemKindCaseBreak ItemKind = "case_break"
	// ItemKindLottery marks lottery ticket sales rung up at the register.
	ItemKindLottery ItemKind = "lottery"
	// ItemKindDualPrice marks catalog items carrying explicit cash and card shelf prices.
	ItemKindDualPrice ItemKind = "dual_price"
)

// ItemDetail is the kind-specific payload of a line item. Only the types in this file implement it.
type ItemDetail interface {
	Kind() ItemKind
	mergeKey(itemID string) (string, bool)
}

// CatalogDetail links a line to the catalog product it was looked up from.
type CatalogDetail struct {
	ProductID string
	Barcode   string
	SKU       string
}

func (CatalogDetail) Kind() ItemKind { return ItemKindCatalog }

func (d CatalogDetail) mergeKey(itemID string) (string, bool) {
	if d.ProductID != "" {
		return "catalog:" + d.ProductID, true
	}
	return "catalog:" + itemID, true
}

// QuickAddDetail describes an item typed in by the cashier. Quick-add lines never merge.
type QuickAddDetail struct {
	Barcode string
}

func (QuickAddDetail) Kind() ItemKind { return ItemKindQuickAdd }

func (QuickAddDetail) mergeKey(string) (string, bool) { return "", false }

// CaseBreakVariantKind enumerates the sale units offered for a product sold by the case.
type CaseBreakVariantKind string

const (
	CaseBreakSingle   CaseBreakVariantKind = "single"
	CaseBreakSixPack  CaseBreakVariantKind = "six_pack"
	CaseBreakFullCase CaseBreakVariantKind = "case"
)

// CaseBreakDetail keeps the underlying product identity of a case-break line for inventory.
type CaseBreakDetail struct {
	ProductID    string
	Variant      CaseBreakVariantKind
	UnitsPerSale int
}

func (CaseBreakDetail) Kind() ItemKind { return ItemKindCaseBreak }

func (d CaseBreakDetail) mergeKey(string) (string, bool) {
	return "case_break:" + d.ProductID + ":" + string(d.Variant), true
}

// LotteryDetail describes a lottery ticket sale. Lottery lines never merge.
type LotteryDetail struct {
	GameName    string
	TicketCount int
}

func (LotteryDetail) Kind() ItemKind { return ItemKindLottery }

func (LotteryDetail) mergeKey(string) (string, bool) { return "", false }

// AgeRestriction marks an item that requires age verification before it can be sold.
type AgeRestriction struct {
	MinimumAge int
}

// DualPriceDetail carries explicit cash and card shelf prices. The line's UnitPrice holds the
// cash price; CardPrice replaces the computed surcharge when dual pricing is active.
type DualPriceDetail struct {
	ProductID string
	CashPrice decimal.Decimal
	CardPrice decimal.Decimal
}

func (DualPriceDetail) Kind() ItemKind { return ItemKindDualPrice }

func (d DualPriceDetail) mergeKey(itemID string) (string, bool) {
	if d.ProductID != "" {
		return "catalog:" + d.ProductID, true
	}
	return "catalog:" + itemID, true
}

// LineItem is one row of the in-flight transaction.
type LineItem struct {
	ID              string
	Name            string
	UnitPrice       decimal.Decimal
	Quantity        int
	DiscountPercent decimal.Decimal
	// TaxRate overrides the configured default rate when set. Expressed as a percentage.
	TaxRate         *decimal.Decimal
	AgeRestriction  *AgeRestriction
	BenefitEligible bool
	Detail          ItemDetail
}

// Kind returns the detail kind, defaulting to catalog for lines without detail.
func (li LineItem) Kind() ItemKind {
	if li.Detail == nil {
		return ItemKindCatalog
	}
	return li.Detail.Kind()
}

// MergeKey returns the identity used to merge repeated adds. The boolean is false for
// synthetic lines that must always occupy their own row.
func (li LineItem) MergeKey() (string, bool) {
	if li.Detail == nil {
		return "catalog:" + li.ID, true
	}
	return li.Detail.mergeKey(li.ID)
}

// RequiresAgeVerification reports whether the line is age restricted.
func (li LineItem) RequiresAgeVerification() bool {
	return li.AgeRestriction != nil && li.AgeRestriction.MinimumAge > 0
}
