package services

import (
	"fmt"

	"github.com/shopspring/decimal"

	domain "github.com/tillpoint/api/internal/domain"
)

const defaultUnitsPerCase = 12

var (
	sixPackMultiplier = decimal.RequireFromString("0.95")
	caseMultiplier    = decimal.RequireFromString("0.90")
)

// CaseBreakProduct is a product that can be sold as a single, a six-pack or a full case.
type CaseBreakProduct struct {
	ProductID    string
	Name         string
	UnitPrice    decimal.Decimal
	UnitsPerCase int
	CasePrice    *decimal.Decimal
	TaxRate      *decimal.Decimal
	MinimumAge   int
}

// CaseBreakVariant is one priced sale unit offered for a case-break product.
type CaseBreakVariant struct {
	Kind         domain.CaseBreakVariantKind
	Label        string
	UnitsPerSale int
	Price        decimal.Decimal
}

// ResolveCaseBreak prices the three sale units of a product. The six-pack carries a 5%
// discount; the case uses the explicit case price, else a 10% discount on the unit price.
func ResolveCaseBreak(product CaseBreakProduct) []CaseBreakVariant {
	units := product.UnitsPerCase
	if units <= 0 {
		units = defaultUnitsPerCase
	}
	unit := domain.NonNegative(product.UnitPrice)

	casePrice := domain.Round2(unit.Mul(decimal.NewFromInt(int64(units))).Mul(caseMultiplier))
	if product.CasePrice != nil && product.CasePrice.IsPositive() {
		casePrice = domain.Round2(*product.CasePrice)
	}

	return []CaseBreakVariant{
		{Kind: domain.CaseBreakSingle, Label: "Single", UnitsPerSale: 1, Price: domain.Round2(unit)},
		{Kind: domain.CaseBreakSixPack, Label: "6-Pack", UnitsPerSale: 6, Price: domain.Round2(unit.Mul(decimal.NewFromInt(6)).Mul(sixPackMultiplier))},
		{Kind: domain.CaseBreakFullCase, Label: fmt.Sprintf("Case of %d", units), UnitsPerSale: units, Price: casePrice},
	}
}

// FindCaseBreakVariant returns the variant of the given kind.
func FindCaseBreakVariant(product CaseBreakProduct, kind domain.CaseBreakVariantKind) (CaseBreakVariant, error) {
	for _, variant := range ResolveCaseBreak(product) {
		if variant.Kind == kind {
			return variant, nil
		}
	}
	return CaseBreakVariant{}, validationError("variant", fmt.Sprintf("unknown case-break variant %q", kind))
}

// LineItem builds the synthetic cart line for the selected variant. The product identity is
// kept in the detail so inventory can be decremented per underlying unit.
func (v CaseBreakVariant) LineItem(product CaseBreakProduct) domain.LineItem {
	item := domain.LineItem{
		ID:        product.ProductID + ":" + string(v.Kind),
		Name:      fmt.Sprintf("%s (%s)", product.Name, v.Label),
		UnitPrice: v.Price,
		TaxRate:   product.TaxRate,
		Detail: domain.CaseBreakDetail{
			ProductID:    product.ProductID,
			Variant:      v.Kind,
			UnitsPerSale: v.UnitsPerSale,
		},
	}
	if product.MinimumAge > 0 {
		item.AgeRestriction = &domain.AgeRestriction{MinimumAge: product.MinimumAge}
	}
	return item
}

// CaseBreakProductFrom adapts a catalog product for case-break resolution.
func CaseBreakProductFrom(p domain.Product) CaseBreakProduct {
	return CaseBreakProduct{
		ProductID:    p.ID,
		Name:         p.Name,
		UnitPrice:    p.Price,
		UnitsPerCase: p.UnitsPerCase,
		CasePrice:    p.CasePrice,
		TaxRate:      p.TaxRate,
		MinimumAge:   p.MinimumAge,
	}
}
