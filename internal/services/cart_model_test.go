package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/tillpoint/api/internal/domain"
)

func TestCart_AddMergesByIdentity(t *testing.T) {
	cart := NewCart()
	cart.AddItem(catalogItem("soda", "1.50", 1), 1)
	cart.AddItem(catalogItem("soda", "1.50", 1), 2)
	cart.AddItem(catalogItem("chips", "2.00", 1), 1)

	items := cart.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 3, items[0].Quantity)
	assert.Equal(t, 4, cart.ItemCount())
	assert.Equal(t, uint64(3), cart.Revision())
}

func TestCart_QuickAddNeverMerges(t *testing.T) {
	cart := NewCart()
	quick := domain.LineItem{ID: "quick-1", Name: "Ice", UnitPrice: dec("2.00"), Detail: domain.QuickAddDetail{}}
	cart.AddItem(quick, 1)
	cart.AddItem(quick, 1)

	assert.Equal(t, 2, cart.Len())
}

func TestCart_CaseBreakMergesPerVariant(t *testing.T) {
	product := CaseBreakProduct{ProductID: "beer", Name: "Beer", UnitPrice: dec("2.00"), UnitsPerCase: 24}
	variants := ResolveCaseBreak(product)

	cart := NewCart()
	cart.AddItem(variants[0].LineItem(product), 1)
	cart.AddItem(variants[0].LineItem(product), 1)
	cart.AddItem(variants[2].LineItem(product), 1)

	items := cart.Items()
	require.Len(t, items, 2)
	assert.Equal(t, 2, items[0].Quantity)
	assert.Equal(t, "Beer (Case of 24)", items[1].Name)
}

func TestCart_SetQuantityBelowOneRemoves(t *testing.T) {
	cart := NewCart()
	cart.AddItem(catalogItem("soda", "1.50", 1), 1)
	cart.SetQuantity(0, 0)

	assert.Equal(t, 0, cart.Len())
}

func TestCart_ClampsDiscountAndPrice(t *testing.T) {
	cart := NewCart()
	cart.AddItem(catalogItem("soda", "1.50", 1), 1)
	cart.SetItemDiscountPercent(0, dec("150"))
	cart.SetItemPrice(0, dec("-3"))

	item := cart.Items()[0]
	assertMoney(t, "100", item.DiscountPercent, "discount")
	assertMoney(t, "0", item.UnitPrice, "price")

	cart.SetItemDiscountPercent(0, dec("-5"))
	assertMoney(t, "0", cart.Items()[0].DiscountPercent, "discount")
}

func TestCart_OutOfRangeIsNoop(t *testing.T) {
	cart := NewCart()
	cart.AddItem(catalogItem("soda", "1.50", 1), 1)
	rev := cart.Revision()

	cart.RemoveItem(5)
	cart.SetQuantity(-1, 3)
	cart.SetItemPrice(1, dec("9"))

	assert.Equal(t, rev, cart.Revision())
	assert.Equal(t, 1, cart.Len())
}

func TestCart_ItemsReturnsCopy(t *testing.T) {
	cart := NewCart()
	cart.AddItem(catalogItem("soda", "1.50", 1), 1)
	items := cart.Items()
	items[0].Quantity = 99

	assert.Equal(t, 1, cart.Items()[0].Quantity)
}

func TestCart_ClearAlwaysAdvancesRevision(t *testing.T) {
	cart := NewCart()
	cart.Clear()
	assert.Equal(t, uint64(1), cart.Revision())
}
