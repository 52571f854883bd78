package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func ratePtr(v float64) *float64 { return &v }

func TestComputeLineWithTax(t *testing.T) {
	got := ComputeLine(1000, 3, 0, ratePtr(10))
	assert.Equal(t, LineAmounts{GrossCents: 3000, BaseCents: 3000, TaxCents: 300, TotalCents: 3300}, got)
}

func TestComputeLineClampsDiscount(t *testing.T) {
	negative := ComputeLine(500, 2, -300, nil)
	assert.Equal(t, int64(0), negative.DiscountCents)
	assert.Equal(t, int64(1000), negative.TotalCents)

	oversized := ComputeLine(500, 2, 5000, ratePtr(19))
	assert.Equal(t, int64(0), oversized.BaseCents)
	assert.Equal(t, int64(0), oversized.TaxCents)
	assert.Equal(t, int64(0), oversized.TotalCents)
}

func TestComputeLineRoundsTaxToNearest(t *testing.T) {
	got := ComputeLine(333, 1, 0, ratePtr(19))
	assert.Equal(t, int64(63), got.TaxCents)
	assert.Equal(t, int64(396), got.TotalCents)
}

func TestUnitRefundUsesFlooredPerUnitDiscount(t *testing.T) {
	item := SaleItem{UnitPriceCents: 1000, Qty: 3, LineDiscountCents: 100, TaxRate: ratePtr(10)}

	one := UnitRefund(item, 1)
	assert.Equal(t, int64(967), one.BaseCents)
	assert.Equal(t, int64(97), one.TaxCents)
	assert.Equal(t, int64(1064), one.TotalCents)

	two := UnitRefund(item, 2)
	assert.Equal(t, int64(1934), two.BaseCents)
	assert.Equal(t, int64(2127), two.TotalCents)
}

func TestCostTotalCents(t *testing.T) {
	cost, discount, tax := int64(250), int64(100), int64(40)
	move := InventoryMove{Qty: -4, UnitCostCents: &cost, DiscountCents: &discount, TaxCents: &tax}
	total := move.CostTotalCents()
	if assert.NotNil(t, total) {
		assert.Equal(t, int64(940), *total)
	}

	assert.Nil(t, InventoryMove{Qty: 4}.CostTotalCents())
}
