package domain

import "math"

// LineAmounts is the money breakdown of one sale, tab or refund line.
type LineAmounts struct {
	GrossCents    int64
	DiscountCents int64
	BaseCents     int64
	TaxCents      int64
	TotalCents    int64
}

// ComputeLine applies the shared line formula: discount is floored at zero,
// the taxable base never goes negative and tax rounds to the nearest cent.
func ComputeLine(unitPriceCents int64, qty int64, lineDiscountCents int64, taxRate *float64) LineAmounts {
	gross := unitPriceCents * qty
	discount := max(0, lineDiscountCents)
	base := max(0, gross-discount)

	var tax int64
	if taxRate != nil {
		tax = int64(math.Round(float64(base) * *taxRate / 100))
	}

	return LineAmounts{
		GrossCents:    gross,
		DiscountCents: discount,
		BaseCents:     base,
		TaxCents:      tax,
		TotalCents:    base + tax,
	}
}

// UnitRefund derives the refund for qty returned units of a sold line from the
// line snapshot: unit price, the per-unit share of the line discount (floored)
// and the line's tax rate.
func UnitRefund(item SaleItem, qty int64) LineAmounts {
	perUnitDiscount := int64(0)
	if item.Qty > 0 && item.LineDiscountCents > 0 {
		perUnitDiscount = item.LineDiscountCents / item.Qty
	}
	return ComputeLine(item.UnitPriceCents, qty, perUnitDiscount*qty, item.TaxRate)
}
