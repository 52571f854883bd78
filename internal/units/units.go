package units

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Category is the physical dimension a product's stock balance is kept in.
type Category string

const (
	CategoryCount  Category = "COUNT"
	CategoryVolume Category = "VOLUME"
	CategoryMass   Category = "MASS"
)

// Canonical unit labels. Stock balances are always stored in one of these.
const (
	UnitCount = "UNIT"
	UnitML    = "ML"
	UnitGram  = "G"
)

const (
	kindStandard = "STANDARD"
	kindBase     = "BASE"
	kindAccomp   = "ACCOMP"
	kindCocktail = "COCKTAIL"
)

var (
	ErrInvalidUnit     = errors.New("invalid unit")
	ErrInvalidQuantity = errors.New("invalid quantity")
)

var volumeToML = map[string]float64{
	"ML":   1,
	"CL":   10,
	"L":    1000,
	"OZ":   29.57,
	"SHOT": 44,
}

var massToG = map[string]float64{
	"G":  1,
	"KG": 1000,
	"LB": 453.592,
}

// ceilTolerance keeps float noise (0.3*10 = 3.0000000000000004) from
// rounding an exact canonical value up by one.
const ceilTolerance = 1e-9

// CanonicalUnit returns the unit label balances of this category are stored in.
func (c Category) CanonicalUnit() string {
	switch c {
	case CategoryVolume:
		return UnitML
	case CategoryMass:
		return UnitGram
	default:
		return UnitCount
	}
}

// Normalize upper-cases and trims a unit label.
func Normalize(unit string) string {
	return strings.ToUpper(strings.TrimSpace(unit))
}

// CategoryOfMeasure maps a canonical measure label to its category.
func CategoryOfMeasure(measure string) (Category, error) {
	switch Normalize(measure) {
	case "", UnitCount:
		return CategoryCount, nil
	case UnitML:
		return CategoryVolume, nil
	case UnitGram:
		return CategoryMass, nil
	default:
		return "", fmt.Errorf("%w: unknown measure %q", ErrInvalidUnit, measure)
	}
}

// CategoryFor resolves the stock category of a product from its kind and measure.
// BASE products are always volume; COCKTAIL products carry no stock.
func CategoryFor(kind string, measure string) (Category, error) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case kindBase:
		return CategoryVolume, nil
	case kindStandard, kindAccomp, "":
		return CategoryOfMeasure(measure)
	case kindCocktail:
		return "", fmt.Errorf("%w: cocktail products are not stock tracked", ErrInvalidUnit)
	default:
		return "", fmt.Errorf("%w: unknown product kind %q", ErrInvalidUnit, kind)
	}
}

// NormalizeMeasure returns the measure label a product of the given kind is stored with.
func NormalizeMeasure(kind string, measure string) (string, error) {
	switch strings.ToUpper(strings.TrimSpace(kind)) {
	case kindBase:
		return UnitML, nil
	case kindCocktail:
		return "", nil
	}
	category, err := CategoryFor(kind, measure)
	if err != nil {
		return "", err
	}
	return category.CanonicalUnit(), nil
}

// Factor returns the multiplier from unit to the category's canonical unit.
func Factor(category Category, unit string) (float64, error) {
	unit = Normalize(unit)
	if unit == "" {
		unit = category.CanonicalUnit()
	}

	var (
		factor float64
		ok     bool
	)
	switch category {
	case CategoryCount:
		factor, ok = 1, unit == UnitCount
	case CategoryVolume:
		factor, ok = volumeToML[unit]
	case CategoryMass:
		factor, ok = massToG[unit]
	default:
		return 0, fmt.Errorf("%w: unknown category %q", ErrInvalidUnit, category)
	}
	if !ok {
		return 0, fmt.Errorf("%w: %q is not a %s unit", ErrInvalidUnit, unit, strings.ToLower(string(category)))
	}
	return factor, nil
}

// ToCanonical converts qty expressed in unit into canonical units of category.
func ToCanonical(category Category, unit string, qty float64) (int64, error) {
	return ToCanonicalScaled(category, unit, qty, 1)
}

// ToCanonicalScaled converts qty and multiplies by multiplier before the
// ceiling is taken, so the rounding happens once on the total.
func ToCanonicalScaled(category Category, unit string, qty float64, multiplier int64) (int64, error) {
	if math.IsNaN(qty) || math.IsInf(qty, 0) || qty <= 0 {
		return 0, fmt.Errorf("%w: %v", ErrInvalidQuantity, qty)
	}
	if multiplier < 1 {
		return 0, fmt.Errorf("%w: multiplier %d", ErrInvalidQuantity, multiplier)
	}

	factor, err := Factor(category, unit)
	if err != nil {
		return 0, err
	}

	if category == CategoryCount {
		if qty != math.Trunc(qty) {
			return 0, fmt.Errorf("%w: %v is not a whole number of units", ErrInvalidQuantity, qty)
		}
		return int64(qty) * multiplier, nil
	}

	total := int64(math.Ceil(qty*factor*float64(multiplier) - ceilTolerance))
	if total < 1 {
		total = 1
	}
	return total, nil
}

// Units lists the accepted unit labels for a category.
func Units(category Category) []string {
	switch category {
	case CategoryVolume:
		return []string{"ML", "CL", "L", "OZ", "SHOT"}
	case CategoryMass:
		return []string{"G", "KG", "LB"}
	default:
		return []string{UnitCount}
	}
}
