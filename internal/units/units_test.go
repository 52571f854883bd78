package units

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToCanonicalReferenceValues(t *testing.T) {
	liters, err := ToCanonical(CategoryVolume, "L", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), liters)

	kilos, err := ToCanonical(CategoryMass, "KG", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), kilos)

	units, err := ToCanonical(CategoryCount, "UNIT", 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), units)
}

func TestToCanonicalRoundsUp(t *testing.T) {
	cases := []struct {
		category Category
		unit     string
		qty      float64
		want     int64
	}{
		{CategoryVolume, "OZ", 1.5, 45},
		{CategoryVolume, "OZ", 1, 30},
		{CategoryVolume, "SHOT", 1, 44},
		{CategoryVolume, "CL", 0.3, 3},
		{CategoryVolume, "ml", 45, 45},
		{CategoryVolume, "", 12.2, 13},
		{CategoryMass, "LB", 1, 454},
		{CategoryMass, "g", 0.4, 1},
	}

	for _, tc := range cases {
		got, err := ToCanonical(tc.category, tc.unit, tc.qty)
		require.NoError(t, err, "%s %v", tc.unit, tc.qty)
		assert.Equal(t, tc.want, got, "%s %v", tc.unit, tc.qty)
	}
}

func TestToCanonicalScaledTakesCeilingOnTotal(t *testing.T) {
	perUnit, err := ToCanonical(CategoryVolume, "OZ", 1.5)
	require.NoError(t, err)
	assert.Equal(t, int64(45), perUnit)

	total, err := ToCanonicalScaled(CategoryVolume, "OZ", 1.5, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(89), total)

	exact, err := ToCanonicalScaled(CategoryVolume, "ML", 30, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(60), exact)
}

func TestToCanonicalIsMonotonic(t *testing.T) {
	for _, category := range []Category{CategoryVolume, CategoryMass} {
		for _, unit := range Units(category) {
			prev := int64(0)
			for step := 1; step <= 400; step++ {
				qty := float64(step) * 0.25
				got, err := ToCanonical(category, unit, qty)
				require.NoError(t, err)
				require.GreaterOrEqual(t, got, prev, "%s %s %v", category, unit, qty)
				prev = got
			}
		}
	}

	prev := int64(0)
	for qty := 1; qty <= 50; qty++ {
		got, err := ToCanonical(CategoryCount, UnitCount, float64(qty))
		require.NoError(t, err)
		require.Greater(t, got, prev)
		prev = got
	}
}

func TestToCanonicalRejectsUnknownUnits(t *testing.T) {
	_, err := ToCanonical(CategoryVolume, "KG", 1)
	assert.ErrorIs(t, err, ErrInvalidUnit)

	_, err = ToCanonical(CategoryMass, "ML", 1)
	assert.ErrorIs(t, err, ErrInvalidUnit)

	_, err = ToCanonical(CategoryCount, "ML", 1)
	assert.ErrorIs(t, err, ErrInvalidUnit)

	_, err = ToCanonical(Category("WEIGHT"), "G", 1)
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestToCanonicalRejectsBadQuantities(t *testing.T) {
	for _, qty := range []float64{0, -1, math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, err := ToCanonical(CategoryVolume, "ML", qty)
		assert.ErrorIs(t, err, ErrInvalidQuantity, "qty %v", qty)
	}

	_, err := ToCanonical(CategoryCount, UnitCount, 1.5)
	assert.ErrorIs(t, err, ErrInvalidQuantity)

	_, err = ToCanonicalScaled(CategoryVolume, "ML", 1, 0)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCategoryFor(t *testing.T) {
	category, err := CategoryFor("BASE", "G")
	require.NoError(t, err)
	assert.Equal(t, CategoryVolume, category)

	category, err = CategoryFor("ACCOMP", "")
	require.NoError(t, err)
	assert.Equal(t, CategoryCount, category)

	category, err = CategoryFor("STANDARD", "g")
	require.NoError(t, err)
	assert.Equal(t, CategoryMass, category)

	_, err = CategoryFor("COCKTAIL", "")
	assert.ErrorIs(t, err, ErrInvalidUnit)

	_, err = CategoryFor("ACCOMP", "OZ")
	assert.ErrorIs(t, err, ErrInvalidUnit)
}

func TestNormalizeMeasure(t *testing.T) {
	measure, err := NormalizeMeasure("BASE", "")
	require.NoError(t, err)
	assert.Equal(t, UnitML, measure)

	measure, err = NormalizeMeasure("COCKTAIL", "ML")
	require.NoError(t, err)
	assert.Equal(t, "", measure)

	measure, err = NormalizeMeasure("ACCOMP", " ml ")
	require.NoError(t, err)
	assert.Equal(t, UnitML, measure)
}
