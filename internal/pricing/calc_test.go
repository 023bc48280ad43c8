package pricing

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestCalculateDiscountThenTax(t *testing.T) {
	items := []Item{{UnitPrice: dec("10000"), Quantity: dec("1")}}
	adj := Adjustments{
		DiscountPercentage: dec("10"),
		PromotionDiscount:  dec("500"),
		TaxPercentage:      dec("10"),
	}

	b, err := Calculate(items, adj)
	require.NoError(t, err)

	assert.True(t, b.Base.Equal(dec("10000")), "base %s", b.Base)
	assert.True(t, b.PercentDiscount.Equal(dec("1000")), "percent discount %s", b.PercentDiscount)
	assert.True(t, b.Subtotal.Equal(dec("8500")), "subtotal %s", b.Subtotal)
	assert.True(t, b.Tax.Equal(dec("850")), "tax %s", b.Tax)
	assert.True(t, b.Total.Equal(dec("9350")), "total %s", b.Total)
	assert.True(t, b.DiscountTotal().Equal(dec("1500")))
}

func TestCalculateClampsSubtotalAtZero(t *testing.T) {
	items := []Item{{UnitPrice: dec("1000"), Quantity: dec("1")}}
	adj := Adjustments{
		PromotionDiscount: dec("800"),
		PackageDiscount:   dec("700"),
		TaxPercentage:     dec("10"),
	}

	b, err := Calculate(items, adj)
	require.NoError(t, err)
	assert.True(t, b.Subtotal.IsZero())
	assert.True(t, b.Tax.IsZero())
	assert.True(t, b.Total.IsZero())
}

func TestCalculateEmptyItems(t *testing.T) {
	b, err := Calculate(nil, Adjustments{TaxPercentage: dec("10")})
	require.NoError(t, err)
	assert.True(t, b.Total.IsZero())
}

func TestCalculateRejectsInvalidAdjustments(t *testing.T) {
	cases := map[string]Adjustments{
		"negative discount":  {DiscountPercentage: dec("-1")},
		"discount over 100":  {DiscountPercentage: dec("100.5")},
		"tax over 100":       {TaxPercentage: dec("101")},
		"negative promotion": {PromotionDiscount: dec("-10")},
		"negative package":   {PackageDiscount: dec("-0.01")},
	}
	for name, adj := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Calculate([]Item{{UnitPrice: dec("100"), Quantity: dec("1")}}, adj)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidAdjustment))
		})
	}
}

func TestCalculateMonotonic(t *testing.T) {
	items := []Item{
		{UnitPrice: dec("12000"), Quantity: dec("2")},
		{UnitPrice: dec("3500"), ServiceDays: 2, HoursPerDay: 3},
	}
	percents := []string{"0", "5", "25", "50", "100"}
	absolutes := []string{"0", "100", "5000", "50000"}
	backgrounds := []Adjustments{
		{},
		{DiscountPercentage: dec("10"), TaxPercentage: dec("8"), PromotionDiscount: dec("500"), PackageDiscount: dec("1000")},
		{DiscountPercentage: dec("30"), TaxPercentage: dec("10"), PromotionDiscount: dec("2000"), PackageDiscount: dec("250")},
	}
	sweeps := []struct {
		name       string
		values     []string
		increasing bool
		set        func(*Adjustments, decimal.Decimal)
	}{
		{"discount", percents, false, func(a *Adjustments, v decimal.Decimal) { a.DiscountPercentage = v }},
		{"promotion", absolutes, false, func(a *Adjustments, v decimal.Decimal) { a.PromotionDiscount = v }},
		{"package", absolutes, false, func(a *Adjustments, v decimal.Decimal) { a.PackageDiscount = v }},
		{"tax", percents, true, func(a *Adjustments, v decimal.Decimal) { a.TaxPercentage = v }},
	}

	for _, sw := range sweeps {
		for i, bg := range backgrounds {
			var prev decimal.Decimal
			for j, v := range sw.values {
				adj := bg
				sw.set(&adj, dec(v))
				b, err := Calculate(items, adj)
				require.NoError(t, err)
				assert.False(t, b.Total.IsNegative())
				if j > 0 {
					if sw.increasing {
						assert.True(t, b.Total.GreaterThanOrEqual(prev), "%s background %d value %s: %s < %s", sw.name, i, v, b.Total, prev)
					} else {
						assert.True(t, b.Total.LessThanOrEqual(prev), "%s background %d value %s: %s > %s", sw.name, i, v, b.Total, prev)
					}
				}
				prev = b.Total
			}
		}
	}
}

func TestItemUnits(t *testing.T) {
	assert.True(t, Item{Quantity: dec("3")}.Units().Equal(dec("3")))
	assert.True(t, Item{ServiceDays: 2, HoursPerDay: 4}.Units().Equal(dec("8")))
	assert.True(t, Item{ServiceDays: 3}.Units().Equal(dec("3")))
	assert.True(t, Item{}.Units().Equal(dec("1")))
}

func TestItemTotalPriceOverridesComputation(t *testing.T) {
	total := dec("7777")
	items := []Item{{UnitPrice: dec("1000"), Quantity: dec("5"), TotalPrice: &total, TimeAdjustmentPercentage: dec("20")}}

	b, err := Calculate(items, Adjustments{})
	require.NoError(t, err)
	assert.True(t, b.Base.Equal(total))
	assert.True(t, b.TimeAdjustment.IsZero())
}

func TestItemTimeAdjustment(t *testing.T) {
	items := []Item{{UnitPrice: dec("5000"), Quantity: dec("2"), TimeAdjustmentPercentage: dec("25")}}

	b, err := Calculate(items, Adjustments{})
	require.NoError(t, err)
	assert.True(t, b.Base.Equal(dec("12500")), "base %s", b.Base)
	assert.True(t, b.TimeAdjustment.Equal(dec("2500")))
}

func TestBreakdownRound(t *testing.T) {
	b := Breakdown{Total: dec("1234.567"), Tax: dec("0.125")}

	assert.Equal(t, "1235", b.Round("JPY").Total.String())
	assert.Equal(t, "1234.57", b.Round("USD").Total.String())
	assert.Equal(t, "0.13", b.Round("not-a-code").Tax.String())
	assert.Equal(t, 0, MinorUnits("JPY"))
	assert.Equal(t, 2, MinorUnits("EUR"))
}
