package pricing

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var hundred = decimal.NewFromInt(100)

// ErrInvalidAdjustment indicates a percentage outside [0,100] or a negative absolute discount.
var ErrInvalidAdjustment = errors.New("pricing: invalid adjustment")

// ErrEmptyRequest indicates a price request with neither items nor a service to look up.
var ErrEmptyRequest = errors.New("pricing: items or a service are required")

// Item is one priced line of a quotation.
type Item struct {
	UnitPrice   decimal.Decimal  `json:"unit_price"`
	Quantity    decimal.Decimal  `json:"quantity"`
	ServiceDays int              `json:"service_days,omitempty"`
	HoursPerDay int              `json:"hours_per_day,omitempty"`
	TotalPrice  *decimal.Decimal `json:"total_price,omitempty"`
	// TimeAdjustmentPercentage scales a computed line; a stored TotalPrice already includes it.
	TimeAdjustmentPercentage decimal.Decimal `json:"time_adjustment_percentage"`
}

// Units returns the multiplier applied to UnitPrice.
func (i Item) Units() decimal.Decimal {
	switch {
	case i.Quantity.IsPositive():
		return i.Quantity
	case i.ServiceDays > 0 && i.HoursPerDay > 0:
		return decimal.NewFromInt(int64(i.ServiceDays * i.HoursPerDay))
	case i.ServiceDays > 0:
		return decimal.NewFromInt(int64(i.ServiceDays))
	default:
		return decimal.NewFromInt(1)
	}
}

// LineTotal is the amount the line contributes before quotation level adjustments.
func (i Item) LineTotal() decimal.Decimal {
	line, _ := i.lineAmounts()
	return line
}

// lineAmounts returns the line amount and the part of it caused by the time adjustment.
func (i Item) lineAmounts() (line, adjustment decimal.Decimal) {
	if i.TotalPrice != nil {
		return *i.TotalPrice, decimal.Zero
	}
	gross := i.UnitPrice.Mul(i.Units())
	adjustment = gross.Mul(i.TimeAdjustmentPercentage).Div(hundred)
	return gross.Add(adjustment), adjustment
}

// Adjustments groups the quotation level discounts and tax.
type Adjustments struct {
	DiscountPercentage decimal.Decimal `json:"discount_percentage"`
	TaxPercentage      decimal.Decimal `json:"tax_percentage"`
	PromotionDiscount  decimal.Decimal `json:"promotion_discount"`
	PackageDiscount    decimal.Decimal `json:"package_discount"`
}

// Validate checks the adjustment ranges.
func (a Adjustments) Validate() error {
	if !inPercentRange(a.DiscountPercentage) {
		return fmt.Errorf("%w: discount percentage %s", ErrInvalidAdjustment, a.DiscountPercentage)
	}
	if !inPercentRange(a.TaxPercentage) {
		return fmt.Errorf("%w: tax percentage %s", ErrInvalidAdjustment, a.TaxPercentage)
	}
	if a.PromotionDiscount.IsNegative() {
		return fmt.Errorf("%w: promotion discount %s", ErrInvalidAdjustment, a.PromotionDiscount)
	}
	if a.PackageDiscount.IsNegative() {
		return fmt.Errorf("%w: package discount %s", ErrInvalidAdjustment, a.PackageDiscount)
	}
	return nil
}

func inPercentRange(v decimal.Decimal) bool {
	return !v.IsNegative() && v.LessThanOrEqual(hundred)
}

// Breakdown is the result of a price computation.
type Breakdown struct {
	Base              decimal.Decimal `json:"base"`
	TimeAdjustment    decimal.Decimal `json:"time_adjustment"`
	PercentDiscount   decimal.Decimal `json:"percent_discount"`
	PromotionDiscount decimal.Decimal `json:"promotion_discount"`
	PackageDiscount   decimal.Decimal `json:"package_discount"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Tax               decimal.Decimal `json:"tax"`
	Total             decimal.Decimal `json:"total"`
}

// DiscountTotal sums every discount that was requested, before clamping.
func (b Breakdown) DiscountTotal() decimal.Decimal {
	return b.PercentDiscount.Add(b.PromotionDiscount).Add(b.PackageDiscount)
}

// Round rounds every amount to the minor unit of the given ISO 4217 currency.
// Unknown codes fall back to two decimals.
func (b Breakdown) Round(code string) Breakdown {
	places := int32(MinorUnits(code))
	return Breakdown{
		Base:              b.Base.Round(places),
		TimeAdjustment:    b.TimeAdjustment.Round(places),
		PercentDiscount:   b.PercentDiscount.Round(places),
		PromotionDiscount: b.PromotionDiscount.Round(places),
		PackageDiscount:   b.PackageDiscount.Round(places),
		Subtotal:          b.Subtotal.Round(places),
		Tax:               b.Tax.Round(places),
		Total:             b.Total.Round(places),
	}
}

// MinorUnits returns the number of decimals used for the currency.
func MinorUnits(code string) int {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// Calculate turns item prices and adjustments into a payable total.
// Order is fixed: percentage discount, then absolute discounts, then tax on the clamped subtotal.
func Calculate(items []Item, adj Adjustments) (Breakdown, error) {
	if err := adj.Validate(); err != nil {
		return Breakdown{}, err
	}

	var b Breakdown
	for _, item := range items {
		line, timeAdj := item.lineAmounts()
		b.Base = b.Base.Add(line)
		b.TimeAdjustment = b.TimeAdjustment.Add(timeAdj)
	}

	b.PercentDiscount = b.Base.Mul(adj.DiscountPercentage).Div(hundred)
	b.PromotionDiscount = adj.PromotionDiscount
	b.PackageDiscount = adj.PackageDiscount

	b.Subtotal = b.Base.Sub(b.DiscountTotal())
	if b.Subtotal.IsNegative() {
		b.Subtotal = decimal.Zero
	}
	b.Tax = b.Subtotal.Mul(adj.TaxPercentage).Div(hundred)
	b.Total = b.Subtotal.Add(b.Tax)
	return b, nil
}
