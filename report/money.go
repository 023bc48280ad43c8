package report

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/charterdesk/charterdesk/internal/pricing"
)

// Money formats an amount with the currency's minor units and thousands separators,
// e.g. "JPY 9,350" or "USD 1,234.50".
func Money(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(code)
	s := amount.StringFixed(int32(pricing.MinorUnits(code)))

	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	out := code + " " + sign + b.String()
	if frac != "" {
		out += "." + frac
	}
	return out
}
