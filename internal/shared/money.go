package shared

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// AmountTolerance is the accepted drift between a declared monetary amount
// and a derived one (chip value, residual outstanding credit). Amounts are
// rupees; the tolerance is one paisa.
const AmountTolerance = 0.01

// AmountsEqual reports whether two amounts match within AmountTolerance.
func AmountsEqual(a, b float64) bool {
	return math.Abs(a-b) <= AmountTolerance
}

var inr = message.NewPrinter(language.MustParse("en-IN"))

// FormatINR renders an amount with Indian digit grouping for human-readable
// summary messages, e.g. 150000 -> "₹1,50,000".
func FormatINR(amount float64) string {
	if amount == math.Trunc(amount) {
		return inr.Sprintf("₹%d", int64(amount))
	}
	return inr.Sprintf("₹%.2f", amount)
}
