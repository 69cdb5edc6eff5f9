package view

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.MustParse("en-PH"))

// FormatPeso renders amount as Philippine pesos with two decimals.
func FormatPeso(amount float64) string {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		amount = 0
	}
	sign := ""
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return sign + "₱" + printer.Sprint(number.Decimal(amount, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
}

// FormatNumber renders n with thousands separators.
func FormatNumber(n int) string {
	return printer.Sprint(number.Decimal(n))
}
