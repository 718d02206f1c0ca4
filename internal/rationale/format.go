package rationale

import (
	"fmt"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Money formats v with thousands separators and two decimals.
func Money(v float64) string {
	return printer.Sprintf("%.2f", v)
}

// WholeMoney formats v with thousands separators and no decimals.
func WholeMoney(v float64) string {
	return printer.Sprintf("%.0f", v)
}

// Percent formats a utilisation percentage with no decimals.
func Percent(v float64) string {
	return fmt.Sprintf("%.0f", v)
}

// Price formats a unit price with two decimals and no separators.
func Price(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
