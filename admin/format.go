package admin

import (
	"strconv"
	"strings"

	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var frPrinter = message.NewPrinter(language.French)

// FormatAmount renders an amount the way the dashboard does: French digit
// grouping, no decimals, followed by the ISO currency code
// ("1 234 567 XOF"). Unknown currency codes fall back to the bare number.
func FormatAmount(amount int64, cur string) string {
	code := strings.ToUpper(strings.TrimSpace(cur))
	if _, err := currency.ParseISO(code); err != nil {
		return strings.TrimSpace(strconv.FormatInt(amount, 10) + " " + cur)
	}
	return frPrinter.Sprint(number.Decimal(amount, number.MaxFractionDigits(0))) + " " + code
}
