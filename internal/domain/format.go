package domain

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// FormatCount renders a count with thousands separators. Absent values
// render as "0". Negative values keep their sign; no "+" prefix is added.
func FormatCount(v *int64) string {
	if v == nil {
		return "0"
	}
	return printer.Sprintf("%d", *v)
}
