// Package dashboard renders screening results for the terminal.
package dashboard

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int) string {
	digits := strconv.Itoa(n)
	sign := ""
	if n < 0 {
		sign, digits = "-", digits[1:]
	}
	groups := make([]string, 0, len(digits)/3+1)
	for len(digits) > 3 {
		groups = append([]string{digits[len(digits)-3:]}, groups...)
		digits = digits[:len(digits)-3]
	}
	groups = append([]string{digits}, groups...)
	return sign + strings.Join(groups, ",")
}

// FormatMoney formats a dollar value with comma separators and cents.
func FormatMoney(v float64) string {
	cents := int(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("%s.%02d", FormatInt(cents/100), cents%100)
	if v < 0 {
		return "-" + s
	}
	return s
}

// FormatPct formats a fraction as a signed percentage, "+1.2%" or "-0.4%".
// Drops the decimal at 100% or more to keep width compact.
func FormatPct(f float64) string {
	pct := f * 100
	if math.Abs(pct) >= 100 {
		return fmt.Sprintf("%+.0f%%", pct)
	}
	return fmt.Sprintf("%+.1f%%", pct)
}

// FormatRatio formats a ratio to two places; the profit-factor sentinel is
// shown as "inf".
func FormatRatio(r float64, sentinel float64) string {
	if sentinel != 0 && r == sentinel {
		return "inf"
	}
	return fmt.Sprintf("%.2f", r)
}

// padOrTrunc pads s with spaces or truncates it to exactly width bytes.
func padOrTrunc(s string, width int) string {
	n := len(s)
	if n >= width {
		return s[:width]
	}
	return s + strings.Repeat(" ", width-n)
}
