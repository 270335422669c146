package parsers

import (
	"strconv"
	"strings"

	"dmr/config"

	"github.com/shopspring/decimal"
)

var valueReplacer = strings.NewReplacer(
	"R", "",
	"$", "",
	"€", "",
	"£", "",
	",", "",
	"%", "",
)

// NormalizeDecimal converts report text such as "R1,234.50" or "12.5%" into a
// decimal. Blank text is zero; text that is still not numeric after cleaning
// is logged and returned as null.
func NormalizeDecimal(text string) decimal.NullDecimal {
	s := stripSpaces(valueReplacer.Replace(text))
	s = fixMinusSign(s)

	if s == "" {
		return decimal.NewNullDecimal(decimal.Zero)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		config.GetLogger().WithField("value", text).Warn("could not parse decimal value")
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// NormalizeInteger converts counts such as "1,234" into an integer. The second
// return value is false when the text is not a whole number.
func NormalizeInteger(text string) (int64, bool) {
	s := strings.ReplaceAll(text, ",", "")
	s = stripSpaces(s)
	if s == "" {
		return 0, true
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		config.GetLogger().WithField("value", text).Warn("could not parse integer value")
		return 0, false
	}
	return n, true
}

// fixMinusSign repositions stray minus signs:
//   - leading "-" with more "-" after it collapses to one leading "-"
//   - several "-" without a leading one means negative, all "-" removed
//   - a single trailing or embedded "-" is dropped
func fixMinusSign(s string) string {
	n := strings.Count(s, "-")
	if n == 0 {
		return s
	}
	digits := strings.ReplaceAll(s, "-", "")
	switch {
	case n > 1:
		return "-" + digits
	case !strings.HasPrefix(s, "-"):
		return digits
	}
	return s
}

func stripSpaces(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', '\u00a0', '\u2009', '\u202f':
			return -1
		}
		return r
	}, s)
}
