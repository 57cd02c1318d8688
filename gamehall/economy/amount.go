package economy

import (
	"fmt"
	"strconv"
)

// Amount is a fixed-point integer quantity of a currency. Every currency is
// stored at its own scale (minor units), so arithmetic never mixes integer
// widths.
type Amount = int64

type Currency string

const (
	CurrencyEternite Currency = "eternite" // premium event currency
	CurrencyLumen    Currency = "lumen"    // soft currency
	CurrencyIDR      Currency = "idr"
	CurrencyUSD      Currency = "usd"
)

type currencyInfo struct {
	Display string
	Scale   int64 // minor units per displayed unit
}

var currencies = map[Currency]currencyInfo{
	CurrencyEternite: {Display: "Eternites", Scale: 1},
	CurrencyLumen:    {Display: "Lumens", Scale: 1},
	CurrencyIDR:      {Display: "IDR", Scale: 1},
	CurrencyUSD:      {Display: "USD", Scale: 100},
}

// KnownCurrency reports whether c is part of the event economy.
func KnownCurrency(c Currency) bool {
	_, ok := currencies[c]
	return ok
}

// DisplayName returns the user-facing name of a currency, falling back to the
// raw code for unknown ones.
func DisplayName(c Currency) string {
	if info, ok := currencies[c]; ok {
		return info.Display
	}
	return string(c)
}

// FormatCurrencyAmount renders a stored amount in the display units of its
// currency: USD is stored in cents, so 303 -> "3.03". Scale-1 currencies and
// unknown codes format like FormatAmount.
func FormatCurrencyAmount(c Currency, v Amount) string {
	info, ok := currencies[c]
	if !ok || info.Scale <= 1 {
		return FormatAmount(v)
	}
	neg := v < 0
	if neg {
		v = -v
	}
	fracWidth := len(strconv.FormatInt(info.Scale-1, 10))
	s := fmt.Sprintf("%s.%0*d", FormatAmount(v/info.Scale), fracWidth, v%info.Scale)
	if neg {
		return "-" + s
	}
	return s
}

// FormatAmount renders an amount with thousands separators, e.g. 12000 ->
// "12,000". Suitable for direct display in action messages.
func FormatAmount(v Amount) string {
	neg := v < 0
	if neg {
		v = -v
	}
	s := strconv.FormatInt(v, 10)
	if len(s) > 3 {
		var out []byte
		lead := len(s) % 3
		if lead > 0 {
			out = append(out, s[:lead]...)
		}
		for i := lead; i < len(s); i += 3 {
			if len(out) > 0 {
				out = append(out, ',')
			}
			out = append(out, s[i:i+3]...)
		}
		s = string(out)
	}
	if neg {
		return "-" + s
	}
	return s
}
