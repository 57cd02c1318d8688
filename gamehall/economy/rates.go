package economy

// Exchange rates are expressed as the IDR value of one minor unit of each
// currency. converted = amount * rateFrom / rateTo, floored. The table is
// fixed for the lifetime of the event.
var exchangeRates = map[Currency]int64{
	CurrencyIDR:      1,
	CurrencyUSD:      165,   // one cent
	CurrencyEternite: 500,
	CurrencyLumen:    25,
}

// ConvertAmount computes the target amount for a currency conversion.
// Self-conversion, unknown currencies and conversions that floor to zero are
// rejected; flooring may lose the remainder but can never gain value.
func ConvertAmount(amount Amount, from, to Currency) (Amount, error) {
	if from == to {
		return 0, &ConversionError{From: from, To: to, Reason: "source and target are the same currency"}
	}
	rateFrom, ok := exchangeRates[from]
	if !ok {
		return 0, &ConversionError{From: from, To: to, Reason: "unknown source currency"}
	}
	rateTo, ok := exchangeRates[to]
	if !ok {
		return 0, &ConversionError{From: from, To: to, Reason: "unknown target currency"}
	}
	if amount <= 0 {
		return 0, &ConversionError{From: from, To: to, Reason: "amount must be positive"}
	}
	converted := amount * rateFrom / rateTo
	if converted <= 0 {
		return 0, &ConversionError{From: from, To: to, Reason: "amount is too small to convert"}
	}
	return converted, nil
}
