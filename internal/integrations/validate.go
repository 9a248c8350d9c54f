package integrations

import (
	"math"
	"strconv"
	"strings"
	"unicode"

	"orderhub/internal/model"
)

// statusSynonyms covers vocabulary platforms commonly use for our statuses.
var statusSynonyms = map[string]model.OrderStatus{
	"new":        model.StatusReceived,
	"accepted":   model.StatusConfirmed,
	"cooking":    model.StatusPreparing,
	"cooked":     model.StatusReady,
	"dispatched": model.StatusOutForDelivery,
	"completed":  model.StatusDelivered,
	"rejected":   model.StatusCancelled,
}

// ValidateOrderStatus maps a raw platform status onto the unified
// vocabulary. Matching ignores case and anything that is not a letter, so
// "Out-For-Delivery" and "OUT_FOR_DELIVERY" both match. Unrecognized values
// fall back to received.
func ValidateOrderStatus(raw string) model.OrderStatus {
	key := lettersOnly(raw)
	for _, s := range model.Statuses {
		if lettersOnly(string(s)) == key {
			return s
		}
	}
	if s, ok := statusSynonyms[key]; ok {
		return s
	}
	return model.StatusReceived
}

func lettersOnly(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidatePrice coerces a string or number to a non-negative amount rounded
// to 2 decimals.
func ValidatePrice(raw any) (float64, error) {
	var v float64
	switch p := raw.(type) {
	case float64:
		v = p
	case float32:
		v = float64(p)
	case int:
		v = float64(p)
	case int64:
		v = float64(p)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return 0, &InvalidPriceError{Value: raw}
		}
		v = f
	default:
		return 0, &InvalidPriceError{Value: raw}
	}
	if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 {
		return 0, &InvalidPriceError{Value: raw}
	}
	return model.RoundMoney(v), nil
}

// ValidatePhoneNumber strips everything except digits and '+', requiring at
// least 10 digits to remain.
func ValidatePhoneNumber(raw string) (string, error) {
	var b strings.Builder
	digits := 0
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits++
			b.WriteRune(r)
		case r == '+':
			b.WriteRune(r)
		}
	}
	if digits < 10 {
		return "", &InvalidPhoneError{Value: raw}
	}
	return b.String(), nil
}
