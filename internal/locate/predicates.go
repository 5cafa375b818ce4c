package locate

import (
	"strings"

	"livescrape/internal/extract"
)

func Currency(text string) bool {
	return extract.IsCurrency(text)
}

func BareInteger(text string) bool {
	return extract.IsBareInteger(text)
}

func CurrencyOrInteger(text string) bool {
	return Currency(text) || BareInteger(text)
}

func AnyText(text string) bool {
	return strings.TrimSpace(text) != ""
}
