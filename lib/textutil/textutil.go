package textutil

import (
	"regexp"
	"strings"
)

var whitespaceRegex = regexp.MustCompile(`\s+`)

// NormalizeName lowercases a name and removes all whitespace, so that labels
// like "Gross  Sales" and "gross sales" compare equal.
func NormalizeName(name string) string {
	name = strings.ToLower(name)
	name = strings.Trim(name, " \n\t")
	name = whitespaceRegex.ReplaceAllString(name, "")
	return name
}

// MatchName reports whether the normalized name contains any of the (already normalized) matchers.
func MatchName(name string, matchers []string) bool {
	name = NormalizeName(name)
	for _, m := range matchers {
		if strings.Contains(name, m) {
			return true
		}
	}
	return false
}

// ContainsAll reports whether text mentions every one of the names, ignoring case and whitespace.
func ContainsAll(text string, names ...string) bool {
	text = NormalizeName(text)
	for _, n := range names {
		if !strings.Contains(text, NormalizeName(n)) {
			return false
		}
	}
	return true
}
