package textutil

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/unicode/norm"
)

var strictPolicy = bluemonday.StrictPolicy()

// CleanLabel normalises cashier-typed text such as quick-add names and variance notes:
// markup is stripped, the result is NFC-normalised, control characters are dropped,
// whitespace runs collapse to one space and the result is capped at limit runes.
func CleanLabel(value string, limit int) string {
	if value == "" {
		return ""
	}
	stripped := html.UnescapeString(strictPolicy.Sanitize(value))
	stripped = norm.NFC.String(stripped)

	var b strings.Builder
	b.Grow(len(stripped))
	space := false
	count := 0
	for _, r := range strings.TrimSpace(stripped) {
		if limit > 0 && count >= limit {
			break
		}
		if unicode.IsSpace(r) {
			if !space {
				b.WriteRune(' ')
				count++
			}
			space = true
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		space = false
		b.WriteRune(r)
		count++
	}
	return strings.TrimSpace(b.String())
}

// NormalizeStringMap trims keys and values, removing entries with empty keys.
func NormalizeStringMap(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		result[trimmedKey] = strings.TrimSpace(value)
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
