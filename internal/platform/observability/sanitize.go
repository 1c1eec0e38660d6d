package observability

import (
	"strings"
	"unicode"
)

const (
	maxRouteLength   = 180
	maxMethodLength  = 10
	maxStationLength = 64
)

// clip drops control characters (keeping tabs and line breaks) and caps the result at limit runes.
func clip(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, value)
	if runes := []rune(cleaned); len(runes) > limit {
		return string(runes[:limit])
	}
	return cleaned
}

// SanitizeRoute bounds a route pattern for log and span attributes.
func SanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return clip(route, maxRouteLength)
}

func SanitizeMethod(method string) string {
	return clip(method, maxMethodLength)
}

// SanitizeStation bounds register identifiers taken from request paths.
func SanitizeStation(id string) string {
	return clip(strings.TrimSpace(id), maxStationLength)
}
