package observability

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxRouteLength  = 180
	maxMethodLength = 10
	maxActorLength  = 64
)

// cleanLogValue strips control characters, line breaks included, and caps the result at limit runes.
func cleanLogValue(value string, limit int) string {
	cleaned := strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if utf8.RuneCountInString(cleaned) <= limit {
		return cleaned
	}
	runes := []rune(cleaned)
	return string(runes[:limit])
}

// SanitizeRoute normalises a chi route pattern for logs and metric attributes.
func SanitizeRoute(route string) string {
	if strings.TrimSpace(route) == "" {
		return "/"
	}
	return cleanLogValue(route, maxRouteLength)
}

// SanitizeMethod normalises an HTTP method for logs.
func SanitizeMethod(method string) string {
	return strings.ToUpper(cleanLogValue(method, maxMethodLength))
}

// SanitizeUserID bounds buyer and identity identifiers written to request logs.
func SanitizeUserID(uid string) string {
	return cleanLogValue(strings.TrimSpace(uid), maxActorLength)
}
