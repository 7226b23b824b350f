package observability

import (
	"strings"
	"unicode"
)

// Per-field length caps. Request paths can carry long opaque page tokens, so
// routes get more room than the rest.
const (
	maxFieldLen  = 256
	maxRouteLen  = 180
	maxMethodLen = 10
	maxUserIDLen = 64
)

// sanitizeString strips control characters and caps length so attacker
// supplied values cannot inject log lines or bloat entries.
func sanitizeString(value string, limit int) string {
	if limit <= 0 {
		limit = maxFieldLen
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, value)
	if len(cleaned) > limit {
		runes := []rune(cleaned)
		if len(runes) > limit {
			cleaned = string(runes[:limit])
		}
	}
	return cleaned
}

func sanitizeRoute(route string) string {
	if route == "" {
		return "/"
	}
	return sanitizeString(route, maxRouteLen)
}

func sanitizeMethod(method string) string {
	return sanitizeString(method, maxMethodLen)
}

// sanitizeUserID caps identifiers so logs carry enough to correlate a user
// without recording arbitrary-length input.
func sanitizeUserID(uid string) string {
	if uid == "" {
		return ""
	}
	return sanitizeString(uid, maxUserIDLen)
}
