package logging

import (
	"log/slog"
	"net/url"
	"strings"
)

// RedactedValue replaces sensitive values in log output.
const RedactedValue = "[REDACTED]"

// Keys whose values never reach the log sink. Matching is case-insensitive
// and ignores underscores, so "api_key" and "apiKey" are both caught.
var secretKeys = []string{"token", "secret", "apikey", "authorization", "password", "seed"}

// URL valued keys keep their host so operators can tell endpoints apart.
var urlKeys = map[string]struct{}{
	"callbackurl": {},
	"endpoint":    {},
	"url":         {},
}

func normalizeKey(key string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(key)), "_", "")
}

// IsSecretKey reports whether values logged under key are masked.
func IsSecretKey(key string) bool {
	normalized := normalizeKey(key)
	for _, marker := range secretKeys {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// MaskURL keeps the scheme and host of a URL and hides its path and query,
// which often embed webhook tokens.
func MaskURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return trimmed
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || parsed.Host == "" {
		return RedactedValue
	}
	if parsed.Path == "" && parsed.RawQuery == "" {
		return parsed.Scheme + "://" + parsed.Host
	}
	return parsed.Scheme + "://" + parsed.Host + "/" + RedactedValue
}

// redactAttr is applied to every attribute written by NewHandler.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || attr.Value.String() == "" {
		return attr
	}
	if IsSecretKey(attr.Key) {
		return slog.String(attr.Key, RedactedValue)
	}
	if _, ok := urlKeys[normalizeKey(attr.Key)]; ok {
		return slog.String(attr.Key, MaskURL(attr.Value.String()))
	}
	return attr
}
