package httputil

import (
	"net/url"
	"strings"
)

// SafeRedirect returns raw when it is a same-origin path, otherwise fallback.
// Absolute URLs, scheme-relative URLs and backslash tricks are rejected.
func SafeRedirect(raw, fallback string) string {
	if raw == "" || !strings.HasPrefix(raw, "/") || strings.HasPrefix(raw, "//") || strings.Contains(raw, `\`) {
		return fallback
	}
	u, err := url.Parse(raw)
	if err != nil || u.IsAbs() || u.Host != "" {
		return fallback
	}
	return raw
}

// WithQuery appends a query parameter to a path.
func WithQuery(path, key, value string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + url.QueryEscape(key) + "=" + url.QueryEscape(value)
}
