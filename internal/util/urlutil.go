package util

import (
	"fmt"
	"net/url"
	"strings"
)

// IsAbsoluteURL reports whether raw carries its own http(s) scheme and host.
func IsAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return scheme == "http" || scheme == "https"
}

// JoinURL resolves path against base. Absolute URLs pass through unchanged;
// anything else is appended to base with exactly one separating slash.
func JoinURL(base, path string) string {
	if IsAbsoluteURL(path) {
		return path
	}
	b := strings.TrimRight(base, "/")
	p := strings.TrimLeft(path, "/")
	if p == "" {
		return b + "/"
	}
	return b + "/" + p
}

// Origin returns scheme://host[:port] for raw, lower-cased.
func Origin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing scheme or host", raw)
	}
	return strings.ToLower(u.Scheme + "://" + u.Host), nil
}

// SameOrigin reports whether a and b share scheme, host and port.
func SameOrigin(a, b string) bool {
	oa, err := Origin(a)
	if err != nil {
		return false
	}
	ob, err := Origin(b)
	if err != nil {
		return false
	}
	return oa == ob
}

// ValidateBaseURL checks that raw is usable as the service origin.
func ValidateBaseURL(raw string) error {
	if !IsAbsoluteURL(raw) {
		return fmt.Errorf("invalid API URL %q: expected http(s)://host[:port]", raw)
	}
	return nil
}
