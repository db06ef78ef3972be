package util

import "strings"

// DefaultString returns the fallback value if v is empty or consists entirely
// of whitespace; otherwise it returns v unchanged.
//
// Examples:
//
//	DefaultString("Wi-Fi", "Ethernet") → "Wi-Fi"
//	DefaultString("",      "Ethernet") → "Ethernet"
//	DefaultString("  ",    "Ethernet") → "Ethernet"
func DefaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

// EmptyDash returns "-" for blank strings. The CLI tables and the dashboard
// detail panel use it for optional fields such as the last error.
func EmptyDash(s string) string {
	return DefaultString(s, "-")
}

// Truncate shortens s to at most n runes, marking the cut with "…".
// Access keys are long; tables show a prefix only.
func Truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	if n == 1 {
		return "…"
	}
	return string(r[:n-1]) + "…"
}
