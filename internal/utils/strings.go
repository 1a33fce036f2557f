package utils

import (
	"regexp"
	"strings"
)

var (
	controlChars = regexp.MustCompile(`[\p{Cc}\p{Cf}\p{Co}\p{Cs}]`)
	spaces       = regexp.MustCompile(`\s+`)
)

// Truncate truncates a string to the specified length and adds ellipsis if needed
func Truncate(s string, maxLength int) string {
	runes := []rune(s)
	if len(runes) <= maxLength {
		return s
	}
	if maxLength <= 3 {
		return "..."
	}
	return string(runes[:maxLength-3]) + "..."
}

// SanitizeString removes control characters and collapses whitespace
func SanitizeString(s string) string {
	result := controlChars.ReplaceAllString(s, " ")
	result = spaces.ReplaceAllString(result, " ")
	return strings.TrimSpace(result)
}

// NormalizeAddress folds a free-text address into a stable cache key component
func NormalizeAddress(s string) string {
	s = strings.ToLower(SanitizeString(s))
	s = strings.Map(func(r rune) rune {
		switch r {
		case ',', '.', ';', '#':
			return ' '
		}
		return r
	}, s)
	return strings.Join(strings.Fields(s), " ")
}
