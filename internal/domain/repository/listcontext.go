package repository

import (
	"regexp"

	"MarketCascade/internal/domain/models"
)

var listContextPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// IsValidListContext returns true if s is a usable list context name.
func IsValidListContext(s string) bool {
	return listContextPattern.MatchString(s)
}

// DefaultListContext returns the default list context.
func DefaultListContext() models.ListContext { return models.DefaultListContext }

// NormalizeListContext converts a raw string to a list context (or default when empty).
// The second return is false when s is non-empty but malformed.
func NormalizeListContext(s string) (models.ListContext, bool) {
	if s == "" {
		return DefaultListContext(), true
	}
	if !IsValidListContext(s) {
		return "", false
	}
	return models.ListContext(s), true
}
