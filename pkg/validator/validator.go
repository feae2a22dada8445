package validator

import (
	"regexp"
	"strings"
)

const (
	MaxInterests      = 10
	MaxInterestLength = 32
	MaxDeviceIDLength = 64
)

var (
	languageRegex = regexp.MustCompile(`^[a-z]{2,3}(-[A-Za-z]{2})?$`)
	regionRegex   = regexp.MustCompile(`^[A-Za-z]{2,8}$`)
	deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_.:-]+$`)
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface
func (v ValidationErrors) Error() string {
	if len(v) == 0 {
		return ""
	}
	var msgs []string
	for _, e := range v {
		msgs = append(msgs, e.Field+": "+e.Message)
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any errors
func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

// Add adds a validation error
func (v *ValidationErrors) Add(field, message string) {
	*v = append(*v, ValidationError{Field: field, Message: message})
}

// ValidateDeviceID checks an opaque device identifier: non-empty,
// bounded length, URL-safe characters.
func ValidateDeviceID(id string) bool {
	return id != "" && len(id) <= MaxDeviceIDLength && deviceIDRegex.MatchString(id)
}

// ValidateLanguage checks a BCP 47-ish language tag ("en", "pt-BR").
func ValidateLanguage(lang string) bool {
	return lang == "" || languageRegex.MatchString(lang)
}

// ValidateRegion checks a short region code.
func ValidateRegion(region string) bool {
	return region == "" || regionRegex.MatchString(region)
}

// ValidateInterests bounds count and per-tag length.
func ValidateInterests(tags []string) ValidationErrors {
	var errors ValidationErrors
	if len(tags) > MaxInterests {
		errors.Add("interests", "too many interest tags")
		return errors
	}
	for _, tag := range tags {
		trimmed := strings.TrimSpace(tag)
		if trimmed == "" || len(trimmed) > MaxInterestLength {
			errors.Add("interests", "interest tags must be 1-32 characters")
			return errors
		}
	}
	return errors
}

// SanitizeString trims whitespace and limits length
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		return s[:maxLen]
	}
	return s
}
