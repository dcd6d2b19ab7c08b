package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ISO 4217 style code, e.g. USD, EUR, CLP.
var currencyRe = regexp.MustCompile(`^[A-Z]{3}$`)

// Digits with optional leading +, spaces, dashes, dots and parentheses.
var phoneRe = regexp.MustCompile(`^\+?[0-9\s\-().]{6,20}$`)

// FieldError reports an invalid value for a single entity field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errorf builds a FieldError.
func Errorf(field, format string, args ...interface{}) *FieldError {
	return &FieldError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsValidEmail(email string) bool {
	return emailRe.MatchString(email)
}

func IsValidCurrency(code string) bool {
	return currencyRe.MatchString(code)
}

func IsValidPhone(phone string) bool {
	return phoneRe.MatchString(phone)
}

// IsValidURL accepts absolute http and https URLs only.
func IsValidURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

// Required returns a FieldError when s is blank.
func Required(field, s string) error {
	if strings.TrimSpace(s) == "" {
		return Errorf(field, "is required")
	}
	return nil
}

// First returns the first non-nil error.
func First(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
