package entity

import (
	"fmt"
	"net/url"
	"strings"

	"deprecations-feed/internal/utils/text"
)

const maxURLLength = 2048

// ValidateURL accepts absolute http and https URLs with a host, reporting
// failures against field.
func ValidateURL(field, raw string) error {
	invalid := func(msg string) error {
		return &ValidationError{Field: field, Message: msg, Value: text.Truncate(raw, 80)}
	}

	switch {
	case raw == "":
		return &ValidationError{Field: field, Message: "URL is required"}
	case len(raw) > maxURLLength:
		return invalid(fmt.Sprintf("URL longer than %d characters", maxURLLength))
	}

	u, err := url.Parse(raw)
	switch {
	case err != nil:
		return invalid("malformed URL")
	case u.Scheme != "http" && u.Scheme != "https":
		return invalid("URL scheme must be http or https")
	case u.Host == "":
		return invalid("URL has no host")
	}
	return nil
}

// ValidateRequired rejects blank values.
func ValidateRequired(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "must not be empty"}
	}
	return nil
}
