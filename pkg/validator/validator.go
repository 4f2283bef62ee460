package validator

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"
)

type ValidationErrors map[string]string

func (v ValidationErrors) HasErrors() bool {
	return len(v) > 0
}

func (v ValidationErrors) Add(field, message string) {
	v[field] = message
}

// NormalizeBody trims surrounding whitespace and strips control characters
// other than newlines and tabs.
func NormalizeBody(body string) string {
	body = strings.TrimSpace(body)
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, body)
}

// ValidateMessageBody checks raw for valid UTF-8, normalizes it and checks the
// result against the length bound, counted in characters rather than bytes.
func ValidateMessageBody(raw string, maxLength int) (string, ValidationErrors) {
	errs := make(ValidationErrors)

	if !utf8.ValidString(raw) {
		errs.Add("body", "Message body must be valid UTF-8")
		return "", errs
	}

	body := NormalizeBody(raw)
	if body == "" {
		errs.Add("body", "Message body is required")
	} else if n := utf8.RuneCountInString(body); n > maxLength {
		errs.Add("body", fmt.Sprintf("Message body is too long (%d/%d characters)", n, maxLength))
	}

	return body, errs
}

func ValidateOrderID(raw string) (uuid.UUID, ValidationErrors) {
	errs := make(ValidationErrors)

	raw = strings.TrimSpace(raw)
	if raw == "" {
		errs.Add("order_id", "Order ID is required")
		return uuid.Nil, errs
	}

	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		errs.Add("order_id", "Invalid order ID")
		return uuid.Nil, errs
	}

	return id, errs
}
