package domain

import (
	"errors"
	"sort"
	"strings"
)

var (
	ErrUnauthenticated = errors.New("invalid or expired identity token")
	ErrForbidden       = errors.New("not a participant of this order")
	ErrOrderNotFound   = errors.New("order not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrValidation      = errors.New("validation failed")
	ErrPersistence     = errors.New("message store unavailable")
)

// ValidationError carries per-field messages and matches ErrValidation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
