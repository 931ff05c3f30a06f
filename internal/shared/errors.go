package shared

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound indicates resource not found.
var ErrNotFound = errors.New("not found")

// ErrCrossCompanyRef indicates a reference to an entity owned by another company.
var ErrCrossCompanyRef = errors.New("entity belongs to a different company")

// ValidationError marks malformed input rejected before any mutation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation: %s", e.Reason)
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Validationf builds a ValidationError for a field.
func Validationf(field, format string, args ...any) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// RuleViolation wraps a business-rule sentinel with the offending entity ids.
// The wrapped sentinel stays reachable through errors.Is.
type RuleViolation struct {
	Rule     error
	Entity   string
	EntityID int64
	Detail   string
}

func (e *RuleViolation) Error() string {
	var b strings.Builder
	b.WriteString(e.Rule.Error())
	if e.Entity != "" {
		fmt.Fprintf(&b, " (%s %d)", e.Entity, e.EntityID)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	return b.String()
}

func (e *RuleViolation) Unwrap() error { return e.Rule }

// Violation attaches entity context to a business-rule sentinel.
func Violation(rule error, entity string, id int64) error {
	return &RuleViolation{Rule: rule, Entity: entity, EntityID: id}
}

// Violationf attaches entity context plus a detail message.
func Violationf(rule error, entity string, id int64, format string, args ...any) error {
	return &RuleViolation{Rule: rule, Entity: entity, EntityID: id, Detail: fmt.Sprintf(format, args...)}
}

// ConflictError signals lock or version contention. Callers may retry a
// bounded number of times; nothing retries internally.
type ConflictError struct {
	Entity   string
	EntityID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict on %s %d", e.Entity, e.EntityID)
}

// IsConflict reports whether err is a concurrency conflict.
func IsConflict(err error) bool {
	var c *ConflictError
	return errors.As(err, &c)
}

// IntegrityError is fatal to the request and logged with full context.
type IntegrityError struct {
	Entity   string
	EntityID int64
	Reason   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("integrity failure on %s %d: %s", e.Entity, e.EntityID, e.Reason)
}

// Integrityf builds an IntegrityError.
func Integrityf(entity string, id int64, format string, args ...any) error {
	return &IntegrityError{Entity: entity, EntityID: id, Reason: fmt.Sprintf(format, args...)}
}
