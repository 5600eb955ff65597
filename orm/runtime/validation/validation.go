// Package validation checks field values before they are written to the store.
package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// FieldError is a validation failure scoped to one field.
type FieldError struct {
	Field   string
	Message string
}

func (e FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	if e.Message == "" {
		return e.Field
	}
	return e.Field + ": " + e.Message
}

// Errors aggregates field errors.
type Errors []FieldError

func (errs Errors) Error() string {
	parts := make([]string, len(errs))
	for i, err := range errs {
		parts[i] = err.Error()
	}
	return strings.Join(parts, "; ")
}

// Record holds the field values of one pending write.
type Record map[string]any

// Subject is what a rule inspects.
type Subject struct {
	Entity string
	Record Record
}

// Rule is a constraint on a Subject.
type Rule interface {
	Validate(context.Context, Subject) error
}

// RuleFunc adapts a plain function into a Rule.
type RuleFunc func(context.Context, Subject) error

func (fn RuleFunc) Validate(ctx context.Context, subject Subject) error {
	return fn(ctx, subject)
}

// Check runs every rule against record and returns the collected failures as
// Errors, or nil.
func Check(ctx context.Context, entity string, record Record, rules ...Rule) error {
	subject := Subject{Entity: entity, Record: record}
	var errs Errors
	for _, rule := range rules {
		if rule == nil {
			continue
		}
		errs = appendErrors(errs, rule.Validate(ctx, subject))
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func appendErrors(dst Errors, err error) Errors {
	if err == nil {
		return dst
	}
	var multi Errors
	if errors.As(err, &multi) {
		return append(dst, multi...)
	}
	var ferr FieldError
	if errors.As(err, &ferr) {
		return append(dst, ferr)
	}
	return append(dst, FieldError{Message: err.Error()})
}

// String starts a rule for a string field.
func String(field string) *StringRuleBuilder {
	return &StringRuleBuilder{field: field}
}

// StringRuleBuilder describes string constraints fluently.
type StringRuleBuilder struct {
	field    string
	required bool
	minLen   int
	maxLen   int
}

// Required rejects missing and blank values.
func (b *StringRuleBuilder) Required() *StringRuleBuilder {
	b.required = true
	return b
}

// MinLen enforces a minimum rune length on non-empty values.
func (b *StringRuleBuilder) MinLen(n int) *StringRuleBuilder {
	b.minLen = max(n, 0)
	return b
}

// MaxLen enforces a maximum rune length. Zero means unbounded.
func (b *StringRuleBuilder) MaxLen(n int) *StringRuleBuilder {
	b.maxLen = max(n, 0)
	return b
}

// Rule materialises the builder.
func (b *StringRuleBuilder) Rule() Rule {
	field, required, minLen, maxLen := b.field, b.required, b.minLen, b.maxLen
	return RuleFunc(func(_ context.Context, subject Subject) error {
		raw, ok := subject.Record[field]
		if !ok || raw == nil {
			if required {
				return FieldError{Field: field, Message: "is required"}
			}
			return nil
		}
		value, ok := raw.(string)
		if !ok {
			return FieldError{Field: field, Message: "must be a string"}
		}
		if strings.TrimSpace(value) == "" {
			if required {
				return FieldError{Field: field, Message: "cannot be empty"}
			}
			return nil
		}
		length := utf8.RuneCountInString(value)
		var errs Errors
		if minLen > 0 && length < minLen {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be at least %d characters", minLen)})
		}
		if maxLen > 0 && length > maxLen {
			errs = append(errs, FieldError{Field: field, Message: fmt.Sprintf("must be at most %d characters", maxLen)})
		}
		if len(errs) > 0 {
			return errs
		}
		return nil
	})
}
