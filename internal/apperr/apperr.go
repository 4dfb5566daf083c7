// Package apperr classifies pipeline failures into the kinds callers act on:
// configuration, not-found, transport, decode, schema validation and conflict. Every
// error carries the unit it occurred in (stage, page, category) when known so
// an operator can retry just that unit.
package apperr

import (
	"errors"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Kind identifies a failure class.
type Kind string

const (
	KindConfiguration    Kind = "configuration"
	KindNotFound         Kind = "not_found"
	KindTransport        Kind = "transport"
	KindDecode           Kind = "decode"
	KindSchemaValidation Kind = "schema_validation"
	KindConflict         Kind = "conflict"
)

// Error is a classified failure. Stage, Page and Category are zero when unknown.
type Error struct {
	Kind     Kind
	Stage    int
	Page     int
	Category string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if loc := e.Location(); loc != "" {
		b.WriteString(" (")
		b.WriteString(loc)
		b.WriteString(")")
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Location renders the unit context, e.g. `stage 2, page 3, category "Pasta"`.
func (e *Error) Location() string {
	var parts []string
	if e.Stage > 0 {
		parts = append(parts, fmt.Sprintf("stage %d", e.Stage))
	}
	if e.Page > 0 {
		parts = append(parts, fmt.Sprintf("page %d", e.Page))
	}
	if e.Category != "" {
		parts = append(parts, fmt.Sprintf("category %q", e.Category))
	}
	return strings.Join(parts, ", ")
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	e := &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
	if err != nil {
		e.Err = eris.Wrap(err, string(kind))
	}
	return e
}

// Configuration reports missing credentials or an invalid service selection.
func Configuration(format string, args ...any) *Error {
	return newError(KindConfiguration, nil, format, args...)
}

// NotFound reports an absent page, category or upstream artifact.
func NotFound(format string, args ...any) *Error {
	return newError(KindNotFound, nil, format, args...)
}

// Transport wraps a network or auth failure from the inference service.
func Transport(err error, format string, args ...any) *Error {
	return newError(KindTransport, err, format, args...)
}

// Decode wraps a response that is not valid JSON.
func Decode(err error, format string, args ...any) *Error {
	return newError(KindDecode, err, format, args...)
}

// SchemaValidation wraps JSON that violates a stage's structural contract.
func SchemaValidation(err error, format string, args ...any) *Error {
	return newError(KindSchemaValidation, err, format, args...)
}

// Conflict reports a write whose inputs changed after it started.
func Conflict(format string, args ...any) *Error {
	return newError(KindConflict, nil, format, args...)
}

// At returns err annotated with the unit it occurred in. Fields already set on
// a classified error are kept; unclassified errors are returned unchanged.
func At(err error, stage, page int, category string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	cp := *e
	if cp.Stage == 0 {
		cp.Stage = stage
	}
	if cp.Page == 0 {
		cp.Page = page
	}
	if cp.Category == "" {
		cp.Category = category
	}
	return &cp
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// Unit returns the stage, page and category recorded on err, if any.
func Unit(err error) (stage, page int, category string) {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage, e.Page, e.Category
	}
	return 0, 0, ""
}

func is(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// IsConfiguration reports whether err is a configuration error.
func IsConfiguration(err error) bool { return is(err, KindConfiguration) }

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool { return is(err, KindNotFound) }

// IsTransport reports whether err is a transport error.
func IsTransport(err error) bool { return is(err, KindTransport) }

// IsDecode reports whether err is a decode error.
func IsDecode(err error) bool { return is(err, KindDecode) }

// IsSchemaValidation reports whether err is a schema validation error.
func IsSchemaValidation(err error) bool { return is(err, KindSchemaValidation) }

// IsConflict reports whether err is a conflict error.
func IsConflict(err error) bool { return is(err, KindConflict) }
