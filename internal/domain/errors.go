package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrorKind is the stable error code surfaced to the tool layer.
type ErrorKind string

const (
	KindValidation          ErrorKind = "VALIDATION"
	KindPriceUnavailable    ErrorKind = "PRICE_UNAVAILABLE"
	KindProviderUnavailable ErrorKind = "PROVIDER_UNAVAILABLE"
	KindInfeasible          ErrorKind = "INFEASIBLE"
	KindSolverError         ErrorKind = "SOLVER_ERROR"
	KindCrossSource         ErrorKind = "CROSS_SOURCE_AMBIGUITY"
	KindInternal            ErrorKind = "INTERNAL"
)

// Error is the typed error carried across subsystem boundaries.
// Partial-failure kinds (price, provider) are aggregated into DataQuality
// rather than failing a whole analysis.
type Error struct {
	Kind        ErrorKind
	Symbol      string   // PRICE_UNAVAILABLE, CROSS_SOURCE_AMBIGUITY
	Source      string   // PROVIDER_UNAVAILABLE
	Constraints []string // INFEASIBLE: binding constraint set
	ID          string   // INTERNAL: opaque id
	Msg         string
	Err         error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindPriceUnavailable:
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Symbol, e.Msg)
	case KindProviderUnavailable:
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Source, e.Msg)
	case KindInfeasible:
		return fmt.Sprintf("%s(%v): %s", e.Kind, e.Constraints, e.Msg)
	case KindInternal:
		return fmt.Sprintf("%s[%s]: %s", e.Kind, e.ID, e.Msg)
	default:
		return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// NewValidation creates a VALIDATION error for inputs violating a stated
// constraint. These surface to the caller immediately.
func NewValidation(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// NewPriceUnavailable creates a partial PRICE_UNAVAILABLE error for a symbol.
func NewPriceUnavailable(symbol string, err error) *Error {
	return &Error{Kind: KindPriceUnavailable, Symbol: symbol, Msg: "no vendor returned a series", Err: err}
}

// NewProviderUnavailable creates a partial PROVIDER_UNAVAILABLE error.
func NewProviderUnavailable(source string, err error) *Error {
	return &Error{Kind: KindProviderUnavailable, Source: source, Msg: "provider fetch failed", Err: err}
}

// NewInfeasible reports that the optimizer cannot satisfy the constraints
// given the current universe. Binding constraints are named.
func NewInfeasible(constraints []string) *Error {
	return &Error{Kind: KindInfeasible, Constraints: constraints, Msg: "constraints unsatisfiable with current universe"}
}

// NewSolverError reports a numerical failure of the optimizer.
func NewSolverError(err error) *Error {
	return &Error{Kind: KindSolverError, Msg: "solver did not converge", Err: err}
}

// NewCrossSource records a symbol the canonicalizer refused to resolve.
func NewCrossSource(symbol string) *Error {
	return &Error{Kind: KindCrossSource, Symbol: symbol, Msg: "conflicting reports from multiple sources"}
}

// NewInternal wraps a bug-class error with an opaque id for log correlation.
func NewInternal(err error) *Error {
	return &Error{Kind: KindInternal, ID: uuid.NewString(), Msg: "internal error", Err: err}
}

// KindOf extracts the error kind, defaulting to INTERNAL for plain errors.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsPartial reports whether the error should degrade data quality instead of
// failing the analysis.
func IsPartial(err error) bool {
	switch KindOf(err) {
	case KindPriceUnavailable, KindProviderUnavailable:
		return true
	}
	return false
}
