// Package dbgerr implements the curated error taxonomy returned by every
// operation in this module. Callers switch on Code() rather than string
// matching, while the Error() string still benefits from de-duplication of
// adjacent causal-chain parts (the same device the errors package in the
// donor codebase used for its own curated error type).
package dbgerr

import (
	"fmt"
	"strings"
)

// ErrCode is the taxonomy described by the specification's error handling
// design: a small, closed set of outcomes every driver operation reduces to.
type ErrCode int

const (
	// Ok is not actually returned as an error - it exists so that ErrCode has
	// a sensible zero value distinct from every failure code.
	Ok ErrCode = iota

	// Fail is a generic failure: architectural timeouts that have already
	// been reconciled, allocation exhaustion, hardware-inconsistency traps.
	Fail

	// TargetNotHalted is returned when an operation requires the core to be
	// halted and it is not.
	TargetNotHalted

	// TargetInvalid is returned when MMU or virt2phys queries are made
	// against a target that has never been examined, or is not halted.
	TargetInvalid

	// ResourceUnavailable is returned when no free breakpoint/watchpoint
	// slot remains.
	ResourceUnavailable

	// SyntaxError is returned for invalid argument combinations (e.g. an
	// unsupported access size).
	SyntaxError

	// Timeout is returned when a bounded poll loop exceeds its deadline.
	Timeout
)

func (c ErrCode) String() string {
	switch c {
	case Ok:
		return "ok"
	case Fail:
		return "fail"
	case TargetNotHalted:
		return "target not halted"
	case TargetInvalid:
		return "target invalid"
	case ResourceUnavailable:
		return "resource unavailable"
	case SyntaxError:
		return "syntax error"
	case Timeout:
		return "timeout"
	default:
		return "unknown error code"
	}
}

// curated is the concrete error type. External to this package curated
// errors are referenced as plain errors (they implement the error
// interface); the ErrCode is recovered with Code(err).
type curated struct {
	code    ErrCode
	message string
	values  []interface{}
}

// Newf creates a new curated error of the given code. The message chain is
// normalised on Error() so that wrapping the same curated error at several
// call sites does not repeat its head in the final string.
func Newf(code ErrCode, message string, values ...interface{}) error {
	return curated{code: code, message: message, values: values}
}

// Error implements the go language error interface.
func (e curated) Error() string {
	s := fmt.Errorf(e.message, e.values...).Error()

	p := strings.SplitN(s, ": ", 3)
	if len(p) > 1 && p[0] == p[1] {
		return strings.Join(p[1:], ": ")
	}
	return strings.Join(p, ": ")
}

// Code recovers the taxonomy code from err. Plain (non-curated) errors map
// to Fail so that callers can always switch on the result.
func Code(err error) ErrCode {
	if err == nil {
		return Ok
	}
	if e, ok := err.(curated); ok {
		return e.code
	}
	return Fail
}

// Is reports whether err is a curated error of the given code.
func Is(err error, code ErrCode) bool {
	return Code(err) == code
}

// Convenience constructors for the taxonomy members that are returned from
// many call sites with little additional context.
func ErrFail(message string, values ...interface{}) error {
	return Newf(Fail, message, values...)
}

func ErrTargetNotHalted() error {
	return Newf(TargetNotHalted, "target is not halted")
}

func ErrTargetInvalid(message string, values ...interface{}) error {
	return Newf(TargetInvalid, message, values...)
}

func ErrResourceUnavailable(message string, values ...interface{}) error {
	return Newf(ResourceUnavailable, message, values...)
}

func ErrSyntaxError(message string, values ...interface{}) error {
	return Newf(SyntaxError, message, values...)
}

func ErrTimeout(message string, values ...interface{}) error {
	return Newf(Timeout, message, values...)
}
