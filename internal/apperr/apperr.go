// Package apperr defines the error kinds surfaced by every transport.
package apperr

import (
	"errors"
	"fmt"
)

// Kind is the stable error category.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthenticated Kind = "unauthenticated"
	KindForbidden       Kind = "forbidden"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindExpired         Kind = "expired"
	KindRateLimited     Kind = "rate_limited"
	KindTransportFailed Kind = "transport_failed"
	KindInternal        Kind = "internal"
)

// Reason explains a forbidden decision.
type Reason string

const (
	ReasonNone               Reason = ""
	ReasonNotAdmin           Reason = "not_admin"
	ReasonNotMember          Reason = "not_member"
	ReasonRoleInsufficient   Reason = "role_insufficient"
	ReasonTenantUnitMismatch Reason = "tenant_unit_mismatch"
	ReasonInactiveUser       Reason = "inactive_user"
	ReasonInactiveResource   Reason = "inactive_resource"
)

// Error is the application error carried from stores to handlers.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Reason  Reason
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Reason != "" {
		msg = fmt.Sprintf("%s (%s)", msg, e.Reason)
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches sentinels by kind, so errors.Is(err, apperr.ErrNotFound) holds
// for every not_found error regardless of its code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Code != "" && t.Code != e.Code {
		return false
	}
	return t.Kind == e.Kind
}

// WithDetail returns a copy of e carrying an extra detail.
func (e *Error) WithDetail(key string, v any) *Error {
	cp := *e
	cp.Details = make(map[string]any, len(e.Details)+1)
	for k, val := range e.Details {
		cp.Details[k] = val
	}
	cp.Details[key] = v
	return &cp
}

var (
	ErrValidation      = &Error{Kind: KindValidation}
	ErrUnauthenticated = &Error{Kind: KindUnauthenticated}
	ErrForbidden       = &Error{Kind: KindForbidden}
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrConflict        = &Error{Kind: KindConflict}
	ErrExpired         = &Error{Kind: KindExpired}
	ErrRateLimited     = &Error{Kind: KindRateLimited}
	ErrTransportFailed = &Error{Kind: KindTransportFailed}
	ErrInternal        = &Error{Kind: KindInternal}
)

func newErr(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Message: msg}
}

func Validation(code, msg string) *Error { return newErr(KindValidation, code, msg) }

func Unauthenticated(code, msg string) *Error { return newErr(KindUnauthenticated, code, msg) }

// Forbidden builds a denial carrying a reason code.
func Forbidden(reason Reason, msg string) *Error {
	e := newErr(KindForbidden, string(reason), msg)
	e.Reason = reason
	return e
}

func NotFound(code, msg string) *Error { return newErr(KindNotFound, code, msg) }

func Conflict(code, msg string) *Error { return newErr(KindConflict, code, msg) }

func Expired(code, msg string) *Error { return newErr(KindExpired, code, msg) }

func RateLimited(code, msg string) *Error { return newErr(KindRateLimited, code, msg) }

// TransportFailed wraps an outbound delivery failure.
func TransportFailed(code string, err error) *Error {
	e := newErr(KindTransportFailed, code, "delivery failed")
	e.Err = err
	return e
}

// Internal wraps an unexpected failure; its cause is never rendered to clients.
func Internal(err error) *Error {
	e := newErr(KindInternal, "internal", "internal error")
	e.Err = err
	return e
}

// As extracts an *Error from err. Errors that are not application errors
// come back as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return Internal(err)
}

// KindOf returns the kind of err, or "" for nil.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}

// ReasonOf returns the forbidden reason carried by err, if any.
func ReasonOf(err error) Reason {
	var e *Error
	if errors.As(err, &e) {
		return e.Reason
	}
	return ReasonNone
}
