// Package apperr is the error taxonomy shared by the lifecycle, billing and
// teardown services. Handlers map a Kind to an HTTP status; services only
// construct and wrap.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation   Kind = "validation"
	KindPrecondition Kind = "precondition"
	KindPermission   Kind = "permission"
	KindDependency   Kind = "dependency"
	KindNotFound     Kind = "not_found"
	KindInternal     Kind = "internal"
)

// Permission scopes
const (
	ScopeAdmin         = "admin"
	ScopeSystem        = "system"
	ScopeLeaderOrAdmin = "leader_or_admin"
	ScopeAuthor        = "author"
	ScopeMember        = "member"
)

type Error struct {
	Kind    Kind
	Code    string
	Scope   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func Validation(code, msg string) *Error {
	return &Error{Kind: KindValidation, Code: code, Message: msg}
}

func Precondition(code, msg string) *Error {
	return &Error{Kind: KindPrecondition, Code: code, Message: msg}
}

func Permission(scope, msg string) *Error {
	return &Error{Kind: KindPermission, Code: "forbidden", Scope: scope, Message: msg}
}

func Dependency(code, msg string, err error) *Error {
	return &Error{Kind: KindDependency, Code: code, Message: msg, Err: err}
}

func NotFound(what, id string) *Error {
	return &Error{Kind: KindNotFound, Code: what + "_not_found", Message: fmt.Sprintf("%s not found: %s", what, id)}
}

// KindOf reports the kind of the first *Error in err's chain.
// Anything else is internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

func IsKind(err error, k Kind) bool {
	return err != nil && KindOf(err) == k
}

// CodeOf returns the machine-readable code, or "internal_error".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Code != "" {
		return e.Code
	}
	return "internal_error"
}

// ScopeOf returns the permission scope, if any.
func ScopeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Scope
	}
	return ""
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindPrecondition:
		return http.StatusConflict
	case KindPermission:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDependency:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
