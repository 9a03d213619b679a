package domain

import (
	"context"
	"errors"
	"net/http"
)

// Kind classifies auth failures. Every error leaving the auth slice resolves to exactly one Kind.
type Kind int

const (
	KindInternal Kind = iota
	KindBadRequest
	KindInvalidCredentials
	KindUnauthenticated
	KindInvalidRefreshToken
	KindForbidden
	KindInternalTimeout
)

func (k Kind) String() string {
	switch k {
	case KindBadRequest:
		return "bad_request"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindInvalidRefreshToken:
		return "invalid_refresh_token"
	case KindForbidden:
		return "forbidden"
	case KindInternalTimeout:
		return "internal_timeout"
	default:
		return "internal_error"
	}
}

// Error is the typed auth error. Code is the stable machine-readable reason; several codes share a
// Kind (and therefore an HTTP status).
type Error struct {
	Kind Kind
	Code string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Code
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind, and on Code when the target carries one, so ErrUnauthenticated matches every
// unauthenticated error while ErrPrincipalLocked matches only that reason.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	return t.Code == "" || t.Code == e.Code
}

// Wrap attaches cause to a copy of e.
func (e *Error) Wrap(cause error) *Error {
	return &Error{Kind: e.Kind, Code: e.Code, Err: cause}
}

var (
	ErrInvalidCredentials  = &Error{Kind: KindInvalidCredentials, Code: "invalid_credentials"}
	ErrUnauthenticated     = &Error{Kind: KindUnauthenticated}
	ErrInvalidRefreshToken = &Error{Kind: KindInvalidRefreshToken}
	ErrForbidden           = &Error{Kind: KindForbidden}
	ErrInternalTimeout     = &Error{Kind: KindInternalTimeout, Code: "internal_timeout"}
	ErrInternal            = &Error{Kind: KindInternal, Code: "internal_error"}
	ErrBadRequest          = &Error{Kind: KindBadRequest, Code: "bad_request"}

	ErrTokenMissing          = &Error{Kind: KindUnauthenticated, Code: "token_missing"}
	ErrTokenExpired          = &Error{Kind: KindUnauthenticated, Code: "token_expired"}
	ErrTokenMalformed        = &Error{Kind: KindUnauthenticated, Code: "token_malformed"}
	ErrTokenSignatureInvalid = &Error{Kind: KindUnauthenticated, Code: "token_signature_invalid"}
	ErrTokenClaimsInvalid    = &Error{Kind: KindUnauthenticated, Code: "token_claims_invalid"}

	ErrPrincipalNotFound = &Error{Kind: KindUnauthenticated, Code: "principal_not_found"}
	ErrPrincipalDeleted  = &Error{Kind: KindUnauthenticated, Code: "principal_deleted"}
	ErrPrincipalInactive = &Error{Kind: KindUnauthenticated, Code: "principal_inactive"}
	ErrPrincipalLocked   = &Error{Kind: KindUnauthenticated, Code: "principal_locked"}

	ErrRefreshTokenInvalid = &Error{Kind: KindInvalidRefreshToken, Code: "refresh_token_invalid"}
	ErrRefreshTokenReused  = &Error{Kind: KindInvalidRefreshToken, Code: "refresh_token_reused"}

	ErrPermissionDenied   = &Error{Kind: KindForbidden, Code: "permission_denied"}
	ErrCompanyScopeDenied = &Error{Kind: KindForbidden, Code: "company_scope_denied"}
)

// Store-level sentinels. They never reach a client unmapped.
var (
	ErrNotFound              = errors.New("not found")
	ErrRefreshTokenNotActive = errors.New("refresh token not active")
)

// KindOf reports the Kind of err. An exceeded deadline anywhere in the chain is an
// InternalTimeout; other untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindInternalTimeout
	}
	return KindInternal
}

// CodeOf reports the machine-readable code of err.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		if e.Code != "" {
			return e.Code
		}
		return e.Kind.String()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrInternalTimeout.Code
	}
	return ErrInternal.Code
}

// StatusOf maps err to its HTTP status.
func StatusOf(err error) int {
	switch KindOf(err) {
	case KindBadRequest:
		return http.StatusBadRequest
	case KindInvalidCredentials, KindUnauthenticated, KindInvalidRefreshToken:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindInternalTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the client-facing text for err. It never exposes internal detail and does not
// distinguish between principal states.
func PublicMessage(err error) string {
	switch KindOf(err) {
	case KindBadRequest:
		return "invalid request"
	case KindInvalidCredentials:
		return "invalid credentials"
	case KindUnauthenticated:
		return "authentication required"
	case KindInvalidRefreshToken:
		return "invalid refresh token"
	case KindForbidden:
		return "forbidden"
	case KindInternalTimeout:
		return "service temporarily unavailable"
	default:
		return "internal error"
	}
}
