package ssoerrors

import "errors"

// Caller identity problems.
var (
	ErrMissingAPIKey     = errors.New("api key not provided")
	ErrInvalidAPIKey     = errors.New("invalid api key")
	ErrInsufficientScope = errors.New("api key lacks the required scope")
)

// Request integrity problems.
var (
	ErrMissingSignature   = errors.New("request signature not provided")
	ErrSignatureMismatch  = errors.New("request signature mismatch")
	ErrStaleTimestamp     = errors.New("request timestamp outside the freshness window")
	ErrMalformedTimestamp = errors.New("request timestamp is malformed")
	ErrReplayedRequest    = errors.New("request id already seen")
)

// Token and authorization problems.
var (
	ErrTokenExpired       = errors.New("token expired")
	ErrTokenMalformed     = errors.New("token malformed")
	ErrTenantNotPermitted = errors.New("tenant not permitted for this token")
)

// ErrUpstreamUnavailable indicates a remote validation or audit call failed
// after all retry attempts.
var ErrUpstreamUnavailable = errors.New("upstream service unavailable")

// Stable machine-readable error codes returned in response bodies.
const (
	CodeMissingAPIKey       = "MISSING_API_KEY"
	CodeInvalidAPIKey       = "INVALID_API_KEY"
	CodeInsufficientScope   = "INSUFFICIENT_SCOPE"
	CodeMissingSignature    = "MISSING_SIGNATURE"
	CodeSignatureMismatch   = "SIGNATURE_MISMATCH"
	CodeStaleTimestamp      = "STALE_TIMESTAMP"
	CodeReplayedRequest     = "REPLAYED_REQUEST"
	CodeTokenExpired        = "TOKEN_EXPIRED"
	CodeTokenMalformed      = "TOKEN_MALFORMED"
	CodeTenantNotPermitted  = "TENANT_NOT_PERMITTED"
	CodeUpstreamUnavailable = "UPSTREAM_UNAVAILABLE"
)

// Code maps a protocol error to its stable code. Unknown errors map to an
// internal error code so handlers never leak raw error text as a code.
func Code(err error) string {
	switch {
	case errors.Is(err, ErrMissingAPIKey):
		return CodeMissingAPIKey
	case errors.Is(err, ErrInvalidAPIKey):
		return CodeInvalidAPIKey
	case errors.Is(err, ErrInsufficientScope):
		return CodeInsufficientScope
	case errors.Is(err, ErrMissingSignature):
		return CodeMissingSignature
	case errors.Is(err, ErrSignatureMismatch):
		return CodeSignatureMismatch
	case errors.Is(err, ErrStaleTimestamp), errors.Is(err, ErrMalformedTimestamp):
		return CodeStaleTimestamp
	case errors.Is(err, ErrReplayedRequest):
		return CodeReplayedRequest
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	case errors.Is(err, ErrTokenMalformed):
		return CodeTokenMalformed
	case errors.Is(err, ErrTenantNotPermitted):
		return CodeTenantNotPermitted
	case errors.Is(err, ErrUpstreamUnavailable):
		return CodeUpstreamUnavailable
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps a protocol error to the HTTP status a handler should
// respond with. Identity and integrity failures are 401, permission
// failures 403, upstream failures 503.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInsufficientScope), errors.Is(err, ErrTenantNotPermitted):
		return 403
	case errors.Is(err, ErrUpstreamUnavailable):
		return 503
	case errors.Is(err, ErrMissingAPIKey), errors.Is(err, ErrInvalidAPIKey),
		errors.Is(err, ErrMissingSignature), errors.Is(err, ErrSignatureMismatch),
		errors.Is(err, ErrStaleTimestamp), errors.Is(err, ErrMalformedTimestamp),
		errors.Is(err, ErrReplayedRequest), errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenMalformed):
		return 401
	default:
		return 500
	}
}
