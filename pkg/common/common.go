package common

import (
	"encoding/json"
	"net/http"

	"github.com/centra-sso/centra/pkg/ssoerrors"
)

// Signed-header wire contract. These names must match bit-for-bit between
// the signing and verifying sides.
const (
	HeaderAPIKey             = "X-API-Key"
	HeaderTimestamp          = "X-Timestamp"
	HeaderTenantID           = "X-Tenant-ID"
	HeaderRequestID          = "X-Request-ID"
	HeaderSignature          = "X-Signature"
	HeaderSignatureAlgorithm = "X-Signature-Algorithm"
)

// SignatureAlgorithm is the only request signing algorithm this service
// speaks.
const SignatureAlgorithm = "sha256"

// TimestampLayout is the ISO-8601 UTC format carried in X-Timestamp.
const TimestampLayout = "2006-01-02T15:04:05Z"

// ErrorResponse is the uniform JSON error envelope.
type ErrorResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	ErrorCode string `json:"error_code"`
}

// WriteError writes the uniform error envelope for a protocol error,
// deriving status and code from the error value.
func WriteError(w http.ResponseWriter, err error) {
	WriteErrorCode(w, ssoerrors.HTTPStatus(err), err.Error(), ssoerrors.Code(err))
}

// WriteErrorCode writes the uniform error envelope with an explicit status
// and stable code.
func WriteErrorCode(w http.ResponseWriter, status int, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	//nolint:errcheck
	json.NewEncoder(w).Encode(ErrorResponse{
		Success:   false,
		Message:   message,
		ErrorCode: code,
	})
}

// WriteJSON writes a success payload.
func WriteJSON(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	return json.NewEncoder(w).Encode(payload)
}

// MaskSecret returns a redacted form of a secret suitable for logs: the
// first four characters followed by "***". Secrets shorter than eight
// characters are fully masked.
func MaskSecret(s string) string {
	if len(s) < 8 {
		return "***"
	}

	return s[:4] + "***"
}
