// Package middleware gates machine-to-machine endpoints with the full
// signed-request check: API key, scope, timestamp freshness, replay nonce
// and request signature, in that order.
package middleware

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/apikey"
	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/metrics"
	"github.com/centra-sso/centra/pkg/replay"
	"github.com/centra-sso/centra/pkg/signature"
	"github.com/centra-sso/centra/pkg/ssoerrors"
)

type ctxKey string

const ctxKeyCaller ctxKey = "centra_caller"

// Caller describes the authenticated machine-to-machine caller.
type Caller struct {
	Tenant string
	Scopes []string
}

// CallerFromContext returns the caller placed by SignedRequest, if any.
func CallerFromContext(ctx context.Context) (*Caller, bool) {
	caller, ok := ctx.Value(ctxKeyCaller).(*Caller)
	return caller, ok
}

// SecretResolver maps a tenant slug to its shared HMAC secret.
type SecretResolver func(tenantSlug string) (string, bool)

// Deps bundles the middleware collaborators.
type Deps struct {
	Authenticator *apikey.Authenticator
	Engine        *signature.Engine
	Guard         *replay.Guard
	Secrets       SecretResolver
	Metrics       *metrics.Metrics
	Logger        *zap.Logger
}

// SignedRequest verifies the whole signed-request envelope before letting
// the request through. requiredScope names the scope the endpoint demands.
func SignedRequest(deps Deps, requiredScope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key, err := deps.Authenticator.ExtractKey(r)
			if err != nil {
				deps.Metrics.SignedRequest("missing_key")
				reject(deps, w, r, err)

				return
			}

			record, err := deps.Authenticator.Authenticate(key)
			if err != nil {
				deps.Metrics.SignedRequest("invalid_key")
				reject(deps, w, r, err)

				return
			}

			if !deps.Authenticator.Authorize(record, requiredScope) {
				deps.Metrics.SignedRequest("insufficient_scope")
				reject(deps, w, r, ssoerrors.ErrInsufficientScope)

				return
			}

			// The claimed tenant must be the one the key authenticates as.
			if claimed := r.Header.Get(common.HeaderTenantID); claimed != record.Tenant {
				deps.Logger.Warn("Claimed tenant does not match API key identity.",
					zap.String("claimedTenant", claimed),
					zap.String("keyTenant", record.Tenant),
					zap.String("remoteAddr", r.RemoteAddr))
				deps.Metrics.SignedRequest("tenant_mismatch")
				reject(deps, w, r, ssoerrors.ErrInvalidAPIKey)

				return
			}

			if err := deps.Guard.CheckFreshness(r.Header.Get(common.HeaderTimestamp)); err != nil {
				deps.Metrics.SignedRequest("stale_timestamp")
				reject(deps, w, r, err)

				return
			}

			if err := deps.Guard.CheckAndRecordNonce(r.Context(), r.Header.Get(common.HeaderRequestID)); err != nil {
				deps.Metrics.SignedRequest("replay")
				deps.Metrics.ReplayRejected()
				reject(deps, w, r, err)

				return
			}

			secret, found := deps.Secrets(record.Tenant)
			if !found {
				deps.Logger.Error("No shared secret configured for tenant.", zap.String("tenant", record.Tenant))
				common.WriteErrorCode(w, http.StatusInternalServerError, "server misconfiguration", "INTERNAL_ERROR")

				return
			}

			rc, err := signature.FromHTTPRequest(r)
			if err != nil {
				deps.Logger.Error("Failed to read request body for verification.", zap.Error(err))
				common.WriteErrorCode(w, http.StatusBadRequest, "unreadable request body", "INTERNAL_ERROR")

				return
			}

			result := deps.Engine.Verify(rc, r.Header.Get(common.HeaderSignature), secret)
			if !result.Valid {
				deps.Metrics.SignedRequest("signature_" + result.Reason)
				reject(deps, w, r, signatureError(result.Reason))

				return
			}

			deps.Metrics.SignedRequest("accepted")

			caller := &Caller{Tenant: record.Tenant, Scopes: record.Scopes}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyCaller, caller)))
		})
	}
}

func signatureError(reason string) error {
	switch reason {
	case signature.ReasonMissingSignature:
		return ssoerrors.ErrMissingSignature
	case signature.ReasonMalformedTimestamp:
		return ssoerrors.ErrMalformedTimestamp
	default:
		return ssoerrors.ErrSignatureMismatch
	}
}

func reject(deps Deps, w http.ResponseWriter, r *http.Request, err error) {
	deps.Logger.Warn("Rejected signed request.",
		zap.String("path", r.URL.Path),
		zap.String("remoteAddr", r.RemoteAddr),
		zap.String("claimedTenant", r.Header.Get(common.HeaderTenantID)),
		zap.String("requestID", r.Header.Get(common.HeaderRequestID)),
		zap.String("signaturePrefix", common.MaskSecret(r.Header.Get(common.HeaderSignature))),
		zap.Error(err))

	common.WriteError(w, err)
}

// RequestLogging logs every request with its outcome status.
func RequestLogging(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

			next.ServeHTTP(recorder, r)

			logger.Info("Handled request.",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.String("remoteAddr", r.RemoteAddr))
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// CombineMiddleware chains middleware so the first listed runs first.
func CombineMiddleware(middleware ...func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(final http.Handler) http.Handler {
		for i := len(middleware) - 1; i >= 0; i-- {
			final = middleware[i](final)
		}

		return final
	}
}
