// Package apikey authenticates machine-to-machine callers against the
// configured per-tenant key registry.
package apikey

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/ssoerrors"
)

// ScopeWildcard grants every scope.
const ScopeWildcard = "*"

const queryParameterName = "api_key"

// Record is a resolved API key: the tenant identity it authenticates as
// and the scopes it may exercise.
type Record struct {
	Tenant string
	Scopes []string
}

// Authenticator resolves API keys against the active configuration.
type Authenticator struct {
	store  *config.Store
	logger *zap.Logger
}

func NewAuthenticator(store *config.Store, logger *zap.Logger) *Authenticator {
	return &Authenticator{
		store:  store,
		logger: logger,
	}
}

// ExtractKey pulls the API key from the request. Lookup order: X-API-Key
// header, then "Authorization: API-Key <key>". The api_key query parameter
// is honored only outside production deployments with the fallback enabled.
func (a *Authenticator) ExtractKey(r *http.Request) (string, error) {
	if key := strings.TrimSpace(r.Header.Get(common.HeaderAPIKey)); key != "" {
		return key, nil
	}

	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	if rest, found := strings.CutPrefix(authHeader, "API-Key "); found {
		if key := strings.TrimSpace(rest); key != "" {
			return key, nil
		}
	}

	cfg := a.store.Current()
	if cfg.Signing.AllowQueryAPIKey && cfg.Environment != "production" {
		if key := r.URL.Query().Get(queryParameterName); key != "" {
			return key, nil
		}
	}

	return "", ssoerrors.ErrMissingAPIKey
}

// Authenticate looks the key up in the registry. Every candidate is
// compared in constant time; the walk never stops at the first match, so
// lookup cost does not depend on key position or content. Duplicate keys
// are rejected at config load, so at most one record can match.
func (a *Authenticator) Authenticate(key string) (*Record, error) {
	var matched *Record

	for _, candidate := range a.store.Current().APIKeys {
		if subtle.ConstantTimeCompare([]byte(candidate.Key), []byte(key)) == 1 {
			matched = &Record{
				Tenant: candidate.Tenant,
				Scopes: append([]string(nil), candidate.Scopes...),
			}
		}
	}

	if matched == nil {
		a.logger.Warn("API key authentication failed.",
			zap.String("keyPrefix", common.MaskSecret(key)))

		return nil, ssoerrors.ErrInvalidAPIKey
	}

	a.logger.Info("API key authenticated.", zap.String("tenant", matched.Tenant))

	return matched, nil
}

// Authorize reports whether the record grants the required scope, either
// explicitly or via the wildcard.
func (a *Authenticator) Authorize(record *Record, requiredScope string) bool {
	for _, scope := range record.Scopes {
		if scope == ScopeWildcard || scope == requiredScope {
			return true
		}
	}

	a.logger.Warn("API key lacks required scope.",
		zap.String("tenant", record.Tenant),
		zap.String("requiredScope", requiredScope))

	return false
}
