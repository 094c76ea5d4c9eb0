package apikey_test

import (
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/apikey"
	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/ssoerrors"
)

const testConfig = `
environment: test
issuer: https://centra.test
server:
  listenAddress: 127.0.0.1:0
signing:
  allowQueryAPIKey: true
tenants:
  - slug: acme
    name: Acme
    callbackURL: https://acme.test/sso/callback
    sharedSecret: acme-secret
  - slug: beta
    name: Beta
    callbackURL: https://beta.test/sso/callback
    sharedSecret: beta-secret
apiKeys:
  - key: acme-key-1234567890
    tenant: acme
    scopes: ["audit:write"]
  - key: beta-key-1234567890
    tenant: beta
    scopes: ["*"]
`

func newStore(t *testing.T, yaml string) *config.Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	store, err := config.NewStore(path)
	require.NoError(t, err)

	return store
}

func newAuthenticator(t *testing.T) *apikey.Authenticator {
	t.Helper()
	return apikey.NewAuthenticator(newStore(t, testConfig), zap.NewNop())
}

func TestExtractKey(t *testing.T) {
	auth := newAuthenticator(t)

	t.Run("x-api-key header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/audit/events", nil)
		r.Header.Set("X-API-Key", "acme-key-1234567890")

		key, err := auth.ExtractKey(r)
		require.NoError(t, err)
		assert.Equal(t, "acme-key-1234567890", key)
	})

	t.Run("authorization header", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/audit/events", nil)
		r.Header.Set("Authorization", "API-Key acme-key-1234567890")

		key, err := auth.ExtractKey(r)
		require.NoError(t, err)
		assert.Equal(t, "acme-key-1234567890", key)
	})

	t.Run("query fallback outside production", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/audit/events?api_key=acme-key-1234567890", nil)

		key, err := auth.ExtractKey(r)
		require.NoError(t, err)
		assert.Equal(t, "acme-key-1234567890", key)
	})

	t.Run("missing key", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/audit/events", nil)

		_, err := auth.ExtractKey(r)
		assert.ErrorIs(t, err, ssoerrors.ErrMissingAPIKey)
	})

	t.Run("bearer token is not an api key", func(t *testing.T) {
		r := httptest.NewRequest("POST", "/api/v1/audit/events", nil)
		r.Header.Set("Authorization", "Bearer some-jwt")

		_, err := auth.ExtractKey(r)
		assert.ErrorIs(t, err, ssoerrors.ErrMissingAPIKey)
	})
}

func TestQueryFallbackDisabledInProduction(t *testing.T) {
	productionConfig := `
environment: production
issuer: https://centra.test
server:
  listenAddress: 127.0.0.1:0
signing:
  allowQueryAPIKey: true
tenants:
  - slug: acme
    name: Acme
    callbackURL: https://acme.test/sso/callback
    sharedSecret: acme-secret
apiKeys:
  - key: acme-key-1234567890
    tenant: acme
    scopes: ["audit:write"]
`
	auth := apikey.NewAuthenticator(newStore(t, productionConfig), zap.NewNop())

	r := httptest.NewRequest("POST", "/api/v1/audit/events?api_key=acme-key-1234567890", nil)

	_, err := auth.ExtractKey(r)
	assert.ErrorIs(t, err, ssoerrors.ErrMissingAPIKey)
}

func TestAuthenticate(t *testing.T) {
	auth := newAuthenticator(t)

	record, err := auth.Authenticate("acme-key-1234567890")
	require.NoError(t, err)
	assert.Equal(t, "acme", record.Tenant)
	assert.Equal(t, []string{"audit:write"}, record.Scopes)

	_, err = auth.Authenticate("unknown-key-000000")
	assert.ErrorIs(t, err, ssoerrors.ErrInvalidAPIKey)
}

func TestAuthorize(t *testing.T) {
	auth := newAuthenticator(t)

	scoped := &apikey.Record{Tenant: "acme", Scopes: []string{"audit:write"}}
	assert.True(t, auth.Authorize(scoped, "audit:write"))
	assert.False(t, auth.Authorize(scoped, "token:validate"))

	wildcard := &apikey.Record{Tenant: "beta", Scopes: []string{"*"}}
	assert.True(t, auth.Authorize(wildcard, "audit:write"))
	assert.True(t, auth.Authorize(wildcard, "scope:never-enumerated"))
}

func TestDuplicateKeysRejectedAtLoad(t *testing.T) {
	duplicateConfig := `
environment: test
issuer: https://centra.test
server:
  listenAddress: 127.0.0.1:0
tenants:
  - slug: acme
    name: Acme
    callbackURL: https://acme.test/sso/callback
    sharedSecret: acme-secret
  - slug: beta
    name: Beta
    callbackURL: https://beta.test/sso/callback
    sharedSecret: beta-secret
apiKeys:
  - key: same-key-value
    tenant: acme
    scopes: ["*"]
  - key: same-key-value
    tenant: beta
    scopes: ["*"]
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(duplicateConfig), 0o600))

	_, err := config.NewStore(path)
	assert.ErrorContains(t, err, "collides")
}
