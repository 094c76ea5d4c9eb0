package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, raw string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(raw), 0o600))

	return path
}

const minimalConfig = `
issuer: https://sso.example.com
server:
  listenAddress: ":8080"
tenants:
  - slug: acme
    name: Acme Corp
    callbackURL: https://acme.example.com/sso/callback
    sharedSecret: acme-secret-0123456789
`

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, DefaultAccessLifeTime, cfg.Token.AccessLifeTime.Std())
	assert.Equal(t, DefaultFreshnessWindow, cfg.Signing.FreshnessWindow.Std())
	assert.Equal(t, DefaultSessionLifeTime, cfg.Session.LifeTime.Std())
	assert.Equal(t, DefaultSignedHeaders, cfg.Signing.SignedHeaders)
	assert.Equal(t, DefaultAuditAttempts, cfg.Audit.MaxAttempts)
}

func TestLoadResolvesEnvVariables(t *testing.T) {
	t.Setenv("ACME_SHARED_SECRET", "resolved-secret-value")

	raw := `
issuer: https://sso.example.com
server:
  listenAddress: ":8080"
tenants:
  - slug: acme
    name: Acme Corp
    callbackURL: https://acme.example.com/sso/callback
    sharedSecret: ${ACME_SHARED_SECRET}
`
	cfg, err := Load(writeConfig(t, raw))
	require.NoError(t, err)

	tenant, found := cfg.FindTenant("acme")
	require.True(t, found)
	assert.Equal(t, "resolved-secret-value", tenant.SharedSecret)
}

func TestLoadFailsOnUnsetEnvVariable(t *testing.T) {
	raw := `
issuer: https://sso.example.com
server:
  listenAddress: ":8080"
tenants:
  - slug: acme
    name: Acme Corp
    callbackURL: https://acme.example.com/sso/callback
    sharedSecret: ${CENTRA_UNSET_TEST_VARIABLE}
`
	_, err := Load(writeConfig(t, raw))
	require.ErrorContains(t, err, "CENTRA_UNSET_TEST_VARIABLE")
}

func TestLoadParsesDurations(t *testing.T) {
	raw := minimalConfig + `
token:
  accessLifeTime: 30m
signing:
  freshnessWindow: 2m
`
	cfg, err := Load(writeConfig(t, raw))
	require.NoError(t, err)

	assert.Equal(t, 30*time.Minute, cfg.Token.AccessLifeTime.Std())
	assert.Equal(t, 2*time.Minute, cfg.Signing.FreshnessWindow.Std())
}

func TestLoadValidation(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		wantErr string
	}{
		{
			"missing issuer",
			`server: {listenAddress: ":8080"}`,
			"issuer",
		},
		{
			"duplicate tenant slug",
			minimalConfig + `
  - slug: acme
    name: Acme Again
    callbackURL: https://acme2.example.com/sso/callback
    sharedSecret: other-secret-0123456789
`,
			"duplicate tenant slug",
		},
		{
			"tenant without callback",
			`
issuer: https://sso.example.com
server:
  listenAddress: ":8080"
tenants:
  - slug: acme
    name: Acme Corp
    sharedSecret: acme-secret-0123456789
`,
			"no callback URL",
		},
		{
			"api key for unknown tenant",
			minimalConfig + `
apiKeys:
  - key: some-key-123456
    tenant: ghost
    scopes: ["token:validate"]
`,
			"unknown tenant",
		},
		{
			"colliding api keys",
			minimalConfig + `
apiKeys:
  - key: same-key-123456
    tenant: acme
    scopes: ["token:validate"]
  - key: same-key-123456
    tenant: acme
    scopes: ["audit:write"]
`,
			"collides",
		},
		{
			"user referencing unknown tenant",
			minimalConfig + `
users:
  - username: pat
    passwordHash: $2a$10$notachecked
    subjectID: "42"
    tenants: ["ghost"]
`,
			"unknown tenant",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.raw))
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestStoreReloadKeepsPreviousOnFailure(t *testing.T) {
	path := writeConfig(t, minimalConfig)

	store, err := NewStore(path)
	require.NoError(t, err)
	require.Equal(t, "https://sso.example.com", store.Current().Issuer)

	require.NoError(t, os.WriteFile(path, []byte("issuer: [broken"), 0o600))
	require.Error(t, store.Reload())
	assert.Equal(t, "https://sso.example.com", store.Current().Issuer)
}
