package sso_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/keys"
	"github.com/centra-sso/centra/pkg/metrics"
	"github.com/centra-sso/centra/pkg/sessionmanager"
	"github.com/centra-sso/centra/pkg/sso"
	"github.com/centra-sso/centra/pkg/token"
)

const testConfig = `
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
`

type fixture struct {
	orchestrator *sso.Orchestrator
	sessions     *sessionmanager.Manager
	validator    *token.Validator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testConfig), 0o600))

	store, err := config.NewStore(path)
	require.NoError(t, err)

	keyStore, err := keys.New("", "")
	require.NoError(t, err)

	logger := zap.NewNop()
	issuer := token.NewIssuer(keyStore, "https://centra.test", logger)
	sessions := sessionmanager.New(config.DefaultSessionLifeTime)

	return &fixture{
		orchestrator: sso.NewOrchestrator(store, issuer, sessions, metrics.New(prometheus.NewRegistry()), "/login", logger),
		sessions:     sessions,
		validator:    token.NewValidator(keyStore.JWKS(), "https://centra.test"),
	}
}

func (f *fixture) login(t *testing.T, subject string, tenants ...string) string {
	t.Helper()

	sessionID, err := f.sessions.Save(sessionmanager.UserSession{
		SubjectID:   subject,
		Username:    "user-" + subject,
		TenantSlugs: tenants,
	})
	require.NoError(t, err)

	return sessionID
}

func TestCheckAuthWithoutSession(t *testing.T) {
	f := newFixture(t)

	decision, err := f.orchestrator.CheckAuth("acme", "https://acme.test/sso/callback", "no-such-session")
	require.NoError(t, err)

	assert.Equal(t, sso.StateLoginRequired, decision.State)
	assert.Contains(t, decision.RedirectURL, "/login?")
	assert.Contains(t, decision.RedirectURL, "tenant=acme")
}

func TestCheckAuthIssuesToken(t *testing.T) {
	f := newFixture(t)
	sessionID := f.login(t, "42", "acme", "beta")

	decision, err := f.orchestrator.CheckAuth("acme", "https://acme.test/sso/callback", sessionID)
	require.NoError(t, err)

	require.Equal(t, sso.StateTokenIssued, decision.State)
	assert.True(t, strings.HasPrefix(decision.RedirectURL, "https://acme.test/sso/callback?"))
	assert.Contains(t, decision.RedirectURL, "user=42")

	tokenString := tokenFromRedirect(t, decision.RedirectURL)

	claims, err := f.validator.ValidateForTenant(tokenString, "acme")
	require.NoError(t, err)
	assert.Equal(t, "42", claims.Subject)
	assert.Equal(t, "acme", claims.CurrentTenant)
	assert.Equal(t, []string{"acme", "beta"}, claims.TenantSlugs)
}

func TestCheckAuthDeniesForeignTenant(t *testing.T) {
	f := newFixture(t)
	sessionID := f.login(t, "42", "beta")

	decision, err := f.orchestrator.CheckAuth("acme", "https://acme.test/sso/callback", sessionID)
	require.NoError(t, err)

	// Authenticated but not a member: explicit denial, never a login prompt.
	assert.Equal(t, sso.StateAccessDenied, decision.State)
	assert.Empty(t, decision.RedirectURL)
}

func TestCheckAuthRejectsUnknownTenant(t *testing.T) {
	f := newFixture(t)

	_, err := f.orchestrator.CheckAuth("gamma", "https://gamma.test/sso/callback", "")
	assert.Error(t, err)
}

func TestCheckAuthRejectsForeignCallback(t *testing.T) {
	f := newFixture(t)
	sessionID := f.login(t, "42", "acme")

	_, err := f.orchestrator.CheckAuth("acme", "https://evil.test/steal-token", sessionID)
	assert.Error(t, err)
}

func tokenFromRedirect(t *testing.T, redirectURL string) string {
	t.Helper()

	_, query, found := strings.Cut(redirectURL, "?")
	require.True(t, found)

	for _, pair := range strings.Split(query, "&") {
		if value, ok := strings.CutPrefix(pair, "token="); ok {
			return value
		}
	}

	t.Fatal("no token parameter in redirect URL")

	return ""
}
