// Package sso drives the browser-redirect handshake that lets a user with
// a valid central session silently obtain a tenant-scoped token.
package sso

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/metrics"
	"github.com/centra-sso/centra/pkg/sessionmanager"
	"github.com/centra-sso/centra/pkg/token"
)

// FlowState names a step of the redirect handshake.
type FlowState string

const (
	StateAnonymous             FlowState = "ANONYMOUS"
	StateTenantRedirected      FlowState = "TENANT_REDIRECTED"
	StateCentralSessionChecked FlowState = "CENTRAL_SESSION_CHECKED"
	StateTokenIssued           FlowState = "TOKEN_ISSUED"
	StateLoginRequired         FlowState = "LOGIN_REQUIRED"
	StateAccessDenied          FlowState = "ACCESS_DENIED"
)

// ErrIssuance marks a check-auth failure caused by token signing, as
// opposed to a bad flow request.
var ErrIssuance = errors.New("token issuance failed")

// Decision is the outcome of a check-auth evaluation.
type Decision struct {
	State FlowState

	// RedirectURL is set for TOKEN_ISSUED (tenant callback with token) and
	// LOGIN_REQUIRED (central login form with flow parameters).
	RedirectURL string

	// Subject is set when a central session was found.
	Subject string
}

// Orchestrator evaluates check-auth requests against the central session
// store and mints tokens for permitted tenants.
type Orchestrator struct {
	store     *config.Store
	issuer    *token.Issuer
	sessions  *sessionmanager.Manager
	metrics   *metrics.Metrics
	logger    *zap.Logger
	loginPath string
}

func NewOrchestrator(store *config.Store, issuer *token.Issuer, sessions *sessionmanager.Manager, m *metrics.Metrics, loginPath string, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:     store,
		issuer:    issuer,
		sessions:  sessions,
		metrics:   m,
		logger:    logger,
		loginPath: loginPath,
	}
}

// CheckAuth runs the CENTRAL_SESSION_CHECKED transition for one browser
// request. The tenant must be registered and the callback URL must sit
// under the tenant's registered callback prefix; anything else is a flow
// error, not a login prompt.
func (o *Orchestrator) CheckAuth(tenantSlug, callbackURL, sessionID string) (Decision, error) {
	cfg := o.store.Current()

	tenant, found := cfg.FindTenant(tenantSlug)
	if !found {
		return Decision{}, fmt.Errorf("unknown tenant %q", tenantSlug)
	}

	if !strings.HasPrefix(callbackURL, tenant.CallbackURL) {
		return Decision{}, fmt.Errorf("callback URL %q is outside the registered callback for tenant %q", callbackURL, tenantSlug)
	}

	session, exists := o.sessions.Get(sessionID)
	if !exists {
		o.metrics.SSOTransition(string(StateLoginRequired))

		return Decision{
			State:       StateLoginRequired,
			RedirectURL: o.loginRedirect(tenantSlug, callbackURL),
		}, nil
	}

	if !contains(session.TenantSlugs, tenantSlug) {
		o.logger.Warn("Authenticated user lacks access to requesting tenant.",
			zap.String("subject", session.SubjectID),
			zap.String("tenant", tenantSlug))
		o.metrics.SSOTransition(string(StateAccessDenied))

		return Decision{State: StateAccessDenied, Subject: session.SubjectID}, nil
	}

	tokenString, err := o.issuer.Issue(session.SubjectID, session.TenantSlugs, tenantSlug, cfg.Token.AccessLifeTime.Std())
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrIssuance, err)
	}

	o.metrics.SSOTransition(string(StateTokenIssued))
	o.metrics.TokenIssued(tenantSlug)

	return Decision{
		State:       StateTokenIssued,
		RedirectURL: callbackRedirect(callbackURL, tokenString, session.SubjectID),
		Subject:     session.SubjectID,
	}, nil
}

func (o *Orchestrator) loginRedirect(tenantSlug, callbackURL string) string {
	params := url.Values{}
	params.Set("tenant", tenantSlug)
	params.Set("callback", callbackURL)

	return o.loginPath + "?" + params.Encode()
}

func callbackRedirect(callbackURL, tokenString, subject string) string {
	params := url.Values{}
	params.Set("token", tokenString)
	params.Set("user", subject)

	separator := "?"
	if strings.Contains(callbackURL, "?") {
		separator = "&"
	}

	return callbackURL + separator + params.Encode()
}

func contains(slugs []string, slug string) bool {
	for _, s := range slugs {
		if s == slug {
			return true
		}
	}

	return false
}
