// Package tenant implements the tenant-side half of the SSO handshake: a
// reverse proxy that forces unauthenticated browsers through the central
// check-auth flow and only opens a local session for a validated token.
package tenant

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/lestrrat-go/jwx/jwk"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/audit"
	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/sessionmanager"
	"github.com/centra-sso/centra/pkg/signature"
	"github.com/centra-sso/centra/pkg/token"
)

// SessionCookieName carries the tenant-local session ID.
const SessionCookieName = "tenant_session"

// CallbackPath is where the central server redirects with the token.
const CallbackPath = "/sso/callback"

// TokenValidator abstracts local and remote validation behind one shape.
type TokenValidator interface {
	ValidateForTenant(ctx context.Context, tokenString, tenantSlug string) (*token.IdentityClaims, error)
}

// localValidator adapts token.Validator to TokenValidator.
type localValidator struct {
	inner *token.Validator
}

func (v localValidator) ValidateForTenant(_ context.Context, tokenString, tenantSlug string) (*token.IdentityClaims, error) {
	return v.inner.ValidateForTenant(tokenString, tenantSlug)
}

// App is one running tenant application.
type App struct {
	cfg       *Config
	sessions  *sessionmanager.Manager
	validator TokenValidator
	recorder  *audit.Recorder
	proxy     *httputil.ReverseProxy
	logger    *zap.Logger
}

// NewApp wires a tenant application. With remote validation disabled the
// central server's JWKS is fetched once at startup.
func NewApp(ctx context.Context, cfg *Config, httpClient *http.Client, logger *zap.Logger) (*App, error) {
	engine := signature.NewEngine(cfg.Signing.SignedHeaders)
	signer := signature.NewSigner(engine, cfg.APIKey, cfg.Slug, cfg.SharedSecret)

	var validator TokenValidator

	if cfg.Central.ValidateRemotely {
		validator = token.NewRemoteValidator(
			cfg.Central.BaseURL+"/api/v1/token/validate",
			httpClient,
			signer,
			cfg.Audit.MaxAttempts,
			logger,
		)
	} else {
		keySet, err := jwk.Fetch(ctx, cfg.Central.BaseURL+"/.well-known/jwks.json")
		if err != nil {
			return nil, err
		}

		issuer := cfg.Central.Issuer
		if issuer == "" {
			issuer = cfg.Central.BaseURL
		}

		validator = localValidator{inner: token.NewValidator(keySet, issuer)}
	}

	recorder := audit.NewRecorder(
		cfg.Audit.Endpoint,
		httpClient,
		signer,
		cfg.Audit.MaxAttempts,
		cfg.Audit.RequestTimeout.Std(),
		logger,
	)

	return &App{
		cfg:       cfg,
		sessions:  sessionmanager.New(cfg.Session.LifeTime.Std()),
		validator: validator,
		recorder:  recorder,
		proxy:     newReverseProxy(cfg.UpstreamURL, logger),
		logger:    logger,
	}, nil
}

// SetupRoutes returns the tenant router: callback and logout endpoints
// plus the proxied application behind the SSO gate.
func (a *App) SetupRoutes() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc(CallbackPath, a.CallbackHandler).Methods("GET")
	router.HandleFunc("/logout", a.LogoutHandler).Methods("POST")
	router.PathPrefix("/").Handler(a.Authenticate(a.proxy))

	return router
}

// Authenticate lets requests with a live local session or a valid bearer
// token through and sends everyone else into the central check-auth flow.
func (a *App) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie(SessionCookieName); err == nil {
			if session, exists := a.sessions.Get(cookie.Value); exists {
				r.Header.Set("X-User-ID", session.SubjectID)
				next.ServeHTTP(w, r)

				return
			}
		}

		// API clients present the issued token directly instead of going
		// through the browser redirect flow.
		if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			claims, err := a.validator.ValidateForTenant(r.Context(), strings.TrimPrefix(auth, "Bearer "), a.cfg.Slug)
			if err != nil {
				a.logger.Warn("Rejected bearer token.",
					zap.String("remoteAddr", r.RemoteAddr),
					zap.Error(err))
				common.WriteError(w, err)

				return
			}

			r.Header.Set("X-User-ID", claims.Subject)
			next.ServeHTTP(w, r)

			return
		}

		params := url.Values{}
		params.Set("tenant", a.cfg.Slug)
		params.Set("callback", a.cfg.ExternalURL+CallbackPath)

		http.Redirect(w, r, a.cfg.Central.BaseURL+"/sso/check-auth?"+params.Encode(), http.StatusFound)
	})
}

// CallbackHandler receives the token minted by the central server. The
// token is validated before any local session exists; a failed validation
// never creates one.
func (a *App) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	tokenString := r.URL.Query().Get("token")
	if tokenString == "" {
		common.WriteErrorCode(w, http.StatusBadRequest, "token parameter is required", "INVALID_REQUEST")

		return
	}

	claims, err := a.validator.ValidateForTenant(r.Context(), tokenString, a.cfg.Slug)
	if err != nil {
		a.logger.Warn("Rejected sso callback token.",
			zap.String("remoteAddr", r.RemoteAddr),
			zap.String("tokenPrefix", common.MaskSecret(tokenString)),
			zap.Error(err))
		common.WriteError(w, err)

		return
	}

	sessionID, err := a.sessions.Save(sessionmanager.UserSession{
		SubjectID:   claims.Subject,
		TenantSlugs: claims.TenantSlugs,
	})
	if err != nil {
		a.logger.Error("Failed to create local session.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, "failed to create session", "INTERNAL_ERROR")

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  time.Now().Add(a.cfg.Session.LifeTime.Std()),
		HttpOnly: true,
	})

	a.recorder.RecordAsync(audit.Event{
		Type:    audit.EventLogin,
		Subject: claims.Subject,
		Tenant:  a.cfg.Slug,
	})

	a.logger.Info("Established local session from sso callback.", zap.String("subject", claims.Subject))

	http.Redirect(w, r, "/", http.StatusFound)
}

// LogoutHandler drops the local session. The central session stays alive;
// ending it is the central server's /logout.
func (a *App) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		common.WriteErrorCode(w, http.StatusUnauthorized, "no active session", "NO_SESSION")

		return
	}

	if session, exists := a.sessions.Get(cookie.Value); exists {
		a.recorder.RecordAsync(audit.Event{
			Type:    audit.EventLogout,
			Subject: session.SubjectID,
			Tenant:  a.cfg.Slug,
		})
	}

	a.sessions.Delete(cookie.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HttpOnly: true,
	})

	//nolint:errcheck
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func newReverseProxy(targetURL string, logger *zap.Logger) *httputil.ReverseProxy {
	target, err := url.Parse(targetURL)
	if err != nil {
		panic("failed to parse tenant proxy target URL: " + targetURL)
	}

	proxy := httputil.NewSingleHostReverseProxy(target)

	originalDirector := proxy.Director
	proxy.Director = func(req *http.Request) {
		originalDirector(req)
		logger.Info("Proxying request.", zap.String("target", target.Host), zap.String("path", req.URL.Path))
	}

	return proxy
}

var _ TokenValidator = (*token.RemoteValidator)(nil)
