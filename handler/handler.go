package handler

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/audit"
	"github.com/centra-sso/centra/pkg/auditstore"
	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/config"
	"github.com/centra-sso/centra/pkg/credentials"
	"github.com/centra-sso/centra/pkg/keys"
	"github.com/centra-sso/centra/pkg/metrics"
	"github.com/centra-sso/centra/pkg/sessionmanager"
	"github.com/centra-sso/centra/pkg/sso"
	"github.com/centra-sso/centra/pkg/ssoerrors"
	"github.com/centra-sso/centra/pkg/token"
)

// Handlers carries the central server's HTTP endpoints.
type Handlers struct {
	Store        *config.Store
	Keys         *keys.Store
	Sessions     *sessionmanager.Manager
	Orchestrator *sso.Orchestrator
	Validator    *token.Validator
	Credentials  credentials.Store
	AuditStore   *auditstore.Store
	Metrics      *metrics.Metrics
	Logger       *zap.Logger
}

// GetJwksHandler serves the public key set tenants use for local token
// validation.
func (h *Handlers) GetJwksHandler(w http.ResponseWriter, r *http.Request) {
	h.Logger.Info("Get-Jwks request received.")

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(h.Keys.JWKS()); err != nil {
		h.Logger.Error("Failed to encode response of a get-jwks request.", zap.Error(err))
	}
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginHandler verifies credentials, establishes the central browser
// session and, when the request carries SSO flow parameters, re-enters the
// check-auth flow.
func (h *Handlers) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorCode(w, http.StatusBadRequest, "invalid login request", "INVALID_REQUEST")

		return
	}

	if req.Username == "" || req.Password == "" {
		common.WriteErrorCode(w, http.StatusBadRequest, "username and password are required", "INVALID_REQUEST")

		return
	}

	identity, found, err := h.Credentials.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		h.Logger.Error("Credential store failure.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, "credential check failed", "INTERNAL_ERROR")

		return
	}

	if !found {
		h.Logger.Warn("Login failed.",
			zap.String("username", req.Username),
			zap.String("remoteAddr", r.RemoteAddr))
		common.WriteErrorCode(w, http.StatusUnauthorized, "invalid credentials", "INVALID_CREDENTIALS")

		return
	}

	sessionID, err := h.Sessions.Save(sessionmanager.UserSession{
		SubjectID:   identity.SubjectID,
		Username:    identity.Username,
		TenantSlugs: identity.TenantSlugs,
	})
	if err != nil {
		h.Logger.Error("Failed to create session.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, "failed to create session", "INTERNAL_ERROR")

		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     sessionmanager.CookieName,
		Value:    sessionID,
		Path:     "/",
		Expires:  time.Now().Add(h.Store.Current().Session.LifeTime.Std()),
		HttpOnly: true,
	})

	h.recordEvent(r, audit.EventLogin, identity.SubjectID, "")
	h.Logger.Info("User logged in.", zap.String("subject", identity.SubjectID))

	// Login requests arriving mid-flow carry the original check-auth
	// parameters; send the browser straight back into the handshake.
	tenant := r.URL.Query().Get("tenant")
	callback := r.URL.Query().Get("callback")

	if tenant != "" && callback != "" {
		h.completeFlow(w, r, tenant, callback, sessionID)

		return
	}

	//nolint:errcheck
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "user": identity.SubjectID})
}

// LogoutHandler ends the central session.
func (h *Handlers) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(sessionmanager.CookieName)
	if err != nil || cookie.Value == "" {
		common.WriteErrorCode(w, http.StatusUnauthorized, "no active session", "NO_SESSION")

		return
	}

	if session, exists := h.Sessions.Get(cookie.Value); exists {
		h.recordEvent(r, audit.EventLogout, session.SubjectID, "")
	}

	h.Sessions.Delete(cookie.Value)

	http.SetCookie(w, &http.Cookie{
		Name:     sessionmanager.CookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour),
		HttpOnly: true,
	})

	//nolint:errcheck
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// CheckAuthHandler is the entry point of the SSO redirect handshake.
func (h *Handlers) CheckAuthHandler(w http.ResponseWriter, r *http.Request) {
	tenant := r.URL.Query().Get("tenant")
	callback := r.URL.Query().Get("callback")

	if tenant == "" || callback == "" {
		common.WriteErrorCode(w, http.StatusBadRequest, "tenant and callback parameters are required", "INVALID_REQUEST")

		return
	}

	sessionID := ""
	if cookie, err := r.Cookie(sessionmanager.CookieName); err == nil {
		sessionID = cookie.Value
	}

	h.completeFlow(w, r, tenant, callback, sessionID)
}

func (h *Handlers) completeFlow(w http.ResponseWriter, r *http.Request, tenant, callback, sessionID string) {
	decision, err := h.Orchestrator.CheckAuth(tenant, callback, sessionID)
	if err != nil {
		if errors.Is(err, sso.ErrIssuance) {
			// Token signing failed for an authenticated user: bounce to the
			// login form with an error marker rather than a bare 500.
			h.Logger.Error("Token issuance failed during sso flow.", zap.Error(err))
			http.Redirect(w, r, "/login?error=token_issuance_failed", http.StatusFound)

			return
		}

		h.Logger.Warn("Rejected check-auth request.",
			zap.String("tenant", tenant),
			zap.String("callback", callback),
			zap.String("remoteAddr", r.RemoteAddr),
			zap.Error(err))
		common.WriteErrorCode(w, http.StatusBadRequest, err.Error(), "INVALID_FLOW_REQUEST")

		return
	}

	switch decision.State {
	case sso.StateTokenIssued:
		h.recordEvent(r, audit.EventTokenIssued, decision.Subject, tenant)
		http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
	case sso.StateLoginRequired:
		http.Redirect(w, r, decision.RedirectURL, http.StatusFound)
	case sso.StateAccessDenied:
		h.recordEvent(r, audit.EventAccessDenied, decision.Subject, tenant)
		common.WriteErrorCode(w, http.StatusForbidden, "user has no access to tenant "+tenant, ssoerrors.CodeTenantNotPermitted)
	default:
		common.WriteErrorCode(w, http.StatusInternalServerError, "unexpected flow state", "INTERNAL_ERROR")
	}
}

// ValidateTokenHandler answers remote validation calls from tenants. The
// signed-request middleware has already authenticated the caller, so the
// response is always 200 with an explicit verdict.
func (h *Handlers) ValidateTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req token.ValidateRequest

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.WriteErrorCode(w, http.StatusBadRequest, "invalid validate request", "INVALID_REQUEST")

		return
	}

	resp := token.ValidateResponse{}

	claims, err := h.Validator.Validate(req.Token)

	switch {
	case err != nil:
		resp.Reason = ssoerrors.Code(err)
		h.Metrics.TokenValidated(resp.Reason)
	case req.Tenant != "" && !claims.PermitsTenant(req.Tenant):
		resp.Valid = true
		resp.Reason = ssoerrors.CodeTenantNotPermitted
		h.Metrics.TokenValidated(resp.Reason)
	default:
		resp.Valid = true
		resp.Authorized = true
		resp.Claims = claims
		h.Metrics.TokenValidated("ok")
	}

	if err := common.WriteJSON(w, http.StatusOK, resp); err != nil {
		h.Logger.Error("Failed to encode validate response.", zap.Error(err))
	}
}

// IngestAuditEventHandler stores an audit event pushed by a tenant. The
// event's tenant is taken from the authenticated caller, not the payload.
func (h *Handlers) IngestAuditEventHandler(w http.ResponseWriter, r *http.Request) {
	var event audit.Event

	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		common.WriteErrorCode(w, http.StatusBadRequest, "invalid audit event", "INVALID_REQUEST")

		return
	}

	event.Tenant = r.Header.Get(common.HeaderTenantID)
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	if err := h.AuditStore.Insert(r.Context(), event); err != nil {
		h.Logger.Error("Failed to store audit event.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, "failed to store audit event", "INTERNAL_ERROR")

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// ListAuditEventsHandler returns recent audit events.
func (h *Handlers) ListAuditEventsHandler(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			common.WriteErrorCode(w, http.StatusBadRequest, "invalid limit", "INVALID_REQUEST")

			return
		}

		limit = parsed
	}

	events, err := h.AuditStore.Recent(r.Context(), limit)
	if err != nil {
		h.Logger.Error("Failed to list audit events.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, "failed to list audit events", "INTERNAL_ERROR")

		return
	}

	//nolint:errcheck
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "events": events})
}

// ReloadConfigHandler re-reads the configuration file and swaps it in.
func (h *Handlers) ReloadConfigHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reload(); err != nil {
		h.Logger.Error("Configuration reload failed; previous configuration stays active.", zap.Error(err))
		common.WriteErrorCode(w, http.StatusInternalServerError, err.Error(), "CONFIG_RELOAD_FAILED")

		return
	}

	h.Logger.Info("Configuration reloaded.")

	//nolint:errcheck
	common.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (h *Handlers) recordEvent(r *http.Request, eventType, subject, tenant string) {
	if h.AuditStore == nil {
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	event := audit.Event{
		ID:         uuid.NewString(),
		Type:       eventType,
		Subject:    subject,
		Tenant:     tenant,
		SourceIP:   host,
		OccurredAt: time.Now().UTC(),
	}

	// Local persistence is best-effort too; a full audit table must not
	// block logins.
	if err := h.AuditStore.Insert(r.Context(), event); err != nil {
		h.Logger.Error("Failed to record local audit event.",
			zap.String("eventType", eventType),
			zap.Error(err))
	}
}
