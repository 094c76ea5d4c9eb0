package token

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/signature"
	"github.com/centra-sso/centra/pkg/ssoerrors"
)

// ValidateRequest is the body of a remote validation call.
type ValidateRequest struct {
	Token  string `json:"token"`
	Tenant string `json:"tenant,omitempty"`
}

// ValidateResponse is the central server's answer.
type ValidateResponse struct {
	Valid      bool            `json:"valid"`
	Authorized bool            `json:"authorized"`
	Reason     string          `json:"reason,omitempty"`
	Claims     *IdentityClaims `json:"claims,omitempty"`
}

// RemoteValidator validates tokens through the central server's validate
// endpoint. Every call is API-key authenticated and request-signed, has a
// finite timeout, and retries transient failures with exponential backoff.
type RemoteValidator struct {
	endpoint    string
	httpClient  *http.Client
	signer      *signature.Signer
	maxAttempts int
	logger      *zap.Logger
}

func NewRemoteValidator(endpoint string, httpClient *http.Client, signer *signature.Signer, maxAttempts int, logger *zap.Logger) *RemoteValidator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &RemoteValidator{
		endpoint:    endpoint,
		httpClient:  httpClient,
		signer:      signer,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// ValidateForTenant asks the central server whether the token permits the
// tenant. Rejections (invalid token, tenant not permitted) are terminal;
// only transport errors and 5xx responses are retried. Exhausted retries
// surface as ErrUpstreamUnavailable.
func (rv *RemoteValidator) ValidateForTenant(ctx context.Context, tokenString, tenantSlug string) (*IdentityClaims, error) {
	payload, err := json.Marshal(ValidateRequest{Token: tokenString, Tenant: tenantSlug})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal validate request: %w", err)
	}

	var claims *IdentityClaims

	operation := func() error {
		var opErr error

		claims, opErr = rv.attempt(ctx, payload)

		return opErr
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponentialPolicy(), uint64(rv.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		// Permanent rejections come back as protocol errors; anything else
		// means the upstream could not be reached before retries ran out.
		if isProtocolError(err) {
			return nil, err
		}

		rv.logger.Error("Remote token validation failed after all attempts.",
			zap.Int("attempts", rv.maxAttempts),
			zap.Error(err))

		return nil, ssoerrors.ErrUpstreamUnavailable
	}

	return claims, nil
}

func isProtocolError(err error) bool {
	for _, sentinel := range []error{
		ssoerrors.ErrTokenExpired,
		ssoerrors.ErrTokenMalformed,
		ssoerrors.ErrTenantNotPermitted,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}

	return false
}

func (rv *RemoteValidator) attempt(ctx context.Context, payload []byte) (*IdentityClaims, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rv.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to build validate request: %w", err))
	}

	req.Header.Set("Content-Type", "application/json")

	if err := rv.signer.SignRequest(req); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to sign validate request: %w", err))
	}

	resp, err := rv.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("validate endpoint returned %d", resp.StatusCode)
	}

	var result ValidateResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, backoff.Permanent(fmt.Errorf("failed to decode validate response: %w", err))
	}

	if !result.Valid {
		return nil, backoff.Permanent(reasonToError(result.Reason))
	}

	if !result.Authorized {
		return nil, backoff.Permanent(ssoerrors.ErrTenantNotPermitted)
	}

	return result.Claims, nil
}

func reasonToError(code string) error {
	switch code {
	case ssoerrors.CodeTokenExpired:
		return ssoerrors.ErrTokenExpired
	case ssoerrors.CodeTenantNotPermitted:
		return ssoerrors.ErrTenantNotPermitted
	default:
		return ssoerrors.ErrTokenMalformed
	}
}

func newExponentialPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	return policy
}
