// Package audit ships login/logout events to the central audit endpoint.
// Delivery is best-effort: a failed recording never alters the outcome of
// the user-facing operation it describes.
package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/signature"
)

// Event types.
const (
	EventLogin        = "login"
	EventLogout       = "logout"
	EventAccessDenied = "access_denied"
	EventTokenIssued  = "token_issued"
)

// Event is one audit record.
type Event struct {
	ID         string    `json:"id"`
	Type       string    `json:"type"`
	Subject    string    `json:"subject"`
	Tenant     string    `json:"tenant,omitempty"`
	SourceIP   string    `json:"source_ip,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Recorder posts signed audit events with bounded retries.
type Recorder struct {
	endpoint       string
	httpClient     *http.Client
	signer         *signature.Signer
	maxAttempts    int
	requestTimeout time.Duration
	logger         *zap.Logger
}

func NewRecorder(endpoint string, httpClient *http.Client, signer *signature.Signer, maxAttempts int, requestTimeout time.Duration, logger *zap.Logger) *Recorder {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	return &Recorder{
		endpoint:       endpoint,
		httpClient:     httpClient,
		signer:         signer,
		maxAttempts:    maxAttempts,
		requestTimeout: requestTimeout,
		logger:         logger,
	}
}

// Record delivers one event, retrying transient failures with exponential
// backoff (1s, 2s, 4s, ...). The returned error is informational; callers
// on the login path should use RecordAsync instead.
func (r *Recorder) Record(ctx context.Context, event Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal audit event: %w", err)
	}

	operation := func() error {
		return r.attempt(ctx, payload)
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(newExponentialPolicy(), uint64(r.maxAttempts-1)), ctx)

	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("audit recording failed after %d attempts: %w", r.maxAttempts, err)
	}

	return nil
}

// RecordAsync fires Record on its own goroutine and logs the outcome.
// All-attempts failure is logged and swallowed.
func (r *Recorder) RecordAsync(event Event) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(r.maxAttempts)*r.requestTimeout+8*time.Second)
		defer cancel()

		if err := r.Record(ctx, event); err != nil {
			r.logger.Error("Best-effort audit recording failed.",
				zap.String("eventType", event.Type),
				zap.String("subject", event.Subject),
				zap.Error(err))
		}
	}()
}

func (r *Recorder) attempt(ctx context.Context, payload []byte) error {
	attemptCtx, cancel := context.WithTimeout(ctx, r.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, r.endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}

	req.Header.Set("Content-Type", "application/json")

	if err := r.signer.SignRequest(req); err != nil {
		return backoff.Permanent(fmt.Errorf("failed to sign audit request: %w", err))
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return err
	}

	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		return fmt.Errorf("audit endpoint returned %d", resp.StatusCode)
	}

	if resp.StatusCode >= 400 {
		// A rejected signature or key will not heal on retry.
		return backoff.Permanent(fmt.Errorf("audit endpoint rejected event with %d", resp.StatusCode))
	}

	return nil
}

func newExponentialPolicy() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Second
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0

	return policy
}
