// Package replay rejects stale and replayed signed requests. The nonce
// store is the only shared mutable state in the protocol; everything else
// is a pure function of the request.
package replay

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/common"
	"github.com/centra-sso/centra/pkg/ssoerrors"
)

// NonceStore atomically records first sightings of request IDs. Recording
// and checking must be a single operation so two racing requests with the
// same nonce cannot both pass.
type NonceStore interface {
	// CheckAndRecord returns true if requestID was unseen and is now
	// recorded for ttl, false if it was already recorded.
	CheckAndRecord(ctx context.Context, requestID string, ttl time.Duration) (bool, error)
}

// Guard combines timestamp freshness with nonce tracking.
type Guard struct {
	store  NonceStore
	window time.Duration
	logger *zap.Logger
}

// NewGuard builds a guard. window bounds how far a request timestamp may
// drift from server time in either direction; nonces live for twice that,
// covering the whole span in which a replayed signature could still be
// fresh.
func NewGuard(store NonceStore, window time.Duration, logger *zap.Logger) *Guard {
	return &Guard{
		store:  store,
		window: window,
		logger: logger,
	}
}

// CheckFreshness rejects timestamps outside the window, past or future,
// regardless of signature validity.
func (g *Guard) CheckFreshness(timestamp string) error {
	if timestamp == "" {
		return ssoerrors.ErrMalformedTimestamp
	}

	ts, err := time.Parse(common.TimestampLayout, timestamp)
	if err != nil {
		return ssoerrors.ErrMalformedTimestamp
	}

	drift := time.Since(ts)
	if drift < 0 {
		drift = -drift
	}

	if drift > g.window {
		g.logger.Warn("Rejected request with stale timestamp.",
			zap.String("timestamp", timestamp),
			zap.Duration("drift", drift),
			zap.Duration("window", g.window))

		return ssoerrors.ErrStaleTimestamp
	}

	return nil
}

// CheckAndRecordNonce records a request ID and rejects it if it was seen
// before within the nonce TTL, even when its signature verifies.
func (g *Guard) CheckAndRecordNonce(ctx context.Context, requestID string) error {
	if requestID == "" {
		return ssoerrors.ErrReplayedRequest
	}

	fresh, err := g.store.CheckAndRecord(ctx, requestID, 2*g.window)
	if err != nil {
		return err
	}

	if !fresh {
		g.logger.Warn("Rejected replayed request.", zap.String("requestID", requestID))

		return ssoerrors.ErrReplayedRequest
	}

	return nil
}
