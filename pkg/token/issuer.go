package token

import (
	"fmt"
	"sort"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/centra-sso/centra/pkg/keys"
)

// Issuer mints signed identity tokens. Issuance is stateless: no issued
// token is persisted, so expiry is the only invalidation mechanism.
type Issuer struct {
	keys   *keys.Store
	issuer string
	logger *zap.Logger
}

func NewIssuer(keyStore *keys.Store, issuer string, logger *zap.Logger) *Issuer {
	return &Issuer{
		keys:   keyStore,
		issuer: issuer,
		logger: logger,
	}
}

// Issue signs a token for an already-authenticated subject. currentTenant,
// when non-empty, must be one of tenantSlugs. Credential checking is the
// caller's responsibility.
func (i *Issuer) Issue(subject string, tenantSlugs []string, currentTenant string, ttl time.Duration) (string, error) {
	if subject == "" {
		return "", fmt.Errorf("subject must not be empty")
	}

	slugs := dedupeSlugs(tenantSlugs)

	if currentTenant != "" {
		found := false

		for _, s := range slugs {
			if s == currentTenant {
				found = true
				break
			}
		}

		if !found {
			return "", fmt.Errorf("current tenant %q is not among the subject's tenants", currentTenant)
		}
	}

	now := time.Now()

	claims := IdentityClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
		TenantSlugs:   slugs,
		CurrentTenant: currentTenant,
	}

	newToken := jwt.NewWithClaims(jwt.SigningMethodRS256, &claims)
	newToken.Header["typ"] = TokenType
	newToken.Header["kid"] = i.keys.Kid()

	tokenString, err := newToken.SignedString(i.keys.PrivateKey())
	if err != nil {
		i.logger.Error("Failed to sign identity token.", zap.Error(err))

		return "", fmt.Errorf("failed to sign identity token: %w", err)
	}

	i.logger.Info("Issued identity token.",
		zap.String("subject", subject),
		zap.Strings("tenants", slugs),
		zap.String("currentTenant", currentTenant),
		zap.Duration("ttl", ttl))

	return tokenString, nil
}

func dedupeSlugs(slugs []string) []string {
	seen := make(map[string]bool, len(slugs))
	out := make([]string, 0, len(slugs))

	for _, s := range slugs {
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true

		out = append(out, s)
	}

	sort.Strings(out)

	return out
}
