package token

import (
	"github.com/golang-jwt/jwt/v4"
)

// TokenType is the JWT "typ" header for tokens issued by this service.
const TokenType = "sso_token"

// IdentityClaims binds a user identity to its tenant memberships.
type IdentityClaims struct {
	jwt.RegisteredClaims

	// TenantSlugs is every tenant the subject may access, deduplicated.
	TenantSlugs []string `json:"tenants"`

	// CurrentTenant is the tenant selected during an SSO redirect flow.
	// When present it is always a member of TenantSlugs.
	CurrentTenant string `json:"tenant,omitempty"`
}

// PermitsTenant reports whether the claims allow access to the tenant.
// Membership in TenantSlugs decides, not CurrentTenant.
func (c *IdentityClaims) PermitsTenant(slug string) bool {
	for _, s := range c.TenantSlugs {
		if s == slug {
			return true
		}
	}

	return false
}
