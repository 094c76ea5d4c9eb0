package token

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/lestrrat-go/jwx/jwk"

	"github.com/centra-sso/centra/pkg/ssoerrors"
)

// Validator checks token signatures and claims against a JWKS key set.
// Tenant applications holding the key set validate locally; others go
// through RemoteValidator.
type Validator struct {
	keySet jwk.Set
	issuer string
}

func NewValidator(keySet jwk.Set, issuer string) *Validator {
	return &Validator{
		keySet: keySet,
		issuer: issuer,
	}
}

// Validate confirms signature integrity, expiry and structural
// well-formedness, and returns the embedded claims. Expired tokens map to
// ErrTokenExpired, everything else malformed to ErrTokenMalformed.
func (v *Validator) Validate(tokenString string) (*IdentityClaims, error) {
	parsed, err := jwt.ParseWithClaims(tokenString, &IdentityClaims{}, v.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ssoerrors.ErrTokenExpired
		}

		return nil, fmt.Errorf("%w: %s", ssoerrors.ErrTokenMalformed, err)
	}

	if !parsed.Valid {
		return nil, ssoerrors.ErrTokenMalformed
	}

	claims, ok := parsed.Claims.(*IdentityClaims)
	if !ok {
		return nil, ssoerrors.ErrTokenMalformed
	}

	if err := v.checkStructure(claims); err != nil {
		return nil, err
	}

	return claims, nil
}

// ValidateForTenant validates the token and additionally requires the
// tenant to be among the permitted slugs. A valid token for the wrong
// tenant fails with ErrTenantNotPermitted, not a generic invalid-token
// error.
func (v *Validator) ValidateForTenant(tokenString, tenantSlug string) (*IdentityClaims, error) {
	claims, err := v.Validate(tokenString)
	if err != nil {
		return nil, err
	}

	if !claims.PermitsTenant(tenantSlug) {
		return nil, ssoerrors.ErrTenantNotPermitted
	}

	return claims, nil
}

func (v *Validator) checkStructure(claims *IdentityClaims) error {
	if claims.Subject == "" {
		return fmt.Errorf("%w: missing subject", ssoerrors.ErrTokenMalformed)
	}

	if v.issuer != "" && claims.Issuer != v.issuer {
		return fmt.Errorf("%w: unexpected issuer %q", ssoerrors.ErrTokenMalformed, claims.Issuer)
	}

	if claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return fmt.Errorf("%w: missing iat or exp", ssoerrors.ErrTokenMalformed)
	}

	if !claims.IssuedAt.Time.Before(claims.ExpiresAt.Time) {
		return fmt.Errorf("%w: iat is not before exp", ssoerrors.ErrTokenMalformed)
	}

	if claims.CurrentTenant != "" && !claims.PermitsTenant(claims.CurrentTenant) {
		return fmt.Errorf("%w: current tenant outside tenant set", ssoerrors.ErrTokenMalformed)
	}

	// Defense against tokens issued absurdly far in the future.
	if claims.IssuedAt.Time.After(time.Now().Add(time.Minute)) {
		return fmt.Errorf("%w: issued in the future", ssoerrors.ErrTokenMalformed)
	}

	return nil
}

func (v *Validator) keyFunc(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}

	kid, ok := t.Header["kid"].(string)
	if !ok {
		return nil, fmt.Errorf("kid not found in token header")
	}

	key, found := v.keySet.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("key %v not found in JWKS", kid)
	}

	var rawKey interface{}
	if err := key.Raw(&rawKey); err != nil {
		return nil, fmt.Errorf("failed to get public key: %w", err)
	}

	publicKey, ok := rawKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unsupported key type %T", rawKey)
	}

	return publicKey, nil
}
