package keys

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/lestrrat-go/jwx/jwk"
)

// Store holds the token signing key material for one server instance.
type Store struct {
	privateKey *rsa.PrivateKey
	kid        string
	keySet     jwk.Set
}

// New builds a key store. A PEM-encoded RSA private key may be supplied;
// when it is empty a fresh 2048-bit key is generated, which invalidates
// all previously issued tokens on process restart.
func New(privateKeyPEM, keyID string) (*Store, error) {
	var (
		privateKey *rsa.PrivateKey
		err        error
	)

	if privateKeyPEM != "" {
		privateKey, err = parsePrivateKeyPEM(privateKeyPEM)
		if err != nil {
			return nil, err
		}
	} else {
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, fmt.Errorf("failed to generate RSA private key: %w", err)
		}
	}

	if keyID == "" {
		kidBytes := make([]byte, 16)
		if _, err := rand.Read(kidBytes); err != nil {
			return nil, fmt.Errorf("failed to generate random bytes for key ID: %w", err)
		}

		keyID = base64.RawURLEncoding.EncodeToString(kidBytes)
	}

	jwkKey, err := jwk.New(&privateKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create JWK from public key: %w", err)
	}

	if err := jwkKey.Set(jwk.AlgorithmKey, "RS256"); err != nil {
		return nil, fmt.Errorf("failed to set algorithm for JWK: %w", err)
	}

	if err := jwkKey.Set(jwk.KeyUsageKey, "sig"); err != nil {
		return nil, fmt.Errorf("failed to set usage for JWK: %w", err)
	}

	if err := jwkKey.Set(jwk.KeyIDKey, keyID); err != nil {
		return nil, fmt.Errorf("failed to set key ID for JWK: %w", err)
	}

	keySet := jwk.NewSet()
	keySet.Add(jwkKey)

	return &Store{
		privateKey: privateKey,
		kid:        keyID,
		keySet:     keySet,
	}, nil
}

func parsePrivateKeyPEM(raw string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return nil, fmt.Errorf("failed to decode private key PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}

	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA, got %T", parsed)
	}

	return key, nil
}

func (s *Store) PrivateKey() *rsa.PrivateKey { return s.privateKey }

func (s *Store) Kid() string { return s.kid }

func (s *Store) JWKS() jwk.Set { return s.keySet }
