// Package credentials verifies user login credentials. The central server
// only needs a yes/no answer plus the subject's identity and tenant
// memberships; the backing store is replaceable.
package credentials

import (
	"context"

	"golang.org/x/crypto/bcrypt"

	"github.com/centra-sso/centra/pkg/config"
)

// Identity is what a successful credential check yields.
type Identity struct {
	SubjectID   string
	Username    string
	TenantSlugs []string
}

// Store answers credential checks.
type Store interface {
	// Verify returns the identity for a matching username/password pair,
	// or found=false for unknown users and wrong passwords alike.
	Verify(ctx context.Context, username, password string) (identity Identity, found bool, err error)
}

// ConfigStore checks credentials against the bcrypt hashes in the active
// configuration.
type ConfigStore struct {
	store *config.Store
}

func NewConfigStore(store *config.Store) *ConfigStore {
	return &ConfigStore{store: store}
}

// Verify implements Store. The bcrypt comparison runs even for unknown
// usernames so response timing does not reveal which usernames exist.
func (s *ConfigStore) Verify(_ context.Context, username, password string) (Identity, bool, error) {
	var matched *config.User

	for i, user := range s.store.Current().Users {
		if user.Username == username {
			matched = &s.store.Current().Users[i]
			break
		}
	}

	hash := dummyHash
	if matched != nil {
		hash = matched.PasswordHash
	}

	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err != nil || matched == nil {
		return Identity{}, false, nil
	}

	return Identity{
		SubjectID:   matched.SubjectID,
		Username:    matched.Username,
		TenantSlugs: append([]string(nil), matched.Tenants...),
	}, true, nil
}

// dummyHash is a bcrypt hash of an unguessable value, used to equalize
// work for unknown usernames.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"
