package service

import (
	"sync"

	"golang.org/x/crypto/bcrypt"

	"tender-gateway/models"
)

type storedIdentity struct {
	identity     models.Identity
	passwordHash []byte
}

// IdentityRegistry is the process-wide identity store: initialized empty
// at startup, never persisted. Secrets are held only as bcrypt hashes.
type IdentityRegistry struct {
	mu         sync.RWMutex
	identities map[string]*storedIdentity
}

func NewIdentityRegistry() *IdentityRegistry {
	return &IdentityRegistry{
		identities: make(map[string]*storedIdentity),
	}
}

// Register creates an identity with the given role. Duplicate usernames
// are rejected.
func (r *IdentityRegistry) Register(username, password string, role models.Role) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.identities[username]; exists {
		return ErrDuplicateUsername
	}
	r.identities[username] = &storedIdentity{
		identity:     models.Identity{Username: username, Role: role},
		passwordHash: hash,
	}
	return nil
}

// Authenticate checks credentials and returns the matching identity.
// Unknown usernames and wrong passwords are indistinguishable to the
// caller.
func (r *IdentityRegistry) Authenticate(username, password string) (models.Identity, error) {
	r.mu.RLock()
	stored, exists := r.identities[username]
	r.mu.RUnlock()

	if !exists {
		return models.Identity{}, ErrBadCredentials
	}
	if err := bcrypt.CompareHashAndPassword(stored.passwordHash, []byte(password)); err != nil {
		return models.Identity{}, ErrBadCredentials
	}
	return stored.identity, nil
}
