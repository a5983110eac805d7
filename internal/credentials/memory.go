package credentials

import (
	"context"
	"sort"
	"sync"

	"example.com/healthsync/internal/domain"
)

// InMemoryRepository stores credentials in memory for local development and
// tests.
type InMemoryRepository struct {
	mu    sync.RWMutex
	creds map[string]domain.Credential
}

// NewInMemoryRepository constructs an empty repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{creds: make(map[string]domain.Credential)}
}

// Get returns the credential for the owner or ErrCredentialNotFound.
func (r *InMemoryRepository) Get(ctx context.Context, ownerID string) (*domain.Credential, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cred, ok := r.creds[ownerID]
	if !ok {
		return nil, domain.ErrCredentialNotFound
	}
	out := cred
	return &out, nil
}

// Save replaces the owner's credential.
func (r *InMemoryRepository) Save(ctx context.Context, cred domain.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[cred.OwnerID] = cred
	return nil
}

// Delete removes the owner's credential.
func (r *InMemoryRepository) Delete(ctx context.Context, ownerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.creds, ownerID)
	return nil
}

// ListOwners returns all owners in deterministic order.
func (r *InMemoryRepository) ListOwners(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owners := make([]string, 0, len(r.creds))
	for owner := range r.creds {
		owners = append(owners, owner)
	}
	sort.Strings(owners)
	return owners, nil
}
