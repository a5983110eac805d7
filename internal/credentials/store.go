// Package credentials owns the provider OAuth credential lifecycle: the
// authorization handshake, persistence, and lazy single-flighted refresh.
package credentials

import (
	"context"
	"errors"
	"log"
	"os"
	"time"

	"golang.org/x/sync/singleflight"

	"example.com/healthsync/internal/domain"
)

// Repository captures credential persistence. The store is the single writer;
// repositories only need atomic per-owner upserts.
type Repository interface {
	Get(ctx context.Context, ownerID string) (*domain.Credential, error)
	Save(ctx context.Context, cred domain.Credential) error
	Delete(ctx context.Context, ownerID string) error
	ListOwners(ctx context.Context) ([]string, error)
}

// Refresher exchanges a refresh token for a fresh access token.
type Refresher interface {
	Refresh(ctx context.Context, cred domain.Credential) (domain.Credential, error)
}

const (
	refreshSkew        = 60 * time.Second
	refreshBaseDelay   = 500 * time.Millisecond
	refreshMaxAttempts = 3
)

// Store serves valid credentials, refreshing them lazily on read. Concurrent
// refresh attempts for the same owner are collapsed into one provider call:
// some provider configurations invalidate a refresh token after first use.
type Store struct {
	repo      Repository
	refresher Refresher
	group     singleflight.Group
	logger    *log.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

// Option configures optional Store behaviour.
type Option func(*Store)

// WithLogger overrides the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// WithClock overrides the time source, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore constructs a Store.
func NewStore(repo Repository, refresher Refresher, opts ...Option) *Store {
	s := &Store{
		repo:      repo,
		refresher: refresher,
		logger:    log.New(os.Stderr, "[credentials] ", log.LstdFlags),
		now:       time.Now,
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns a valid (non-expired) credential for the owner, refreshing it
// first when the expiry skew has been reached. A credential that is still
// valid is returned unchanged without touching the provider.
func (s *Store) Get(ctx context.Context, ownerID string) (domain.Credential, error) {
	cred, err := s.load(ctx, ownerID)
	if err != nil {
		return domain.Credential{}, err
	}
	if !cred.ExpiredAt(s.now(), refreshSkew) {
		return cred, nil
	}
	return s.refresh(ctx, ownerID, false)
}

// Refresh forces a token refresh regardless of expiry. Used by the provider
// client after a 401 response.
func (s *Store) Refresh(ctx context.Context, ownerID string) (domain.Credential, error) {
	if _, err := s.load(ctx, ownerID); err != nil {
		return domain.Credential{}, err
	}
	return s.refresh(ctx, ownerID, true)
}

// Save persists a credential atomically, replacing any active record for the
// owner.
func (s *Store) Save(ctx context.Context, cred domain.Credential) error {
	if cred.OwnerID == "" {
		return &domain.ValidationError{Field: "ownerId"}
	}
	if cred.AccessToken != "" && cred.ExpiresAt.IsZero() {
		return &domain.ValidationError{Field: "expiresAt"}
	}
	cred.UpdatedAt = s.now().UTC()
	return s.repo.Save(ctx, cred)
}

// Disconnect removes the stored credential on explicit owner request. This is
// the only path that physically deletes a record.
func (s *Store) Disconnect(ctx context.Context, ownerID string) error {
	return s.repo.Delete(ctx, ownerID)
}

// ListOwners returns every owner with a stored credential, revoked included.
func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	return s.repo.ListOwners(ctx)
}

func (s *Store) load(ctx context.Context, ownerID string) (domain.Credential, error) {
	cred, err := s.repo.Get(ctx, ownerID)
	if err != nil {
		if errors.Is(err, domain.ErrCredentialNotFound) {
			return domain.Credential{}, &domain.AuthError{Reason: domain.AuthUnauthenticated, Err: err}
		}
		return domain.Credential{}, err
	}
	if cred.State == domain.CredentialRevoked {
		return domain.Credential{}, &domain.AuthError{Reason: domain.AuthReauthRequired}
	}
	return *cred, nil
}

// refresh collapses concurrent refreshes per owner into a single provider
// call; late arrivals receive the in-flight result.
func (s *Store) refresh(ctx context.Context, ownerID string, force bool) (domain.Credential, error) {
	result, err, _ := s.group.Do(ownerID, func() (interface{}, error) {
		return s.doRefresh(ctx, ownerID, force)
	})
	if err != nil {
		return domain.Credential{}, err
	}
	return result.(domain.Credential), nil
}

func (s *Store) doRefresh(ctx context.Context, ownerID string, force bool) (domain.Credential, error) {
	cred, err := s.load(ctx, ownerID)
	if err != nil {
		return domain.Credential{}, err
	}

	// Another waiter may have refreshed the record before this call was
	// admitted to the flight group.
	if !force && !cred.ExpiredAt(s.now(), refreshSkew) {
		return cred, nil
	}

	delay := refreshBaseDelay
	var lastErr error
	for attempt := 1; attempt <= refreshMaxAttempts; attempt++ {
		refreshed, err := s.refresher.Refresh(ctx, cred)
		if err == nil {
			refreshed.OwnerID = cred.OwnerID
			refreshed.State = domain.CredentialAuthorized
			refreshed.UpdatedAt = s.now().UTC()
			if err := s.repo.Save(ctx, refreshed); err != nil {
				return domain.Credential{}, err
			}
			recordRefresh("success")
			return refreshed, nil
		}

		if domain.IsReauthRequired(err) {
			s.logger.Printf("refresh rejected for owner=%s, marking revoked", ownerID)
			cred.State = domain.CredentialRevoked
			cred.UpdatedAt = s.now().UTC()
			if saveErr := s.repo.Save(ctx, cred); saveErr != nil {
				s.logger.Printf("failed to persist revocation for owner=%s: %v", ownerID, saveErr)
			}
			recordRefresh("revoked")
			return domain.Credential{}, &domain.AuthError{Reason: domain.AuthReauthRequired, Err: err}
		}

		lastErr = err
		var netErr *domain.NetworkError
		if !errors.As(err, &netErr) || !netErr.Transient {
			break
		}
		if attempt == refreshMaxAttempts {
			break
		}
		s.logger.Printf("transient refresh failure for owner=%s (attempt %d): %v", ownerID, attempt, err)
		if err := s.sleep(ctx, delay); err != nil {
			return domain.Credential{}, err
		}
		delay *= 2
	}

	recordRefresh("failed")
	return domain.Credential{}, &domain.AuthError{Reason: domain.AuthRefreshFailed, Err: lastErr}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
