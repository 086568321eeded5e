// Package session keeps the server side state of each browser: who is
// signed in, whether that is known yet, and the visitor's cached reads.
package session

import (
	"context"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/identity"
)

// Session is a snapshot of a Store.
type Session struct {
	Identity *core.Identity
	// Loading is true until the identity provider has reported the
	// initial state.
	Loading bool
}

// SignedIn reports whether an identity is present.
func (s Session) SignedIn() bool {
	return s.Identity != nil
}

// Store mirrors the identity held by an identity.Auth. It starts in the
// loading state and is updated only by notifications from the Auth, or by
// the result of an operation the provider confirmed.
type Store struct {
	auth *identity.Auth

	mu          sync.RWMutex
	identity    *core.Identity
	loading     bool
	unsubscribe func()
	readyCh     chan struct{}
}

// NewStore returns a loading store over auth. Call Observe to start
// receiving changes.
func NewStore(auth *identity.Auth) *Store {
	return &Store{
		auth:    auth,
		loading: true,
		readyCh: make(chan struct{}),
	}
}

// Observe subscribes to the Auth. Calling it again replaces the previous
// subscription.
func (s *Store) Observe() (unsubscribe func()) {
	unsub := s.auth.OnAuthStateChanged(s.apply)

	s.mu.Lock()
	prev := s.unsubscribe
	s.unsubscribe = unsub
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
	return unsub
}

func (s *Store) apply(id *core.Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id.Clone()
	if s.loading {
		s.loading = false
		close(s.readyCh)
	}
}

// Snapshot returns the current identity and loading flag.
func (s *Store) Snapshot() Session {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Session{Identity: s.identity.Clone(), Loading: s.loading}
}

// WaitReady blocks until the initial state is known or ctx is done, and
// reports which happened first.
func (s *Store) WaitReady(ctx context.Context) bool {
	select {
	case <-s.readyCh:
		return true
	case <-ctx.Done():
		return false
	}
}

// SignUp creates an account and signs it in.
func (s *Store) SignUp(ctx context.Context, email, password string) error {
	id, err := s.auth.SignUp(ctx, email, password)
	if err != nil {
		return err
	}
	s.apply(id)
	return nil
}

// SignIn signs in with email and password.
func (s *Store) SignIn(ctx context.Context, email, password string) error {
	id, err := s.auth.SignIn(ctx, email, password)
	if err != nil {
		return err
	}
	s.apply(id)
	return nil
}

// SignInWithProvider signs in with an id token from a federated provider.
func (s *Store) SignInWithProvider(ctx context.Context, providerID, idToken, requestURI string) error {
	id, err := s.auth.SignInWithIdP(ctx, providerID, idToken, requestURI)
	if err != nil {
		return err
	}
	s.apply(id)
	return nil
}

// UpdateProfile changes the display name and photo.
func (s *Store) UpdateProfile(ctx context.Context, upd core.ProfileUpdate) error {
	id, err := s.auth.UpdateProfile(ctx, upd)
	if err != nil {
		return err
	}
	s.apply(id)
	return nil
}

// SignOut forgets the identity.
func (s *Store) SignOut() {
	s.auth.SignOut()
}

// AccessToken returns a usable bearer token for the backend.
func (s *Store) AccessToken(ctx context.Context) (string, error) {
	return s.auth.Token(ctx)
}

// Close ends the subscription. The store keeps its last state.
func (s *Store) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}
