package identity

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/core"
	"fintrack/internal/log"
)

// refreshSkew renews access tokens slightly before they expire.
const refreshSkew = 30 * time.Second

// Listener receives the current identity, nil when signed out.
type Listener func(*core.Identity)

// Auth holds one visitor's authentication state. Observers registered with
// OnAuthStateChanged get exactly one notification once the state is known
// and one more for every change after that.
type Auth struct {
	provider Provider
	logger   *log.Logger
	now      func() time.Time
	refresh  singleflight.Group

	mu        sync.Mutex
	current   *core.Identity
	ready     bool
	restoring bool
	readyCh   chan struct{}
	listeners map[uint64]Listener
	nextID    uint64

	// emitMu serializes deliveries so observers see changes in order.
	emitMu sync.Mutex
}

// NewAuth returns an Auth whose state is not yet known. Call Restore to
// settle it.
func NewAuth(p Provider, logger *log.Logger) *Auth {
	if logger == nil {
		logger = log.Discard()
	}
	return &Auth{
		provider:  p,
		logger:    logger.WithComponent(log.ComponentIdentity),
		now:       time.Now,
		readyCh:   make(chan struct{}),
		listeners: make(map[uint64]Listener),
	}
}

// OnAuthStateChanged registers fn. If the state is already known fn is
// called right away with it.
func (a *Auth) OnAuthStateChanged(fn Listener) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextID
	a.nextID++
	a.listeners[id] = fn
	ready := a.ready
	a.mu.Unlock()

	if ready {
		a.emitMu.Lock()
		fn(a.CurrentUser())
		a.emitMu.Unlock()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.listeners, id)
			a.mu.Unlock()
		})
	}
}

// Restore settles the initial state. With a refresh token the provider is
// asked for a fresh identity in the background; without one the visitor is
// known to be signed out immediately. Only the first call has any effect.
func (a *Auth) Restore(ctx context.Context, refreshToken string) {
	a.mu.Lock()
	if a.ready || a.restoring {
		a.mu.Unlock()
		return
	}
	if refreshToken == "" {
		a.markReadyLocked()
		a.mu.Unlock()
		a.emit()
		return
	}
	a.restoring = true
	a.mu.Unlock()

	go func() {
		id, err := a.provider.Refresh(ctx, refreshToken)
		if err != nil {
			a.logger.Warn("Session restore failed", log.FieldOperation, log.OpRestore, log.FieldError, err.Error())
		}

		a.mu.Lock()
		a.restoring = false
		// A sign-in that finished while restoring wins.
		if err == nil && a.current == nil {
			a.current = id
		}
		a.markReadyLocked()
		a.mu.Unlock()
		a.emit()
	}()
}

// Ready is closed once the initial state is known.
func (a *Auth) Ready() <-chan struct{} {
	return a.readyCh
}

// CurrentUser returns a copy of the signed-in identity, or nil.
func (a *Auth) CurrentUser() *core.Identity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current.Clone()
}

// SignUp creates an account and signs it in.
func (a *Auth) SignUp(ctx context.Context, email, password string) (*core.Identity, error) {
	id, err := a.provider.SignUp(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.set(id)
	return id.Clone(), nil
}

// SignIn signs in with email and password.
func (a *Auth) SignIn(ctx context.Context, email, password string) (*core.Identity, error) {
	id, err := a.provider.SignIn(ctx, email, password)
	if err != nil {
		return nil, err
	}
	a.set(id)
	return id.Clone(), nil
}

// SignInWithIdP signs in with a token from a federated provider.
func (a *Auth) SignInWithIdP(ctx context.Context, providerID, idToken, requestURI string) (*core.Identity, error) {
	id, err := a.provider.SignInWithIdP(ctx, providerID, idToken, requestURI)
	if err != nil {
		return nil, err
	}
	a.set(id)
	return id.Clone(), nil
}

// UpdateProfile changes the display name and photo of the signed-in user.
func (a *Auth) UpdateProfile(ctx context.Context, upd core.ProfileUpdate) (*core.Identity, error) {
	if _, err := a.Token(ctx); err != nil {
		return nil, err
	}
	cur := a.CurrentUser()
	if cur == nil {
		return nil, core.NewAuthError(core.AuthTokenMissing, nil)
	}
	if upd.IsEmpty() {
		return cur, nil
	}
	id, err := a.provider.UpdateProfile(ctx, cur, upd)
	if err != nil {
		return nil, err
	}
	a.set(id)
	return id.Clone(), nil
}

// SignOut forgets the identity. It never contacts the provider.
func (a *Auth) SignOut() {
	a.mu.Lock()
	a.current = nil
	a.markReadyLocked()
	a.mu.Unlock()
	a.emit()
}

// Token returns a usable access token, refreshing it when it is about to
// expire. When the refresh token is rejected the visitor is signed out.
func (a *Auth) Token(ctx context.Context) (string, error) {
	cur := a.CurrentUser()
	if cur == nil {
		return "", core.NewAuthError(core.AuthTokenMissing, nil)
	}
	if cur.TokenUsable(a.now().Add(refreshSkew)) {
		return cur.AccessToken, nil
	}
	if cur.RefreshToken == "" {
		return "", core.NewAuthError(core.AuthTokenExpired, nil)
	}

	v, err, _ := a.refresh.Do(cur.RefreshToken, func() (any, error) {
		return a.provider.Refresh(context.WithoutCancel(ctx), cur.RefreshToken)
	})
	if err != nil {
		var ae *core.AuthError
		if errors.As(err, &ae) && ae.Reason == core.AuthNetworkFailure {
			return "", err
		}
		a.logger.Info("Refresh token rejected, signing out", log.FieldUserID, cur.UID)
		a.clearIf(cur.RefreshToken)
		return "", core.NewAuthError(core.AuthTokenExpired, err)
	}
	id := v.(*core.Identity)
	a.set(id)
	return id.AccessToken, nil
}

func (a *Auth) set(id *core.Identity) {
	a.mu.Lock()
	a.current = id.Clone()
	a.markReadyLocked()
	a.mu.Unlock()
	a.emit()
}

// clearIf signs out unless the identity changed since refreshToken was read.
func (a *Auth) clearIf(refreshToken string) {
	a.mu.Lock()
	if a.current == nil || a.current.RefreshToken != refreshToken {
		a.mu.Unlock()
		return
	}
	a.current = nil
	a.mu.Unlock()
	a.emit()
}

func (a *Auth) markReadyLocked() {
	if !a.ready {
		a.ready = true
		close(a.readyCh)
	}
}

// emit delivers the state current at delivery time, so a late emit never
// overwrites a newer change with an older one.
func (a *Auth) emit() {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()

	a.mu.Lock()
	if !a.ready {
		a.mu.Unlock()
		return
	}
	id := a.current.Clone()
	fns := make([]Listener, 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.mu.Unlock()

	for _, fn := range fns {
		fn(id.Clone())
	}
}
