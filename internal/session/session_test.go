package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/query"
	"fintrack/internal/storage"
)

type fakeProvider struct {
	mu          sync.Mutex
	refreshGate chan struct{}
	refreshErr  error
	signIns     int
}

func (p *fakeProvider) SignUp(_ context.Context, email, _ string) (*core.Identity, error) {
	return &core.Identity{UID: "new", Email: email, AccessToken: "tok", RefreshToken: "rt-new"}, nil
}

func (p *fakeProvider) SignIn(_ context.Context, email, password string) (*core.Identity, error) {
	p.mu.Lock()
	p.signIns++
	p.mu.Unlock()
	if password != "Secret1" {
		return nil, core.NewAuthError(core.AuthInvalidCredentials, nil)
	}
	return &core.Identity{UID: "u1", Email: email, AccessToken: "tok", RefreshToken: "rt-1"}, nil
}

func (p *fakeProvider) SignInWithIdP(context.Context, string, string, string) (*core.Identity, error) {
	return &core.Identity{UID: "g1", AccessToken: "tok", RefreshToken: "rt-g"}, nil
}

func (p *fakeProvider) UpdateProfile(_ context.Context, cur *core.Identity, upd core.ProfileUpdate) (*core.Identity, error) {
	next := cur.Clone()
	if upd.DisplayName != nil {
		next.DisplayName = *upd.DisplayName
	}
	return next, nil
}

func (p *fakeProvider) Refresh(ctx context.Context, rt string) (*core.Identity, error) {
	if p.refreshGate != nil {
		select {
		case <-p.refreshGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &core.Identity{UID: "u1", AccessToken: "fresh", RefreshToken: rt + "-rotated", ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func newRegistry(t *testing.T, p identity.Provider, repo Persister) *Registry {
	t.Helper()
	r := NewRegistry(p, repo, RegistryConfig{MaxVisitors: 10, IdleTTL: time.Hour, QueryStaleTime: time.Minute}, nil)
	t.Cleanup(r.Close)
	return r
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestStoreLoadingUntilAuthSettles(t *testing.T) {
	p := &fakeProvider{refreshGate: make(chan struct{})}
	auth := identity.NewAuth(p, nil)
	s := NewStore(auth)
	defer s.Close()
	s.Observe()

	assert.True(t, s.Snapshot().Loading)

	auth.Restore(context.Background(), "rt")
	assert.True(t, s.Snapshot().Loading, "restore with a token settles asynchronously")

	close(p.refreshGate)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.True(t, s.WaitReady(ctx))

	snap := s.Snapshot()
	assert.False(t, snap.Loading)
	require.True(t, snap.SignedIn())
	assert.Equal(t, "u1", snap.Identity.UID)
}

func TestStoreFailedSignInKeepsState(t *testing.T) {
	p := &fakeProvider{}
	auth := identity.NewAuth(p, nil)
	s := NewStore(auth)
	defer s.Close()
	s.Observe()
	auth.Restore(context.Background(), "")

	err := s.SignIn(context.Background(), "a@b.c", "wrong")
	require.Error(t, err)
	assert.True(t, core.IsAuth(err))
	assert.False(t, s.Snapshot().SignedIn())

	require.NoError(t, s.SignIn(context.Background(), "a@b.c", "Secret1"))
	assert.Equal(t, "u1", s.Snapshot().Identity.UID)

	s.SignOut()
	assert.False(t, s.Snapshot().SignedIn())
}

func TestRegistryNewVisitorIsSettledImmediately(t *testing.T) {
	r := newRegistry(t, &fakeProvider{}, newRepo(t))

	v := r.Create()
	snap := v.Store.Snapshot()
	assert.False(t, snap.Loading)
	assert.False(t, snap.SignedIn())

	got, ok := r.Get(context.Background(), v.ID)
	require.True(t, ok)
	assert.Same(t, v, got)
	assert.Equal(t, 1, r.Len())
}

func TestRegistryUnknownVisitor(t *testing.T) {
	r := newRegistry(t, &fakeProvider{}, newRepo(t))

	_, ok := r.Get(context.Background(), "missing")
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryPersistsSignInAndSignOut(t *testing.T) {
	repo := newRepo(t)
	r := newRegistry(t, &fakeProvider{}, repo)
	ctx := context.Background()

	v := r.Create()
	require.NoError(t, v.Store.SignIn(ctx, "a@b.c", "Secret1"))

	saved, err := repo.Load(ctx, v.ID)
	require.NoError(t, err)
	assert.Equal(t, "rt-1", saved.RefreshToken)
	assert.Equal(t, "u1", saved.UID)

	v.Store.SignOut()
	_, err = repo.Load(ctx, v.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestRegistryRestoresPersistedVisitor(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "vid", "u1", "rt-old"))

	p := &fakeProvider{refreshGate: make(chan struct{})}
	r := newRegistry(t, p, repo)

	v, ok := r.Get(ctx, "vid")
	require.True(t, ok)
	assert.True(t, v.Store.Snapshot().Loading)

	close(p.refreshGate)
	waitFor(t, func() bool { return !v.Store.Snapshot().Loading })
	assert.Equal(t, "u1", v.UID())

	waitFor(t, func() bool {
		saved, err := repo.Load(ctx, "vid")
		return err == nil && saved.RefreshToken == "rt-old-rotated"
	})
}

type gatedPersister struct {
	Persister
	entered chan struct{}
	gate    chan struct{}
}

func (p *gatedPersister) Load(ctx context.Context, id string) (storage.SavedSession, error) {
	close(p.entered)
	select {
	case <-p.gate:
	case <-ctx.Done():
		return storage.SavedSession{}, ctx.Err()
	}
	return p.Persister.Load(ctx, id)
}

func TestRegistryRestoreOutlivesFirstCaller(t *testing.T) {
	repo := newRepo(t)
	require.NoError(t, repo.Save(context.Background(), "vid", "u1", "rt-old"))
	gp := &gatedPersister{Persister: repo, entered: make(chan struct{}), gate: make(chan struct{})}
	r := newRegistry(t, &fakeProvider{}, gp)

	ctx, cancel := context.WithCancel(context.Background())
	type result struct {
		v  *Visitor
		ok bool
	}
	got := make(chan result, 1)
	go func() {
		v, ok := r.Get(ctx, "vid")
		got <- result{v, ok}
	}()

	<-gp.entered
	cancel()
	close(gp.gate)

	res := <-got
	require.True(t, res.ok, "a caller hanging up must not lose the session")
	waitFor(t, func() bool { return res.v.UID() == "u1" })

	v, ok := r.Get(context.Background(), "vid")
	require.True(t, ok)
	assert.Same(t, res.v, v)
}

func TestRegistryRestoreRejectedForgetsSession(t *testing.T) {
	repo := newRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Save(ctx, "vid", "u1", "rt-old"))

	r := newRegistry(t, &fakeProvider{refreshErr: core.NewAuthError(core.AuthTokenExpired, nil)}, repo)

	v, ok := r.Get(ctx, "vid")
	require.True(t, ok)
	waitFor(t, func() bool { return !v.Store.Snapshot().Loading })
	assert.False(t, v.Store.Snapshot().SignedIn())

	waitFor(t, func() bool {
		_, err := repo.Load(ctx, "vid")
		return err != nil
	})
}

func TestRegistryInvalidateUser(t *testing.T) {
	r := newRegistry(t, &fakeProvider{}, newRepo(t))
	ctx := context.Background()

	a := r.Create()
	require.NoError(t, a.Store.SignIn(ctx, "a@b.c", "Secret1"))
	b := r.Create()

	key := query.NewKey("transactions", "type", "all")
	calls := 0
	fetch := func(context.Context) (any, error) { calls++; return []string{"x"}, nil }
	a.Queries.Fetch(ctx, key, true, fetch)
	b.Queries.Fetch(ctx, key, true, fetch)
	require.Equal(t, 2, calls)

	assert.Equal(t, 1, r.InvalidateUser("u1", "transactions"))
	assert.Equal(t, 0, r.InvalidateUser(""))

	a.Queries.Fetch(ctx, key, true, fetch)
	b.Queries.Fetch(ctx, key, true, fetch)
	assert.Equal(t, 3, calls, "only the matching visitor refetches")
}

func TestRegistrySwitchingUserClearsQueries(t *testing.T) {
	r := newRegistry(t, &fakeProvider{}, newRepo(t))
	ctx := context.Background()

	v := r.Create()
	require.NoError(t, v.Store.SignIn(ctx, "a@b.c", "Secret1"))
	key := query.NewKey("reports")
	v.Queries.Fetch(ctx, key, true, func(context.Context) (any, error) { return 1, nil })
	require.True(t, v.Queries.Peek(key).HasData)

	v.Store.SignOut()
	assert.False(t, v.Queries.Peek(key).HasData)
}

func TestVisitorFlashes(t *testing.T) {
	r := newRegistry(t, &fakeProvider{}, newRepo(t))
	v := r.Create()

	for i := 0; i < maxFlashes+2; i++ {
		v.AddFlash(FlashInfo, "m")
	}
	v.AddFlash(FlashSuccess, "last")

	got := v.TakeFlashes()
	require.Len(t, got, maxFlashes)
	assert.Equal(t, Flash{Kind: FlashSuccess, Message: "last"}, got[len(got)-1])
	assert.Empty(t, v.TakeFlashes())
}

func TestRegistryEvictionClosesVisitor(t *testing.T) {
	r := NewRegistry(&fakeProvider{}, newRepo(t), RegistryConfig{MaxVisitors: 1, IdleTTL: time.Hour}, nil)
	defer r.Close()

	first := r.Create()
	r.Create()
	assert.Equal(t, 1, r.Len())

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	assert.True(t, closed)
}
