package identity

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fintrack/internal/core"
)

type stubProvider struct {
	mu          sync.Mutex
	refreshGate chan struct{}
	refreshErr  error
	refreshed   int
	signInErr   error
}

func (p *stubProvider) SignUp(_ context.Context, email, _ string) (*core.Identity, error) {
	return &core.Identity{UID: "new", Email: email, AccessToken: "tok", RefreshToken: "rt"}, nil
}

func (p *stubProvider) SignIn(_ context.Context, email, _ string) (*core.Identity, error) {
	if p.signInErr != nil {
		return nil, p.signInErr
	}
	return &core.Identity{UID: "u1", Email: email, AccessToken: "tok", RefreshToken: "rt"}, nil
}

func (p *stubProvider) SignInWithIdP(context.Context, string, string, string) (*core.Identity, error) {
	return &core.Identity{UID: "g1", AccessToken: "tok", RefreshToken: "rt"}, nil
}

func (p *stubProvider) UpdateProfile(_ context.Context, cur *core.Identity, upd core.ProfileUpdate) (*core.Identity, error) {
	next := cur.Clone()
	if upd.DisplayName != nil {
		next.DisplayName = *upd.DisplayName
	}
	return next, nil
}

func (p *stubProvider) Refresh(ctx context.Context, rt string) (*core.Identity, error) {
	if p.refreshGate != nil {
		select {
		case <-p.refreshGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	p.mu.Lock()
	p.refreshed++
	p.mu.Unlock()
	if p.refreshErr != nil {
		return nil, p.refreshErr
	}
	return &core.Identity{UID: "u1", AccessToken: "fresh", RefreshToken: rt, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

type recorder struct {
	mu  sync.Mutex
	got []*core.Identity
}

func (r *recorder) listen(id *core.Identity) {
	r.mu.Lock()
	r.got = append(r.got, id)
	r.mu.Unlock()
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func (r *recorder) last() *core.Identity {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.got[len(r.got)-1]
}

func TestRestoreWithoutTokenNotifiesOnce(t *testing.T) {
	a := NewAuth(&stubProvider{}, nil)
	rec := &recorder{}
	a.OnAuthStateChanged(rec.listen)
	require.Zero(t, rec.count(), "no notification before the state is known")

	a.Restore(context.Background(), "")
	a.Restore(context.Background(), "")
	require.Equal(t, 1, rec.count())
	assert.Nil(t, rec.last())
}

func TestRestoreIsAsynchronous(t *testing.T) {
	p := &stubProvider{refreshGate: make(chan struct{})}
	a := NewAuth(p, nil)
	rec := &recorder{}
	a.OnAuthStateChanged(rec.listen)

	a.Restore(context.Background(), "rt-saved")
	select {
	case <-a.Ready():
		t.Fatal("ready before the provider answered")
	default:
	}

	close(p.refreshGate)
	<-a.Ready()
	require.Eventually(t, func() bool { return rec.count() == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "u1", rec.last().UID)
}

func TestLateSubscriberGetsCurrentState(t *testing.T) {
	a := NewAuth(&stubProvider{}, nil)
	_, err := a.SignIn(context.Background(), "ada@example.com", "pw")
	require.NoError(t, err)

	rec := &recorder{}
	unsubscribe := a.OnAuthStateChanged(rec.listen)
	require.Equal(t, 1, rec.count())
	assert.Equal(t, "ada@example.com", rec.last().Email)

	unsubscribe()
	a.SignOut()
	assert.Equal(t, 1, rec.count(), "no notifications after unsubscribe")
}

func TestSignInFailureLeavesStateUntouched(t *testing.T) {
	p := &stubProvider{signInErr: core.NewAuthError(core.AuthInvalidCredentials, nil)}
	a := NewAuth(p, nil)
	a.Restore(context.Background(), "")
	rec := &recorder{}
	a.OnAuthStateChanged(rec.listen)

	_, err := a.SignIn(context.Background(), "ada@example.com", "bad")
	assert.True(t, core.IsAuth(err))
	assert.Nil(t, a.CurrentUser())
	assert.Equal(t, 1, rec.count(), "only the initial notification")
}

func TestTokenRefreshesExpiredToken(t *testing.T) {
	p := &stubProvider{}
	a := NewAuth(p, nil)
	a.set(&core.Identity{UID: "u1", AccessToken: "old", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)})

	tok, err := a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, p.refreshed)

	tok, err = a.Token(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, 1, p.refreshed, "fresh token is reused")
}

func TestTokenRejectedRefreshSignsOut(t *testing.T) {
	p := &stubProvider{refreshErr: core.NewAuthError(core.AuthTokenExpired, errors.New("TOKEN_EXPIRED"))}
	a := NewAuth(p, nil)
	a.set(&core.Identity{UID: "u1", AccessToken: "old", RefreshToken: "rt", ExpiresAt: time.Now().Add(-time.Minute)})
	rec := &recorder{}
	a.OnAuthStateChanged(rec.listen)

	_, err := a.Token(context.Background())
	var ae *core.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, core.AuthTokenExpired, ae.Reason)
	assert.Nil(t, a.CurrentUser())
	assert.Nil(t, rec.last())
}

func TestTokenMissing(t *testing.T) {
	a := NewAuth(&stubProvider{}, nil)
	_, err := a.Token(context.Background())
	var ae *core.AuthError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, core.AuthTokenMissing, ae.Reason)
}

func TestExpiryFromToken(t *testing.T) {
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"exp": exp.Unix()}).SignedString([]byte("k"))
	require.NoError(t, err)

	assert.True(t, ExpiryFromToken(tok).Equal(exp))
	assert.True(t, ExpiryFromToken("not-a-jwt").IsZero())
}
