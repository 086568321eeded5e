// Package identity is the client side of the hosted identity provider: a
// Provider port for the remote calls and an Auth object per visitor that
// holds the signed-in identity and pushes every change to its observers.
package identity

import (
	"context"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"fintrack/internal/core"
)

// GoogleProviderID identifies Google as an identity provider.
const GoogleProviderID = "google.com"

// Provider performs the remote identity operations. Every failure is
// returned as a *core.AuthError.
type Provider interface {
	SignUp(ctx context.Context, email, password string) (*core.Identity, error)
	SignIn(ctx context.Context, email, password string) (*core.Identity, error)
	// SignInWithIdP exchanges an id token issued by providerID. requestURI
	// is the URI the provider redirected back to.
	SignInWithIdP(ctx context.Context, providerID, idToken, requestURI string) (*core.Identity, error)
	UpdateProfile(ctx context.Context, current *core.Identity, upd core.ProfileUpdate) (*core.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*core.Identity, error)
}

// ExpiryFromToken reads the exp claim of an access token without verifying
// it. The backend verifies tokens; here the claim only tells when to refresh.
func ExpiryFromToken(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
