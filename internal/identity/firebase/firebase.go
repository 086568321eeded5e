// Package firebase implements identity.Provider on the Firebase Identity
// Toolkit API and its secure token endpoint.
package firebase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/identitytoolkit/v3"
	"google.golang.org/api/option"

	"fintrack/internal/core"
	"fintrack/internal/identity"
)

// Config holds the provider endpoints and credentials.
type Config struct {
	APIKey              string
	IdentityEndpoint    string
	SecureTokenEndpoint string
	// HTTPClient is used for token refresh. The Identity Toolkit service
	// builds its own transport so the API key is attached.
	HTTPClient *http.Client
}

// Client talks to Firebase Authentication.
type Client struct {
	svc        *identitytoolkit.Service
	tokens     *oauth2.Config
	httpClient *http.Client
	now        func() time.Time
}

var _ identity.Provider = (*Client)(nil)

// New builds the Identity Toolkit service and the refresh token exchange.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("firebase: API key is required")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.IdentityEndpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.IdentityEndpoint))
	}
	svc, err := identitytoolkit.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("firebase: create identity toolkit service: %w", err)
	}

	tokenURL, err := url.Parse(cfg.SecureTokenEndpoint)
	if err != nil || tokenURL.Host == "" {
		return nil, fmt.Errorf("firebase: invalid secure token endpoint %q", cfg.SecureTokenEndpoint)
	}
	q := tokenURL.Query()
	q.Set("key", cfg.APIKey)
	tokenURL.RawQuery = q.Encode()

	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		svc: svc,
		tokens: &oauth2.Config{
			Endpoint: oauth2.Endpoint{TokenURL: tokenURL.String(), AuthStyle: oauth2.AuthStyleInParams},
		},
		httpClient: hc,
		now:        time.Now,
	}, nil
}

// SignUp creates an email/password account.
func (c *Client) SignUp(ctx context.Context, email, password string) (*core.Identity, error) {
	resp, err := c.svc.Relyingparty.SignupNewUser(&identitytoolkit.IdentitytoolkitRelyingpartySignupNewUserRequest{
		Email:    email,
		Password: password,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return c.identity(resp.LocalId, resp.Email, resp.DisplayName, "", resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// SignIn verifies an email/password pair.
func (c *Client) SignIn(ctx context.Context, email, password string) (*core.Identity, error) {
	resp, err := c.svc.Relyingparty.VerifyPassword(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyPasswordRequest{
		Email:             email,
		Password:          password,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	return c.identity(resp.LocalId, resp.Email, resp.DisplayName, resp.PhotoUrl, resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// SignInWithIdP exchanges a federated id token for a Firebase session.
func (c *Client) SignInWithIdP(ctx context.Context, providerID, idToken, requestURI string) (*core.Identity, error) {
	body := url.Values{}
	body.Set("id_token", idToken)
	body.Set("providerId", providerID)

	resp, err := c.svc.Relyingparty.VerifyAssertion(&identitytoolkit.IdentitytoolkitRelyingpartyVerifyAssertionRequest{
		PostBody:          body.Encode(),
		RequestUri:        requestURI,
		ReturnSecureToken: true,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	if resp.ErrorMessage != "" || resp.NeedConfirmation {
		msg := resp.ErrorMessage
		if msg == "" {
			msg = "account exists with a different sign-in method"
		}
		return nil, core.NewAuthError(core.AuthProviderRejected, errors.New(msg))
	}
	return c.identity(resp.LocalId, resp.Email, resp.DisplayName, resp.PhotoUrl, resp.IdToken, resp.RefreshToken, resp.ExpiresIn), nil
}

// UpdateProfile sets or clears the display name and photo URL. An empty
// string clears the attribute.
func (c *Client) UpdateProfile(ctx context.Context, current *core.Identity, upd core.ProfileUpdate) (*core.Identity, error) {
	if current == nil || current.AccessToken == "" {
		return nil, core.NewAuthError(core.AuthTokenMissing, nil)
	}
	req := &identitytoolkit.IdentitytoolkitRelyingpartySetAccountInfoRequest{
		IdToken:           current.AccessToken,
		ReturnSecureToken: true,
	}
	next := current.Clone()
	if upd.DisplayName != nil {
		next.DisplayName = *upd.DisplayName
		if *upd.DisplayName == "" {
			req.DeleteAttribute = append(req.DeleteAttribute, "DISPLAY_NAME")
		} else {
			req.DisplayName = *upd.DisplayName
		}
	}
	if upd.PhotoURL != nil {
		next.PhotoURL = *upd.PhotoURL
		if *upd.PhotoURL == "" {
			req.DeleteAttribute = append(req.DeleteAttribute, "PHOTO_URL")
		} else {
			req.PhotoUrl = *upd.PhotoURL
		}
	}

	resp, err := c.svc.Relyingparty.SetAccountInfo(req).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	if resp.IdToken != "" {
		next.AccessToken = resp.IdToken
		next.ExpiresAt = c.expiry(resp.IdToken, resp.ExpiresIn)
	}
	if resp.RefreshToken != "" {
		next.RefreshToken = resp.RefreshToken
	}
	return next, nil
}

// Refresh trades a refresh token for a new access token and reloads the
// profile.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*core.Identity, error) {
	if refreshToken == "" {
		return nil, core.NewAuthError(core.AuthTokenMissing, nil)
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.tokens.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken}).Token()
	if err != nil {
		return nil, mapRefreshError(err)
	}

	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		idToken = tok.AccessToken
	}
	id := &core.Identity{
		AccessToken:  idToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    identity.ExpiryFromToken(idToken),
	}
	if id.RefreshToken == "" {
		id.RefreshToken = refreshToken
	}
	if id.ExpiresAt.IsZero() {
		id.ExpiresAt = tok.Expiry
	}
	if uid, ok := tok.Extra("user_id").(string); ok {
		id.UID = uid
	}

	info, err := c.svc.Relyingparty.GetAccountInfo(&identitytoolkit.IdentitytoolkitRelyingpartyGetAccountInfoRequest{
		IdToken: idToken,
	}).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err)
	}
	if len(info.Users) == 0 {
		return nil, core.NewAuthError(core.AuthTokenExpired, errors.New("account no longer exists"))
	}
	u := info.Users[0]
	id.UID = u.LocalId
	id.Email = u.Email
	id.DisplayName = u.DisplayName
	id.PhotoURL = u.PhotoUrl
	return id, nil
}

func (c *Client) identity(uid, email, name, photo, idToken, refreshToken string, expiresIn int64) *core.Identity {
	return &core.Identity{
		UID:          uid,
		Email:        email,
		DisplayName:  name,
		PhotoURL:     photo,
		AccessToken:  idToken,
		RefreshToken: refreshToken,
		ExpiresAt:    c.expiry(idToken, expiresIn),
	}
}

func (c *Client) expiry(idToken string, expiresIn int64) time.Time {
	if exp := identity.ExpiryFromToken(idToken); !exp.IsZero() {
		return exp
	}
	if expiresIn > 0 {
		return c.now().Add(time.Duration(expiresIn) * time.Second)
	}
	return time.Time{}
}

// mapError turns Identity Toolkit failures into the auth error taxonomy.
// The API reports its reason as the error message, sometimes followed by
// " : detail".
func mapError(err error) error {
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) {
		return core.NewAuthError(core.AuthNetworkFailure, err)
	}
	code, _, _ := strings.Cut(gerr.Message, ":")
	switch strings.TrimSpace(code) {
	case "EMAIL_NOT_FOUND", "INVALID_PASSWORD", "INVALID_LOGIN_CREDENTIALS", "INVALID_EMAIL", "MISSING_PASSWORD":
		return core.NewAuthError(core.AuthInvalidCredentials, err)
	case "EMAIL_EXISTS":
		return core.NewAuthError(core.AuthEmailExists, err)
	case "TOKEN_EXPIRED", "INVALID_ID_TOKEN", "USER_NOT_FOUND", "INVALID_REFRESH_TOKEN", "CREDENTIAL_TOO_OLD_LOGIN_AGAIN":
		return core.NewAuthError(core.AuthTokenExpired, err)
	}
	if gerr.Code >= 500 {
		return core.NewAuthError(core.AuthNetworkFailure, err)
	}
	return core.NewAuthError(core.AuthProviderRejected, err)
}

func mapRefreshError(err error) error {
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) && rerr.Response != nil {
		if rerr.Response.StatusCode >= 500 {
			return core.NewAuthError(core.AuthNetworkFailure, err)
		}
		return core.NewAuthError(core.AuthTokenExpired, err)
	}
	return core.NewAuthError(core.AuthNetworkFailure, err)
}
