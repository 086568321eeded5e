package session

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the name of the visitor cookie.
const CookieName = "fintrack_visitor"

const cookieIssuer = "fintrack"

// CookieCodec signs visitor ids into cookies.
type CookieCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

// NewCookieCodec returns a codec signing with secret. secure marks cookies
// HTTPS only.
func NewCookieCodec(secret string, ttl time.Duration, secure bool) *CookieCodec {
	return &CookieCodec{secret: []byte(secret), ttl: ttl, secure: secure, now: time.Now}
}

// Encode returns a signed token carrying visitorID.
func (c *CookieCodec) Encode(visitorID string) (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   visitorID,
		Issuer:    cookieIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(c.ttl)),
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("sign visitor cookie: %w", err)
	}
	return s, nil
}

// Decode verifies value and returns the visitor id and when it was issued.
func (c *CookieCodec) Decode(value string) (string, time.Time, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(value, claims,
		func(*jwt.Token) (any, error) { return c.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(cookieIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("verify visitor cookie: %w", err)
	}
	if claims.Subject == "" {
		return "", time.Time{}, errors.New("verify visitor cookie: empty subject")
	}
	var issued time.Time
	if claims.IssuedAt != nil {
		issued = claims.IssuedAt.Time
	}
	return claims.Subject, issued, nil
}

// Read returns the visitor id of r, if it carries a valid cookie, and
// whether the cookie is past half its lifetime and should be renewed.
func (c *CookieCodec) Read(r *http.Request) (id string, renew bool, ok bool) {
	ck, err := r.Cookie(CookieName)
	if err != nil {
		return "", false, false
	}
	id, issued, err := c.Decode(ck.Value)
	if err != nil {
		return "", false, false
	}
	return id, c.now().Sub(issued) > c.ttl/2, true
}

// Cookie builds the cookie carrying visitorID.
func (c *CookieCodec) Cookie(visitorID string) (*http.Cookie, error) {
	v, err := c.Encode(visitorID)
	if err != nil {
		return nil, err
	}
	return &http.Cookie{
		Name:     CookieName,
		Value:    v,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}, nil
}
