package core

import (
	"strings"
	"time"
)

// Identity is the authenticated user as reported by the identity provider.
type Identity struct {
	UID          string
	DisplayName  string
	Email        string
	PhotoURL     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// ProfileUpdate carries the optional profile fields to change.
type ProfileUpdate struct {
	DisplayName *string
	PhotoURL    *string
}

// IsEmpty reports whether the update would change nothing.
func (p ProfileUpdate) IsEmpty() bool {
	return p.DisplayName == nil && p.PhotoURL == nil
}

// TokenUsable reports whether the access token is present and not expired at now.
// A zero ExpiresAt means the expiry is unknown and the backend decides.
func (i *Identity) TokenUsable(now time.Time) bool {
	if i == nil || i.AccessToken == "" {
		return false
	}
	return i.ExpiresAt.IsZero() || now.Before(i.ExpiresAt)
}

// Name returns the display name, falling back to the email's local part.
func (i *Identity) Name() string {
	if i == nil {
		return ""
	}
	if i.DisplayName != "" {
		return i.DisplayName
	}
	if at := strings.IndexByte(i.Email, '@'); at > 0 {
		return i.Email[:at]
	}
	return i.Email
}

// Initials returns up to two letters for the avatar fallback.
func (i *Identity) Initials() string {
	fields := strings.Fields(i.Name())
	var b strings.Builder
	for _, f := range fields {
		r := []rune(f)
		b.WriteString(strings.ToUpper(string(r[0])))
		if b.Len() >= 2 {
			break
		}
	}
	if b.Len() == 0 {
		return "?"
	}
	return b.String()
}

// Clone returns a copy safe to hand out of a store.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	return &c
}
