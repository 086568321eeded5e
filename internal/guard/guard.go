// Package guard decides whether a page may be rendered for the current
// session. Decisions are made before rendering and never cached.
package guard

import (
	"net/url"
	"strings"

	"fintrack/internal/metrics"
	"fintrack/internal/session"
)

// State is the outcome of a guard evaluation.
type State string

const (
	// Checking means the session is still loading; render a placeholder.
	Checking State = "checking"
	Denied   State = "denied"
	Allowed  State = "allowed"
)

// Kind is the access rule of a route.
type Kind string

const (
	Public    Kind = "public"
	Protected Kind = "protected"
	// GuestOnly routes are for anonymous visitors, e.g. login and register.
	GuestOnly Kind = "guest_only"
)

const (
	LoginPath = "/login"
	HomePath  = "/"
)

// Decision is what the router should do. Redirect is set only for Denied.
type Decision struct {
	State    State
	Redirect string
}

// Evaluate applies the rule of kind to s. from is the path and query the
// visitor asked for; it is remembered in the login redirect.
func Evaluate(s session.Session, kind Kind, from string) Decision {
	d := evaluate(s, kind, from)
	metrics.GuardDecision(string(kind), string(d.State))
	return d
}

func evaluate(s session.Session, kind Kind, from string) Decision {
	switch kind {
	case Protected:
		switch {
		case s.Loading:
			return Decision{State: Checking}
		case s.SignedIn():
			return Decision{State: Allowed}
		default:
			return Decision{State: Denied, Redirect: LoginRedirect(from)}
		}
	case GuestOnly:
		switch {
		case s.Loading:
			return Decision{State: Checking}
		case s.SignedIn():
			return Decision{State: Denied, Redirect: HomePath}
		default:
			return Decision{State: Allowed}
		}
	default:
		return Decision{State: Allowed}
	}
}

// LoginRedirect returns the login URL remembering from.
func LoginRedirect(from string) string {
	from = SafeReturnPath(from)
	if from == HomePath {
		return LoginPath
	}
	return LoginPath + "?" + url.Values{"from": {from}}.Encode()
}

// SafeReturnPath returns p if it is a local absolute path, otherwise "/".
func SafeReturnPath(p string) string {
	if p == "" || p[0] != '/' {
		return HomePath
	}
	if strings.HasPrefix(p, "//") || strings.HasPrefix(p, "/\\") || strings.ContainsAny(p, "\r\n") {
		return HomePath
	}
	u, err := url.Parse(p)
	if err != nil || u.IsAbs() || u.Host != "" {
		return HomePath
	}
	return p
}
