package guard

import (
	"testing"

	"fintrack/internal/core"
	"fintrack/internal/session"
)

func TestEvaluate(t *testing.T) {
	loading := session.Session{Loading: true}
	anon := session.Session{}
	signedIn := session.Session{Identity: &core.Identity{UID: "u1"}}

	tests := []struct {
		name    string
		session session.Session
		kind    Kind
		from    string
		want    Decision
	}{
		{"protected while loading", loading, Protected, "/reports", Decision{State: Checking}},
		{"protected anonymous", anon, Protected, "/reports", Decision{State: Denied, Redirect: "/login?from=%2Freports"}},
		{"protected with query", anon, Protected, "/transactions?type=income", Decision{State: Denied, Redirect: "/login?from=%2Ftransactions%3Ftype%3Dincome"}},
		{"protected signed in", signedIn, Protected, "/reports", Decision{State: Allowed}},
		{"guest while loading", loading, GuestOnly, "/login", Decision{State: Checking}},
		{"guest anonymous", anon, GuestOnly, "/login", Decision{State: Allowed}},
		{"guest signed in", signedIn, GuestOnly, "/register", Decision{State: Denied, Redirect: "/"}},
		{"public while loading", loading, Public, "/", Decision{State: Allowed}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Evaluate(tt.session, tt.kind, tt.from); got != tt.want {
				t.Errorf("Evaluate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSafeReturnPath(t *testing.T) {
	tests := map[string]string{
		"":                      "/",
		"/reports":              "/reports",
		"/transactions?type=x":  "/transactions?type=x",
		"//evil.example":        "/",
		"/\\evil.example":       "/",
		"https://evil.example/": "/",
		"reports":               "/",
		"/a\r\nSet-Cookie: x":   "/",
	}
	for in, want := range tests {
		if got := SafeReturnPath(in); got != want {
			t.Errorf("SafeReturnPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLoginRedirectFromHome(t *testing.T) {
	if got := LoginRedirect("/"); got != "/login" {
		t.Errorf("LoginRedirect(/) = %q", got)
	}
}
