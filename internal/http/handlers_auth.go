package http

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"fintrack/internal/core"
	"fintrack/internal/guard"
	"fintrack/internal/identity"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

const oauthStateCookie = "fintrack_oauth_state"

func (s *Server) handleLoginForm(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	form := LoginForm{From: guard.SafeReturnPath(r.URL.Query().Get("from"))}
	s.write(w, r, v, Page("login", "Login").With(form))
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if err := r.ParseForm(); err != nil {
		s.write(w, r, v, Page("login", "Login").Status(http.StatusBadRequest).With(LoginForm{From: guard.HomePath}).Info("Invalid request"))
		return
	}

	form, password, err := ParseLoginForm(r.PostForm)
	form.From = guard.SafeReturnPath(form.From)
	if err != nil {
		s.write(w, r, v, Page("login", "Login").Status(http.StatusUnprocessableEntity).With(form))
		return
	}

	err = v.Store.SignIn(r.Context(), form.Email, password)
	s.structured.LogAuthEvent(r.Context(), log.OpSignIn, v.ID, v.UID(), err)
	if err != nil {
		s.write(w, r, v, Page("login", "Login").Status(statusFor(err)).With(form).Error(err))
		return
	}
	s.write(w, r, v, Redirect(form.From).Success("Signed in successfully!"))
}

func (s *Server) handleRegisterForm(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	s.write(w, r, v, Page("register", "Register").With(RegisterForm{}))
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if err := r.ParseForm(); err != nil {
		s.write(w, r, v, Page("register", "Register").Status(http.StatusBadRequest).With(RegisterForm{}))
		return
	}

	form, password, err := ParseRegisterForm(r.PostForm)
	if err != nil {
		s.write(w, r, v, Page("register", "Register").Status(http.StatusUnprocessableEntity).With(form).Error(err))
		return
	}

	err = v.Store.SignUp(r.Context(), form.Email, password)
	s.structured.LogAuthEvent(r.Context(), log.OpSignUp, v.ID, v.UID(), err)
	if err != nil {
		s.write(w, r, v, Page("register", "Register").Status(statusFor(err)).With(form).Error(err))
		return
	}

	resp := Redirect(guard.HomePath).Success("Account created successfully!")
	if upd := form.ProfileUpdate(); !upd.IsEmpty() {
		if err := v.Store.UpdateProfile(r.Context(), upd); err != nil {
			log.FromContext(r.Context()).WarnContext(r.Context(), "Profile update after sign up failed",
				log.FieldError, err.Error(), log.FieldVisitorID, v.ID)
			resp.Info("Your name and photo could not be saved. You can set them on your profile.")
		}
	}
	s.write(w, r, v, resp)
}

// handleGoogleStart sends the visitor to Google. The state cookie carries
// the CSRF state and the page to return to.
func (s *Server) handleGoogleStart(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if s.google == nil {
		s.handleNotFound(w, r, v, sess)
		return
	}

	state, err := randomState()
	if err != nil {
		s.write(w, r, v, Redirect(guard.LoginPath).Error(err))
		return
	}
	from := guard.SafeReturnPath(r.URL.Query().Get("from"))
	http.SetCookie(w, &http.Cookie{
		Name:     oauthStateCookie,
		Value:    state + "." + base64.RawURLEncoding.EncodeToString([]byte(from)),
		Path:     "/login/google",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.google.AuthCodeURL(state, oauth2.AccessTypeOnline), http.StatusFound)
}

func (s *Server) handleGoogleCallback(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if s.google == nil {
		s.handleNotFound(w, r, v, sess)
		return
	}

	http.SetCookie(w, &http.Cookie{Name: oauthStateCookie, Path: "/login/google", MaxAge: -1})

	fail := func(err error) {
		s.structured.LogAuthEvent(r.Context(), log.OpSignIn, v.ID, "", err)
		s.write(w, r, v, Redirect(guard.LoginPath).Error(err))
	}

	q := r.URL.Query()
	if e := q.Get("error"); e != "" {
		fail(core.NewAuthError(core.AuthProviderRejected, errors.New(e)))
		return
	}

	ck, err := r.Cookie(oauthStateCookie)
	if err != nil {
		fail(core.NewAuthError(core.AuthProviderRejected, errors.New("missing oauth state")))
		return
	}
	state, encodedFrom, _ := strings.Cut(ck.Value, ".")
	if state == "" || q.Get("state") != state {
		fail(core.NewAuthError(core.AuthProviderRejected, errors.New("oauth state mismatch")))
		return
	}
	from := guard.HomePath
	if raw, err := base64.RawURLEncoding.DecodeString(encodedFrom); err == nil {
		from = guard.SafeReturnPath(string(raw))
	}

	tok, err := s.google.Exchange(r.Context(), q.Get("code"))
	if err != nil {
		fail(core.NewAuthError(core.AuthProviderRejected, err))
		return
	}
	idToken, _ := tok.Extra("id_token").(string)
	if idToken == "" {
		fail(core.NewAuthError(core.AuthProviderRejected, errors.New("no id_token in Google response")))
		return
	}

	err = v.Store.SignInWithProvider(r.Context(), identity.GoogleProviderID, idToken, s.google.RedirectURL)
	s.structured.LogAuthEvent(r.Context(), log.OpSignIn, v.ID, v.UID(), err)
	if err != nil {
		s.write(w, r, v, Redirect(guard.LoginPath).Error(err))
		return
	}
	s.write(w, r, v, Redirect(from).Success("Signed in successfully!"))
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	uid := v.UID()
	v.Store.SignOut()
	s.structured.LogAuthEvent(r.Context(), log.OpSignOut, v.ID, uid, nil)
	s.write(w, r, v, Redirect(guard.LoginPath).Success("Signed out successfully."))
}

func (s *Server) handleProfile(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	s.write(w, r, v, Page("profile", "My Profile").With(NewProfileForm(sess.Identity)))
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session) {
	if err := r.ParseForm(); err != nil {
		s.write(w, r, v, Page("profile", "My Profile").Status(http.StatusBadRequest).With(NewProfileForm(sess.Identity)))
		return
	}

	form, upd, err := ParseProfileForm(r.PostForm, sess.Identity)
	if err != nil {
		s.write(w, r, v, Page("profile", "My Profile").Status(http.StatusUnprocessableEntity).With(form))
		return
	}
	if upd.IsEmpty() {
		s.write(w, r, v, Redirect("/profile").Info("Nothing to update."))
		return
	}

	if err := v.Store.UpdateProfile(r.Context(), upd); err != nil {
		log.FromContext(r.Context()).WarnContext(r.Context(), "Profile update failed",
			log.FieldError, err.Error(), log.FieldErrorType, errorType(err))
		s.write(w, r, v, Page("profile", "My Profile").Status(statusFor(err)).With(form).Error(err))
		return
	}
	s.write(w, r, v, Redirect("/profile").Success("Profile updated successfully!"))
}

func randomState() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
