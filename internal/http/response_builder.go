// Package http provides HTTP server and handler implementations.
//
// This file implements the Builder Pattern for page responses. Handlers
// describe what to send (a page, a redirect, notifications) and the server
// renders it with the visitor's session.

package http

import (
	"bytes"
	"net/http"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/session"
)

// Response describes a page or redirect.
type Response struct {
	template string
	title    string
	status   int
	data     any
	redirect string
	refresh  int
	headers  map[string]string
	flashes  []session.Flash
}

// Page starts a response rendering template with the given title.
func Page(template, title string) *Response {
	return &Response{
		template: template,
		title:    title,
		status:   http.StatusOK,
		headers:  make(map[string]string),
	}
}

// Redirect starts a 303 redirect to location.
func Redirect(location string) *Response {
	return &Response{
		redirect: location,
		status:   http.StatusSeeOther,
		headers:  make(map[string]string),
	}
}

// Status sets the HTTP status code.
func (b *Response) Status(code int) *Response {
	b.status = code
	return b
}

// With sets the page data.
func (b *Response) With(data any) *Response {
	b.data = data
	return b
}

// Refresh asks the browser to reload the page after secs seconds.
func (b *Response) Refresh(secs int) *Response {
	b.refresh = secs
	return b
}

// Header adds a response header.
func (b *Response) Header(name, value string) *Response {
	b.headers[name] = value
	return b
}

// Flash queues a notification. On a redirect it is shown by the next page.
func (b *Response) Flash(kind session.FlashKind, message string) *Response {
	b.flashes = append(b.flashes, session.Flash{Kind: kind, Message: message})
	return b
}

// Success is a convenience method for success notifications.
func (b *Response) Success(message string) *Response {
	return b.Flash(session.FlashSuccess, message)
}

// Info is a convenience method for informational notifications.
func (b *Response) Info(message string) *Response {
	return b.Flash(session.FlashInfo, message)
}

// Error queues the user facing message of err.
func (b *Response) Error(err error) *Response {
	return b.Flash(session.FlashError, core.UserMessage(err))
}

// view is the data every template receives.
type view struct {
	Title         string
	User          *core.Identity
	Path          string
	Refresh       int
	Flashes       []session.Flash
	GoogleEnabled bool
	Page          any
}

// write sends b. Pages are rendered into a buffer first so a template
// failure never leaves a half written page.
func (s *Server) write(w http.ResponseWriter, r *http.Request, v *session.Visitor, b *Response) {
	for name, value := range b.headers {
		w.Header().Set(name, value)
	}
	for _, f := range b.flashes {
		v.AddFlash(f.Kind, f.Message)
	}

	if b.redirect != "" {
		http.Redirect(w, r, b.redirect, b.status)
		return
	}

	tmpl, ok := s.pages[b.template]
	if !ok {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Unknown template",
			log.FieldComponent, log.ComponentTemplate, "template", b.template)
		http.Error(w, "template not found", http.StatusInternalServerError)
		return
	}

	data := view{
		Title:         b.title,
		User:          v.Store.Snapshot().Identity,
		Path:          r.URL.Path,
		Refresh:       b.refresh,
		Flashes:       v.TakeFlashes(),
		GoogleEnabled: s.google != nil,
		Page:          b.data,
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout", data); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Template execution failed",
			log.FieldComponent, log.ComponentTemplate,
			log.FieldOperation, log.OpRender,
			log.FieldError, err.Error(),
			"template", b.template)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(b.status)
	_, _ = buf.WriteTo(w)
}

// renderChecking sends the placeholder shown while a session is restoring.
func (s *Server) renderChecking(w http.ResponseWriter, r *http.Request, v *session.Visitor) {
	s.write(w, r, v, Page("checking", "Loading").Refresh(1))
}
