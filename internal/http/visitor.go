package http

import (
	"context"
	"net/http"

	"fintrack/internal/guard"
	"fintrack/internal/log"
	"fintrack/internal/middleware/security"
	"fintrack/internal/session"
)

// pageFunc renders a page for an admitted visitor. sess is the snapshot the
// guard decided on.
type pageFunc func(w http.ResponseWriter, r *http.Request, v *session.Visitor, sess session.Session)

// page registers a route that needs a visitor and passes it through the
// guard of kind before h runs.
func (s *Server) page(pattern string, kind guard.Kind, h pageFunc) {
	s.handle(pattern, security.NoStore(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		v, err := s.visitor(w, r)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "Failed to start visitor session", log.FieldError, err.Error())
			http.Error(w, "session unavailable", http.StatusInternalServerError)
			return
		}
		ctx := log.NewContext(r.Context(), log.FromContext(r.Context()).With(log.FieldVisitorID, v.ID))
		r = r.WithContext(ctx)

		sess := s.settle(ctx, v)
		d := guard.Evaluate(sess, kind, r.URL.RequestURI())
		switch d.State {
		case guard.Checking:
			s.renderChecking(w, r, v)
		case guard.Denied:
			http.Redirect(w, r, d.Redirect, http.StatusSeeOther)
		default:
			h(w, r, v, sess)
		}
	})))
}

// settle returns the session, waiting a little for a restore in progress.
func (s *Server) settle(ctx context.Context, v *session.Visitor) session.Session {
	sess := v.Store.Snapshot()
	if !sess.Loading {
		return sess
	}
	wctx, cancel := context.WithTimeout(ctx, s.restoreWait)
	defer cancel()
	v.Store.WaitReady(wctx)
	return v.Store.Snapshot()
}

// visitor finds the visitor of r or starts a new one, refreshing the cookie
// when needed.
func (s *Server) visitor(w http.ResponseWriter, r *http.Request) (*session.Visitor, error) {
	id, renew, ok := s.cookies.Read(r)
	if ok {
		if v, found := s.registry.Get(r.Context(), id); found {
			if renew {
				if err := s.setVisitorCookie(w, v.ID); err != nil {
					return nil, err
				}
			}
			return v, nil
		}
	}

	v := s.registry.Create()
	if err := s.setVisitorCookie(w, v.ID); err != nil {
		return nil, err
	}
	log.FromContext(r.Context()).DebugContext(r.Context(), "New visitor", log.FieldVisitorID, v.ID)
	return v, nil
}

func (s *Server) setVisitorCookie(w http.ResponseWriter, id string) error {
	ck, err := s.cookies.Cookie(id)
	if err != nil {
		return err
	}
	http.SetCookie(w, ck)
	return nil
}
