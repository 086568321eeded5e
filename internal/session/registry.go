package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"fintrack/internal/cache"
	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
	"fintrack/internal/query"
	"fintrack/internal/storage"
)

// Persister stores refresh tokens so visitors survive a restart.
type Persister interface {
	Save(ctx context.Context, id, uid, refreshToken string) error
	Load(ctx context.Context, id string) (storage.SavedSession, error)
	Delete(ctx context.Context, id string) error
}

// RegistryConfig bounds the in-memory visitors.
type RegistryConfig struct {
	MaxVisitors    int
	IdleTTL        time.Duration
	QueryStaleTime time.Duration
}

// Registry maps visitor ids to visitors. Idle visitors are dropped from
// memory and restored from the Persister on their next request.
type Registry struct {
	provider  identity.Provider
	persister Persister
	cfg       RegistryConfig
	logger    *log.Logger

	visitors *cache.LRUCache[*Visitor]
	loads    singleflight.Group
}

// NewRegistry builds an empty registry.
func NewRegistry(provider identity.Provider, persister Persister, cfg RegistryConfig, logger *log.Logger) *Registry {
	if logger == nil {
		logger = log.Discard()
	}
	r := &Registry{
		provider:  provider,
		persister: persister,
		cfg:       cfg,
		logger:    logger.WithComponent(log.ComponentSession),
	}
	r.visitors = cache.NewLRUCache[*Visitor](cfg.MaxVisitors, cfg.IdleTTL,
		cache.WithEvict(func(_ string, v *Visitor) { v.close() }))
	return r
}

// Create starts a new, signed out visitor.
func (r *Registry) Create() *Visitor {
	v := r.newVisitor(uuid.NewString(), "", "")
	r.visitors.Set(v.ID, v)
	metrics.SetVisitors(r.visitors.Size())
	return v
}

// Get returns the visitor for id, restoring it from storage if it is no
// longer in memory. A restored visitor is loading until the provider
// answers. ok is false for unknown ids.
func (r *Registry) Get(ctx context.Context, id string) (*Visitor, bool) {
	if v, ok := r.visitors.Get(id); ok {
		return v, true
	}

	res, err, _ := r.loads.Do(id, func() (any, error) {
		if v, ok := r.visitors.Get(id); ok {
			return v, nil
		}
		// Shared by every caller waiting on id; one hanging up must not
		// fail the others.
		saved, err := r.persister.Load(context.WithoutCancel(ctx), id)
		if err != nil {
			return nil, err
		}
		v := r.newVisitor(id, saved.UID, saved.RefreshToken)
		r.visitors.Set(id, v)
		metrics.SetVisitors(r.visitors.Size())
		r.logger.InfoContext(ctx, "Restoring visitor session", log.FieldVisitorID, id)
		return v, nil
	})
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			r.logger.ErrorContext(ctx, "Failed to load visitor session", log.FieldVisitorID, id, log.FieldError, err.Error())
		}
		return nil, false
	}
	return res.(*Visitor), true
}

// Forget drops a visitor from memory and storage.
func (r *Registry) Forget(ctx context.Context, id string) error {
	r.visitors.Delete(id)
	metrics.SetVisitors(r.visitors.Size())
	if err := r.persister.Delete(ctx, id); err != nil {
		return fmt.Errorf("forget visitor %s: %w", id, err)
	}
	return nil
}

// InvalidateUser marks the given query families stale for every visitor
// signed in as uid and returns how many visitors were touched.
func (r *Registry) InvalidateUser(uid string, resources ...string) int {
	if uid == "" {
		return 0
	}
	var matched []*Visitor
	r.visitors.Range(func(_ string, v *Visitor) bool {
		if v.UID() == uid {
			matched = append(matched, v)
		}
		return true
	})
	for _, v := range matched {
		for _, res := range resources {
			v.Queries.InvalidateFamily(res)
		}
	}
	return len(matched)
}

// Len returns the number of visitors in memory.
func (r *Registry) Len() int {
	return r.visitors.Size()
}

// CleanExpired drops idle visitors. It satisfies cache.Cleaner.
func (r *Registry) CleanExpired() int {
	n := r.visitors.CleanExpired()
	metrics.SetVisitors(r.visitors.Size())
	return n
}

// Close drops every visitor from memory. Persisted sessions are kept.
func (r *Registry) Close() {
	r.visitors.Purge()
	metrics.SetVisitors(0)
}

func (r *Registry) newVisitor(id, uid, refreshToken string) *Visitor {
	ctx, cancel := context.WithCancel(context.Background())
	auth := identity.NewAuth(r.provider, r.logger)
	store := NewStore(auth)
	store.Observe()

	v := &Visitor{
		ID:         id,
		Store:      store,
		Queries:    query.NewClient(r.cfg.QueryStaleTime),
		auth:       auth,
		cancel:     cancel,
		savedToken: refreshToken,
		uid:        uid,
	}
	v.unsub = auth.OnAuthStateChanged(func(ident *core.Identity) {
		r.track(v, ident)
	})
	auth.Restore(ctx, refreshToken)
	return v
}

// track keeps storage in step with the visitor's identity and drops cached
// reads when the user changes.
func (r *Registry) track(v *Visitor, id *core.Identity) {
	uidChanged, token, tokenChanged := v.identityChanged(id)
	if uidChanged {
		v.Queries.Clear()
	}
	if !tokenChanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var err error
	if token == "" {
		err = r.persister.Delete(ctx, v.ID)
	} else {
		err = r.persister.Save(ctx, v.ID, id.UID, token)
	}
	if err != nil {
		r.logger.Error("Failed to persist visitor session", log.FieldVisitorID, v.ID, log.FieldError, err.Error())
	}
}
