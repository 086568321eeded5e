package session

import (
	"context"
	"sync"

	"fintrack/internal/core"
	"fintrack/internal/identity"
	"fintrack/internal/query"
)

// FlashKind selects how a notification is styled.
type FlashKind string

const (
	FlashSuccess FlashKind = "success"
	FlashError   FlashKind = "error"
	FlashInfo    FlashKind = "info"
)

// Flash is a one-shot notification shown on the next rendered page.
type Flash struct {
	Kind    FlashKind
	Message string
}

// maxFlashes bounds the queue if pages are never rendered.
const maxFlashes = 5

// Visitor is the server side state of one browser.
type Visitor struct {
	ID      string
	Store   *Store
	Queries *query.Client

	auth   *identity.Auth
	cancel context.CancelFunc
	unsub  func()

	mu         sync.Mutex
	flashes    []Flash
	savedToken string
	uid        string
	closed     bool
}

// AddFlash queues a notification for the next page.
func (v *Visitor) AddFlash(kind FlashKind, message string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.flashes = append(v.flashes, Flash{Kind: kind, Message: message})
	if len(v.flashes) > maxFlashes {
		v.flashes = v.flashes[len(v.flashes)-maxFlashes:]
	}
}

// TakeFlashes returns and clears the queued notifications.
func (v *Visitor) TakeFlashes() []Flash {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := v.flashes
	v.flashes = nil
	return out
}

// UID returns the signed-in user id, or "".
func (v *Visitor) UID() string {
	if id := v.Store.Snapshot().Identity; id != nil {
		return id.UID
	}
	return ""
}

// identityChanged reports whether the user behind the visitor changed and
// records the new one.
func (v *Visitor) identityChanged(id *core.Identity) (uidChanged bool, token string, tokenChanged bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	uid := ""
	if id != nil {
		uid, token = id.UID, id.RefreshToken
	}
	uidChanged = uid != v.uid
	tokenChanged = token != v.savedToken
	v.uid = uid
	v.savedToken = token
	return uidChanged, token, tokenChanged
}

func (v *Visitor) close() {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return
	}
	v.closed = true
	v.mu.Unlock()

	v.cancel()
	if v.unsub != nil {
		v.unsub()
	}
	v.Store.Close()
}
