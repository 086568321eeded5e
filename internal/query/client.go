// Package query is a per-visitor cache of remote reads. Identical reads
// share one request, fresh results are served without a request, and
// failures keep the last good data.
package query

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"fintrack/internal/metrics"
)

// Fetcher performs the remote read for a key.
type Fetcher func(ctx context.Context) (any, error)

// State is what a caller sees for a key.
type State struct {
	Data      any
	HasData   bool
	IsLoading bool
	IsError   bool
	Err       error
	UpdatedAt time.Time
}

type entry struct {
	resource  string
	data      any
	hasData   bool
	err       error
	updatedAt time.Time
	stale     bool
}

// Client caches the reads of one visitor.
type Client struct {
	staleTime time.Duration
	now       func() time.Time
	group     singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	waiters map[string]int
	// gen moves on Clear and epochs[k] on every invalidation of k. A read
	// started under older values never writes to the cache and is never
	// joined by later callers.
	gen       uint64
	epochs    map[string]uint64
	resources map[string]string
}

// NewClient returns a cache in which results stay fresh for staleTime.
func NewClient(staleTime time.Duration) *Client {
	return &Client{
		staleTime: staleTime,
		now:       time.Now,
		entries:   make(map[string]*entry),
		waiters:   make(map[string]int),
		epochs:    make(map[string]uint64),
		resources: make(map[string]string),
	}
}

// Fetch returns the state of key, reading through fn when the cached value
// is missing or stale. When enabled is false nothing is fetched and the
// cached state, if any, is returned.
//
// The caller waits at most until ctx is done; if the read is still running
// the state is IsLoading with the previous data. The read itself continues
// and later callers pick up its result.
func (c *Client) Fetch(ctx context.Context, key Key, enabled bool, fn Fetcher) State {
	k := key.String()
	if !enabled {
		return c.state(k)
	}

	c.mu.Lock()
	e, ok := c.entries[k]
	fresh := ok && e.hasData && e.err == nil && !e.stale && c.now().Sub(e.updatedAt) < c.staleTime
	c.mu.Unlock()

	if fresh {
		metrics.QueryResult(key.Resource, "hit")
		return c.state(k)
	}
	metrics.QueryResult(key.Resource, "miss")
	return c.run(ctx, key, k, fn)
}

// Refetch reads key again regardless of freshness. A read already in
// flight for key is joined only if it started after the last
// invalidation of key.
func (c *Client) Refetch(ctx context.Context, key Key, fn Fetcher) State {
	return c.run(ctx, key, key.String(), fn)
}

// InvalidateFamily marks every cached key of resource stale, so the next
// Fetch reads again. Cached data stays visible until then. Reads of
// resource already in flight are discarded when they finish.
func (c *Client) InvalidateFamily(resource string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k, res := range c.resources {
		if res == resource {
			c.epochs[k]++
		}
	}
	n := 0
	for _, e := range c.entries {
		if e.resource == resource && !e.stale {
			e.stale = true
			n++
		}
	}
	return n
}

// Remove drops key from the cache.
func (c *Client) Remove(key Key) {
	k := key.String()
	c.mu.Lock()
	delete(c.entries, k)
	c.epochs[k]++
	c.mu.Unlock()
}

// Clear drops everything, for sign-out. Reads in flight are discarded
// when they finish.
func (c *Client) Clear() {
	c.mu.Lock()
	c.gen++
	c.entries = make(map[string]*entry)
	c.epochs = make(map[string]uint64)
	c.resources = make(map[string]string)
	c.mu.Unlock()
}

// Peek returns the cached state of key without fetching.
func (c *Client) Peek(key Key) State {
	return c.state(key.String())
}

// Waiters returns how many callers are currently waiting on key.
func (c *Client) Waiters(key Key) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.waiters[key.String()]
}

func (c *Client) run(ctx context.Context, key Key, k string, fn Fetcher) State {
	// The read must outlive the caller that started it; other callers may
	// be waiting on the same result.
	c.mu.Lock()
	c.resources[k] = key.Resource
	gen, epoch := c.gen, c.epochs[k]
	c.mu.Unlock()

	detached := context.WithoutCancel(ctx)
	flight := k + "#" + strconv.FormatUint(gen, 10) + "." + strconv.FormatUint(epoch, 10)
	ch := c.group.DoChan(flight, func() (any, error) {
		data, err := fn(detached)
		if !c.store(key.Resource, k, gen, epoch, data, err) {
			metrics.QueryResult(key.Resource, "discarded")
		}
		return data, err
	})
	c.trackWaiter(k, 1)
	defer c.trackWaiter(k, -1)

	select {
	case res := <-ch:
		switch {
		case res.Err != nil:
			metrics.QueryResult(key.Resource, "error")
		case res.Shared:
			metrics.QueryResult(key.Resource, "coalesced")
		}
		if !c.current(k, gen, epoch) {
			// The cache moved on while the read ran. Answer this caller
			// with what it asked for and leave the cache alone.
			return State{Data: res.Val, HasData: res.Err == nil, IsError: res.Err != nil, Err: res.Err}
		}
		return c.state(k)
	case <-ctx.Done():
		metrics.QueryResult(key.Resource, "timeout")
		s := c.state(k)
		s.IsLoading = true
		s.IsError = false
		s.Err = nil
		return s
	}
}

func (c *Client) current(k string, gen, epoch uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen == gen && c.epochs[k] == epoch
}

// store records the outcome of a read and reports whether it was kept.
func (c *Client) store(resource, k string, gen, epoch uint64, data any, err error) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen || c.epochs[k] != epoch {
		return false
	}
	e, ok := c.entries[k]
	if !ok {
		e = &entry{resource: resource}
		c.entries[k] = e
	}
	if err != nil {
		e.err = err
		return true
	}
	e.data = data
	e.hasData = true
	e.err = nil
	e.stale = false
	e.updatedAt = c.now()
	return true
}

func (c *Client) state(k string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[k]
	if !ok {
		return State{}
	}
	return State{
		Data:      e.data,
		HasData:   e.hasData,
		IsError:   e.err != nil,
		Err:       e.err,
		UpdatedAt: e.updatedAt,
	}
}

func (c *Client) trackWaiter(k string, delta int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.waiters[k] += delta
	if c.waiters[k] <= 0 {
		delete(c.waiters, k)
	}
}
