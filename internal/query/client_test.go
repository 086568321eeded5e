package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyStringIsOrderIndependent(t *testing.T) {
	a := NewKey("transactions", "type", "income", "page", "1")
	b := NewKey("transactions", "page", "1", "type", "income")
	assert.Equal(t, a.String(), b.String())
	assert.Equal(t, "transactions?page=1&type=income", a.String())
	assert.Equal(t, "reports", NewKey("reports").String())
}

func TestIdenticalFetchesShareOneRequest(t *testing.T) {
	c := NewClient(time.Minute)
	key := NewKey("transactions", "type", "all")
	release := make(chan struct{})
	var calls atomic.Int32

	fn := func(ctx context.Context) (any, error) {
		calls.Add(1)
		<-release
		return []string{"a", "b"}, nil
	}

	var wg sync.WaitGroup
	results := make([]State, 2)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = c.Fetch(context.Background(), key, true, fn)
		}(i)
	}

	require.Eventually(t, func() bool { return c.Waiters(key) == 2 }, time.Second, time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	for _, r := range results {
		assert.True(t, r.HasData)
		assert.Equal(t, []string{"a", "b"}, r.Data)
	}
}

func TestFreshDataServedWithoutRequest(t *testing.T) {
	c := NewClient(time.Minute)
	now := time.Date(2024, 11, 1, 0, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }
	key := NewKey("reports")
	var calls int
	fn := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	c.Fetch(context.Background(), key, true, fn)
	s := c.Fetch(context.Background(), key, true, fn)
	assert.Equal(t, 1, calls)
	assert.Equal(t, 1, s.Data)

	now = now.Add(2 * time.Minute)
	s = c.Fetch(context.Background(), key, true, fn)
	assert.Equal(t, 2, calls, "stale data is read again")
	assert.Equal(t, 2, s.Data)
}

func TestFailureKeepsPriorData(t *testing.T) {
	c := NewClient(0)
	key := NewKey("reports")

	c.Fetch(context.Background(), key, true, func(context.Context) (any, error) { return "v1", nil })
	boom := errors.New("boom")
	s := c.Fetch(context.Background(), key, true, func(context.Context) (any, error) { return nil, boom })

	assert.True(t, s.IsError)
	assert.ErrorIs(t, s.Err, boom)
	assert.True(t, s.HasData)
	assert.Equal(t, "v1", s.Data)

	s = c.Fetch(context.Background(), key, true, func(context.Context) (any, error) { return "v2", nil })
	assert.False(t, s.IsError)
	assert.Equal(t, "v2", s.Data)
}

func TestDisabledQueryDoesNotFetch(t *testing.T) {
	c := NewClient(time.Minute)
	called := false
	s := c.Fetch(context.Background(), NewKey("transactions", "id", "1"), false, func(context.Context) (any, error) {
		called = true
		return nil, nil
	})
	assert.False(t, called)
	assert.False(t, s.HasData)
	assert.False(t, s.IsLoading)
}

func TestCallerTimeoutSeesLoadingAndReadContinues(t *testing.T) {
	c := NewClient(time.Minute)
	key := NewKey("reports")
	release := make(chan struct{})
	done := make(chan struct{})
	fn := func(ctx context.Context) (any, error) {
		defer close(done)
		<-release
		return "late", ctx.Err()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	s := c.Fetch(ctx, key, true, fn)
	assert.True(t, s.IsLoading)
	assert.False(t, s.HasData)

	close(release)
	<-done
	require.Eventually(t, func() bool { return c.Peek(key).HasData }, time.Second, time.Millisecond)
	assert.Equal(t, "late", c.Peek(key).Data, "the read was not cancelled with the caller")
}

func TestInvalidateFamily(t *testing.T) {
	c := NewClient(time.Hour)
	var calls int
	fn := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}
	all := NewKey("transactions", "type", "all")
	income := NewKey("transactions", "type", "income")
	reports := NewKey("reports")
	for _, k := range []Key{all, income, reports} {
		c.Fetch(context.Background(), k, true, fn)
	}
	require.Equal(t, 3, calls)

	assert.Equal(t, 2, c.InvalidateFamily("transactions"))
	assert.True(t, c.Peek(all).HasData, "invalidated data stays visible")

	c.Fetch(context.Background(), reports, true, fn)
	assert.Equal(t, 3, calls, "other families untouched")
	c.Fetch(context.Background(), all, true, fn)
	assert.Equal(t, 4, calls)
}

// startSlowRead leaves a read of key in flight after its caller gave up and
// returns the function that lets it finish.
func startSlowRead(t *testing.T, c *Client, key Key, data any) func() {
	t.Helper()
	release := make(chan struct{})
	done := make(chan struct{})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s := c.Fetch(ctx, key, true, func(context.Context) (any, error) {
		defer close(done)
		<-release
		return data, nil
	})
	require.True(t, s.IsLoading)
	return func() {
		close(release)
		<-done
	}
}

func TestClearDiscardsReadsInFlight(t *testing.T) {
	c := NewClient(time.Hour)
	key := NewKey("transactions", "type", "all")
	finish := startSlowRead(t, c, key, "first user's rows")

	c.Clear()

	var calls atomic.Int32
	next := func(context.Context) (any, error) {
		calls.Add(1)
		return "second user's rows", nil
	}
	s := c.Fetch(context.Background(), key, true, next)
	assert.Equal(t, int32(1), calls.Load(), "a read from before Clear is not joined")
	assert.Equal(t, "second user's rows", s.Data)

	finish()
	assert.Equal(t, "second user's rows", c.Peek(key).Data)
	s = c.Fetch(context.Background(), key, true, next)
	assert.Equal(t, "second user's rows", s.Data)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClearDropsLateResultOfFirstRead(t *testing.T) {
	c := NewClient(time.Hour)
	key := NewKey("reports")
	finish := startSlowRead(t, c, key, "stale report")

	c.Clear()
	finish()

	assert.False(t, c.Peek(key).HasData)
}

func TestRefetchAfterInvalidateIgnoresOlderRead(t *testing.T) {
	c := NewClient(time.Hour)
	key := NewKey("transactions", "type", "all")
	finish := startSlowRead(t, c, key, []string{"a", "deleted"})

	c.InvalidateFamily("transactions")
	s := c.Refetch(context.Background(), key, func(context.Context) (any, error) {
		return []string{"a"}, nil
	})
	assert.Equal(t, []string{"a"}, s.Data)

	finish()
	assert.Equal(t, []string{"a"}, c.Peek(key).Data)
	s = c.Fetch(context.Background(), key, true, func(context.Context) (any, error) {
		t.Error("fresh result should be served from cache")
		return nil, nil
	})
	assert.Equal(t, []string{"a"}, s.Data)
}

func TestRemoveDiscardsReadInFlight(t *testing.T) {
	c := NewClient(time.Hour)
	key := NewKey("transaction", "id", "t1")
	finish := startSlowRead(t, c, key, "t1")

	c.Remove(key)
	finish()

	assert.False(t, c.Peek(key).HasData)
}

func TestTypedFetch(t *testing.T) {
	c := NewClient(time.Minute)
	r := Fetch(context.Background(), c, NewKey("n"), true, func(context.Context) (int, error) { return 7, nil })
	assert.Equal(t, 7, r.Data)

	r = Refetch(context.Background(), c, NewKey("n"), func(context.Context) (int, error) { return 8, nil })
	assert.Equal(t, 8, r.Data)
}
