package query

import "context"

// Result is State with typed data.
type Result[T any] struct {
	Data      T
	HasData   bool
	IsLoading bool
	IsError   bool
	Err       error
}

// Fetch is Client.Fetch for a typed reader.
func Fetch[T any](ctx context.Context, c *Client, key Key, enabled bool, fn func(context.Context) (T, error)) Result[T] {
	return typed[T](c.Fetch(ctx, key, enabled, erase(fn)))
}

// Refetch is Client.Refetch for a typed reader.
func Refetch[T any](ctx context.Context, c *Client, key Key, fn func(context.Context) (T, error)) Result[T] {
	return typed[T](c.Refetch(ctx, key, erase(fn)))
}

func erase[T any](fn func(context.Context) (T, error)) Fetcher {
	return func(ctx context.Context) (any, error) {
		return fn(ctx)
	}
}

func typed[T any](s State) Result[T] {
	r := Result[T]{HasData: s.HasData, IsLoading: s.IsLoading, IsError: s.IsError, Err: s.Err}
	if v, ok := s.Data.(T); ok {
		r.Data = v
	}
	return r
}
