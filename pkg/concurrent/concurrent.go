package concurrent

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"
)

// Each runs action for every item with at most limit goroutines in flight.
// The context passed to action is cancelled on the first error, and that error is returned.
// A limit <= 0 means no limit.
func Each[T any](ctx context.Context, items []T, limit int, action func(context.Context, T) error) error {
	group, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		group.SetLimit(limit)
	}

	for _, item := range items {
		group.Go(func() error {
			return action(gctx, item)
		})
	}

	return group.Wait()
}

// EachAll runs action for every item with at most limit goroutines in flight.
// A failing item does not stop the others; all errors are joined.
func EachAll[T any](items []T, limit int, action func(T) error) error {
	group := errgroup.Group{}
	if limit > 0 {
		group.SetLimit(limit)
	}

	errs := make([]error, len(items))
	for idx, item := range items {
		group.Go(func() error {
			errs[idx] = action(item)
			return nil
		})
	}
	_ = group.Wait()

	return errors.Join(errs...)
}
