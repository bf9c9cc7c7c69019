// Package batch issues independent backend requests concurrently and waits
// for all of them.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/joshsymonds/convseed/internal/rate"
)

// Task is one independently issuable request.
type Task[T any] func(ctx context.Context) (T, error)

// Options bounds a batch. A zero Limit means every task is in flight at once.
type Options struct {
	Limit   int
	Limiter rate.Limiter
}

// Run dispatches all tasks and returns their results in task order.
//
// The first failure wins and is returned as soon as it happens. Tasks that
// have not started yet are skipped, while tasks already in flight run to
// completion on ctx in the background and their results are dropped.
func Run[T any](ctx context.Context, opts Options, tasks []Task[T]) ([]T, error) {
	results := make([]T, len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if opts.Limit > 0 {
		g.SetLimit(opts.Limit)
	}
	failed := make(chan error, 1)
	fail := func(err error) error {
		select {
		case failed <- err:
		default:
		}
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i, task := range tasks {
			if gctx.Err() != nil {
				break
			}
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				if opts.Limiter != nil {
					if err := opts.Limiter.Wait(gctx); err != nil {
						return fail(err)
					}
				}
				res, err := task(ctx)
				if err != nil {
					return fail(fmt.Errorf("task %d: %w", i, err))
				}
				results[i] = res
				return nil
			})
		}
		_ = g.Wait()
	}()

	select {
	case err := <-failed:
		// results is still written by stragglers and must not escape
		return nil, err
	case <-done:
	}
	select {
	case err := <-failed:
		return nil, err
	default:
	}
	// a parent cancel can stop dispatch before any task observed it
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

// Do is Run for tasks without a result value.
func Do(ctx context.Context, opts Options, tasks []func(ctx context.Context) error) error {
	wrapped := make([]Task[struct{}], len(tasks))
	for i, fn := range tasks {
		wrapped[i] = func(ctx context.Context) (struct{}, error) {
			return struct{}{}, fn(ctx)
		}
	}
	_, err := Run(ctx, opts, wrapped)
	return err
}
