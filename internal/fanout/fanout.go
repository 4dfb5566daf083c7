// Package fanout runs batches of independent inference calls under one
// process-wide concurrency ceiling.
//
// An Executor owns a counting semaphore shared by every batch submitted to
// it, so concurrent batches (two HTTP requests extracting different runs, for
// example) together never exceed the configured limit. Batches are
// all-or-nothing: the first failure fails the batch, tasks still waiting for a
// permit are skipped, tasks already running finish on the caller's context and
// their results are discarded.
package fanout

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultLimit is the ceiling used when none is configured.
const DefaultLimit = 4

var errSkipped = eris.New("fanout: skipped after batch failure")

// Executor bounds in-flight tasks across all batches that share it.
type Executor struct {
	sem   *semaphore.Weighted
	limit int
}

// New creates an Executor allowing at most limit tasks in flight.
func New(limit int) (*Executor, error) {
	if limit < 1 {
		return nil, eris.Errorf("fanout: limit must be >= 1, got %d", limit)
	}
	return &Executor{sem: semaphore.NewWeighted(int64(limit)), limit: limit}, nil
}

// Limit returns the configured ceiling.
func (e *Executor) Limit() int {
	return e.limit
}

// Run calls fn for every item and returns the results in input order. It
// blocks until every started task has returned. On failure it returns the
// first error and no results.
//
// An empty batch returns an empty non-nil slice.
func Run[T, R any](ctx context.Context, e *Executor, items []T, fn func(context.Context, T) (R, error)) ([]R, error) {
	if len(items) == 0 {
		return []R{}, nil
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)

	// batch records the first task failure. It is set before the failing
	// task releases its permit, so a queued task can never slip into the
	// freed slot and start a call for an already failed batch.
	var batch struct {
		sync.Mutex
		err error
	}
	failed := func() bool {
		batch.Lock()
		defer batch.Unlock()
		return batch.err != nil
	}

	for i, item := range items {
		g.Go(func() error {
			// gctx is cancelled once any sibling fails, which wakes tasks
			// still blocked waiting for a permit.
			if err := e.sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer e.sem.Release(1)

			if failed() {
				return errSkipped
			}

			// Running tasks are not interrupted by a sibling's failure.
			val, err := fn(ctx, item)
			if err != nil {
				batch.Lock()
				if batch.err == nil {
					batch.err = err
				}
				batch.Unlock()
				return err
			}
			results[i] = val
			return nil
		})
	}

	waitErr := g.Wait()
	if batch.err != nil {
		return nil, batch.err
	}
	if waitErr != nil {
		return nil, eris.Wrap(waitErr, "fanout: batch aborted")
	}
	return results, nil
}

// Do runs a single task under the executor's ceiling.
func Do[R any](ctx context.Context, e *Executor, fn func(context.Context) (R, error)) (R, error) {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		var zero R
		return zero, eris.Wrap(err, "fanout: acquire")
	}
	defer e.sem.Release(1)
	return fn(ctx)
}
