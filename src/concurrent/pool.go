package concurrent

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const defaultConcurrency = 10

// ParallelMap applies fn to every item with at most maxConcurrency calls in
// flight and returns the results in input order, whatever order the calls
// finish in. The first error cancels the context handed to the remaining
// calls and is returned with no results. If the parent context is cancelled
// the partial results are discarded and the context error is returned.
func ParallelMap[T, R any](ctx context.Context, items []T, fn func(context.Context, T) (R, error), maxConcurrency int) ([]R, error) {
	if len(items) == 0 {
		return nil, ctx.Err()
	}
	if maxConcurrency <= 0 {
		maxConcurrency = defaultConcurrency
	}

	results := make([]R, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrency)
	for i, item := range items {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			r, err := fn(gctx, item)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
