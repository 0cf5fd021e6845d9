// Package parallel runs independent per-item work on a bounded set of
// goroutines.
package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers normalizes a configured worker count
func Workers(n int) int {
	if n <= 0 {
		return runtime.NumCPU()
	}
	return n
}

// Map applies fn to every item with at most workers concurrent calls and
// returns the results in input order. fn reports failures through its
// result value; one item never stops another. Items not yet started when
// ctx is cancelled get the result of skip.
func Map[T, R any](ctx context.Context, items []T, workers int, fn func(context.Context, T) R, skip func(T, error) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}

	var g errgroup.Group
	g.SetLimit(Workers(workers))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			results[i] = skip(item, err)
			continue
		}
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i] = skip(item, err)
				return nil
			}
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
