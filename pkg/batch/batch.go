// Package batch runs an operation over a slice with bounded parallelism.
//
// Items are processed in submission order in batches of at most Limit
// concurrent operations; results are appended to the accumulator as each
// batch completes.
package batch

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fairyhunter13/social-inbox/pkg/clockx"
)

// Options controls a traversal.
type Options struct {
	// Limit is the maximum number of in-flight operations. Values < 1 mean 1.
	Limit int
	// InterBatchDelay throttles between batches when > 0.
	InterBatchDelay time.Duration
	// BreakOnError aborts the whole traversal on the first failure. When
	// false, each failure is routed to OnError and the traversal continues.
	BreakOnError bool
	// OnError receives the item index and error when BreakOnError is false.
	OnError func(index int, err error)
	// Clock is used for the inter-batch delay; defaults to the system clock.
	Clock clockx.Clock
}

// Process applies fn to every item and returns the successful results in
// input order.
func Process[T, R any](ctx context.Context, items []T, opts Options, fn func(ctx context.Context, item T) (R, error)) ([]R, error) {
	limit := opts.Limit
	if limit < 1 {
		limit = 1
	}
	clk := opts.Clock
	if clk == nil {
		clk = clockx.System{}
	}

	out := make([]R, 0, len(items))
	for start := 0; start < len(items); start += limit {
		end := start + limit
		if end > len(items) {
			end = len(items)
		}

		results := make([]R, end-start)
		failed := make([]error, end-start)
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				r, err := fn(gctx, items[i])
				if err != nil {
					if opts.BreakOnError {
						return err
					}
					failed[i-start] = err
					return nil
				}
				results[i-start] = r
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return out, err
		}
		for i, err := range failed {
			if err != nil {
				if opts.OnError != nil {
					opts.OnError(start+i, err)
				}
				continue
			}
			out = append(out, results[i])
		}

		if opts.InterBatchDelay > 0 && end < len(items) {
			if err := clk.Sleep(ctx, opts.InterBatchDelay); err != nil {
				return out, err
			}
		}
	}
	return out, nil
}
