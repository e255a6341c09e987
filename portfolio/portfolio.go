// Package portfolio values independent sensitivity requests concurrently.
package portfolio

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meenmo/mocalib/sensitivity"
)

// Run propagates every request on a pool of at most workers goroutines and
// returns the results in request order. The first error cancels the
// remaining requests and is returned.
func Run(ctx context.Context, requests []sensitivity.Propagator, workers int) ([]sensitivity.Result, error) {
	if workers < 1 {
		workers = 1
	}
	results := make([]sensitivity.Result, len(requests))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, req := range requests {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := req.Propagate(gctx)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("Run: %w", err)
	}
	return results, nil
}

// Aggregate sums the values and curve sensitivities of a set of results and
// merges their SABR sensitivities.
func Aggregate(results []sensitivity.Result) sensitivity.Result {
	total := sensitivity.Result{Curves: sensitivity.CurveSensitivity{}, SABR: sensitivity.SABRSensitivity{}}
	for _, r := range results {
		total.Value += r.Value
		total.Curves = total.Curves.Add(r.Curves)
		total.SABR = total.SABR.Add(r.SABR)
	}
	total.Curves = total.Curves.Cleaned()
	return total
}
