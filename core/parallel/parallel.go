package parallel

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Parallelize divides items into one contiguous range per CPU core and runs
// fn on each range concurrently. The first error returned by any range is
// returned after all ranges have finished.
func Parallelize(items int, fn func(start, end int) error) error {
	if items <= 0 {
		return nil
	}

	numWorkers := runtime.NumCPU()
	if numWorkers > items {
		numWorkers = items
	}
	chunkSize := (items + numWorkers - 1) / numWorkers

	g, _ := errgroup.WithContext(context.Background())
	g.SetLimit(numWorkers)
	for start := 0; start < items; start += chunkSize {
		s, e := start, start+chunkSize
		if e > items {
			e = items
		}
		g.Go(func() error {
			return fn(s, e)
		})
	}
	return g.Wait()
}

// ParallelizeWithThreshold performs parallelization only when the number of items exceeds the threshold
// If below threshold, normal sequential processing is performed
func ParallelizeWithThreshold(items int, threshold int, fn func(start, end int) error) error {
	if items <= threshold {
		return fn(0, items)
	}
	return Parallelize(items, fn)
}

// ForEach runs fn(i) for every i in [0, n) on at most NumCPU goroutines.
// Used where each item is expensive on its own, e.g. one tree of a forest.
func ForEach(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.NumCPU())
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return fn(ctx, i)
		})
	}
	return g.Wait()
}
