// Package utils contains small helpers shared by the fusion pipeline.
package utils

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor controls the default level of parallelization. This might be useful
// to lower in tests where too much parallelism actually slows tests down in aggregate.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// ChunkWorkFunc computes the result for work item i.
type ChunkWorkFunc[T any] func(ctx context.Context, i int) (T, error)

// ChunkReduceFunc consumes the result for work item i. It is always called from a single
// goroutine, in ascending order of i.
type ChunkReduceFunc[T any] func(i int, result T) error

// ReduceInOrder runs work for items [0, total) with at most limit items in flight. Items are
// processed in chunks of limit; once a chunk completes its results are handed to reduce in
// ascending order and released, so at most limit results are alive at any time. The first error
// (or panic) stops the remaining work.
func ReduceInOrder[T any](
	ctx context.Context,
	total, limit int,
	work ChunkWorkFunc[T],
	reduce ChunkReduceFunc[T],
) error {
	if limit <= 0 {
		limit = ParallelFactor
	}
	results := make([]T, limit)
	for from := 0; from < total; from += limit {
		to := from + limit
		if to > total {
			to = total
		}
		group, groupCtx := errgroup.WithContext(ctx)
		for i := from; i < to; i++ {
			i := i
			group.Go(func() (err error) {
				defer func() {
					if thePanic := recover(); thePanic != nil {
						err = fmt.Errorf("got panic running work item %d in parallel: %v", i, thePanic)
					}
				}()
				res, err := work(groupCtx, i)
				if err != nil {
					return err
				}
				results[i-from] = res
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return err
		}
		var zero T
		for i := from; i < to; i++ {
			if err := reduce(i, results[i-from]); err != nil {
				return err
			}
			results[i-from] = zero
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// ForEachParallel runs fn for items [0, total) with at most limit running concurrently and
// returns the first error. A panic in fn is converted into an error.
func ForEachParallel(ctx context.Context, total, limit int, fn func(ctx context.Context, i int) error) error {
	if limit <= 0 {
		limit = ParallelFactor
	}
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(limit)
	for i := 0; i < total; i++ {
		i := i
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = fmt.Errorf("got panic running work item %d in parallel: %v", i, thePanic)
				}
			}()
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return fn(groupCtx, i)
		})
	}
	return group.Wait()
}
