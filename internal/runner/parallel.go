package runner

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/phaseledger/internal/trace"
)

// Factory builds the Runner for one task. Runs in RunAll share nothing, so
// the factory should return a fresh Runner (and agent) per call.
type Factory func(task Task) (*Runner, error)

// RunAll executes tasks concurrently, at most limit at a time (no limit
// when limit <= 0). Results are returned in task order. The first error
// from building or running any task cancels the rest.
func RunAll(ctx context.Context, tasks []Task, limit int, newRunner Factory) ([]trace.RunTrace, error) {
	g, ctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}

	results := make([]trace.RunTrace, len(tasks))
	for i, task := range tasks {
		i, task := i, task
		g.Go(func() error {
			r, err := newRunner(task)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			run, err := r.Run(ctx, task)
			if err != nil {
				return fmt.Errorf("task %d: %w", i, err)
			}
			results[i] = run
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
