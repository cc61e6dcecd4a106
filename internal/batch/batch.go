// Package batch fans the pipeline out over a list of URLs.
package batch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/page-archiver/internal/archive"
)

// DefaultConcurrency bounds in-flight runs when none is configured.
const DefaultConcurrency = 4

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, url string) archive.FetchOutcome
}

// Batch runs URLs concurrently with a bounded number of in-flight runs.
type Batch struct {
	runner      Runner
	concurrency int
}

// New creates a Batch.
func New(runner Runner, concurrency int) *Batch {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Batch{runner: runner, concurrency: concurrency}
}

// RunAll returns exactly one outcome per URL, in input order. Runs already
// waiting for a slot when ctx is canceled still execute and fail fast on the
// canceled context.
func (b *Batch) RunAll(ctx context.Context, urls []string) []archive.FetchOutcome {
	outcomes := make([]archive.FetchOutcome, len(urls))
	var g errgroup.Group
	g.SetLimit(b.concurrency)
	for i, url := range urls {
		g.Go(func() error {
			outcomes[i] = b.runner.Run(ctx, url)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}
