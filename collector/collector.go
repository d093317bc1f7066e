// Package collector walks a stack and its nested stacks and gathers every
// failure event inside a time window, depth-first.
package collector

import (
	"context"
	"fmt"

	"cfn-failing-stacks/analyzer"
	"cfn-failing-stacks/cfnclient"
	"cfn-failing-stacks/extractor"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// DefaultConcurrency is the default number of provider queries in flight.
const DefaultConcurrency = 4

// Config tunes a Collector.
type Config struct {
	// Concurrency caps the number of provider queries running at once.
	Concurrency int

	// NestedOnly restricts recursion to AWS::CloudFormation::Stack resources.
	NestedOnly bool

	// Progress is called once per stack, right before it is queried.
	// It may be called from several goroutines at once.
	Progress func(stack string)
}

// Collector gathers failure events across a stack tree.
type Collector struct {
	fetcher    cfnclient.EventFetcher
	queries    *semaphore.Weighted
	nestedOnly bool
	progress   func(stack string)
	log        logr.Logger
}

// New returns a Collector that queries stacks through fetcher.
func New(fetcher cfnclient.EventFetcher, cfg Config, log logr.Logger) *Collector {
	limit := cfg.Concurrency
	if limit <= 0 {
		limit = DefaultConcurrency
	}
	progress := cfg.Progress
	if progress == nil {
		progress = func(string) {}
	}
	return &Collector{
		fetcher:    fetcher,
		queries:    semaphore.NewWeighted(int64(limit)),
		nestedOnly: cfg.NestedOnly,
		progress:   progress,
		log:        log,
	}
}

// CollectFailures returns the failure events of stack and of every nested
// stack its failures point at, limited to window. Each failure is followed
// directly by the failures found in the stack it references; siblings keep
// the order in which their stack reported them.
//
// The first error anywhere in the tree cancels the remaining queries and is
// returned once every branch has stopped; no partial result is returned.
func (c *Collector) CollectFailures(ctx context.Context, stack string, window analyzer.TimeWindow) ([]analyzer.FailureEvent, error) {
	return c.collect(ctx, stack, window, 0)
}

func (c *Collector) collect(ctx context.Context, stack string, window analyzer.TimeWindow, depth int) ([]analyzer.FailureEvent, error) {
	events, err := c.fetch(ctx, stack)
	if err != nil {
		return nil, err
	}

	failures, err := extractor.ExtractFailures(stack, events, window)
	if err != nil {
		return nil, err
	}
	c.log.V(1).Info("filtered stack events", "stack", stack, "events", len(events), "failures", len(failures), "depth", depth)
	if len(failures) == 0 {
		return nil, nil
	}

	nested := make([][]analyzer.FailureEvent, len(failures))
	g, gctx := errgroup.WithContext(ctx)
	for i := range failures {
		failures[i].Depth = depth

		child, ok := extractor.ChildStack(stack, failures[i], c.nestedOnly)
		if !ok {
			continue
		}
		g.Go(func() error {
			found, err := c.collect(gctx, child, window, depth+1)
			if err != nil {
				return fmt.Errorf("nested stack of %s: %w", stack, err)
			}
			nested[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []analyzer.FailureEvent
	for i, failure := range failures {
		merged = append(merged, failure)
		merged = append(merged, nested[i]...)
	}
	return merged, nil
}

// fetch queries one stack while holding a slot of the query semaphore.
func (c *Collector) fetch(ctx context.Context, stack string) ([]analyzer.StackEvent, error) {
	if err := c.queries.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.queries.Release(1)

	c.progress(stack)
	return c.fetcher.FetchEvents(ctx, stack)
}
