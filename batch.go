package opsclient

import (
	"context"

	"golang.org/x/sync/errgroup"
)

const defaultBatchConcurrency = 5

// BatchOptions controls Batch.
type BatchOptions struct {
	// FailFast stops after the first chunk that contains an error.
	FailFast bool
	// MaxConcurrency is the chunk size. Zero or negative uses 5.
	MaxConcurrency int
}

// BatchResult is the outcome of one batch entry. Exactly one of Response
// and Err is set.
type BatchResult struct {
	Index    int
	Response *Response
	Err      error
}

// Batch runs reqs directly through the dispatcher, bypassing the scheduler.
// Requests are split into chunks of MaxConcurrency; chunks run one after
// another and the requests of a chunk run concurrently. Results are in
// input order. With FailFast, a chunk containing an error ends the batch
// and later requests are never attempted.
func (c *Client) Batch(ctx context.Context, reqs []Request, opts BatchOptions) []BatchResult {
	size := opts.MaxConcurrency
	if size <= 0 {
		size = defaultBatchConcurrency
	}

	results := make([]BatchResult, 0, len(reqs))
	for start := 0; start < len(reqs); start += size {
		end := min(start+size, len(reqs))

		chunk := make([]BatchResult, end-start)
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				resp, err := c.Do(ctx, reqs[i])
				chunk[i-start] = BatchResult{Index: i, Response: resp, Err: err}
				if err != nil {
					c.metrics.RecordBatchResult("error")
					return err
				}
				c.metrics.RecordBatchResult("success")
				return nil
			})
		}
		err := g.Wait()
		results = append(results, chunk...)

		if err != nil && opts.FailFast {
			c.logger.Debug("Batch stopped after failed chunk", "completed", len(results), "total", len(reqs))
			return results
		}
	}
	return results
}
