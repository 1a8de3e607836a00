package batch

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ---------------------------------------------------------------------------
// Batch fan-out and outbound-call spacing for the polling pipeline.
// ---------------------------------------------------------------------------

// Split divides items into consecutive batches of at most size elements.
func Split[T any](items []T, size int) [][]T {
	if size < 1 {
		size = 1
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[i:end])
	}
	return batches
}

// Spacer enforces a minimum gap between outbound calls, process-wide.
// The check-then-sleep is deliberately not atomic under concurrency; it is
// best-effort throttling, not a hard guarantee.
type Spacer struct {
	mu       sync.Mutex
	minGap   time.Duration
	lastCall time.Time
}

// NewSpacer creates a Spacer with the given minimum inter-call gap.
func NewSpacer(minGap time.Duration) *Spacer {
	return &Spacer{minGap: minGap}
}

// Wait sleeps until at least the minimum gap has passed since the previous
// call, then records the call time. Returns early on context cancellation.
func (s *Spacer) Wait(ctx context.Context) error {
	s.mu.Lock()
	since := time.Since(s.lastCall)
	gap := s.minGap - since
	s.mu.Unlock()

	if gap > 0 {
		select {
		case <-time.After(gap):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.mu.Lock()
	s.lastCall = time.Now()
	s.mu.Unlock()
	return nil
}

// Runner fans out per-item work within a batch concurrently, waits for the
// whole batch, and sleeps between batches. Per-item failures are isolated:
// they are passed to the handler's own logging and never abort the batch.
type Runner[T any] struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Run processes all items batch by batch. process is invoked concurrently
// for the items of one batch; Run waits for each batch to finish before
// starting the next.
func (r Runner[T]) Run(ctx context.Context, items []T, process func(ctx context.Context, item T)) {
	batches := Split(items, r.BatchSize)
	for i, b := range batches {
		if ctx.Err() != nil {
			return
		}

		var wg sync.WaitGroup
		for _, item := range b {
			wg.Add(1)
			go func(item T) {
				defer wg.Done()
				defer func() {
					if rec := recover(); rec != nil {
						log.Error().Interface("panic", rec).Msg("batch: item handler panicked")
					}
				}()
				process(ctx, item)
			}(item)
		}
		wg.Wait()

		// Delay between batches, not after the last one.
		if i < len(batches)-1 && r.BatchDelay > 0 {
			select {
			case <-time.After(r.BatchDelay):
			case <-ctx.Done():
				return
			}
		}
	}
}
