package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
)

// PendingFunc lists the items of a batch that still need another pass.
type PendingFunc[T any] func(ctx context.Context) ([]T, error)

// DrainReport summarizes a batch and its retry passes.
type DrainReport[T any] struct {
	// Passes counts the first pass plus every retry pass.
	Passes    int
	Reports   []Report
	Remaining []T
}

// RunUntilDrained runs the batch once, then keeps re-running the items
// pending reports until none remain or policy.MaxPasses retry passes have
// been made.
func RunUntilDrained[T fmt.Stringer](
	ctx context.Context,
	p *Pool,
	batch string,
	items []T,
	handle Handler[T],
	pending PendingFunc[T],
	policy crawler.BatchRetryPolicy,
) (DrainReport[T], error) {
	var out DrainReport[T]

	out.Reports = append(out.Reports, Run(ctx, p, batch, items, handle))
	out.Passes = 1
	metrics.ObserveBatchPass(batch)

	remaining, err := pending(ctx)
	if err != nil {
		return out, fmt.Errorf("list pending %s: %w", batch, err)
	}
	for retry := 1; len(remaining) > 0 && retry <= policy.MaxPasses; retry++ {
		p.logger.Info("retrying pending items",
			zap.String("batch", batch),
			zap.Int("retry", retry),
			zap.Int("pending", len(remaining)),
		)
		if err := wait(ctx, policy.Backoff); err != nil {
			out.Remaining = remaining
			return out, fmt.Errorf("retry %s: %w", batch, err)
		}
		out.Reports = append(out.Reports, Run(ctx, p, batch, remaining, handle))
		out.Passes++
		metrics.ObserveBatchPass(batch)

		if remaining, err = pending(ctx); err != nil {
			return out, fmt.Errorf("list pending %s: %w", batch, err)
		}
	}

	out.Remaining = remaining
	if len(remaining) > 0 {
		p.logger.Warn("retry ceiling reached",
			zap.String("batch", batch),
			zap.Int("passes", out.Passes),
			zap.Int("remaining", len(remaining)),
		)
	}
	return out, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
