// Package dispatcher fans work items out over a bounded worker pool.
package dispatcher

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
	"github.com/JakeFAU/pitchfork-crawler/internal/telemetry"
)

var tracer = telemetry.Tracer("dispatcher")

// DefaultMultiplier scales the CPU count into the default pool size.
const DefaultMultiplier = 2.5

// DefaultSize returns ceil(NumCPU * multiplier), at least one.
func DefaultSize(multiplier float64) int {
	if multiplier <= 0 {
		multiplier = DefaultMultiplier
	}
	size := int(math.Ceil(float64(runtime.NumCPU()) * multiplier))
	return max(size, 1)
}

// Handler processes one item.
type Handler[T any] func(ctx context.Context, item T) error

// Pool bounds how many handlers run at once.
type Pool struct {
	size   int
	logger *zap.Logger
}

// New creates a Pool of the given size. A non-positive size uses DefaultSize.
func New(size int, logger *zap.Logger) *Pool {
	if size <= 0 {
		size = DefaultSize(DefaultMultiplier)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{size: size, logger: logger.Named("dispatcher")}
}

// Size returns the worker bound.
func (p *Pool) Size() int {
	return p.size
}

// Report summarizes one pass over a batch.
type Report struct {
	Batch     string
	Items     int
	Completed int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// Run executes handle for every item with at most Size handlers in flight.
// Item order is not preserved. A failing or panicking item is logged with
// its description and never stops the others. Items not yet started when
// ctx ends are skipped.
func Run[T fmt.Stringer](ctx context.Context, p *Pool, batch string, items []T, handle Handler[T]) Report {
	start := time.Now()
	var failed, completed atomic.Int64

	var g errgroup.Group
	g.SetLimit(p.size)
	skipped := 0
	for i, item := range items {
		if ctx.Err() != nil {
			skipped = len(items) - i
			break
		}
		g.Go(func() error {
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()

			itemCtx, span := tracer.Start(ctx, batch, trace.WithAttributes(
				attribute.String("batch.item", item.String()),
			))
			defer span.End()

			if err := runItem(itemCtx, item, handle); err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, "item failed")
				failed.Add(1)
				metrics.ObserveItem(batch, "failure")
				p.logger.Error("item failed",
					zap.String("batch", batch),
					zap.String("item", item.String()),
					zap.Error(err),
				)
				return nil
			}
			completed.Add(1)
			metrics.ObserveItem(batch, "success")
			return nil
		})
	}
	_ = g.Wait()

	report := Report{
		Batch:     batch,
		Items:     len(items),
		Failed:    int(failed.Load()),
		Completed: int(completed.Load()),
		Skipped:   skipped,
		Duration:  time.Since(start),
	}
	p.logger.Info("batch pass finished",
		zap.String("batch", batch),
		zap.Int("items", report.Items),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Duration("duration", report.Duration),
	)
	return report
}

func runItem[T any](ctx context.Context, item T, handle Handler[T]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return handle(ctx, item)
}
