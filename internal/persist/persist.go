// Package persist writes extracted records one at a time and turns every
// failure into a scraping event instead of an error.
package persist

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
)

// Store is what the adapter writes to.
type Store interface {
	crawler.RecordWriter
	crawler.EventLogger
}

// ExtractFunc produces the records of one page section.
type ExtractFunc func() ([]crawler.Record, error)

// Adapter isolates sections and records from each other's failures.
type Adapter struct {
	store  Store
	clock  crawler.Clock
	logger *zap.Logger
}

// New constructs an Adapter.
func New(store Store, clock crawler.Clock, logger *zap.Logger) *Adapter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Adapter{store: store, clock: clock, logger: logger.Named("persist")}
}

// Section runs extract and persists what it returns. An extractor error or
// panic is logged as "Failed at parsing {name} data" and reported as false;
// nothing of that section is written.
func (a *Adapter) Section(ctx context.Context, urlID int64, name string, extract ExtractFunc) bool {
	records, err := safeExtract(extract)
	if err != nil {
		a.Event(ctx, urlID, crawler.ProcessSectionParse(name), false, err.Error())
		a.logger.Warn("section extraction failed",
			zap.Int64("url_id", urlID),
			zap.String("section", name),
			zap.Error(err),
		)
		return false
	}
	a.Persist(ctx, urlID, records)
	return true
}

// Persist inserts records in order. A failed insert is logged and the rest
// are still attempted. It returns the number of records written.
func (a *Adapter) Persist(ctx context.Context, urlID int64, records []crawler.Record) int {
	written := 0
	for _, rec := range records {
		if rec == nil {
			continue
		}
		if err := a.store.Insert(ctx, rec); err != nil {
			metrics.ObservePersist(rec.Table(), "failure")
			a.Event(ctx, urlID, crawler.ProcessInsert(rec.Table()), false, err.Error())
			a.logger.Warn("insert failed",
				zap.Int64("url_id", urlID),
				zap.String("table", rec.Table()),
				zap.Error(err),
			)
			continue
		}
		metrics.ObservePersist(rec.Table(), "success")
		written++
	}
	return written
}

// Event appends one entry to the scraping-event log. A failure to log is
// only reported through zap.
func (a *Adapter) Event(ctx context.Context, urlID int64, process string, success bool, message string) {
	ev := crawler.ScrapingEvent{
		Timestamp: a.clock.Now(),
		URLID:     urlID,
		Process:   process,
		Success:   success,
		Message:   message,
	}
	if err := a.store.LogEvent(ctx, ev); err != nil {
		a.logger.Error("log scraping event",
			zap.Int64("url_id", urlID),
			zap.String("process", process),
			zap.Error(err),
		)
	}
}

func safeExtract(extract ExtractFunc) (records []crawler.Record, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return extract()
}
