// Package worker implements the crawl pipeline: sitemap years, album review
// pages and author pages, each fetched, extracted and persisted.
package worker

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/extract"
	"github.com/JakeFAU/pitchfork-crawler/internal/fetcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/persist"
)

// Batch names used in logs and metrics.
const (
	BatchSitemap = "sitemap"
	BatchReviews = "album_reviews"
	BatchAuthors = "author_pages"
)

// Fetcher retrieves and parses one page.
type Fetcher interface {
	Fetch(ctx context.Context, url string, format fetcher.Format) (*fetcher.Document, error)
}

// Targets lists the pages each batch works on.
type Targets interface {
	ReviewTargets(ctx context.Context) ([]crawler.Target, error)
	AuthorTargets(ctx context.Context) ([]crawler.AuthorTarget, error)
	UnresolvedFailures(ctx context.Context, process string) ([]crawler.Target, error)
}

// Config controls Pipeline behavior.
type Config struct {
	BaseURL string
	Retry   crawler.BatchRetryPolicy
}

// Pipeline wires fetching, extraction and persistence for every page kind.
type Pipeline struct {
	fetcher   Fetcher
	extractor *extract.Extractor
	adapter   *persist.Adapter
	targets   Targets
	ids       crawler.IDs
	pool      *dispatcher.Pool
	cfg       Config
	logger    *zap.Logger
}

// New constructs a Pipeline.
func New(
	fetch Fetcher,
	extractor *extract.Extractor,
	adapter *persist.Adapter,
	targets Targets,
	ids crawler.IDs,
	pool *dispatcher.Pool,
	cfg Config,
	logger *zap.Logger,
) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   fetch,
		extractor: extractor,
		adapter:   adapter,
		targets:   targets,
		ids:       ids,
		pool:      pool,
		cfg:       cfg,
		logger:    logger.Named("pipeline"),
	}
}

// guard turns a panic in one page handler into an error and an
// "Unhandled failure" event against the page.
func (p *Pipeline) guard(ctx context.Context, urlID int64, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			p.adapter.Event(ctx, urlID, crawler.ProcessUnhandled, false, fmt.Sprintf("%v\n%s", r, debug.Stack()))
		}
	}()
	return fn()
}
