package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/extract"
	"github.com/JakeFAU/pitchfork-crawler/internal/fetcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// ScrapeAlbumReviews scrapes targets, or every known album review page when
// targets is nil, then re-runs the pages whose latest event is an abandoned
// connection until none remain or the retry ceiling is reached.
func (p *Pipeline) ScrapeAlbumReviews(
	ctx context.Context,
	targets []crawler.Target,
) (dispatcher.DrainReport[crawler.Target], error) {
	if targets == nil {
		var err error
		if targets, err = p.targets.ReviewTargets(ctx); err != nil {
			return dispatcher.DrainReport[crawler.Target]{}, fmt.Errorf("list review targets: %w", err)
		}
	}
	p.logger.Info("scraping album reviews", zap.Int("targets", len(targets)))

	return dispatcher.RunUntilDrained(ctx, p.pool, BatchReviews, targets, p.ScrapeAlbumReview, p.Failures, p.cfg.Retry)
}

// Failures lists album review pages whose latest event is an abandoned
// connection.
func (p *Pipeline) Failures(ctx context.Context) ([]crawler.Target, error) {
	targets, err := p.targets.UnresolvedFailures(ctx, crawler.ProcessConnectionAbandoned)
	if err != nil {
		return nil, fmt.Errorf("list unresolved failures: %w", err)
	}
	return targets, nil
}

// ScrapeAlbumURL registers rawURL with its path flags when it is new, then
// scrapes it as an album review.
func (p *Pipeline) ScrapeAlbumURL(ctx context.Context, rawURL string) error {
	isNew, urlID := p.ids.LookupOrCreate(registry.URLs, rawURL)
	if isNew {
		p.adapter.Persist(ctx, urlID, []crawler.Record{crawler.NewURL(urlID, rawURL)})
	}
	return p.ScrapeAlbumReview(ctx, crawler.Target{URLID: urlID, URL: rawURL})
}

// ScrapeAlbumReview fetches one album review page and persists each of its
// sections independently. A failed section is logged and does not stop the
// others.
func (p *Pipeline) ScrapeAlbumReview(ctx context.Context, t crawler.Target) error {
	return p.guard(ctx, t.URLID, func() error {
		return p.scrapeAlbumReview(ctx, t)
	})
}

func (p *Pipeline) scrapeAlbumReview(ctx context.Context, t crawler.Target) error {
	doc, err := p.fetcher.Fetch(ctx, t.URL, fetcher.FormatHTML)
	if err != nil {
		return err
	}

	state, err := extract.PreloadedState(doc.HTML)
	var pl payload.Doc
	if err == nil {
		pl, err = state.Require("transformed")
	}
	if err != nil {
		p.adapter.Event(ctx, t.URLID, crawler.ProcessPreloadParse, false, err.Error())
		return fmt.Errorf("preloaded state of %s: %w", t.URL, err)
	}
	ld, err := extract.LinkedData(doc.HTML)
	if err != nil {
		p.adapter.Event(ctx, t.URLID, crawler.ProcessLinkedDataParse, false, err.Error())
		return fmt.Errorf("linked data of %s: %w", t.URL, err)
	}

	sections := []struct {
		name string
		fn   func(payload.Doc) ([]crawler.Record, error)
	}{
		{"albums", p.extractor.Albums},
		{"authors", p.extractor.Authors},
		{"artists", p.extractor.Artists},
		{"entities", p.extractor.Entities},
		{"keywords", p.extractor.Keywords},
	}

	failed := 0
	if !p.adapter.Section(ctx, t.URLID, "review", func() ([]crawler.Record, error) {
		return p.extractor.Review(pl, ld)
	}) {
		failed++
	}
	for _, s := range sections {
		if !p.adapter.Section(ctx, t.URLID, s.name, func() ([]crawler.Record, error) { return s.fn(pl) }) {
			failed++
		}
	}

	p.adapter.Event(ctx, t.URLID, crawler.ProcessReviewScraped, true,
		fmt.Sprintf("%d of %d sections failed", failed, len(sections)+1))
	return nil
}
