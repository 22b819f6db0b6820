package worker

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/extract"
	"github.com/JakeFAU/pitchfork-crawler/internal/fetcher"
)

// ScrapeAuthors scrapes the profile page of every known author.
func (p *Pipeline) ScrapeAuthors(ctx context.Context) (dispatcher.Report, error) {
	targets, err := p.targets.AuthorTargets(ctx)
	if err != nil {
		return dispatcher.Report{}, fmt.Errorf("list author targets: %w", err)
	}
	p.logger.Info("scraping author pages", zap.Int("targets", len(targets)))
	return dispatcher.Run(ctx, p.pool, BatchAuthors, targets, p.ScrapeAuthorPage), nil
}

// ScrapeAuthorPage fetches one author profile and records the bio and the
// observed titles as separate sections.
func (p *Pipeline) ScrapeAuthorPage(ctx context.Context, t crawler.AuthorTarget) error {
	return p.guard(ctx, t.URLID, func() error {
		return p.scrapeAuthorPage(ctx, t)
	})
}

func (p *Pipeline) scrapeAuthorPage(ctx context.Context, t crawler.AuthorTarget) error {
	doc, err := p.fetcher.Fetch(ctx, t.URL, fetcher.FormatHTML)
	if err != nil {
		return err
	}
	state, err := extract.PreloadedState(doc.HTML)
	if err != nil {
		p.adapter.Event(ctx, t.URLID, crawler.ProcessPreloadParse, false, err.Error())
		return fmt.Errorf("preloaded state of %s: %w", t.URL, err)
	}

	bioOK := p.adapter.Section(ctx, t.URLID, "author bio", func() ([]crawler.Record, error) {
		return p.extractor.AuthorBio(state, t.AuthorID)
	})
	typeOK := p.adapter.Section(ctx, t.URLID, "author type", func() ([]crawler.Record, error) {
		return p.extractor.AuthorTypes(state, t.AuthorID)
	})

	p.adapter.Event(ctx, t.URLID, crawler.ProcessAuthorScraped, true,
		fmt.Sprintf("author %s bio=%t type=%t", t.AuthorID, bioOK, typeOK))
	return nil
}
