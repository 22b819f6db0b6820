package worker

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/dispatcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/extract"
	"github.com/JakeFAU/pitchfork-crawler/internal/fetcher"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// Year is one sitemap year queued for scraping.
type Year int

func (y Year) String() string {
	return "year=" + strconv.Itoa(int(y))
}

// YearSitemapURL returns the sitemap index of one year.
func YearSitemapURL(baseURL string, year int) string {
	return crawler.JoinSite(baseURL, fmt.Sprintf("sitemap.xml?year=%d", year))
}

// ScrapeSitemap scrapes every year in [from, to] concurrently.
func (p *Pipeline) ScrapeSitemap(ctx context.Context, from, to int) dispatcher.Report {
	var years []Year
	for y := from; y <= to; y++ {
		years = append(years, Year(y))
	}
	return dispatcher.Run(ctx, p.pool, BatchSitemap, years, func(ctx context.Context, y Year) error {
		return p.ScrapeSitemapYear(ctx, int(y))
	})
}

// ScrapeSitemapYear registers every page listed by the weekly sitemaps of
// year. A weekly sitemap that cannot be fetched is skipped; its failure is
// already in the event log.
func (p *Pipeline) ScrapeSitemapYear(ctx context.Context, year int) error {
	yearURL := YearSitemapURL(p.cfg.BaseURL, year)
	isNew, yearURLID := p.ids.LookupOrCreate(registry.URLs, yearURL)
	if isNew {
		p.adapter.Persist(ctx, yearURLID, []crawler.Record{crawler.NewURL(yearURLID, yearURL)})
	}

	err := p.guard(ctx, yearURLID, func() error {
		return p.scrapeSitemapYear(ctx, yearURL, yearURLID)
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		p.adapter.Event(ctx, yearURLID, crawler.ProcessSitemapYear(year), false, err.Error())
	}
	return err
}

func (p *Pipeline) scrapeSitemapYear(ctx context.Context, yearURL string, yearURLID int64) error {
	index, err := p.fetcher.Fetch(ctx, yearURL, fetcher.FormatXML)
	if err != nil {
		return err
	}

	added := 0
	for _, weekly := range extract.SitemapLocs(index.XML) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		doc, err := p.fetcher.Fetch(ctx, weekly, fetcher.FormatXML)
		if err != nil {
			p.logger.Warn("weekly sitemap skipped", zap.String("url", weekly), zap.Error(err))
			continue
		}
		records, err := p.extractor.SitemapURLs(weekly, extract.SitemapLocs(doc.XML))
		if err != nil {
			return fmt.Errorf("weekly sitemap %s: %w", weekly, err)
		}
		added += p.adapter.Persist(ctx, doc.URLID, records)
	}

	p.adapter.Event(ctx, yearURLID, crawler.ProcessSitemapScraped, true, fmt.Sprintf("%d new urls", added))
	p.logger.Info("sitemap year scraped", zap.String("url", yearURL), zap.Int("new_urls", added))
	return nil
}
