package extract

import (
	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// SitemapURLs registers the page locations listed in one weekly sitemap and
// returns a urls record for each location new to the registry. Locations
// already known keep the row they were first stored with.
func (e *Extractor) SitemapURLs(weeklyURL string, locs []string) ([]crawler.Record, error) {
	year, month, week, err := crawler.SitemapDate(weeklyURL)
	if err != nil {
		return nil, err
	}
	var records []crawler.Record
	for _, loc := range locs {
		isNew, id := e.ids.LookupOrCreate(registry.URLs, loc)
		if !isNew {
			continue
		}
		u := crawler.NewURL(id, loc)
		u.Year, u.Month, u.Week = year, month, week
		records = append(records, u)
	}
	return records, nil
}
