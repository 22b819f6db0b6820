package extract

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// Extractor holds what every extractor needs beyond the payload itself.
type Extractor struct {
	ids     crawler.IDs
	baseURL string
	clock   crawler.Clock
}

// New constructs an Extractor. baseURL prefixes the relative paths found in
// payloads.
func New(ids crawler.IDs, baseURL string, clock crawler.Clock) *Extractor {
	return &Extractor{ids: ids, baseURL: baseURL, clock: clock}
}

// registerURL binds raw to a url id and appends a urls record when the id is
// fresh.
func (e *Extractor) registerURL(records []crawler.Record, raw string) ([]crawler.Record, int64) {
	isNew, id := e.ids.LookupOrCreate(registry.URLs, raw)
	if isNew {
		records = append(records, crawler.NewURL(id, raw))
	}
	return records, id
}

var spaceRun = regexp.MustCompile(` +`)

func collapseSpaces(s string) string {
	return strings.TrimSpace(spaceRun.ReplaceAllString(s, " "))
}

// normalizeDate renders a source timestamp as RFC 3339, keeping its offset.
func normalizeDate(raw string) (string, error) {
	if raw == "" {
		return "", nil
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return "", fmt.Errorf("parse date %q: %w", raw, err)
	}
	return t.Format(time.RFC3339), nil
}

func reviewID(pl payload.Doc) (string, error) {
	return pl.RequireString("coreDataLayer", "content", "contentId")
}
