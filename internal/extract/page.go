package extract

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"

	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
)

const preloadedStateMarker = "window.__PRELOADED_STATE__"

// ErrNoPreloadedState is returned when a page carries no preloaded state script.
var ErrNoPreloadedState = errors.New("extract: preloaded state script not found")

// PreloadedState decodes the JSON assigned to window.__PRELOADED_STATE__.
func PreloadedState(doc *goquery.Document) (payload.Doc, error) {
	var raw string
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text := s.Text()
		if strings.Contains(text, preloadedStateMarker) {
			raw = text
			return false
		}
		return true
	})
	if raw == "" {
		return payload.Doc{}, ErrNoPreloadedState
	}
	if i := strings.LastIndex(raw, preloadedStateMarker+" ="); i >= 0 {
		raw = raw[i+len(preloadedStateMarker)+2:]
	}
	raw = strings.TrimFunc(raw, func(r rune) bool { return r == ';' || unicode.IsSpace(r) })

	state, err := payload.Parse([]byte(raw))
	if err != nil {
		return payload.Doc{}, fmt.Errorf("decode preloaded state: %w", err)
	}
	return state, nil
}

// LinkedData decodes the first application/ld+json block, or returns an
// empty object when the page has none.
func LinkedData(doc *goquery.Document) (payload.Doc, error) {
	sel := doc.Find(`script[type="application/ld+json"]`).First()
	if sel.Length() == 0 {
		return payload.Empty(), nil
	}
	ld, err := payload.Parse([]byte(strings.TrimSpace(sel.Text())))
	if err != nil {
		return payload.Doc{}, fmt.Errorf("decode linked data: %w", err)
	}
	return ld, nil
}

// SitemapLocs returns the text of every <loc> element in a sitemap.
func SitemapLocs(doc *xmlquery.Node) []string {
	nodes := xmlquery.Find(doc, "//loc")
	locs := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if loc := strings.TrimSpace(n.InnerText()); loc != "" {
			locs = append(locs, loc)
		}
	}
	return locs
}
