package extract

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// MaxAuthorTypeLen is the longest plausible author title, in characters.
const MaxAuthorTypeLen = 35

// emptyBioMarker appears in the generated text of authors without a bio.
const emptyBioMarker = "bio and get latest news stories and articles."

// Titles scraped from author pages that are known not to be job titles.
var authorTypeDenylist = map[string]struct{}{
	"Ars Technica":                      {},
	"Dice For Any Occasion":             {},
	"“Made For Love” By Alissa Nutting": {},
	"Review: Motorola Droid Razr Maxx":  {},
	"Megan Buerger | Staff |":           {},
}

// AuthorBio extracts the biography of authorID from a full preloaded state.
func (e *Extractor) AuthorBio(state payload.Doc, authorID string) ([]crawler.Record, error) {
	tr, err := state.Require("transformed")
	if err != nil {
		return nil, err
	}

	bio, ok := tr.String("head.description")
	if !ok {
		bio, _ = tr.String("head.social.description")
	}
	if strings.Contains(strings.ToLower(bio), emptyBioMarker) {
		bio = ""
	}

	rec := crawler.AuthorBio{AuthorID: authorID, Bio: bio}
	if revisions, ok := tr.Int("coreDataLayer", "content", "noOfRevisions"); ok {
		rec.Revisions = &revisions
	}
	if published, ok := tr.String("payment", "negotiation", "content", "publishDate"); ok {
		// Unparseable dates are kept verbatim.
		if normalized, err := normalizeDate(published); err == nil {
			rec.DatePub = normalized
		} else {
			rec.DatePub = published
		}
	}
	return []crawler.Record{rec}, nil
}

// AuthorTypes records the titles shown on an author page as one timestamped
// observation, registering any title seen for the first time.
func (e *Extractor) AuthorTypes(state payload.Doc, authorID string) ([]crawler.Record, error) {
	tr, err := state.Require("transformed")
	if err != nil {
		return nil, err
	}

	rawName, _ := tr.String("coreDataLayer", "content", "authorNames")
	authorName := strings.ToLower(CleanAuthorType(rawName))

	var records []crawler.Record
	var ids [2]int64
	paths := [2][]string{
		{"contributor", "header", "title"},
		{"content4d", "title"},
	}
	for i, path := range paths {
		raw, _ := tr.String(path...)
		title := AuthorType(raw, authorName)
		isNew, id := e.ids.LookupOrCreate(registry.AuthorTypes, title)
		if isNew {
			records = append(records, crawler.AuthorType{ID: id, Name: title})
		}
		ids[i] = id
	}

	return append(records, crawler.AuthorTypeEvolution{
		AuthorID: authorID,
		Type1ID:  ids[0],
		Type2ID:  ids[1],
		AsOf:     e.clock.Now(),
	}), nil
}

// CleanAuthorType collapses spaces, title-cases and strips site-name
// artifacts from a displayed author title.
func CleanAuthorType(raw string) string {
	t := collapseSpaces(raw)
	t = cases.Title(language.English).String(t)
	t = strings.ReplaceAll(t, ", Pitchfork", "")
	t = strings.ReplaceAll(t, "Pitchfork", "")
	return strings.TrimSpace(t)
}

// AuthorType returns the cleaned title, or "" when it is implausible: too
// long, denylisted, or overlapping authorName (already lowercased).
func AuthorType(raw, authorName string) string {
	t := CleanAuthorType(raw)
	if t == "" || utf8.RuneCountInString(t) > MaxAuthorTypeLen {
		return ""
	}
	if _, denied := authorTypeDenylist[t]; denied {
		return ""
	}
	if authorName != "" {
		lower := strings.ToLower(t)
		if strings.Contains(lower, authorName) || strings.Contains(authorName, lower) {
			return ""
		}
	}
	return t
}
