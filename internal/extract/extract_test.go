package extract

import (
	"strings"
	"testing"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

const base = "https://pitchfork.com"

const reviewState = `{
  "coreDataLayer": {"content": {"contentId": "5e4c1f", "noOfRevisions": "3", "authorIds": "a1,a2"}},
  "head.description": "A record about records.",
  "review": {
    "multiReviewHeaderProps": {
      "infoSliceFields": {"label": "Merge / Domino"},
      "itemsReviewed": [
        {"albumId": "al1", "dangerousHed": "First", "publisher": "Merge", "releaseYear": 2020,
         "musicRating": {"score": 8.2, "isBestNewMusic": true}},
        {"albumId": "al2", "dangerousHed": "Second", "publisher": "", "releaseYear": 0}
      ]
    },
    "contributors": {"author": {"items": [
      {"name": "  Jane   Doe ", "url": "/staff/jane-doe/"},
      {"name": "John Roe", "url": "/staff/john-roe/"}
    ]}},
    "headerProps": {"artists": [
      {"name": "Band", "uri": "artists/123-band/", "genres": [{"node": {"name": "Rock"}}, {"node": {"name": "Pop"}}]},
      {"name": "Solo", "uri": "artists/456-solo/", "genres": []}
    ]}
  },
  "content4d": {
    "entities": [{"name": "guitar", "score": 0.75}, {"name": "drums"}],
    "keywords": {"list": [{"keyword": "indie", "score": 0.5}]}
  }
}`

const linkedData = `{
  "url": "https://pitchfork.com/reviews/albums/band-first/",
  "reviewBody": "It rocks.",
  "datePublished": "2021-03-04T05:00:00.000Z",
  "dateModified": "2021-03-05T06:30:00.000Z"
}`

func newExtractor() (*Extractor, *registry.Registry) {
	ids := registry.New(registry.Snapshot{})
	return New(ids, base, fixedClock{}), ids
}

func tables(records []crawler.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Table()
	}
	return out
}

func TestPreloadedState(t *testing.T) {
	t.Parallel()

	html := `<html><head>
<script>var other = 1;</script>
<script>window.__PRELOADED_STATE__ = {"transformed": {"a": 1}};</script>
<script type="application/ld+json">{"url": "https://pitchfork.com/x/"}</script>
</head></html>`
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	require.NoError(t, err)

	state, err := PreloadedState(doc)
	require.NoError(t, err)
	n, ok := state.Int("transformed", "a")
	require.True(t, ok)
	require.Equal(t, 1, n)

	ld, err := LinkedData(doc)
	require.NoError(t, err)
	u, ok := ld.String("url")
	require.True(t, ok)
	require.Equal(t, "https://pitchfork.com/x/", u)
}

func TestPreloadedStateMissing(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader("<html><script>var x;</script></html>"))
	require.NoError(t, err)

	_, err = PreloadedState(doc)
	require.ErrorIs(t, err, ErrNoPreloadedState)

	ld, err := LinkedData(doc)
	require.NoError(t, err)
	require.Equal(t, "{}", ld.Raw())
}

func TestPreloadedStateInvalidJSON(t *testing.T) {
	t.Parallel()

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(
		`<script>window.__PRELOADED_STATE__ = {"broken": ;</script>`))
	require.NoError(t, err)
	_, err = PreloadedState(doc)
	require.Error(t, err)
}

func TestSitemapLocs(t *testing.T) {
	t.Parallel()

	doc, err := xmlquery.Parse(strings.NewReader(`<?xml version="1.0" encoding="UTF-8"?>
<urlset xmlns="http://www.sitemaps.org/schemas/sitemap/0.9">
  <url><loc> https://pitchfork.com/reviews/albums/a/ </loc></url>
  <url><loc>https://pitchfork.com/staff/b/</loc></url>
</urlset>`))
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://pitchfork.com/reviews/albums/a/",
		"https://pitchfork.com/staff/b/",
	}, SitemapLocs(doc))
}

func TestReview(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	records, err := e.Review(payload.MustParse(reviewState), payload.MustParse(linkedData))
	require.NoError(t, err)
	require.Equal(t, []string{"urls", "labels", "labels", "reviews", "review_labels", "review_labels"}, tables(records))

	u := records[0].(crawler.URL)
	require.Equal(t, int64(1), u.ID)
	require.True(t, u.IsReview)
	require.True(t, u.IsAlbum)

	require.Equal(t, crawler.Label{ID: 1, Name: "Merge"}, records[1])
	require.Equal(t, crawler.Label{ID: 2, Name: "Domino"}, records[2])

	review := records[3].(crawler.Review)
	require.Equal(t, "5e4c1f", review.ID)
	require.Equal(t, 3, review.Revisions)
	require.Equal(t, int64(1), review.URLID)
	require.Equal(t, "It rocks.", review.Body)
	require.Equal(t, "A record about records.", review.Description)
	require.Equal(t, "2021-03-04T05:00:00Z", review.DatePub)
	require.Equal(t, "2021-03-05T06:30:00Z", review.DateMod)

	require.Equal(t, crawler.ReviewLabel{ReviewID: "5e4c1f", LabelID: 2}, records[5])
}

func TestReviewWithoutLabelsUsesNullLabel(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(`{"coreDataLayer": {"content": {"contentId": "r1", "noOfRevisions": 0}}}`)
	records, err := e.Review(pl, payload.MustParse(`{"url": "https://pitchfork.com/reviews/albums/x/"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"urls", "reviews", "review_labels"}, tables(records))
	require.Equal(t, crawler.ReviewLabel{ReviewID: "r1", LabelID: 0}, records[2])
}

func TestReviewRequiresLinkedURL(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	_, err := e.Review(payload.MustParse(reviewState), payload.Empty())
	require.ErrorIs(t, err, payload.ErrMissing)
}

func TestAlbums(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(reviewState)
	records, err := e.Albums(pl)
	require.NoError(t, err)
	require.Equal(t, []string{"albums", "albums", "review_albums", "review_albums"}, tables(records))

	first := records[0].(crawler.Album)
	require.NotNil(t, first.Score)
	require.Equal(t, 82, *first.Score)
	require.True(t, first.BestNewMusic)
	require.False(t, first.BestNewReissue)
	require.Equal(t, 2020, first.ReleaseYear)

	second := records[1].(crawler.Album)
	require.Nil(t, second.Score)
	require.Equal(t, []any{"al2", "Second", nil, nil, nil, int64(0), int64(0)}, second.Values())

	again, err := e.Albums(pl)
	require.NoError(t, err)
	require.Equal(t, []string{"review_albums", "review_albums"}, tables(again))
}

func TestScaleScore(t *testing.T) {
	t.Parallel()

	cases := map[float64]int{8.2: 82, 10: 100, 0: 0, 5.7: 57, 0.7: 7, 6.85: 68}
	for in, want := range cases {
		require.Equal(t, want, ScaleScore(in), "rating %v", in)
	}
}

func TestAuthorsMissingIDsUsesSentinel(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	records, err := e.Authors(payload.MustParse(`{"coreDataLayer": {"content": {"contentId": "r9"}}}`))
	require.NoError(t, err)
	require.Equal(t, []crawler.Record{crawler.ReviewAuthor{ReviewID: "r9", AuthorID: "0"}}, records)
}

func TestAuthors(t *testing.T) {
	t.Parallel()

	e, ids := newExtractor()
	records, err := e.Authors(payload.MustParse(reviewState))
	require.NoError(t, err)
	require.Equal(t, []string{"urls", "authors", "urls", "authors", "review_authors", "review_authors"}, tables(records))

	u := records[0].(crawler.URL)
	require.Equal(t, "https://pitchfork.com/staff/jane-doe/", u.URL)
	require.True(t, u.IsAuthor)
	require.Equal(t, crawler.Author{ID: "a1", Name: "Jane Doe", URLID: u.ID}, records[1])
	require.Equal(t, crawler.ReviewAuthor{ReviewID: "5e4c1f", AuthorID: "a2"}, records[5])
	require.False(t, ids.Claim(registry.Authors, "a1"))
}

func TestAuthorsMismatchedContributors(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(`{
	  "coreDataLayer": {"content": {"contentId": "r1", "authorIds": "a1,a2"}},
	  "review": {"contributors": {"author": {"items": [{"name": "A", "url": "/staff/a/"}]}}}
	}`)
	_, err := e.Authors(pl)
	require.Error(t, err)
}

func TestArtists(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(reviewState)
	records, err := e.Artists(pl)
	require.NoError(t, err)
	require.Equal(t, []string{
		"urls", "artists", "genres", "genres", "urls", "artists",
		"review_artists", "review_artist_genres", "review_artist_genres", "review_artists",
	}, tables(records))

	band := records[1].(crawler.Artist)
	require.Equal(t, "Band", band.Name)
	require.Equal(t, records[0].(crawler.URL).ID, band.URLID)
	require.True(t, records[0].(crawler.URL).IsArtist)

	again, err := e.Artists(pl)
	require.NoError(t, err)
	require.Equal(t, []string{
		"review_artists", "review_artist_genres", "review_artist_genres", "review_artists",
	}, tables(again))
}

func TestEntitiesAndKeywords(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(reviewState)

	entities, err := e.Entities(pl)
	require.NoError(t, err)
	require.Equal(t, []string{"entities", "entities", "review_entities", "review_entities"}, tables(entities))
	scored := entities[2].(crawler.ReviewEntity)
	require.NotNil(t, scored.Score)
	require.InDelta(t, 0.75, *scored.Score, 1e-9)
	require.Nil(t, entities[3].(crawler.ReviewEntity).Score)

	keywords, err := e.Keywords(pl)
	require.NoError(t, err)
	require.Equal(t, []string{"keywords", "review_keywords"}, tables(keywords))
}

func TestScoredAbsentListUsesSentinel(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	pl := payload.MustParse(`{"coreDataLayer": {"content": {"contentId": "r2"}}, "content4d": {}}`)

	entities, err := e.Entities(pl)
	require.NoError(t, err)
	require.Equal(t, []crawler.Record{crawler.ReviewEntity{ReviewID: "r2"}}, entities)

	keywords, err := e.Keywords(pl)
	require.NoError(t, err)
	require.Equal(t, []crawler.Record{crawler.ReviewKeyword{ReviewID: "r2"}}, keywords)
}

func TestSectionsRequireReviewID(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	empty := payload.Empty()
	for name, fn := range map[string]func(payload.Doc) ([]crawler.Record, error){
		"albums":   e.Albums,
		"authors":  e.Authors,
		"artists":  e.Artists,
		"entities": e.Entities,
		"keywords": e.Keywords,
	} {
		_, err := fn(empty)
		require.ErrorIs(t, err, payload.ErrMissing, name)
	}
}

func TestAuthorBio(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	state := payload.MustParse(`{"transformed": {
	  "head.social.description": "Writes about noise.",
	  "coreDataLayer": {"content": {"noOfRevisions": 4}},
	  "payment": {"negotiation": {"content": {"publishDate": "2019-01-02T03:04:05.000Z"}}}
	}}`)
	records, err := e.AuthorBio(state, "a1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	bio := records[0].(crawler.AuthorBio)
	require.Equal(t, "Writes about noise.", bio.Bio)
	require.Equal(t, 4, *bio.Revisions)
	require.Equal(t, "2019-01-02T03:04:05Z", bio.DatePub)
	require.Equal(t, []string{"author_id"}, bio.ConflictColumns())
}

func TestAuthorBioPlaceholderIsNull(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	state := payload.MustParse(`{"transformed": {
	  "head.description": "Read Jane Doe's Pitchfork Bio and get latest news stories and articles.",
	  "head.social.description": "ignored"
	}}`)
	records, err := e.AuthorBio(state, "a1")
	require.NoError(t, err)
	bio := records[0].(crawler.AuthorBio)
	require.Empty(t, bio.Bio)
	require.Nil(t, bio.Revisions)
	require.Nil(t, bio.Values()[3])
}

func TestAuthorBioRequiresTransformed(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	_, err := e.AuthorBio(payload.Empty(), "a1")
	require.ErrorIs(t, err, payload.ErrMissing)
}

func TestAuthorType(t *testing.T) {
	t.Parallel()

	cases := []struct {
		raw, name, want string
	}{
		{raw: "  contributing   writer ", want: "Contributing Writer"},
		{raw: "Senior Editor, Pitchfork", want: "Senior Editor"},
		{raw: "Pitchfork", want: ""},
		{raw: "", want: ""},
		{raw: strings.Repeat("x", MaxAuthorTypeLen+1), want: ""},
		{raw: "ars technica", want: ""},
		{raw: "Jane Doe", name: "jane doe", want: ""},
		{raw: "Jane", name: "jane doe", want: ""},
		{raw: "Staff Writer", name: "jane doe", want: "Staff Writer"},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, AuthorType(tc.raw, tc.name), "raw %q", tc.raw)
	}
}

func TestAuthorTypesSnapshot(t *testing.T) {
	t.Parallel()

	e, _ := newExtractor()
	state := payload.MustParse(`{"transformed": {
	  "coreDataLayer": {"content": {"authorNames": "Jane  Doe"}},
	  "contributor": {"header": {"title": "contributor"}},
	  "content4d": {"title": "Jane Doe"}
	}}`)
	records, err := e.AuthorTypes(state, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"author_types", "author_type_evolution"}, tables(records))
	require.Equal(t, crawler.AuthorType{ID: 1, Name: "Contributor"}, records[0])
	require.Equal(t, crawler.AuthorTypeEvolution{
		AuthorID: "a1",
		Type1ID:  1,
		Type2ID:  0,
		AsOf:     fixedClock{}.Now(),
	}, records[1])

	again, err := e.AuthorTypes(state, "a1")
	require.NoError(t, err)
	require.Equal(t, []string{"author_type_evolution"}, tables(again), "history grows, types do not")
}

func TestSitemapURLs(t *testing.T) {
	t.Parallel()

	e, ids := newExtractor()
	ids.LookupOrCreate(registry.URLs, "https://pitchfork.com/known/")

	records, err := e.SitemapURLs("https://pitchfork.com/sitemap.xml?year=2019&month=5&week=2", []string{
		"https://pitchfork.com/reviews/albums/a/",
		"https://pitchfork.com/known/",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	u := records[0].(crawler.URL)
	require.Equal(t, int64(2), u.ID)
	require.Equal(t, 2019, u.Year)
	require.Equal(t, 5, u.Month)
	require.Equal(t, 2, u.Week)
	require.True(t, u.IsReview)

	_, err = e.SitemapURLs("https://pitchfork.com/sitemap.xml?year=abc", nil)
	require.Error(t, err)
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
}
