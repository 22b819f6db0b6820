package extract

import (
	"fmt"
	"math"
	"strings"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/payload"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

const labelSeparator = " / "

// Review extracts the review row, its page URL and its labels. pl is the
// transformed preloaded state and ld the linked data block.
func (e *Extractor) Review(pl, ld payload.Doc) ([]crawler.Record, error) {
	id, err := reviewID(pl)
	if err != nil {
		return nil, err
	}
	revisions, err := pl.RequireInt("coreDataLayer", "content", "noOfRevisions")
	if err != nil {
		return nil, err
	}
	pageURL, err := ld.RequireString("url")
	if err != nil {
		return nil, err
	}
	body, _ := ld.String("reviewBody")
	description, _ := pl.String("head.description")

	published, _ := ld.String("datePublished")
	datePub, err := normalizeDate(published)
	if err != nil {
		return nil, fmt.Errorf("datePublished: %w", err)
	}
	modified, _ := ld.String("dateModified")
	dateMod, err := normalizeDate(modified)
	if err != nil {
		return nil, fmt.Errorf("dateModified: %w", err)
	}

	var records []crawler.Record
	records, urlID := e.registerURL(records, pageURL)

	labels := []string{""}
	if raw, ok := pl.String("review", "multiReviewHeaderProps", "infoSliceFields", "label"); ok && raw != "" {
		labels = strings.Split(raw, labelSeparator)
	}
	junctions := make([]crawler.Record, 0, len(labels))
	for _, label := range labels {
		isNew, labelID := e.ids.LookupOrCreate(registry.Labels, label)
		if isNew {
			records = append(records, crawler.Label{ID: labelID, Name: label})
		}
		junctions = append(junctions, crawler.ReviewLabel{ReviewID: id, LabelID: labelID})
	}

	records = append(records, crawler.Review{
		ID:          id,
		Revisions:   revisions,
		URLID:       urlID,
		Body:        body,
		Description: description,
		DatePub:     datePub,
		DateMod:     dateMod,
	})
	return append(records, junctions...), nil
}

// Albums extracts every reviewed item. A review without items yields nothing.
func (e *Extractor) Albums(pl payload.Doc) ([]crawler.Record, error) {
	id, err := reviewID(pl)
	if err != nil {
		return nil, err
	}
	items, ok := pl.Array("review", "multiReviewHeaderProps", "itemsReviewed")
	if !ok {
		return nil, nil
	}

	var albums, junctions []crawler.Record
	for _, item := range items {
		albumID, err := item.RequireString("albumId")
		if err != nil {
			return nil, err
		}
		junctions = append(junctions, crawler.ReviewAlbum{ReviewID: id, AlbumID: albumID})
		if e.ids.Claim(registry.Albums, albumID) {
			albums = append(albums, newAlbum(albumID, item))
		}
	}
	return append(albums, junctions...), nil
}

func newAlbum(id string, item payload.Doc) crawler.Album {
	name, _ := item.String("dangerousHed")
	publisher, _ := item.String("publisher")
	year, _ := item.Int("releaseYear")
	bnm, _ := item.Bool("musicRating", "isBestNewMusic")
	bnr, _ := item.Bool("musicRating", "isBestNewReissue")

	album := crawler.Album{
		ID:             id,
		Name:           name,
		Publisher:      publisher,
		ReleaseYear:    year,
		BestNewMusic:   bnm,
		BestNewReissue: bnr,
	}
	if rating, ok := item.Float("musicRating", "score"); ok {
		score := ScaleScore(rating)
		album.Score = &score
	}
	return album
}

// ScaleScore maps a 0-10 rating with one decimal onto 0-100, truncating.
func ScaleScore(rating float64) int {
	// The epsilon absorbs binary representation error such as 5.7*10 = 56.999...
	return int(math.Floor(rating*10 + 1e-9))
}

// Authors links the review to its contributors. A review with no author ids
// is linked to the no-author sentinel.
func (e *Extractor) Authors(pl payload.Doc) ([]crawler.Record, error) {
	id, err := reviewID(pl)
	if err != nil {
		return nil, err
	}
	rawIDs, ok := pl.String("coreDataLayer", "content", "authorIds")
	if !ok {
		return []crawler.Record{crawler.ReviewAuthor{ReviewID: id, AuthorID: NoAuthorID}}, nil
	}
	contributors, err := pl.RequireArray("review", "contributors", "author", "items")
	if err != nil {
		return nil, err
	}

	authorIDs := strings.Split(rawIDs, ",")
	var records, junctions []crawler.Record
	for i, authorID := range authorIDs {
		authorID = strings.TrimSpace(authorID)
		if i >= len(contributors) {
			return nil, fmt.Errorf("author %s has no contributor entry at index %d", authorID, i)
		}
		contributor := contributors[i]
		path, err := contributor.RequireString("url")
		if err != nil {
			return nil, err
		}
		var urlID int64
		records, urlID = e.registerURL(records, crawler.JoinSite(e.baseURL, path))

		junctions = append(junctions, crawler.ReviewAuthor{ReviewID: id, AuthorID: authorID})
		if e.ids.Claim(registry.Authors, authorID) {
			name, _ := contributor.String("name")
			records = append(records, crawler.Author{ID: authorID, Name: collapseSpaces(name), URLID: urlID})
		}
	}
	return append(records, junctions...), nil
}

// NoAuthorID is the sentinel author linked to reviews without author ids.
const NoAuthorID = "0"

// Artists extracts the artists of a review and the genres each one carries.
func (e *Extractor) Artists(pl payload.Doc) ([]crawler.Record, error) {
	id, err := reviewID(pl)
	if err != nil {
		return nil, err
	}
	artists, ok := pl.Array("review", "headerProps", "artists")
	if !ok {
		return nil, nil
	}

	var records, junctions []crawler.Record
	for _, artist := range artists {
		name, err := artist.RequireString("name")
		if err != nil {
			return nil, err
		}
		isNewArtist, artistID := e.ids.LookupOrCreate(registry.Artists, name)

		var urlID int64
		if uri, ok := artist.String("uri"); ok && uri != "" {
			records, urlID = e.registerURL(records, crawler.JoinSite(e.baseURL, uri))
		}
		if isNewArtist {
			records = append(records, crawler.Artist{ID: artistID, Name: name, URLID: urlID})
		}
		junctions = append(junctions, crawler.ReviewArtist{ReviewID: id, ArtistID: artistID})

		genres, _ := artist.Array("genres")
		for _, genre := range genres {
			genreName, err := genre.RequireString("node", "name")
			if err != nil {
				return nil, err
			}
			isNewGenre, genreID := e.ids.LookupOrCreate(registry.Genres, genreName)
			if isNewGenre {
				records = append(records, crawler.Genre{ID: genreID, Name: genreName})
			}
			junctions = append(junctions, crawler.ReviewArtistGenre{ReviewID: id, ArtistID: artistID, GenreID: genreID})
		}
	}
	return append(records, junctions...), nil
}

// Entities extracts the scored topics of a review. An absent list links the
// review to the null entity.
func (e *Extractor) Entities(pl payload.Doc) ([]crawler.Record, error) {
	return e.scored(pl, registry.Entities, "name", []string{"content4d", "entities"},
		func(reviewID string, id int64, score *float64) crawler.Record {
			return crawler.ReviewEntity{ReviewID: reviewID, EntityID: id, Score: score}
		},
		func(id int64, name string) crawler.Record { return crawler.Entity{ID: id, Name: name} },
	)
}

// Keywords extracts the scored keywords of a review. An absent list links
// the review to the null keyword.
func (e *Extractor) Keywords(pl payload.Doc) ([]crawler.Record, error) {
	return e.scored(pl, registry.Keywords, "keyword", []string{"content4d", "keywords", "list"},
		func(reviewID string, id int64, score *float64) crawler.Record {
			return crawler.ReviewKeyword{ReviewID: reviewID, KeywordID: id, Score: score}
		},
		func(id int64, name string) crawler.Record { return crawler.Keyword{ID: id, Name: name} },
	)
}

func (e *Extractor) scored(
	pl payload.Doc,
	ns registry.Namespace,
	nameKey string,
	listPath []string,
	junction func(reviewID string, id int64, score *float64) crawler.Record,
	entity func(id int64, name string) crawler.Record,
) ([]crawler.Record, error) {
	id, err := reviewID(pl)
	if err != nil {
		return nil, err
	}
	items, ok := pl.Array(listPath...)
	if !ok {
		return []crawler.Record{junction(id, registry.NullID, nil)}, nil
	}

	var records, junctions []crawler.Record
	for _, item := range items {
		name, err := item.RequireString(nameKey)
		if err != nil {
			return nil, err
		}
		isNew, itemID := e.ids.LookupOrCreate(ns, name)
		if isNew {
			records = append(records, entity(itemID, name))
		}
		var score *float64
		if v, ok := item.Float("score"); ok {
			score = &v
		}
		junctions = append(junctions, junction(id, itemID, score))
	}
	return append(records, junctions...), nil
}
