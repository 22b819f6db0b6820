package crawler

import (
	"fmt"
	"time"
)

// TimeLayout is the textual timestamp format written to the store.
const TimeLayout = "2006-01-02T15:04:05.000000Z07:00"

// Record is a single row destined for one table of the durable store.
type Record interface {
	Table() string
	Columns() []string
	Values() []any
}

// Upserter is implemented by records that replace the existing row sharing
// the same conflict columns instead of appending a new one.
type Upserter interface {
	ConflictColumns() []string
}

// Attributes are the page-kind flags derived from a URL path.
type Attributes struct {
	IsReview bool
	IsAlbum  bool
	IsAuthor bool
	IsArtist bool
}

// URL is a discovered page location. Year, Month and Week are zero when unknown.
type URL struct {
	ID    int64
	URL   string
	Year  int
	Month int
	Week  int
	Attributes
}

// Table implements Record.
func (URL) Table() string { return "urls" }

// Columns implements Record.
func (URL) Columns() []string {
	return []string{"url_id", "url", "year", "month", "week", "is_review", "is_album", "is_author", "is_artist"}
}

// Values implements Record. The sentinel URL has every attribute null.
func (u URL) Values() []any {
	if u.URL == "" {
		return []any{u.ID, nil, nil, nil, nil, nil, nil, nil, nil}
	}
	return []any{
		u.ID, u.URL, nullInt(u.Year), nullInt(u.Month), nullInt(u.Week),
		flag(u.IsReview), flag(u.IsAlbum), flag(u.IsAuthor), flag(u.IsArtist),
	}
}

// Label is a record label.
type Label struct {
	ID   int64
	Name string
}

// Table implements Record.
func (Label) Table() string { return "labels" }

// Columns implements Record.
func (Label) Columns() []string { return []string{"label_id", "label"} }

// Values implements Record.
func (l Label) Values() []any { return []any{l.ID, nullString(l.Name)} }

// Genre is a musical genre.
type Genre struct {
	ID   int64
	Name string
}

// Table implements Record.
func (Genre) Table() string { return "genres" }

// Columns implements Record.
func (Genre) Columns() []string { return []string{"genre_id", "genre"} }

// Values implements Record.
func (g Genre) Values() []any { return []any{g.ID, nullString(g.Name)} }

// Keyword is a review keyword.
type Keyword struct {
	ID   int64
	Name string
}

// Table implements Record.
func (Keyword) Table() string { return "keywords" }

// Columns implements Record.
func (Keyword) Columns() []string { return []string{"keyword_id", "keyword"} }

// Values implements Record.
func (k Keyword) Values() []any { return []any{k.ID, nullString(k.Name)} }

// Entity is a topic detected in a review.
type Entity struct {
	ID   int64
	Name string
}

// Table implements Record.
func (Entity) Table() string { return "entities" }

// Columns implements Record.
func (Entity) Columns() []string { return []string{"entity_id", "entity"} }

// Values implements Record.
func (e Entity) Values() []any { return []any{e.ID, nullString(e.Name)} }

// AuthorType is a cleaned author job title.
type AuthorType struct {
	ID   int64
	Name string
}

// Table implements Record.
func (AuthorType) Table() string { return "author_types" }

// Columns implements Record.
func (AuthorType) Columns() []string { return []string{"author_type_id", "author_type"} }

// Values implements Record.
func (a AuthorType) Values() []any { return []any{a.ID, nullString(a.Name)} }

// Artist is a performing artist.
type Artist struct {
	ID    int64
	Name  string
	URLID int64
}

// Table implements Record.
func (Artist) Table() string { return "artists" }

// Columns implements Record.
func (Artist) Columns() []string { return []string{"artist_id", "artist", "url_id"} }

// Values implements Record.
func (a Artist) Values() []any { return []any{a.ID, nullString(a.Name), a.URLID} }

// Album is a reviewed release keyed by the site's album id.
type Album struct {
	ID             string
	Name           string
	Publisher      string
	ReleaseYear    int
	Score          *int
	BestNewMusic   bool
	BestNewReissue bool
}

// Table implements Record.
func (Album) Table() string { return "albums" }

// Columns implements Record.
func (Album) Columns() []string {
	return []string{
		"album_id", "album", "publisher", "release_year",
		"pitchfork_score", "is_best_new_music", "is_best_new_reissue",
	}
}

// Values implements Record.
func (a Album) Values() []any {
	var score any
	if a.Score != nil {
		score = int64(*a.Score)
	}
	return []any{
		a.ID, nullString(a.Name), nullString(a.Publisher), nullInt(a.ReleaseYear),
		score, flag(a.BestNewMusic), flag(a.BestNewReissue),
	}
}

// Author is a review contributor keyed by the site's author id.
type Author struct {
	ID    string
	Name  string
	URLID int64
}

// Table implements Record.
func (Author) Table() string { return "authors" }

// Columns implements Record.
func (Author) Columns() []string { return []string{"author_id", "author", "url_id"} }

// Values implements Record.
func (a Author) Values() []any { return []any{a.ID, nullString(a.Name), a.URLID} }

// AuthorBio is the latest scraped biography of an author.
type AuthorBio struct {
	AuthorID  string
	DatePub   string
	Revisions *int
	Bio       string
}

// Table implements Record.
func (AuthorBio) Table() string { return "author_bios" }

// Columns implements Record.
func (AuthorBio) Columns() []string { return []string{"author_id", "date_pub", "revisions", "bio"} }

// Values implements Record.
func (a AuthorBio) Values() []any {
	var revisions any
	if a.Revisions != nil {
		revisions = int64(*a.Revisions)
	}
	return []any{a.AuthorID, nullString(a.DatePub), revisions, nullString(a.Bio)}
}

// ConflictColumns implements Upserter.
func (AuthorBio) ConflictColumns() []string { return []string{"author_id"} }

// AuthorTypeEvolution is a point-in-time observation of an author's titles.
type AuthorTypeEvolution struct {
	AuthorID string
	Type1ID  int64
	Type2ID  int64
	AsOf     time.Time
}

// Table implements Record.
func (AuthorTypeEvolution) Table() string { return "author_type_evolution" }

// Columns implements Record.
func (AuthorTypeEvolution) Columns() []string {
	return []string{"author_id", "author_type1_id", "author_type2_id", "as_of_date"}
}

// Values implements Record.
func (a AuthorTypeEvolution) Values() []any {
	return []any{a.AuthorID, a.Type1ID, a.Type2ID, a.AsOf.Format(TimeLayout)}
}

// Review is an album review keyed by the site's content id.
type Review struct {
	ID          string
	Revisions   int
	URLID       int64
	Body        string
	Description string
	DatePub     string
	DateMod     string
}

// Table implements Record.
func (Review) Table() string { return "reviews" }

// Columns implements Record.
func (Review) Columns() []string {
	return []string{"review_id", "revisions", "url_id", "body", "description", "date_pub", "date_mod"}
}

// Values implements Record.
func (r Review) Values() []any {
	return []any{
		r.ID, int64(r.Revisions), r.URLID, nullString(r.Body),
		nullString(r.Description), nullString(r.DatePub), nullString(r.DateMod),
	}
}

// ReviewAlbum links a review to an album.
type ReviewAlbum struct {
	ReviewID string
	AlbumID  string
}

// Table implements Record.
func (ReviewAlbum) Table() string { return "review_albums" }

// Columns implements Record.
func (ReviewAlbum) Columns() []string { return []string{"review_id", "album_id"} }

// Values implements Record.
func (r ReviewAlbum) Values() []any { return []any{r.ReviewID, r.AlbumID} }

// ReviewLabel links a review to a label.
type ReviewLabel struct {
	ReviewID string
	LabelID  int64
}

// Table implements Record.
func (ReviewLabel) Table() string { return "review_labels" }

// Columns implements Record.
func (ReviewLabel) Columns() []string { return []string{"review_id", "label_id"} }

// Values implements Record.
func (r ReviewLabel) Values() []any { return []any{r.ReviewID, r.LabelID} }

// ReviewArtist links a review to an artist.
type ReviewArtist struct {
	ReviewID string
	ArtistID int64
}

// Table implements Record.
func (ReviewArtist) Table() string { return "review_artists" }

// Columns implements Record.
func (ReviewArtist) Columns() []string { return []string{"review_id", "artist_id"} }

// Values implements Record.
func (r ReviewArtist) Values() []any { return []any{r.ReviewID, r.ArtistID} }

// ReviewAuthor links a review to an author.
type ReviewAuthor struct {
	ReviewID string
	AuthorID string
}

// Table implements Record.
func (ReviewAuthor) Table() string { return "review_authors" }

// Columns implements Record.
func (ReviewAuthor) Columns() []string { return []string{"review_id", "author_id"} }

// Values implements Record.
func (r ReviewAuthor) Values() []any { return []any{r.ReviewID, r.AuthorID} }

// ReviewKeyword links a review to a keyword with its relevance score.
type ReviewKeyword struct {
	ReviewID  string
	KeywordID int64
	Score     *float64
}

// Table implements Record.
func (ReviewKeyword) Table() string { return "review_keywords" }

// Columns implements Record.
func (ReviewKeyword) Columns() []string { return []string{"review_id", "keyword_id", "score"} }

// Values implements Record.
func (r ReviewKeyword) Values() []any { return []any{r.ReviewID, r.KeywordID, nullFloat(r.Score)} }

// ReviewEntity links a review to a topic with its relevance score.
type ReviewEntity struct {
	ReviewID string
	EntityID int64
	Score    *float64
}

// Table implements Record.
func (ReviewEntity) Table() string { return "review_entities" }

// Columns implements Record.
func (ReviewEntity) Columns() []string { return []string{"review_id", "entity_id", "score"} }

// Values implements Record.
func (r ReviewEntity) Values() []any { return []any{r.ReviewID, r.EntityID, nullFloat(r.Score)} }

// ReviewArtistGenre records the genre an artist carried in a review.
type ReviewArtistGenre struct {
	ReviewID string
	ArtistID int64
	GenreID  int64
}

// Table implements Record.
func (ReviewArtistGenre) Table() string { return "review_artist_genres" }

// Columns implements Record.
func (ReviewArtistGenre) Columns() []string { return []string{"review_id", "artist_id", "genre_id"} }

// Values implements Record.
func (r ReviewArtistGenre) Values() []any { return []any{r.ReviewID, r.ArtistID, r.GenreID} }

// ScrapingEvent is one entry of the append-only attempt log.
type ScrapingEvent struct {
	Timestamp time.Time
	URLID     int64
	Process   string
	Success   bool
	Message   string
}

// Table implements Record.
func (ScrapingEvent) Table() string { return "scraping_events" }

// Columns implements Record.
func (ScrapingEvent) Columns() []string {
	return []string{"timestamp", "url_id", "process", "success", "message"}
}

// Values implements Record.
func (e ScrapingEvent) Values() []any {
	return []any{e.Timestamp.Format(TimeLayout), e.URLID, e.Process, flag(e.Success), nullString(e.Message)}
}

// Target is a page queued for scraping.
type Target struct {
	URLID int64  `json:"url_id"`
	URL   string `json:"url"`
}

// AuthorTarget is an author profile page queued for scraping.
type AuthorTarget struct {
	AuthorID string `json:"author_id"`
	Target
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(v int) any {
	if v == 0 {
		return nil
	}
	return int64(v)
}

func nullFloat(v *float64) any {
	if v == nil {
		return nil
	}
	return *v
}

func flag(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// FetchResponse is the outcome of one HTTP attempt.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// String identifies the target in logs.
func (t Target) String() string {
	return fmt.Sprintf("url_id=%d url=%s", t.URLID, t.URL)
}

// String identifies the target in logs.
func (t AuthorTarget) String() string {
	return fmt.Sprintf("author_id=%s %s", t.AuthorID, t.Target)
}
