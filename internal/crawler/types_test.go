package crawler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordColumnsMatchValues(t *testing.T) {
	t.Parallel()

	score := 82
	revisions := 3
	relevance := 0.7
	records := []Record{
		URL{}, NewURL(1, "https://pitchfork.com/reviews/albums/x/"), Label{}, Genre{}, Keyword{}, Entity{},
		AuthorType{}, Artist{}, Album{Score: &score}, Author{}, AuthorBio{Revisions: &revisions},
		AuthorTypeEvolution{}, Review{}, ReviewAlbum{}, ReviewLabel{}, ReviewArtist{}, ReviewAuthor{},
		ReviewKeyword{Score: &relevance}, ReviewEntity{}, ReviewArtistGenre{}, ScrapingEvent{},
	}
	for _, rec := range records {
		require.Len(t, rec.Values(), len(rec.Columns()), rec.Table())
		require.NotEmpty(t, rec.Table())
	}
}

func TestSentinelURLIsAllNull(t *testing.T) {
	t.Parallel()

	values := URL{}.Values()
	require.Equal(t, int64(0), values[0])
	for _, v := range values[1:] {
		require.Nil(t, v)
	}
}

func TestAlbumNullsMissingFields(t *testing.T) {
	t.Parallel()

	values := Album{ID: "abc", Name: "Kid A"}.Values()
	require.Equal(t, []any{"abc", "Kid A", nil, nil, nil, int64(0), int64(0)}, values)

	score := 82
	values = Album{ID: "abc", Score: &score, ReleaseYear: 2000, BestNewReissue: true}.Values()
	require.Equal(t, int64(82), values[4])
	require.Equal(t, int64(2000), values[3])
	require.Equal(t, int64(1), values[6])
}

func TestScrapingEventValues(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 5, 1, 12, 30, 0, 1500, time.UTC)
	values := ScrapingEvent{Timestamp: ts, URLID: 9, Process: ProcessConnectionFailed, Message: "boom"}.Values()
	require.Equal(t, []any{"2024-05-01T12:30:00.000001Z", int64(9), "Connection failed", int64(0), "boom"}, values)
}

func TestAuthorBioUpserts(t *testing.T) {
	t.Parallel()

	var rec Record = AuthorBio{AuthorID: "a1"}
	up, ok := rec.(Upserter)
	require.True(t, ok)
	require.Equal(t, []string{"author_id"}, up.ConflictColumns())

	_, ok = Record(Review{}).(Upserter)
	require.False(t, ok)
}

func TestFixedRetryPolicy(t *testing.T) {
	t.Parallel()

	p := NewFixedRetryPolicy(3, 2*time.Second)
	boom := errors.New("boom")
	require.True(t, p.ShouldRetry(boom, 1))
	require.True(t, p.ShouldRetry(boom, 2))
	require.False(t, p.ShouldRetry(boom, 3))
	require.False(t, p.ShouldRetry(nil, 1))
	require.False(t, p.ShouldRetry(context.Canceled, 1))
	require.Equal(t, 2*time.Second, p.Backoff(1))
	require.Equal(t, 2*time.Second, p.Backoff(7))

	clamped := NewFixedRetryPolicy(0, -time.Second)
	require.Equal(t, 1, clamped.MaxAttempts)
	require.Zero(t, clamped.Delay)
}
