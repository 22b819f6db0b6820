package persist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
)

func TestSectionPersistsEveryRecord(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a := New(store, fixedClock{}, nil)

	ok := a.Section(context.Background(), 4, "review", func() ([]crawler.Record, error) {
		return []crawler.Record{
			crawler.Label{ID: 1, Name: "Merge"},
			nil,
			crawler.ReviewLabel{ReviewID: "r1", LabelID: 1},
		}, nil
	})
	require.True(t, ok)
	require.Equal(t, []string{"labels", "review_labels"}, store.tables())
	require.Empty(t, store.events)
}

func TestSectionExtractorErrorLogsParseEvent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a := New(store, fixedClock{}, nil)

	ok := a.Section(context.Background(), 4, "albums", func() ([]crawler.Record, error) {
		return []crawler.Record{crawler.Label{ID: 1}}, errors.New("missing albumId")
	})
	require.False(t, ok)
	require.Empty(t, store.records)
	require.Len(t, store.events, 1)
	ev := store.events[0]
	require.Equal(t, "Failed at parsing albums data", ev.Process)
	require.Equal(t, int64(4), ev.URLID)
	require.False(t, ev.Success)
	require.Equal(t, "missing albumId", ev.Message)
	require.Equal(t, fixedClock{}.Now(), ev.Timestamp)
}

func TestSectionRecoversPanic(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a := New(store, fixedClock{}, nil)

	ok := a.Section(context.Background(), 9, "artists", func() ([]crawler.Record, error) {
		panic("unexpected payload shape")
	})
	require.False(t, ok)
	require.Len(t, store.events, 1)
	require.Equal(t, "Failed at parsing artists data", store.events[0].Process)
	require.Contains(t, store.events[0].Message, "panic")
}

func TestSiblingSectionsAreIndependent(t *testing.T) {
	t.Parallel()

	store := &fakeStore{}
	a := New(store, fixedClock{}, nil)
	ctx := context.Background()

	a.Section(ctx, 1, "authors", func() ([]crawler.Record, error) { return nil, errors.New("boom") })
	ok := a.Section(ctx, 1, "keywords", func() ([]crawler.Record, error) {
		return []crawler.Record{crawler.ReviewKeyword{ReviewID: "r1"}}, nil
	})
	require.True(t, ok)
	require.Equal(t, []string{"review_keywords"}, store.tables())
}

func TestPersistContinuesAfterInsertFailure(t *testing.T) {
	t.Parallel()

	store := &fakeStore{failTable: "genres"}
	a := New(store, fixedClock{}, nil)

	written := a.Persist(context.Background(), 2, []crawler.Record{
		crawler.Genre{ID: 1, Name: "Rock"},
		crawler.Artist{ID: 1, Name: "Band"},
		crawler.Genre{ID: 2, Name: "Pop"},
		crawler.ReviewArtist{ReviewID: "r1", ArtistID: 1},
	})
	require.Equal(t, 2, written)
	require.Equal(t, []string{"artists", "review_artists"}, store.tables())
	require.Len(t, store.events, 2)
	for _, ev := range store.events {
		require.Equal(t, "Failed at inserting data into genres", ev.Process)
	}
}

func TestEventLogFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	store := &fakeStore{failEvents: true}
	a := New(store, fixedClock{}, nil)
	require.NotPanics(t, func() {
		a.Event(context.Background(), 1, crawler.ProcessReviewScraped, true, "")
	})
}

type fakeStore struct {
	mu         sync.Mutex
	records    []crawler.Record
	events     []crawler.ScrapingEvent
	failTable  string
	failEvents bool
}

func (f *fakeStore) Insert(_ context.Context, rec crawler.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if rec.Table() == f.failTable {
		return errors.New("constraint failed")
	}
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeStore) LogEvent(_ context.Context, ev crawler.ScrapingEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failEvents {
		return errors.New("database is locked")
	}
	f.events = append(f.events, ev)
	return nil
}

func (f *fakeStore) tables() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.records))
	for i, r := range f.records {
		out[i] = r.Table()
	}
	return out
}

type fixedClock struct{}

func (fixedClock) Now() time.Time {
	return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
}
