package postgres

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
	"github.com/JakeFAU/pitchfork-crawler/internal/storage/schema"
)

func newMockStore(t *testing.T) (*Store, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	store, err := NewWithPool(mock, nil)
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return store, mock
}

func TestInsertLabel(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO labels (label_id, label) VALUES ($1, $2)")).
		WithArgs(int64(4), "Matador").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.Insert(context.Background(), crawler.Label{ID: 4, Name: "Matador"}))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertAuthorBioUpserts(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	revisions := 2
	mock.ExpectExec(regexp.QuoteMeta(
		"INSERT INTO author_bios (author_id, date_pub, revisions, bio) VALUES ($1, $2, $3, $4) "+
			"ON CONFLICT (author_id) DO UPDATE SET date_pub = excluded.date_pub, "+
			"revisions = excluded.revisions, bio = excluded.bio",
	)).
		WithArgs("a1", "2020-01-01T00:00:00Z", int64(2), "Writes about noise.").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.Insert(context.Background(), crawler.AuthorBio{
		AuthorID: "a1", DatePub: "2020-01-01T00:00:00Z", Revisions: &revisions, Bio: "Writes about noise.",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertWrapsErrors(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO review_albums").
		WithArgs("r1", "al1").
		WillReturnError(errors.New("connection reset"))

	err := store.Insert(context.Background(), crawler.ReviewAlbum{ReviewID: "r1", AlbumID: "al1"})
	require.ErrorContains(t, err, "insert into review_albums")
	require.NoError(t, store.Insert(context.Background(), nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLogEvent(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	ts := time.Date(2024, 2, 3, 4, 5, 6, 0, time.UTC)
	mock.ExpectExec("INSERT INTO scraping_events").
		WithArgs("2024-02-03T04:05:06.000000Z", int64(7), crawler.ProcessConnectionFailed, int64(0), "status 503").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := store.LogEvent(context.Background(), crawler.ScrapingEvent{
		Timestamp: ts, URLID: 7, Process: crawler.ProcessConnectionFailed, Message: "status 503",
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSnapshot(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	for _, ns := range registry.Namespaces {
		rows := pgxmock.NewRows([]string{"key", "id"})
		if ns == registry.Genres {
			rows.AddRow("Rock", int64(3))
		}
		mock.ExpectQuery(regexp.QuoteMeta(schema.NamespaceQuery(schema.NamespaceSources[ns]))).WillReturnRows(rows)
	}
	for _, set := range registry.Sets {
		rows := pgxmock.NewRows([]string{"key"})
		if set == registry.Albums {
			rows.AddRow("al-1")
		}
		mock.ExpectQuery(regexp.QuoteMeta(schema.SetQuery(schema.SetSources[set]))).WillReturnRows(rows)
	}

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	require.Equal(t, map[string]int64{"Rock": 3}, snap.IDs[registry.Genres])
	require.Empty(t, snap.IDs[registry.Labels])
	require.Equal(t, []string{"al-1"}, snap.Keys[registry.Albums])
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUnresolvedFailures(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT DISTINCT ON \(url_id\)[\s\S]*ORDER BY url_id, event_seq DESC`).
		WithArgs(crawler.ProcessConnectionAbandoned).
		WillReturnRows(pgxmock.NewRows([]string{"url_id", "url"}).
			AddRow(int64(5), "https://pitchfork.com/reviews/albums/a/"))

	got, err := store.UnresolvedFailures(context.Background(), crawler.ProcessConnectionAbandoned)
	require.NoError(t, err)
	require.Equal(t, []crawler.Target{{URLID: 5, URL: "https://pitchfork.com/reviews/albums/a/"}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAuthorTargets(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectQuery("FROM authors a JOIN urls u").
		WillReturnRows(pgxmock.NewRows([]string{"author_id", "url_id", "url"}).
			AddRow("au-1", int64(9), "https://pitchfork.com/staff/jane/"))

	got, err := store.AuthorTargets(context.Background())
	require.NoError(t, err)
	require.Equal(t, []crawler.AuthorTarget{{
		AuthorID: "au-1",
		Target:   crawler.Target{URLID: 9, URL: "https://pitchfork.com/staff/jane/"},
	}}, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRunsInTransaction(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	stmts := createStatements()
	require.Equal(t, eventSequenceDDL, stmts[len(stmts)-1])
	for _, stmt := range stmts {
		mock.ExpectExec(regexp.QuoteMeta(stmt)).WillReturnResult(pgxmock.NewResult("CREATE", 0))
	}
	mock.ExpectCommit()

	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchemaRollsBack(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entities").WillReturnError(errors.New("permission denied"))
	mock.ExpectRollback()

	require.ErrorContains(t, store.EnsureSchema(context.Background()), "permission denied")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExecScript(t *testing.T) {
	t.Parallel()

	store, mock := newMockStore(t)
	script := "UPDATE reviews SET body = NULL WHERE body = '';"
	mock.ExpectExec(regexp.QuoteMeta(script)).WillReturnResult(pgxmock.NewResult("UPDATE", 3))

	require.NoError(t, store.ExecScript(context.Background(), script))
	require.NoError(t, store.ExecScript(context.Background(), "\n"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDialect(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BIGINT", dialect{}.Type(schema.Integer))
	require.Equal(t, "DOUBLE PRECISION", dialect{}.Type(schema.Real))
	require.Equal(t, "TEXT", dialect{}.Type(schema.Text))
	require.Equal(t, "$3", dialect{}.Placeholder(3))
}

func TestNewRequiresDSN(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), Config{}, nil)
	require.Error(t, err)
	_, err = NewWithPool(nil, nil)
	require.Error(t, err)
}
