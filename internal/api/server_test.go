package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
)

type fakeFailures struct {
	targets []crawler.Target
	err     error
	calls   int
}

func (f *fakeFailures) Failures(context.Context) ([]crawler.Target, error) {
	f.calls++
	return f.targets, f.err
}

type fakeRegistry map[string]int

func (f fakeRegistry) Stats() map[string]int { return f }

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

func newTestServer(failures FailureLister, rpm int) *Server {
	return NewServer(
		failures,
		fakeRegistry{"urls": 12, "albums": 3},
		fakeClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)},
		Config{RequestsPerMinute: rpm},
		zap.NewNop(),
	)
}

func serve(s *Server, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_Healthz(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{}, 0), "/healthz")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"ok"`)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestServer_Failures_ListsTargets(t *testing.T) {
	t.Parallel()

	failures := &fakeFailures{targets: []crawler.Target{
		{URLID: 7, URL: "https://pitchfork.com/reviews/albums/a/"},
		{URLID: 9, URL: "https://pitchfork.com/reviews/albums/b/"},
	}}
	rec := serve(newTestServer(failures, 0), "/v1/failures")

	require.Equal(t, http.StatusOK, rec.Code)
	var body failuresResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 2, body.Count)
	require.Equal(t, int64(7), body.Targets[0].URLID)
	require.Equal(t, "2024-03-01T12:00:00Z", body.AsOf)
}

func TestServer_Failures_EmptyIsArray(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{}, 0), "/v1/failures")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"targets":[]`)
}

func TestServer_Failures_StoreError(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{err: errors.New("db down")}, 0), "/v1/failures")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "failed to list failures")
	require.NotContains(t, rec.Body.String(), "db down")
}

func TestServer_Registry(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{}, 0), "/v1/registry")

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Equal(t, 12, body["registry"]["urls"])
	require.Equal(t, 3, body["registry"]["albums"])
}

func TestServer_RateLimitsV1(t *testing.T) {
	t.Parallel()

	failures := &fakeFailures{}
	s := newTestServer(failures, 1)

	require.Equal(t, http.StatusOK, serve(s, "/v1/failures").Code)
	require.Equal(t, http.StatusTooManyRequests, serve(s, "/v1/failures").Code)
	require.Equal(t, 1, failures.calls)
	// Probes stay outside the limiter.
	require.Equal(t, http.StatusOK, serve(s, "/healthz").Code)
}

func TestServer_Metrics(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{}, 0), "/metrics")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestServer_RecoversPanics(t *testing.T) {
	t.Parallel()

	s := newTestServer(panickingFailures{}, 0)
	rec := serve(s, "/v1/failures")

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	require.Contains(t, rec.Body.String(), "internal server error")
}

type panickingFailures struct{}

func (panickingFailures) Failures(context.Context) ([]crawler.Target, error) {
	panic("boom")
}

func TestServer_UnknownRoute(t *testing.T) {
	t.Parallel()

	rec := serve(newTestServer(&fakeFailures{}, 0), "/v1/jobs")

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_CORS(t *testing.T) {
	t.Parallel()

	s := NewServer(
		&fakeFailures{},
		fakeRegistry{},
		fakeClock{},
		Config{RequestsPerMinute: 10, AllowedOrigins: []string{"https://dash.example"}},
		zap.NewNop(),
	)

	req := httptest.NewRequest(http.MethodGet, "/v1/registry", nil)
	req.Header.Set("Origin", "https://dash.example")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "https://dash.example", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/v1/registry", nil)
	req.Header.Set("Origin", "https://elsewhere.example")
	rec = httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
