package cmd

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/app"
	"github.com/JakeFAU/pitchfork-crawler/internal/config"
)

type testFactory struct {
	mu   sync.Mutex
	cfg  config.Config
	apps []*app.App
}

func newTestFactory(t *testing.T, baseURL string) *testFactory {
	t.Helper()
	f := &testFactory{cfg: config.Config{
		Store: config.StoreConfig{Driver: config.DriverSQLite, Path: filepath.Join(t.TempDir(), "crawl.db")},
		Site:  config.SiteConfig{BaseURL: baseURL, FirstYear: 2020, LastYear: 2021},
		Fetch: config.FetchConfig{
			Timeout:    2 * time.Second,
			MaxRetries: 1,
			Burst:      1,
		},
		Workers: config.WorkersConfig{Size: 2, RetryCeiling: 0},
		Scripts: config.ScriptsConfig{Dir: t.TempDir(), Skip: []string{"Create Tables"}},
		Clock:   config.ClockConfig{Timezone: "UTC"},
		Server:  config.ServerConfig{Addr: "127.0.0.1:0", RequestsPerMinute: 10},
	}}
	t.Cleanup(func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		for _, a := range f.apps {
			_ = a.Close()
		}
	})
	return f
}

func (f *testFactory) build(ctx context.Context, _ string) (*app.App, error) {
	a, err := app.New(ctx, f.cfg, zap.NewNop())
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.apps = append(f.apps, a)
	f.mu.Unlock()
	return a, nil
}

func execute(t *testing.T, f *testFactory, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(f.build)
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRootCmd_RegistersSubcommands(t *testing.T) {
	t.Parallel()

	root := newRootCmd(defaultFactory)
	var names []string
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"run", "sitemap", "reviews", "authors", "scripts", "failures", "serve"} {
		require.Contains(t, names, want)
	}
	require.NotNil(t, root.PersistentFlags().Lookup("config"))
}

func TestResolveApp_NotInitialized(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.ErrorContains(t, err, "not initialized")
}

func TestDefaultFactory_BadConfigPath(t *testing.T) {
	t.Parallel()

	_, err := defaultFactory(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorContains(t, err, "load config")
}

func TestReviewsThenFailures(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)
	f := newTestFactory(t, srv.URL)
	broken := srv.URL + "/reviews/albums/broken-album/"

	_, err := execute(t, f, "reviews", "--url", broken)
	require.Error(t, err)

	out, err := execute(t, f, "failures")
	require.NoError(t, err)
	require.Contains(t, out, broken)
	require.Len(t, strings.Split(strings.TrimSpace(out), "\n"), 1)
}

func TestSitemapCmd_RejectsInvertedRange(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, "https://pitchfork.com")

	_, err := execute(t, f, "sitemap", "--from", "2021", "--to", "2020")
	require.ErrorContains(t, err, "is after")
}

func TestScriptsCmd_UsesArgumentDir(t *testing.T) {
	t.Parallel()

	f := newTestFactory(t, "https://pitchfork.com")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "10 Marker.sql"), []byte("CREATE TABLE marker (id INTEGER);"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "20 Broken.sql"), []byte("NOT SQL AT ALL;"), 0o600))

	_, err := execute(t, f, "scripts", dir)
	require.ErrorContains(t, err, "20 Broken.sql")
}

func TestServe_StopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv, zap.NewNop()) }()

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServe_ListenError(t *testing.T) {
	t.Parallel()

	srv := &http.Server{Addr: "127.0.0.1:-1", Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	err := serve(context.Background(), srv, zap.NewNop())
	require.ErrorContains(t, err, "http server")
}
