// Package fetcher wraps a single-attempt transport with bounded retries,
// failure logging and document parsing.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/xmlquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/pitchfork-crawler/internal/crawler"
	"github.com/JakeFAU/pitchfork-crawler/internal/metrics"
	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
	"github.com/JakeFAU/pitchfork-crawler/internal/telemetry"
)

// ErrConnection is returned once every attempt for a URL has failed.
var ErrConnection = errors.New("couldn't establish connection")

// Transport performs one HTTP GET.
type Transport interface {
	Get(ctx context.Context, url string) (crawler.FetchResponse, error)
}

// Limiter paces attempts per host.
type Limiter interface {
	Wait(ctx context.Context, url string) error
}

// Store receives placeholder URLs and scraping events.
type Store interface {
	crawler.RecordWriter
	crawler.EventLogger
}

// Format selects how a successful body is parsed.
type Format int

const (
	// FormatHTML parses the body as lenient markup.
	FormatHTML Format = iota
	// FormatXML parses the body as strict XML.
	FormatXML
)

func (f Format) String() string {
	if f == FormatXML {
		return "xml"
	}
	return "html"
}

// Document is a fetched and parsed page. Exactly one of HTML and XML is set.
type Document struct {
	URL    string
	URLID  int64
	Format Format
	HTML   *goquery.Document
	XML    *xmlquery.Node
}

// Fetcher issues GETs with a fixed retry policy.
type Fetcher struct {
	transport Transport
	ids       crawler.IDs
	store     Store
	limiter   Limiter
	clock     crawler.Clock
	policy    crawler.FixedRetryPolicy
	logger    *zap.Logger
	tracer    trace.Tracer
	sleep     func(context.Context, time.Duration) error
}

// New constructs a Fetcher. limiter may be nil.
func New(
	transport Transport,
	ids crawler.IDs,
	store Store,
	limiter Limiter,
	clock crawler.Clock,
	policy crawler.FixedRetryPolicy,
	logger *zap.Logger,
) *Fetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fetcher{
		transport: transport,
		ids:       ids,
		store:     store,
		limiter:   limiter,
		clock:     clock,
		policy:    policy,
		logger:    logger.Named("fetcher"),
		tracer:    telemetry.Tracer("fetcher"),
		sleep:     sleepCtx,
	}
}

// Fetch retrieves url, retrying per the policy. Every failed attempt writes a
// "Connection failed" event; exhausting the policy writes a terminal event and
// returns ErrConnection. A URL new to the registry gets a placeholder row
// before the first attempt, so every id in the event log is persisted.
func (f *Fetcher) Fetch(ctx context.Context, url string, format Format) (doc *Document, err error) {
	ctx, span := f.tracer.Start(ctx, "fetch", trace.WithAttributes(
		attribute.String("url.full", url),
		attribute.String("fetch.format", format.String()),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	return f.fetch(ctx, span, url, format)
}

func (f *Fetcher) fetch(ctx context.Context, span trace.Span, url string, format Format) (*Document, error) {
	isNew, urlID := f.ids.LookupOrCreate(registry.URLs, url)
	if isNew {
		if err := f.store.Insert(ctx, crawler.NewURL(urlID, url)); err != nil {
			f.logger.Warn("placeholder url insert failed", zap.String("url", url), zap.Error(err))
		}
	}
	site := metrics.SanitizeSite(url)

	var lastErr error
	for attempt := 1; ; attempt++ {
		resp, err := f.attempt(ctx, url)
		if err == nil {
			metrics.ObserveFetch(site, "success", len(resp.Body))
			return f.parse(ctx, url, urlID, format, resp.Body)
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, ctx.Err())
		}
		lastErr = err
		metrics.ObserveFetch(site, "failure", 0)
		span.AddEvent("attempt failed", trace.WithAttributes(
			attribute.Int("fetch.attempt", attempt),
			attribute.String("error", err.Error()),
		))

		f.logEvent(ctx, urlID, crawler.ProcessConnectionFailed, err.Error())
		f.logger.Debug("fetch attempt failed",
			zap.String("url", url),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		if !f.policy.ShouldRetry(err, attempt) {
			break
		}
		if err := f.sleep(ctx, f.policy.Backoff(attempt)); err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
	}

	f.logEvent(ctx, urlID, crawler.ProcessConnectionAbandoned, lastErr.Error())
	f.logger.Warn("giving up on url", zap.String("url", url), zap.Error(lastErr))
	return nil, fmt.Errorf("fetch %s: %w: %w", url, ErrConnection, lastErr)
}

func (f *Fetcher) attempt(ctx context.Context, url string) (crawler.FetchResponse, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx, url); err != nil {
			return crawler.FetchResponse{}, err
		}
	}
	resp, err := f.transport.Get(ctx, url)
	if err != nil {
		return crawler.FetchResponse{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return crawler.FetchResponse{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return resp, nil
}

func (f *Fetcher) parse(ctx context.Context, url string, urlID int64, format Format, body []byte) (*Document, error) {
	doc := &Document{URL: url, URLID: urlID, Format: format}
	var err error
	switch format {
	case FormatXML:
		doc.XML, err = xmlquery.Parse(bytes.NewReader(body))
	default:
		doc.HTML, err = goquery.NewDocumentFromReader(bytes.NewReader(body))
	}
	if err != nil {
		f.logEvent(ctx, urlID, crawler.ProcessDocumentParse, err.Error())
		return nil, fmt.Errorf("parse %s as %s: %w", url, format, err)
	}
	return doc, nil
}

func (f *Fetcher) logEvent(ctx context.Context, urlID int64, process, message string) {
	ev := crawler.ScrapingEvent{
		Timestamp: f.clock.Now(),
		URLID:     urlID,
		Process:   process,
		Message:   message,
	}
	if err := f.store.LogEvent(ctx, ev); err != nil {
		f.logger.Error("log scraping event", zap.String("process", process), zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
