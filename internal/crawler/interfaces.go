package crawler

import (
	"context"
	"time"

	"github.com/JakeFAU/pitchfork-crawler/internal/registry"
)

// RecordWriter persists a single record.
type RecordWriter interface {
	Insert(ctx context.Context, rec Record) error
}

// EventLogger appends to the scraping-event log.
type EventLogger interface {
	LogEvent(ctx context.Context, ev ScrapingEvent) error
}

// Store is the durable store behind the crawler.
type Store interface {
	RecordWriter
	EventLogger
	// Snapshot reads every persisted natural key and its surrogate id.
	Snapshot(ctx context.Context) (registry.Snapshot, error)
	// ReviewTargets lists every known album review page.
	ReviewTargets(ctx context.Context) ([]Target, error)
	// AuthorTargets lists every known author with its profile page.
	AuthorTargets(ctx context.Context) ([]AuthorTarget, error)
	// UnresolvedFailures lists album review pages whose latest event has the given process.
	UnresolvedFailures(ctx context.Context, process string) ([]Target, error)
	// ExecScript runs an arbitrary batch of statements.
	ExecScript(ctx context.Context, script string) error
	Close() error
}

// IDs is the slice of the registry the extractors rely on.
type IDs interface {
	LookupOrCreate(ns registry.Namespace, key string) (isNew bool, id int64)
	Claim(set registry.SetName, key string) bool
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
