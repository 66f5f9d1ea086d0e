// Package sync implements the sync engine: deciding what remote content
// is new and materializing it into the document tree.
package sync

import (
	"context"
	"log/slog"
	"time"

	"mattersync/internal/docstore"
	"mattersync/internal/metrics"
	"mattersync/internal/model"
	"mattersync/internal/settings"
)

// Fetcher retrieves the full feed, oldest-first.
type Fetcher interface {
	FetchAll(ctx context.Context, onPage func(context.Context) error) ([]model.FeedEntry, error)
}

// Engine runs one sync cycle at a time: fetch, diff, materialize.
type Engine struct {
	fetcher   Fetcher
	settings  settings.Store
	docs      docstore.Store
	mat       *Materializer
	maxWrites int
	metrics   metrics.Recorder
	log       *slog.Logger
	now       func() time.Time
}

// EngineOptions configures an Engine.
type EngineOptions struct {
	MaxWrites int
	Metrics   metrics.Recorder
	Logger    *slog.Logger
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// NewEngine creates an Engine.
func NewEngine(fetcher Fetcher, st settings.Store, docs docstore.Store, opts EngineOptions) *Engine {
	if opts.MaxWrites <= 0 {
		opts.MaxWrites = 20
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.Nop{}
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Engine{
		fetcher:   fetcher,
		settings:  st,
		docs:      docs,
		mat:       NewMaterializer(docs, opts.Now),
		maxWrites: opts.MaxWrites,
		metrics:   opts.Metrics,
		log:       opts.Logger,
		now:       opts.Now,
	}
}

// RunCycle drains available work once. It returns complete=false when
// the write budget was exhausted before all entries were processed; the
// caller is expected to resume after a cooldown without updating the
// last-sync timestamp. Heartbeats are written at the start and end of
// the cycle and around every page fetch.
func (e *Engine) RunCycle(ctx context.Context) (complete bool, err error) {
	if err := e.heartbeat(ctx); err != nil {
		return false, err
	}
	defer func() {
		if hbErr := e.heartbeat(ctx); hbErr != nil && err == nil {
			err = hbErr
		}
	}()

	entries, err := e.fetcher.FetchAll(ctx, e.heartbeat)
	if err != nil {
		return false, err
	}

	lastSync, err := e.settings.LastSync(ctx)
	if err != nil {
		return false, err
	}
	location, err := e.settings.Location(ctx)
	if err != nil {
		return false, err
	}

	e.log.Debug("cycle fetched feed", "entries", len(entries), "location", string(location))

	writes := 0
	for _, entry := range entries {
		wrote, err := e.handleEntry(ctx, entry, lastSync, location)
		if err != nil {
			return false, err
		}
		if !wrote {
			continue
		}
		e.metrics.RecordEntryWritten()
		writes++
		if writes >= e.maxWrites {
			e.log.Info("write budget exhausted", "writes", writes)
			return false, nil
		}
	}
	return true, nil
}

// handleEntry diffs one entry against the tree and materializes whatever
// is new.
func (e *Engine) handleEntry(ctx context.Context, entry model.FeedEntry, lastSync time.Time, location model.SyncLocation) (bool, error) {
	targetPage, err := e.targetPageUID(ctx, entry, location)
	if err != nil {
		return false, err
	}

	exists := func(ctx context.Context, text string) (bool, error) {
		if targetPage == "" {
			return false, nil
		}
		uid, err := e.docs.FindBlockOnPage(ctx, targetPage, text)
		if err != nil {
			return false, err
		}
		return uid != "", nil
	}

	fresh, err := newAnnotations(ctx, entry.Annotations, lastSync, exists)
	if err != nil {
		return false, err
	}

	return e.mat.MaterializeEntry(ctx, entry, fresh, location)
}

// targetPageUID resolves the page the existence check runs against:
// the article page, except under the daily-note strategy where all
// content lands on today's journal page.
func (e *Engine) targetPageUID(ctx context.Context, entry model.FeedEntry, location model.SyncLocation) (string, error) {
	if location == model.LocationDailyNote {
		return e.docs.PageUID(ctx, datePageTitle(e.now()))
	}
	return e.docs.PageUID(ctx, entry.Title)
}

func (e *Engine) heartbeat(ctx context.Context) error {
	return e.settings.SetLastHeartbeat(ctx, e.now())
}
