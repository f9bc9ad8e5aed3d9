// Package coordinator owns the in-memory snapshot and serializes every
// mutation against the storage backend.
//
// It enforces at most one in-flight backend write system-wide: a mutate
// arriving while a write is in progress parks on a condition variable until
// the gate frees (no busy-wait, no ordering guarantee among waiters). Reads
// never block on the gate — they always return the most recently committed
// cache, possibly momentarily stale during an in-flight write.
//
// Typical usage:
//
//	c := coordinator.New(ctx, backend, coordinator.Options{})
//	go c.Run(ctx)
//	snap := c.Read(ctx)
//	committed, err := c.Mutate(ctx, func(s *snapshot.Snapshot) error { ... })
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
)

// Options tunes the coordinator behaviour.
type Options struct {
	// MaxAttempts is the save attempt budget per mutate. Default: 3.
	MaxAttempts int
	// Backoff is the fixed wait between save attempts. Default: 100ms.
	Backoff time.Duration
	// StaleAfter is the cache age past which Read kicks an asynchronous
	// refresh. Default: 4m.
	StaleAfter time.Duration
	// RefreshEvery is the background refresh period used by Run. Default: 5m.
	RefreshEvery time.Duration
	// Logger overrides the default slog logger.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
	if o.StaleAfter <= 0 {
		o.StaleAfter = 4 * time.Minute
	}
	if o.RefreshEvery <= 0 {
		o.RefreshEvery = 5 * time.Minute
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Coordinator mediates between the API layer and a storage backend.
type Coordinator struct {
	backend storage.Backend
	opts    Options

	mu       sync.Mutex
	cond     *sync.Cond
	cache    snapshot.Snapshot
	gen      uint64    // bumped under mu on every cache install
	loadedAt time.Time // last time the cache was confirmed against the backend
	writing  bool      // the single-writer gate

	refreshing atomic.Bool // collapses overlapping refresh triggers

	reads     atomic.Int64
	mutates   atomic.Int64
	commits   atomic.Int64
	retries   atomic.Int64
	failures  atomic.Int64
	refreshes atomic.Int64
}

// New creates a Coordinator and performs the initial load. A missing or
// corrupt document degrades to an empty snapshot; an unavailable backend
// starts empty and lets the refresh loop recover. Startup never fails on
// backend state.
func New(ctx context.Context, backend storage.Backend, opts Options) *Coordinator {
	opts.defaults()
	c := &Coordinator{backend: backend, opts: opts}
	c.cond = sync.NewCond(&c.mu)

	snap, err := backend.Load(ctx)
	switch {
	case err == nil:
		c.cache = snap
		c.loadedAt = time.Now()
	case errors.Is(err, storage.ErrNotFound):
		opts.Logger.Info("no persisted document, starting empty")
		c.cache = snapshot.Empty()
		c.loadedAt = time.Now()
	case errors.Is(err, storage.ErrCorrupt):
		opts.Logger.Warn("persisted document corrupt, starting empty", "error", err)
		c.cache = snapshot.Empty()
		c.loadedAt = time.Now()
	default:
		opts.Logger.Warn("backend unavailable at startup, starting empty", "error", err)
		c.cache = snapshot.Empty()
		// loadedAt stays zero so the first Read triggers a refresh.
	}
	return c
}

// Read returns a deep copy of the last committed snapshot. It never blocks
// on the backend; when the cache is older than StaleAfter and no write is
// in flight, it kicks one asynchronous refresh.
func (c *Coordinator) Read(_ context.Context) snapshot.Snapshot {
	c.reads.Add(1)
	c.mu.Lock()
	snap := c.cache.Clone()
	age := time.Since(c.loadedAt)
	writing := c.writing
	c.mu.Unlock()

	if age > c.opts.StaleAfter && !writing && c.refreshing.CompareAndSwap(false, true) {
		go func() {
			defer c.refreshing.Store(false)
			c.refresh(context.Background())
		}()
	}
	return snap
}

// Mutate applies fn to a working copy of the latest committed snapshot and
// persists the result, committing the cache only on confirmed success.
//
// fn must be deterministic over its input: on a write conflict the
// coordinator reloads the latest document and reapplies fn to it. An error
// from fn aborts before any backend call. On exhausted retries the cache is
// left exactly as it was and the error is returned.
func (c *Coordinator) Mutate(ctx context.Context, fn func(*snapshot.Snapshot) error) (snapshot.Snapshot, error) {
	c.mutates.Add(1)
	if err := c.acquire(ctx); err != nil {
		return snapshot.Snapshot{}, err
	}
	defer c.release()

	c.mu.Lock()
	working := c.cache.Clone()
	c.mu.Unlock()

	if err := fn(&working); err != nil {
		return snapshot.Snapshot{}, err
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		attempts = attempt
		err := c.backend.Save(ctx, working)
		if err == nil {
			c.mu.Lock()
			c.cache = working.Clone()
			c.gen++
			c.loadedAt = time.Now()
			c.mu.Unlock()
			c.commits.Add(1)
			return working, nil
		}
		lastErr = err

		if errors.Is(err, storage.ErrConflict) {
			// Someone else moved the document. Rerun the read-transform-write
			// cycle against the latest state, still within the attempt budget.
			fresh, lerr := c.backend.Load(ctx)
			if lerr == nil {
				if ferr := fn(&fresh); ferr != nil {
					return snapshot.Snapshot{}, ferr
				}
				working = fresh
			} else {
				c.opts.Logger.Warn("reload after conflict failed",
					"attempt", attempt, "error", lerr)
			}
		}

		if ctx.Err() != nil || attempt == c.opts.MaxAttempts {
			break
		}
		c.retries.Add(1)
		c.opts.Logger.Warn("save failed, retrying",
			"attempt", attempt, "max_attempts", c.opts.MaxAttempts, "error", err)
		if serr := sleepCtx(ctx, c.opts.Backoff); serr != nil {
			break
		}
	}

	c.failures.Add(1)
	c.opts.Logger.Error("mutation abandoned, cache unchanged",
		"attempts", attempts, "error", lastErr)
	return snapshot.Snapshot{}, fmt.Errorf("coordinator: save failed after %d attempts: %w",
		attempts, lastErr)
}

// Run drives the periodic background refresh until ctx is cancelled. A tick
// that overlaps an in-flight write or refresh is skipped, not deferred.
func (c *Coordinator) Run(ctx context.Context) {
	t := time.NewTicker(c.opts.RefreshEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if c.refreshing.CompareAndSwap(false, true) {
				c.refresh(ctx)
				c.refreshing.Store(false)
			}
		}
	}
}

// refresh reloads the document and replaces the cache. Any failure keeps
// the last good cache (log-only): reads must always have something to serve.
// A cache commit that lands while the load is in flight wins over the loaded
// snapshot, which by then is older than what the cache holds.
func (c *Coordinator) refresh(ctx context.Context) {
	c.mu.Lock()
	if c.writing {
		c.mu.Unlock()
		return
	}
	before := c.gen
	c.mu.Unlock()

	snap, err := c.backend.Load(ctx)
	if err != nil {
		c.opts.Logger.Warn("refresh failed, serving cached snapshot", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writing || c.gen != before {
		// A write started or committed while we were loading; its state is
		// newer than what we just read.
		return
	}
	c.cache = snap
	c.gen++
	c.loadedAt = time.Now()
	c.refreshes.Add(1)
}

// acquire blocks until the write gate is free, then claims it. It respects
// ctx cancellation while parked on the condition variable.
func (c *Coordinator) acquire(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.cond.Broadcast()
		case <-done:
		}
	}()

	c.mu.Lock()
	defer c.mu.Unlock()
	for c.writing {
		if err := ctx.Err(); err != nil {
			return err
		}
		c.cond.Wait()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	c.writing = true
	return nil
}

func (c *Coordinator) release() {
	c.mu.Lock()
	c.writing = false
	c.mu.Unlock()
	c.cond.Broadcast()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
