package coordinator_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/linkdeck/coordinator"
	"github.com/hazyhaar/linkdeck/snapshot"
	"github.com/hazyhaar/linkdeck/storage"
)

// fakeBackend is an in-memory storage.Backend with failure injection.
type fakeBackend struct {
	mu    sync.Mutex
	doc   snapshot.Snapshot
	has   bool
	loads int
	saves int

	failSaves     int   // fail this many saves before succeeding
	saveErr       error // error used for injected failures (default ErrUnavailable)
	conflictSaves int   // reject this many saves with ErrConflict
	blockSave     chan struct{}
}

func (f *fakeBackend) Load(context.Context) (snapshot.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	if !f.has {
		return snapshot.Snapshot{}, storage.ErrNotFound
	}
	return f.doc.Clone(), nil
}

func (f *fakeBackend) Save(_ context.Context, snap snapshot.Snapshot) error {
	if f.blockSave != nil {
		<-f.blockSave
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.conflictSaves > 0 {
		f.conflictSaves--
		return storage.ErrConflict
	}
	if f.failSaves > 0 {
		f.failSaves--
		if f.saveErr != nil {
			return f.saveErr
		}
		return storage.ErrUnavailable
	}
	f.doc = snap.Clone()
	f.has = true
	return nil
}

func (f *fakeBackend) stats() (loads, saves int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.loads, f.saves
}

func (f *fakeBackend) document() snapshot.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.doc.Clone()
}

func newCoordinator(t *testing.T, b storage.Backend, opts coordinator.Options) *coordinator.Coordinator {
	t.Helper()
	if opts.Backoff == 0 {
		opts.Backoff = time.Millisecond
	}
	return coordinator.New(context.Background(), b, opts)
}

func addLink(id, name string) func(*snapshot.Snapshot) error {
	return func(s *snapshot.Snapshot) error {
		s.AddLink(snapshot.Link{
			ID:        id,
			Name:      name,
			URL:       "http://example.com/" + id,
			CreatedAt: time.Now().UTC(),
		}, "act_"+id, 50)
		return nil
	}
}

func TestMutateCommitsCacheAndBackend(t *testing.T) {
	b := &fakeBackend{}
	c := newCoordinator(t, b, coordinator.Options{})

	committed, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs"))
	if err != nil {
		t.Fatal(err)
	}
	if len(committed.Links) != 1 {
		t.Fatalf("committed links = %d, want 1", len(committed.Links))
	}
	if got := c.Read(context.Background()); len(got.Links) != 1 {
		t.Fatalf("cached links = %d, want 1", len(got.Links))
	}
	if doc := b.document(); len(doc.Links) != 1 {
		t.Fatalf("persisted links = %d, want 1", len(doc.Links))
	}
}

func TestMutateFailureLeavesCacheUnchanged(t *testing.T) {
	b := &fakeBackend{failSaves: 1000}
	c := newCoordinator(t, b, coordinator.Options{MaxAttempts: 3})

	before := c.Read(context.Background())
	_, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs"))
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	after := c.Read(context.Background())
	if len(after.Links) != len(before.Links) || len(after.Activities) != len(before.Activities) {
		t.Fatal("cache changed after failed mutate")
	}
	if _, saves := b.stats(); saves != 3 {
		t.Fatalf("saves = %d, want 3 (attempt budget)", saves)
	}
}

func TestMutateRetriesThenSucceeds(t *testing.T) {
	b := &fakeBackend{failSaves: 2}
	c := newCoordinator(t, b, coordinator.Options{MaxAttempts: 3})

	if _, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs")); err != nil {
		t.Fatal(err)
	}
	if _, saves := b.stats(); saves != 3 {
		t.Fatalf("saves = %d, want 3", saves)
	}
	if got := c.Read(context.Background()); len(got.Links) != 1 {
		t.Fatalf("cached links = %d, want 1", len(got.Links))
	}
}

func TestMutateConflictRerunsTransformOnFreshState(t *testing.T) {
	// The backend already holds a link written by "someone else" and rejects
	// the first save, as a revision-checked store would.
	external := snapshot.Empty()
	external.AddLink(snapshot.Link{ID: "lnk_ext", Name: "External", URL: "http://ext", CreatedAt: time.Now()}, "act_ext", 50)
	b := &fakeBackend{doc: external, has: true, conflictSaves: 1}

	c := newCoordinator(t, b, coordinator.Options{MaxAttempts: 3})
	committed, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs"))
	if err != nil {
		t.Fatal(err)
	}
	if committed.FindLink("lnk_ext") < 0 || committed.FindLink("lnk_1") < 0 {
		t.Fatalf("committed = %+v, want both external and new link", committed.Links)
	}
}

func TestDomainErrorAbortsBeforeBackend(t *testing.T) {
	b := &fakeBackend{}
	c := newCoordinator(t, b, coordinator.Options{})

	boom := errors.New("nope")
	_, err := c.Mutate(context.Background(), func(*snapshot.Snapshot) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want the transform error", err)
	}
	if _, saves := b.stats(); saves != 0 {
		t.Fatalf("saves = %d, want 0", saves)
	}
}

func TestConcurrentMutatesLoseNoUpdates(t *testing.T) {
	b := &fakeBackend{}
	c := newCoordinator(t, b, coordinator.Options{})

	const writers = 10
	var wg sync.WaitGroup
	errs := make([]error, writers)
	for i := 0; i < writers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			id := fmt.Sprintf("lnk_%d", i)
			_, errs[i] = c.Mutate(context.Background(), addLink(id, id))
		}()
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("writer %d: %v", i, err)
		}
	}

	final := c.Read(context.Background())
	if len(final.Links) != writers {
		t.Fatalf("cached links = %d, want %d", len(final.Links), writers)
	}
	seen := map[string]int{}
	for _, l := range final.Links {
		seen[l.ID]++
	}
	for i := 0; i < writers; i++ {
		id := fmt.Sprintf("lnk_%d", i)
		if seen[id] != 1 {
			t.Fatalf("link %s appears %d times, want exactly once", id, seen[id])
		}
	}
	if doc := b.document(); len(doc.Links) != writers {
		t.Fatalf("persisted links = %d, want %d", len(doc.Links), writers)
	}
}

func TestMutateWaiterRespectsCancellation(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{blockSave: release}
	c := newCoordinator(t, b, coordinator.Options{})

	started := make(chan struct{})
	go func() {
		close(started)
		c.Mutate(context.Background(), addLink("lnk_slow", "Slow"))
	}()
	<-started
	// Give the first mutate time to claim the gate and park in Save.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Mutate(ctx, addLink("lnk_2", "Second"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	close(release)
}

func TestReadReturnsIndependentCopy(t *testing.T) {
	b := &fakeBackend{}
	c := newCoordinator(t, b, coordinator.Options{})
	if _, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs")); err != nil {
		t.Fatal(err)
	}

	got := c.Read(context.Background())
	got.Links[0].Name = "tampered"
	got.Links = got.Links[:0]

	again := c.Read(context.Background())
	if len(again.Links) != 1 || again.Links[0].Name != "Docs" {
		t.Fatalf("cache affected by caller mutation: %+v", again.Links)
	}
}

func TestStartupDegradesToEmptyOnCorrupt(t *testing.T) {
	b := &corruptBackend{}
	c := newCoordinator(t, b, coordinator.Options{})
	got := c.Read(context.Background())
	if len(got.Links) != 0 || got.Links == nil {
		t.Fatalf("cache = %+v, want empty non-nil", got.Links)
	}
}

type corruptBackend struct{}

func (corruptBackend) Load(context.Context) (snapshot.Snapshot, error) {
	return snapshot.Snapshot{}, storage.ErrCorrupt
}
func (corruptBackend) Save(context.Context, snapshot.Snapshot) error { return nil }

func TestStaleReadTriggersAsyncRefresh(t *testing.T) {
	seeded := snapshot.Empty()
	seeded.AddLink(snapshot.Link{ID: "lnk_new", Name: "New", URL: "http://n", CreatedAt: time.Now()}, "act_n", 50)
	b := &fakeBackend{doc: seeded, has: false} // nothing persisted at startup

	c := newCoordinator(t, b, coordinator.Options{StaleAfter: time.Nanosecond})

	// Make the seeded document visible to later loads.
	b.mu.Lock()
	b.has = true
	b.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.Read(context.Background()); len(got.Links) == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("stale read never refreshed the cache")
}

// lagBackend serves a point-in-time copy of the document: when armed, Load
// captures the current state and then parks until released, modeling a slow
// backend read that straddles a concurrent write.
type lagBackend struct {
	mu      sync.Mutex
	doc     snapshot.Snapshot
	failing bool

	loadStarted chan struct{}
	loadRelease chan struct{}
}

func (b *lagBackend) Load(context.Context) (snapshot.Snapshot, error) {
	b.mu.Lock()
	if b.failing {
		b.mu.Unlock()
		return snapshot.Snapshot{}, storage.ErrUnavailable
	}
	snap := b.doc.Clone()
	started, release := b.loadStarted, b.loadRelease
	b.mu.Unlock()
	if started != nil {
		started <- struct{}{}
		<-release
	}
	return snap, nil
}

func (b *lagBackend) Save(_ context.Context, snap snapshot.Snapshot) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = snap.Clone()
	return nil
}

func TestRefreshOverlappingCommitDoesNotRegressCache(t *testing.T) {
	b := &lagBackend{doc: snapshot.Empty(), failing: true}
	c := newCoordinator(t, b, coordinator.Options{StaleAfter: time.Hour})

	b.mu.Lock()
	b.failing = false
	b.loadStarted = make(chan struct{})
	b.loadRelease = make(chan struct{})
	b.mu.Unlock()

	// The startup load failed, so the first read finds an ancient cache and
	// kicks a background refresh that parks inside Load holding the pre-write
	// (empty) document.
	c.Read(context.Background())
	<-b.loadStarted

	// A full mutate runs to completion while that load is still in flight.
	if _, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs")); err != nil {
		t.Fatal(err)
	}
	if got := c.Read(context.Background()); len(got.Links) != 1 {
		t.Fatalf("cached links = %d, want 1 after commit", len(got.Links))
	}

	close(b.loadRelease)

	// The released refresh must discard the pre-write document, not install it.
	deadline := time.Now().Add(500 * time.Millisecond)
	for time.Now().Before(deadline) {
		if got := c.Read(context.Background()); len(got.Links) != 1 {
			t.Fatalf("cached links = %d, want 1 (commit lost to stale refresh)", len(got.Links))
		}
		time.Sleep(5 * time.Millisecond)
	}
	if h := c.Health(); h.Stats.Refreshes != 0 {
		t.Fatalf("refreshes = %d, want 0 (overtaken load discarded, not installed)", h.Stats.Refreshes)
	}
}

func TestMutateCancelledMidRetryReportsActualAttempts(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{failSaves: 1000, blockSave: release}
	c := newCoordinator(t, b, coordinator.Options{MaxAttempts: 3})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Mutate(ctx, addLink("lnk_1", "Docs"))
		done <- err
	}()
	// Let the mutate park in Save, then cancel before releasing it: the retry
	// loop must stop after that single attempt and say so.
	time.Sleep(20 * time.Millisecond)
	cancel()
	close(release)

	err := <-done
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
	if !strings.Contains(err.Error(), "after 1 attempts") {
		t.Fatalf("err = %v, want the single attempt reported, not the budget", err)
	}
	if _, saves := b.stats(); saves != 1 {
		t.Fatalf("saves = %d, want 1", saves)
	}
}

func TestHealthReportsFreshnessAndCounters(t *testing.T) {
	b := &fakeBackend{}
	c := newCoordinator(t, b, coordinator.Options{StaleAfter: time.Hour})

	if _, err := c.Mutate(context.Background(), addLink("lnk_1", "Docs")); err != nil {
		t.Fatal(err)
	}
	c.Read(context.Background())

	h := c.Health()
	if h.Status != "ok" {
		t.Fatalf("status = %q, want ok", h.Status)
	}
	if h.Links != 1 {
		t.Fatalf("links = %d, want 1", h.Links)
	}
	if h.Stats.Commits != 1 || h.Stats.Mutates != 1 {
		t.Fatalf("stats = %+v", h.Stats)
	}
	if h.Stats.Reads < 1 {
		t.Fatalf("reads = %d, want >= 1", h.Stats.Reads)
	}
}
