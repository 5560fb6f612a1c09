package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	slogctx "github.com/veqryn/slog-context"
	"gitlab.com/tozd/go/errors"
	"golang.org/x/sync/singleflight"

	"github.com/abramin/namelens/internal/mapping"
)

// ErrNoVersionLister is returned when Latest is requested but the cache has
// no way to order versions.
var ErrNoVersionLister = errors.Base("no version lister configured")

// maxFailed caps the failed entries that never published a dataset. The
// oldest failures are forgotten first.
const maxFailed = 32

type entry struct {
	state     State
	dataset   atomic.Pointer[mapping.Dataset]
	reloading bool
	// key is the singleflight key of the current build. It changes with every
	// build so a caller can never join a flight that already finished.
	key      string
	lastErr  error
	failedAt time.Time
	builds   int
}

// Cache holds one dataset per version and guarantees at most one build per
// version is in flight.
//
// Thread Safety:
//
//	Cache is safe for concurrent use. mu guards the entry map and every
//	state transition. Published datasets are immutable and read through an
//	atomic pointer, so READY lookups never block on a build or reload.
//	Build hooks run in order on a background goroutine, never on the path
//	that wakes the callers of a build.
type Cache struct {
	mu      sync.Mutex
	entries map[string]*entry
	flight  singleflight.Group
	// seq numbers builds across every version so flight keys never repeat,
	// even after an entry is dropped and recreated.
	seq     int
	builder Builder
	opts    Options

	// inflight counts running builds and queued hook calls.
	inflight sync.WaitGroup

	hookMu      sync.Mutex
	hookQueue   []hookCall
	hookRunning bool
}

type hookCall struct {
	ctx context.Context
	ev  BuildEvent
}

// New creates a Cache that builds datasets with b.
func New(b Builder, opts ...Option) *Cache {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return &Cache{
		entries: make(map[string]*entry),
		builder: b,
		opts:    o,
	}
}

// Resolve maps Latest (or an empty string) to the newest known version and
// returns any other string unchanged.
func (c *Cache) Resolve(ctx context.Context, versionOrAlias string) (string, error) {
	if versionOrAlias != Latest && versionOrAlias != "" {
		return versionOrAlias, nil
	}
	if c.opts.Versions == nil {
		return "", ErrNoVersionLister
	}
	v, err := c.opts.Versions.LatestVersion(ctx)
	if err != nil {
		return "", errors.Errorf("resolving latest version: %w", err)
	}
	return v, nil
}

// Lookup queries the dataset for versionOrAlias, building it first if
// needed. It never blocks on a build: the returned Future completes
// immediately when the dataset is READY, and otherwise once the build the
// lookup started or joined finishes.
func (c *Cache) Lookup(ctx context.Context, t mapping.Type, name, versionOrAlias string) *Future {
	f := newFuture()

	if versionOrAlias != Latest && versionOrAlias != "" {
		if ds := c.ready(versionOrAlias); ds != nil {
			f.complete(versionOrAlias, ds, ds.Lookup(t, name), nil)
			return f
		}
	}

	go func() {
		version, err := c.Resolve(ctx, versionOrAlias)
		if err != nil {
			f.complete(versionOrAlias, nil, nil, err)
			return
		}
		ds, err := c.await(ctx, version, c.acquire(ctx, version))
		if err != nil {
			f.complete(version, nil, nil, err)
			return
		}
		f.complete(version, ds, ds.Lookup(t, name), nil)
	}()
	return f
}

// GetOrBuild returns the dataset for version, starting or joining a build
// if it is not READY. Cancelling ctx abandons the wait, not the build.
func (c *Cache) GetOrBuild(ctx context.Context, version string) (*mapping.Dataset, error) {
	return c.await(ctx, version, c.acquire(ctx, version))
}

// Reload builds a replacement dataset for version and publishes it in one
// pointer swap. The old dataset keeps serving until then and stays published
// if the rebuild fails. A reload requested while a build for the same
// version is in flight joins that build.
func (c *Cache) Reload(ctx context.Context, version string) (*mapping.Dataset, error) {
	c.mu.Lock()
	e := c.entryLocked(version)
	var ch <-chan singleflight.Result
	if e.state == StateBuilding || e.reloading {
		c.opts.Metrics.lookup(pathJoined)
		ch = c.joinLocked(ctx, version, e)
	} else {
		ch = c.startLocked(ctx, version, e)
	}
	c.mu.Unlock()

	return c.await(ctx, version, ch)
}

// Invalidate drops the published dataset for version so the next lookup
// rebuilds it. It reports false when there is nothing to drop or a build
// for the version is in flight.
func (c *Cache) Invalidate(version string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[version]
	if !ok || e.state != StateReady || e.reloading {
		return false
	}
	delete(c.entries, version)
	c.opts.Metrics.setDatasets(c.readyCountLocked())
	return true
}

// State returns the current state of version.
func (c *Cache) State(version string) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[version]; ok {
		return e.state
	}
	return StateUnbuilt
}

// Statuses returns a snapshot of every known version, sorted by version.
func (c *Cache) Statuses() []Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Status, 0, len(c.entries))
	for version, e := range c.entries {
		st := Status{
			Version:   version,
			State:     e.state,
			Reloading: e.reloading,
			FailedAt:  e.failedAt,
			Builds:    e.builds,
		}
		if ds := e.dataset.Load(); ds != nil {
			stats := ds.Stats()
			st.Stats = &stats
		}
		if e.lastErr != nil {
			st.LastError = e.lastErr.Error()
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out
}

func (c *Cache) ready(version string) *mapping.Dataset {
	c.mu.Lock()
	e, ok := c.entries[version]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	ds := e.dataset.Load()
	if ds != nil {
		c.opts.Metrics.lookup(pathReady)
	}
	return ds
}

// acquire returns a channel that yields the dataset for version. READY
// entries are answered on an already-filled channel.
func (c *Cache) acquire(ctx context.Context, version string) <-chan singleflight.Result {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entryLocked(version)
	switch e.state {
	case StateReady:
		c.opts.Metrics.lookup(pathReady)
		ch := make(chan singleflight.Result, 1)
		ch <- singleflight.Result{Val: e.dataset.Load()}
		return ch
	case StateBuilding:
		c.opts.Metrics.lookup(pathJoined)
		return c.joinLocked(ctx, version, e)
	default:
		c.opts.Metrics.lookup(pathBuilt)
		return c.startLocked(ctx, version, e)
	}
}

func (c *Cache) entryLocked(version string) *entry {
	e, ok := c.entries[version]
	if !ok {
		e = &entry{}
		c.entries[version] = e
	}
	return e
}

// joinLocked attaches to the build in flight for e. The build cannot finish
// while mu is held, so the flight is still registered under e.key.
func (c *Cache) joinLocked(ctx context.Context, version string, e *entry) <-chan singleflight.Result {
	return c.flight.DoChan(e.key, c.buildFunc(ctx, version, e, e.reloading))
}

// startLocked moves e to BUILDING (or marks a READY entry as reloading) and
// launches the build on its own goroutine.
func (c *Cache) startLocked(ctx context.Context, version string, e *entry) <-chan singleflight.Result {
	reload := e.state == StateReady
	if reload {
		e.reloading = true
	} else {
		e.state = StateBuilding
	}
	c.seq++
	e.key = fmt.Sprintf("%s#%d", version, c.seq)
	c.inflight.Add(1)

	slog.DebugContext(ctx, "starting dataset build", "version", version, "reload", reload, "sequence", c.seq)
	return c.flight.DoChan(e.key, c.buildFunc(ctx, version, e, reload))
}

func (c *Cache) buildFunc(ctx context.Context, version string, e *entry, reload bool) func() (any, error) {
	// The build outlives the request that started it.
	bctx := slogctx.With(context.WithoutCancel(ctx), "version", version)

	return func() (any, error) {
		defer c.inflight.Done()

		start := time.Now()
		ds, err := c.builder.Build(bctx, version)
		elapsed := time.Since(start)

		c.mu.Lock()
		e.builds++
		e.reloading = false
		if err != nil {
			e.lastErr = err
			e.failedAt = time.Now()
			if e.dataset.Load() == nil {
				e.state = StateFailed
				c.forgetFailedLocked(version, e)
			}
		} else {
			e.dataset.Store(ds)
			e.state = StateReady
			e.lastErr = nil
		}
		c.opts.Metrics.setDatasets(c.readyCountLocked())
		c.mu.Unlock()

		ev := BuildEvent{Version: version, Reload: reload, Err: err, Duration: elapsed}
		if err != nil {
			slog.WarnContext(bctx, "dataset build failed", "reload", reload, "duration", elapsed, "error", err)
		} else {
			stats := ds.Stats()
			ev.Stats = &stats
			slog.InfoContext(bctx, "dataset published", "reload", reload, "build_id", ds.BuildID(), "duration", elapsed)
		}
		c.opts.Metrics.build(ev)
		if c.opts.OnBuilt != nil {
			c.queueHook(bctx, ev)
		}

		if err != nil {
			return nil, err
		}
		return ds, nil
	}
}

// forgetFailedLocked keeps the entry map from growing with versions that
// never built. An unknown version leaves nothing behind, and at most
// maxFailed other failures are remembered.
func (c *Cache) forgetFailedLocked(version string, e *entry) {
	if mapping.IsNoSuchVersion(e.lastErr) {
		if c.entries[version] == e {
			delete(c.entries, version)
		}
		return
	}

	var failed []string
	for v, fe := range c.entries {
		if fe.state == StateFailed && fe.dataset.Load() == nil {
			failed = append(failed, v)
		}
	}
	if len(failed) <= maxFailed {
		return
	}
	sort.Slice(failed, func(i, j int) bool {
		return c.entries[failed[i]].failedAt.Before(c.entries[failed[j]].failedAt)
	})
	for _, v := range failed[:len(failed)-maxFailed] {
		delete(c.entries, v)
	}
}

// queueHook hands ev to the build hook without blocking the build's callers.
// Hooks see events in the order builds finished.
func (c *Cache) queueHook(ctx context.Context, ev BuildEvent) {
	c.inflight.Add(1)
	c.hookMu.Lock()
	defer c.hookMu.Unlock()
	c.hookQueue = append(c.hookQueue, hookCall{ctx: ctx, ev: ev})
	if !c.hookRunning {
		c.hookRunning = true
		go c.runHooks()
	}
}

func (c *Cache) runHooks() {
	for {
		c.hookMu.Lock()
		if len(c.hookQueue) == 0 {
			c.hookRunning = false
			c.hookMu.Unlock()
			return
		}
		call := c.hookQueue[0]
		c.hookQueue = c.hookQueue[1:]
		c.hookMu.Unlock()

		c.opts.OnBuilt(call.ctx, call.ev)
		c.inflight.Done()
	}
}

// Drain waits until every running build and queued build hook has finished,
// or ctx is done. Call it after lookups have stopped and before closing what
// the hooks write to.
func (c *Cache) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Cache) await(ctx context.Context, version string, ch <-chan singleflight.Result) (*mapping.Dataset, error) {
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		ds, ok := res.Val.(*mapping.Dataset)
		if !ok || ds == nil {
			return nil, errors.Errorf("build for %s produced no dataset", version)
		}
		return ds, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) readyCountLocked() int {
	n := 0
	for _, e := range c.entries {
		if e.dataset.Load() != nil {
			n++
		}
	}
	return n
}
