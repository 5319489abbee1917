// Package cache implements the keyed, stale-while-revalidate query cache that
// sits between UI consumers and the remote data source.
//
// Concurrent refreshes of one key share a single in-flight call. Every fetch
// takes a sequence number when it starts and a completion is applied only if
// it started after the data currently held, so a slow response can never
// overwrite newer data. Subscribers are notified synchronously, after the
// cache lock is released, on every state transition.
package cache

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"golang.org/x/sync/singleflight"

	"github.com/njoerd114/fuelrelay/internal/apperr"
	"github.com/njoerd114/fuelrelay/internal/retry"
)

const (
	otelScope     = "fuelrelay/cache"
	metricHits    = "fuelrelay.cache.hits"
	metricMisses  = "fuelrelay.cache.misses"
	metricFetches = "fuelrelay.cache.fetches"
	metricRetries = "fuelrelay.cache.retries"
	metricErrors  = "fuelrelay.cache.fetch_errors"
)

// Defaults applied by [New] when the corresponding option is zero.
const (
	DefaultStaleTime  = 5 * time.Minute
	DefaultExpireTime = 10 * time.Minute
)

// Status is the lifecycle state of an entry.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// FetchFunc performs one read of a resource.
type FetchFunc func(ctx context.Context) (any, error)

// Query describes how to load a key. A query that is not Enabled never calls
// Fetch.
type Query struct {
	Key     Key
	Fetch   FetchFunc
	Enabled bool
}

// Entry is a point-in-time snapshot of a cached resource. When an optimistic
// value is set, Data holds it and Optimistic is true.
type Entry struct {
	Key            Key
	Data           any
	Status         Status
	Err            error
	UpdatedAt      time.Time
	ErrorUpdatedAt time.Time
	Stale          bool
	Fetching       bool
	Optimistic     bool
}

// Listener receives entry snapshots.
type Listener func(Entry)

// Options configures a Cache.
type Options struct {
	// StaleTime is how long a successful fetch is served without refreshing.
	StaleTime time.Duration
	// ExpireTime is how long an entry without subscribers is kept after its
	// last use.
	ExpireTime time.Duration
	// Retry governs re-attempts of transient fetch failures.
	Retry retry.Policy
	// Now overrides the clock; tests only.
	Now    func() time.Time
	Logger *slog.Logger
}

type subscriber struct {
	fn     Listener
	active atomic.Bool
}

type entry struct {
	key            Key
	data           any
	hasData        bool
	status         Status
	err            error
	updatedAt      time.Time
	errorUpdatedAt time.Time
	lastUsed       time.Time

	invalidated    bool
	invalidatedSeq uint64
	appliedSeq     uint64
	lastStartSeq   uint64
	inflight       int

	optimistic    any
	hasOptimistic bool

	fetch     FetchFunc
	listeners map[uint64]*subscriber
}

// Cache is safe for concurrent use. Create one with [New].
type Cache struct {
	opts  Options
	log   *slog.Logger
	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	seq     uint64
	nextSub uint64

	cntHits    metric.Int64Counter
	cntMisses  metric.Int64Counter
	cntFetches metric.Int64Counter
	cntRetries metric.Int64Counter
	cntErrors  metric.Int64Counter
}

// New creates an empty cache. Zero options fall back to the defaults.
func New(opts Options) *Cache {
	if opts.StaleTime <= 0 {
		opts.StaleTime = DefaultStaleTime
	}
	if opts.ExpireTime <= 0 {
		opts.ExpireTime = DefaultExpireTime
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	meter := otel.Meter(otelScope)
	mustCounter := func(name, desc string) metric.Int64Counter {
		c, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			opts.Logger.Error("creating OTel counter", "name", name, "error", err)
			return noop.Int64Counter{}
		}
		return c
	}

	return &Cache{
		opts:    opts,
		log:     opts.Logger,
		entries: make(map[string]*entry),

		cntHits:    mustCounter(metricHits, "Number of reads served from fresh cache data"),
		cntMisses:  mustCounter(metricMisses, "Number of reads that found no usable data"),
		cntFetches: mustCounter(metricFetches, "Number of refreshes started"),
		cntRetries: mustCounter(metricRetries, "Number of fetch re-attempts after transient failures"),
		cntErrors:  mustCounter(metricErrors, "Number of refreshes that failed after all retries"),
	}
}

// Get returns the best-known snapshot for q without blocking. A background
// refresh starts when the entry is missing, stale, invalidated or failed.
func (c *Cache) Get(ctx context.Context, q Query) Entry {
	if !q.Enabled {
		if snap, ok := c.Peek(q.Key); ok {
			return snap
		}
		return Entry{Key: slices.Clone(q.Key), Status: StatusIdle, Stale: true}
	}

	now := c.opts.Now()
	c.mu.Lock()
	e := c.lookupLocked(q.Key, now)
	e.lastUsed = now
	if q.Fetch != nil {
		e.fetch = q.Fetch
	}
	need := c.needsRefreshLocked(e, now)
	hasData := e.hasData
	snap := c.snapshotLocked(e, now)
	c.mu.Unlock()

	c.countRead(ctx, snap)
	if need && q.Fetch != nil {
		snap.Fetching = true
		if !hasData {
			snap.Status = StatusLoading
		}
		c.refresh(ctx, q)
	}
	return snap
}

// Fetch returns fresh data for q, refreshing and waiting when the entry is
// missing or stale. On failure the returned entry still carries the last good
// data alongside the error. A not-found result is a success with nil data.
func (c *Cache) Fetch(ctx context.Context, q Query) (Entry, error) {
	if !q.Enabled || q.Fetch == nil {
		snap, _ := c.Peek(q.Key)
		snap.Key = slices.Clone(q.Key)
		return snap, nil
	}

	now := c.opts.Now()
	c.mu.Lock()
	e := c.lookupLocked(q.Key, now)
	e.lastUsed = now
	e.fetch = q.Fetch
	snap := c.snapshotLocked(e, now)
	c.mu.Unlock()

	c.countRead(ctx, snap)
	if snap.Status == StatusSuccess && !snap.Stale {
		return snap, nil
	}

	select {
	case <-ctx.Done():
		return snap, ctx.Err()
	case res := <-c.refresh(ctx, q):
		snap, _ = c.Peek(q.Key)
		if res.Err != nil && !apperr.IsNotFound(res.Err) {
			return snap, res.Err
		}
		return snap, nil
	}
}

// Invalidate marks every entry whose key starts with one of keys as stale and
// returns the number of entries matched. Matched entries that have
// subscribers refetch immediately; the rest refetch on their next read.
func (c *Cache) Invalidate(keys ...Key) int {
	type pending struct {
		snap Entry
		subs []*subscriber
		q    *Query
	}

	now := c.opts.Now()
	c.mu.Lock()
	var work []pending
	for k, e := range c.entries {
		if !matchesAny(e.key, keys) {
			continue
		}
		e.invalidated = true
		e.invalidatedSeq = c.seq
		c.group.Forget(k)

		p := pending{snap: c.snapshotLocked(e, now), subs: activeSubs(e)}
		if len(p.subs) > 0 && e.fetch != nil {
			p.q = &Query{Key: slices.Clone(e.key), Fetch: e.fetch, Enabled: true}
		}
		work = append(work, p)
	}
	c.mu.Unlock()

	for _, p := range work {
		notify(p.subs, p.snap)
		if p.q != nil {
			c.refresh(context.Background(), *p.q)
		}
	}
	if len(work) > 0 {
		c.log.Debug("cache invalidated", "keys", len(keys), "matched", len(work))
	}
	return len(work)
}

// Subscribe registers fn for every transition of q's entry and remembers q's
// fetch function so invalidation can refetch it. The returned function
// detaches fn; calling it more than once is harmless. Detaching does not
// abort an in-flight fetch.
func (c *Cache) Subscribe(q Query, fn Listener) (unsubscribe func()) {
	now := c.opts.Now()
	sub := &subscriber{fn: fn}
	sub.active.Store(true)

	c.mu.Lock()
	e := c.lookupLocked(q.Key, now)
	e.lastUsed = now
	if q.Fetch != nil && q.Enabled {
		e.fetch = q.Fetch
	}
	c.nextSub++
	id := c.nextSub
	e.listeners[id] = sub
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			sub.active.Store(false)
			c.mu.Lock()
			delete(e.listeners, id)
			e.lastUsed = c.opts.Now()
			c.mu.Unlock()
		})
	}
}

// SetOptimistic stores a local projection for key. Snapshots expose it in
// place of the authoritative data until it is cleared or the next successful
// refresh lands.
func (c *Cache) SetOptimistic(key Key, data any) {
	now := c.opts.Now()
	c.mu.Lock()
	e := c.lookupLocked(key, now)
	e.optimistic = data
	e.hasOptimistic = true
	snap, subs := c.snapshotLocked(e, now), activeSubs(e)
	c.mu.Unlock()

	notify(subs, snap)
}

// ClearOptimistic drops the local projection for key, if any.
func (c *Cache) ClearOptimistic(key Key) {
	now := c.opts.Now()
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if !ok || !e.hasOptimistic {
		c.mu.Unlock()
		return
	}
	e.optimistic = nil
	e.hasOptimistic = false
	snap, subs := c.snapshotLocked(e, now), activeSubs(e)
	c.mu.Unlock()

	notify(subs, snap)
}

// Peek returns the snapshot for key without refreshing or touching it.
func (c *Cache) Peek(key Key) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.id()]
	if !ok {
		return Entry{Key: slices.Clone(key), Status: StatusIdle, Stale: true}, false
	}
	return c.snapshotLocked(e, c.opts.Now()), true
}

// Sweep removes entries that have no subscribers, no fetch in flight and have
// not been used for ExpireTime. It returns the number removed.
func (c *Cache) Sweep() int {
	now := c.opts.Now()
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for k, e := range c.entries {
		if c.expiredLocked(e, now) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries currently held.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// --- refresh ---

// refresh starts (or joins) the in-flight fetch for q.Key. The fetch runs
// detached from ctx's cancellation so that one impatient caller does not
// abort a refresh other callers are waiting on.
func (c *Cache) refresh(ctx context.Context, q Query) <-chan singleflight.Result {
	fetchCtx := context.WithoutCancel(ctx)
	return c.group.DoChan(q.Key.id(), func() (any, error) {
		now := c.opts.Now()
		c.mu.Lock()
		e := c.lookupLocked(q.Key, now)
		// Another flight may have landed between the caller's check and now.
		if e.hasData && e.status == StatusSuccess && !e.invalidated && now.Sub(e.updatedAt) < c.opts.StaleTime {
			data := e.data
			c.mu.Unlock()
			return data, nil
		}
		c.seq++
		seq := c.seq
		e.inflight++
		e.lastStartSeq = seq
		if !e.hasData {
			e.status = StatusLoading
		}
		snap, subs := c.snapshotLocked(e, now), activeSubs(e)
		c.mu.Unlock()

		c.cntFetches.Add(fetchCtx, 1)
		c.log.Debug("cache refresh started", "key", q.Key.String(), "seq", seq)
		notify(subs, snap)

		data, err := c.fetchWithRetry(fetchCtx, q)
		c.apply(q.Key, seq, data, err)
		return data, err
	})
}

func (c *Cache) fetchWithRetry(ctx context.Context, q Query) (any, error) {
	var (
		data    any
		attempt int
	)
	err := retry.Do(ctx, c.opts.Retry, func(ctx context.Context) error {
		attempt++
		if attempt > 1 {
			c.cntRetries.Add(ctx, 1)
			c.log.Debug("retrying fetch", "key", q.Key.String(), "attempt", attempt)
		}
		d, err := q.Fetch(ctx)
		if err != nil {
			return err
		}
		data = d
		return nil
	})
	return data, err
}

// apply records the outcome of the fetch that started with seq.
func (c *Cache) apply(key Key, seq uint64, data any, err error) {
	now := c.opts.Now()
	c.mu.Lock()
	e, ok := c.entries[key.id()]
	if !ok {
		c.mu.Unlock()
		return
	}
	e.inflight--

	switch {
	case seq <= e.appliedSeq:
		c.log.Debug("discarding out-of-order fetch result", "key", key.String(), "seq", seq, "applied", e.appliedSeq)
	case err == nil || apperr.IsNotFound(err):
		if err != nil {
			data = nil
		}
		e.appliedSeq = seq
		e.data = data
		e.hasData = true
		e.status = StatusSuccess
		e.err = nil
		e.updatedAt = now
		// A fetch that started before the latest invalidation may hold
		// pre-write data, so the entry stays stale.
		e.invalidated = seq <= e.invalidatedSeq
		e.optimistic = nil
		e.hasOptimistic = false
	default:
		e.status = StatusError
		e.err = err
		e.errorUpdatedAt = now
		c.cntErrors.Add(context.Background(), 1)
		c.log.Warn("cache refresh failed", "key", key.String(), "error", err)
	}

	snap, subs := c.snapshotLocked(e, now), activeSubs(e)
	c.mu.Unlock()

	notify(subs, snap)
}

// --- helpers ---

// lookupLocked returns the entry for key, creating it when missing or when
// the existing one has expired.
func (c *Cache) lookupLocked(key Key, now time.Time) *entry {
	k := key.id()
	e, ok := c.entries[k]
	if ok && c.expiredLocked(e, now) {
		delete(c.entries, k)
		ok = false
	}
	if !ok {
		e = &entry{
			key:       slices.Clone(key),
			status:    StatusIdle,
			lastUsed:  now,
			listeners: make(map[uint64]*subscriber),
		}
		c.entries[k] = e
	}
	return e
}

func (c *Cache) expiredLocked(e *entry, now time.Time) bool {
	return len(e.listeners) == 0 && e.inflight == 0 && now.Sub(e.lastUsed) >= c.opts.ExpireTime
}

func (c *Cache) needsRefreshLocked(e *entry, now time.Time) bool {
	if e.inflight > 0 {
		// Join only a flight that started after the latest invalidation.
		return e.invalidated && e.lastStartSeq <= e.invalidatedSeq
	}
	return !e.hasData || e.invalidated || e.status == StatusError || now.Sub(e.updatedAt) >= c.opts.StaleTime
}

func (c *Cache) snapshotLocked(e *entry, now time.Time) Entry {
	s := Entry{
		Key:            slices.Clone(e.key),
		Data:           e.data,
		Status:         e.status,
		Err:            e.err,
		UpdatedAt:      e.updatedAt,
		ErrorUpdatedAt: e.errorUpdatedAt,
		Stale:          !e.hasData || e.invalidated || now.Sub(e.updatedAt) >= c.opts.StaleTime,
		Fetching:       e.inflight > 0,
	}
	if e.hasOptimistic {
		s.Data = e.optimistic
		s.Optimistic = true
	}
	return s
}

func (c *Cache) countRead(ctx context.Context, snap Entry) {
	if snap.Status == StatusSuccess && !snap.Stale {
		c.cntHits.Add(ctx, 1)
		return
	}
	c.cntMisses.Add(ctx, 1)
}

func activeSubs(e *entry) []*subscriber {
	if len(e.listeners) == 0 {
		return nil
	}
	subs := make([]*subscriber, 0, len(e.listeners))
	for _, s := range e.listeners {
		subs = append(subs, s)
	}
	return subs
}

func notify(subs []*subscriber, snap Entry) {
	for _, s := range subs {
		if s.active.Load() {
			s.fn(snap)
		}
	}
}

func matchesAny(k Key, prefixes []Key) bool {
	for _, p := range prefixes {
		if k.HasPrefix(p) {
			return true
		}
	}
	return false
}
