// Package acquisition turns one query into a merged, deduplicated and
// enriched set of property records.
// Flow: validate → cache → dispatch → merge → dedup → enrich → persist → cache
package acquisition

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"property-acquisition/internal/adapters"
	"property-acquisition/internal/cache"
	"property-acquisition/internal/domain"
	"property-acquisition/internal/events"
	"property-acquisition/internal/idhash"
	"property-acquisition/internal/observability"
	"property-acquisition/internal/storage"
)

// ErrInvalidQuery is returned by Acquire for a query without city or state.
var ErrInvalidQuery = domain.ErrInvalidQuery

// ErrClosed is returned by Acquire after Close.
var ErrClosed = errors.New("coordinator closed")

// Defaults applied by New.
const (
	DefaultAcquireTimeout    = 120 * time.Second
	DefaultFastSourceTimeout = 3 * time.Second
	DefaultCacheTTL          = 5 * time.Minute
	DefaultFastCacheTTL      = 60 * time.Second
	DefaultFastPersistLimit  = 10

	backgroundTimeout = 30 * time.Second
)

// PropertySaver persists one enriched record.
type PropertySaver interface {
	Save(ctx context.Context, r *domain.PropertyRecord) error
}

// Options for creating a Coordinator. Only Sources is required.
type Options struct {
	Sources []adapters.Source

	// Optional collaborators
	Store     PropertySaver
	Cache     cache.Cache
	Runs      storage.RunStore
	Snapshots storage.PriceSnapshotStore
	Events    events.Sink

	Logger *slog.Logger
	Now    func() time.Time
	Rand   *rand.Rand // fallback synthesis; seeded from the clock when nil

	AcquireTimeout    time.Duration // whole-call deadline of Acquire
	FastSourceTimeout time.Duration // per-source deadline of AcquireFast
	CacheTTL          time.Duration
	FastCacheTTL      time.Duration
	FastPersistLimit  int
}

// AcquireOptions control one Acquire call.
type AcquireOptions struct {
	UseCache bool
	Parallel bool
}

// Coordinator dispatches queries to sources. Safe for concurrent use.
type Coordinator struct {
	sources   []adapters.Source // every source, for Stats and Close
	full      []adapters.Source
	fast      []adapters.Source
	names     []string
	fastNames []string

	store     PropertySaver
	cache     cache.Cache
	runs      storage.RunStore
	snapshots storage.PriceSnapshotStore
	events    events.Sink

	logger *slog.Logger
	now    func() time.Time

	rngMu sync.Mutex
	rng   *rand.Rand

	acquireTimeout    time.Duration
	fastSourceTimeout time.Duration
	cacheTTL          time.Duration
	fastCacheTTL      time.Duration
	fastPersistLimit  int

	sessionStart   time.Time
	acquisitions   atomic.Int64
	cacheHits      atomic.Int64
	fallbacks      atomic.Int64
	sourceFailures atomic.Int64

	// exclusions per source name, for sources that do not count their own
	failMu   sync.Mutex
	excluded map[string]int64

	// background persistence of the fast path
	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup

	closeOnce sync.Once
	closeErr  error
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	c := &Coordinator{
		sources:           opts.Sources,
		store:             opts.Store,
		cache:             opts.Cache,
		runs:              opts.Runs,
		snapshots:         opts.Snapshots,
		events:            opts.Events,
		logger:            opts.Logger,
		now:               opts.Now,
		rng:               opts.Rand,
		acquireTimeout:    opts.AcquireTimeout,
		fastSourceTimeout: opts.FastSourceTimeout,
		cacheTTL:          opts.CacheTTL,
		fastCacheTTL:      opts.FastCacheTTL,
		fastPersistLimit:  opts.FastPersistLimit,
		excluded:          make(map[string]int64),
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("component", "acquisition")
	if c.now == nil {
		c.now = time.Now
	}
	if c.rng == nil {
		seed := uint64(c.now().UnixNano())
		c.rng = rand.New(rand.NewPCG(seed, seed>>1|1))
	}
	if c.acquireTimeout <= 0 {
		c.acquireTimeout = DefaultAcquireTimeout
	}
	if c.fastSourceTimeout <= 0 {
		c.fastSourceTimeout = DefaultFastSourceTimeout
	}
	if c.cacheTTL <= 0 {
		c.cacheTTL = DefaultCacheTTL
	}
	if c.fastCacheTTL <= 0 {
		c.fastCacheTTL = DefaultFastCacheTTL
	}
	if c.fastPersistLimit <= 0 {
		c.fastPersistLimit = DefaultFastPersistLimit
	}
	// Fast-tagged sources serve AcquireFast; the rest serve Acquire. A set
	// made only of fast sources serves both.
	for _, s := range c.sources {
		if s.Fast() {
			c.fast = append(c.fast, s)
			c.fastNames = append(c.fastNames, s.Name())
			continue
		}
		c.full = append(c.full, s)
		c.names = append(c.names, s.Name())
	}
	if len(c.full) == 0 {
		c.full = c.fast
		c.names = c.fastNames
	}
	c.sessionStart = c.now().UTC()
	return c
}

// SourceNames returns the names of the sources Acquire dispatches to.
func (c *Coordinator) SourceNames() []string {
	return append([]string(nil), c.names...)
}

// sourceResult is what one source worker hands back to the reducer.
type sourceResult struct {
	source  string
	records []domain.PropertyRecord
	err     error
}

// outcome is the reduced result of one acquisition.
type outcome struct {
	run       *domain.AcquisitionRun
	records   []domain.PropertyRecord
	saved     int
	perSource map[string]int
	errs      []string
}

// Acquire runs the full acquisition for q. An invalid query returns
// ErrInvalidQuery; source failures are logged and excluded, never returned.
func (c *Coordinator) Acquire(ctx context.Context, q domain.Query, opts AcquireOptions) ([]domain.PropertyRecord, error) {
	out, err := c.acquire(ctx, q, opts)
	if err != nil {
		return nil, err
	}
	return out.records, nil
}

func (c *Coordinator) acquire(ctx context.Context, q domain.Query, opts AcquireOptions) (*outcome, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	start := c.now()
	q = q.Normalize()
	if err := q.Validate(); err != nil {
		c.logger.Warn("rejecting query", "city", q.City, "state", q.State, "error", err)
		observability.RecordAcquisition(string(domain.ModeFull), "invalid", 0, 0)
		return nil, err
	}
	c.acquisitions.Add(1)

	run := c.newRun(domain.ModeFull, q, c.names, start)
	out := &outcome{run: run, perSource: make(map[string]int)}

	if opts.UseCache && c.cache != nil {
		cached, hit := c.cache.Get(ctx, run.CacheKey)
		observability.RecordCacheLookup(hit)
		if hit {
			c.cacheHits.Add(1)
			run.CacheHit = true
			out.records = cached
			c.finish(ctx, run, q, cached)
			return out, nil
		}
	}

	dctx, cancel := context.WithTimeout(ctx, c.acquireTimeout)
	defer cancel()
	results := c.dispatch(dctx, q, c.full, opts.Parallel, 0)

	merged := c.merge(results, out)
	records := DedupByID(merged)
	c.enrich(records)
	out.saved = c.persist(ctx, records)
	if opts.UseCache && c.cache != nil && len(records) > 0 {
		c.cache.Set(ctx, run.CacheKey, records, c.cacheTTL)
	}

	out.records = records
	c.finish(ctx, run, q, records)
	return out, nil
}

// AcquireFast runs only fast sources, each under its own deadline, and never
// fails: on error or empty result it returns a synthesized fallback set.
// Persistence happens in the background and is capped to a small batch.
func (c *Coordinator) AcquireFast(ctx context.Context, q domain.Query) []domain.PropertyRecord {
	start := c.now()
	q = q.Normalize()
	c.acquisitions.Add(1)

	run := c.newRun(domain.ModeFast, q, c.fastNames, start)
	if err := q.Validate(); err != nil {
		c.logger.Warn("fast path query invalid, synthesizing", "city", q.City, "error", err)
		return c.fallback(ctx, run, q)
	}
	if c.isClosed() || len(c.fast) == 0 {
		return c.fallback(ctx, run, q)
	}

	if c.cache != nil {
		cached, hit := c.cache.Get(ctx, run.CacheKey)
		observability.RecordCacheLookup(hit)
		if hit {
			c.cacheHits.Add(1)
			run.CacheHit = true
			c.finishAsync(ctx, run, q, cached, nil)
			return cached
		}
	}

	results := c.dispatch(ctx, q, c.fast, true, c.fastSourceTimeout)
	out := &outcome{run: run, perSource: make(map[string]int)}
	records := DedupFast(c.merge(results, out))
	if len(records) == 0 {
		return c.fallback(ctx, run, q)
	}
	c.enrich(records)

	if c.cache != nil {
		c.cache.Set(ctx, run.CacheKey, records, c.fastCacheTTL)
	}
	batch := records
	if len(batch) > c.fastPersistLimit {
		batch = batch[:c.fastPersistLimit]
	}
	c.finishAsync(ctx, run, q, records, append([]domain.PropertyRecord(nil), batch...))
	return records
}

// AcquireAndSave acquires q with caching disabled and reports what was saved.
func (c *Coordinator) AcquireAndSave(ctx context.Context, q domain.Query) (*RunSummary, error) {
	start := c.now()
	out, err := c.acquire(ctx, q, AcquireOptions{Parallel: true})
	if err != nil {
		return nil, err
	}
	return &RunSummary{
		RunID:         out.run.RunID,
		TotalAcquired: len(out.records),
		TotalSaved:    out.saved,
		Sources:       out.perSource,
		Errors:        out.errs,
		Duration:      c.now().Sub(start),
	}, nil
}

// RunSummary reports one AcquireAndSave call.
type RunSummary struct {
	RunID         string         `json:"run_id"`
	TotalAcquired int            `json:"total_acquired"`
	TotalSaved    int            `json:"total_saved"`
	Sources       map[string]int `json:"sources"` // records contributed per source
	Errors        []string       `json:"errors,omitempty"`
	Duration      time.Duration  `json:"duration_ns"`
}

// dispatch runs q against sources. Each worker writes only its own slot;
// the caller reduces the slice after every worker returned.
func (c *Coordinator) dispatch(ctx context.Context, q domain.Query, sources []adapters.Source, parallel bool, perSource time.Duration) []sourceResult {
	results := make([]sourceResult, len(sources))
	if len(sources) == 0 {
		return results
	}

	if !parallel {
		for i, s := range sources {
			if err := ctx.Err(); err != nil {
				results[i] = sourceResult{source: s.Name(), err: err}
				continue
			}
			results[i] = c.fetchOne(ctx, q, s, perSource)
		}
		return results
	}

	// A failing source must not cancel its siblings, so no WithContext here.
	var g errgroup.Group
	g.SetLimit(len(sources))
	for i, s := range sources {
		g.Go(func() error {
			results[i] = c.fetchOne(ctx, q, s, perSource)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (c *Coordinator) fetchOne(ctx context.Context, q domain.Query, s adapters.Source, timeout time.Duration) (res sourceResult) {
	res.source = s.Name()
	defer func() {
		if p := recover(); p != nil {
			res.records = nil
			res.err = fmt.Errorf("source %s panicked: %v", res.source, p)
		}
	}()

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	res.records, res.err = s.Fetch(ctx, q)
	return res
}

// merge concatenates successful results in source order.
func (c *Coordinator) merge(results []sourceResult, out *outcome) []domain.PropertyRecord {
	var merged []domain.PropertyRecord
	for _, r := range results {
		if r.err != nil {
			c.sourceFailures.Add(1)
			c.failMu.Lock()
			c.excluded[r.source]++
			c.failMu.Unlock()
			out.run.Errors++
			out.errs = append(out.errs, fmt.Sprintf("%s: %v", r.source, r.err))
			observability.RecordSourceRun(r.source, "error")
			c.logger.Warn("source failed", "source", r.source, "error", r.err)
			continue
		}
		observability.RecordSourceRun(r.source, "ok")
		out.perSource[r.source] += len(r.records)
		merged = append(merged, r.records...)
	}
	return merged
}

func (c *Coordinator) enrich(records []domain.PropertyRecord) {
	now := c.now().UTC()
	for i := range records {
		records[i].AcquiredAt = now
		records[i].ContentHash = idhash.ContentHash(records[i])
	}
}

// persist saves records best-effort and returns how many were saved.
func (c *Coordinator) persist(ctx context.Context, records []domain.PropertyRecord) int {
	if len(records) == 0 {
		return 0
	}
	saved := 0
	if c.store != nil {
		for i := range records {
			if err := c.store.Save(ctx, &records[i]); err != nil {
				c.logger.Warn("save failed", "source", records[i].Source, "id", records[i].ID, "error", err)
				continue
			}
			saved++
		}
	}
	if c.snapshots != nil {
		snaps := make([]domain.PriceSnapshot, 0, len(records))
		for _, r := range records {
			if !r.Synthetic {
				snaps = append(snaps, domain.NewPriceSnapshot(r))
			}
		}
		if len(snaps) == 0 {
			return saved
		}
		if err := c.snapshots.InsertBulk(ctx, snaps); err != nil {
			c.logger.Warn("price snapshots not recorded", "count", len(snaps), "error", err)
		}
	}
	return saved
}

func (c *Coordinator) fallback(ctx context.Context, run *domain.AcquisitionRun, q domain.Query) []domain.PropertyRecord {
	c.rngMu.Lock()
	records := Fallback(q, c.now(), c.rng)
	c.rngMu.Unlock()

	c.fallbacks.Add(1)
	observability.RecordFallback()
	run.Synthetic = true
	c.logger.Info("serving synthesized records", "city", q.City, "count", len(records))
	c.finishAsync(ctx, run, q, records, nil)
	return records
}

func (c *Coordinator) newRun(mode domain.AcquisitionMode, q domain.Query, sources []string, start time.Time) *domain.AcquisitionRun {
	return &domain.AcquisitionRun{
		RunID:     uuid.NewString(),
		Mode:      mode,
		City:      q.City,
		State:     q.State,
		CacheKey:  idhash.CacheKey(q, sources),
		Sources:   append([]string(nil), sources...),
		StartedAt: start.UTC(),
	}
}

// finish records the run, its metrics and the outcome event.
func (c *Coordinator) finish(ctx context.Context, run *domain.AcquisitionRun, q domain.Query, records []domain.PropertyRecord) {
	run.RecordsReturned = len(records)
	if run.Duration == 0 {
		run.Duration = c.now().Sub(run.StartedAt)
	}

	result := "ok"
	switch {
	case run.Synthetic:
		result = "fallback"
	case run.CacheHit:
		result = "cache_hit"
	case len(records) == 0:
		result = "empty"
	}
	observability.RecordAcquisition(string(run.Mode), result, run.Duration.Seconds(), len(records))
	c.logger.Debug("acquisition finished",
		"run_id", run.RunID, "mode", run.Mode, "result", result,
		"records", len(records), "errors", run.Errors, "duration", run.Duration)

	if c.runs != nil {
		if err := c.runs.Insert(ctx, run); err != nil {
			c.logger.Warn("run not recorded", "run_id", run.RunID, "error", err)
		}
	}

	if c.events == nil || run.CacheHit || len(records) == 0 {
		return
	}
	e := events.Event{
		Type:      events.TypeAcquired,
		RunID:     run.RunID,
		Mode:      run.Mode,
		Query:     q,
		Records:   records,
		Synthetic: run.Synthetic,
		At:        c.now().UTC(),
	}
	if run.Synthetic {
		e.Type = events.TypeFallback
	}
	if err := c.events.Publish(ctx, e); err != nil {
		c.logger.Warn("event not published", "run_id", run.RunID, "error", err)
	}
}

// finishAsync persists batch and finishes run in the background so the fast
// path never waits on storage or brokers.
func (c *Coordinator) finishAsync(ctx context.Context, run *domain.AcquisitionRun, q domain.Query, records, batch []domain.PropertyRecord) {
	run.Duration = c.now().Sub(run.StartedAt)
	records = append([]domain.PropertyRecord(nil), records...)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), backgroundTimeout)
		defer cancel()
		c.persist(bctx, batch)
		c.finish(bctx, run, q, records)
	}()
}

// Stats sums every source's counters and adds the coordinator's own. A
// source's error count is never below the number of times the coordinator
// excluded it, so failures a source does not count itself (panics, adapters
// without counters) still reach TotalErrors.
func (c *Coordinator) Stats() domain.CoordinatorStats {
	st := domain.CoordinatorStats{
		Acquisitions:   c.acquisitions.Load(),
		CacheHits:      c.cacheHits.Load(),
		Fallbacks:      c.fallbacks.Load(),
		SourceFailures: c.sourceFailures.Load(),
		SessionStart:   c.sessionStart,
		Uptime:         c.now().Sub(c.sessionStart),
		BySource:       make(map[string]domain.SourceStats, len(c.sources)),
	}
	for _, s := range c.sources {
		ss := s.Stats()
		if ss.Name == "" {
			ss.Name = s.Name()
		}
		if prev, ok := st.BySource[ss.Name]; ok {
			ss = prev.Add(ss)
		}
		st.BySource[ss.Name] = ss
	}
	c.failMu.Lock()
	for name, n := range c.excluded {
		ss, ok := st.BySource[name]
		if !ok {
			ss.Name = name
		}
		ss.ErrorsCount = max(ss.ErrorsCount, n)
		st.BySource[name] = ss
	}
	c.failMu.Unlock()

	for _, ss := range st.BySource {
		st.TotalRequests += ss.RequestsMade
		st.TotalProperties += ss.PropertiesFound
		st.TotalErrors += ss.ErrorsCount
	}
	return st
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Close waits for background persistence, then closes every source, the
// store and the event sink. Failures are joined; one failure never skips
// the remaining closes. Safe to call more than once.
func (c *Coordinator) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
		c.wg.Wait()

		var errs []error
		for _, s := range c.sources {
			if err := s.Close(); err != nil {
				c.logger.Error("source close failed", "source", s.Name(), "error", err)
				errs = append(errs, fmt.Errorf("close source %s: %w", s.Name(), err))
			}
		}
		if closer, ok := c.store.(io.Closer); ok {
			if err := closer.Close(); err != nil {
				c.logger.Error("store close failed", "error", err)
				errs = append(errs, fmt.Errorf("close store: %w", err))
			}
		}
		if c.events != nil {
			if err := c.events.Close(); err != nil {
				c.logger.Error("event sink close failed", "error", err)
				errs = append(errs, fmt.Errorf("close events: %w", err))
			}
		}
		c.closeErr = errors.Join(errs...)
	})
	return c.closeErr
}
