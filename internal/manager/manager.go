// Package manager implements the Worker Manager (C4): a bounded LRU
// cache of compiled *flow.FlowExecutor values keyed by published-API
// id, with an idle-TTL reaper and at-most-one-build-per-key
// construction semantics. It is constructed explicitly by
// cmd/server/main.go and passed by reference everywhere it is needed —
// per spec §9's Design Note, this is not an ambient package-level
// singleton the way the teacher's internal/worker/core registry is.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/flowforge/flowexec/internal/flow"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/robfig/cron/v3"
)

// Builder constructs a FlowExecutor for a given api id the first time
// it is requested. Implemented by the dispatch gateway's flow-
// definition resolution path.
type Builder func(ctx context.Context, apiID string) (*flow.FlowExecutor, error)

// Config mirrors spec §3's Configuration statics, overridable via the
// ambient viper-backed Config (internal/fconfig).
type Config struct {
	MaxActiveWorkers int
	InactiveTTL      time.Duration
	CleanupInterval  time.Duration
	StatsInterval    time.Duration
}

// DefaultConfig matches spec §3's stated defaults exactly.
func DefaultConfig() Config {
	return Config{
		MaxActiveWorkers: 50,
		InactiveTTL:      2 * time.Hour,
		CleanupInterval:  30 * time.Minute,
		StatsInterval:    60 * time.Minute,
	}
}

// entry is spec §3's WorkerEntry W.
type entry struct {
	apiID           string
	executor        *flow.FlowExecutor
	createdAt       time.Time
	lastUsed        time.Time
	executionCount  int64
	totalExecTime   time.Duration
}

// Manager is the Worker Manager. All bookkeeping is guarded by mu;
// executor construction itself runs outside the lock, serialized per
// key by the construction-latch map so concurrent acquires for the
// same api id coalesce into one build (spec §4.4/§9 Open Question:
// mandated regardless of how ambiguous an externally-sourced "Source"
// behavior might otherwise be).
type Manager struct {
	cfg     Config
	build   Builder
	log     zerolog.Logger
	cron    *cron.Cron

	mu       sync.Mutex
	entries  map[string]*entry
	building map[string]chan struct{} // api id -> closed when the in-flight build finishes
	buildErr map[string]error

	metrics managerMetrics
}

type managerMetrics struct {
	cacheSize  prometheus.Gauge
	executions prometheus.Counter
	evictions  prometheus.Counter
	reaped     prometheus.Counter
}

// New constructs a Manager and starts its background reaper and stats
// jobs as cron entries (grounded on the teacher's credential-cache
// StartCleanupRoutine ticker pattern, generalized to cron.Scheduler
// per SPEC_FULL's ambient-stack choice so both periodic jobs share one
// Stop()-drains-on-shutdown lifecycle).
func New(cfg Config, build Builder, log zerolog.Logger, reg *prometheus.Registry) (*Manager, error) {
	m := &Manager{
		cfg:      cfg,
		build:    build,
		log:      log,
		entries:  make(map[string]*entry),
		building: make(map[string]chan struct{}),
		buildErr: make(map[string]error),
		cron:     cron.New(),
		metrics: managerMetrics{
			cacheSize:  promauto.With(reg).NewGauge(prometheus.GaugeOpts{Name: "flowexec_worker_cache_size", Help: "Number of cached flow executors."}),
			executions: promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "flowexec_worker_total_executions", Help: "Total node-flow executions served from the worker cache."}),
			evictions:  promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "flowexec_worker_evictions_total", Help: "Total LRU evictions."}),
			reaped:     promauto.With(reg).NewCounter(prometheus.CounterOpts{Name: "flowexec_worker_idle_reaped_total", Help: "Total entries removed by the idle-TTL reaper."}),
		},
	}

	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.CleanupInterval), m.reapIdle); err != nil {
		return nil, fmt.Errorf("manager: schedule cleanup: %w", err)
	}
	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", cfg.StatsInterval), m.logStats); err != nil {
		return nil, fmt.Errorf("manager: schedule stats: %w", err)
	}
	m.cron.Start()

	return m, nil
}

// Shutdown stops the background jobs, waiting for a running reap or
// stats job to finish or for ctx to end. It does not wait for
// in-flight Acquire calls.
func (m *Manager) Shutdown(ctx context.Context) {
	stopCtx := m.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
}

// Acquire returns the cached executor for apiID, building it on first
// use. Concurrent Acquire calls for the same apiID share a single
// build. A failed build never leaves a partial entry in the cache.
func (m *Manager) Acquire(ctx context.Context, apiID string) (*flow.FlowExecutor, error) {
	for {
		m.mu.Lock()
		if e, ok := m.entries[apiID]; ok {
			e.lastUsed = time.Now()
			m.mu.Unlock()
			return e.executor, nil
		}
		if ch, building := m.building[apiID]; building {
			m.mu.Unlock()
			select {
			case <-ch:
				continue // retry: either the entry now exists, or the build failed
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		ch := make(chan struct{})
		m.building[apiID] = ch
		m.mu.Unlock()

		executor, err := m.build(ctx, apiID)

		m.mu.Lock()
		delete(m.building, apiID)
		if err != nil {
			m.buildErr[apiID] = err
			close(ch)
			m.mu.Unlock()
			return nil, err
		}
		m.insertLocked(apiID, executor)
		close(ch)
		m.mu.Unlock()
		return executor, nil
	}
}

// insertLocked adds a freshly built executor to the cache, evicting
// the least-recently-used entry (ties broken by oldest createdAt)
// first if the cache is at capacity. Called with mu held.
func (m *Manager) insertLocked(apiID string, executor *flow.FlowExecutor) {
	if len(m.entries) >= m.cfg.MaxActiveWorkers {
		m.evictOneLocked()
	}
	now := time.Now()
	m.entries[apiID] = &entry{apiID: apiID, executor: executor, createdAt: now, lastUsed: now}
	m.metrics.cacheSize.Set(float64(len(m.entries)))
}

func (m *Manager) evictOneLocked() {
	var victim *entry
	for _, e := range m.entries {
		if victim == nil || e.lastUsed.Before(victim.lastUsed) ||
			(e.lastUsed.Equal(victim.lastUsed) && e.createdAt.Before(victim.createdAt)) {
			victim = e
		}
	}
	if victim != nil {
		delete(m.entries, victim.apiID)
		m.metrics.evictions.Inc()
	}
}

// RecordExecution updates usage bookkeeping for one invocation served
// by the cached executor for apiID. Called by the dispatch gateway
// after Invoke returns.
func (m *Manager) RecordExecution(apiID string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[apiID]; ok {
		e.executionCount++
		e.totalExecTime += d
		e.lastUsed = time.Now()
	}
	m.metrics.executions.Inc()
}

// ForceRemove evicts apiID's cached executor unconditionally (used by
// the admin-only /execute/worker/{api_id}/reload route).
func (m *Manager) ForceRemove(apiID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, apiID)
	m.metrics.cacheSize.Set(float64(len(m.entries)))
}

// ClearAll empties the cache.
func (m *Manager) ClearAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
	m.metrics.cacheSize.Set(0)
}

// EntryInfo is the externally visible shape of one WorkerEntry.
type EntryInfo struct {
	APIID          string        `json:"api_id"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUsed       time.Time     `json:"last_used"`
	ExecutionCount int64         `json:"execution_count"`
	TotalExecTime  time.Duration `json:"total_execution_time"`
}

// GetEntryInfo returns bookkeeping for one cached entry, if present.
func (m *Manager) GetEntryInfo(apiID string) (EntryInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[apiID]
	if !ok {
		return EntryInfo{}, false
	}
	return toEntryInfo(e), true
}

// GetAllInfo returns bookkeeping for every cached entry.
func (m *Manager) GetAllInfo() []EntryInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EntryInfo, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, toEntryInfo(e))
	}
	return out
}

func toEntryInfo(e *entry) EntryInfo {
	return EntryInfo{
		APIID: e.apiID, CreatedAt: e.createdAt, LastUsed: e.lastUsed,
		ExecutionCount: e.executionCount, TotalExecTime: e.totalExecTime,
	}
}

// Stats is spec §4.4's get_manager_stats response shape.
type Stats struct {
	TotalWorkers      int           `json:"total_workers"`
	ActiveInLastHour  int           `json:"active_in_last_hour"`
	TotalExecutions   int64         `json:"total_executions"`
	TotalExecTime     time.Duration `json:"total_execution_time"`
	OldestEntryAge    time.Duration `json:"oldest_entry_age"`
	NewestEntryAge    time.Duration `json:"newest_entry_age"`
}

// GetManagerStats computes spec §4.4's aggregate cache statistics.
func (m *Manager) GetManagerStats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	var stats Stats
	stats.TotalWorkers = len(m.entries)
	var oldest, newest time.Time
	for _, e := range m.entries {
		stats.TotalExecutions += e.executionCount
		stats.TotalExecTime += e.totalExecTime
		if now.Sub(e.lastUsed) <= time.Hour {
			stats.ActiveInLastHour++
		}
		if oldest.IsZero() || e.createdAt.Before(oldest) {
			oldest = e.createdAt
		}
		if newest.IsZero() || e.createdAt.After(newest) {
			newest = e.createdAt
		}
	}
	if !oldest.IsZero() {
		stats.OldestEntryAge = now.Sub(oldest)
		stats.NewestEntryAge = now.Sub(newest)
	}
	return stats
}

// reapIdle removes every entry whose idle time exceeds InactiveTTL. It
// runs as a single cron entry; cron.New() installs no job wrapper, so
// overlapping runs are serialized only by holding m.mu for the whole
// pass.
func (m *Manager) reapIdle() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for id, e := range m.entries {
		if now.Sub(e.lastUsed) > m.cfg.InactiveTTL {
			delete(m.entries, id)
			m.metrics.reaped.Inc()
		}
	}
	m.metrics.cacheSize.Set(float64(len(m.entries)))
}

func (m *Manager) logStats() {
	stats := m.GetManagerStats()
	m.log.Info().
		Int("total_workers", stats.TotalWorkers).
		Int("active_in_last_hour", stats.ActiveInLastHour).
		Int64("total_executions", stats.TotalExecutions).
		Dur("total_execution_time", stats.TotalExecTime).
		Msg("worker manager stats")
}
