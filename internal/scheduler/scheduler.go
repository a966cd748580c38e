// Package scheduler drives the full-sync and update loops.
//
// Each loop runs one cycle immediately, then sleeps for its interval or until
// triggered. A cycle runs under its own deadline and a recover boundary, so a
// failing or panicking cycle is logged and the loop keeps going.
package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/release-notifier/internal/catalog"
	"github.com/JakeFAU/release-notifier/internal/fanout"
	"github.com/JakeFAU/release-notifier/internal/logging"
	"github.com/JakeFAU/release-notifier/internal/metrics"
	"github.com/JakeFAU/release-notifier/internal/telemetry"
)

// Loop names used in logs, metrics and status.
const (
	LoopFullSync = "full_sync"
	LoopUpdates  = "updates"
)

// Cycle outcomes.
const (
	OutcomeOK      = "ok"
	OutcomeAborted = "aborted"
	OutcomeError   = "error"
	OutcomePanic   = "panic"
)

// FullSyncer crawls the whole catalog.
type FullSyncer interface {
	FullSync(ctx context.Context) (catalog.SyncSummary, error)
}

// FeedScanner reads the latest-updates feed.
type FeedScanner interface {
	Scan(ctx context.Context) ([]catalog.FeedEntry, error)
}

// ChangeDetector records new episodes.
type ChangeDetector interface {
	Detect(ctx context.Context, entries []catalog.FeedEntry) ([]catalog.NewEpisode, error)
}

// Deliverer notifies subscribers.
type Deliverer interface {
	Deliver(ctx context.Context, episodes []catalog.NewEpisode) fanout.Report
}

// ItemLister supplies the item set for the search index.
type ItemLister interface {
	ListItems(ctx context.Context) ([]catalog.Item, error)
}

// Config sets loop cadence.
type Config struct {
	FullSyncInterval time.Duration
	UpdateInterval   time.Duration
	CycleTimeout     time.Duration
}

// Deps groups the collaborators of both loops. Indexer and IDs may be nil.
type Deps struct {
	Crawler  FullSyncer
	Items    ItemLister
	Indexer  catalog.Indexer
	Scanner  FeedScanner
	Detector ChangeDetector
	Fanout   Deliverer
	IDs      catalog.IDGenerator
	Logger   *zap.Logger
}

// LoopStatus is a snapshot of one loop.
type LoopStatus struct {
	Running      bool      `json:"running"`
	Runs         int64     `json:"runs"`
	Failures     int64     `json:"failures"`
	LastCycleID  string    `json:"last_cycle_id,omitempty"`
	LastStarted  time.Time `json:"last_started,omitempty"`
	LastFinished time.Time `json:"last_finished,omitempty"`
	LastOutcome  string    `json:"last_outcome,omitempty"`
	LastError    string    `json:"last_error,omitempty"`
	NextRun      time.Time `json:"next_run,omitempty"`
	Items        int64     `json:"items,omitempty"`
	Episodes     int64     `json:"episodes,omitempty"`
	Delivered    int64     `json:"delivered,omitempty"`
	Failed       int64     `json:"failed,omitempty"`
}

// Status reports both loops.
type Status struct {
	FullSync LoopStatus `json:"full_sync"`
	Updates  LoopStatus `json:"updates"`
}

type loop struct {
	name     string
	interval time.Duration
	trigger  chan struct{}
	cycle    func(ctx context.Context, logger *zap.Logger, st *LoopStatus) (string, error)

	mu     sync.Mutex
	status LoopStatus
}

// Scheduler owns the two loops.
type Scheduler struct {
	cfg     Config
	deps    Deps
	logger  *zap.Logger
	seq     atomic.Int64
	full    *loop
	updates *loop
}

// New validates cfg and deps.
func New(cfg Config, deps Deps) (*Scheduler, error) {
	if cfg.FullSyncInterval <= 0 || cfg.UpdateInterval <= 0 {
		return nil, fmt.Errorf("scheduler intervals must be > 0")
	}
	if deps.Crawler == nil || deps.Scanner == nil || deps.Detector == nil || deps.Fanout == nil {
		return nil, fmt.Errorf("crawler, scanner, detector and fanout are required")
	}
	if cfg.CycleTimeout <= 0 {
		cfg.CycleTimeout = 30 * time.Minute
	}
	s := &Scheduler{
		cfg:    cfg,
		deps:   deps,
		logger: logging.OrNop(deps.Logger).Named("scheduler"),
	}
	s.full = &loop{name: LoopFullSync, interval: cfg.FullSyncInterval, trigger: make(chan struct{}, 1), cycle: s.fullSyncCycle}
	s.updates = &loop{name: LoopUpdates, interval: cfg.UpdateInterval, trigger: make(chan struct{}, 1), cycle: s.updateCycle}
	return s, nil
}

// Run starts both loops and blocks until ctx is cancelled and both have returned.
func (s *Scheduler) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, l := range []*loop{s.full, s.updates} {
		wg.Add(1)
		go func(l *loop) {
			defer wg.Done()
			s.runLoop(ctx, l)
		}(l)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

// TriggerFullSync wakes the full-sync loop. Triggers coalesce while a cycle is pending.
func (s *Scheduler) TriggerFullSync() bool {
	return trigger(s.full)
}

// TriggerUpdates wakes the update loop.
func (s *Scheduler) TriggerUpdates() bool {
	return trigger(s.updates)
}

func trigger(l *loop) bool {
	select {
	case l.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// RunOnce runs a single cycle of the named loop synchronously and returns its status.
func (s *Scheduler) RunOnce(ctx context.Context, name string) (LoopStatus, error) {
	var l *loop
	switch name {
	case LoopFullSync:
		l = s.full
	case LoopUpdates:
		l = s.updates
	default:
		return LoopStatus{}, fmt.Errorf("unknown loop %q", name)
	}
	s.runCycle(ctx, l)
	st := l.snapshot()
	if st.LastError != "" {
		return st, fmt.Errorf("%s cycle: %s", name, st.LastError)
	}
	return st, nil
}

// Status returns a snapshot of both loops.
func (s *Scheduler) Status() Status {
	return Status{FullSync: s.full.snapshot(), Updates: s.updates.snapshot()}
}

func (l *loop) snapshot() LoopStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (s *Scheduler) runLoop(ctx context.Context, l *loop) {
	s.logger.Info("loop started", zap.String("loop", l.name), zap.Duration("interval", l.interval))
	for {
		s.runCycle(ctx, l)

		l.mu.Lock()
		l.status.NextRun = time.Now().Add(l.interval).UTC()
		l.mu.Unlock()

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		case <-l.trigger:
			timer.Stop()
			s.logger.Info("loop triggered", zap.String("loop", l.name))
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context, l *loop) {
	if ctx.Err() != nil {
		return
	}
	cycleID := s.nextCycleID()
	log := s.logger.With(zap.String("loop", l.name), zap.String("cycle_id", cycleID))
	start := time.Now()

	l.mu.Lock()
	l.status.Running = true
	l.status.LastCycleID = cycleID
	l.status.LastStarted = start.UTC()
	l.mu.Unlock()

	var (
		outcome string
		err     error
		counts  LoopStatus
	)
	spanCtx, span := telemetry.StartSpan(ctx, "scheduler."+l.name, attribute.String("cycle_id", cycleID))
	func() {
		defer func() {
			if r := recover(); r != nil {
				outcome = OutcomePanic
				err = fmt.Errorf("panic: %v", r)
				log.Error("cycle panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			}
		}()
		cctx, cancel := context.WithTimeout(spanCtx, s.cfg.CycleTimeout)
		defer cancel()
		outcome, err = l.cycle(cctx, log, &counts)
	}()
	if err != nil && outcome == OutcomeOK {
		outcome = OutcomeError
	}
	span.SetAttributes(attribute.String("outcome", outcome))
	telemetry.EndSpan(span, err)

	elapsed := time.Since(start)
	metrics.ObserveCycle(l.name, outcome, elapsed)

	l.mu.Lock()
	l.status.Running = false
	l.status.Runs++
	l.status.LastFinished = time.Now().UTC()
	l.status.LastOutcome = outcome
	l.status.LastError = ""
	if err != nil {
		l.status.Failures++
		l.status.LastError = err.Error()
	}
	l.status.Items += counts.Items
	l.status.Episodes += counts.Episodes
	l.status.Delivered += counts.Delivered
	l.status.Failed += counts.Failed
	l.mu.Unlock()

	if err != nil && outcome != OutcomePanic {
		log.Error("cycle failed", zap.Duration("duration", elapsed), zap.Error(err))
		return
	}
	log.Info("cycle finished", zap.String("outcome", outcome), zap.Duration("duration", elapsed))
}

func (s *Scheduler) nextCycleID() string {
	if s.deps.IDs != nil {
		if id, err := s.deps.IDs.NewID(); err == nil {
			return id
		}
	}
	return "cycle-" + strconv.FormatInt(s.seq.Add(1), 10)
}

func (s *Scheduler) fullSyncCycle(ctx context.Context, log *zap.Logger, st *LoopStatus) (string, error) {
	summary, err := s.deps.Crawler.FullSync(ctx)
	if err != nil {
		return OutcomeError, fmt.Errorf("full sync: %w", err)
	}
	st.Items = int64(summary.Items)
	outcome := OutcomeOK
	if summary.Aborted {
		outcome = OutcomeAborted
	}
	log.Info("catalog synchronized",
		zap.Int("pages", summary.Pages),
		zap.Int("items", summary.Items),
		zap.Bool("aborted", summary.Aborted),
	)

	if s.deps.Indexer == nil || s.deps.Items == nil {
		return outcome, nil
	}
	items, err := s.deps.Items.ListItems(ctx)
	if err != nil {
		log.Warn("failed to list items for search index", zap.Error(err))
		return outcome, nil
	}
	if err := s.deps.Indexer.IndexItems(ctx, items); err != nil {
		log.Warn("search index refresh failed", zap.Error(err))
	}
	return outcome, nil
}

func (s *Scheduler) updateCycle(ctx context.Context, log *zap.Logger, st *LoopStatus) (string, error) {
	entries, err := s.deps.Scanner.Scan(ctx)
	if err != nil {
		if catalog.IsSourceUnavailable(err) {
			log.Warn("feed unavailable, no new episodes this cycle", zap.Error(err))
			return OutcomeAborted, nil
		}
		return OutcomeError, fmt.Errorf("scan feed: %w", err)
	}
	episodes, err := s.deps.Detector.Detect(ctx, entries)
	if err != nil {
		return OutcomeError, fmt.Errorf("detect: %w", err)
	}
	st.Episodes = int64(len(episodes))
	if len(episodes) == 0 {
		log.Debug("no new episodes", zap.Int("entries", len(entries)))
		return OutcomeOK, nil
	}
	report := s.deps.Fanout.Deliver(ctx, episodes)
	st.Delivered = int64(report.Delivered)
	st.Failed = int64(report.Failed)
	log.Info("episodes delivered",
		zap.Int("episodes", report.Episodes),
		zap.Int("delivered", report.Delivered),
		zap.Int("failed", report.Failed),
	)
	return OutcomeOK, nil
}
