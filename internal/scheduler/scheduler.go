package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ibvi/lead-enrich/internal/enrich"
	"github.com/ibvi/lead-enrich/internal/model"
	"github.com/ibvi/lead-enrich/internal/store"
)

// Processor runs one enrichment attempt; implemented by enrich.Orchestrator.
type Processor interface {
	ProcessLead(ctx context.Context, lead model.Lead) (*model.EnrichmentRecord, error)
	ProcessRecord(ctx context.Context, rec model.EnrichmentRecord) (*model.EnrichmentRecord, error)
}

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StateStopped State = "stopped"
)

// Config tunes batch sizes and pacing.
type Config struct {
	BatchSize      int
	RetryBatchSize int
	InterLeadDelay time.Duration
	Bands          *BandTable
	Policy         enrich.RetryPolicy
}

// Status is the operator-facing snapshot.
type Status struct {
	State            State         `json:"state"`
	CurrentBand      string        `json:"current_band"`
	CurrentInterval  time.Duration `json:"current_interval"`
	NextRunAt        time.Time     `json:"next_run_at"`
	LastCycleAt      *time.Time    `json:"last_cycle_at,omitempty"`
	LastCycleLeads   int           `json:"last_cycle_leads"`
	LastCycleRetries int           `json:"last_cycle_retries"`
	CyclesRun        int           `json:"cycles_run"`
	CyclesSkipped    int           `json:"cycles_skipped"`
}

// Scheduler polls storage on a time-of-day adaptive interval and feeds leads
// to the processor one at a time. Processing is deliberately sequential with
// a fixed delay between leads; the downstream services are rate limited per
// second and parallel dispatch would trip them.
type Scheduler struct {
	store     store.Store
	processor Processor
	cfg       Config
	nowFunc   func() time.Time

	mu      sync.Mutex
	state   State
	running bool
	status  Status
}

func New(st store.Store, processor Processor, cfg Config) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.RetryBatchSize <= 0 {
		cfg.RetryBatchSize = 50
	}
	if cfg.Bands == nil {
		cfg.Bands = DefaultBands()
	}
	return &Scheduler{
		store:     st,
		processor: processor,
		cfg:       cfg,
		nowFunc:   time.Now,
		state:     StateIdle,
	}
}

// Run blocks, alternating sleep and cycle until the context is cancelled.
// The interval is recomputed from the band table before every sleep, so a
// process that crosses a band boundary adopts the new pace on its next wake.
func (s *Scheduler) Run(ctx context.Context) error {
	zap.L().Info("scheduler: starting")
	defer func() {
		s.mu.Lock()
		s.state = StateStopped
		s.mu.Unlock()
		zap.L().Info("scheduler: stopped")
	}()

	for {
		interval, band := s.cfg.Bands.IntervalAt(s.nowFunc())
		s.mu.Lock()
		s.status.CurrentBand = band
		s.status.CurrentInterval = interval
		s.status.NextRunAt = s.nowFunc().Add(interval)
		s.mu.Unlock()

		zap.L().Debug("scheduler: sleeping",
			zap.String("band", band),
			zap.Duration("interval", interval))

		timer := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		s.RunCycle(ctx)
	}
}

// TriggerNow runs a cycle immediately. It shares the single-flight guard
// with scheduled wake-ups: a trigger during a running cycle is skipped.
// Returns false if the cycle was skipped.
func (s *Scheduler) TriggerNow(ctx context.Context) bool {
	return s.RunCycle(ctx)
}

// RunCycle executes one cycle unless one is already in flight. Overlap means
// a cycle overran the shortest interval; that is logged and observed, not
// queued.
func (s *Scheduler) RunCycle(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.status.CyclesSkipped++
		s.mu.Unlock()
		zap.L().Warn("scheduler: cycle already in progress, skipping")
		return false
	}
	s.running = true
	s.state = StateRunning
	s.mu.Unlock()

	leads, retries := s.cycle(ctx)

	now := s.nowFunc().UTC()
	s.mu.Lock()
	s.running = false
	s.state = StateIdle
	s.status.LastCycleAt = &now
	s.status.LastCycleLeads = leads
	s.status.LastCycleRetries = retries
	s.status.CyclesRun++
	s.mu.Unlock()
	return true
}

func (s *Scheduler) cycle(ctx context.Context) (leadCount, retryCount int) {
	log := zap.L()
	start := s.nowFunc()

	leads, err := s.store.ListUnenrichedLeads(ctx, s.cfg.BatchSize)
	if err != nil {
		log.Error("scheduler: list unenriched leads", zap.Error(err))
	}
	for _, lead := range leads {
		if ctx.Err() != nil {
			return leadCount, retryCount
		}
		if _, err := s.processor.ProcessLead(ctx, lead); err != nil {
			log.Error("scheduler: process lead", zap.String("lead_id", lead.ID), zap.Error(err))
		}
		leadCount++
		s.pause(ctx)
	}

	candidates, err := s.store.ListRetryCandidates(ctx, s.cfg.Policy.MaxRetries, s.cfg.RetryBatchSize)
	if err != nil {
		log.Error("scheduler: list retry candidates", zap.Error(err))
	}
	now := s.nowFunc()
	for _, rec := range candidates {
		if ctx.Err() != nil {
			return leadCount, retryCount
		}
		if !s.cfg.Policy.IsEligible(&rec, now) {
			continue
		}
		if _, err := s.processor.ProcessRecord(ctx, rec); err != nil {
			log.Error("scheduler: process retry", zap.String("lead_id", rec.LeadID), zap.Error(err))
		}
		retryCount++
		s.pause(ctx)
	}

	log.Info("scheduler: cycle finished",
		zap.Int("leads", leadCount),
		zap.Int("retries", retryCount),
		zap.Duration("elapsed", s.nowFunc().Sub(start)))
	return leadCount, retryCount
}

func (s *Scheduler) pause(ctx context.Context) {
	if s.cfg.InterLeadDelay <= 0 {
		return
	}
	timer := time.NewTimer(s.cfg.InterLeadDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Status returns the current operator snapshot.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.State = s.state
	return st
}
