// Package scheduler runs periodic refresh jobs that keep the snapshot cache warm.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job refreshes one snapshot.
type Job func(ctx context.Context) error

// Scheduler manages cron jobs for cache refreshes
type Scheduler struct {
	cron    *cron.Cron
	logger  zerolog.Logger
	timeout time.Duration

	mu   sync.Mutex
	jobs map[string]Job
	ctx  context.Context
}

// New creates a scheduler. Each job run is bounded by timeout.
func New(logger zerolog.Logger, timeout time.Duration) *Scheduler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Scheduler{
		cron:    cron.New(),
		logger:  logger.With().Str("component", "scheduler").Logger(),
		timeout: timeout,
		jobs:    make(map[string]Job),
		ctx:     context.Background(),
	}
}

// Add registers job under name on a standard five-field cron spec. An empty
// spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, job Job) error {
	if spec == "" {
		s.logger.Debug().Str("job", name).Msg("Refresh job disabled")
		return nil
	}

	_, err := s.cron.AddFunc(spec, func() { s.run(name, job) })
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, spec, err)
	}

	s.mu.Lock()
	s.jobs[name] = job
	s.mu.Unlock()

	s.logger.Info().Str("job", name).Str("spec", spec).Msg("Refresh job scheduled")
	return nil
}

// Jobs returns the registered job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for n := range s.jobs {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Start starts the scheduler. Job contexts derive from ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop stops the scheduler and waits for running jobs.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Prewarm runs every registered job once, sequentially.
func (s *Scheduler) Prewarm() {
	for _, name := range s.Jobs() {
		s.mu.Lock()
		job := s.jobs[name]
		s.mu.Unlock()
		s.run(name, job)
	}
}

func (s *Scheduler) run(name string, job Job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("job", name).Interface("panic", r).Msg("Refresh job panicked")
		}
	}()

	s.mu.Lock()
	parent := s.ctx
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(parent, s.timeout)
	defer cancel()

	start := time.Now()
	if err := job(ctx); err != nil {
		s.logger.Warn().Err(err).Str("job", name).Msg("Refresh failed")
		return
	}
	s.logger.Debug().Str("job", name).Dur("took", time.Since(start)).Msg("Refreshed")
}
