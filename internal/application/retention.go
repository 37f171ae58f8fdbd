package application

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/openterra/efflux/internal/ports/output"
)

// ErrRateLimited is returned when manual sweeps are triggered too often.
var ErrRateLimited = errors.New("rate limit exceeded")

// SweepResult contains the result of one retention sweep.
type SweepResult struct {
	DirsPruned int       `json:"dirs_pruned"`
	DirsKept   int       `json:"dirs_kept"`
	SweptAt    time.Time `json:"swept_at"`
	NextAt     time.Time `json:"next_at,omitempty"`
}

// RetentionService periodically prunes request directories older than the
// configured age. Retention is opt-in; conversions are never deleted by the
// pipeline itself, only by an explicit prune call or this sweeper.
type RetentionService struct {
	workspace output.Workspace
	metrics   output.MetricsCollector
	interval  time.Duration
	maxAge    time.Duration
	logger    *slog.Logger

	// Lifecycle management
	stopCh chan struct{}
	wg     sync.WaitGroup

	// Rate limiting for API triggers
	lastAPISweep time.Time
	apiMutex     sync.Mutex

	// Prevents concurrent sweeps
	sweepMutex sync.Mutex

	// Track next scheduled sweep for reporting
	nextSweep time.Time
	nextMu    sync.RWMutex
}

// NewRetentionService creates a new retention sweeper.
func NewRetentionService(workspace output.Workspace, metrics output.MetricsCollector, interval, maxAge time.Duration, logger *slog.Logger) *RetentionService {
	return &RetentionService{
		workspace: workspace,
		metrics:   metrics,
		interval:  interval,
		maxAge:    maxAge,
		logger:    logger,
		stopCh:    make(chan struct{}),
		// Initialize to past time to allow an immediate first API call
		lastAPISweep: time.Now().Add(-31 * time.Second),
	}
}

// Enabled reports whether the sweeper is configured to run.
func (s *RetentionService) Enabled() bool {
	return s.interval > 0 && s.maxAge > 0
}

// Start begins the periodic sweep scheduler. A zero interval or max age
// disables it.
func (s *RetentionService) Start(ctx context.Context) {
	if !s.Enabled() {
		s.logger.Info("retention sweeper disabled")
		return
	}
	s.logger.Info("starting retention sweeper", "interval", s.interval, "max_age", s.maxAge)

	s.wg.Add(1)
	go s.run(ctx)
}

// run is the main sweep loop.
func (s *RetentionService) run(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.setNextSweep(time.Now().Add(s.interval))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("retention sweeper stopped: context canceled")
			return
		case <-s.stopCh:
			s.logger.Info("retention sweeper stopped")
			return
		case <-ticker.C:
			s.logger.Debug("scheduled sweep triggered")
			if _, err := s.doSweep(); err != nil {
				s.logger.Error("sweep failed", "error", err)
			}
			s.setNextSweep(time.Now().Add(s.interval))
		}
	}
}

// Stop gracefully stops the sweeper.
func (s *RetentionService) Stop() {
	if !s.Enabled() {
		return
	}
	s.logger.Info("stopping retention sweeper")
	close(s.stopCh)
	s.wg.Wait()
}

// TriggerSweep manually triggers a sweep with rate limiting. Returns
// ErrRateLimited if called more than ~2 times per minute.
func (s *RetentionService) TriggerSweep(_ context.Context) (SweepResult, error) {
	s.apiMutex.Lock()
	defer s.apiMutex.Unlock()

	// 30 second cooldown between manual sweeps
	if time.Since(s.lastAPISweep) < 30*time.Second {
		return SweepResult{}, ErrRateLimited
	}
	s.lastAPISweep = time.Now()

	return s.doSweep()
}

// doSweep prunes every request directory older than maxAge.
func (s *RetentionService) doSweep() (SweepResult, error) {
	s.sweepMutex.Lock()
	defer s.sweepMutex.Unlock()

	dirs, err := s.workspace.RequestDirs()
	if err != nil {
		return SweepResult{}, err
	}

	cutoff := time.Now().Add(-s.maxAge)
	result := SweepResult{SweptAt: time.Now(), NextAt: s.getNextSweep()}
	for _, d := range dirs {
		if d.ModTime.After(cutoff) {
			result.DirsKept++
			continue
		}
		err := s.workspace.Prune(d.Path)
		s.metrics.IncPrunes(err == nil)
		if err != nil {
			s.logger.Warn("sweep prune failed", "path", d.Path, "error", err)
			result.DirsKept++
			continue
		}
		result.DirsPruned++
	}

	if result.DirsPruned > 0 {
		s.logger.Info("sweep completed", "pruned", result.DirsPruned, "kept", result.DirsKept)
	}
	return result, nil
}

// setNextSweep updates the next scheduled sweep time.
func (s *RetentionService) setNextSweep(t time.Time) {
	s.nextMu.Lock()
	defer s.nextMu.Unlock()
	s.nextSweep = t
}

// getNextSweep returns the next scheduled sweep time.
func (s *RetentionService) getNextSweep() time.Time {
	s.nextMu.RLock()
	defer s.nextMu.RUnlock()
	return s.nextSweep
}
