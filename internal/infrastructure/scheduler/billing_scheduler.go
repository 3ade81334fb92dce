package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	appbilling "github.com/pinstor/backend/internal/application/billing"
	"github.com/pinstor/backend/internal/domain/billing"
	"go.uber.org/zap"
)

var (
	// ErrSchedulerNotRunning is returned when an operation needs a started
	// scheduler and it was never started or has already stopped.
	ErrSchedulerNotRunning = errors.New("scheduler is not running")

	// ErrInvalidConfig is returned by Start when the check interval is not
	// positive.
	ErrInvalidConfig = errors.New("invalid scheduler configuration")
)

// BatchRunner runs a monthly billing batch for the window resolved at
// invocation time.
type BatchRunner interface {
	Run(ctx context.Context) (*appbilling.BatchReport, error)
}

// BillingScheduler fires the monthly billing batch when a billing window
// closes at its anchor instant. It polls on a fixed interval rather than
// sleeping until the boundary so that clock adjustments and restarts are
// picked up within one interval.
//
// A restart inside an already-settled window does not re-run the batch; the
// billing command covers manual and catch-up runs.
type BillingScheduler struct {
	runner BatchRunner
	anchor billing.PeriodAnchor
	logger *zap.Logger
	config BillingSchedulerConfig
	now    func() time.Time

	cancel        context.CancelFunc
	wg            sync.WaitGroup
	mu            sync.Mutex
	isRunning     bool
	lastWindowEnd time.Time
}

// BillingSchedulerConfig holds configuration for the billing scheduler
type BillingSchedulerConfig struct {
	// Enabled determines if the scheduler is active
	Enabled bool

	// CheckInterval is how often the scheduler checks for a closed window
	CheckInterval time.Duration

	// JobTimeout is the maximum time for one batch run
	JobTimeout time.Duration
}

// DefaultBillingSchedulerConfig returns default configuration
func DefaultBillingSchedulerConfig() BillingSchedulerConfig {
	return BillingSchedulerConfig{
		Enabled:       true,
		CheckInterval: time.Minute,
		JobTimeout:    30 * time.Minute,
	}
}

// NewBillingScheduler creates a new billing scheduler. A nil now defaults to
// time.Now.
func NewBillingScheduler(
	runner BatchRunner,
	anchor billing.PeriodAnchor,
	logger *zap.Logger,
	config BillingSchedulerConfig,
	now func() time.Time,
) *BillingScheduler {
	if now == nil {
		now = time.Now
	}
	return &BillingScheduler{
		runner: runner,
		anchor: anchor,
		logger: logger,
		config: config,
		now:    now,
	}
}

// Start starts the billing scheduler
func (s *BillingScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	if !s.config.Enabled {
		s.mu.Unlock()
		s.logger.Info("Billing scheduler is disabled")
		return nil
	}
	if s.config.CheckInterval <= 0 {
		s.mu.Unlock()
		return ErrInvalidConfig
	}
	s.isRunning = true
	// The window that is already closed at startup counts as handled.
	s.lastWindowEnd = billing.ResolvePeriod(s.now(), s.anchor).End
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.runLoop(ctx)

	s.logger.Info("Billing scheduler started",
		zap.Int("anchor_day", s.anchor.Day),
		zap.Int("anchor_hour", s.anchor.Hour),
		zap.String("anchor_timezone", s.anchor.Location.String()),
		zap.Duration("check_interval", s.config.CheckInterval),
	)

	return nil
}

// Stop gracefully stops the scheduler
func (s *BillingScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	s.mu.Unlock()

	if s.cancel != nil {
		s.cancel()
	}

	// Wait for goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Billing scheduler stopped gracefully")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Billing scheduler stop timed out")
		return ctx.Err()
	}
}

// runLoop polls for a newly closed billing window
func (s *BillingScheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Billing scheduler loop stopping")
			return
		case <-ticker.C:
			if s.windowClosed() {
				s.executeBatch(ctx)
			}
		}
	}
}

// windowClosed reports whether a billing window has closed since the last
// batch run and marks it handled.
func (s *BillingScheduler) windowClosed() bool {
	window := billing.ResolvePeriod(s.now(), s.anchor)

	s.mu.Lock()
	defer s.mu.Unlock()
	if window.End.Equal(s.lastWindowEnd) {
		return false
	}
	s.lastWindowEnd = window.End
	return true
}

// executeBatch runs one billing batch with the configured timeout
func (s *BillingScheduler) executeBatch(ctx context.Context) {
	s.logger.Info("Starting scheduled billing batch",
		zap.Time("started_at", s.now()),
	)

	batchCtx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()
	report, err := s.runner.Run(batchCtx)
	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Scheduled billing batch failed",
			zap.Duration("duration", duration),
			zap.Error(err),
		)
		return
	}

	s.logger.Info("Scheduled billing batch completed",
		zap.Duration("duration", duration),
		zap.Int("year", report.Year),
		zap.Int("month", report.Month),
		zap.Int("total_users", report.TotalUsers),
		zap.Int("committed", report.Committed),
		zap.Int("skipped", report.Skipped),
		zap.Int("failed", report.Failed),
	)
}

// TriggerImmediateRun triggers a batch run for the currently resolved window
// regardless of whether it was already handled.
func (s *BillingScheduler) TriggerImmediateRun(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("Triggering immediate billing batch")

	// Run in a goroutine to not block
	go func() {
		defer s.wg.Done()
		s.executeBatch(ctx)
	}()

	return nil
}

// IsRunning returns whether the scheduler is running
func (s *BillingScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}
