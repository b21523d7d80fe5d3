package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"gorm.io/gorm"

	"funneltrack/internal/config"
)

const cleanupJobName = "retention_cleanup"

// Scheduler runs background jobs on cron schedules. It implements
// cartridge.BackgroundWorker.
type Scheduler struct {
	logger   *slog.Logger
	schedule string
	location *time.Location
	cron     *cron.Cron
	ctx      context.Context
	cancel   context.CancelFunc

	mu        sync.Mutex
	isRunning bool

	// Mutex to prevent concurrent job executions
	processingMutex sync.Mutex
	isProcessing    bool

	cleanupJob *CleanupJob
}

// NewScheduler validates the cleanup schedule and prepares the jobs. Nothing
// runs until Start.
func NewScheduler(db *gorm.DB, logger *slog.Logger, cfg *config.Config) (*Scheduler, error) {
	if _, err := cron.ParseStandard(cfg.CleanupSchedule); err != nil {
		return nil, fmt.Errorf("invalid cleanup schedule %q: %w", cfg.CleanupSchedule, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		logger:     logger,
		schedule:   cfg.CleanupSchedule,
		location:   cfg.Location(),
		ctx:        ctx,
		cancel:     cancel,
		cleanupJob: NewCleanupJob(db, logger, cfg.DataRetentionDays),
	}, nil
}

// executeJobSafely runs a job only if no other job is currently executing.
// It reports whether the job ran.
func (s *Scheduler) executeJobSafely(jobName string, jobFunc func() error) bool {
	s.processingMutex.Lock()
	if s.isProcessing {
		s.logger.Debug("Skipping job execution - previous job still running", slog.String("job", jobName))
		s.processingMutex.Unlock()
		return false
	}
	s.isProcessing = true
	s.processingMutex.Unlock()

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Panic recovered in background job",
				slog.String("job", jobName),
				slog.Any("panic", r))
		}

		s.processingMutex.Lock()
		s.isProcessing = false
		s.processingMutex.Unlock()
	}()

	if err := jobFunc(); err != nil {
		s.logger.Error("Error executing job", slog.String("job", jobName), slog.Any("error", err))
	}
	return true
}

func (s *Scheduler) runCleanup() error {
	_, err := s.cleanupJob.Run(s.ctx)
	return err
}

// Start registers the jobs and starts the cron runner.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.isRunning {
		s.logger.Info("Background jobs already running.")
		return nil
	}

	s.cron = cron.New(cron.WithLocation(s.location))
	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.executeJobSafely(cleanupJobName, s.runCleanup)
	}); err != nil {
		return fmt.Errorf("failed to schedule %s: %w", cleanupJobName, err)
	}
	s.cron.Start()
	s.isRunning = true

	s.logger.Info("Background jobs started",
		slog.String("job", cleanupJobName),
		slog.String("schedule", s.schedule))
	return nil
}

// Stop halts the cron runner, cancels a running job and waits for it.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Info("Stopping background jobs...")
	s.cancel()
	if s.cron != nil {
		<-s.cron.Stop().Done()
	}
	s.isRunning = false
	s.logger.Info("Background jobs stopped")
}

// IsRunning returns whether jobs are currently scheduled
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isRunning
}

// RunCleanup triggers the cleanup job immediately. It returns false when
// another job is already running.
func (s *Scheduler) RunCleanup() bool {
	return s.executeJobSafely(cleanupJobName, s.runCleanup)
}
