package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/geomag-gateway/internal/geomag"
)

// Maintainer is the part of the service the background jobs drive.
type Maintainer interface {
	Sweep() int
	Warm(ctx context.Context, keys []geomag.QueryKey) int
}

// Config controls which jobs run and how often. A zero interval disables
// the job.
type Config struct {
	SweepInterval time.Duration
	WarmInterval  time.Duration
	WarmKeys      []geomag.QueryKey
	// WarmTimeout bounds one warm-up run.
	WarmTimeout time.Duration
}

// Scheduler periodically drops expired cache entries and keeps the
// configured series warm.
type Scheduler struct {
	scheduler *gocron.Scheduler
	target    Maintainer
	cfg       Config
	logger    *zap.Logger
}

// New creates a new Scheduler.
func New(cfg Config, target Maintainer, logger *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if cfg.WarmTimeout <= 0 {
		cfg.WarmTimeout = 30 * time.Second
	}
	return &Scheduler{
		scheduler: s,
		target:    target,
		cfg:       cfg,
		logger:    logger.Named("scheduler"),
	}
}

// Start schedules the enabled jobs and starts the underlying scheduler.
func (s *Scheduler) Start() error {
	jobs := 0

	if s.cfg.SweepInterval > 0 {
		_, err := s.scheduler.Every(s.cfg.SweepInterval).WaitForSchedule().Tag("sweep").Do(s.sweep)
		if err != nil {
			return err
		}
		jobs++
	}

	if s.cfg.WarmInterval > 0 && len(s.cfg.WarmKeys) > 0 {
		_, err := s.scheduler.Every(s.cfg.WarmInterval).Tag("warm").Do(s.warm)
		if err != nil {
			return err
		}
		jobs++
	}

	if jobs == 0 {
		s.logger.Info("no background jobs configured")
		return nil
	}

	s.scheduler.StartAsync()
	s.logger.Info("scheduler started", zap.Int("jobs", jobs))
	return nil
}

// Stop stops the scheduler and cancels any future jobs.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}

func (s *Scheduler) sweep() {
	if n := s.target.Sweep(); n > 0 {
		s.logger.Debug("swept expired cache entries", zap.Int("removed", n))
	}
}

func (s *Scheduler) warm() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WarmTimeout)
	defer cancel()

	start := time.Now()
	n := s.target.Warm(ctx, s.cfg.WarmKeys)
	s.logger.Info("completed warm-up",
		zap.Int("keys", len(s.cfg.WarmKeys)),
		zap.Int("refreshed", n),
		zap.Duration("took", time.Since(start)),
	)
}
