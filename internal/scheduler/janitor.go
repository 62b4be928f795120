// Package scheduler runs the periodic maintenance jobs of the API server.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/capitalize-ai/commerce-agent/pkg/logger"
	"github.com/capitalize-ai/commerce-agent/pkg/metrics"
)

// IdleCloser closes conversations without recent messages.
type IdleCloser interface {
	CloseIdle(ctx context.Context, age time.Duration) (int64, error)
}

// StatsRecorder exports queue sizes.
type StatsRecorder interface {
	RecordStats(ctx context.Context) error
}

// JanitorConfig configures the janitor jobs.
type JanitorConfig struct {
	// Schedule is a cron spec or a descriptor such as "@every 15m".
	Schedule string
	// IdleAge is how long a conversation may go without messages.
	IdleAge time.Duration
	// JobTimeout bounds one run of a job.
	JobTimeout time.Duration
}

// Janitor closes idle conversations and refreshes the queue gauges.
type Janitor struct {
	cron   *cron.Cron
	idle   IdleCloser
	stats  StatsRecorder
	cfg    JanitorConfig
	logger *logger.Logger
}

// NewJanitor creates a janitor and registers its jobs. stats may be nil.
func NewJanitor(idle IdleCloser, stats StatsRecorder, cfg JanitorConfig, log *logger.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 15m"
	}
	if cfg.IdleAge <= 0 {
		cfg.IdleAge = 24 * time.Hour
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	j := &Janitor{
		cron:   cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		idle:   idle,
		stats:  stats,
		cfg:    cfg,
		logger: log,
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, j.CloseIdle); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	if stats != nil {
		if _, err := j.cron.AddFunc("@every 30s", j.RecordStats); err != nil {
			return nil, fmt.Errorf("failed to schedule stats job: %w", err)
		}
	}
	return j, nil
}

// Start starts the scheduler.
func (j *Janitor) Start() {
	j.cron.Start()
	j.logger.Info("janitor started", zap.String("schedule", j.cfg.Schedule), zap.Duration("idle_age", j.cfg.IdleAge))
}

// Stop stops the scheduler and waits for running jobs.
func (j *Janitor) Stop() {
	ctx := j.cron.Stop()
	<-ctx.Done()
}

// CloseIdle runs the idle conversation job once.
func (j *Janitor) CloseIdle() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.JobTimeout)
	defer cancel()

	n, err := j.idle.CloseIdle(ctx, j.cfg.IdleAge)
	if err != nil {
		j.logger.Error("janitor failed to close idle conversations", zap.Error(err))
		return
	}
	metrics.ConversationsClosed.Add(float64(n))
}

// RecordStats runs the queue gauge job once.
func (j *Janitor) RecordStats() {
	ctx, cancel := context.WithTimeout(context.Background(), j.cfg.JobTimeout)
	defer cancel()

	if err := j.stats.RecordStats(ctx); err != nil {
		j.logger.Warn("failed to record stream stats", zap.Error(err))
	}
}
