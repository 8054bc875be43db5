// Package scheduler triggers the deletion pipeline's process and verify
// passes on independent cron cadences. Overlapping ticks are safe: both
// passes are idempotent and verification marking is a set-once transition.
package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/scrub-io/scrub/internal/logging"
)

// Pipeline is the coordinator surface the scheduler drives.
type Pipeline interface {
	RunProcess(ctx context.Context) error
	RunVerify(ctx context.Context) error
}

// Config configures the scheduler cadences.
type Config struct {
	// ProcessSpec is the cron spec for the mutation-issuing pass.
	// Default: "@every 1h"
	ProcessSpec string

	// VerifySpec is the cron spec for the verification pass.
	// Verification confirms eventual mutations, so it runs on a looser
	// cadence than processing.
	// Default: "@every 6h"
	VerifySpec string
}

// Scheduler runs the pipeline passes as cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	pipeline Pipeline
	logger   *logging.Logger
	config   Config

	mu      sync.Mutex
	running bool
}

// New creates a Scheduler.
func New(pipeline Pipeline, logger *logging.Logger, config Config) *Scheduler {
	if config.ProcessSpec == "" {
		config.ProcessSpec = "@every 1h"
	}
	if config.VerifySpec == "" {
		config.VerifySpec = "@every 6h"
	}
	return &Scheduler{
		cron:     cron.New(),
		pipeline: pipeline,
		logger:   logger,
		config:   config,
	}
}

// Start registers the cron entries and begins scheduling.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.ProcessSpec, func() {
		_ = s.RunProcessOnce(context.Background())
	}); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(s.config.VerifySpec, func() {
		_ = s.RunVerifyOnce(context.Background())
	}); err != nil {
		return err
	}

	s.cron.Start()
	s.running = true
	s.logger.Infof("scheduler started", map[string]any{
		"processSpec": s.config.ProcessSpec,
		"verifySpec":  s.config.VerifySpec,
	})
	return nil
}

// Stop stops scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("scheduler stopped")
}

// RunProcessOnce runs a single process pass with a fresh job ID.
func (s *Scheduler) RunProcessOnce(ctx context.Context) error {
	jobID := "process-" + uuid.NewString()
	logger := s.logger.WithJobID(jobID)
	ctx = logging.WithLoggerCtx(logging.WithJobIDCtx(ctx, jobID), logger)

	logger.Info("process pass starting")
	if err := s.pipeline.RunProcess(ctx); err != nil {
		logger.Errorf("process pass finished with errors", map[string]any{"error": err.Error()})
		return err
	}
	logger.Info("process pass complete")
	return nil
}

// RunVerifyOnce runs a single verify pass with a fresh job ID.
func (s *Scheduler) RunVerifyOnce(ctx context.Context) error {
	jobID := "verify-" + uuid.NewString()
	logger := s.logger.WithJobID(jobID)
	ctx = logging.WithLoggerCtx(logging.WithJobIDCtx(ctx, jobID), logger)

	logger.Info("verify pass starting")
	if err := s.pipeline.RunVerify(ctx); err != nil {
		logger.Errorf("verify pass finished with errors", map[string]any{"error": err.Error()})
		return err
	}
	logger.Info("verify pass complete")
	return nil
}
