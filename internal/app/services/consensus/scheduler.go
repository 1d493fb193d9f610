package consensus

import (
	"context"
	"errors"
	"fmt"

	"github.com/robfig/cron/v3"

	"github.com/stellar-swipe/oracle-layer/internal/app/domain/oracle"
	"github.com/stellar-swipe/oracle-layer/pkg/logger"
)

// Scheduler closes consensus rounds on a cron cadence. Rounds that have not
// collected enough submissions are skipped and retried on the next tick.
type Scheduler struct {
	svc  *Service
	spec string
	cron *cron.Cron
	log  *logger.Logger
}

// NewScheduler creates a scheduler. The spec uses the standard 5-field cron
// syntax with an optional leading seconds field.
func NewScheduler(svc *Service, spec string, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{svc: svc, spec: spec, log: log}
}

func (s *Scheduler) Name() string { return "consensus-scheduler" }

// Start registers the calculation job and launches the cron runner.
func (s *Scheduler) Start(context.Context) error {
	runner := cron.New(cron.WithParser(cron.NewParser(
		cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
	)))

	_, err := runner.AddFunc(s.spec, s.tick)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.spec, err)
	}

	s.cron = runner
	runner.Start()
	s.log.WithField("schedule", s.spec).Info("round scheduler started")
	return nil
}

// Stop halts the runner and waits for an in-flight calculation to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) tick() {
	res, err := s.svc.Calculate(context.Background())
	switch {
	case errors.Is(err, oracle.ErrInsufficientData):
		s.log.Debug("skipping round: not enough submissions")
	case err != nil:
		s.log.WithError(err).Error("consensus calculation failed")
	default:
		s.log.WithField("round_id", res.RoundID).WithField("price", res.Price).Debug("round closed")
	}
}
