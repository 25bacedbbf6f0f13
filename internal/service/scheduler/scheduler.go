// Package scheduler runs the daily jobs: deadline evaluation and recurring
// charges. Each job computes "today" in the configured time zone.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"familybook/internal/domain/billing"
	"familybook/internal/logging"
	"familybook/internal/metrics"
	"familybook/internal/service/lifecycle"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

const (
	JobDeadlines = "deadlines"
	JobBilling   = "billing"
)

type DeadlineEvaluator interface {
	EvaluateDeadlines(ctx context.Context, today time.Time) (lifecycle.Summary, error)
}

type Charger interface {
	ChargeDue(ctx context.Context, today time.Time) billing.ChargeReport
}

type Config struct {
	Location     *time.Location
	DeadlineSpec string
	BillingSpec  string
}

type Scheduler struct {
	cron      *cron.Cron
	loc       *time.Location
	deadlines DeadlineEvaluator
	charger   Charger
	now       func() time.Time
	ctx       context.Context
	cancel    context.CancelFunc
}

// New registers both jobs. Overlapping runs of the same job are skipped.
func New(cfg Config, deadlines DeadlineEvaluator, charger Charger) (*Scheduler, error) {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		loc:       loc,
		deadlines: deadlines,
		charger:   charger,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
	}

	logger := cron.PrintfLogger(logging.Logger)
	s.cron = cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	if _, err := s.cron.AddFunc(cfg.DeadlineSpec, func() { s.RunDeadlines(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid deadline schedule %q: %w", cfg.DeadlineSpec, err)
	}
	if _, err := s.cron.AddFunc(cfg.BillingSpec, func() { s.RunBilling(s.ctx) }); err != nil {
		cancel()
		return nil, fmt.Errorf("invalid billing schedule %q: %w", cfg.BillingSpec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	logging.With(logrus.Fields{"location": s.loc.String(), "jobs": len(s.cron.Entries())}).Info("scheduler started")
}

// Stop cancels running jobs and waits for them to return.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
}

// Today is the current calendar day in the scheduler's time zone.
func (s *Scheduler) Today() time.Time {
	return s.now().In(s.loc)
}

func (s *Scheduler) RunDeadlines(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.JobDuration.WithLabelValues(JobDeadlines).Observe(time.Since(start).Seconds()) }()

	sum, err := s.deadlines.EvaluateDeadlines(ctx, s.Today())
	if err != nil {
		logging.Logger.WithError(err).Error("deadline job failed")
		return
	}
	if sum.Failed > 0 {
		logging.With(logrus.Fields{"failed": sum.Failed}).Warn("deadline job finished with failures")
	}
}

func (s *Scheduler) RunBilling(ctx context.Context) {
	start := time.Now()
	defer func() { metrics.JobDuration.WithLabelValues(JobBilling).Observe(time.Since(start).Seconds()) }()

	s.charger.ChargeDue(ctx, s.Today())
}
