package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/ratelimit"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	JobQualifyCommissions = "qualify_commissions"
	JobStalePayoutSweep   = "stale_payout_sweep"
)

var (
	ErrInvalidConfig = errors.New("invalid_scheduler_config")
	ErrUnknownJob    = errors.New("unknown_scheduler_job")
)

type Params struct {
	fx.In

	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	ReferralSvc referraldomain.Service
	PayoutSvc   payoutdomain.Service
	Locker      *ratelimit.Locker `optional:"true"`
	Config      Config            `optional:"true"`
}

type Scheduler struct {
	log         *zap.Logger
	cfg         Config
	genID       *snowflake.Node
	clock       clock.Clock
	referralSvc referraldomain.Service
	payoutSvc   payoutdomain.Service
	leader      *leadership
}

func New(p Params) (*Scheduler, error) {
	if p.Log == nil || p.GenID == nil || p.Clock == nil || p.ReferralSvc == nil || p.PayoutSvc == nil {
		return nil, ErrInvalidConfig
	}
	s := &Scheduler{
		log:         p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:         p.Config.withDefaults(),
		genID:       p.GenID,
		clock:       p.Clock,
		referralSvc: p.ReferralSvc,
		payoutSvc:   p.PayoutSvc,
	}
	if p.Locker != nil {
		s.leader = newLeadership(p.Locker, s.cfg.LeaderTTL)
	}
	return s, nil
}

type job struct {
	name     string
	resource string
	run      func(ctx context.Context, run *jobRun) error
}

func (s *Scheduler) jobs() []job {
	return []job{
		{name: JobQualifyCommissions, resource: "referral_commissions", run: s.qualifyCommissions},
		{name: JobStalePayoutSweep, resource: "referral_payouts", run: s.sweepStalePayouts},
	}
}

// execute runs j under timeout. Hitting the deadline is not an error; the
// next tick picks up where the run stopped.
func (s *Scheduler) execute(parent context.Context, j job, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run := s.startRun(ctx, j)
	m := obsmetrics.Scheduler()
	m.IncJobRun(j.name)

	err := j.run(ctx, run)
	m.ObserveJobDuration(j.name, s.clock.Now().Sub(run.startedAt))
	m.AddBatchProcessed(j.name, j.resource, run.processed)
	if err != nil && run.failures == 0 {
		run.failures++
	}
	run.finish(s.clock.Now())
	if err == nil {
		return nil
	}

	m.IncJobError(j.name, err)
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		m.IncJobTimeout(j.name)
		run.log.Warn("scheduler.job.timeout", zap.Duration("timeout", timeout), zap.Error(err))
		return nil
	}
	return fmt.Errorf("%s: %w", j.name, err)
}

// RunJob runs a single job by name regardless of SCHEDULER_JOBS.
func (s *Scheduler) RunJob(ctx context.Context, name string) error {
	for _, j := range s.jobs() {
		if strings.EqualFold(j.name, name) {
			return s.execute(ctx, j, s.cfg.JobTimeout)
		}
	}
	return ErrUnknownJob
}

// RunOnce runs every enabled job a single time. Replicas that do not hold
// the leader lock skip the tick.
func (s *Scheduler) RunOnce(parent context.Context) error {
	leading, err := s.leader.acquire(parent)
	if err != nil {
		err = fmt.Errorf("%w: %w", obsmetrics.ErrLeaderLock, err)
		s.log.Warn("scheduler leader lock unavailable", zap.Error(err))
		obsmetrics.Scheduler().IncJobError("leader", err)
		return nil
	}
	if !leading {
		s.log.Debug("scheduler not leader, skipping tick")
		return nil
	}

	var runErr error
	for _, j := range s.jobs() {
		if s.isJobEnabled(j.name) {
			runErr = errors.Join(runErr, s.execute(parent, j, s.cfg.JobTimeout))
		}
	}
	return runErr
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := s.clock.Now().Sub(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			s.leader.release(context.Background())
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// qualifyCommissions promotes PENDING commissions whose hold period has
// passed, one batch at a time until a short batch signals the end.
func (s *Scheduler) qualifyCommissions(ctx context.Context, run *jobRun) error {
	for ctx.Err() == nil {
		promoted, err := s.referralSvc.PromoteQualified(ctx, s.cfg.BatchSize)
		if err != nil {
			run.fail("scheduler.commission.qualify.failed", err)
			return err
		}
		run.add(int(promoted))
		if promoted < int64(s.cfg.BatchSize) {
			return nil
		}
	}
	return ctx.Err()
}

// sweepStalePayouts re-drives automated payouts whose transfer never
// settled. The payout service replays the original idempotency key.
func (s *Scheduler) sweepStalePayouts(ctx context.Context, run *jobRun) error {
	recovered, err := s.payoutSvc.RecoverStale(ctx, s.cfg.StaleAfter, s.cfg.BatchSize)
	run.add(recovered)
	if err != nil {
		run.fail("scheduler.payout.recover.failed", err)
		return err
	}
	return nil
}
