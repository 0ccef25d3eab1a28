package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReferral struct {
	referraldomain.Service
	batches []int64
	limits  []int
	err     error
}

func (f *fakeReferral) PromoteQualified(ctx context.Context, limit int) (int64, error) {
	f.limits = append(f.limits, limit)
	if f.err != nil {
		return 0, f.err
	}
	if len(f.batches) == 0 {
		return 0, nil
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n, nil
}

type fakePayout struct {
	payoutdomain.Service
	olderThan time.Duration
	limit     int
	calls     int
}

func (f *fakePayout) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	f.calls++
	f.olderThan = olderThan
	f.limit = limit
	return 2, nil
}

type fakeLocker struct {
	held    bool
	owner   string
	err     error
	refresh int
}

func (l *fakeLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	if l.err != nil {
		return "", false, l.err
	}
	if l.held {
		return "", false, nil
	}
	l.held = true
	l.owner = "token-1"
	return l.owner, true, nil
}

func (l *fakeLocker) Refresh(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	l.refresh++
	return l.held && token == l.owner, nil
}

func (l *fakeLocker) Release(ctx context.Context, key, token string) error {
	if token == l.owner {
		l.held = false
	}
	return nil
}

func newTestScheduler(t *testing.T, referral *fakeReferral, payout *fakePayout) *Scheduler {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	s, err := New(Params{
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clock.NewFakeClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)),
		ReferralSvc: referral,
		PayoutSvc:   payout,
		Config:      Config{BatchSize: 10, StaleAfter: 45 * time.Minute},
	})
	require.NoError(t, err)
	return s
}

func TestNewRequiresDependencies(t *testing.T) {
	_, err := New(Params{Log: zap.NewNop()})
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()

	obsmetrics.ResetSchedulerMetricsForTest()
	obsmetrics.SchedulerWithConfig(obsmetrics.Config{
		ServiceName: "closeframe",
		Environment: "test",
	})

	s := newTestScheduler(t, &fakeReferral{}, &fakePayout{})
	slow := job{name: "timeout_job", resource: "test", run: func(ctx context.Context, _ *jobRun) error {
		<-ctx.Done()
		return ctx.Err()
	}}
	err := s.execute(context.Background(), slow, 5*time.Millisecond)
	require.NoError(t, err)

	labels := map[string]string{
		"service": "closeframe",
		"env":     "test",
		"job":     "timeout_job",
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "closeframe_scheduler_job_timeouts_total", labels))

	errorLabels := map[string]string{
		"service": "closeframe",
		"env":     "test",
		"job":     "timeout_job",
		"reason":  obsmetrics.SchedulerJobReasonDeadlineExceeded,
	}
	require.Equal(t, float64(1), getCounterValue(t, registry, "closeframe_scheduler_job_errors_total", errorLabels))
}

func TestQualifyCommissionsDrainsFullBatches(t *testing.T) {
	referral := &fakeReferral{batches: []int64{10, 10, 3}}
	s := newTestScheduler(t, referral, &fakePayout{})

	require.NoError(t, s.RunJob(context.Background(), JobQualifyCommissions))
	require.Equal(t, []int{10, 10, 10}, referral.limits)
}

func TestQualifyCommissionsReturnsError(t *testing.T) {
	referral := &fakeReferral{err: errors.New("db down")}
	s := newTestScheduler(t, referral, &fakePayout{})

	err := s.RunJob(context.Background(), JobQualifyCommissions)
	require.Error(t, err)
	require.Contains(t, err.Error(), JobQualifyCommissions)
}

func TestStalePayoutSweepUsesConfiguredAge(t *testing.T) {
	payout := &fakePayout{}
	s := newTestScheduler(t, &fakeReferral{}, payout)

	require.NoError(t, s.RunJob(context.Background(), JobStalePayoutSweep))
	require.Equal(t, 45*time.Minute, payout.olderThan)
	require.Equal(t, 10, payout.limit)
}

func TestRunJobRejectsUnknownName(t *testing.T) {
	s := newTestScheduler(t, &fakeReferral{}, &fakePayout{})
	require.ErrorIs(t, s.RunJob(context.Background(), "vacuum"), ErrUnknownJob)
}

func TestRunOnceHonorsEnabledJobs(t *testing.T) {
	referral := &fakeReferral{}
	payout := &fakePayout{}
	s := newTestScheduler(t, referral, payout)
	s.cfg.EnabledJobs = []string{JobStalePayoutSweep}

	require.NoError(t, s.RunOnce(context.Background()))
	require.Empty(t, referral.limits)
	require.Equal(t, 1, payout.calls)
}

func TestRunOnceSkipsWithoutLeadership(t *testing.T) {
	payout := &fakePayout{}
	s := newTestScheduler(t, &fakeReferral{}, payout)
	locker := &fakeLocker{held: true, owner: "other"}
	s.leader = newLeadership(locker, time.Minute)

	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, payout.calls)

	locker.err = errors.New("redis down")
	require.NoError(t, s.RunOnce(context.Background()))
	require.Zero(t, payout.calls)
}

func TestLeadershipRefreshesHeldLock(t *testing.T) {
	payout := &fakePayout{}
	s := newTestScheduler(t, &fakeReferral{}, payout)
	locker := &fakeLocker{}
	s.leader = newLeadership(locker, time.Minute)

	require.NoError(t, s.RunOnce(context.Background()))
	require.NoError(t, s.RunOnce(context.Background()))
	require.Equal(t, 2, payout.calls)
	require.Equal(t, 1, locker.refresh)

	s.leader.release(context.Background())
	require.False(t, locker.held)
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			require.NotNil(t, metric.Counter, "metric %s is not a counter", name)
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
