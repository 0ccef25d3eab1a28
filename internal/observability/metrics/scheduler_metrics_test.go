package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	"gorm.io/gorm"
)

func TestClassifySchedulerJobReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: SchedulerJobReasonDeadlineExceeded},
		{name: "leader_lock", err: fmt.Errorf("acquire: %w", ErrLeaderLock), want: SchedulerJobReasonLeader},
		{name: "processor", err: fmt.Errorf("transfer: %w", processordomain.ErrUnavailable), want: SchedulerJobReasonProcessorUnavailable},
		{name: "db_lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: SchedulerJobReasonDBLockTimeout},
		{name: "serialization_failure", err: &pgconn.PgError{Code: "40001"}, want: SchedulerJobReasonSerializationFailure},
		{name: "unique_violation", err: gorm.ErrDuplicatedKey, want: SchedulerJobReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: SchedulerJobReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifySchedulerJobReason(tc.err); got != tc.want {
				t.Fatalf("expected reason %q, got %q", tc.want, got)
			}
		})
	}
}

func TestAddBatchProcessed(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "closeframe", Environment: "test"})

	metrics.AddBatchProcessed("qualify_commissions", "referral_commissions", 3)
	metrics.AddBatchProcessed("qualify_commissions", "referral_commissions", 0)

	got := testutil.ToFloat64(metrics.batchProcessed.WithLabelValues("qualify_commissions", "referral_commissions"))
	if got != 3 {
		t.Fatalf("expected processed count 3, got %v", got)
	}
}

func TestJobDurationCarriesConstLabels(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := newSchedulerMetrics(registry, Config{ServiceName: "closeframe", Environment: "test"})
	metrics.ObserveJobDuration("stale_payout_sweep", 250*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	var found *dto.MetricFamily
	for _, mf := range families {
		if mf.GetName() == "closeframe_scheduler_job_duration_seconds" {
			found = mf
		}
	}
	if found == nil {
		t.Fatalf("expected job duration family to be registered")
	}
	labels := map[string]string{}
	for _, lp := range found.GetMetric()[0].GetLabel() {
		labels[lp.GetName()] = lp.GetValue()
	}
	if labels["service"] != "closeframe" || labels["env"] != "test" || labels["job"] != "stale_payout_sweep" {
		t.Fatalf("unexpected labels %v", labels)
	}
	if found.GetMetric()[0].GetHistogram().GetSampleCount() != 1 {
		t.Fatalf("expected one observation")
	}
}
