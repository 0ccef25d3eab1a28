package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	auditrepo "github.com/rubenoroz/closeframe-sub002/internal/audit/repository"
	auditservice "github.com/rubenoroz/closeframe-sub002/internal/audit/service"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	obscontext "github.com/rubenoroz/closeframe-sub002/internal/observability/context"
	"github.com/rubenoroz/closeframe-sub002/internal/storetest"
	"github.com/rubenoroz/closeframe-sub002/pkg/db/pagination"
	"github.com/rubenoroz/closeframe-sub002/pkg/telemetry/correlation"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newService(t *testing.T) (auditdomain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := storetest.Open(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	svc := auditservice.NewService(auditservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		GenID: storetest.Node(t),
		Clock: clk,
		Repo:  auditrepo.Provide(),
	})
	return svc, db, clk
}

func TestRecordMasksMetadataAndStampsContext(t *testing.T) {
	svc, _, _ := newService(t)
	accountID := snowflake.ID(42)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = obscontext.WithActor(ctx, string(auditdomain.ActorTypeOperator), "7")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")

	err := svc.Record(ctx, nil, auditdomain.Entry{
		AccountID:  &accountID,
		Action:     "payout.completed",
		TargetType: "payout",
		Metadata: map[string]any{
			"payout_destination": "acct_1Nv0FGQ9RKHgCVdK",
			"amount":             float64(5000),
		},
	})
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), auditdomain.ListAuditLogRequest{AccountID: &accountID})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)

	entry := resp.AuditLogs[0]
	require.Equal(t, "operator", entry.ActorType)
	require.NotNil(t, entry.ActorID)
	require.Equal(t, "7", *entry.ActorID)
	require.Equal(t, "acct_****CVdK", entry.Metadata["payout_destination"])
	require.Equal(t, "req-1", entry.Metadata["request_id"])
	require.Equal(t, "corr-1", entry.Metadata["correlation_id"])
	require.EqualValues(t, 5000, entry.Metadata["amount"])
}

func TestRecordDefaultsToSystemActor(t *testing.T) {
	svc, db, _ := newService(t)

	require.NoError(t, svc.Record(context.Background(), nil, auditdomain.Entry{
		Action:     "referral.commissions_qualified",
		TargetType: "referral_commission",
	}))
	require.EqualValues(t, 1, storetest.Count(t, db, "audit_logs", "actor_type = ?", "system"))
}

func TestRecordRejectsEmptyAction(t *testing.T) {
	svc, _, _ := newService(t)

	err := svc.Record(context.Background(), nil, auditdomain.Entry{Action: "  "})
	require.ErrorIs(t, err, auditdomain.ErrInvalidAction)
}

func TestRecordJoinsCallerTransaction(t *testing.T) {
	svc, db, _ := newService(t)

	_ = db.Transaction(func(tx *gorm.DB) error {
		require.NoError(t, svc.Record(context.Background(), tx, auditdomain.Entry{
			Action:     "subscription.plan_changed",
			TargetType: "subscription",
		}))
		return gorm.ErrInvalidTransaction
	})
	require.EqualValues(t, 0, storetest.Count(t, db, "audit_logs", ""))
}

func TestListPagesNewestFirst(t *testing.T) {
	svc, _, clk := newService(t)
	ctx := context.Background()

	for _, action := range []string{"a.first", "a.second", "a.third"} {
		require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{Action: action, TargetType: "test"}))
		clk.Advance(time.Minute)
	}

	page, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2},
	})
	require.NoError(t, err)
	require.True(t, page.HasMore)
	require.NotEmpty(t, page.NextPageToken)
	require.Len(t, page.AuditLogs, 2)
	require.Equal(t, "a.third", page.AuditLogs[0].Action)
	require.Equal(t, "a.second", page.AuditLogs[1].Action)

	next, err := svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageSize: 2, PageToken: page.NextPageToken},
	})
	require.NoError(t, err)
	require.False(t, next.HasMore)
	require.Len(t, next.AuditLogs, 1)
	require.Equal(t, "a.first", next.AuditLogs[0].Action)
}

func TestListFiltersByAction(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{Action: "payout.requested", TargetType: "payout"}))
	require.NoError(t, svc.Record(ctx, nil, auditdomain.Entry{Action: "payout.failed", TargetType: "payout"}))

	resp, err := svc.List(ctx, auditdomain.ListAuditLogRequest{Action: "payout.failed"})
	require.NoError(t, err)
	require.Len(t, resp.AuditLogs, 1)
	require.Equal(t, "payout.failed", resp.AuditLogs[0].Action)
}

func TestListValidatesInput(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err := svc.List(ctx, auditdomain.ListAuditLogRequest{StartAt: &start, EndAt: &end})
	require.ErrorIs(t, err, auditdomain.ErrInvalidTimeRange)

	_, err = svc.List(ctx, auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{PageToken: "%%%"},
	})
	require.ErrorIs(t, err, auditdomain.ErrInvalidPageToken)
}
