package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	"github.com/golang/mock/gomock"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	accountrepo "github.com/rubenoroz/closeframe-sub002/internal/account/repository"
	auditrepo "github.com/rubenoroz/closeframe-sub002/internal/audit/repository"
	auditservice "github.com/rubenoroz/closeframe-sub002/internal/audit/service"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	payoutrepo "github.com/rubenoroz/closeframe-sub002/internal/payout/repository"
	payoutservice "github.com/rubenoroz/closeframe-sub002/internal/payout/service"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	processormock "github.com/rubenoroz/closeframe-sub002/internal/processor/mock"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	referralrepo "github.com/rubenoroz/closeframe-sub002/internal/referral/repository"
	referralservice "github.com/rubenoroz/closeframe-sub002/internal/referral/service"
	"github.com/rubenoroz/closeframe-sub002/internal/storetest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fakeGuard struct {
	deny     bool
	held     bool
	locked   []string
	unlocked []string
}

func (g *fakeGuard) Allow(ctx context.Context, accountID string) (bool, time.Duration, error) {
	if g.deny {
		return false, 30 * time.Second, nil
	}
	return true, 0, nil
}

func (g *fakeGuard) Lock(ctx context.Context, assignmentID string) (string, bool, error) {
	if g.held {
		return "", false, nil
	}
	g.locked = append(g.locked, assignmentID)
	return "token", true, nil
}

func (g *fakeGuard) Unlock(ctx context.Context, assignmentID, token string) error {
	g.unlocked = append(g.unlocked, assignmentID)
	return nil
}

type fakeRenderer struct {
	last *domain.StatementData
}

func (r *fakeRenderer) RenderPayoutStatement(ctx context.Context, data domain.StatementData) ([]byte, error) {
	r.last = &data
	return []byte("%PDF-fake"), nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	clock    *clock.FakeClock
	gateway  *processormock.MockGateway
	guard    *fakeGuard
	renderer *fakeRenderer
	referral referraldomain.Service
	refRepo  referraldomain.Repository
	params   payoutservice.Params
	svc      domain.Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	db := storetest.Open(t)
	node := storetest.Node(t)
	clk := clock.NewFakeClock(time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{
		Referral: config.ReferralConfig{DefaultMinPayout: 50000, DefaultQualificationDays: 30, Currency: "usd"},
		Payout:   config.PayoutConfig{TransferTimeout: time.Second},
	}
	audit := auditservice.NewService(auditservice.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: clk, Repo: auditrepo.Provide(),
	})
	refRepo := referralrepo.Provide()
	referral := referralservice.NewService(referralservice.Params{
		DB:          db,
		Log:         zap.NewNop(),
		GenID:       node,
		Clock:       clk,
		Cfg:         cfg,
		Repo:        refRepo,
		AccountRepo: accountrepo.Provide(),
		AuditSvc:    audit,
	})
	require.NoError(t, referral.EnsureDefaultTemplates(context.Background()))

	f := &fixture{
		db:       db,
		node:     node,
		clock:    clk,
		gateway:  processormock.NewMockGateway(ctrl),
		guard:    &fakeGuard{},
		renderer: &fakeRenderer{},
		referral: referral,
		refRepo:  refRepo,
	}
	f.params = payoutservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		GenID:        node,
		Clock:        clk,
		Cfg:          cfg,
		Repo:         payoutrepo.Provide(),
		ReferralRepo: refRepo,
		AccountRepo:  accountrepo.Provide(),
		Gateway:      f.gateway,
		Guard:        f.guard,
		Renderer:     f.renderer,
		AuditSvc:     audit,
	}
	f.svc = payoutservice.NewService(f.params)
	return f
}

// racingRepo runs a competing write right after the claimable commissions
// are listed and before they are claimed.
type racingRepo struct {
	referraldomain.Repository
	race func(listed []referraldomain.Commission)
}

func (r *racingRepo) ListClaimable(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID) ([]referraldomain.Commission, error) {
	listed, err := r.Repository.ListClaimable(ctx, tx, assignmentID)
	if err == nil && r.race != nil {
		r.race(listed)
		r.race = nil
	}
	return listed, err
}

func (f *fixture) racing(race func(listed []referraldomain.Commission)) domain.Service {
	params := f.params
	params.ReferralRepo = &racingRepo{Repository: f.refRepo, race: race}
	return payoutservice.NewService(params)
}

func (f *fixture) account(t *testing.T, name string) snowflake.ID {
	t.Helper()
	now := f.clock.Now()
	id := f.node.Generate()
	require.NoError(t, accountrepo.Provide().Insert(context.Background(), f.db, &accountdomain.Account{
		ID:               id,
		Email:            id.String() + "@example.com",
		Name:             name,
		Role:             accountdomain.RoleMember,
		FeatureOverrides: datatypes.NewJSONType(accountdomain.Overrides{}),
		CreatedAt:        now,
		UpdatedAt:        now,
	}))
	return id
}

// affiliate enrolls an account; an empty destination means manual payouts.
func (f *fixture) affiliate(t *testing.T, destination string) (snowflake.ID, *referraldomain.Assignment) {
	t.Helper()
	accountID := f.account(t, "Affiliate")
	method := referraldomain.PayoutMethodManual
	if destination != "" {
		method = referraldomain.PayoutMethodStripeConnect
	}
	a, err := f.referral.EnrollAffiliate(context.Background(), referraldomain.EnrollAffiliateRequest{
		AccountID:         accountID,
		PayoutMethod:      method,
		PayoutDestination: destination,
	})
	require.NoError(t, err)
	return accountID, a
}

func (f *fixture) commission(t *testing.T, assignmentID snowflake.ID, ref string, amount int64, status referraldomain.CommissionStatus) {
	t.Helper()
	now := f.clock.Now()
	ok, err := f.refRepo.InsertCommission(context.Background(), f.db, &referraldomain.Commission{
		ID:           f.node.Generate(),
		AssignmentID: assignmentID,
		PaymentRef:   ref,
		BaseAmount:   amount * 4,
		Amount:       amount,
		Currency:     "usd",
		Status:       status,
		QualifiesAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	})
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *fixture) count(t *testing.T, table, where string, args ...any) int64 {
	t.Helper()
	return storetest.Count(t, f.db, table, where, args...)
}

func TestRequestPayoutBelowThreshold(t *testing.T) {
	f := setup(t)
	accountID, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 45000, referraldomain.CommissionQualified)

	_, err := f.svc.RequestPayout(context.Background(), accountID)
	require.ErrorIs(t, err, domain.ErrPayoutRejected)
	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, domain.RejectBelowThreshold, rej.Code)
	require.EqualValues(t, 45000, rej.Balance)
	require.EqualValues(t, 50000, rej.Threshold)

	require.Zero(t, f.count(t, "referral_payouts", ""))
	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))
}

func TestRequestPayoutRejections(t *testing.T) {
	f := setup(t)

	_, err := f.svc.RequestPayout(context.Background(), f.account(t, "Nobody"))
	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, domain.RejectNoProgram, rej.Code)

	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_pending", 90000, referraldomain.CommissionPending)
	_, err = f.svc.RequestPayout(context.Background(), accountID)
	require.True(t, errors.As(err, &rej))
	require.Equal(t, domain.RejectNothingToPayOut, rej.Code)
}

func TestRequestPayoutAutomatedTransfer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 30000, referraldomain.CommissionQualified)
	f.commission(t, a.ID, "pi_2", 25000, referraldomain.CommissionQualified)

	var input processordomain.TransferInput
	f.gateway.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, in processordomain.TransferInput) (string, error) {
			input = in
			return "tr_123", nil
		})

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusProcessing, out.Status)
	require.Equal(t, "tr_123", out.TransferID)
	require.EqualValues(t, 55000, out.Amount)

	require.EqualValues(t, 55000, input.Amount)
	require.Equal(t, "acct_dest", input.Destination)
	require.Equal(t, "payout-"+out.PayoutID.String(), input.IdempotencyKey)

	require.EqualValues(t, 2, f.count(t, "referral_commissions", "payout_id = ?", out.PayoutID))
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "status = ? AND external_transfer_id = ?", domain.StatusProcessing, "tr_123"))
	require.EqualValues(t, 1, f.count(t, "audit_logs", "action = ?", "payout.initiated"))
	require.Equal(t, []string{a.ID.String()}, f.guard.locked)
	require.Equal(t, []string{a.ID.String()}, f.guard.unlocked)

	balance, err := f.refRepo.QualifiedBalance(ctx, f.db, a.ID)
	require.NoError(t, err)
	require.Zero(t, balance)
}

func TestRequestPayoutTransferFailureReleasesCommissions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	f.gateway.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).Return("", processordomain.ErrUnavailable)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, out.Status)
	require.NotEmpty(t, out.FailureReason)

	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "status = ?", domain.StatusFailed))
	require.EqualValues(t, 1, f.count(t, "audit_logs", "action = ?", "payout.failed"))

	balance, err := f.refRepo.QualifiedBalance(ctx, f.db, a.ID)
	require.NoError(t, err)
	require.EqualValues(t, 55000, balance)
}

func TestRequestPayoutTransferTimeout(t *testing.T) {
	f := setup(t)
	accountID, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 60000, referraldomain.CommissionQualified)

	f.gateway.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, in processordomain.TransferInput) (string, error) {
			<-ctx.Done()
			return "", processordomain.ErrUnavailable
		})

	out, err := f.svc.RequestPayout(context.Background(), accountID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, out.Status)
	require.Equal(t, "transfer_timeout", out.FailureReason)
	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))
}

func TestRequestPayoutGuarded(t *testing.T) {
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	f.guard.deny = true
	_, err := f.svc.RequestPayout(context.Background(), accountID)
	require.ErrorIs(t, err, domain.ErrRateLimited)
	var rl *domain.RateLimitError
	require.True(t, errors.As(err, &rl))
	require.Equal(t, 30*time.Second, rl.RetryAfter)

	f.guard.deny = false
	f.guard.held = true
	_, err = f.svc.RequestPayout(context.Background(), accountID)
	require.ErrorIs(t, err, domain.ErrPayoutInProgress)
	require.Zero(t, f.count(t, "referral_payouts", ""))
}

func TestManualPayoutCompleteAndFail(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, out.Status)
	require.EqualValues(t, 1, f.count(t, "audit_logs", "action = ?", "payout.requested"))

	// nothing left to claim while the first payout is open
	_, err = f.svc.RequestPayout(ctx, accountID)
	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, domain.RejectNothingToPayOut, rej.Code)

	done, err := f.svc.Complete(ctx, domain.CompleteRequest{PayoutID: out.PayoutID, ExternalRef: "wire-42", ActorID: "op"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, done.Status)
	require.Equal(t, "wire-42", *done.ExternalTransferID)

	assignment, err := f.refRepo.FindAssignmentByID(ctx, f.db, a.ID)
	require.NoError(t, err)
	require.EqualValues(t, 55000, assignment.TotalPaid)

	_, err = f.svc.Complete(ctx, domain.CompleteRequest{PayoutID: out.PayoutID})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Fail(ctx, domain.FailRequest{PayoutID: out.PayoutID, Reason: "late"})
	require.ErrorIs(t, err, domain.ErrInvalidTransition)
	_, err = f.svc.Complete(ctx, domain.CompleteRequest{PayoutID: f.node.Generate()})
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)
}

func TestFailManualPayoutReleasesCommissions(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)

	_, err = f.svc.Fail(ctx, domain.FailRequest{PayoutID: out.PayoutID, Reason: "  "})
	require.ErrorIs(t, err, domain.ErrInvalidReason)

	failed, err := f.svc.Fail(ctx, domain.FailRequest{PayoutID: out.PayoutID, Reason: "bank rejected", ActorID: "op"})
	require.NoError(t, err)
	require.Equal(t, domain.StatusFailed, failed.Status)
	require.Equal(t, "bank rejected", *failed.FailureReason)
	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))

	again, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.EqualValues(t, 55000, again.Amount)
}

func TestSummary(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	empty, err := f.svc.Summary(ctx, f.account(t, "Nobody"))
	require.NoError(t, err)
	require.Zero(t, empty.AvailableBalance)
	require.False(t, empty.CanRequestPayout)
	require.Empty(t, empty.RecentPayouts)

	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)
	f.commission(t, a.ID, "pi_2", 7000, referraldomain.CommissionPending)

	summary, err := f.svc.Summary(ctx, accountID)
	require.NoError(t, err)
	require.EqualValues(t, 55000, summary.AvailableBalance)
	require.EqualValues(t, 7000, summary.PendingBalance)
	require.EqualValues(t, 50000, summary.MinThreshold)
	require.Equal(t, referraldomain.PayoutMethodManual, summary.PayoutMethod)
	require.True(t, summary.CanRequestPayout)

	_, err = f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)

	summary, err = f.svc.Summary(ctx, accountID)
	require.NoError(t, err)
	require.Zero(t, summary.AvailableBalance)
	require.False(t, summary.CanRequestPayout)
	require.Len(t, summary.RecentPayouts, 1)
}

func TestStatementIsScopedToOwner(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 30000, referraldomain.CommissionQualified)
	f.commission(t, a.ID, "pi_2", 25000, referraldomain.CommissionQualified)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)

	other, _ := f.affiliate(t, "")
	_, err = f.svc.Statement(ctx, other, out.PayoutID)
	require.ErrorIs(t, err, domain.ErrPayoutNotFound)

	pdf, err := f.svc.Statement(ctx, accountID, out.PayoutID)
	require.NoError(t, err)
	require.Equal(t, []byte("%PDF-fake"), pdf)
	require.NotNil(t, f.renderer.last)
	require.Len(t, f.renderer.last.Lines, 2)
	require.EqualValues(t, 55000, f.renderer.last.Amount)
	require.Equal(t, a.Code, f.renderer.last.ReferralCode)
}

func TestRecoverStaleReplaysTransfer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	// a payout whose process died between the claim and the transfer
	now := f.clock.Now()
	payoutID := f.node.Generate()
	require.NoError(t, payoutrepo.Provide().Insert(ctx, f.db, &domain.Payout{
		ID:           payoutID,
		AssignmentID: a.ID,
		Amount:       55000,
		Currency:     "usd",
		Method:       referraldomain.PayoutMethodStripeConnect,
		Status:       domain.StatusPending,
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	claimable, err := f.refRepo.ListClaimable(ctx, f.db, a.ID)
	require.NoError(t, err)
	_, err = f.refRepo.ClaimCommissions(ctx, f.db, []snowflake.ID{claimable[0].ID}, payoutID, now)
	require.NoError(t, err)

	n, err := f.svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, n)

	f.clock.Advance(2 * time.Hour)
	f.gateway.EXPECT().CreateTransfer(gomock.Any(), gomock.Any()).
		DoAndReturn(func(ctx context.Context, in processordomain.TransferInput) (string, error) {
			require.Equal(t, "payout-"+payoutID.String(), in.IdempotencyKey)
			return "tr_replayed", nil
		})
	n, err = f.svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "status = ? AND external_transfer_id = ?", domain.StatusProcessing, "tr_replayed"))
}

func TestRequestPayoutRequiresAffiliateProgram(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID := f.account(t, "Customer")
	a, err := f.referral.EnsureAssignment(ctx, accountID)
	require.NoError(t, err)
	f.commission(t, a.ID, "pi_1", 60000, referraldomain.CommissionQualified)

	_, err = f.svc.RequestPayout(ctx, accountID)
	var rej *domain.RejectionError
	require.True(t, errors.As(err, &rej))
	require.Equal(t, domain.RejectNoProgram, rej.Code)
	require.Zero(t, f.count(t, "referral_payouts", ""))
	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))

	summary, err := f.svc.Summary(ctx, accountID)
	require.NoError(t, err)
	require.EqualValues(t, 60000, summary.AvailableBalance)
	require.False(t, summary.CanRequestPayout)
}

func TestRequestPayoutClaimConflict(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 30000, referraldomain.CommissionQualified)
	f.commission(t, a.ID, "pi_2", 25000, referraldomain.CommissionQualified)

	competingID := f.node.Generate()
	svc := f.racing(func(listed []referraldomain.Commission) {
		now := f.clock.Now()
		require.NoError(t, payoutrepo.Provide().Insert(ctx, f.db, &domain.Payout{
			ID:           competingID,
			AssignmentID: a.ID,
			Amount:       listed[0].Amount,
			Currency:     "usd",
			Method:       referraldomain.PayoutMethodManual,
			Status:       domain.StatusPending,
			RequestedAt:  now,
			CreatedAt:    now,
			UpdatedAt:    now,
		}))
		claimed, err := f.refRepo.ClaimCommissions(ctx, f.db, []snowflake.ID{listed[0].ID}, competingID, now)
		require.NoError(t, err)
		require.EqualValues(t, 1, claimed)
	})

	_, err := svc.RequestPayout(ctx, accountID)
	require.ErrorIs(t, err, domain.ErrClaimConflict)

	require.EqualValues(t, 1, f.count(t, "referral_payouts", ""))
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "id = ?", competingID))
	require.EqualValues(t, 1, f.count(t, "referral_commissions", "payout_id = ?", competingID))
	require.EqualValues(t, 1, f.count(t, "referral_commissions", "payout_id IS NULL"))
	require.Zero(t, f.count(t, "audit_logs", "action = ?", "payout.requested"))
}

func TestRequestPayoutAdjustedAfterListingConflicts(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 30000, referraldomain.CommissionQualified)
	f.commission(t, a.ID, "pi_2", 25000, referraldomain.CommissionQualified)

	svc := f.racing(func(listed []referraldomain.Commission) {
		ok, err := f.refRepo.AdjustCommission(ctx, f.db, listed[1].ID, 20000, 20000, f.clock.Now())
		require.NoError(t, err)
		require.True(t, ok)
	})

	_, err := svc.RequestPayout(ctx, accountID)
	require.ErrorIs(t, err, domain.ErrClaimConflict)
	require.Zero(t, f.count(t, "referral_payouts", ""))
	require.Zero(t, f.count(t, "referral_commissions", "payout_id IS NOT NULL"))

	// the next request sees the adjusted amount
	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.EqualValues(t, 50000, out.Amount)
}

func TestFailReasonIsTruncatedOnRuneBoundary(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)

	failed, err := f.svc.Fail(ctx, domain.FailRequest{PayoutID: out.PayoutID, Reason: "x" + strings.Repeat("é", 300), ActorID: "op"})
	require.NoError(t, err)
	reason := *failed.FailureReason
	require.True(t, utf8.ValidString(reason))
	require.LessOrEqual(t, len(reason), 500)
	require.Equal(t, 499, len(reason))
}

func TestConnectPayoutWithoutDestinationStaysManual(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	accountID, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)
	require.NoError(t, f.db.Exec(`UPDATE referral_assignments SET payout_destination = NULL WHERE id = ?`, a.ID).Error)

	out, err := f.svc.RequestPayout(ctx, accountID)
	require.NoError(t, err)
	require.Equal(t, domain.StatusPending, out.Status)
	require.Equal(t, referraldomain.PayoutMethodManual, out.Method)

	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "id = ? AND status = ? AND method = ?", out.PayoutID, domain.StatusPending, referraldomain.PayoutMethodManual))
}

func TestRecoverStaleLeavesPayoutWithoutDestinationPending(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	_, a := f.affiliate(t, "acct_dest")
	f.commission(t, a.ID, "pi_1", 55000, referraldomain.CommissionQualified)

	now := f.clock.Now()
	payoutID := f.node.Generate()
	require.NoError(t, payoutrepo.Provide().Insert(ctx, f.db, &domain.Payout{
		ID:           payoutID,
		AssignmentID: a.ID,
		Amount:       55000,
		Currency:     "usd",
		Method:       referraldomain.PayoutMethodStripeConnect,
		Status:       domain.StatusPending,
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}))
	claimable, err := f.refRepo.ListClaimable(ctx, f.db, a.ID)
	require.NoError(t, err)
	_, err = f.refRepo.ClaimCommissions(ctx, f.db, []snowflake.ID{claimable[0].ID}, payoutID, now)
	require.NoError(t, err)
	require.NoError(t, f.db.Exec(`UPDATE referral_assignments SET payout_destination = NULL WHERE id = ?`, a.ID).Error)

	f.clock.Advance(2 * time.Hour)
	n, err := f.svc.RecoverStale(ctx, time.Hour, 10)
	require.NoError(t, err)
	require.Zero(t, n)
	require.EqualValues(t, 1, f.count(t, "referral_payouts", "id = ? AND status = ?", payoutID, domain.StatusPending))
	require.EqualValues(t, 1, f.count(t, "referral_commissions", "payout_id = ?", payoutID))
}
