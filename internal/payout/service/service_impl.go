package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	"github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	rollbackAttempts   = 3
	rollbackBackoff    = 100 * time.Millisecond
	recentPayoutsLimit = 10
	maxReasonLength    = 500
	reasonTimeout      = "transfer_timeout"
	rateLimitEndpoint  = "referral_payout"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	Cfg          config.Config
	Repo         domain.Repository
	ReferralRepo referraldomain.Repository
	AccountRepo  accountdomain.Repository
	Gateway      processordomain.Gateway
	Guard        domain.Guard             `optional:"true"`
	Renderer     domain.StatementRenderer `optional:"true"`
	AuditSvc     auditdomain.Service      `optional:"true"`
	ObsMetrics   *obsmetrics.Metrics      `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	cfg          config.Config
	repo         domain.Repository
	referralRepo referraldomain.Repository
	accountRepo  accountdomain.Repository
	gateway      processordomain.Gateway
	guard        domain.Guard
	renderer     domain.StatementRenderer
	auditSvc     auditdomain.Service
	obsMetrics   *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("payout.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		cfg:          p.Cfg,
		repo:         p.Repo,
		referralRepo: p.ReferralRepo,
		accountRepo:  p.AccountRepo,
		gateway:      p.Gateway,
		guard:        p.Guard,
		renderer:     p.Renderer,
		auditSvc:     p.AuditSvc,
		obsMetrics:   p.ObsMetrics,
	}
}

func (s *Service) RequestPayout(ctx context.Context, accountID snowflake.ID) (*domain.Outcome, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("account_id", accountID.String()))

	if s.guard != nil {
		allowed, retryAfter, err := s.guard.Allow(ctx, accountID.String())
		switch {
		case err != nil:
			log.Warn("payout rate limiter unavailable", zap.Error(err))
		case !allowed:
			s.obsMetrics.RecordRateLimitDenied(ctx, rateLimitEndpoint)
			return nil, &domain.RateLimitError{RetryAfter: retryAfter}
		}
	}

	assignment, template, err := s.affiliateProgram(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, s.reject(ctx, &domain.RejectionError{
			Code:    domain.RejectNoProgram,
			Message: "account is not enrolled in an active affiliate program",
		})
	}
	log = log.With(zap.String("assignment_id", assignment.ID.String()))

	release, err := s.lock(ctx, log, assignment.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	claimable, err := s.referralRepo.ListClaimable(ctx, s.db, assignment.ID)
	if err != nil {
		return nil, err
	}
	var total int64
	ids := make([]snowflake.ID, 0, len(claimable))
	for i := range claimable {
		total += claimable[i].Effective()
		ids = append(ids, claimable[i].ID)
	}
	if len(ids) == 0 || total <= 0 {
		return nil, s.reject(ctx, &domain.RejectionError{
			Code:    domain.RejectNothingToPayOut,
			Message: "no qualified commissions are available",
		})
	}

	threshold := referraldomain.MinPayoutThreshold(assignment, template, s.cfg.Referral.DefaultMinPayout)
	if total < threshold {
		return nil, s.reject(ctx, &domain.RejectionError{
			Code:      domain.RejectBelowThreshold,
			Message:   fmt.Sprintf("balance %d is below the payout minimum of %d", total, threshold),
			Balance:   total,
			Threshold: threshold,
		})
	}

	now := s.clock.Now()
	automated := assignment.Automated()
	// the recorded method is the path the payout takes, so a connect
	// assignment without a destination is settled by an operator
	method := referraldomain.PayoutMethodManual
	if automated {
		method = referraldomain.PayoutMethodStripeConnect
	}
	payout := &domain.Payout{
		ID:           s.genID.Generate(),
		AssignmentID: assignment.ID,
		Amount:       total,
		Currency:     assignment.Currency,
		Method:       method,
		Status:       domain.StatusPending,
		RequestedAt:  now,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.Insert(ctx, tx, payout); err != nil {
			return err
		}
		claimed, err := s.referralRepo.ClaimCommissions(ctx, tx, ids, payout.ID, now)
		if err != nil {
			return err
		}
		if claimed != int64(len(ids)) {
			return domain.ErrClaimConflict
		}
		// an adjustment landing between the listing and the claim changes the sum
		sum, err := s.referralRepo.SumClaimed(ctx, tx, payout.ID)
		if err != nil {
			return err
		}
		if sum != total {
			return domain.ErrClaimConflict
		}
		if automated {
			return nil
		}
		return s.audit(ctx, tx, assignment, auditdomain.ActorTypeAccount, accountID.String(), auditdomain.ActionPayoutRequested, payout, map[string]any{
			"commissions": len(ids),
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrClaimConflict) {
			log.Warn("payout claim conflict", zap.Int("expected", len(ids)))
			s.obsMetrics.RecordPayoutOutcome(ctx, string(payout.Method), "conflict")
		}
		return nil, err
	}

	if !automated {
		log.Info("manual payout requested", zap.String("payout_id", payout.ID.String()), zap.Int64("amount", total))
		s.obsMetrics.RecordPayoutOutcome(ctx, string(payout.Method), "requested")
		return &domain.Outcome{
			PayoutID: payout.ID,
			Status:   domain.StatusPending,
			Amount:   payout.Amount,
			Currency: payout.Currency,
			Method:   payout.Method,
			Message:  "Payout requested. It will be processed manually.",
		}, nil
	}

	return s.transfer(ctx, log, payout, assignment)
}

// transfer sends an automated payout and settles its local state. A rejected
// or timed out transfer is not an error for the caller: the payout is marked
// FAILED and its commissions are released.
func (s *Service) transfer(ctx context.Context, log *zap.Logger, payout *domain.Payout, assignment *referraldomain.Assignment) (*domain.Outcome, error) {
	log = log.With(zap.String("payout_id", payout.ID.String()))

	timeout := s.cfg.Payout.TransferTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	transferCtx, cancel := context.WithTimeout(ctx, timeout)
	transferID, transferErr := s.gateway.CreateTransfer(transferCtx, processordomain.TransferInput{
		Amount:         payout.Amount,
		Currency:       payout.Currency,
		Destination:    *assignment.PayoutDestination,
		IdempotencyKey: idempotencyKey(payout.ID),
		Metadata: map[string]string{
			processordomain.MetadataPayoutID:  payout.ID.String(),
			processordomain.MetadataAccountID: assignment.AccountID.String(),
		},
	})
	timedOut := errors.Is(transferCtx.Err(), context.DeadlineExceeded)
	cancel()

	// settlement must not be abandoned when the caller goes away
	settleCtx := context.WithoutCancel(ctx)

	if transferErr == nil {
		err := s.db.WithContext(settleCtx).Transaction(func(tx *gorm.DB) error {
			ok, err := s.repo.MarkProcessing(settleCtx, tx, payout.ID, transferID, s.clock.Now())
			if err != nil {
				return err
			}
			if !ok {
				return domain.ErrInvalidTransition
			}
			return s.audit(settleCtx, tx, assignment, auditdomain.ActorTypeSystem, "", auditdomain.ActionPayoutInitiated, payout, map[string]any{
				"transfer_id": transferID,
			})
		})
		if err != nil {
			// the payout stays PENDING without a transfer id; stale recovery
			// replays the same idempotency key and picks the transfer up
			log.Error("failed to record initiated transfer", zap.String("transfer_id", transferID), zap.Error(err))
			return nil, err
		}
		log.Info("payout transfer initiated", zap.String("transfer_id", transferID), zap.Int64("amount", payout.Amount))
		s.obsMetrics.RecordPayoutOutcome(ctx, string(payout.Method), "initiated")
		return &domain.Outcome{
			PayoutID:   payout.ID,
			Status:     domain.StatusProcessing,
			Amount:     payout.Amount,
			Currency:   payout.Currency,
			Method:     payout.Method,
			TransferID: transferID,
			Message:    "Payout initiated.",
		}, nil
	}

	reason := failureReason(transferErr, timedOut)
	log.Warn("payout transfer failed", zap.String("reason", reason), zap.Error(transferErr))
	if err := s.rollback(settleCtx, log, payout, assignment, reason); err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPayoutOutcome(ctx, string(payout.Method), "failed")
	return &domain.Outcome{
		PayoutID:      payout.ID,
		Status:        domain.StatusFailed,
		Amount:        payout.Amount,
		Currency:      payout.Currency,
		Method:        payout.Method,
		FailureReason: reason,
		Message:       "Payout failed. Your balance is available again.",
	}, nil
}

// rollback marks the payout FAILED and releases its commissions in one
// transaction, retrying a bounded number of times.
func (s *Service) rollback(ctx context.Context, log *zap.Logger, payout *domain.Payout, assignment *referraldomain.Assignment, reason string) error {
	var err error
	for attempt := 1; attempt <= rollbackAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return s.failAndRelease(ctx, tx, payout, assignment, reason, auditdomain.ActorTypeSystem, "")
		})
		if err == nil || errors.Is(err, domain.ErrInvalidTransition) {
			return err
		}
		log.Warn("payout rollback attempt failed", zap.Int("attempt", attempt), zap.Error(err))
		if attempt < rollbackAttempts {
			time.Sleep(time.Duration(attempt) * rollbackBackoff)
		}
	}
	log.Error("payout rollback exhausted", zap.Error(err))
	return fmt.Errorf("%w: %v", domain.ErrRollbackFailed, err)
}

func (s *Service) failAndRelease(ctx context.Context, tx *gorm.DB, payout *domain.Payout, assignment *referraldomain.Assignment, reason string, actorType auditdomain.ActorType, actorID string) error {
	now := s.clock.Now()
	ok, err := s.repo.MarkFailed(ctx, tx, payout.ID, reason, now)
	if err != nil {
		return err
	}
	if !ok {
		return domain.ErrInvalidTransition
	}
	released, err := s.referralRepo.UnclaimCommissions(ctx, tx, payout.ID, now)
	if err != nil {
		return err
	}
	return s.audit(ctx, tx, assignment, actorType, actorID, auditdomain.ActionPayoutFailed, payout, map[string]any{
		"reason":   reason,
		"released": released,
	})
}

// affiliateProgram returns the account's active affiliate assignment and its
// template. Both are nil when the account has no such assignment; a customer
// referral assignment earns commissions but cannot be paid out.
func (s *Service) affiliateProgram(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*referraldomain.Assignment, *referraldomain.Template, error) {
	assignment, err := s.referralRepo.FindAssignmentByAccount(ctx, tx, accountID)
	if err != nil || !assignment.Active() {
		return nil, nil, err
	}
	template, err := s.referralRepo.FindTemplateByID(ctx, tx, assignment.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	if template == nil || template.Type != referraldomain.TemplateAffiliate {
		return nil, nil, nil
	}
	return assignment, template, nil
}

func (s *Service) Summary(ctx context.Context, accountID snowflake.ID) (*domain.Summary, error) {
	summary := &domain.Summary{
		MinThreshold:  s.cfg.Referral.DefaultMinPayout,
		Currency:      s.cfg.Referral.Currency,
		RecentPayouts: []domain.Payout{},
	}
	assignment, err := s.referralRepo.FindAssignmentByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return summary, nil
	}

	available, err := s.referralRepo.QualifiedBalance(ctx, s.db, assignment.ID)
	if err != nil {
		return nil, err
	}
	pending, err := s.referralRepo.PendingBalance(ctx, s.db, assignment.ID)
	if err != nil {
		return nil, err
	}
	template, err := s.referralRepo.FindTemplateByID(ctx, s.db, assignment.TemplateID)
	if err != nil {
		return nil, err
	}
	recent, err := s.repo.ListRecent(ctx, s.db, assignment.ID, recentPayoutsLimit)
	if err != nil {
		return nil, err
	}

	summary.AvailableBalance = available
	summary.PendingBalance = pending
	summary.TotalEarned = assignment.TotalEarned
	summary.TotalPaid = assignment.TotalPaid
	summary.PayoutMethod = assignment.PayoutMethod
	summary.MinThreshold = referraldomain.MinPayoutThreshold(assignment, template, s.cfg.Referral.DefaultMinPayout)
	summary.Currency = assignment.Currency
	summary.CanRequestPayout = assignment.Active() && template != nil && template.Type == referraldomain.TemplateAffiliate &&
		available > 0 && available >= summary.MinThreshold
	if recent != nil {
		summary.RecentPayouts = recent
	}
	return summary, nil
}

func (s *Service) Complete(ctx context.Context, req domain.CompleteRequest) (*domain.Payout, error) {
	var out *domain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, assignment, err := s.loadOpen(ctx, tx, req.PayoutID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		var ref *string
		if v := strings.TrimSpace(req.ExternalRef); v != "" {
			ref = &v
		}
		ok, err := s.repo.MarkCompleted(ctx, tx, payout.ID, ref, now)
		if err != nil {
			return err
		}
		if !ok {
			return domain.ErrInvalidTransition
		}
		if err := s.referralRepo.AddPaid(ctx, tx, payout.AssignmentID, payout.Amount, now); err != nil {
			return err
		}
		if err := s.audit(ctx, tx, assignment, auditdomain.ActorTypeOperator, req.ActorID, auditdomain.ActionPayoutCompleted, payout, map[string]any{
			"external_ref": req.ExternalRef,
		}); err != nil {
			return err
		}
		out, err = s.repo.FindByID(ctx, tx, payout.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	logger.WithContext(ctx, s.log).Info("payout completed",
		zap.String("payout_id", out.ID.String()),
		zap.Int64("amount", out.Amount),
	)
	s.obsMetrics.RecordPayoutOutcome(ctx, string(out.Method), "completed")
	return out, nil
}

func (s *Service) Fail(ctx context.Context, req domain.FailRequest) (*domain.Payout, error) {
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, domain.ErrInvalidReason
	}
	reason = truncate(reason)

	var out *domain.Payout
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		payout, assignment, err := s.loadOpen(ctx, tx, req.PayoutID)
		if err != nil {
			return err
		}
		if err := s.failAndRelease(ctx, tx, payout, assignment, reason, auditdomain.ActorTypeOperator, req.ActorID); err != nil {
			return err
		}
		out, err = s.repo.FindByID(ctx, tx, payout.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.obsMetrics.RecordPayoutOutcome(ctx, string(out.Method), "failed")
	return out, nil
}

func (s *Service) loadOpen(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Payout, *referraldomain.Assignment, error) {
	payout, err := s.repo.FindByID(ctx, tx, id)
	if err != nil {
		return nil, nil, err
	}
	if payout == nil {
		return nil, nil, domain.ErrPayoutNotFound
	}
	if !payout.Status.Open() {
		return nil, nil, domain.ErrInvalidTransition
	}
	assignment, err := s.referralRepo.FindAssignmentByID(ctx, tx, payout.AssignmentID)
	if err != nil {
		return nil, nil, err
	}
	return payout, assignment, nil
}

func (s *Service) Statement(ctx context.Context, accountID snowflake.ID, payoutID snowflake.ID) ([]byte, error) {
	if s.renderer == nil {
		return nil, domain.ErrStatementDisabled
	}
	payout, err := s.repo.FindByID(ctx, s.db, payoutID)
	if err != nil {
		return nil, err
	}
	if payout == nil {
		return nil, domain.ErrPayoutNotFound
	}
	assignment, err := s.referralRepo.FindAssignmentByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	// another account's payout is reported as missing
	if assignment == nil || assignment.ID != payout.AssignmentID {
		return nil, domain.ErrPayoutNotFound
	}
	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	commissions, err := s.referralRepo.ListByPayout(ctx, s.db, payout.ID)
	if err != nil {
		return nil, err
	}

	data := domain.StatementData{
		PayoutID:     payout.ID.String(),
		AccountName:  account.Name,
		AccountEmail: account.Email,
		ReferralCode: assignment.Code,
		Status:       payout.Status,
		Method:       payout.Method,
		Currency:     payout.Currency,
		Amount:       payout.Amount,
		RequestedAt:  payout.RequestedAt,
		GeneratedAt:  s.clock.Now(),
		Lines:        make([]domain.StatementLine, 0, len(commissions)),
	}
	if payout.ExternalTransferID != nil {
		data.TransferID = *payout.ExternalTransferID
	}
	for i := range commissions {
		c := &commissions[i]
		line := domain.StatementLine{
			PaymentRef: c.PaymentRef,
			EarnedAt:   c.CreatedAt,
			Amount:     c.Effective(),
		}
		if c.InvoiceRef != nil {
			line.InvoiceRef = *c.InvoiceRef
		}
		data.Lines = append(data.Lines, line)
	}
	return s.renderer.RenderPayoutStatement(ctx, data)
}

func (s *Service) RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	log := logger.WithContext(ctx, s.log)
	before := s.clock.Now().Add(-olderThan)
	stale, err := s.repo.ListStale(ctx, s.db, string(referraldomain.PayoutMethodStripeConnect), before, limit)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for i := range stale {
		payout := &stale[i]
		plog := log.With(zap.String("payout_id", payout.ID.String()))
		ok, err := s.recoverOne(ctx, plog, payout)
		if err != nil {
			plog.Warn("stale payout recovery failed", zap.Error(err))
			continue
		}
		if ok {
			recovered++
		}
	}
	return recovered, nil
}

// recoverOne replays the transfer of a stale automated payout. A payout whose
// assignment lost its destination stays PENDING for an operator.
func (s *Service) recoverOne(ctx context.Context, log *zap.Logger, payout *domain.Payout) (bool, error) {
	assignment, err := s.referralRepo.FindAssignmentByID(ctx, s.db, payout.AssignmentID)
	if err != nil {
		return false, err
	}
	if assignment == nil {
		return false, referraldomain.ErrAssignmentNotFound
	}
	if !assignment.Automated() {
		log.Warn("stale payout has no transfer destination; leaving it for manual settlement")
		return false, nil
	}

	release, err := s.lock(ctx, log, assignment.ID)
	if err != nil {
		return false, err
	}
	defer release()

	outcome, err := s.transfer(ctx, log, payout, assignment)
	if err != nil {
		return false, err
	}
	log.Info("stale payout recovered", zap.String("status", string(outcome.Status)))
	return true, nil
}

// lock takes the per-assignment payout lock. Lock store errors fail open; the
// conditional claim still protects the ledger.
func (s *Service) lock(ctx context.Context, log *zap.Logger, assignmentID snowflake.ID) (func(), error) {
	noop := func() {}
	if s.guard == nil {
		return noop, nil
	}
	token, ok, err := s.guard.Lock(ctx, assignmentID.String())
	if err != nil {
		log.Warn("payout lock unavailable", zap.Error(err))
		return noop, nil
	}
	if !ok {
		return nil, domain.ErrPayoutInProgress
	}
	return func() {
		if token == "" {
			return
		}
		if err := s.guard.Unlock(context.WithoutCancel(ctx), assignmentID.String(), token); err != nil {
			log.Warn("payout lock release failed", zap.Error(err))
		}
	}, nil
}

func (s *Service) reject(ctx context.Context, rej *domain.RejectionError) error {
	s.obsMetrics.RecordPayoutOutcome(ctx, "", "rejected_"+rej.Code)
	return rej
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, assignment *referraldomain.Assignment, actorType auditdomain.ActorType, actorID string, action string, payout *domain.Payout, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	entry := auditdomain.Entry{
		ActorType:  actorType,
		Action:     action,
		TargetType: "referral_payout",
		Metadata:   metadata,
	}
	targetID := payout.ID.String()
	entry.TargetID = &targetID
	if assignment != nil {
		accountID := assignment.AccountID
		entry.AccountID = &accountID
	}
	if actorID != "" {
		entry.ActorID = &actorID
	}
	if entry.Metadata == nil {
		entry.Metadata = map[string]any{}
	}
	entry.Metadata["amount"] = payout.Amount
	entry.Metadata["currency"] = payout.Currency
	entry.Metadata["method"] = string(payout.Method)
	return s.auditSvc.Record(ctx, tx, entry)
}

func idempotencyKey(id snowflake.ID) string {
	return "payout-" + id.String()
}

func failureReason(err error, timedOut bool) string {
	if timedOut || errors.Is(err, context.DeadlineExceeded) {
		return reasonTimeout
	}
	return truncate(err.Error())
}

// truncate caps reason at maxReasonLength bytes without splitting a rune.
func truncate(reason string) string {
	if len(reason) <= maxReasonLength {
		return reason
	}
	cut := maxReasonLength
	for cut > 0 && !utf8.RuneStart(reason[cut]) {
		cut--
	}
	return reason[:cut]
}
