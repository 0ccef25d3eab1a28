package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gosimple/slug"
	"github.com/oklog/ulid/v2"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	"github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/pkg/db"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	codeAttempts  = 5
	codeSuffixLen = 6
	maxSlugLength = 24
)

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Cfg         config.Config
	Repo        domain.Repository
	AccountRepo accountdomain.Repository
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	cfg         config.ReferralConfig
	repo        domain.Repository
	accountRepo accountdomain.Repository
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("referral.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		cfg:         p.Cfg.Referral,
		repo:        p.Repo,
		accountRepo: p.AccountRepo,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

// EnsureDefaultTemplates creates the built-in programs when missing.
func (s *Service) EnsureDefaultTemplates(ctx context.Context) error {
	now := s.clock.Now()
	days := s.cfg.DefaultQualificationDays
	if days <= 0 {
		days = 30
	}
	for _, t := range []domain.Template{
		{
			Code:              domain.TemplateCodeCustomerReferral,
			Type:              domain.TemplateCustomerReferral,
			CommissionRate:    decimalRate("0.20"),
			QualificationDays: days,
		},
		{
			Code:              domain.TemplateCodeAffiliate,
			Type:              domain.TemplateAffiliate,
			CommissionRate:    decimalRate("0.30"),
			QualificationDays: days,
		},
	} {
		t.ID = s.genID.Generate()
		t.Config = datatypes.NewJSONType(domain.ProgramConfig{})
		t.CreatedAt = now
		t.UpdatedAt = now
		if err := s.repo.UpsertTemplate(ctx, s.db, &t); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) GetAssignmentByAccount(ctx context.Context, accountID snowflake.ID) (*domain.Assignment, error) {
	assignment, err := s.repo.FindAssignmentByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if assignment == nil {
		return nil, domain.ErrAssignmentNotFound
	}
	return assignment, nil
}

func (s *Service) EnsureAssignment(ctx context.Context, accountID snowflake.ID) (*domain.Assignment, error) {
	existing, err := s.repo.FindAssignmentByAccount(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	template, err := s.repo.FindTemplateByCode(ctx, s.db, domain.TemplateCodeCustomerReferral)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, domain.ErrTemplateNotFound
	}

	base := codeBase(account)
	for attempt := 0; attempt < codeAttempts; attempt++ {
		now := s.clock.Now()
		assignment := &domain.Assignment{
			ID:             s.genID.Generate(),
			AccountID:      accountID,
			TemplateID:     template.ID,
			Code:           base + "-" + codeSuffix(),
			Status:         domain.AssignmentActive,
			PayoutMethod:   domain.PayoutMethodManual,
			ConfigOverride: datatypes.NewJSONType(domain.ProgramConfig{}),
			Currency:       s.currency(),
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		err := s.repo.InsertAssignment(ctx, s.db, assignment)
		if err == nil {
			return assignment, nil
		}
		if !db.IsDuplicateKeyErr(err) {
			return nil, err
		}
		// either a concurrent call created it, or the code collided
		existing, findErr := s.repo.FindAssignmentByAccount(ctx, s.db, accountID)
		if findErr != nil {
			return nil, findErr
		}
		if existing != nil {
			return existing, nil
		}
	}
	return nil, domain.ErrCodeExhausted
}

func (s *Service) EnrollAffiliate(ctx context.Context, req domain.EnrollAffiliateRequest) (*domain.Assignment, error) {
	method, ok := domain.ParsePayoutMethod(string(req.PayoutMethod))
	if !ok {
		return nil, domain.ErrInvalidPayoutMethod
	}
	destination := strings.TrimSpace(req.PayoutDestination)
	if method == domain.PayoutMethodStripeConnect && destination == "" {
		return nil, domain.ErrInvalidDestination
	}
	if req.MinPayoutThreshold != nil && *req.MinPayoutThreshold < 0 {
		return nil, domain.ErrInvalidThreshold
	}

	if _, err := s.EnsureAssignment(ctx, req.AccountID); err != nil {
		return nil, err
	}
	template, err := s.repo.FindTemplateByCode(ctx, s.db, domain.TemplateCodeAffiliate)
	if err != nil {
		return nil, err
	}
	if template == nil {
		return nil, domain.ErrTemplateNotFound
	}

	var out *domain.Assignment
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		assignment, err := s.repo.FindAssignmentByAccount(ctx, tx, req.AccountID)
		if err != nil {
			return err
		}
		if assignment == nil {
			return domain.ErrAssignmentNotFound
		}

		assignment.TemplateID = template.ID
		assignment.Status = domain.AssignmentActive
		assignment.PayoutMethod = method
		assignment.PayoutDestination = nil
		if destination != "" {
			assignment.PayoutDestination = &destination
		}
		assignment.ConfigOverride = datatypes.NewJSONType(domain.ProgramConfig{MinPayoutThreshold: req.MinPayoutThreshold})

		now := s.clock.Now()
		if err := s.repo.UpdateAssignmentProgram(ctx, tx, assignment, now); err != nil {
			return err
		}
		assignment.UpdatedAt = now

		if s.auditSvc != nil {
			targetID := assignment.ID.String()
			accountID := req.AccountID
			if err := s.auditSvc.Record(ctx, tx, auditdomain.Entry{
				AccountID:  &accountID,
				ActorType:  auditdomain.ActorTypeOperator,
				Action:     auditdomain.ActionAffiliateEnrolled,
				TargetType: "referral_assignment",
				TargetID:   &targetID,
				Metadata: map[string]any{
					"payout_method":      string(method),
					"payout_destination": destination,
					"template":           template.Code,
				},
			}); err != nil {
				return err
			}
		}
		out = assignment
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) RecordCommission(ctx context.Context, input domain.RecordCommissionInput) (*domain.Commission, error) {
	input.PaymentRef = strings.TrimSpace(input.PaymentRef)
	if input.PaymentRef == "" {
		return nil, domain.ErrInvalidPaymentRef
	}
	if input.PaidAmount <= 0 {
		s.obsMetrics.RecordCommissionEvent(ctx, "skipped")
		return nil, nil
	}
	log := logger.WithContext(ctx, s.log).With(zap.String("payment_ref", input.PaymentRef))

	var out *domain.Commission
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// a refund racing the first recording must see either the commission
		// or the tombstone
		if err := s.repo.LockPaymentRef(ctx, tx, input.PaymentRef); err != nil {
			return err
		}
		code := strings.TrimSpace(input.ReferralCode)
		if code == "" && input.PayerAccountID != 0 {
			payer, err := s.accountRepo.FindByID(ctx, tx, input.PayerAccountID)
			if err != nil {
				return err
			}
			if payer != nil && payer.ReferredByCode != nil {
				code = *payer.ReferredByCode
			}
		}
		if code == "" {
			return nil
		}

		assignment, err := s.repo.FindAssignmentByCode(ctx, tx, code)
		if err != nil {
			return err
		}
		switch {
		case assignment == nil:
			log.Info("referral code not found, skipping commission", zap.String("code", code))
			return nil
		case assignment.AccountID == input.PayerAccountID:
			log.Info("self-referral ignored", zap.String("assignment_id", assignment.ID.String()))
			return nil
		case !assignment.Active():
			log.Info("inactive referral assignment, skipping commission", zap.String("assignment_id", assignment.ID.String()))
			return nil
		}

		template, err := s.repo.FindTemplateByID(ctx, tx, assignment.TemplateID)
		if err != nil {
			return err
		}
		if template == nil {
			return domain.ErrTemplateNotFound
		}
		amount := domain.CommissionAmount(input.PaidAmount, template.CommissionRate)
		if amount <= 0 {
			return nil
		}

		now := s.clock.Now()
		commission := &domain.Commission{
			ID:           s.genID.Generate(),
			AssignmentID: assignment.ID,
			PaymentRef:   input.PaymentRef,
			BaseAmount:   input.PaidAmount,
			Amount:       amount,
			Currency:     strings.ToLower(firstNonEmpty(input.Currency, assignment.Currency, s.currency())),
			Status:       domain.CommissionPending,
			QualifiesAt:  now.AddDate(0, 0, template.QualificationDays),
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if input.PayerAccountID != 0 {
			payer := input.PayerAccountID
			commission.ReferredAccountID = &payer
		}
		if ref := strings.TrimSpace(input.InvoiceRef); ref != "" {
			commission.InvoiceRef = &ref
		}

		inserted, err := s.repo.InsertCommission(ctx, tx, commission)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := s.repo.FindCommissionByPaymentRef(ctx, tx, input.PaymentRef)
			if err != nil {
				return err
			}
			out = existing
			return nil
		}
		if err := s.repo.AddEarned(ctx, tx, assignment.ID, amount, now); err != nil {
			return err
		}

		tombstone, err := s.repo.FindReversal(ctx, tx, input.PaymentRef)
		if err != nil {
			return err
		}
		if tombstone != nil {
			log.Info("applying early reversal", zap.String("kind", tombstone.Kind))
			if err := s.applyReversal(ctx, tx, commission, tombstone.Kind, tombstone.RefundedAmount, tombstone.FullReversal); err != nil {
				return err
			}
		}

		out = commission
		return nil
	})
	if err != nil {
		return nil, err
	}

	outcome := "skipped"
	if out != nil {
		outcome = "recorded"
	}
	s.obsMetrics.RecordCommissionEvent(ctx, outcome)
	return out, nil
}

func (s *Service) HandleRefund(ctx context.Context, input domain.RefundInput) error {
	return s.reverse(ctx, strings.TrimSpace(input.PaymentRef), domain.ReversalKindRefund, input.RefundedAmount, input.Full)
}

func (s *Service) HandleChargeback(ctx context.Context, input domain.ChargebackInput) error {
	return s.reverse(ctx, strings.TrimSpace(input.PaymentRef), domain.ReversalKindChargeback, 0, true)
}

func (s *Service) reverse(ctx context.Context, paymentRef string, kind string, refunded int64, full bool) error {
	if paymentRef == "" {
		return domain.ErrInvalidPaymentRef
	}
	if refunded < 0 {
		return domain.ErrInvalidAmount
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.LockPaymentRef(ctx, tx, paymentRef); err != nil {
			return err
		}
		commission, err := s.repo.FindCommissionByPaymentRef(ctx, tx, paymentRef)
		if err != nil {
			return err
		}
		if commission == nil {
			now := s.clock.Now()
			s.obsMetrics.RecordCommissionEvent(ctx, "tombstoned")
			return s.repo.UpsertReversal(ctx, tx, &domain.PaymentReversal{
				PaymentRef:     paymentRef,
				Kind:           kind,
				RefundedAmount: refunded,
				FullReversal:   full,
				CreatedAt:      now,
				UpdatedAt:      now,
			})
		}
		return s.applyReversal(ctx, tx, commission, kind, refunded, full)
	})
}

// applyReversal reverses or prorates commission. Repeating it with the same
// or a smaller refunded amount changes nothing.
func (s *Service) applyReversal(ctx context.Context, tx *gorm.DB, commission *domain.Commission, kind string, refunded int64, full bool) error {
	if commission.Status == domain.CommissionReversed {
		return nil
	}
	now := s.clock.Now()
	before := commission.Effective()

	if full || kind == domain.ReversalKindChargeback || refunded >= commission.BaseAmount {
		reversed, err := s.repo.ReverseCommission(ctx, tx, commission.ID, kind, now)
		if err != nil {
			return err
		}
		if !reversed {
			return nil
		}
		if err := s.repo.AddEarned(ctx, tx, commission.AssignmentID, -before, now); err != nil {
			return err
		}
		commission.Status = domain.CommissionReversed
		commission.ReversedAt = &now
		reason := kind
		commission.ReversalReason = &reason
		s.obsMetrics.RecordCommissionEvent(ctx, "reversed")
		return s.audit(ctx, tx, commission, auditdomain.ActionCommissionReversed, map[string]any{
			"kind":   kind,
			"amount": before,
		})
	}

	if refunded <= commission.RefundedAmount {
		return nil
	}
	adjusted := domain.ProratedAmount(commission.Amount, commission.BaseAmount, refunded)
	if adjusted >= before {
		return nil
	}
	changed, err := s.repo.AdjustCommission(ctx, tx, commission.ID, adjusted, refunded, now)
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}
	if err := s.repo.AddEarned(ctx, tx, commission.AssignmentID, adjusted-before, now); err != nil {
		return err
	}
	commission.AdjustedAmount = &adjusted
	commission.RefundedAmount = refunded
	s.obsMetrics.RecordCommissionEvent(ctx, "adjusted")
	return s.audit(ctx, tx, commission, auditdomain.ActionCommissionAdjusted, map[string]any{
		"refunded_amount": refunded,
		"previous_amount": before,
		"adjusted_amount": adjusted,
	})
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, commission *domain.Commission, action string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	targetID := commission.ID.String()
	metadata["payment_ref"] = commission.PaymentRef
	metadata["assignment_id"] = commission.AssignmentID.String()
	if commission.PayoutID != nil {
		metadata["payout_id"] = commission.PayoutID.String()
	}
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		ActorType:  auditdomain.ActorTypeWebhook,
		Action:     action,
		TargetType: "referral_commission",
		TargetID:   &targetID,
		Metadata:   metadata,
	})
}

func (s *Service) PromoteQualified(ctx context.Context, limit int) (int64, error) {
	promoted, err := s.repo.PromoteQualified(ctx, s.db, s.clock.Now(), limit)
	if err != nil {
		return 0, err
	}
	if promoted > 0 {
		s.log.Info("commissions qualified", zap.Int64("count", promoted))
	}
	return promoted, nil
}

func (s *Service) QualifiedBalance(ctx context.Context, assignmentID snowflake.ID) (int64, error) {
	return s.repo.QualifiedBalance(ctx, s.db, assignmentID)
}

func (s *Service) PendingBalance(ctx context.Context, assignmentID snowflake.ID) (int64, error) {
	return s.repo.PendingBalance(ctx, s.db, assignmentID)
}

func (s *Service) currency() string {
	if c := strings.TrimSpace(s.cfg.Currency); c != "" {
		return strings.ToLower(c)
	}
	return "usd"
}

func codeBase(account *accountdomain.Account) string {
	name := strings.TrimSpace(account.Name)
	if name == "" {
		name, _, _ = strings.Cut(account.Email, "@")
	}
	base := slug.Make(name)
	if len(base) > maxSlugLength {
		base = strings.Trim(base[:maxSlugLength], "-")
	}
	if base == "" {
		base = "ref"
	}
	return base
}

func codeSuffix() string {
	id := strings.ToLower(ulid.Make().String())
	return id[len(id)-codeSuffixLen:]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func decimalRate(raw string) decimal.Decimal {
	return decimal.RequireFromString(raw)
}
