package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"github.com/rubenoroz/closeframe-sub002/pkg/telemetry/correlation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// fallbackPeriod is used when the processor reports no period end for a
// freshly confirmed subscription.
const fallbackPeriod = 30 * 24 * time.Hour

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	GenID       *snowflake.Node
	Clock       clock.Clock
	Repo        domain.Repository
	Parser      domain.Parser
	AccountRepo accountdomain.Repository
	PlanSvc     plandomain.Service
	ReferralSvc referraldomain.Service
	Gateway     processordomain.Gateway
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	genID       *snowflake.Node
	clock       clock.Clock
	repo        domain.Repository
	parser      domain.Parser
	accountRepo accountdomain.Repository
	planSvc     plandomain.Service
	referralSvc referraldomain.Service
	gateway     processordomain.Gateway
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("webhook.service"),
		genID:       p.GenID,
		clock:       p.Clock,
		repo:        p.Repo,
		parser:      p.Parser,
		accountRepo: p.AccountRepo,
		planSvc:     p.PlanSvc,
		referralSvc: p.ReferralSvc,
		gateway:     p.Gateway,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signatureHeader string) error {
	env, err := s.parser.Parse(payload, signatureHeader)
	if err != nil {
		return err
	}
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	log := logger.WithContext(ctx, s.log).With(
		zap.String("provider", env.Provider),
		zap.String("event_id", env.ID),
		zap.String("event_type", env.Type),
	)

	if _, ok := env.Event.(domain.Ignored); ok {
		log.Debug("webhook event ignored")
		s.obsMetrics.RecordWebhookEvent(ctx, env.Provider, env.Type, "ignored")
		return nil
	}

	now := s.clock.Now()
	received := domain.EventRecord{
		ID:              s.genID.Generate(),
		Provider:        env.Provider,
		ProviderEventID: env.ID,
		EventType:       env.Type,
		Payload:         datatypes.JSON(env.Payload),
		ReceivedAt:      now,
	}
	inserted, err := s.repo.InsertEvent(ctx, s.db, &received)
	if err != nil {
		return err
	}
	stored := &received
	if !inserted {
		stored, err = s.repo.FindEvent(ctx, s.db, env.Provider, env.ID)
		if err != nil {
			return err
		}
		if stored == nil {
			return domain.ErrInvalidEvent
		}
		if stored.ProcessedAt != nil {
			s.obsMetrics.RecordWebhookEvent(ctx, env.Provider, env.Type, "duplicate")
			return domain.ErrEventAlreadyProcessed
		}
	}

	if err := s.dispatch(ctx, log, env.Event); err != nil {
		log.Error("webhook event failed", zap.Error(err))
		s.obsMetrics.RecordWebhookEvent(ctx, env.Provider, env.Type, "failed")
		return err
	}

	if err := s.repo.MarkProcessed(ctx, s.db, stored.ID, s.clock.Now()); err != nil {
		return err
	}
	log.Info("webhook event processed")
	s.obsMetrics.RecordWebhookEvent(ctx, env.Provider, env.Type, "processed")
	return nil
}

func (s *Service) dispatch(ctx context.Context, log *zap.Logger, event domain.Event) error {
	switch e := event.(type) {
	case domain.CheckoutCompleted:
		return s.checkoutCompleted(ctx, log, e)
	case domain.InvoicePaid:
		return s.invoicePaid(ctx, log, e)
	case domain.ChargeRefunded:
		return s.chargeRefunded(ctx, e)
	case domain.DisputeCreated:
		return s.disputeCreated(ctx, e)
	case domain.SubscriptionDeleted:
		return s.subscriptionDeleted(ctx, log, e)
	case domain.Ignored:
		return nil
	default:
		return fmt.Errorf("%w: unhandled %T", domain.ErrInvalidEvent, event)
	}
}

func (s *Service) checkoutCompleted(ctx context.Context, log *zap.Logger, e domain.CheckoutCompleted) error {
	rawAccount := strings.TrimSpace(e.Metadata[processordomain.MetadataAccountID])
	if rawAccount == "" {
		rawAccount = e.ClientReferenceID
	}
	accountID, err := snowflake.ParseString(rawAccount)
	if err != nil || accountID == 0 || e.SubscriptionID == "" {
		return domain.ErrMissingMetadata
	}
	log = log.With(zap.String("account_id", accountID.String()), zap.String("subscription_id", e.SubscriptionID))

	sub, err := s.gateway.GetSubscription(ctx, e.SubscriptionID)
	if err == nil && sub == nil {
		err = processordomain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load subscription: %w", err)
	}
	// A late checkout for a subscription that already ended must not revive
	// the paid plan the deletion event took away.
	if sub.Ended() {
		log.Info("checkout subscription already ended", zap.String("status", sub.Status))
		return nil
	}
	periodEnd := s.clock.Now().Add(fallbackPeriod)
	if sub.CurrentPeriodEnd != nil {
		periodEnd = *sub.CurrentPeriodEnd
	}

	plan, err := s.resolvePlan(ctx, e.Metadata[processordomain.MetadataPlanID], sub.PriceID)
	if err != nil {
		return err
	}
	if plan == nil {
		log.Warn("checkout plan did not match the catalog", zap.String("price_id", sub.PriceID))
		return nil
	}

	account, err := s.accountRepo.FindByID(ctx, s.db, accountID)
	if err != nil {
		return err
	}
	if account == nil {
		log.Warn("checkout for unknown account")
		return nil
	}

	customerID := e.CustomerID
	if customerID == "" {
		customerID = sub.CustomerID
	}
	if err := s.accountRepo.ApplySubscription(ctx, s.db, account.ID, accountdomain.SubscriptionFields{
		CustomerID:     customerID,
		SubscriptionID: sub.ID,
		PriceID:        sub.PriceID,
		PeriodEnd:      periodEnd,
		PlanID:         plan.ID,
	}, s.clock.Now()); err != nil {
		return err
	}
	s.obsMetrics.RecordPlanChange(ctx, "checkout")

	free, err := s.planSvc.FreePlan(ctx)
	if err != nil {
		return err
	}
	if free != nil && free.ID == plan.ID {
		return nil
	}
	if _, err := s.referralSvc.EnsureAssignment(ctx, account.ID); err != nil {
		return fmt.Errorf("ensure referral assignment: %w", err)
	}
	return nil
}

// resolvePlan prefers the plan id carried in metadata and falls back to the
// confirmed price.
func (s *Service) resolvePlan(ctx context.Context, rawPlanID string, priceID string) (*plandomain.Plan, error) {
	if id, err := snowflake.ParseString(strings.TrimSpace(rawPlanID)); err == nil && id != 0 {
		plan, err := s.planSvc.GetByID(ctx, id)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, plandomain.ErrPlanNotFound) {
			return nil, err
		}
	}
	if priceID == "" {
		return nil, nil
	}
	return s.planSvc.FindByPriceRef(ctx, priceID)
}

func (s *Service) invoicePaid(ctx context.Context, log *zap.Logger, e domain.InvoicePaid) error {
	if e.SubscriptionID == "" {
		return nil
	}
	log = log.With(zap.String("subscription_id", e.SubscriptionID), zap.String("invoice_id", e.InvoiceID))

	account, err := s.accountRepo.FindBySubscriptionID(ctx, s.db, e.SubscriptionID)
	if err != nil {
		return err
	}
	if account == nil {
		if id, perr := snowflake.ParseString(e.Metadata[processordomain.MetadataAccountID]); perr == nil && id != 0 {
			account, err = s.accountRepo.FindByID(ctx, s.db, id)
			if err != nil {
				return err
			}
		}
	}
	if account == nil {
		log.Warn("invoice for unknown subscription")
		return nil
	}

	sub, err := s.gateway.GetSubscription(ctx, e.SubscriptionID)
	switch {
	case errors.Is(err, processordomain.ErrNotFound):
		log.Warn("invoice subscription no longer exists")
		sub = nil
	case err != nil:
		return fmt.Errorf("load subscription: %w", err)
	}

	now := s.clock.Now()
	if sub != nil && sub.CurrentPeriodEnd != nil {
		if err := s.accountRepo.UpdatePeriodEnd(ctx, s.db, account.ID, *sub.CurrentPeriodEnd, now); err != nil {
			return err
		}
	}
	if sub != nil && e.BillingReason == domain.BillingReasonCycle {
		if err := s.applyScheduledPlan(ctx, log, account, sub); err != nil {
			return err
		}
	}

	if e.PaymentRef == "" || e.AmountPaid <= 0 {
		return nil
	}
	referralCode := ""
	if sub != nil {
		referralCode = sub.Metadata[processordomain.MetadataReferralCode]
	}
	if referralCode == "" {
		referralCode = e.Metadata[processordomain.MetadataReferralCode]
	}
	_, err = s.referralSvc.RecordCommission(ctx, referraldomain.RecordCommissionInput{
		PayerAccountID: account.ID,
		ReferralCode:   referralCode,
		PaymentRef:     e.PaymentRef,
		InvoiceRef:     e.InvoiceID,
		PaidAmount:     e.AmountPaid,
		Currency:       e.Currency,
	})
	return err
}

// applyScheduledPlan switches the account to a pending downgrade once the
// renewed subscription is billed at one of that plan's prices.
func (s *Service) applyScheduledPlan(ctx context.Context, log *zap.Logger, account *accountdomain.Account, sub *processordomain.Subscription) error {
	var scheduledID snowflake.ID
	if account.ScheduledPlanID != nil {
		scheduledID = *account.ScheduledPlanID
	} else if id, err := snowflake.ParseString(sub.Metadata[processordomain.MetadataScheduledPlanID]); err == nil {
		scheduledID = id
	}
	if scheduledID == 0 {
		return nil
	}

	plan, err := s.planSvc.GetByID(ctx, scheduledID)
	if errors.Is(err, plandomain.ErrPlanNotFound) {
		log.Warn("scheduled plan no longer exists", zap.String("plan_id", scheduledID.String()))
		return nil
	}
	if err != nil {
		return err
	}
	if !plan.HasPrice(sub.PriceID) {
		return nil
	}
	if err := s.accountRepo.UpdatePlan(ctx, s.db, account.ID, plan.ID, sub.PriceID, sub.CurrentPeriodEnd, s.clock.Now()); err != nil {
		return err
	}
	log.Info("scheduled plan applied", zap.String("plan", plan.Name))
	s.obsMetrics.RecordPlanChange(ctx, "scheduled_downgrade")
	return nil
}

func (s *Service) chargeRefunded(ctx context.Context, e domain.ChargeRefunded) error {
	ref := e.PaymentRef()
	if ref == "" {
		return domain.ErrInvalidEvent
	}
	return s.referralSvc.HandleRefund(ctx, referraldomain.RefundInput{
		PaymentRef:     ref,
		RefundedAmount: e.AmountRefunded,
		Full:           e.Refunded,
	})
}

func (s *Service) disputeCreated(ctx context.Context, e domain.DisputeCreated) error {
	ref := e.PaymentIntent
	if ref == "" && e.ChargeID != "" {
		intent, err := s.gateway.ChargePaymentIntent(ctx, e.ChargeID)
		if err != nil && !errors.Is(err, processordomain.ErrNotFound) {
			return fmt.Errorf("resolve disputed charge: %w", err)
		}
		ref = intent
		if ref == "" {
			ref = e.ChargeID
		}
	}
	if ref == "" {
		return domain.ErrInvalidEvent
	}
	return s.referralSvc.HandleChargeback(ctx, referraldomain.ChargebackInput{
		PaymentRef: ref,
		Reason:     e.Reason,
	})
}

func (s *Service) subscriptionDeleted(ctx context.Context, log *zap.Logger, e domain.SubscriptionDeleted) error {
	if e.SubscriptionID == "" {
		return domain.ErrInvalidEvent
	}
	account, err := s.accountRepo.FindBySubscriptionID(ctx, s.db, e.SubscriptionID)
	if err != nil {
		return err
	}
	if account == nil {
		log.Info("deleted subscription is not attached to any account", zap.String("subscription_id", e.SubscriptionID))
		return nil
	}

	var fallback *snowflake.ID
	free, err := s.planSvc.FreePlan(ctx)
	if err != nil {
		return err
	}
	if free != nil {
		fallback = &free.ID
	} else {
		log.Warn("no free plan configured; account left without a plan", zap.String("account_id", account.ID.String()))
	}

	changed, err := s.accountRepo.ClearSubscription(ctx, s.db, account.ID, e.SubscriptionID, fallback, s.clock.Now())
	if err != nil {
		return err
	}
	if changed {
		s.obsMetrics.RecordPlanChange(ctx, "cancelled")
	}
	return nil
}
