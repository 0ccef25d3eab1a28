package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/clock"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	processordomain "github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const effectiveDateLayout = "January 2, 2006"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Cfg         config.Config
	AccountRepo accountdomain.Repository
	PlanSvc     plandomain.Service
	Gateway     processordomain.Gateway
	AuditSvc    auditdomain.Service `optional:"true"`
	ObsMetrics  *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	cfg         config.Config
	accountRepo accountdomain.Repository
	planSvc     plandomain.Service
	gateway     processordomain.Gateway
	auditSvc    auditdomain.Service
	obsMetrics  *obsmetrics.Metrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("subscription.service"),
		clock:       p.Clock,
		cfg:         p.Cfg,
		accountRepo: p.AccountRepo,
		planSvc:     p.PlanSvc,
		gateway:     p.Gateway,
		auditSvc:    p.AuditSvc,
		obsMetrics:  p.ObsMetrics,
	}
}

func (s *Service) ChangePlan(ctx context.Context, req domain.ChangePlanRequest) (*domain.Outcome, error) {
	log := logger.WithContext(ctx, s.log).With(
		zap.String("account_id", req.AccountID.String()),
		zap.String("plan_id", req.PlanID.String()),
	)

	target, err := s.planSvc.GetByID(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}
	account, err := s.accountRepo.FindByID(ctx, s.db.WithContext(ctx), req.AccountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}

	if !target.Purchasable() {
		return nil, domain.ErrPlanNotPurchasable
	}
	priceID := strings.TrimSpace(req.PriceID)
	if priceID == "" {
		priceID = target.PriceRefs[0]
	}
	if !target.HasPrice(priceID) {
		return nil, domain.ErrInvalidPrice
	}

	var sub *processordomain.Subscription
	if account.HasSubscription() {
		subID := *account.ProcessorSubscriptionID
		sub, err = s.gateway.GetSubscription(ctx, subID)
		switch {
		case errors.Is(err, processordomain.ErrNotFound):
			sub = nil
		case err != nil:
			return nil, processorError(err)
		}
		if !sub.Live() {
			log.Info("detaching stale subscription", zap.String("subscription_id", subID))
			if err := s.accountRepo.DetachSubscription(ctx, s.db.WithContext(ctx), account.ID, subID, s.clock.Now()); err != nil {
				return nil, err
			}
			sub = nil
		}
	}

	if sub == nil {
		return s.checkout(ctx, account, target, priceID)
	}

	var currentOrder = -1
	if account.PlanID != nil {
		current, err := s.planSvc.GetByID(ctx, *account.PlanID)
		switch {
		case errors.Is(err, plandomain.ErrPlanNotFound):
		case err != nil:
			return nil, err
		default:
			currentOrder = current.SortOrder
		}
	}

	switch {
	case target.SortOrder == currentOrder:
		s.obsMetrics.RecordPlanChange(ctx, string(domain.ChangeUnchanged))
		return &domain.Outcome{Type: domain.ChangeUnchanged}, nil
	case target.SortOrder > currentOrder:
		return s.upgrade(ctx, log, account, sub, target, priceID)
	default:
		return s.downgrade(ctx, account, sub, target, priceID)
	}
}

func (s *Service) checkout(ctx context.Context, account *accountdomain.Account, target *plandomain.Plan, priceID string) (*domain.Outcome, error) {
	customerID := ""
	if account.ProcessorCustomerID != nil {
		customerID = *account.ProcessorCustomerID
	}
	if customerID == "" {
		id, err := s.gateway.CreateCustomer(ctx, processordomain.CreateCustomerInput{
			AccountID: account.ID.String(),
			Email:     account.Email,
			Name:      account.Name,
		})
		if err != nil {
			return nil, processorError(err)
		}
		if err := s.accountRepo.SetCustomerID(ctx, s.db.WithContext(ctx), account.ID, id, s.clock.Now()); err != nil {
			return nil, err
		}
		customerID = id
	}

	metadata := map[string]string{
		processordomain.MetadataAccountID: account.ID.String(),
		processordomain.MetadataPlanID:    target.ID.String(),
	}
	if account.ReferredByCode != nil && *account.ReferredByCode != "" {
		metadata[processordomain.MetadataReferralCode] = *account.ReferredByCode
	}

	url, err := s.gateway.CreateCheckoutSession(ctx, processordomain.CheckoutInput{
		CustomerID:        customerID,
		PriceID:           priceID,
		ClientReferenceID: account.ID.String(),
		SuccessURL:        s.cfg.AppOrigin + "/settings/billing?checkout=success",
		CancelURL:         s.cfg.AppOrigin + "/settings/billing?checkout=canceled",
		Metadata:          metadata,
	})
	if err != nil {
		return nil, processorError(err)
	}

	s.obsMetrics.RecordPlanChange(ctx, string(domain.ChangeCheckout))
	planID := target.ID
	return &domain.Outcome{Type: domain.ChangeCheckout, URL: url, PlanID: &planID}, nil
}

func (s *Service) upgrade(ctx context.Context, log *zap.Logger, account *accountdomain.Account, sub *processordomain.Subscription, target *plandomain.Plan, priceID string) (*domain.Outcome, error) {
	updated, err := s.gateway.UpdateSubscriptionPrice(ctx, processordomain.UpdatePriceInput{
		SubscriptionID: sub.ID,
		ItemID:         sub.ItemID,
		PriceID:        priceID,
		Prorate:        true,
		Metadata: map[string]string{
			processordomain.MetadataPlanID:          target.ID.String(),
			processordomain.MetadataScheduledPlanID: "",
		},
	})
	if err != nil {
		return nil, processorError(err)
	}

	// The price switch is already committed at the processor.
	if err := s.gateway.InvoiceNow(ctx, sub.CustomerID, sub.ID); err != nil && !errors.Is(err, processordomain.ErrNothingToInvoice) {
		log.Warn("proration invoice failed", zap.String("subscription_id", sub.ID), zap.Error(err))
	}

	periodEnd := sub.CurrentPeriodEnd
	if updated != nil && updated.CurrentPeriodEnd != nil {
		periodEnd = updated.CurrentPeriodEnd
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.UpdatePlan(ctx, tx, account.ID, target.ID, priceID, periodEnd, s.clock.Now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, account, auditdomain.ActionPlanChanged, map[string]any{
			"type":     string(domain.ChangeUpgrade),
			"plan_id":  target.ID.String(),
			"price_id": priceID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPlanChange(ctx, string(domain.ChangeUpgrade))
	planID := target.ID
	return &domain.Outcome{
		Type:    domain.ChangeUpgrade,
		PlanID:  &planID,
		Message: fmt.Sprintf("You are now on the %s plan.", displayName(target)),
	}, nil
}

func (s *Service) downgrade(ctx context.Context, account *accountdomain.Account, sub *processordomain.Subscription, target *plandomain.Plan, priceID string) (*domain.Outcome, error) {
	updated, err := s.gateway.UpdateSubscriptionPrice(ctx, processordomain.UpdatePriceInput{
		SubscriptionID: sub.ID,
		ItemID:         sub.ItemID,
		PriceID:        priceID,
		Prorate:        false,
		Metadata: map[string]string{
			processordomain.MetadataScheduledPlanID: target.ID.String(),
		},
	})
	if err != nil {
		return nil, processorError(err)
	}

	planID := target.ID
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.accountRepo.SetScheduledPlan(ctx, tx, account.ID, &planID, s.clock.Now()); err != nil {
			return err
		}
		return s.audit(ctx, tx, account, auditdomain.ActionPlanChanged, map[string]any{
			"type":     string(domain.ChangeDowngrade),
			"plan_id":  target.ID.String(),
			"price_id": priceID,
		})
	})
	if err != nil {
		return nil, err
	}

	periodEnd := sub.CurrentPeriodEnd
	if updated != nil && updated.CurrentPeriodEnd != nil {
		periodEnd = updated.CurrentPeriodEnd
	}

	s.obsMetrics.RecordPlanChange(ctx, string(domain.ChangeDowngrade))
	out := &domain.Outcome{Type: domain.ChangeDowngrade, PlanID: &planID}
	if periodEnd != nil {
		at := periodEnd.UTC()
		out.EffectiveDate = &at
		out.Message = fmt.Sprintf("Your plan changes to %s on %s.", displayName(target), at.Format(effectiveDateLayout))
	} else {
		out.Message = fmt.Sprintf("Your plan changes to %s at the end of the current billing period.", displayName(target))
	}
	return out, nil
}

func (s *Service) Cancel(ctx context.Context, accountID snowflake.ID) (*domain.Outcome, error) {
	account, err := s.accountRepo.FindByID(ctx, s.db.WithContext(ctx), accountID)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, accountdomain.ErrAccountNotFound
	}
	if !account.HasSubscription() {
		return nil, domain.ErrNoSubscription
	}

	subID := *account.ProcessorSubscriptionID
	sub, err := s.gateway.CancelAtPeriodEnd(ctx, subID)
	if errors.Is(err, processordomain.ErrNotFound) {
		if err := s.accountRepo.DetachSubscription(ctx, s.db.WithContext(ctx), account.ID, subID, s.clock.Now()); err != nil {
			return nil, err
		}
		return nil, domain.ErrNoSubscription
	}
	if err != nil {
		return nil, processorError(err)
	}

	if err := s.audit(ctx, s.db.WithContext(ctx), account, auditdomain.ActionCancelRequested, map[string]any{
		"subscription_id": subID,
	}); err != nil {
		return nil, err
	}

	s.obsMetrics.RecordPlanChange(ctx, string(domain.ChangeCancel))
	out := &domain.Outcome{Type: domain.ChangeCancel, Message: "Your subscription ends at the end of the current billing period."}
	if sub != nil && sub.CurrentPeriodEnd != nil {
		at := sub.CurrentPeriodEnd.UTC()
		out.EffectiveDate = &at
		out.Message = fmt.Sprintf("Your subscription ends on %s.", at.Format(effectiveDateLayout))
	}
	return out, nil
}

func (s *Service) audit(ctx context.Context, tx *gorm.DB, account *accountdomain.Account, action string, metadata map[string]any) error {
	if s.auditSvc == nil {
		return nil
	}
	accountID := account.ID
	actorID := account.ID.String()
	targetID := account.ID.String()
	return s.auditSvc.Record(ctx, tx, auditdomain.Entry{
		AccountID:  &accountID,
		ActorType:  auditdomain.ActorTypeAccount,
		ActorID:    &actorID,
		Action:     action,
		TargetType: "account",
		TargetID:   &targetID,
		Metadata:   metadata,
	})
}

func processorError(err error) error {
	return fmt.Errorf("%w: %v", domain.ErrProcessorUnavailable, err)
}

func displayName(p *plandomain.Plan) string {
	if p.DisplayName != "" {
		return p.DisplayName
	}
	return p.Name
}
