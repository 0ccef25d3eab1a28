package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

type ChangeType string

const (
	ChangeCheckout  ChangeType = "checkout"
	ChangeUpgrade   ChangeType = "upgrade"
	ChangeDowngrade ChangeType = "downgrade"
	ChangeUnchanged ChangeType = "unchanged"
	ChangeCancel    ChangeType = "cancel_scheduled"
)

type ChangePlanRequest struct {
	AccountID snowflake.ID
	PlanID    snowflake.ID
	// PriceID defaults to the plan's first price when empty.
	PriceID string
}

// Outcome tells the caller what happened. For checkout the caller is
// redirected to URL; nothing changed locally yet.
type Outcome struct {
	Type          ChangeType    `json:"type"`
	URL           string        `json:"url,omitempty"`
	PlanID        *snowflake.ID `json:"planId,omitempty"`
	EffectiveDate *time.Time    `json:"effectiveDate,omitempty"`
	Message       string        `json:"message,omitempty"`
}

type Service interface {
	ChangePlan(ctx context.Context, req ChangePlanRequest) (*Outcome, error)
	// Cancel asks the processor to end the subscription at period end. The
	// local reset happens when the deletion event arrives.
	Cancel(ctx context.Context, accountID snowflake.ID) (*Outcome, error)
}

var (
	ErrInvalidPrice         = errors.New("invalid_price")
	ErrPlanNotPurchasable   = errors.New("plan_not_purchasable")
	ErrProcessorUnavailable = errors.New("processor_unavailable")
	ErrNoSubscription       = errors.New("no_active_subscription")
)
