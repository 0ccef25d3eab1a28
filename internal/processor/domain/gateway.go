package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable is returned for timeouts, transport failures and 5xx
	// answers. Callers may retry.
	ErrUnavailable = errors.New("processor_unavailable")
	ErrNotFound    = errors.New("processor_resource_not_found")
	// ErrNothingToInvoice means there were no pending line items to bill.
	ErrNothingToInvoice = errors.New("nothing_to_invoice")
	ErrNotConfigured    = errors.New("processor_not_configured")
	ErrRejected         = errors.New("processor_rejected")
)

const (
	MetadataAccountID       = "account_id"
	MetadataPlanID          = "plan_id"
	MetadataReferralCode    = "referral_code"
	MetadataScheduledPlanID = "scheduled_plan_id"
	MetadataPayoutID        = "payout_id"
)

const (
	StatusActive            = "active"
	StatusTrialing          = "trialing"
	StatusCanceled          = "canceled"
	StatusIncompleteExpired = "incomplete_expired"
)

type Subscription struct {
	ID               string
	CustomerID       string
	Status           string
	ItemID           string
	PriceID          string
	CurrentPeriodEnd *time.Time
	EndedAt          *time.Time
	Metadata         map[string]string
}

// Live reports whether the subscription can still be modified in place.
func (s *Subscription) Live() bool {
	return s != nil && (s.Status == StatusActive || s.Status == StatusTrialing)
}

// Ended reports whether the subscription reached a terminal state and can no
// longer grant a plan.
func (s *Subscription) Ended() bool {
	if s == nil {
		return true
	}
	return s.EndedAt != nil || s.Status == StatusCanceled || s.Status == StatusIncompleteExpired
}

type CreateCustomerInput struct {
	AccountID string
	Email     string
	Name      string
}

type CheckoutInput struct {
	CustomerID        string
	PriceID           string
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	// Metadata is attached to both the session and the resulting subscription.
	Metadata map[string]string
}

type UpdatePriceInput struct {
	SubscriptionID string
	ItemID         string
	PriceID        string
	// Prorate bills the difference now. Without it the switch takes effect on
	// the next cycle and the billing anchor is kept.
	Prorate  bool
	Metadata map[string]string
}

type TransferInput struct {
	Amount         int64
	Currency       string
	Destination    string
	IdempotencyKey string
	Metadata       map[string]string
}

//go:generate mockgen -source=gateway.go -destination=../mock/gateway_mock.go -package=mock

// Gateway is the subset of the payment processor the billing core drives.
type Gateway interface {
	CreateCustomer(ctx context.Context, input CreateCustomerInput) (string, error)
	CreateCheckoutSession(ctx context.Context, input CheckoutInput) (string, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateSubscriptionPrice(ctx context.Context, input UpdatePriceInput) (*Subscription, error)
	CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*Subscription, error)
	// InvoiceNow creates and pays an invoice for pending items on the subscription.
	InvoiceNow(ctx context.Context, customerID string, subscriptionID string) error
	CreateTransfer(ctx context.Context, input TransferInput) (string, error)
	// ChargePaymentIntent returns the payment intent behind a charge, or "".
	ChargePaymentIntent(ctx context.Context, chargeID string) (string, error)
}
