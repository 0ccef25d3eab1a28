// Package stripe implements the processor gateway on top of stripe-go.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/processor/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	codeNoSubscriptionLineItems = "invoice_no_subscription_line_items"
	codeNoCustomerLineItems     = "invoice_no_customer_line_items"
)

type Params struct {
	fx.In

	Cfg config.Config
	Log *zap.Logger
}

type Gateway struct {
	api     *client.API
	log     *zap.Logger
	timeout time.Duration
}

func NewGateway(p Params) domain.Gateway {
	timeout := p.Cfg.Stripe.RequestTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	log := p.Log.Named("processor.stripe")

	key := strings.TrimSpace(p.Cfg.Stripe.SecretKey)
	if key == "" {
		log.Warn("stripe secret key not set, processor calls will fail")
		return &Gateway{log: log, timeout: timeout}
	}
	backends := stripe.NewBackends(&http.Client{Timeout: timeout})
	return newGateway(key, backends, timeout, log)
}

func newGateway(key string, backends *stripe.Backends, timeout time.Duration, log *zap.Logger) *Gateway {
	return &Gateway{
		api:     client.New(key, backends),
		log:     log,
		timeout: timeout,
	}
}

func (g *Gateway) CreateCustomer(ctx context.Context, input domain.CreateCustomerInput) (string, error) {
	if g.api == nil {
		return "", domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Email: stripe.String(input.Email),
	}
	if input.Name != "" {
		params.Name = stripe.String(input.Name)
	}
	params.Context = ctx
	params.AddMetadata(domain.MetadataAccountID, input.AccountID)
	params.SetIdempotencyKey("customer-" + input.AccountID)

	cus, err := g.api.Customers.New(params)
	if err != nil {
		return "", g.translate("create customer", err)
	}
	return cus.ID, nil
}

func (g *Gateway) CreateCheckoutSession(ctx context.Context, input domain.CheckoutInput) (string, error) {
	if g.api == nil {
		return "", domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		Customer:   stripe.String(input.CustomerID),
		SuccessURL: stripe.String(input.SuccessURL),
		CancelURL:  stripe.String(input.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(input.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: copyMetadata(input.Metadata),
		},
	}
	if input.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(input.ClientReferenceID)
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return "", g.translate("create checkout session", err)
	}
	if strings.TrimSpace(session.URL) == "" {
		return "", fmt.Errorf("%w: checkout session without url", domain.ErrRejected)
	}
	return session.URL, nil
}

func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if g.api == nil {
		return nil, domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Get(subscriptionID, params)
	if err != nil {
		return nil, g.translate("get subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Gateway) UpdateSubscriptionPrice(ctx context.Context, input domain.UpdatePriceInput) (*domain.Subscription, error) {
	if g.api == nil {
		return nil, domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{
		Items: []*stripe.SubscriptionItemsParams{
			{
				ID:    stripe.String(input.ItemID),
				Price: stripe.String(input.PriceID),
			},
		},
	}
	if input.Prorate {
		params.ProrationBehavior = stripe.String("create_prorations")
	} else {
		params.ProrationBehavior = stripe.String("none")
		params.BillingCycleAnchorUnchanged = stripe.Bool(true)
	}
	// an empty value removes the key on the processor side
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	params.Context = ctx

	sub, err := g.api.Subscriptions.Update(input.SubscriptionID, params)
	if err != nil {
		return nil, g.translate("update subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Gateway) CancelAtPeriodEnd(ctx context.Context, subscriptionID string) (*domain.Subscription, error) {
	if g.api == nil {
		return nil, domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.SubscriptionParams{CancelAtPeriodEnd: stripe.Bool(true)}
	params.Context = ctx
	sub, err := g.api.Subscriptions.Update(subscriptionID, params)
	if err != nil {
		return nil, g.translate("cancel subscription", err)
	}
	return toSubscription(sub), nil
}

func (g *Gateway) InvoiceNow(ctx context.Context, customerID string, subscriptionID string) error {
	if g.api == nil {
		return domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.InvoiceParams{
		Customer:     stripe.String(customerID),
		Subscription: stripe.String(subscriptionID),
	}
	params.Context = ctx
	inv, err := g.api.Invoices.New(params)
	if err != nil {
		return g.translate("create invoice", err)
	}

	payParams := &stripe.InvoicePayParams{}
	payParams.Context = ctx
	if _, err := g.api.Invoices.Pay(inv.ID, payParams); err != nil {
		return g.translate("pay invoice", err)
	}
	return nil
}

func (g *Gateway) CreateTransfer(ctx context.Context, input domain.TransferInput) (string, error) {
	if g.api == nil {
		return "", domain.ErrNotConfigured
	}

	params := &stripe.TransferParams{
		Amount:      stripe.Int64(input.Amount),
		Currency:    stripe.String(strings.ToLower(input.Currency)),
		Destination: stripe.String(input.Destination),
	}
	for k, v := range input.Metadata {
		params.AddMetadata(k, v)
	}
	if input.IdempotencyKey != "" {
		params.SetIdempotencyKey(input.IdempotencyKey)
	}
	// the caller owns the deadline for transfers
	params.Context = ctx

	tr, err := g.api.Transfers.New(params)
	if err != nil {
		return "", g.translate("create transfer", err)
	}
	return tr.ID, nil
}

func (g *Gateway) ChargePaymentIntent(ctx context.Context, chargeID string) (string, error) {
	if g.api == nil {
		return "", domain.ErrNotConfigured
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	params := &stripe.ChargeParams{}
	params.Context = ctx
	ch, err := g.api.Charges.Get(chargeID, params)
	if err != nil {
		return "", g.translate("get charge", err)
	}
	if ch.PaymentIntent == nil {
		return "", nil
	}
	return ch.PaymentIntent.ID, nil
}

func (g *Gateway) translate(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, op, err)
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		g.log.Warn("stripe transport error", zap.String("op", op), zap.Error(err))
		return fmt.Errorf("%w: %s: %v", domain.ErrUnavailable, op, err)
	}

	switch {
	case stripeErr.Code == stripe.ErrorCodeResourceMissing || stripeErr.HTTPStatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, op)
	case stripeErr.Code == stripe.ErrorCode(codeNoSubscriptionLineItems),
		stripeErr.Code == stripe.ErrorCode(codeNoCustomerLineItems):
		return domain.ErrNothingToInvoice
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests,
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError,
		stripeErr.Type == stripe.ErrorTypeAPI:
		return fmt.Errorf("%w: %s: %s", domain.ErrUnavailable, op, stripeErr.Msg)
	default:
		return fmt.Errorf("%w: %s: %s", domain.ErrRejected, op, stripeErr.Msg)
	}
}

func toSubscription(sub *stripe.Subscription) *domain.Subscription {
	if sub == nil {
		return nil
	}
	out := &domain.Subscription{
		ID:       sub.ID,
		Status:   string(sub.Status),
		Metadata: copyMetadata(sub.Metadata),
	}
	if sub.Customer != nil {
		out.CustomerID = sub.Customer.ID
	}
	if sub.EndedAt > 0 {
		ended := time.Unix(sub.EndedAt, 0).UTC()
		out.EndedAt = &ended
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.ItemID = item.ID
		if item.Price != nil {
			out.PriceID = item.Price.ID
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			out.CurrentPeriodEnd = &end
		}
	}
	return out
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
