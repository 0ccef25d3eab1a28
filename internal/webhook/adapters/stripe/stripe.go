package stripe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rubenoroz/closeframe-sub002/internal/config"
	"github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"github.com/stripe/stripe-go/v82/webhook"
)

type Adapter struct {
	secret string
}

func NewAdapter(cfg config.Config) *Adapter {
	return &Adapter{secret: strings.TrimSpace(cfg.Stripe.WebhookSecret)}
}

func (a *Adapter) Provider() string {
	return domain.ProviderStripe
}

func (a *Adapter) Parse(payload []byte, signatureHeader string) (*domain.Envelope, error) {
	if a.secret == "" {
		return nil, domain.ErrNotConfigured
	}
	if strings.TrimSpace(signatureHeader) == "" {
		return nil, domain.ErrInvalidSignature
	}

	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, a.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) ||
			errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) ||
			errors.Is(err, webhook.ErrTooOld) {
			return nil, domain.ErrInvalidSignature
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	if strings.TrimSpace(event.ID) == "" || event.Data == nil {
		return nil, domain.ErrInvalidEvent
	}

	env := &domain.Envelope{
		Provider: domain.ProviderStripe,
		ID:       event.ID,
		Type:     string(event.Type),
		Payload:  payload,
	}
	env.Event, err = decode(env.Type, event.Data.Raw)
	if err != nil {
		return nil, err
	}
	return env, nil
}

func decode(eventType string, raw json.RawMessage) (domain.Event, error) {
	switch eventType {
	case domain.TypeCheckoutCompleted:
		var session checkoutSession
		if err := unmarshal(raw, &session); err != nil {
			return nil, err
		}
		return domain.CheckoutCompleted{
			SessionID:         session.ID,
			CustomerID:        string(session.Customer),
			SubscriptionID:    string(session.Subscription),
			ClientReferenceID: strings.TrimSpace(session.ClientReferenceID),
			Metadata:          session.Metadata,
		}, nil

	case domain.TypeInvoicePaid:
		var inv invoice
		if err := unmarshal(raw, &inv); err != nil {
			return nil, err
		}
		return domain.InvoicePaid{
			InvoiceID:      inv.ID,
			CustomerID:     string(inv.Customer),
			SubscriptionID: inv.subscriptionID(),
			PaymentRef:     inv.paymentRef(),
			AmountPaid:     inv.AmountPaid,
			Currency:       strings.ToLower(inv.Currency),
			BillingReason:  inv.BillingReason,
			Metadata:       inv.subscriptionMetadata(),
		}, nil

	case domain.TypeChargeRefunded:
		var ch charge
		if err := unmarshal(raw, &ch); err != nil {
			return nil, err
		}
		return domain.ChargeRefunded{
			ChargeID:       ch.ID,
			PaymentIntent:  string(ch.PaymentIntent),
			AmountRefunded: ch.AmountRefunded,
			Refunded:       ch.Refunded,
		}, nil

	case domain.TypeDisputeCreated:
		var d dispute
		if err := unmarshal(raw, &d); err != nil {
			return nil, err
		}
		return domain.DisputeCreated{
			DisputeID:     d.ID,
			ChargeID:      string(d.Charge),
			PaymentIntent: string(d.PaymentIntent),
			Reason:        d.Reason,
		}, nil

	case domain.TypeSubscriptionDeleted:
		var sub subscription
		if err := unmarshal(raw, &sub); err != nil {
			return nil, err
		}
		return domain.SubscriptionDeleted{
			SubscriptionID: sub.ID,
			CustomerID:     string(sub.Customer),
			Metadata:       sub.Metadata,
		}, nil

	default:
		return domain.Ignored{}, nil
	}
}

func unmarshal(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return domain.ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidPayload, err)
	}
	return nil
}

// expandableID accepts either a bare object id or an expanded object.
type expandableID string

func (e *expandableID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*e = ""
		return nil
	}
	if b[0] == '"' {
		var id string
		if err := json.Unmarshal(b, &id); err != nil {
			return err
		}
		*e = expandableID(strings.TrimSpace(id))
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(b, &obj); err != nil {
		return err
	}
	*e = expandableID(strings.TrimSpace(obj.ID))
	return nil
}

type checkoutSession struct {
	ID                string            `json:"id"`
	Customer          expandableID      `json:"customer"`
	Subscription      expandableID      `json:"subscription"`
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

type invoice struct {
	ID            string       `json:"id"`
	Customer      expandableID `json:"customer"`
	AmountPaid    int64        `json:"amount_paid"`
	Currency      string       `json:"currency"`
	BillingReason string       `json:"billing_reason"`

	// pre-2025 API versions carry these at the top level
	Subscription        expandableID `json:"subscription"`
	PaymentIntent       expandableID `json:"payment_intent"`
	Charge              expandableID `json:"charge"`
	SubscriptionDetails *struct {
		Metadata map[string]string `json:"metadata"`
	} `json:"subscription_details"`

	Parent *struct {
		SubscriptionDetails *struct {
			Subscription expandableID      `json:"subscription"`
			Metadata     map[string]string `json:"metadata"`
		} `json:"subscription_details"`
	} `json:"parent"`
	Payments *struct {
		Data []struct {
			Payment struct {
				PaymentIntent expandableID `json:"payment_intent"`
				Charge        expandableID `json:"charge"`
			} `json:"payment"`
		} `json:"data"`
	} `json:"payments"`
}

func (i *invoice) subscriptionID() string {
	if i.Subscription != "" {
		return string(i.Subscription)
	}
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil {
		return string(i.Parent.SubscriptionDetails.Subscription)
	}
	return ""
}

func (i *invoice) subscriptionMetadata() map[string]string {
	if i.Parent != nil && i.Parent.SubscriptionDetails != nil && len(i.Parent.SubscriptionDetails.Metadata) > 0 {
		return i.Parent.SubscriptionDetails.Metadata
	}
	if i.SubscriptionDetails != nil {
		return i.SubscriptionDetails.Metadata
	}
	return nil
}

// paymentRef prefers the payment intent since refunds and disputes carry it.
func (i *invoice) paymentRef() string {
	if i.PaymentIntent != "" {
		return string(i.PaymentIntent)
	}
	if i.Payments != nil {
		for _, p := range i.Payments.Data {
			if p.Payment.PaymentIntent != "" {
				return string(p.Payment.PaymentIntent)
			}
			if p.Payment.Charge != "" {
				return string(p.Payment.Charge)
			}
		}
	}
	return string(i.Charge)
}

type charge struct {
	ID             string       `json:"id"`
	PaymentIntent  expandableID `json:"payment_intent"`
	AmountRefunded int64        `json:"amount_refunded"`
	Refunded       bool         `json:"refunded"`
}

type dispute struct {
	ID            string       `json:"id"`
	Charge        expandableID `json:"charge"`
	PaymentIntent expandableID `json:"payment_intent"`
	Reason        string       `json:"reason"`
}

type subscription struct {
	ID       string            `json:"id"`
	Customer expandableID      `json:"customer"`
	Metadata map[string]string `json:"metadata"`
}
