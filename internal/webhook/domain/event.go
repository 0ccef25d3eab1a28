package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

const ProviderStripe = "stripe"

// Processor event type names handled by the reconciler.
const (
	TypeCheckoutCompleted   = "checkout.session.completed"
	TypeInvoicePaid         = "invoice.payment_succeeded"
	TypeChargeRefunded      = "charge.refunded"
	TypeDisputeCreated      = "charge.dispute.created"
	TypeSubscriptionDeleted = "customer.subscription.deleted"
)

const BillingReasonCycle = "subscription_cycle"

// EventRecord is the persisted copy of every handled delivery.
type EventRecord struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `json:"provider"`
	ProviderEventID string         `json:"provider_event_id"`
	EventType       string         `json:"event_type"`
	Payload         datatypes.JSON `json:"payload"`
	ReceivedAt      time.Time      `json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "webhook_events" }

// Envelope carries the verified event identity next to its decoded body.
type Envelope struct {
	Provider string
	ID       string
	Type     string
	Payload  []byte
	Event    Event
}

// Event is the closed set of reconciled event bodies.
type Event interface {
	isEvent()
}

type CheckoutCompleted struct {
	SessionID         string
	CustomerID        string
	SubscriptionID    string
	ClientReferenceID string
	Metadata          map[string]string
}

type InvoicePaid struct {
	InvoiceID      string
	CustomerID     string
	SubscriptionID string
	PaymentRef     string
	AmountPaid     int64
	Currency       string
	BillingReason  string
	// Metadata is the subscription metadata snapshot carried by the invoice.
	Metadata map[string]string
}

type ChargeRefunded struct {
	ChargeID       string
	PaymentIntent  string
	AmountRefunded int64
	Refunded       bool
}

// PaymentRef is the reference commissions are keyed by.
func (e ChargeRefunded) PaymentRef() string {
	if e.PaymentIntent != "" {
		return e.PaymentIntent
	}
	return e.ChargeID
}

type DisputeCreated struct {
	DisputeID     string
	ChargeID      string
	PaymentIntent string
	Reason        string
}

type SubscriptionDeleted struct {
	SubscriptionID string
	CustomerID     string
	Metadata       map[string]string
}

// Ignored is any verified event outside the reconciled set.
type Ignored struct{}

func (CheckoutCompleted) isEvent()   {}
func (InvoicePaid) isEvent()         {}
func (ChargeRefunded) isEvent()      {}
func (DisputeCreated) isEvent()      {}
func (SubscriptionDeleted) isEvent() {}
func (Ignored) isEvent()             {}
