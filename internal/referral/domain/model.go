package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TemplateType string

const (
	TemplateAffiliate        TemplateType = "AFFILIATE"
	TemplateCustomerReferral TemplateType = "CUSTOMER_REFERRAL"
)

const (
	TemplateCodeCustomerReferral = "customer_referral"
	TemplateCodeAffiliate        = "affiliate"
)

type AssignmentStatus string

const (
	AssignmentActive    AssignmentStatus = "ACTIVE"
	AssignmentSuspended AssignmentStatus = "SUSPENDED"
)

type PayoutMethod string

const (
	PayoutMethodStripeConnect PayoutMethod = "STRIPE_CONNECT"
	PayoutMethodManual        PayoutMethod = "MANUAL"
)

func ParsePayoutMethod(raw string) (PayoutMethod, bool) {
	switch PayoutMethod(raw) {
	case PayoutMethodStripeConnect, PayoutMethodManual:
		return PayoutMethod(raw), true
	default:
		return "", false
	}
}

type CommissionStatus string

const (
	CommissionPending   CommissionStatus = "PENDING"
	CommissionQualified CommissionStatus = "QUALIFIED"
	CommissionReversed  CommissionStatus = "REVERSED"
)

const (
	ReversalKindRefund     = "refund"
	ReversalKindChargeback = "chargeback"
)

// ProgramConfig carries per-template settings and per-assignment overrides.
type ProgramConfig struct {
	MinPayoutThreshold *int64 `json:"min_payout_threshold,omitempty"`
}

type Template struct {
	ID                snowflake.ID                      `gorm:"primaryKey" json:"id"`
	Code              string                            `json:"code"`
	Type              TemplateType                      `json:"type"`
	CommissionRate    decimal.Decimal                   `json:"commission_rate"`
	QualificationDays int                               `json:"qualification_days"`
	Config            datatypes.JSONType[ProgramConfig] `json:"config"`
	CreatedAt         time.Time                         `json:"created_at"`
	UpdatedAt         time.Time                         `json:"updated_at"`
}

func (Template) TableName() string { return "referral_profile_templates" }

type Assignment struct {
	ID                snowflake.ID                      `gorm:"primaryKey" json:"id"`
	AccountID         snowflake.ID                      `json:"account_id"`
	TemplateID        snowflake.ID                      `json:"template_id"`
	Code              string                            `json:"code"`
	Status            AssignmentStatus                  `json:"status"`
	PayoutMethod      PayoutMethod                      `json:"payout_method"`
	PayoutDestination *string                           `json:"payout_destination,omitempty"`
	ConfigOverride    datatypes.JSONType[ProgramConfig] `json:"config_override"`
	TotalEarned       int64                             `json:"total_earned"`
	TotalPaid         int64                             `json:"total_paid"`
	Currency          string                            `json:"currency"`
	CreatedAt         time.Time                         `json:"created_at"`
	UpdatedAt         time.Time                         `json:"updated_at"`
}

func (Assignment) TableName() string { return "referral_assignments" }

func (a *Assignment) Active() bool {
	return a != nil && a.Status == AssignmentActive
}

// Automated reports whether payouts for this assignment go out as processor
// transfers rather than through an operator.
func (a *Assignment) Automated() bool {
	return a != nil && a.PayoutMethod == PayoutMethodStripeConnect &&
		a.PayoutDestination != nil && *a.PayoutDestination != ""
}

// MinPayoutThreshold resolves the payout minimum: assignment override, then
// template config, then fallback.
func MinPayoutThreshold(assignment *Assignment, template *Template, fallback int64) int64 {
	if assignment != nil {
		if v := assignment.ConfigOverride.Data().MinPayoutThreshold; v != nil {
			return *v
		}
	}
	if template != nil {
		if v := template.Config.Data().MinPayoutThreshold; v != nil {
			return *v
		}
	}
	return fallback
}

type Commission struct {
	ID                snowflake.ID     `gorm:"primaryKey" json:"id"`
	AssignmentID      snowflake.ID     `json:"assignment_id"`
	ReferredAccountID *snowflake.ID    `json:"referred_account_id,omitempty"`
	PaymentRef        string           `json:"payment_ref"`
	InvoiceRef        *string          `json:"invoice_ref,omitempty"`
	BaseAmount        int64            `json:"base_amount"`
	Amount            int64            `json:"amount"`
	AdjustedAmount    *int64           `json:"adjusted_amount,omitempty"`
	RefundedAmount    int64            `json:"refunded_amount"`
	Currency          string           `json:"currency"`
	Status            CommissionStatus `json:"status"`
	PayoutID          *snowflake.ID    `json:"payout_id,omitempty"`
	QualifiesAt       time.Time        `json:"qualifies_at"`
	QualifiedAt       *time.Time       `json:"qualified_at,omitempty"`
	ReversedAt        *time.Time       `json:"reversed_at,omitempty"`
	ReversalReason    *string          `json:"reversal_reason,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
}

func (Commission) TableName() string { return "referral_commissions" }

// Effective is the amount the commission currently contributes to balances.
func (c *Commission) Effective() int64 {
	if c.AdjustedAmount != nil {
		return *c.AdjustedAmount
	}
	return c.Amount
}

// PaymentReversal remembers a refund or chargeback whose commission has not
// been recorded yet.
type PaymentReversal struct {
	PaymentRef     string    `gorm:"primaryKey" json:"payment_ref"`
	Kind           string    `json:"kind"`
	RefundedAmount int64     `json:"refunded_amount"`
	FullReversal   bool      `json:"full_reversal"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (PaymentReversal) TableName() string { return "referral_payment_reversals" }

// CommissionAmount applies rate to the paid amount, rounding half away from zero.
func CommissionAmount(paid int64, rate decimal.Decimal) int64 {
	return decimal.NewFromInt(paid).Mul(rate).Round(0).IntPart()
}

// ProratedAmount scales amount by the unrefunded share of base.
func ProratedAmount(amount, base, refunded int64) int64 {
	if base <= 0 || refunded >= base {
		return 0
	}
	if refunded <= 0 {
		return amount
	}
	remaining := decimal.NewFromInt(base - refunded)
	return decimal.NewFromInt(amount).Mul(remaining).Div(decimal.NewFromInt(base)).Round(0).IntPart()
}
