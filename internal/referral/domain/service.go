package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrAssignmentNotFound  = errors.New("referral_assignment_not_found")
	ErrTemplateNotFound    = errors.New("referral_template_not_found")
	ErrInvalidPayoutMethod = errors.New("invalid_payout_method")
	ErrInvalidDestination  = errors.New("invalid_payout_destination")
	ErrInvalidThreshold    = errors.New("invalid_payout_threshold")
	ErrInvalidPaymentRef   = errors.New("invalid_payment_ref")
	ErrInvalidAmount       = errors.New("invalid_amount")
	ErrCodeExhausted       = errors.New("referral_code_exhausted")
)

type EnrollAffiliateRequest struct {
	AccountID          snowflake.ID
	PayoutMethod       PayoutMethod
	PayoutDestination  string
	MinPayoutThreshold *int64
}

type RecordCommissionInput struct {
	PayerAccountID snowflake.ID
	ReferralCode   string
	PaymentRef     string
	InvoiceRef     string
	PaidAmount     int64
	Currency       string
}

type RefundInput struct {
	PaymentRef string
	// RefundedAmount is the cumulative amount refunded on the payment.
	RefundedAmount int64
	Full           bool
}

type ChargebackInput struct {
	PaymentRef string
	Reason     string
}

type Service interface {
	// EnsureDefaultTemplates creates the built-in programs when missing.
	EnsureDefaultTemplates(ctx context.Context) error
	EnsureAssignment(ctx context.Context, accountID snowflake.ID) (*Assignment, error)
	EnrollAffiliate(ctx context.Context, req EnrollAffiliateRequest) (*Assignment, error)
	GetAssignmentByAccount(ctx context.Context, accountID snowflake.ID) (*Assignment, error)

	// RecordCommission accrues a commission for a paid invoice. It returns nil
	// without error when the payment earns nothing.
	RecordCommission(ctx context.Context, input RecordCommissionInput) (*Commission, error)
	HandleRefund(ctx context.Context, input RefundInput) error
	HandleChargeback(ctx context.Context, input ChargebackInput) error
	PromoteQualified(ctx context.Context, limit int) (int64, error)

	QualifiedBalance(ctx context.Context, assignmentID snowflake.ID) (int64, error)
	PendingBalance(ctx context.Context, assignmentID snowflake.ID) (int64, error)
}

type Repository interface {
	UpsertTemplate(ctx context.Context, db *gorm.DB, template *Template) error
	FindTemplateByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Template, error)
	FindTemplateByCode(ctx context.Context, db *gorm.DB, code string) (*Template, error)

	InsertAssignment(ctx context.Context, db *gorm.DB, assignment *Assignment) error
	FindAssignmentByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Assignment, error)
	FindAssignmentByAccount(ctx context.Context, db *gorm.DB, accountID snowflake.ID) (*Assignment, error)
	FindAssignmentByCode(ctx context.Context, db *gorm.DB, code string) (*Assignment, error)
	UpdateAssignmentProgram(ctx context.Context, db *gorm.DB, assignment *Assignment, now time.Time) error
	AddEarned(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID, delta int64, now time.Time) error
	AddPaid(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID, delta int64, now time.Time) error

	// LockPaymentRef serializes commission recording and reversal for one
	// payment until db's transaction ends.
	LockPaymentRef(ctx context.Context, db *gorm.DB, paymentRef string) error
	// InsertCommission returns false when a commission for the payment exists.
	InsertCommission(ctx context.Context, db *gorm.DB, commission *Commission) (bool, error)
	FindCommissionByPaymentRef(ctx context.Context, db *gorm.DB, paymentRef string) (*Commission, error)
	ReverseCommission(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
	AdjustCommission(ctx context.Context, db *gorm.DB, id snowflake.ID, adjusted int64, refunded int64, now time.Time) (bool, error)
	PromoteQualified(ctx context.Context, db *gorm.DB, now time.Time, limit int) (int64, error)

	ListClaimable(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) ([]Commission, error)
	ListByPayout(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) ([]Commission, error)
	ClaimCommissions(ctx context.Context, db *gorm.DB, ids []snowflake.ID, payoutID snowflake.ID, now time.Time) (int64, error)
	UnclaimCommissions(ctx context.Context, db *gorm.DB, payoutID snowflake.ID, now time.Time) (int64, error)
	SumClaimed(ctx context.Context, db *gorm.DB, payoutID snowflake.ID) (int64, error)
	QualifiedBalance(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) (int64, error)
	PendingBalance(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID) (int64, error)

	UpsertReversal(ctx context.Context, db *gorm.DB, reversal *PaymentReversal) error
	FindReversal(ctx context.Context, db *gorm.DB, paymentRef string) (*PaymentReversal, error)
}
