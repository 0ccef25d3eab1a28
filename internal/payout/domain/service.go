package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

const (
	RejectNoProgram       = "no_program"
	RejectNothingToPayOut = "nothing_to_pay_out"
	RejectBelowThreshold  = "below_threshold"
)

var (
	ErrPayoutRejected    = errors.New("payout_rejected")
	ErrRateLimited       = errors.New("rate_limited")
	ErrPayoutInProgress  = errors.New("payout_in_progress")
	ErrClaimConflict     = errors.New("payout_claim_conflict")
	ErrPayoutNotFound    = errors.New("payout_not_found")
	ErrInvalidTransition = errors.New("invalid_payout_transition")
	ErrRollbackFailed    = errors.New("payout_rollback_failed")
	ErrInvalidReason     = errors.New("invalid_failure_reason")
	ErrStatementDisabled = errors.New("statement_renderer_unavailable")
)

// RejectionError is a precondition failure that left every record untouched.
// Balance and Threshold let the caller render progress toward a payout.
type RejectionError struct {
	Code      string
	Message   string
	Balance   int64
	Threshold int64
}

func (e *RejectionError) Error() string { return e.Code }

func (e *RejectionError) Is(target error) bool { return target == ErrPayoutRejected }

type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string { return ErrRateLimited.Error() }

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// Guard throttles and serializes payout requests. Implementations may pass
// everything through when their backing store is disabled.
type Guard interface {
	Allow(ctx context.Context, accountID string) (bool, time.Duration, error)
	Lock(ctx context.Context, assignmentID string) (string, bool, error)
	Unlock(ctx context.Context, assignmentID, token string) error
}

type StatementRenderer interface {
	RenderPayoutStatement(ctx context.Context, data StatementData) ([]byte, error)
}

type CompleteRequest struct {
	PayoutID    snowflake.ID
	ExternalRef string
	ActorID     string
}

type FailRequest struct {
	PayoutID snowflake.ID
	Reason   string
	ActorID  string
}

type Service interface {
	RequestPayout(ctx context.Context, accountID snowflake.ID) (*Outcome, error)
	Summary(ctx context.Context, accountID snowflake.ID) (*Summary, error)
	Complete(ctx context.Context, req CompleteRequest) (*Payout, error)
	Fail(ctx context.Context, req FailRequest) (*Payout, error)
	Statement(ctx context.Context, accountID snowflake.ID, payoutID snowflake.ID) ([]byte, error)
	// RecoverStale re-drives automated payouts stuck in PENDING without a
	// transfer id, which only happens when the process died mid-request.
	RecoverStale(ctx context.Context, olderThan time.Duration, limit int) (int, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payout *Payout) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payout, error)
	MarkProcessing(ctx context.Context, db *gorm.DB, id snowflake.ID, transferID string, now time.Time) (bool, error)
	MarkFailed(ctx context.Context, db *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error)
	MarkCompleted(ctx context.Context, db *gorm.DB, id snowflake.ID, externalRef *string, now time.Time) (bool, error)
	ListRecent(ctx context.Context, db *gorm.DB, assignmentID snowflake.ID, limit int) ([]Payout, error)
	ListStale(ctx context.Context, db *gorm.DB, method string, before time.Time, limit int) ([]Payout, error)
}
