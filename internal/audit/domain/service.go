package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/pkg/db/pagination"
	"gorm.io/gorm"
)

const (
	ActionPayoutRequested    = "payout.requested"
	ActionPayoutInitiated    = "payout.initiated"
	ActionPayoutFailed       = "payout.failed"
	ActionPayoutCompleted    = "payout.completed"
	ActionCommissionReversed = "commission.reversed"
	ActionCommissionAdjusted = "commission.adjusted"
	ActionAffiliateEnrolled  = "referral.affiliate_enrolled"
	ActionPlanCatalogSynced  = "plan.catalog_synced"
	ActionPlanChanged        = "subscription.plan_changed"
	ActionCancelRequested    = "subscription.cancel_requested"
	ActionAccessDenied       = "authorization.denied"
)

// Entry is one state-changing action against the ledger.
type Entry struct {
	AccountID  *snowflake.ID
	ActorType  ActorType
	ActorID    *string
	Action     string
	TargetType string
	TargetID   *string
	Metadata   map[string]any
}

type ListAuditLogRequest struct {
	pagination.Pagination
	AccountID  *snowflake.ID
	Action     string
	TargetType string
	TargetID   string
	StartAt    *time.Time
	EndAt      *time.Time
}

type ListAuditLogResponse struct {
	pagination.PageInfo
	AuditLogs []AuditLog `json:"audit_logs"`
}

type Service interface {
	// Record appends entry using tx when given so the audit row commits
	// together with the state change it describes.
	Record(ctx context.Context, tx *gorm.DB, entry Entry) error
	List(ctx context.Context, req ListAuditLogRequest) (ListAuditLogResponse, error)
}

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, entry *AuditLog) error
	List(ctx context.Context, db *gorm.DB, filter ListFilter) ([]*AuditLog, error)
}

var (
	ErrInvalidPageToken = errors.New("invalid_page_token")
	ErrInvalidTimeRange = errors.New("invalid_time_range")
	ErrInvalidAction    = errors.New("invalid_action")
)
