package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
)

type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Open reports whether an operator can still settle or fail the payout.
func (s Status) Open() bool {
	return s == StatusPending || s == StatusProcessing
}

type Payout struct {
	ID                 snowflake.ID                `gorm:"primaryKey" json:"id"`
	AssignmentID       snowflake.ID                `json:"assignment_id"`
	Amount             int64                       `json:"amount"`
	Currency           string                      `json:"currency"`
	Method             referraldomain.PayoutMethod `json:"method"`
	Status             Status                      `json:"status"`
	ExternalTransferID *string                     `json:"external_transfer_id,omitempty"`
	FailureReason      *string                     `json:"failure_reason,omitempty"`
	RequestedAt        time.Time                   `json:"requested_at"`
	ProcessedAt        *time.Time                  `json:"processed_at,omitempty"`
	CompletedAt        *time.Time                  `json:"completed_at,omitempty"`
	FailedAt           *time.Time                  `json:"failed_at,omitempty"`
	CreatedAt          time.Time                   `json:"created_at"`
	UpdatedAt          time.Time                   `json:"updated_at"`
}

func (Payout) TableName() string { return "referral_payouts" }

type Outcome struct {
	PayoutID      snowflake.ID                `json:"payout_id"`
	Status        Status                      `json:"status"`
	Amount        int64                       `json:"amount"`
	Currency      string                      `json:"currency"`
	Method        referraldomain.PayoutMethod `json:"method"`
	TransferID    string                      `json:"transfer_id,omitempty"`
	FailureReason string                      `json:"failure_reason,omitempty"`
	Message       string                      `json:"message"`
}

type Summary struct {
	AvailableBalance int64                       `json:"availableBalance"`
	PendingBalance   int64                       `json:"pendingBalance"`
	TotalEarned      int64                       `json:"totalEarned"`
	TotalPaid        int64                       `json:"totalPaid"`
	PayoutMethod     referraldomain.PayoutMethod `json:"payoutMethod"`
	MinThreshold     int64                       `json:"minThreshold"`
	CanRequestPayout bool                        `json:"canRequestPayout"`
	Currency         string                      `json:"currency"`
	RecentPayouts    []Payout                    `json:"recentPayouts"`
}

// StatementLine is one commission row on a remittance statement.
type StatementLine struct {
	PaymentRef string
	InvoiceRef string
	EarnedAt   time.Time
	Amount     int64
}

type StatementData struct {
	PayoutID     string
	AccountName  string
	AccountEmail string
	ReferralCode string
	Status       Status
	Method       referraldomain.PayoutMethod
	TransferID   string
	Currency     string
	Amount       int64
	RequestedAt  time.Time
	GeneratedAt  time.Time
	Lines        []StatementLine
}
