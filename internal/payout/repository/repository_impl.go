package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	"github.com/rubenoroz/closeframe-sub002/pkg/db"
	"gorm.io/gorm"
)

const payoutColumns = `id, assignment_id, amount, currency, method, status, external_transfer_id,
	failure_reason, requested_at, processed_at, completed_at, failed_at, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, tx *gorm.DB, p *domain.Payout) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO referral_payouts (`+payoutColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID,
		p.AssignmentID,
		p.Amount,
		p.Currency,
		p.Method,
		p.Status,
		p.ExternalTransferID,
		p.FailureReason,
		p.RequestedAt,
		p.ProcessedAt,
		p.CompletedAt,
		p.FailedAt,
		p.CreatedAt,
		p.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Payout, error) {
	var p domain.Payout
	err := tx.WithContext(ctx).Raw(
		`SELECT `+payoutColumns+` FROM referral_payouts WHERE id = ?`+db.ForUpdate(tx),
		id,
	).Scan(&p).Error
	if err != nil {
		return nil, err
	}
	if p.ID == 0 {
		return nil, nil
	}
	return &p, nil
}

func (r *repo) MarkProcessing(ctx context.Context, tx *gorm.DB, id snowflake.ID, transferID string, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_payouts
		 SET status = ?, external_transfer_id = ?, processed_at = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		domain.StatusProcessing, transferID, now, now, id, domain.StatusPending,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkFailed(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_payouts
		 SET status = ?, failure_reason = ?, failed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusFailed, reason, now, now, id, domain.StatusPending, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) MarkCompleted(ctx context.Context, tx *gorm.DB, id snowflake.ID, externalRef *string, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_payouts
		 SET status = ?, external_transfer_id = COALESCE(?, external_transfer_id), completed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		domain.StatusCompleted, externalRef, now, now, id, domain.StatusPending, domain.StatusProcessing,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) ListRecent(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 10
	}
	var items []domain.Payout
	err := tx.WithContext(ctx).Raw(
		`SELECT `+payoutColumns+` FROM referral_payouts
		 WHERE assignment_id = ?
		 ORDER BY requested_at DESC, id DESC
		 LIMIT ?`,
		assignmentID, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListStale(ctx context.Context, tx *gorm.DB, method string, before time.Time, limit int) ([]domain.Payout, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []domain.Payout
	err := tx.WithContext(ctx).Raw(
		`SELECT `+payoutColumns+` FROM referral_payouts
		 WHERE status = ? AND method = ? AND external_transfer_id IS NULL AND requested_at < ?
		 ORDER BY id ASC
		 LIMIT ?`,
		domain.StatusPending, method, before, limit,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}
