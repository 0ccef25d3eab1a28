package repository

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/pkg/db"
	"gorm.io/gorm"
)

const templateColumns = `id, code, type, commission_rate, qualification_days, config, created_at, updated_at`

const assignmentColumns = `id, account_id, template_id, code, status, payout_method, payout_destination,
	config_override, total_earned, total_paid, currency, created_at, updated_at`

const commissionColumns = `id, assignment_id, referred_account_id, payment_ref, invoice_ref, base_amount,
	amount, adjusted_amount, refunded_amount, currency, status, payout_id, qualifies_at, qualified_at,
	reversed_at, reversal_reason, created_at, updated_at`

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) UpsertTemplate(ctx context.Context, tx *gorm.DB, t *domain.Template) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO referral_profile_templates (`+templateColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (code) DO NOTHING`,
		t.ID, t.Code, t.Type, t.CommissionRate, t.QualificationDays, t.Config, t.CreatedAt, t.UpdatedAt,
	).Error
}

func (r *repo) FindTemplateByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Template, error) {
	var t domain.Template
	err := tx.WithContext(ctx).Raw(
		`SELECT `+templateColumns+` FROM referral_profile_templates WHERE id = ?`,
		id,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *repo) FindTemplateByCode(ctx context.Context, tx *gorm.DB, code string) (*domain.Template, error) {
	var t domain.Template
	err := tx.WithContext(ctx).Raw(
		`SELECT `+templateColumns+` FROM referral_profile_templates WHERE code = ?`,
		code,
	).Scan(&t).Error
	if err != nil {
		return nil, err
	}
	if t.ID == 0 {
		return nil, nil
	}
	return &t, nil
}

func (r *repo) InsertAssignment(ctx context.Context, tx *gorm.DB, a *domain.Assignment) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO referral_assignments (`+assignmentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.AccountID, a.TemplateID, a.Code, a.Status, a.PayoutMethod, a.PayoutDestination,
		a.ConfigOverride, a.TotalEarned, a.TotalPaid, a.Currency, a.CreatedAt, a.UpdatedAt,
	).Error
}

func (r *repo) findAssignment(ctx context.Context, tx *gorm.DB, where string, arg any) (*domain.Assignment, error) {
	var a domain.Assignment
	err := tx.WithContext(ctx).Raw(
		`SELECT `+assignmentColumns+` FROM referral_assignments WHERE `+where+` LIMIT 1`+db.ForUpdate(tx),
		arg,
	).Scan(&a).Error
	if err != nil {
		return nil, err
	}
	if a.ID == 0 {
		return nil, nil
	}
	return &a, nil
}

func (r *repo) FindAssignmentByID(ctx context.Context, tx *gorm.DB, id snowflake.ID) (*domain.Assignment, error) {
	return r.findAssignment(ctx, tx, "id = ?", id)
}

func (r *repo) FindAssignmentByAccount(ctx context.Context, tx *gorm.DB, accountID snowflake.ID) (*domain.Assignment, error) {
	return r.findAssignment(ctx, tx, "account_id = ?", accountID)
}

func (r *repo) FindAssignmentByCode(ctx context.Context, tx *gorm.DB, code string) (*domain.Assignment, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil, nil
	}
	return r.findAssignment(ctx, tx, "code = ?", code)
}

func (r *repo) UpdateAssignmentProgram(ctx context.Context, tx *gorm.DB, a *domain.Assignment, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE referral_assignments SET
			template_id = ?,
			status = ?,
			payout_method = ?,
			payout_destination = ?,
			config_override = ?,
			updated_at = ?
		 WHERE id = ?`,
		a.TemplateID, a.Status, a.PayoutMethod, a.PayoutDestination, a.ConfigOverride, now, a.ID,
	).Error
}

func (r *repo) AddEarned(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID, delta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE referral_assignments SET total_earned = total_earned + ?, updated_at = ? WHERE id = ?`,
		delta, now, assignmentID,
	).Error
}

func (r *repo) AddPaid(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID, delta int64, now time.Time) error {
	return tx.WithContext(ctx).Exec(
		`UPDATE referral_assignments SET total_paid = total_paid + ?, updated_at = ? WHERE id = ?`,
		delta, now, assignmentID,
	).Error
}

func (r *repo) InsertCommission(ctx context.Context, tx *gorm.DB, c *domain.Commission) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`INSERT INTO referral_commissions (`+commissionColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payment_ref) DO NOTHING`,
		c.ID, c.AssignmentID, c.ReferredAccountID, c.PaymentRef, c.InvoiceRef, c.BaseAmount,
		c.Amount, c.AdjustedAmount, c.RefundedAmount, c.Currency, c.Status, c.PayoutID, c.QualifiesAt,
		c.QualifiedAt, c.ReversedAt, c.ReversalReason, c.CreatedAt, c.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) LockPaymentRef(ctx context.Context, tx *gorm.DB, paymentRef string) error {
	return db.AdvisoryLock(ctx, tx, "referral_commission:"+paymentRef)
}

func (r *repo) FindCommissionByPaymentRef(ctx context.Context, tx *gorm.DB, paymentRef string) (*domain.Commission, error) {
	var c domain.Commission
	err := tx.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+` FROM referral_commissions WHERE payment_ref = ?`+db.ForUpdate(tx),
		paymentRef,
	).Scan(&c).Error
	if err != nil {
		return nil, err
	}
	if c.ID == 0 {
		return nil, nil
	}
	return &c, nil
}

func (r *repo) ReverseCommission(ctx context.Context, tx *gorm.DB, id snowflake.ID, reason string, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_commissions SET
			status = ?,
			reversed_at = ?,
			reversal_reason = ?,
			updated_at = ?
		 WHERE id = ? AND status <> ?`,
		domain.CommissionReversed, now, reason, now, id, domain.CommissionReversed,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) AdjustCommission(ctx context.Context, tx *gorm.DB, id snowflake.ID, adjusted int64, refunded int64, now time.Time) (bool, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_commissions SET
			adjusted_amount = ?,
			refunded_amount = ?,
			updated_at = ?
		 WHERE id = ? AND status <> ? AND COALESCE(adjusted_amount, amount) > ?`,
		adjusted, refunded, now, id, domain.CommissionReversed, adjusted,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) PromoteQualified(ctx context.Context, tx *gorm.DB, now time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 500
	}
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_commissions SET
			status = ?,
			qualified_at = ?,
			updated_at = ?
		 WHERE id IN (
			SELECT id FROM referral_commissions
			WHERE status = ? AND qualifies_at <= ?
			ORDER BY qualifies_at ASC
			LIMIT ?
		 ) AND status = ?`,
		domain.CommissionQualified, now, now,
		domain.CommissionPending, now, limit,
		domain.CommissionPending,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) ListClaimable(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID) ([]domain.Commission, error) {
	var items []domain.Commission
	err := tx.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+` FROM referral_commissions
		 WHERE assignment_id = ? AND status = ? AND payout_id IS NULL
		 ORDER BY id ASC`,
		assignmentID, domain.CommissionQualified,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ListByPayout(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) ([]domain.Commission, error) {
	var items []domain.Commission
	err := tx.WithContext(ctx).Raw(
		`SELECT `+commissionColumns+` FROM referral_commissions WHERE payout_id = ? ORDER BY id ASC`,
		payoutID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) ClaimCommissions(ctx context.Context, tx *gorm.DB, ids []snowflake.ID, payoutID snowflake.ID, now time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_commissions SET payout_id = ?, updated_at = ?
		 WHERE id IN ? AND payout_id IS NULL AND status = ?`,
		payoutID, now, ids, domain.CommissionQualified,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) UnclaimCommissions(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID, now time.Time) (int64, error) {
	res := tx.WithContext(ctx).Exec(
		`UPDATE referral_commissions SET payout_id = NULL, updated_at = ? WHERE payout_id = ?`,
		now, payoutID,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}

func (r *repo) sum(ctx context.Context, tx *gorm.DB, where string, args ...any) (int64, error) {
	var total int64
	err := tx.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(COALESCE(adjusted_amount, amount)), 0) FROM referral_commissions WHERE `+where,
		args...,
	).Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return total, nil
}

func (r *repo) SumClaimed(ctx context.Context, tx *gorm.DB, payoutID snowflake.ID) (int64, error) {
	return r.sum(ctx, tx, "payout_id = ?", payoutID)
}

func (r *repo) QualifiedBalance(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID) (int64, error) {
	return r.sum(ctx, tx, "assignment_id = ? AND status = ? AND payout_id IS NULL", assignmentID, domain.CommissionQualified)
}

func (r *repo) PendingBalance(ctx context.Context, tx *gorm.DB, assignmentID snowflake.ID) (int64, error) {
	return r.sum(ctx, tx, "assignment_id = ? AND status = ?", assignmentID, domain.CommissionPending)
}

func (r *repo) UpsertReversal(ctx context.Context, tx *gorm.DB, rev *domain.PaymentReversal) error {
	return tx.WithContext(ctx).Exec(
		`INSERT INTO referral_payment_reversals (payment_ref, kind, refunded_amount, full_reversal, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT (payment_ref) DO UPDATE SET
			kind = CASE WHEN excluded.kind = 'chargeback' THEN excluded.kind ELSE referral_payment_reversals.kind END,
			refunded_amount = CASE
				WHEN excluded.refunded_amount > referral_payment_reversals.refunded_amount THEN excluded.refunded_amount
				ELSE referral_payment_reversals.refunded_amount
			END,
			full_reversal = (referral_payment_reversals.full_reversal OR excluded.full_reversal),
			updated_at = excluded.updated_at`,
		rev.PaymentRef, rev.Kind, rev.RefundedAmount, rev.FullReversal, rev.CreatedAt, rev.UpdatedAt,
	).Error
}

func (r *repo) FindReversal(ctx context.Context, tx *gorm.DB, paymentRef string) (*domain.PaymentReversal, error) {
	var rev domain.PaymentReversal
	err := tx.WithContext(ctx).Raw(
		`SELECT payment_ref, kind, refunded_amount, full_reversal, created_at, updated_at
		 FROM referral_payment_reversals WHERE payment_ref = ?`,
		paymentRef,
	).Scan(&rev).Error
	if err != nil {
		return nil, err
	}
	if rev.PaymentRef == "" {
		return nil, nil
	}
	return &rev, nil
}
