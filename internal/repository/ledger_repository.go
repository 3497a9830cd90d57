package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/1905060202/image-ai-processor/internal/models"
)

// ErrNotCharged means the conditional debit matched no row: the balance or
// free-quota state changed between the permission check and settlement.
var ErrNotCharged = errors.New("settlement not charged")

// LedgerRepository owns the credit counters and their audit trail. All debits go
// through conditional UPDATEs so a concurrent spend can never push a balance
// below zero or a free counter past its limit.
type LedgerRepository struct {
	db *sql.DB
}

func NewLedgerRepository(db *sql.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// Settle commits the debit decided by the permission gate together with its
// usage record in one transaction. useFree increments the free counter by
// exactly 1 (bounded by freeLimit); otherwise cost credits are debited. The
// conditional WHERE re-verifies the gate's decision at commit time.
func (r *LedgerRepository) Settle(ctx context.Context, userID int64, op models.OperationType, cost int, useFree bool, freeLimit int, imageID *int64) (models.SettleOutcome, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return models.SettleOutcome{}, fmt.Errorf("begin settle tx: %w", err)
	}
	defer tx.Rollback()

	outcome := models.SettleOutcome{UsedFree: useFree, Cost: cost}
	if useFree {
		const query = `
UPDATE users SET free_t2i_count = free_t2i_count + 1, updated_at = NOW()
WHERE id = ? AND free_t2i_count < ?`
		res, err := tx.ExecContext(ctx, query, userID, freeLimit)
		if err != nil {
			return models.SettleOutcome{}, fmt.Errorf("consume free quota: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return models.SettleOutcome{}, fmt.Errorf("free quota rows affected: %w", err)
		}
		if affected == 0 {
			return models.SettleOutcome{}, ErrNotCharged
		}
		outcome.Cost = 0
	} else if cost > 0 {
		const query = `
UPDATE users SET credits = credits - ?, updated_at = NOW()
WHERE id = ? AND credits >= ?`
		res, err := tx.ExecContext(ctx, query, cost, userID, cost)
		if err != nil {
			return models.SettleOutcome{}, fmt.Errorf("consume credits: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return models.SettleOutcome{}, fmt.Errorf("credits rows affected: %w", err)
		}
		if affected == 0 {
			return models.SettleOutcome{}, ErrNotCharged
		}
	}

	const usageQuery = `
INSERT INTO usage_records (user_id, type, cost, is_free, image_id)
VALUES (?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, usageQuery, userID, op, outcome.Cost, useFree, imageID); err != nil {
		return models.SettleOutcome{}, fmt.Errorf("insert usage record: %w", err)
	}

	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&outcome.Credits); err != nil {
		return models.SettleOutcome{}, fmt.Errorf("read post-debit balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return models.SettleOutcome{}, fmt.Errorf("commit settle tx: %w", err)
	}
	outcome.Charged = true
	return outcome, nil
}

// Recharge credits the user and appends the audit row in one transaction.
func (r *LedgerRepository) Recharge(ctx context.Context, userID int64, amount int, operatorID *int64, reason string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("recharge amount must be positive, got %d", amount)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin recharge tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `UPDATE users SET credits = credits + ?, updated_at = NOW() WHERE id = ?`, amount, userID)
	if err != nil {
		return 0, fmt.Errorf("add credits: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recharge rows affected: %w", err)
	}
	if affected == 0 {
		return 0, fmt.Errorf("user %d not found", userID)
	}

	const query = `
INSERT INTO recharge_records (user_id, amount, operator_id, reason)
VALUES (?, ?, ?, NULLIF(?, ''))`
	if _, err := tx.ExecContext(ctx, query, userID, amount, operatorID, reason); err != nil {
		return 0, fmt.Errorf("insert recharge record: %w", err)
	}

	var credits int
	if err := tx.QueryRowContext(ctx, `SELECT credits FROM users WHERE id = ?`, userID).Scan(&credits); err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit recharge tx: %w", err)
	}
	return credits, nil
}

// UsageRecords returns the user's usage history, newest first.
func (r *LedgerRepository) UsageRecords(ctx context.Context, userID int64, limit, offset int) ([]models.UsageRecord, int, error) {
	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM usage_records WHERE user_id = ?`, userID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count usage records: %w", err)
	}

	const query = `
SELECT id, user_id, type, cost, is_free, image_id, created_at
FROM usage_records WHERE user_id = ?
ORDER BY created_at DESC LIMIT ? OFFSET ?`
	rows, err := r.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list usage records: %w", err)
	}
	defer rows.Close()

	var records []models.UsageRecord
	for rows.Next() {
		var rec models.UsageRecord
		if err := rows.Scan(&rec.ID, &rec.UserID, &rec.Type, &rec.Cost, &rec.IsFree, &rec.ImageID, &rec.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan usage record: %w", err)
		}
		records = append(records, rec)
	}
	return records, total, rows.Err()
}
