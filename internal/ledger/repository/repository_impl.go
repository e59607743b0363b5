package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/ledger/domain"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) LockUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*userdomain.User, error) {
	var users []userdomain.User
	err := db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", userID).
		Limit(1).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func (r *repo) FindUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*userdomain.User, error) {
	var users []userdomain.User
	err := db.WithContext(ctx).
		Where("id = ?", userID).
		Limit(1).
		Find(&users).Error
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, nil
	}
	return &users[0], nil
}

func (r *repo) InsertEntry(ctx context.Context, db *gorm.DB, entry *domain.UsageLogEntry) (bool, error) {
	result := db.WithContext(ctx).Exec(
		`INSERT INTO usage_logs (
			id, user_id, action_type, amount, resulting_balance, reason, reference_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		entry.ID,
		entry.UserID,
		string(entry.ActionType),
		entry.Amount,
		entry.ResultingBalance,
		string(entry.Reason),
		entry.ReferenceID,
		entry.CreatedAt,
	)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

func (r *repo) FindEntry(ctx context.Context, db *gorm.DB, userID snowflake.ID, reason domain.Reason, referenceID string) (*domain.UsageLogEntry, error) {
	var entry domain.UsageLogEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, action_type, amount, resulting_balance, reason, reference_id, created_at
		 FROM usage_logs
		 WHERE user_id = ? AND reason = ? AND reference_id = ?
		 ORDER BY created_at, id
		 LIMIT 1`,
		userID,
		string(reason),
		referenceID,
	).Scan(&entry).Error
	if err != nil {
		return nil, err
	}
	if entry.ID == 0 {
		return nil, nil
	}
	return &entry, nil
}

func (r *repo) UpdateCredit(ctx context.Context, db *gorm.DB, update domain.CreditUpdate) error {
	if update.MarkPaid {
		return db.WithContext(ctx).Exec(
			`UPDATE users SET
				usage_count = ?,
				has_ever_paid = TRUE,
				first_payment_at = COALESCE(first_payment_at, ?),
				last_payment_at = ?,
				updated_at = ?
			 WHERE id = ?`,
			update.UsageCount,
			update.PaidAt,
			update.PaidAt,
			update.UpdatedAt,
			update.UserID,
		).Error
	}
	return db.WithContext(ctx).Exec(
		`UPDATE users SET usage_count = ?, updated_at = ? WHERE id = ?`,
		update.UsageCount,
		update.UpdatedAt,
		update.UserID,
	).Error
}

func (r *repo) ListEntries(ctx context.Context, db *gorm.DB, userID snowflake.ID, limit int) ([]domain.UsageLogEntry, error) {
	var entries []domain.UsageLogEntry
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, action_type, amount, resulting_balance, reason, reference_id, created_at
		 FROM usage_logs
		 WHERE user_id = ?
		 ORDER BY created_at DESC, id DESC
		 LIMIT ?`,
		userID,
		limit,
	).Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *repo) SignedSum(ctx context.Context, db *gorm.DB, userID snowflake.ID) (int64, error) {
	var sum int64
	err := db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN action_type = 'decrement' THEN -amount ELSE amount END), 0)
		 FROM usage_logs WHERE user_id = ?`,
		userID,
	).Scan(&sum).Error
	return sum, err
}

func (r *repo) ListUserIDs(ctx context.Context, db *gorm.DB) ([]snowflake.ID, error) {
	var ids []snowflake.ID
	err := db.WithContext(ctx).Raw(`SELECT id FROM users ORDER BY id`).Scan(&ids).Error
	return ids, err
}
