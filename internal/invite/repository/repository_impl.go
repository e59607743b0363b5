package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/invite/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertRecord(ctx context.Context, db *gorm.DB, record *domain.InviteRecord) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO invite_records (
			id, inviter_id, invitee_id, invite_code_used, reward_granted, created_at
		) VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT DO NOTHING`,
		record.ID,
		record.InviterID,
		record.InviteeID,
		record.InviteCodeUsed,
		record.RewardGranted,
		record.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByInvitee(ctx context.Context, db *gorm.DB, inviteeID snowflake.ID) (*domain.InviteRecord, error) {
	var item domain.InviteRecord
	err := db.WithContext(ctx).Raw(
		`SELECT id, inviter_id, invitee_id, invite_code_used, reward_granted, created_at
		 FROM invite_records
		 WHERE invitee_id = ?
		 LIMIT 1`,
		inviteeID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) AddReward(ctx context.Context, db *gorm.DB, inviterID snowflake.ID, reward int64, at time.Time) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invite_stats (
			user_id, total_invites, successful_invites, total_rewards, last_invite_at, updated_at
		) VALUES (?, 1, 1, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE SET
			total_invites = invite_stats.total_invites + 1,
			successful_invites = invite_stats.successful_invites + 1,
			total_rewards = invite_stats.total_rewards + EXCLUDED.total_rewards,
			last_invite_at = EXCLUDED.last_invite_at,
			updated_at = EXCLUDED.updated_at`,
		inviterID,
		reward,
		at,
		at,
	).Error
}

func (r *repo) FindStats(ctx context.Context, db *gorm.DB, userID snowflake.ID) (*domain.InviteStats, error) {
	var item domain.InviteStats
	err := db.WithContext(ctx).Raw(
		`SELECT user_id, total_invites, successful_invites, total_rewards, last_invite_at, updated_at
		 FROM invite_stats
		 WHERE user_id = ?
		 LIMIT 1`,
		userID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.UserID == 0 {
		return nil, nil
	}
	return &item, nil
}

// RebuildStats recomputes invite_stats from invite_records and the ledger.
// Callers run it inside a transaction.
func (r *repo) RebuildStats(ctx context.Context, db *gorm.DB, at time.Time) (int64, error) {
	if err := db.WithContext(ctx).Exec(`DELETE FROM invite_stats`).Error; err != nil {
		return 0, err
	}
	res := db.WithContext(ctx).Exec(
		`INSERT INTO invite_stats (
			user_id, total_invites, successful_invites, total_rewards, last_invite_at, updated_at
		)
		SELECT
			r.inviter_id,
			COUNT(*),
			SUM(CASE WHEN r.reward_granted THEN 1 ELSE 0 END),
			COALESCE((
				SELECT SUM(l.amount) FROM usage_logs l
				WHERE l.user_id = r.inviter_id AND l.reason = 'invite_reward'
			), 0),
			MAX(r.created_at),
			?
		FROM invite_records r
		GROUP BY r.inviter_id`,
		at,
	)
	if res.Error != nil {
		return 0, res.Error
	}
	return res.RowsAffected, nil
}
