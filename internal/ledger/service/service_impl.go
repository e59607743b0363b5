package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Repo          domain.Repository
	Ledger        *config.LedgerConfigHolder
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	repo          domain.Repository
	ledger        *config.LedgerConfigHolder
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics
}

func NewService(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("ledger.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		repo:          p.Repo,
		ledger:        p.Ledger,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
	}
}

// mutation describes one balance movement before the user row is read.
type mutation struct {
	userID      snowflake.ID
	action      domain.Action
	amount      int64
	reason      domain.Reason
	referenceID string
	markPaid    bool
	// floor clamps decrements at zero instead of failing.
	floor bool
}

func (s *Service) CreditForPayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, tier, orderID string) (domain.Mutation, error) {
	grant, ok := s.ledger.Get().TierGrant(tier)
	if !ok {
		return domain.Mutation{}, fmt.Errorf("%w: %q", domain.ErrUnknownTier, tier)
	}
	return s.apply(ctx, tx, mutation{
		userID:      userID,
		action:      domain.ActionIncrement,
		amount:      grant,
		reason:      domain.ReasonPayment,
		referenceID: orderID,
		markPaid:    true,
	})
}

// RecordPayment stamps the payment flags for orders that carry no credits.
func (s *Service) RecordPayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID string) (userdomain.User, error) {
	if strings.TrimSpace(orderID) == "" {
		return userdomain.User{}, domain.ErrInvalidReference
	}
	var out userdomain.User
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		user, err := s.lockUser(ctx, tx, userID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		if err := s.repo.UpdateCredit(ctx, tx, domain.CreditUpdate{
			UserID:     user.ID,
			UsageCount: user.UsageCount,
			MarkPaid:   true,
			PaidAt:     now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}
		out = paidView(*user, user.UsageCount, now)
		return nil
	})
	return out, err
}

func (s *Service) Grant(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, reason domain.Reason, referenceID string) (domain.Mutation, error) {
	switch reason {
	case domain.ReasonInviteReward, domain.ReasonPayment:
	default:
		return domain.Mutation{}, domain.ErrInvalidReason
	}
	return s.apply(ctx, tx, mutation{
		userID:      userID,
		action:      domain.ActionIncrement,
		amount:      amount,
		reason:      reason,
		referenceID: referenceID,
		markPaid:    reason == domain.ReasonPayment,
	})
}

// RevokeForRefund takes back up to amount credits, never below zero. The
// payment flags are left untouched.
func (s *Service) RevokeForRefund(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount int64, orderID string) (domain.Mutation, error) {
	return s.apply(ctx, tx, mutation{
		userID:      userID,
		action:      domain.ActionDecrement,
		amount:      amount,
		reason:      domain.ReasonRefund,
		referenceID: orderID,
		floor:       true,
	})
}

// RevokePayment reverses the credits recorded for orderID's payment. Orders
// that granted nothing yield an unapplied mutation.
func (s *Service) RevokePayment(ctx context.Context, tx *gorm.DB, userID snowflake.ID, orderID string) (domain.Mutation, error) {
	var out domain.Mutation
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		granted, err := s.repo.FindEntry(ctx, tx, userID, domain.ReasonPayment, orderID)
		if err != nil {
			return err
		}
		if granted == nil || granted.Amount <= 0 {
			user, err := s.lockUser(ctx, tx, userID)
			if err != nil {
				return err
			}
			out = domain.Mutation{User: *user}
			return nil
		}
		out, err = s.RevokeForRefund(ctx, tx, userID, granted.Amount, orderID)
		return err
	})
	return out, err
}

func (s *Service) SpendCredit(ctx context.Context, userID snowflake.ID, referenceID string) (domain.Mutation, error) {
	return s.apply(ctx, nil, mutation{
		userID:      userID,
		action:      domain.ActionDecrement,
		amount:      1,
		reason:      domain.ReasonRegenerate,
		referenceID: strings.TrimSpace(referenceID),
	})
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, m mutation) (domain.Mutation, error) {
	if m.amount <= 0 {
		return domain.Mutation{}, domain.ErrInvalidAmount
	}
	if m.reason.OncePerReference() && strings.TrimSpace(m.referenceID) == "" {
		return domain.Mutation{}, domain.ErrInvalidReference
	}

	var out domain.Mutation
	err := s.inTx(ctx, tx, func(tx *gorm.DB) error {
		user, err := s.lockUser(ctx, tx, m.userID)
		if err != nil {
			return err
		}

		delta := m.amount
		if m.action == domain.ActionDecrement {
			if user.UsageCount < m.amount {
				if !m.floor {
					return domain.ErrInsufficientCredits
				}
				delta = user.UsageCount
			}
		}
		balance := user.UsageCount + delta
		if m.action == domain.ActionDecrement {
			balance = user.UsageCount - delta
		}

		now := s.clock.Now()
		entry := domain.UsageLogEntry{
			ID:               s.genID.Generate(),
			UserID:           user.ID,
			ActionType:       m.action,
			Amount:           delta,
			ResultingBalance: balance,
			Reason:           m.reason,
			ReferenceID:      m.referenceID,
			CreatedAt:        now,
		}
		inserted, err := s.repo.InsertEntry(ctx, tx, &entry)
		if err != nil {
			return err
		}
		if !inserted {
			s.log.Debug("ledger mutation already recorded",
				zap.String("user_id", user.ID.String()),
				zap.String("reason", string(m.reason)),
				zap.String("reference_id", m.referenceID),
			)
			out = domain.Mutation{User: *user}
			return nil
		}

		if err := s.repo.UpdateCredit(ctx, tx, domain.CreditUpdate{
			UserID:     user.ID,
			UsageCount: balance,
			MarkPaid:   m.markPaid,
			PaidAt:     now,
			UpdatedAt:  now,
		}); err != nil {
			return err
		}

		updated := *user
		updated.UsageCount = balance
		updated.UpdatedAt = now
		if m.markPaid {
			updated = paidView(*user, balance, now)
		}
		out = domain.Mutation{User: updated, Entry: &entry, Applied: true}
		return nil
	})
	if err != nil {
		return domain.Mutation{}, err
	}
	if out.Applied {
		s.obsMetrics.RecordLedgerMutation(ctx, string(m.reason), string(m.action))
		s.log.Info("ledger mutation applied",
			zap.String("user_id", out.User.ID.String()),
			zap.String("reason", string(m.reason)),
			zap.String("action", string(m.action)),
			zap.Int64("amount", out.Entry.Amount),
			zap.Int64("resulting_balance", out.Entry.ResultingBalance),
			zap.String("reference_id", m.referenceID),
		)
	}
	return out, nil
}

func (s *Service) Balance(ctx context.Context, userID snowflake.ID) (userdomain.User, error) {
	user, err := s.repo.FindUser(ctx, s.db, userID)
	if err != nil {
		return userdomain.User{}, err
	}
	if user == nil {
		return userdomain.User{}, domain.ErrUserNotFound
	}
	return *user, nil
}

func (s *Service) History(ctx context.Context, userID snowflake.ID, limit int) ([]domain.UsageLogEntry, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if _, err := s.Balance(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ListEntries(ctx, s.db, userID, limit)
}

// Reconcile checks usage_count against the seed allotment plus the signed sum
// of the user's log.
func (s *Service) Reconcile(ctx context.Context, userID snowflake.ID) (domain.ReconcileReport, error) {
	user, err := s.Balance(ctx, userID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	sum, err := s.repo.SignedSum(ctx, s.db, userID)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	report := domain.ReconcileReport{
		UserID:     user.ID,
		UsageCount: user.UsageCount,
		Seed:       user.SeedUsageCount,
		LoggedSum:  sum,
		Consistent: user.UsageCount == user.SeedUsageCount+sum,
	}
	if !report.Consistent {
		s.log.Error("ledger drift detected",
			zap.String("user_id", user.ID.String()),
			zap.Int64("usage_count", report.UsageCount),
			zap.Int64("seed_usage_count", report.Seed),
			zap.Int64("logged_sum", report.LoggedSum),
		)
	}
	return report, nil
}

// ReconcileAll returns the reports of every user whose balance drifted.
func (s *Service) ReconcileAll(ctx context.Context) ([]domain.ReconcileReport, error) {
	ids, err := s.repo.ListUserIDs(ctx, s.db)
	if err != nil {
		return nil, err
	}
	var drifted []domain.ReconcileReport
	for _, id := range ids {
		report, err := s.Reconcile(ctx, id)
		if err != nil {
			return nil, err
		}
		if !report.Consistent {
			drifted = append(drifted, report)
		}
	}
	return drifted, nil
}

func (s *Service) lockUser(ctx context.Context, tx *gorm.DB, userID snowflake.ID) (*userdomain.User, error) {
	if userID == 0 {
		return nil, domain.ErrUserNotFound
	}
	start := time.Now()
	user, err := s.repo.LockUser(ctx, tx, userID)
	s.ledgerMetrics.ObserveLockWait(obsmetrics.LockResourceUser, time.Since(start))
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, domain.ErrUserNotFound
	}
	return user, nil
}

func (s *Service) inTx(ctx context.Context, tx *gorm.DB, fn func(tx *gorm.DB) error) error {
	if tx != nil {
		return fn(tx)
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

func paidView(user userdomain.User, balance int64, now time.Time) userdomain.User {
	user.UsageCount = balance
	user.HasEverPaid = true
	if user.FirstPaymentAt == nil {
		first := now
		user.FirstPaymentAt = &first
	}
	last := now
	user.LastPaymentAt = &last
	user.UpdatedAt = now
	return user
}
