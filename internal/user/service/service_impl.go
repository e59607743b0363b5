package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/invitecode"
	"github.com/smallbiznis/photoledger/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// insertAttempts bounds retries when a fresh invite code loses a race with a
// concurrent insert.
const insertAttempts = 3

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	GenID  *snowflake.Node
	Clock  clock.Clock
	Repo   domain.Repository
	Ledger *config.LedgerConfigHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	genID  *snowflake.Node
	clock  clock.Clock
	repo   domain.Repository
	ledger *config.LedgerConfigHolder
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("user.service"),
		genID:  p.GenID,
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
	}
}

func (s *Service) Create(ctx context.Context, tx *gorm.DB, openID string) (domain.User, error) {
	user, created, err := s.EnsureByOpenID(ctx, tx, openID)
	if err != nil {
		return domain.User{}, err
	}
	if !created {
		return domain.User{}, domain.ErrAlreadyRegistered
	}
	return user, nil
}

// EnsureByOpenID returns the user registered under openID, creating it with
// the free allotment when absent. created is false when the row already
// existed, including when a concurrent caller inserted it first.
func (s *Service) EnsureByOpenID(ctx context.Context, tx *gorm.DB, openID string) (domain.User, bool, error) {
	openID = strings.TrimSpace(openID)
	if openID == "" {
		return domain.User{}, false, domain.ErrInvalidOpenID
	}
	db := s.handle(tx)

	existing, err := s.repo.FindByOpenID(ctx, db, openID)
	if err != nil {
		return domain.User{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	policy := s.ledger.Get()
	generator := invitecode.NewGenerator(policy.InviteCodeAttempts)
	for i := 0; i < insertAttempts; i++ {
		code, err := generator.Generate(ctx, func(ctx context.Context, code string) (bool, error) {
			return s.repo.InviteCodeExists(ctx, db, code)
		})
		if err != nil {
			return domain.User{}, false, err
		}

		now := s.clock.Now()
		user := domain.User{
			ID:             s.genID.Generate(),
			OpenID:         openID,
			UsageCount:     policy.FreeAllotment,
			SeedUsageCount: policy.FreeAllotment,
			InviteCode:     code,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		inserted, err := s.repo.Insert(ctx, db, &user)
		if err != nil {
			return domain.User{}, false, err
		}
		if inserted {
			s.log.Info("user created",
				zap.String("user_id", user.ID.String()),
				zap.Int64("seed_usage_count", user.SeedUsageCount),
			)
			return user, true, nil
		}

		existing, err := s.repo.FindByOpenID(ctx, db, openID)
		if err != nil {
			return domain.User{}, false, err
		}
		if existing != nil {
			return *existing, false, nil
		}
		s.log.Debug("invite code collided on insert", zap.Int("attempt", i+1))
	}
	return domain.User{}, false, invitecode.ErrCodeSpaceExhausted
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (domain.User, error) {
	if id == 0 {
		return domain.User{}, domain.ErrInvalidID
	}
	user, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

func (s *Service) FindByOpenID(ctx context.Context, openID string) (domain.User, error) {
	openID = strings.TrimSpace(openID)
	if openID == "" {
		return domain.User{}, domain.ErrInvalidOpenID
	}
	user, err := s.repo.FindByOpenID(ctx, s.db, openID)
	if err != nil {
		return domain.User{}, err
	}
	if user == nil {
		return domain.User{}, domain.ErrNotFound
	}
	return *user, nil
}

// FindByInviteCode returns nil when no user owns code.
func (s *Service) FindByInviteCode(ctx context.Context, tx *gorm.DB, code string) (*domain.User, error) {
	code = invitecode.Normalize(code)
	if code == "" {
		return nil, nil
	}
	return s.repo.FindByInviteCode(ctx, s.handle(tx), code)
}

func (s *Service) handle(tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db
}
