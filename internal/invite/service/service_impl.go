package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/invite/domain"
	"github.com/smallbiznis/photoledger/internal/invitecode"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	Repo       domain.Repository
	Users      userdomain.Service
	Ledger     ledgerdomain.Service
	Policy     *config.LedgerConfigHolder
	Authz      authorization.Service `optional:"true"`
	ObsMetrics *obsmetrics.Metrics   `optional:"true"`
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	repo       domain.Repository
	users      userdomain.Service
	ledger     ledgerdomain.Service
	policy     *config.LedgerConfigHolder
	authz      authorization.Service
	obsMetrics *obsmetrics.Metrics
	validate   *validator.Validate
}

func New(p Params) domain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invite.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		repo:       p.Repo,
		users:      p.Users,
		ledger:     p.Ledger,
		policy:     p.Policy,
		authz:      p.Authz,
		obsMetrics: p.ObsMetrics,
		validate:   validator.New(),
	}
}

// RegisterWithInvite ensures the user exists and, when the code names another
// user and this is the invitee's first registration, rewards the inviter.
// Everything happens in one transaction.
func (s *Service) RegisterWithInvite(ctx context.Context, req domain.RegisterRequest) (domain.RegisterResult, error) {
	req.OpenID = strings.TrimSpace(req.OpenID)
	req.InviteCode = strings.TrimSpace(req.InviteCode)
	if err := s.validate.Struct(req); err != nil {
		return domain.RegisterResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}

	var result domain.RegisterResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, created, err := s.users.EnsureByOpenID(ctx, tx, req.OpenID)
		if err != nil {
			return err
		}
		result = domain.RegisterResult{User: user, Created: created}

		invite, err := s.applyInvite(ctx, tx, user, created, req.InviteCode)
		if err != nil {
			return err
		}
		result.Invite = invite
		return nil
	})
	if err != nil {
		return domain.RegisterResult{}, err
	}

	if result.Invite.Outcome == domain.OutcomeRewarded {
		balance, err := s.users.Get(ctx, result.User.ID)
		if err == nil {
			result.User = balance
		}
	}
	s.obsMetrics.RecordInviteOutcome(ctx, string(result.Invite.Outcome))

	fields := []zap.Field{
		zap.String("user_id", result.User.ID.String()),
		zap.Bool("created", result.Created),
		zap.String("invite_outcome", string(result.Invite.Outcome)),
	}
	switch result.Invite.Outcome {
	case domain.OutcomeNone, domain.OutcomeRewarded:
		s.log.Info("user registered", fields...)
	default:
		s.log.Warn("invite code rejected", fields...)
	}
	return result, nil
}

func (s *Service) applyInvite(ctx context.Context, tx *gorm.DB, user userdomain.User, created bool, rawCode string) (domain.InviteResult, error) {
	reject := func(outcome domain.Outcome) (domain.InviteResult, error) {
		return domain.InviteResult{Outcome: outcome, Status: outcome.Status()}, nil
	}

	if rawCode == "" {
		return reject(domain.OutcomeNone)
	}
	code := invitecode.Normalize(rawCode)
	if code == "" {
		return reject(domain.OutcomeInvalidCode)
	}
	inviter, err := s.users.FindByInviteCode(ctx, tx, code)
	if err != nil {
		return domain.InviteResult{}, err
	}
	if inviter == nil {
		return reject(domain.OutcomeInvalidCode)
	}
	if inviter.ID == user.ID {
		return reject(domain.OutcomeSelfInvite)
	}
	existing, err := s.repo.FindByInvitee(ctx, tx, user.ID)
	if err != nil {
		return domain.InviteResult{}, err
	}
	if existing != nil {
		return reject(domain.OutcomeDuplicate)
	}
	if !created {
		return reject(domain.OutcomeNotNewUser)
	}

	now := s.clock.Now()
	record := domain.InviteRecord{
		ID:             s.genID.Generate(),
		InviterID:      inviter.ID,
		InviteeID:      user.ID,
		InviteCodeUsed: code,
		RewardGranted:  true,
		CreatedAt:      now,
	}
	inserted, err := s.repo.InsertRecord(ctx, tx, &record)
	if err != nil {
		return domain.InviteResult{}, err
	}
	if !inserted {
		return reject(domain.OutcomeDuplicate)
	}

	reward := s.policy.Get().InviteReward
	if _, err := s.ledger.Grant(ctx, tx, inviter.ID, reward, ledgerdomain.ReasonInviteReward, record.ID.String()); err != nil {
		return domain.InviteResult{}, err
	}
	if err := s.repo.AddReward(ctx, tx, inviter.ID, reward, now); err != nil {
		return domain.InviteResult{}, err
	}

	inviterID, recordID := inviter.ID, record.ID
	return domain.InviteResult{
		Outcome:   domain.OutcomeRewarded,
		Status:    domain.OutcomeRewarded.Status(),
		InviterID: &inviterID,
		RecordID:  &recordID,
		Reward:    reward,
	}, nil
}

func (s *Service) Stats(ctx context.Context, userID snowflake.ID) (domain.InviteStats, error) {
	if userID == 0 {
		return domain.InviteStats{}, domain.ErrInvalidUserID
	}
	stats, err := s.repo.FindStats(ctx, s.db, userID)
	if err != nil {
		return domain.InviteStats{}, err
	}
	if stats == nil {
		return domain.InviteStats{UserID: userID}, nil
	}
	return *stats, nil
}

func (s *Service) RebuildStats(ctx context.Context, actor string) (int64, error) {
	if s.authz == nil {
		return 0, authorization.ErrForbidden
	}
	if err := s.authz.Authorize(ctx, actor, authorization.ObjectInvite, authorization.ActionInviteRebuild); err != nil {
		return 0, err
	}

	var rows int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		n, err := s.repo.RebuildStats(ctx, tx, s.clock.Now())
		rows = n
		return err
	})
	if err != nil {
		return 0, err
	}
	s.log.Info("invite stats rebuilt", zap.String("actor", actor), zap.Int64("inviters", rows))
	return rows, nil
}
