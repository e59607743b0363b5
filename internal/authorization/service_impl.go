package authorization

import (
	"context"
	_ "embed"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectOrder  = "order"
	ObjectPrice  = "price"
	ObjectLedger = "ledger"
	ObjectInvite = "invite"
)

const (
	ActionOrderOverride   = "order.override"
	ActionOrderRefund     = "order.refund"
	ActionOrderView       = "order.view"
	ActionPriceUpdate     = "price.update"
	ActionLedgerReconcile = "ledger.reconcile"
	ActionInviteRebuild   = "invite.rebuild_stats"
)

const (
	RoleSystem   = "role:system"
	RoleAdmin    = "role:admin"
	RoleOperator = "role:operator"

	ActorSystem = "system"
)

var (
	ErrInvalidActor  = apperror.New(apperror.KindValidation, "invalid_actor")
	ErrInvalidObject = apperror.New(apperror.KindValidation, "invalid_object")
	ErrInvalidAction = apperror.New(apperror.KindValidation, "invalid_action")
	ErrForbidden     = apperror.New(apperror.KindForbidden, "forbidden")
)

// Service decides whether an operator may run an administrative action.
type Service interface {
	Authorize(ctx context.Context, actor, object, action string) error
	GrantRole(ctx context.Context, actor, role string) error
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Cfg      config.Config
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) (Service, error) {
	s := &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
	for _, actor := range p.Cfg.AdminActors {
		if err := s.GrantRole(context.Background(), actor, RoleAdmin); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *ServiceImpl) Authorize(ctx context.Context, actor, object, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Warn("authorization denied",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	if shouldLogGrant(action) {
		s.log.Info("authorization granted",
			zap.String("actor", actor),
			zap.String("object", object),
			zap.String("action", action),
		)
	}
	return nil
}

func (s *ServiceImpl) GrantRole(_ context.Context, actor, role string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	has, err := s.enforcer.HasGroupingPolicy(actor, role)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(actor, role)
	return err
}

func shouldLogGrant(action string) bool {
	switch action {
	case ActionOrderOverride, ActionOrderRefund, ActionPriceUpdate:
		return true
	default:
		return false
	}
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Operator permissions
		{RoleOperator, ObjectOrder, ActionOrderView},
		{RoleOperator, ObjectLedger, ActionLedgerReconcile},

		// Admin permissions
		{RoleAdmin, ObjectOrder, ActionOrderView},
		{RoleAdmin, ObjectOrder, ActionOrderOverride},
		{RoleAdmin, ObjectOrder, ActionOrderRefund},
		{RoleAdmin, ObjectPrice, ActionPriceUpdate},
		{RoleAdmin, ObjectLedger, ActionLedgerReconcile},
		{RoleAdmin, ObjectInvite, ActionInviteRebuild},

		// System permissions
		{RoleSystem, ObjectOrder, ActionOrderView},
		{RoleSystem, ObjectOrder, ActionOrderOverride},
		{RoleSystem, ObjectOrder, ActionOrderRefund},
		{RoleSystem, ObjectPrice, ActionPriceUpdate},
		{RoleSystem, ObjectLedger, ActionLedgerReconcile},
		{RoleSystem, ObjectInvite, ActionInviteRebuild},
	}
	for _, policy := range policies {
		has, err := enforcer.HasPolicy(policy[0], policy[1], policy[2])
		if err != nil {
			return err
		}
		if has {
			continue
		}
		if _, err := enforcer.AddPolicy(policy[0], policy[1], policy[2]); err != nil {
			return err
		}
	}

	has, err := enforcer.HasGroupingPolicy(ActorSystem, RoleSystem)
	if err != nil {
		return err
	}
	if !has {
		if _, err := enforcer.AddGroupingPolicy(ActorSystem, RoleSystem); err != nil {
			return err
		}
	}
	return nil
}
