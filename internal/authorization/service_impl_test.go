package authorization

import (
	"context"
	"testing"

	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestService(t *testing.T, admins ...string) Service {
	t.Helper()
	enforcer, err := NewEnforcer(testutil.NewDB(t))
	require.NoError(t, err)
	svc, err := NewService(Params{
		Log:      zap.NewNop(),
		Cfg:      config.Config{AdminActors: admins},
		Enforcer: enforcer,
	})
	require.NoError(t, err)
	return svc
}

func TestAdminMayOverrideOrders(t *testing.T) {
	svc := newTestService(t, "admin:alice")
	ctx := context.Background()

	require.NoError(t, svc.Authorize(ctx, "admin:alice", ObjectOrder, ActionOrderOverride))
	require.NoError(t, svc.Authorize(ctx, "admin:alice", ObjectPrice, ActionPriceUpdate))

	err := svc.Authorize(ctx, "admin:mallory", ObjectOrder, ActionOrderOverride)
	assert.ErrorIs(t, err, ErrForbidden)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

func TestOperatorIsReadOnlyForOrders(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	require.NoError(t, svc.GrantRole(ctx, "ops:bob", RoleOperator))

	assert.NoError(t, svc.Authorize(ctx, "ops:bob", ObjectOrder, ActionOrderView))
	assert.NoError(t, svc.Authorize(ctx, "ops:bob", ObjectLedger, ActionLedgerReconcile))
	assert.ErrorIs(t, svc.Authorize(ctx, "ops:bob", ObjectOrder, ActionOrderRefund), ErrForbidden)
}

func TestSystemActorIsSeeded(t *testing.T) {
	svc := newTestService(t)
	assert.NoError(t, svc.Authorize(context.Background(), ActorSystem, ObjectInvite, ActionInviteRebuild))
}

func TestAuthorizeValidatesInput(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	assert.ErrorIs(t, svc.Authorize(ctx, " ", ObjectOrder, ActionOrderView), ErrInvalidActor)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", "", ActionOrderView), ErrInvalidObject)
	assert.ErrorIs(t, svc.Authorize(ctx, "system", ObjectOrder, ""), ErrInvalidAction)
}
