package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/invite/domain"
	"github.com/smallbiznis/photoledger/internal/invite/repository"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	ledgerrepo "github.com/smallbiznis/photoledger/internal/ledger/repository"
	ledgersvc "github.com/smallbiznis/photoledger/internal/ledger/service"
	"github.com/smallbiznis/photoledger/internal/testutil"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	userrepo "github.com/smallbiznis/photoledger/internal/user/repository"
	usersvc "github.com/smallbiznis/photoledger/internal/user/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	db      *gorm.DB
	invites domain.Service
	users   userdomain.Service
	ledger  ledgerdomain.Service
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := testutil.NewDB(t)
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	policy := config.NewStaticLedgerConfig(config.DefaultLedgerConfig())

	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz, err := authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer})
	require.NoError(t, err)

	users := usersvc.New(usersvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: userrepo.Provide(), Ledger: policy,
	})
	ledger := ledgersvc.NewService(ledgersvc.Params{
		DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: ledgerrepo.Provide(), Ledger: policy,
	})
	return fixture{
		db:     db,
		users:  users,
		ledger: ledger,
		invites: New(Params{
			DB: db, Log: zap.NewNop(), GenID: node, Clock: fake, Repo: repository.Provide(),
			Users: users, Ledger: ledger, Policy: policy, Authz: authz,
		}),
	}
}

func (f fixture) register(t *testing.T, openID, code string) domain.RegisterResult {
	t.Helper()
	res, err := f.invites.RegisterWithInvite(context.Background(), domain.RegisterRequest{OpenID: openID, InviteCode: code})
	require.NoError(t, err)
	return res
}

func TestInviteRewardsInviterOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.register(t, "o-a", "")
	require.Equal(t, domain.OutcomeNone, inviter.Invite.Outcome)

	invitee := f.register(t, "o-b", inviter.User.InviteCode)
	assert.True(t, invitee.Created)
	assert.Equal(t, domain.OutcomeRewarded, invitee.Invite.Outcome)
	assert.Equal(t, "rewarded", invitee.Invite.Status)
	assert.Equal(t, int64(2), invitee.Invite.Reward)

	again := f.register(t, "o-b", inviter.User.InviteCode)
	assert.False(t, again.Created)
	assert.Equal(t, domain.OutcomeDuplicate, again.Invite.Outcome)
	assert.Equal(t, "rejected", again.Invite.Status)

	balance, err := f.ledger.Balance(ctx, inviter.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), balance.UsageCount)

	stats, err := f.invites.Stats(ctx, inviter.User.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalInvites)
	assert.Equal(t, int64(1), stats.SuccessfulInvites)
	assert.Equal(t, int64(2), stats.TotalRewards)
	assert.NotNil(t, stats.LastInviteAt)

	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM invite_records WHERE invitee_id = ?", 1, invitee.User.ID)
	report, err := f.ledger.Reconcile(ctx, inviter.User.ID)
	require.NoError(t, err)
	assert.True(t, report.Consistent)
}

func TestSelfInviteIsRejectedWithoutReward(t *testing.T) {
	f := newFixture(t)
	user := f.register(t, "o-self", "")

	res := f.register(t, "o-self", user.User.InviteCode)
	assert.Equal(t, domain.OutcomeSelfInvite, res.Invite.Outcome)
	assert.Equal(t, "rejected", res.Invite.Status)
	assert.Equal(t, int64(3), res.User.UsageCount)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM invite_records", 0)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM usage_logs", 0)
}

func TestInvalidCodeStillRegisters(t *testing.T) {
	f := newFixture(t)

	res := f.register(t, "o-typo", "ZZZZ2345")
	assert.True(t, res.Created)
	assert.Equal(t, domain.OutcomeInvalidCode, res.Invite.Outcome)

	res = f.register(t, "o-garbage", "!!")
	assert.True(t, res.Created)
	assert.Equal(t, domain.OutcomeInvalidCode, res.Invite.Outcome)
}

func TestExistingUserCannotBeInvitedLater(t *testing.T) {
	f := newFixture(t)
	inviter := f.register(t, "o-host", "")
	f.register(t, "o-late", "")

	res := f.register(t, "o-late", inviter.User.InviteCode)
	assert.Equal(t, domain.OutcomeNotNewUser, res.Invite.Outcome)
	testutil.AssertCount(t, f.db, "SELECT COUNT(*) FROM invite_records", 0)
}

func TestCodeIsCaseInsensitive(t *testing.T) {
	f := newFixture(t)
	inviter := f.register(t, "o-case", "")

	res := f.register(t, "o-case-2", " "+strings.ToLower(inviter.User.InviteCode)+" ")
	assert.Equal(t, domain.OutcomeRewarded, res.Invite.Outcome)
}

func TestRebuildStatsMatchesIncrementalStats(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	inviter := f.register(t, "o-r", "")
	f.register(t, "o-r1", inviter.User.InviteCode)
	f.register(t, "o-r2", inviter.User.InviteCode)

	before, err := f.invites.Stats(ctx, inviter.User.ID)
	require.NoError(t, err)
	require.NoError(t, f.db.Exec("UPDATE invite_stats SET total_invites = 99").Error)

	_, err = f.invites.RebuildStats(ctx, "nobody")
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	rows, err := f.invites.RebuildStats(ctx, authorization.ActorSystem)
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	after, err := f.invites.Stats(ctx, inviter.User.ID)
	require.NoError(t, err)
	assert.Equal(t, before.TotalInvites, after.TotalInvites)
	assert.Equal(t, int64(2), after.SuccessfulInvites)
	assert.Equal(t, int64(4), after.TotalRewards)
}

func TestRegisterValidatesOpenID(t *testing.T) {
	f := newFixture(t)
	_, err := f.invites.RegisterWithInvite(context.Background(), domain.RegisterRequest{OpenID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidRequest)
}

