package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/pricing/domain"
	"github.com/smallbiznis/photoledger/internal/pricing/repository"
	"github.com/smallbiznis/photoledger/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func newTestService(t *testing.T) (domain.Service, *gorm.DB, *clock.FakeClock) {
	t.Helper()
	db := testutil.NewDB(t)
	fake := clock.NewFakeClock(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	svc := New(Params{
		DB:     db,
		Log:    zap.NewNop(),
		Clock:  fake,
		Repo:   repository.Provide(),
		Ledger: config.NewStaticLedgerConfig(config.DefaultLedgerConfig()),
	})
	return svc, db, fake
}

func TestResolveSeededPrices(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	basic, err := svc.Resolve(ctx, " Basic ")
	require.NoError(t, err)
	assert.Equal(t, int64(990), basic.Amount)
	assert.Equal(t, domain.OrderKindPayment, basic.OrderKind)

	album, err := svc.Resolve(ctx, "photo_album")
	require.NoError(t, err)
	assert.Equal(t, domain.OrderKindProduct, album.OrderKind)

	_, err = svc.Resolve(ctx, "gold")
	assert.ErrorIs(t, err, domain.ErrInvalidItemType)
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestTableIsCachedUntilTTL(t *testing.T) {
	svc, db, fake := newTestService(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "basic")
	require.NoError(t, err)

	require.NoError(t, db.Exec(`UPDATE price_configs SET amount = 1290 WHERE item_type = 'basic'`).Error)

	cached, err := svc.Resolve(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, int64(990), cached.Amount)

	fake.Advance(5 * time.Minute)
	fresh, err := svc.Resolve(ctx, "basic")
	require.NoError(t, err)
	assert.Equal(t, int64(1290), fresh.Amount)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Resolve(ctx, "premium")
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "premium", 3990)
	require.NoError(t, err)
	assert.Equal(t, int64(3990), updated.Amount)

	_, err = svc.Update(ctx, "gold", 100)
	assert.ErrorIs(t, err, domain.ErrInvalidItemType)
	_, err = svc.Update(ctx, "basic", 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestInferTier(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		amount int64
		item   string
		exact  bool
	}{
		{990, "basic", true},
		{2990, "premium", true},
		{1990, "photo_print", true},
		{1500, "basic", false},
		{2900, "basic", false},
		{5000, "premium", false},
		{10, "basic", false},
	}
	for _, tc := range cases {
		entry, exact, err := svc.InferTier(ctx, tc.amount)
		require.NoError(t, err)
		assert.Equal(t, tc.item, entry.ItemType, "amount %d", tc.amount)
		assert.Equal(t, tc.exact, exact, "amount %d", tc.amount)
	}
}

func TestCacheKeepsPreviousTableOnLoadFailure(t *testing.T) {
	var cache Cache
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	ctx := context.Background()

	table, err := cache.Get(ctx, now, time.Minute, func(context.Context) (domain.Table, error) {
		return domain.Table{"basic": {ItemType: "basic", Amount: 990}}, nil
	})
	require.NoError(t, err)
	require.Len(t, table, 1)

	failed, err := cache.Get(ctx, now.Add(2*time.Minute), time.Minute, func(context.Context) (domain.Table, error) {
		return nil, errors.New("db down")
	})
	require.Error(t, err)
	assert.Nil(t, failed)

	loads := 0
	again, err := cache.Get(ctx, now.Add(30*time.Second), time.Minute, func(context.Context) (domain.Table, error) {
		loads++
		return nil, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 0, loads)
	assert.Len(t, again, 1)
}
