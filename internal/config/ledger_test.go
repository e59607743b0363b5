package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadLedgerConfigDefaultsWithoutFile(t *testing.T) {
	holder, err := LoadLedgerConfig(zap.NewNop(), t.TempDir())
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(3), cfg.FreeAllotment)
	assert.Equal(t, 10, cfg.InviteCodeAttempts)
	assert.Equal(t, 5*time.Minute, cfg.PriceCacheTTL)

	grant, ok := cfg.TierGrant("basic")
	assert.True(t, ok)
	assert.Equal(t, int64(5), grant)
	grant, ok = cfg.TierGrant(" Premium ")
	assert.True(t, ok)
	assert.Equal(t, int64(20), grant)
}

func TestLoadLedgerConfigFromFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`ledger:
  freeAllotment: 1
  inviteReward: 4
  tierCredits:
    basic: 6
    premium: 30
  priceCacheTTL: 30s
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), content, 0o600))

	holder, err := LoadLedgerConfig(zap.NewNop(), dir)
	require.NoError(t, err)

	cfg := holder.Get()
	assert.Equal(t, int64(1), cfg.FreeAllotment)
	assert.Equal(t, int64(4), cfg.InviteReward)
	assert.Equal(t, 30*time.Second, cfg.PriceCacheTTL)
	assert.Equal(t, 10, cfg.InviteCodeAttempts)
	grant, _ := cfg.TierGrant("premium")
	assert.Equal(t, int64(30), grant)
}

func TestLoadLedgerConfigFreeAllotment(t *testing.T) {
	cases := []struct {
		name string
		yml  string
		want int64
	}{
		{"omitted", "ledger:\n  inviteReward: 4\n", 3},
		{"explicit zero", "ledger:\n  freeAllotment: 0\n", 0},
		{"explicit value", "ledger:\n  freeAllotment: 7\n", 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), []byte(tc.yml), 0o600))

			holder, err := LoadLedgerConfig(zap.NewNop(), dir)
			require.NoError(t, err)
			assert.Equal(t, tc.want, holder.Get().FreeAllotment)
		})
	}
}

func TestLoadLedgerConfigRejectsNonPositiveGrant(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`ledger:
  tierCredits:
    basic: 0
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ledger.yml"), content, 0o600))

	_, err := LoadLedgerConfig(zap.NewNop(), dir)
	require.Error(t, err)
}

func TestNilHolderFallsBackToDefaults(t *testing.T) {
	var holder *LedgerConfigHolder
	assert.Equal(t, int64(2), holder.Get().InviteReward)
}
