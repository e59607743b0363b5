package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// LedgerConfig holds the credit policy. Values are read per operation so a
// reload applies to the next mutation.
type LedgerConfig struct {
	FreeAllotment      int64            `mapstructure:"freeAllotment"`
	InviteReward       int64            `mapstructure:"inviteReward"`
	TierCredits        map[string]int64 `mapstructure:"tierCredits"`
	InviteCodeAttempts int              `mapstructure:"inviteCodeAttempts"`
	PriceCacheTTL      time.Duration    `mapstructure:"priceCacheTTL"`
}

func DefaultLedgerConfig() LedgerConfig {
	return LedgerConfig{
		FreeAllotment: 3,
		InviteReward:  2,
		TierCredits: map[string]int64{
			"basic":   5,
			"premium": 20,
		},
		InviteCodeAttempts: 10,
		PriceCacheTTL:      5 * time.Minute,
	}
}

// TierGrant returns the credits granted for a paid tier.
func (c LedgerConfig) TierGrant(tier string) (int64, bool) {
	grant, ok := c.TierCredits[strings.ToLower(strings.TrimSpace(tier))]
	return grant, ok
}

func (c LedgerConfig) withDefaults() LedgerConfig {
	def := DefaultLedgerConfig()
	if c.FreeAllotment < 0 {
		c.FreeAllotment = def.FreeAllotment
	}
	if c.InviteReward <= 0 {
		c.InviteReward = def.InviteReward
	}
	if len(c.TierCredits) == 0 {
		c.TierCredits = def.TierCredits
	}
	if c.InviteCodeAttempts <= 0 {
		c.InviteCodeAttempts = def.InviteCodeAttempts
	}
	if c.PriceCacheTTL <= 0 {
		c.PriceCacheTTL = def.PriceCacheTTL
	}
	normalized := make(map[string]int64, len(c.TierCredits))
	for tier, grant := range c.TierCredits {
		normalized[strings.ToLower(strings.TrimSpace(tier))] = grant
	}
	c.TierCredits = normalized
	return c
}

type LedgerConfigHolder struct {
	current atomic.Value // holds LedgerConfig
}

// NewLedgerConfigHolder reads ledger.yml from the standard locations and
// watches it for changes.
func NewLedgerConfigHolder(log *zap.Logger) (*LedgerConfigHolder, error) {
	return LoadLedgerConfig(log, "/var/lib/photoledger/config", "/etc/photoledger", ".")
}

func LoadLedgerConfig(log *zap.Logger, paths ...string) (*LedgerConfigHolder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("ledger.config")

	v := viper.New()
	v.SetConfigName("ledger")
	v.SetConfigType("yml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("PHOTOLEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg := DefaultLedgerConfig()
	if fileFound {
		loaded, err := decodeLedgerConfig(v)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if err := validateLedgerConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticLedgerConfig(cfg)
	if !fileFound {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeLedgerConfig(v)
		if err != nil {
			log.Warn("reload failed", zap.Error(err))
			return
		}
		if err := validateLedgerConfig(updated); err != nil {
			log.Warn("invalid config ignored", zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

// decodeLedgerConfig reads the ledger section. An omitted freeAllotment keeps
// the default; an explicit 0 disables the allotment.
func decodeLedgerConfig(v *viper.Viper) (LedgerConfig, error) {
	var loaded LedgerConfig
	if err := v.UnmarshalKey("ledger", &loaded); err != nil {
		return LedgerConfig{}, err
	}
	if !v.IsSet("ledger.freeAllotment") {
		loaded.FreeAllotment = DefaultLedgerConfig().FreeAllotment
	}
	return loaded.withDefaults(), nil
}

// NewStaticLedgerConfig returns a holder that never reloads.
func NewStaticLedgerConfig(cfg LedgerConfig) *LedgerConfigHolder {
	holder := &LedgerConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func (h *LedgerConfigHolder) Get() LedgerConfig {
	if h == nil {
		return DefaultLedgerConfig()
	}
	return h.current.Load().(LedgerConfig)
}

func validateLedgerConfig(cfg LedgerConfig) error {
	if len(cfg.TierCredits) == 0 {
		return errors.New("ledger.tierCredits cannot be empty")
	}
	for tier, grant := range cfg.TierCredits {
		if grant <= 0 {
			return fmt.Errorf("ledger.tierCredits.%s must be positive", tier)
		}
	}
	if cfg.FreeAllotment < 0 {
		return errors.New("ledger.freeAllotment cannot be negative")
	}
	return nil
}
