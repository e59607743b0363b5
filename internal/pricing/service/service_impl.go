package service

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB     *gorm.DB
	Log    *zap.Logger
	Clock  clock.Clock
	Repo   domain.Repository
	Ledger *config.LedgerConfigHolder
}

type Service struct {
	db     *gorm.DB
	log    *zap.Logger
	clock  clock.Clock
	repo   domain.Repository
	ledger *config.LedgerConfigHolder
	cache  *Cache
}

func New(p Params) domain.Service {
	return &Service{
		db:     p.DB,
		log:    p.Log.Named("pricing.service"),
		clock:  p.Clock,
		repo:   p.Repo,
		ledger: p.Ledger,
		cache:  &Cache{},
	}
}

func (s *Service) Resolve(ctx context.Context, itemType string) (domain.PriceEntry, error) {
	itemType = normalizeItemType(itemType)
	if itemType == "" {
		return domain.PriceEntry{}, domain.ErrInvalidItemType
	}
	table, err := s.Table(ctx)
	if err != nil {
		return domain.PriceEntry{}, fmt.Errorf("%w: %v", domain.ErrPriceUnavailable, err)
	}
	entry, ok := table[itemType]
	if !ok {
		return domain.PriceEntry{}, fmt.Errorf("%w: %q", domain.ErrInvalidItemType, itemType)
	}
	if entry.Amount <= 0 {
		return domain.PriceEntry{}, fmt.Errorf("%w: %q", domain.ErrPriceUnavailable, itemType)
	}
	return entry, nil
}

func (s *Service) Table(ctx context.Context) (domain.Table, error) {
	ttl := s.ledger.Get().PriceCacheTTL
	return s.cache.Get(ctx, s.clock.Now(), ttl, s.load)
}

func (s *Service) load(ctx context.Context) (domain.Table, error) {
	entries, err := s.repo.List(ctx, s.db)
	if err != nil {
		return nil, err
	}
	table := make(domain.Table, len(entries))
	for _, entry := range entries {
		table[normalizeItemType(entry.ItemType)] = entry
	}
	s.log.Debug("price table loaded", zap.Int("items", len(table)))
	return table, nil
}

// Update writes a new amount and drops the cached table.
func (s *Service) Update(ctx context.Context, itemType string, amount int64) (domain.PriceEntry, error) {
	itemType = normalizeItemType(itemType)
	if itemType == "" {
		return domain.PriceEntry{}, domain.ErrInvalidItemType
	}
	if amount <= 0 {
		return domain.PriceEntry{}, domain.ErrInvalidAmount
	}

	updated, err := s.repo.UpdateAmount(ctx, s.db, itemType, amount, s.clock.Now())
	if err != nil {
		return domain.PriceEntry{}, err
	}
	if !updated {
		return domain.PriceEntry{}, fmt.Errorf("%w: %q", domain.ErrInvalidItemType, itemType)
	}
	s.cache.Invalidate()
	s.log.Info("price updated", zap.String("item_type", itemType), zap.Int64("amount", amount))

	return s.Resolve(ctx, itemType)
}

// InferTier maps a paid amount to a price entry. Without an exact match it
// takes the most expensive payment tier at or below the amount, or the
// cheapest tier when the amount is below all of them.
func (s *Service) InferTier(ctx context.Context, amount int64) (domain.PriceEntry, bool, error) {
	table, err := s.Table(ctx)
	if err != nil {
		return domain.PriceEntry{}, false, err
	}
	entries := make([]domain.PriceEntry, 0, len(table))
	for _, entry := range table {
		if entry.Amount == amount {
			return entry, true, nil
		}
		entries = append(entries, entry)
	}

	var tiers []domain.PriceEntry
	for _, entry := range entries {
		if entry.OrderKind == domain.OrderKindPayment {
			tiers = append(tiers, entry)
		}
	}
	if len(tiers) == 0 {
		return domain.PriceEntry{}, false, domain.ErrPriceUnavailable
	}
	sort.Slice(tiers, func(i, j int) bool { return tiers[i].Amount < tiers[j].Amount })

	best := tiers[0]
	for _, tier := range tiers {
		if tier.Amount <= amount {
			best = tier
		}
	}
	return best, false, nil
}

func (s *Service) Invalidate() {
	s.cache.Invalidate()
}

func normalizeItemType(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
