package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	"github.com/smallbiznis/photoledger/internal/order/domain"
	"github.com/smallbiznis/photoledger/internal/payment/gateway"
	pricingdomain "github.com/smallbiznis/photoledger/internal/pricing/domain"
	"github.com/smallbiznis/photoledger/internal/ratelimit"
	userdomain "github.com/smallbiznis/photoledger/internal/user/domain"
	"github.com/smallbiznis/photoledger/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Clock         clock.Clock
	Repo          domain.Repository
	Users         userdomain.Service
	Ledger        ledgerdomain.Service
	Pricing       pricingdomain.Service
	Gateway       gateway.Client            `optional:"true"`
	Authz         authorization.Service     `optional:"true"`
	Guard         *ratelimit.SettleGuard    `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
	Hooks         []domain.PostCommitHook   `group:"order.post_commit"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	repo          domain.Repository
	users         userdomain.Service
	ledger        ledgerdomain.Service
	pricing       pricingdomain.Service
	gateway       gateway.Client
	authz         authorization.Service
	guard         *ratelimit.SettleGuard
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics
	hooks         []domain.PostCommitHook
	validate      *validator.Validate
}

func NewService(p Params) domain.Service {
	s := &Service{
		db:            p.DB,
		log:           p.Log.Named("order.service"),
		clock:         p.Clock,
		repo:          p.Repo,
		users:         p.Users,
		ledger:        p.Ledger,
		pricing:       p.Pricing,
		gateway:       p.Gateway,
		authz:         p.Authz,
		guard:         p.Guard,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
		validate:      validator.New(),
	}
	s.hooks = append([]domain.PostCommitHook{s.recordTransition}, p.Hooks...)
	return s
}

func (s *Service) CreateOrder(ctx context.Context, req domain.CreateOrderRequest) (domain.Order, error) {
	req.ItemType = strings.TrimSpace(req.ItemType)
	req.GenerationID = strings.TrimSpace(req.GenerationID)
	if err := s.validate.Struct(req); err != nil {
		return domain.Order{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if _, err := s.users.Get(ctx, req.UserID); err != nil {
		return domain.Order{}, err
	}
	price, err := s.pricing.Resolve(ctx, req.ItemType)
	if err != nil {
		return domain.Order{}, err
	}

	now := s.clock.Now()
	kind := domain.Kind(price.OrderKind)
	order := domain.Order{
		OrderID:   newOrderID(kind, now),
		Kind:      kind,
		UserID:    req.UserID,
		ItemType:  price.ItemType,
		Amount:    price.Amount,
		Status:    domain.StatusPending,
		Evidence:  datatypes.JSON(`{}`),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if req.GenerationID != "" {
		generationID := req.GenerationID
		order.GenerationID = &generationID
	}

	inserted, err := s.repo.Insert(ctx, s.db, &order)
	if err != nil {
		return domain.Order{}, err
	}
	if !inserted {
		return domain.Order{}, fmt.Errorf("order id collision: %s", order.OrderID)
	}
	s.log.Info("order created",
		zap.String("order_id", order.OrderID),
		zap.String("user_id", order.UserID.String()),
		zap.String("item_type", order.ItemType),
		zap.Int64("amount", order.Amount),
	)
	return order, nil
}

func (s *Service) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, domain.ErrInvalidOrderID
	}
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Order{}, err
	}
	if order == nil {
		return domain.Order{}, domain.ErrNotFound
	}
	return *order, nil
}

func (s *Service) QueryStatus(ctx context.Context, orderID string) (domain.StatusView, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.StatusView{}, err
	}
	return domain.StatusView{
		OrderID: order.OrderID,
		Status:  order.Status,
		Amount:  order.Amount,
		PaidAt:  order.PaidAt,
	}, nil
}

func (s *Service) Transition(ctx context.Context, orderID string, target domain.Status, evidence domain.Evidence) (domain.TransitionResult, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.TransitionResult{}, domain.ErrInvalidOrderID
	}

	var result domain.TransitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, orderID)
		if err != nil {
			return err
		}
		result, err = s.applyTransition(ctx, tx, order, target, evidence)
		return err
	})
	if err != nil {
		s.logTransitionError(orderID, target, err)
		return result, err
	}
	s.afterCommit(ctx, result)
	return result, nil
}

// ApplyPaid is the single apply path for a verified payment. A missing or
// unreadable order is rebuilt from the event instead of dropping it.
func (s *Service) ApplyPaid(ctx context.Context, evidence domain.PaidEvidence) (domain.TransitionResult, error) {
	evidence.OrderID = strings.TrimSpace(evidence.OrderID)
	if evidence.OrderID == "" {
		return domain.TransitionResult{}, domain.ErrInvalidOrderID
	}

	lookup := s.lookup(ctx, evidence.OrderID)
	switch lookup.State {
	case domain.LookupFound:
		return s.Transition(ctx, evidence.OrderID, domain.StatusPaid, evidence.Evidence())
	default:
		return s.compensate(ctx, evidence, lookup)
	}
}

func (s *Service) lookup(ctx context.Context, orderID string) domain.Lookup {
	order, err := s.repo.FindByID(ctx, s.db, orderID)
	if err != nil {
		return domain.Lookup{State: domain.LookupDegraded, Err: err}
	}
	if order == nil {
		return domain.Lookup{State: domain.LookupNotFound}
	}
	return domain.Lookup{State: domain.LookupFound, Order: order}
}

func (s *Service) compensate(ctx context.Context, evidence domain.PaidEvidence, lookup domain.Lookup) (domain.TransitionResult, error) {
	degraded := func(err error) error {
		if lookup.State == domain.LookupDegraded || db.IsUnavailableErr(err) {
			return fmt.Errorf("%w: %w", domain.ErrStoreDegraded, err)
		}
		return err
	}

	if strings.TrimSpace(evidence.PayerOpenID) == "" {
		if lookup.Err != nil {
			return domain.TransitionResult{}, degraded(lookup.Err)
		}
		return domain.TransitionResult{}, domain.ErrMissingPayer
	}
	if evidence.Amount <= 0 {
		return domain.TransitionResult{}, domain.ErrInvalidAmount
	}

	s.log.Warn("order missing for payment, reconstructing",
		zap.String("order_id", evidence.OrderID),
		zap.String("lookup", lookup.State.String()),
		zap.String("source", string(evidence.Source)),
		zap.Error(lookup.Err),
	)

	price, exact, err := s.pricing.InferTier(ctx, evidence.Amount)
	if err != nil {
		return domain.TransitionResult{}, degraded(err)
	}
	if !exact {
		s.log.Warn("payment amount matches no current price, using nearest tier",
			zap.String("order_id", evidence.OrderID),
			zap.Int64("amount", evidence.Amount),
			zap.String("item_type", price.ItemType),
		)
	}

	var result domain.TransitionResult
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		user, _, err := s.users.EnsureByOpenID(ctx, tx, evidence.PayerOpenID)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		order := domain.Order{
			OrderID:   evidence.OrderID,
			Kind:      domain.Kind(price.OrderKind),
			UserID:    user.ID,
			ItemType:  price.ItemType,
			Amount:    evidence.Amount,
			Status:    domain.StatusPending,
			Evidence:  datatypes.JSON(`{}`),
			CreatedAt: now,
			UpdatedAt: now,
		}
		inserted, err := s.repo.Insert(ctx, tx, &order)
		if err != nil {
			return err
		}

		locked, err := s.lockOrder(ctx, tx, evidence.OrderID)
		if err != nil {
			return err
		}
		ev := evidence.Evidence()
		ev.Compensated = inserted
		result, err = s.applyTransition(ctx, tx, locked, domain.StatusPaid, ev)
		result.Compensated = inserted
		return err
	})
	if err != nil {
		s.logTransitionError(evidence.OrderID, domain.StatusPaid, err)
		return result, degraded(err)
	}
	s.afterCommit(ctx, result)
	return result, nil
}

// Refund applies one settled gateway refund. Refunds are counted once per
// refund id; the order moves to refunded, and the credits go back, only when
// the total reaches the order amount.
func (s *Service) Refund(ctx context.Context, evidence domain.RefundEvidence) (domain.TransitionResult, error) {
	evidence.OrderID = strings.TrimSpace(evidence.OrderID)
	evidence.RefundID = strings.TrimSpace(evidence.RefundID)
	if evidence.OrderID == "" {
		return domain.TransitionResult{}, domain.ErrInvalidOrderID
	}
	if evidence.RefundID == "" {
		return domain.TransitionResult{}, fmt.Errorf("%w: refund id required", domain.ErrInvalidRequest)
	}
	if evidence.Amount <= 0 {
		return domain.TransitionResult{}, domain.ErrInvalidAmount
	}

	var result domain.TransitionResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		order, err := s.lockOrder(ctx, tx, evidence.OrderID)
		if err != nil {
			return err
		}
		result = domain.TransitionResult{Order: *order, From: order.Status}

		refundKey := refundEvidenceKey(evidence.RefundID)
		if hasEvidence(order.Evidence, refundKey) || order.Status == domain.StatusRefunded {
			return nil
		}
		if order.Status != domain.StatusPaid {
			return fmt.Errorf("%w: refund on %s order", domain.ErrIllegalTransition, order.Status)
		}
		total := order.RefundedAmount + evidence.Amount
		if total > order.Amount {
			return fmt.Errorf("%w: refunded %d exceeds amount %d", domain.ErrInvalidAmount, total, order.Amount)
		}

		merged, err := mergeEvidence(order.Evidence, refundKey, evidence.Evidence())
		if err != nil {
			return err
		}
		order.Evidence = merged
		if total == order.Amount {
			result, err = s.applyTransition(ctx, tx, order, domain.StatusRefunded, evidence.Evidence())
			return err
		}
		result, err = s.applyPartialRefund(ctx, tx, order, total)
		return err
	})
	if err != nil {
		s.logTransitionError(evidence.OrderID, domain.StatusRefunded, err)
		return result, err
	}
	s.afterCommit(ctx, result)
	return result, nil
}

func (s *Service) applyPartialRefund(ctx context.Context, tx *gorm.DB, order *domain.Order, total int64) (domain.TransitionResult, error) {
	from := order.Status
	updated := *order
	updated.RefundedAmount = total
	updated.UpdatedAt = s.clock.Now()

	ok, err := s.repo.UpdateState(ctx, tx, &updated, from)
	if err != nil {
		return domain.TransitionResult{Order: *order, From: from}, err
	}
	if !ok {
		return domain.TransitionResult{Order: *order, From: from}, fmt.Errorf("%w: order changed concurrently", domain.ErrIllegalTransition)
	}
	s.log.Info("partial refund recorded",
		zap.String("order_id", order.OrderID),
		zap.Int64("refunded_amount", total),
		zap.Int64("amount", order.Amount),
	)
	return domain.TransitionResult{Order: updated, From: from, Applied: true, Partial: true}, nil
}

// applyTransition runs on a locked order inside tx. Credit side effects happen
// only on the edge into paid or refunded, never on a repeat.
func (s *Service) applyTransition(ctx context.Context, tx *gorm.DB, order *domain.Order, target domain.Status, evidence domain.Evidence) (domain.TransitionResult, error) {
	from := order.Status
	result := domain.TransitionResult{Order: *order, From: from}
	if !domain.ValidStatus(order.Kind, target) {
		return result, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, target)
	}

	switch domain.Plan(order.Kind, from, target) {
	case domain.PlanNoop:
		return result, nil
	case domain.PlanReject:
		return result, fmt.Errorf("%w: %s -> %s", domain.ErrIllegalTransition, from, target)
	}

	now := s.clock.Now()
	updated := *order
	updated.Status = target
	updated.UpdatedAt = now

	switch target {
	case domain.StatusPaid:
		if evidence.Amount > 0 && evidence.Amount != order.Amount {
			return result, fmt.Errorf("%w: paid %d, order %d", domain.ErrAmountMismatch, evidence.Amount, order.Amount)
		}
		paidAt := now
		updated.PaidAt = &paidAt
		if txn := strings.TrimSpace(evidence.GatewayTransactionID); txn != "" {
			updated.GatewayTransactionID = &txn
		}
		if order.Kind == domain.KindPayment {
			credit, err := s.ledger.CreditForPayment(ctx, tx, order.UserID, order.ItemType, order.OrderID)
			if err != nil {
				return result, err
			}
			result.Credit = &credit
		} else if _, err := s.ledger.RecordPayment(ctx, tx, order.UserID, order.OrderID); err != nil {
			return result, err
		}
	case domain.StatusRefunded:
		updated.RefundedAmount = order.Amount
		if order.Kind == domain.KindPayment {
			revoked, err := s.ledger.RevokePayment(ctx, tx, order.UserID, order.OrderID)
			if err != nil {
				return result, err
			}
			result.Credit = &revoked
		}
	}

	merged, err := mergeEvidence(order.Evidence, string(target), evidence)
	if err != nil {
		return result, err
	}
	updated.Evidence = merged

	ok, err := s.repo.UpdateState(ctx, tx, &updated, from)
	if err != nil {
		if db.IsDuplicateKeyErr(err) {
			return result, fmt.Errorf("%w: %v", domain.ErrTransactionConflict, err)
		}
		return result, err
	}
	if !ok {
		return result, fmt.Errorf("%w: order changed concurrently", domain.ErrIllegalTransition)
	}

	result.Order = updated
	result.Applied = true
	return result, nil
}

// Settle asks the gateway for the order's outcome and applies it. It is the
// direct-API counterpart of the webhook.
func (s *Service) Settle(ctx context.Context, orderID string) (domain.TransitionResult, error) {
	order, err := s.Get(ctx, orderID)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	current := domain.TransitionResult{Order: order, From: order.Status}
	if order.Status != domain.StatusPending {
		return current, nil
	}
	if s.gateway == nil {
		return current, gateway.ErrNotConfigured
	}

	allowed, err := s.guard.AllowUser(ctx, order.UserID.String())
	if err != nil {
		s.log.Warn("settle rate limiter unavailable", zap.Error(err))
	} else if !allowed.Allowed {
		return current, domain.ErrRateLimited
	}

	token, locked, err := s.guard.LockOrder(ctx, order.OrderID)
	if err != nil {
		s.log.Warn("settle lock unavailable", zap.String("order_id", order.OrderID), zap.Error(err))
	} else if !locked {
		return current, domain.ErrSettleInProgress
	}
	defer func() {
		if token == "" {
			return
		}
		if err := s.guard.ReleaseOrder(context.WithoutCancel(ctx), order.OrderID, token); err != nil {
			s.log.Warn("settle lock release failed", zap.String("order_id", order.OrderID), zap.Error(err))
		}
	}()

	txn, err := s.gateway.QueryOrder(ctx, order.OrderID)
	if err != nil {
		return current, err
	}

	switch {
	case txn.TradeState == gateway.TradeStateSuccess:
		return s.ApplyPaid(ctx, domain.PaidEvidence{
			OrderID:              order.OrderID,
			GatewayTransactionID: txn.TransactionID,
			PayerOpenID:          txn.PayerOpenID,
			Amount:               txn.Amount,
			EventID:              "query:" + txn.TransactionID,
			Source:               domain.SourceSettle,
			OccurredAt:           txn.SuccessTime,
		})
	case txn.TradeState.Terminal():
		return s.Transition(ctx, order.OrderID, domain.StatusFailed, domain.Evidence{
			Source:     domain.SourceSettle,
			Reason:     string(txn.TradeState),
			OccurredAt: s.clock.Now(),
		})
	default:
		return current, nil
	}
}

// RequestRefund submits a refund to the gateway. The ledger changes once the
// gateway reports success, either here or through the refund webhook.
func (s *Service) RequestRefund(ctx context.Context, input domain.RequestRefundInput) (domain.TransitionResult, error) {
	if err := s.validate.Struct(input); err != nil {
		return domain.TransitionResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := s.authorize(ctx, input.Actor, authorization.ActionOrderRefund); err != nil {
		return domain.TransitionResult{}, err
	}
	if s.gateway == nil {
		return domain.TransitionResult{}, gateway.ErrNotConfigured
	}

	order, err := s.Get(ctx, input.OrderID)
	if err != nil {
		return domain.TransitionResult{}, err
	}
	current := domain.TransitionResult{Order: order, From: order.Status}
	if order.Status == domain.StatusRefunded {
		return current, nil
	}
	if order.Status != domain.StatusPaid {
		return current, fmt.Errorf("%w: refund on %s order", domain.ErrIllegalTransition, order.Status)
	}
	total := order.RefundedAmount + input.Amount
	if total > order.Amount {
		return current, fmt.Errorf("%w: refund total %d exceeds amount %d", domain.ErrInvalidAmount, total, order.Amount)
	}

	refundID := fmt.Sprintf("%s-R%d", order.OrderID, total)
	res, err := s.gateway.Refund(ctx, gateway.RefundRequest{
		OrderID:  order.OrderID,
		RefundID: refundID,
		Amount:   input.Amount,
		Total:    order.Amount,
		Reason:   input.Reason,
	})
	if err != nil {
		return current, err
	}
	s.log.Info("refund submitted",
		zap.String("order_id", order.OrderID),
		zap.String("refund_id", refundID),
		zap.String("status", res.Status),
		zap.String("actor", input.Actor),
	)
	if !strings.EqualFold(res.Status, "SUCCESS") {
		return current, nil
	}
	return s.Refund(ctx, domain.RefundEvidence{
		OrderID:    order.OrderID,
		RefundID:   refundID,
		Amount:     input.Amount,
		EventID:    res.GatewayRefund,
		Source:     domain.SourceAdmin,
		Actor:      input.Actor,
		Reason:     input.Reason,
		OccurredAt: s.clock.Now(),
	})
}

// Override is the administrative status path. It still obeys the state
// machine.
func (s *Service) Override(ctx context.Context, req domain.OverrideRequest) (domain.TransitionResult, error) {
	if err := s.validate.Struct(req); err != nil {
		return domain.TransitionResult{}, fmt.Errorf("%w: %v", domain.ErrInvalidRequest, err)
	}
	if err := s.authorize(ctx, req.Actor, authorization.ActionOrderOverride); err != nil {
		return domain.TransitionResult{}, err
	}
	return s.Transition(ctx, req.OrderID, req.Target, domain.Evidence{
		Source:     domain.SourceAdmin,
		Actor:      req.Actor,
		Reason:     req.Reason,
		OccurredAt: s.clock.Now(),
	})
}

func (s *Service) authorize(ctx context.Context, actor, action string) error {
	if s.authz == nil {
		return authorization.ErrForbidden
	}
	return s.authz.Authorize(ctx, actor, authorization.ObjectOrder, action)
}

func (s *Service) lockOrder(ctx context.Context, tx *gorm.DB, orderID string) (*domain.Order, error) {
	start := time.Now()
	order, err := s.repo.LockByID(ctx, tx, orderID)
	s.ledgerMetrics.ObserveLockWait(obsmetrics.LockResourceOrder, time.Since(start))
	if err != nil {
		return nil, err
	}
	if order == nil {
		return nil, domain.ErrNotFound
	}
	return order, nil
}

func (s *Service) afterCommit(ctx context.Context, result domain.TransitionResult) {
	if !result.Applied {
		return
	}
	for _, hook := range s.hooks {
		s.runHook(ctx, hook, result)
	}
}

func (s *Service) runHook(ctx context.Context, hook domain.PostCommitHook, result domain.TransitionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("post-commit hook panicked",
				zap.String("order_id", result.Order.OrderID),
				zap.Any("panic", r),
			)
		}
	}()
	if err := hook(ctx, result); err != nil {
		s.log.Warn("post-commit hook failed",
			zap.String("order_id", result.Order.OrderID),
			zap.Error(err),
		)
	}
}

func (s *Service) recordTransition(ctx context.Context, result domain.TransitionResult) error {
	from, to := string(result.From), string(result.Order.Status)
	s.ledgerMetrics.IncOrderTransition(from, to)
	s.obsMetrics.RecordOrderTransition(ctx, string(result.Order.Kind), from, to)

	fields := []zap.Field{
		zap.String("order_id", result.Order.OrderID),
		zap.String("from", from),
		zap.String("to", to),
		zap.Bool("compensated", result.Compensated),
	}
	if result.Credit != nil && result.Credit.Entry != nil {
		fields = append(fields,
			zap.String("credit_reason", string(result.Credit.Entry.Reason)),
			zap.Int64("credit_amount", result.Credit.Entry.Amount),
			zap.Int64("usage_count", result.Credit.User.UsageCount),
		)
	}
	s.log.Info("order transitioned", fields...)
	return nil
}

func (s *Service) logTransitionError(orderID string, target domain.Status, err error) {
	fields := []zap.Field{
		zap.String("order_id", orderID),
		zap.String("target", string(target)),
		zap.Error(err),
	}
	switch apperror.KindOf(err) {
	case apperror.KindConflict:
		s.log.Warn("order transition rejected", fields...)
	case apperror.KindValidation, apperror.KindNotFound:
		s.log.Info("order transition refused", fields...)
	default:
		s.log.Error("order transition failed", fields...)
	}
}

func mergeEvidence(existing datatypes.JSON, key string, evidence domain.Evidence) (datatypes.JSON, error) {
	entries := map[string]json.RawMessage{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &entries); err != nil {
			entries = map[string]json.RawMessage{}
		}
	}
	raw, err := json.Marshal(evidence)
	if err != nil {
		return nil, err
	}
	entries[key] = raw
	merged, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(merged), nil
}

func hasEvidence(existing datatypes.JSON, key string) bool {
	if len(existing) == 0 {
		return false
	}
	entries := map[string]json.RawMessage{}
	if err := json.Unmarshal(existing, &entries); err != nil {
		return false
	}
	_, ok := entries[key]
	return ok
}

func refundEvidenceKey(refundID string) string {
	return "refund:" + refundID
}

func newOrderID(kind domain.Kind, now time.Time) string {
	return kind.IDPrefix() + ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String()
}

