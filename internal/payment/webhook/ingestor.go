package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/clock"
	"github.com/smallbiznis/photoledger/internal/config"
	"github.com/smallbiznis/photoledger/internal/notifier"
	obsmetrics "github.com/smallbiznis/photoledger/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	"github.com/smallbiznis/photoledger/internal/payment/adapters"
	"github.com/smallbiznis/photoledger/internal/payment/dedupe"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Ingress names the entry point a delivery arrived on.
type Ingress string

const (
	IngressBackend    Ingress = "backend"
	IngressServerless Ingress = "serverless"
)

// notifyTimeout bounds one post-ack notification including its retries.
const notifyTimeout = 15 * time.Second

// Notifier receives accepted events after they are applied.
type Notifier interface {
	Notify(ctx context.Context, note notifier.PaymentNotification)
}

type Params struct {
	fx.In

	Lifecycle     fx.Lifecycle `optional:"true"`
	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Cfg           config.Config
	Registry      *adapters.Registry
	Repo          paymentdomain.Repository
	Orders        orderdomain.Service
	Marker        *dedupe.Marker            `optional:"true"`
	Notifier      Notifier                  `optional:"true"`
	Ingress       Ingress                   `optional:"true"`
	ObsMetrics    *obsmetrics.Metrics       `optional:"true"`
	LedgerMetrics *obsmetrics.LedgerMetrics `optional:"true"`
}

// Ingestor turns signed gateway notifications into order transitions. It
// acknowledges every delivery that passes verification and decryption, so
// downstream failures never cause a redelivery storm.
type Ingestor struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	provider      string
	adapter       paymentdomain.Adapter
	adapterErr    error
	repo          paymentdomain.Repository
	orders        orderdomain.Service
	marker        *dedupe.Marker
	notifier      Notifier
	ingress       Ingress
	obsMetrics    *obsmetrics.Metrics
	ledgerMetrics *obsmetrics.LedgerMetrics

	pending sync.WaitGroup
}

func NewIngestor(p Params) *Ingestor {
	ingress := p.Ingress
	if ingress == "" {
		ingress = IngressBackend
	}
	log := p.Log.Named("payment.webhook").With(zap.String("ingress", string(ingress)))

	provider := strings.ToLower(strings.TrimSpace(p.Cfg.Gateway.Provider))
	adapter, err := p.Registry.NewAdapter(provider, paymentdomain.AdapterConfig{
		APIv3Key:          p.Cfg.Gateway.APIv3Key,
		PlatformPublicKey: p.Cfg.Gateway.PlatformPublicKey,
		PlatformSerial:    p.Cfg.Gateway.PlatformSerial,
		Now:               p.Clock.Now,
	})
	if err != nil {
		log.Warn("payment webhook adapter unavailable", zap.String("provider", provider), zap.Error(err))
	}

	ingestor := &Ingestor{
		db:            p.DB,
		log:           log,
		genID:         p.GenID,
		clock:         p.Clock,
		provider:      provider,
		adapter:       adapter,
		adapterErr:    err,
		repo:          p.Repo,
		orders:        p.Orders,
		marker:        p.Marker,
		notifier:      p.Notifier,
		ingress:       ingress,
		obsMetrics:    p.ObsMetrics,
		ledgerMetrics: p.LedgerMetrics,
	}
	if p.Lifecycle != nil {
		p.Lifecycle.Append(fx.Hook{OnStop: ingestor.Drain})
	}
	return ingestor
}

// Apply processes one delivery. The returned error is non-nil only when the
// delivery is not authentic or cannot be opened; the caller answers those
// with an authentication failure and everything else with the Ack.
func (i *Ingestor) Apply(ctx context.Context, delivery paymentdomain.Delivery) (paymentdomain.Ack, error) {
	if i.adapter == nil {
		return paymentdomain.AckFail, errors.Join(paymentdomain.ErrProviderNotConfigured, i.adapterErr)
	}

	if err := i.adapter.Verify(ctx, delivery.Body, delivery.Headers); err != nil {
		i.record(ctx, "", paymentdomain.OutcomeRejected)
		i.log.Warn("payment webhook signature rejected", zap.Error(err))
		return paymentdomain.AckFail, err
	}

	var envelope paymentdomain.Envelope
	if err := json.Unmarshal(delivery.Body, &envelope); err != nil {
		i.record(ctx, "", paymentdomain.OutcomeMalformed)
		i.log.Warn("payment webhook body is not an envelope", zap.Error(err))
		return paymentdomain.AckFail, paymentdomain.ErrInvalidPayload
	}

	plaintext, err := i.adapter.Decrypt(ctx, envelope.Resource)
	if err != nil {
		i.record(ctx, envelope.EventType, paymentdomain.OutcomeRejected)
		i.log.Warn("payment webhook resource could not be decrypted",
			zap.String("event_id", envelope.ID),
			zap.Error(err),
		)
		return paymentdomain.AckFail, err
	}

	event, err := i.adapter.Parse(ctx, envelope, plaintext)
	if err != nil {
		outcome := paymentdomain.OutcomeMalformed
		if errors.Is(err, paymentdomain.ErrEventIgnored) {
			outcome = paymentdomain.OutcomeIgnored
			i.log.Debug("payment webhook ignored",
				zap.String("event_id", envelope.ID),
				zap.String("event_type", envelope.EventType),
			)
		} else {
			i.log.Error("payment webhook resource unusable",
				zap.String("event_id", envelope.ID),
				zap.String("event_type", envelope.EventType),
				zap.Error(err),
			)
		}
		i.record(ctx, envelope.EventType, outcome)
		return paymentdomain.AckSuccess, nil
	}

	outcome := i.process(ctx, event)
	i.record(ctx, event.EventType, outcome)
	return paymentdomain.AckSuccess, nil
}

func (i *Ingestor) process(ctx context.Context, event *paymentdomain.PaymentEvent) string {
	logger := i.log.With(
		zap.String("event_id", event.EventID),
		zap.String("event_type", event.EventType),
		zap.String("order_id", event.OrderID),
	)

	archived, duplicate, err := i.archive(ctx, event)
	if err != nil {
		logger.Error("payment event archive failed", zap.Error(err))
	}
	if duplicate {
		logger.Info("payment event already processed")
		return paymentdomain.OutcomeDuplicate
	}

	claim, claimed, err := i.marker.Claim(ctx, event.Provider, event.EventID)
	if err != nil {
		logger.Warn("payment event marker unavailable", zap.Error(err))
	}
	if !claimed {
		logger.Info("payment event is being processed by another delivery")
		return paymentdomain.OutcomeDuplicate
	}

	result, applyErr := i.applyEvent(ctx, event)
	outcome := outcomeOf(result, applyErr)
	switch outcome {
	case paymentdomain.OutcomeFailed:
		logger.Error("payment event apply failed", zap.Error(applyErr))
	case paymentdomain.OutcomeConflict:
		logger.Warn("payment event conflicts with order state", zap.Error(applyErr))
	default:
		logger.Info("payment event applied",
			zap.String("outcome", outcome),
			zap.String("status", string(result.Order.Status)),
		)
	}

	// Failed and conflicting events stay unprocessed so a redelivery after
	// the order moves on is applied instead of deduplicated.
	if retryable(outcome) {
		if err := i.marker.Forget(context.WithoutCancel(ctx), claim); err != nil {
			logger.Warn("payment event marker release failed", zap.Error(err))
		}
		if archived {
			if err := i.repo.RecordOutcome(ctx, i.db, event.Provider, event.EventID, outcome); err != nil {
				logger.Warn("payment event outcome record failed", zap.Error(err))
			}
		}
	} else if archived {
		if err := i.repo.MarkProcessed(ctx, i.db, event.Provider, event.EventID, outcome, i.clock.Now()); err != nil {
			logger.Warn("payment event mark processed failed", zap.Error(err))
		}
	}

	i.notifyAfterAck(ctx, notifier.PaymentNotification{
		EventID:       event.EventID,
		EventType:     event.EventType,
		Kind:          string(event.Kind),
		OrderID:       event.OrderID,
		TransactionID: event.TransactionID,
		RefundID:      event.RefundID,
		PayerOpenID:   event.PayerOpenID,
		Amount:        event.Amount,
		OccurredAt:    event.OccurredAt,
		Outcome:       outcome,
	})
	return outcome
}

// archive stores the event once. duplicate is true when an earlier delivery
// of the same event finished processing.
func (i *Ingestor) archive(ctx context.Context, event *paymentdomain.PaymentEvent) (bool, bool, error) {
	record := paymentdomain.EventRecord{
		ID:              i.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.EventID,
		EventType:       event.EventType,
		OrderID:         event.OrderID,
		Payload:         paymentdomain.CompressResource(event.Resource),
		ReceivedAt:      i.clock.Now(),
	}
	inserted, err := i.repo.InsertEvent(ctx, i.db, &record)
	if err != nil {
		return false, false, err
	}
	if inserted {
		return true, false, nil
	}
	existing, err := i.repo.FindEvent(ctx, i.db, event.Provider, event.EventID)
	if err != nil {
		return false, false, err
	}
	if existing == nil {
		return false, false, nil
	}
	return true, existing.ProcessedAt != nil, nil
}

func (i *Ingestor) applyEvent(ctx context.Context, event *paymentdomain.PaymentEvent) (orderdomain.TransitionResult, error) {
	source := orderdomain.SourceWebhook
	if i.ingress == IngressServerless {
		source = orderdomain.SourceServerless
	}
	switch event.Kind {
	case paymentdomain.EventKindPaid:
		return i.orders.ApplyPaid(ctx, orderdomain.PaidEvidence{
			OrderID:              event.OrderID,
			GatewayTransactionID: event.TransactionID,
			PayerOpenID:          event.PayerOpenID,
			Amount:               event.Amount,
			EventID:              event.EventID,
			Source:               source,
			OccurredAt:           event.OccurredAt,
		})
	case paymentdomain.EventKindRefund:
		return i.orders.Refund(ctx, orderdomain.RefundEvidence{
			OrderID:    event.OrderID,
			RefundID:   event.RefundID,
			Amount:     event.Amount,
			EventID:    event.EventID,
			Source:     source,
			OccurredAt: event.OccurredAt,
		})
	default:
		return orderdomain.TransitionResult{}, paymentdomain.ErrEventIgnored
	}
}

func retryable(outcome string) bool {
	return outcome == paymentdomain.OutcomeFailed || outcome == paymentdomain.OutcomeConflict
}

func outcomeOf(result orderdomain.TransitionResult, err error) string {
	switch {
	case err == nil && result.Compensated:
		return paymentdomain.OutcomeCompensated
	case err == nil && result.Applied:
		return paymentdomain.OutcomeApplied
	case err == nil:
		return paymentdomain.OutcomeNoop
	case apperror.IsKind(err, apperror.KindConflict):
		return paymentdomain.OutcomeConflict
	case errors.Is(err, paymentdomain.ErrEventIgnored):
		return paymentdomain.OutcomeIgnored
	default:
		return paymentdomain.OutcomeFailed
	}
}

func (i *Ingestor) record(ctx context.Context, eventType, outcome string) {
	if eventType == "" {
		eventType = "unknown"
	}
	i.ledgerMetrics.IncWebhookOutcome(string(i.ingress), outcome)
	i.obsMetrics.RecordPaymentEvent(ctx, i.provider, eventType, outcome)
}

// notifyAfterAck hands the notification to a background goroutine so the
// gateway acknowledgement never waits on the backend.
func (i *Ingestor) notifyAfterAck(ctx context.Context, note notifier.PaymentNotification) {
	if i.notifier == nil {
		return
	}
	i.pending.Add(1)
	go func() {
		defer i.pending.Done()
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		i.notify(notifyCtx, note)
	}()
}

// Drain waits for in-flight notifications or until ctx is done.
func (i *Ingestor) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		i.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (i *Ingestor) notify(ctx context.Context, note notifier.PaymentNotification) {
	defer func() {
		if r := recover(); r != nil {
			i.log.Error("payment notifier panicked", zap.String("event_id", note.EventID), zap.Any("panic", r))
		}
	}()
	i.notifier.Notify(ctx, note)
}
