package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/smallbiznis/photoledger/internal/apperror"
	"github.com/smallbiznis/photoledger/internal/notifier"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

var notificationValidator = validator.New()

// HandlePaymentWebhook is the direct gateway ingress. Anything that verified
// is acknowledged with 200 so the gateway stops redelivering; only
// unauthenticated deliveries get a failure acknowledgement.
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, paymentdomain.AckFail)
		return
	}

	ack, err := s.ingestor.Apply(c.Request.Context(), paymentdomain.Delivery{
		Body:    body,
		Headers: c.Request.Header,
	})
	if err != nil {
		status := http.StatusInternalServerError
		switch apperror.KindOf(err) {
		case apperror.KindAuthentication:
			status = http.StatusUnauthorized
		case apperror.KindValidation:
			status = http.StatusBadRequest
		}
		_ = c.Error(err)
		c.JSON(status, ack)
		return
	}

	c.JSON(http.StatusOK, ack)
}

// HandlePaymentNotification receives events the serverless ingress already
// verified and applies them through the order store.
func (s *Server) HandlePaymentNotification(c *gin.Context) {
	var note notifier.PaymentNotification
	if err := c.ShouldBindJSON(&note); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	if err := notificationValidator.Struct(note); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	c.Set("order_id", note.OrderID)

	ctx := c.Request.Context()
	var (
		result orderdomain.TransitionResult
		err    error
	)
	switch note.Kind {
	case string(paymentdomain.EventKindRefund):
		result, err = s.orderSvc.Refund(ctx, orderdomain.RefundEvidence{
			OrderID:    note.OrderID,
			RefundID:   note.RefundID,
			Amount:     note.Amount,
			EventID:    note.EventID,
			Source:     orderdomain.SourceNotifier,
			OccurredAt: note.OccurredAt,
		})
	default:
		result, err = s.orderSvc.ApplyPaid(ctx, orderdomain.PaidEvidence{
			OrderID:              note.OrderID,
			GatewayTransactionID: note.TransactionID,
			PayerOpenID:          note.PayerOpenID,
			Amount:               note.Amount,
			EventID:              note.EventID,
			Source:               orderdomain.SourceNotifier,
			OccurredAt:           note.OccurredAt,
		})
	}
	if err != nil {
		s.log.Warn("payment notification not applied",
			zap.String("event_id", note.EventID),
			zap.String("order_id", note.OrderID),
			zap.String("error_code", apperror.CodeOf(err)),
			zap.Error(err),
		)
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transitionView(result)})
}
