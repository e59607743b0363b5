package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/photoledger/internal/authorization"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	"go.uber.org/zap"
)

type overrideStatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func (s *Server) OverrideOrderStatus(c *gin.Context) {
	var req overrideStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", orderID)

	result, err := s.orderSvc.Override(c.Request.Context(), orderdomain.OverrideRequest{
		Actor:   actorFrom(c),
		OrderID: orderID,
		Target:  orderdomain.Status(strings.ToLower(strings.TrimSpace(req.Status))),
		Reason:  strings.TrimSpace(req.Reason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transitionView(result)})
}

type refundOrderRequest struct {
	Amount int64  `json:"amount"`
	Reason string `json:"reason"`
}

// RefundOrder asks the gateway to refund. The order only moves once the
// gateway reports the refund settled.
func (s *Server) RefundOrder(c *gin.Context) {
	var req refundOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	orderID := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", orderID)

	result, err := s.orderSvc.RequestRefund(c.Request.Context(), orderdomain.RequestRefundInput{
		OrderID: orderID,
		Amount:  req.Amount,
		Reason:  strings.TrimSpace(req.Reason),
		Actor:   actorFrom(c),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"data": transitionView(result)})
}

type updatePriceRequest struct {
	Amount int64 `json:"amount"`
}

func (s *Server) UpdatePrice(c *gin.Context) {
	var req updatePriceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	ctx := c.Request.Context()
	actor := actorFrom(c)
	if s.authzSvc == nil {
		AbortWithError(c, ErrForbidden)
		return
	}
	if err := s.authzSvc.Authorize(ctx, actor, authorization.ObjectPrice, authorization.ActionPriceUpdate); err != nil {
		AbortWithError(c, err)
		return
	}

	entry, err := s.pricingSvc.Update(ctx, c.Param("item_type"), req.Amount)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	s.log.Info("price updated",
		zap.String("actor", actor),
		zap.String("item_type", entry.ItemType),
		zap.Int64("amount", entry.Amount),
	)
	c.JSON(http.StatusOK, gin.H{"data": entry})
}
