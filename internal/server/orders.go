package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
)

type createOrderRequest struct {
	UserID       string `json:"user_id"`
	ItemType     string `json:"item_type"`
	GenerationID string `json:"generation_id"`
}

func (s *Server) CreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	userID, err := parseUserID(req.UserID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	order, err := s.orderSvc.CreateOrder(c.Request.Context(), orderdomain.CreateOrderRequest{
		UserID:       userID,
		ItemType:     strings.TrimSpace(req.ItemType),
		GenerationID: strings.TrimSpace(req.GenerationID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.Set("order_id", order.OrderID)
	c.JSON(http.StatusCreated, gin.H{"data": order})
}

func (s *Server) GetOrder(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", orderID)

	view, err := s.orderSvc.QueryStatus(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": view})
}

// SettleOrder asks the gateway for the order's state and applies a success
// the same way a webhook would.
func (s *Server) SettleOrder(c *gin.Context) {
	orderID := strings.TrimSpace(c.Param("id"))
	c.Set("order_id", orderID)

	result, err := s.orderSvc.Settle(c.Request.Context(), orderID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": transitionView(result)})
}

type transitionResponse struct {
	OrderID     string             `json:"order_id"`
	Status      orderdomain.Status `json:"status"`
	From        orderdomain.Status `json:"from"`
	Applied     bool               `json:"applied"`
	Compensated bool               `json:"compensated"`
	Partial     bool               `json:"partial,omitempty"`
	UsageCount  *int64             `json:"usage_count,omitempty"`
}

func transitionView(result orderdomain.TransitionResult) transitionResponse {
	resp := transitionResponse{
		OrderID:     result.Order.OrderID,
		Status:      result.Order.Status,
		From:        result.From,
		Applied:     result.Applied,
		Compensated: result.Compensated,
		Partial:     result.Partial,
	}
	if result.Credit != nil {
		usage := result.Credit.User.UsageCount
		resp.UsageCount = &usage
	}
	return resp
}
