package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invitedomain "github.com/smallbiznis/photoledger/internal/invite/domain"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

type registerUserRequest struct {
	OpenID     string `json:"openid"`
	InviteCode string `json:"invite_code"`
}

// RegisterUser never fails on a bad invite code; the outcome is reported in
// the invite block of the response.
func (s *Server) RegisterUser(c *gin.Context) {
	var req registerUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.inviteSvc.RegisterWithInvite(c.Request.Context(), invitedomain.RegisterRequest{
		OpenID:     strings.TrimSpace(req.OpenID),
		InviteCode: strings.TrimSpace(req.InviteCode),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if result.Created {
		status = http.StatusCreated
	}
	c.JSON(status, gin.H{"data": result})
}

func (s *Server) GetCredits(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	limit := defaultHistoryLimit
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "invalid limit"))
			return
		}
		limit = min(parsed, maxHistoryLimit)
	}

	ctx := c.Request.Context()
	user, err := s.ledgerSvc.Balance(ctx, userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	history, err := s.ledgerSvc.History(ctx, userID, limit)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"user_id":          user.ID,
		"usage_count":      user.UsageCount,
		"has_ever_paid":    user.HasEverPaid,
		"first_payment_at": user.FirstPaymentAt,
		"last_payment_at":  user.LastPaymentAt,
		"history":          history,
	}})
}

type spendCreditRequest struct {
	ReferenceID string `json:"reference_id"`
}

func (s *Server) SpendCredit(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req spendCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	mutation, err := s.ledgerSvc.SpendCredit(c.Request.Context(), userID, strings.TrimSpace(req.ReferenceID))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": mutation})
}

func (s *Server) GetInviteStats(c *gin.Context) {
	userID, err := parseUserID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	stats, err := s.inviteSvc.Stats(c.Request.Context(), userID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": stats})
}

func parseUserID(raw string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(strings.TrimSpace(raw))
	if err != nil || id <= 0 {
		return 0, newValidationError("user_id", "invalid_user_id", "invalid user id")
	}
	return id, nil
}
