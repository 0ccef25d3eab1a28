package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/rubenoroz/closeframe-sub002/internal/subscription/domain"
)

type changePlanRequest struct {
	PlanID  string `json:"planId"`
	PriceID string `json:"priceId"`
}

func (s *Server) ChangePlan(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	var req changePlanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	planID, err := snowflake.ParseString(strings.TrimSpace(req.PlanID))
	if err != nil || planID == 0 {
		AbortWithError(c, newValidationError("planId", "invalid_plan_id", "invalid planId"))
		return
	}

	outcome, err := s.subscriptionSvc.ChangePlan(c.Request.Context(), subscriptiondomain.ChangePlanRequest{
		AccountID: accountID,
		PlanID:    planID,
		PriceID:   strings.TrimSpace(req.PriceID),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}

func (s *Server) CancelSubscription(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	outcome, err := s.subscriptionSvc.Cancel(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, outcome)
}
