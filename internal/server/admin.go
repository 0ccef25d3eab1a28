package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
)

type completePayoutRequest struct {
	ExternalRef string `json:"externalRef"`
}

type failPayoutRequest struct {
	Reason string `json:"reason"`
}

type enrollAffiliateRequest struct {
	AccountID          string `json:"accountId"`
	PayoutMethod       string `json:"payoutMethod"`
	PayoutDestination  string `json:"payoutDestination"`
	MinPayoutThreshold *int64 `json:"minPayoutThreshold"`
}

// CompletePayout settles a manual payout that was paid outside the processor.
func (s *Server) CompletePayout(c *gin.Context) {
	actorID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	payoutID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req completePayoutRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			AbortWithError(c, invalidRequestError())
			return
		}
	}

	payout, err := s.payoutSvc.Complete(c.Request.Context(), payoutdomain.CompleteRequest{
		PayoutID:    payoutID,
		ExternalRef: strings.TrimSpace(req.ExternalRef),
		ActorID:     actorID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

func (s *Server) FailPayout(c *gin.Context) {
	actorID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}
	payoutID, err := parseIDParam(c, "id")
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req failPayoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	payout, err := s.payoutSvc.Fail(c.Request.Context(), payoutdomain.FailRequest{
		PayoutID: payoutID,
		Reason:   strings.TrimSpace(req.Reason),
		ActorID:  actorID.String(),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, payout)
}

func (s *Server) EnrollAffiliate(c *gin.Context) {
	var req enrollAffiliateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}
	accountID, err := snowflake.ParseString(strings.TrimSpace(req.AccountID))
	if err != nil || accountID == 0 {
		AbortWithError(c, newValidationError("accountId", "invalid_account_id", "invalid accountId"))
		return
	}

	assignment, err := s.referralSvc.EnrollAffiliate(c.Request.Context(), referraldomain.EnrollAffiliateRequest{
		AccountID:          accountID,
		PayoutMethod:       referraldomain.PayoutMethod(strings.ToUpper(strings.TrimSpace(req.PayoutMethod))),
		PayoutDestination:  strings.TrimSpace(req.PayoutDestination),
		MinPayoutThreshold: req.MinPayoutThreshold,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, assignment)
}
