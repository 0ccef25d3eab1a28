package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rubenoroz/closeframe-sub002/internal/capability"
)

type entitlementResponse struct {
	Key     capability.Key `json:"key"`
	Allowed bool           `json:"allowed"`
	Limit   *int64         `json:"limit"`
}

func (s *Server) ListEntitlements(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	access, err := s.entitlementSvc.ResolveAll(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": access})
}

func (s *Server) GetEntitlement(c *gin.Context) {
	accountID, ok := accountIDFromContext(c)
	if !ok {
		AbortWithError(c, ErrUnauthorized)
		return
	}

	key, err := capability.Parse(strings.TrimSpace(c.Param("key")))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	access, err := s.entitlementSvc.Resolve(c.Request.Context(), accountID, key)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, entitlementResponse{
		Key:     key,
		Allowed: access.Allowed,
		Limit:   access.Limit,
	})
}
