package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.List(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": plans})
}

// SyncPlans re-applies the loaded catalog without waiting for a file change.
func (s *Server) SyncPlans(c *gin.Context) {
	if s.catalog == nil {
		AbortWithError(c, ErrServiceUnavailable)
		return
	}

	synced, err := s.planSvc.Sync(c.Request.Context(), s.catalog.Get())
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"synced": synced})
}
