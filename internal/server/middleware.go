package server

import (
	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	accountdomain "github.com/rubenoroz/closeframe-sub002/internal/account/domain"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	obscontext "github.com/rubenoroz/closeframe-sub002/internal/observability/context"
)

const (
	contextAccountIDKey = "account_id"
	contextRoleKey      = "account_role"
)

// SessionRequired resolves the caller from the session cookie or bearer
// token and puts the account on both the gin and request contexts.
func (s *Server) SessionRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := s.sessions.ReadToken(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		sess, err := s.sessions.Resolve(c.Request.Context(), token)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		accountID := sess.AccountID.String()
		actorType := auditdomain.ActorTypeAccount
		if sess.Role == accountdomain.RoleOperator || sess.Role == accountdomain.RoleAdmin {
			actorType = auditdomain.ActorTypeOperator
		}

		ctx := obscontext.WithAccountID(c.Request.Context(), accountID)
		ctx = obscontext.WithActor(ctx, string(actorType), accountID)
		c.Request = c.Request.WithContext(ctx)

		c.Set(contextAccountIDKey, sess.AccountID)
		c.Set(contextRoleKey, sess.Role)
		c.Next()
	}
}

func (s *Server) authorizeAction(object string, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		accountID, ok := accountIDFromContext(c)
		if !ok {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		if s.authzSvc == nil {
			AbortWithError(c, ErrForbidden)
			return
		}
		if err := s.authzSvc.Authorize(c.Request.Context(), accountID.String(), c.GetString(contextRoleKey), object, action); err != nil {
			AbortWithError(c, err)
			return
		}
		c.Next()
	}
}

func accountIDFromContext(c *gin.Context) (snowflake.ID, bool) {
	raw, ok := c.Get(contextAccountIDKey)
	if !ok {
		return 0, false
	}
	id, ok := raw.(snowflake.ID)
	if !ok || id == 0 {
		return 0, false
	}
	return id, true
}

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(c.Param(name))
	if err != nil || id == 0 {
		return 0, newValidationError(name, "invalid_"+name, "invalid "+name)
	}
	return id, nil
}
