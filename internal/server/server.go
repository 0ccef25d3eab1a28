package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	auditdomain "github.com/rubenoroz/closeframe-sub002/internal/audit/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/authorization"
	"github.com/rubenoroz/closeframe-sub002/internal/config"
	entitlementdomain "github.com/rubenoroz/closeframe-sub002/internal/entitlement/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/observability"
	obsmiddleware "github.com/rubenoroz/closeframe-sub002/internal/observability/logger"
	obsmetrics "github.com/rubenoroz/closeframe-sub002/internal/observability/metrics"
	obstracing "github.com/rubenoroz/closeframe-sub002/internal/observability/tracing"
	payoutdomain "github.com/rubenoroz/closeframe-sub002/internal/payout/domain"
	plandomain "github.com/rubenoroz/closeframe-sub002/internal/plan/domain"
	referraldomain "github.com/rubenoroz/closeframe-sub002/internal/referral/domain"
	"github.com/rubenoroz/closeframe-sub002/internal/session"
	subscriptiondomain "github.com/rubenoroz/closeframe-sub002/internal/subscription/domain"
	webhookdomain "github.com/rubenoroz/closeframe-sub002/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	session.Module,
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine, log *zap.Logger) {
	addr := cfg.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Info("http server listening", zap.String("addr", addr))
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// sessionResolver is the read side of the session store.
type sessionResolver interface {
	ReadToken(c *gin.Context) (string, bool)
	Resolve(ctx context.Context, token string) (*session.Session, error)
}

type Server struct {
	engine          *gin.Engine
	cfg             config.Config
	log             *zap.Logger
	sessions        sessionResolver
	authzSvc        authorization.Service
	auditSvc        auditdomain.Service
	planSvc         plandomain.Service
	catalog         *config.PlanCatalogHolder
	entitlementSvc  entitlementdomain.Service
	subscriptionSvc subscriptiondomain.Service
	referralSvc     referraldomain.Service
	payoutSvc       payoutdomain.Service
	webhookSvc      webhookdomain.Service
}

type ServerParams struct {
	fx.In

	Gin             *gin.Engine
	Cfg             config.Config
	Log             *zap.Logger
	Sessions        *session.Store
	AuthzSvc        authorization.Service
	AuditSvc        auditdomain.Service
	PlanSvc         plandomain.Service
	Catalog         *config.PlanCatalogHolder
	EntitlementSvc  entitlementdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	ReferralSvc     referraldomain.Service
	PayoutSvc       payoutdomain.Service
	WebhookSvc      webhookdomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:          p.Gin,
		cfg:             p.Cfg,
		log:             p.Log.Named("http.server"),
		sessions:        p.Sessions,
		authzSvc:        p.AuthzSvc,
		auditSvc:        p.AuditSvc,
		planSvc:         p.PlanSvc,
		catalog:         p.Catalog,
		entitlementSvc:  p.EntitlementSvc,
		subscriptionSvc: p.SubscriptionSvc,
		referralSvc:     p.ReferralSvc,
		payoutSvc:       p.PayoutSvc,
		webhookSvc:      p.WebhookSvc,
	}
	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/stripe", s.HandleStripeWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")
	api.Use(s.SessionRequired())

	api.GET("/plans", s.ListPlans)

	// -------- Entitlements --------
	api.GET("/entitlements", s.ListEntitlements)
	api.GET("/entitlements/:key", s.GetEntitlement)

	// -------- Subscription --------
	api.POST("/subscription/change", s.ChangePlan)
	api.POST("/subscription/cancel", s.CancelSubscription)

	// -------- Referral --------
	api.GET("/referral", s.GetReferralAssignment)
	api.POST("/referral/payout", s.RequestPayout)
	api.GET("/referral/payout", s.GetPayoutSummary)
	api.GET("/referral/payouts/:id/statement", s.GetPayoutStatement)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin")
	admin.Use(s.SessionRequired())

	admin.POST("/payouts/:id/complete", s.authorizeAction(authorization.ObjectPayout, authorization.ActionPayoutSettle), s.CompletePayout)
	admin.POST("/payouts/:id/fail", s.authorizeAction(authorization.ObjectPayout, authorization.ActionPayoutSettle), s.FailPayout)
	admin.POST("/referral/affiliates", s.authorizeAction(authorization.ObjectReferral, authorization.ActionReferralEnroll), s.EnrollAffiliate)
	admin.POST("/plans/sync", s.authorizeAction(authorization.ObjectPlanCatalog, authorization.ActionPlanCatalogSync), s.SyncPlans)
	admin.GET("/audit-logs", s.authorizeAction(authorization.ObjectAuditLog, authorization.ActionAuditLogView), s.ListAuditLogs)
}
