package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	apikeydomain "github.com/smallbiznis/campaigncredit/internal/apikey/domain"
	auditdomain "github.com/smallbiznis/campaigncredit/internal/audit/domain"
	"github.com/smallbiznis/campaigncredit/internal/authorization"
	"github.com/smallbiznis/campaigncredit/internal/config"
	ledgerdomain "github.com/smallbiznis/campaigncredit/internal/ledger/domain"
	messagingdomain "github.com/smallbiznis/campaigncredit/internal/messaging/domain"
	"github.com/smallbiznis/campaigncredit/internal/observability"
	obslogger "github.com/smallbiznis/campaigncredit/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/campaigncredit/internal/observability/metrics"
	obstracing "github.com/smallbiznis/campaigncredit/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/campaigncredit/internal/order/domain"
	paymentdomain "github.com/smallbiznis/campaigncredit/internal/payment/domain"
	pricingdomain "github.com/smallbiznis/campaigncredit/internal/pricing/domain"
	"github.com/smallbiznis/campaigncredit/internal/providers/pdf"
	"github.com/smallbiznis/campaigncredit/internal/ratelimit"
	reconciliationdomain "github.com/smallbiznis/campaigncredit/internal/reconciliation/domain"
	transactiondomain "github.com/smallbiznis/campaigncredit/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obslogger.GinMiddleware(obslogger.MiddlewareConfig{
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

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Fatal("http server failed", zap.Error(err))
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

type Server struct {
	engine            *gin.Engine
	cfg               config.Config
	apiKeySvc         apikeydomain.Service
	authzSvc          authorization.Service
	ledgerSvc         ledgerdomain.Service
	transactionSvc    transactiondomain.Service
	pricingSvc        pricingdomain.Service
	orderSvc          orderdomain.Service
	reconciliationSvc reconciliationdomain.Service
	messagingSvc      messagingdomain.Dispatcher
	verifier          paymentdomain.SignatureVerifier
	auditSvc          auditdomain.Service
	receipts          pdf.Provider
	limiter           *ratelimit.Limiter
	obsMetrics        *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin               *gin.Engine
	Cfg               config.Config
	APIKeySvc         apikeydomain.Service
	AuthzSvc          authorization.Service
	LedgerSvc         ledgerdomain.Service
	TransactionSvc    transactiondomain.Service
	PricingSvc        pricingdomain.Service
	OrderSvc          orderdomain.Service
	ReconciliationSvc reconciliationdomain.Service
	MessagingSvc      messagingdomain.Dispatcher
	Verifier          paymentdomain.SignatureVerifier
	AuditSvc          auditdomain.Service `optional:"true"`
	Receipts          pdf.Provider        `optional:"true"`
	Limiter           *ratelimit.Limiter  `optional:"true"`
	ObsMetrics        *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:            p.Gin,
		cfg:               p.Cfg,
		apiKeySvc:         p.APIKeySvc,
		authzSvc:          p.AuthzSvc,
		ledgerSvc:         p.LedgerSvc,
		transactionSvc:    p.TransactionSvc,
		pricingSvc:        p.PricingSvc,
		orderSvc:          p.OrderSvc,
		reconciliationSvc: p.ReconciliationSvc,
		messagingSvc:      p.MessagingSvc,
		verifier:          p.Verifier,
		auditSvc:          p.AuditSvc,
		receipts:          p.Receipts,
		limiter:           p.Limiter,
		obsMetrics:        p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerAdminRoutes()
	svc.registerFallback()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	// -------- Payment Webhooks --------
	api.POST("/payments/webhooks/:provider", s.WebhookRateLimit(), s.HandlePaymentWebhook)

	tenant := api.Group("", s.APIKeyRequired(), s.TenantRequired(), s.TenantRateLimit())

	// -------- Credits --------
	credits := tenant.Group("/credits")
	{
		credits.GET("/balance", s.authorize(authorization.ObjectBalance, authorization.ActionView), s.GetBalance)
		credits.GET("/transactions", s.authorize(authorization.ObjectTransaction, authorization.ActionView), s.ListTransactions)
		credits.POST("/purchase-requests", s.authorize(authorization.ObjectPurchaseRequest, authorization.ActionCreate), s.CreatePurchaseRequest)
		credits.GET("/pricing", s.authorize(authorization.ObjectPricing, authorization.ActionView), s.ListPricing)
	}

	// -------- Orders --------
	orders := credits.Group("/orders")
	{
		orders.POST("", s.authorize(authorization.ObjectOrder, authorization.ActionCreate), s.CreateOrder)
		orders.GET("", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.ListOrders)
		orders.GET("/:id", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.GetOrder)
		orders.GET("/:id/receipt", s.authorize(authorization.ObjectOrder, authorization.ActionView), s.GetOrderReceipt)
		orders.POST("/:id/reconcile", s.authorize(authorization.ObjectOrder, authorization.ActionOrderReconcile), s.ReconcileOrder)
	}

	// -------- Messaging --------
	tenant.POST("/messages", s.authorize(authorization.ObjectMessage, authorization.ActionSend), s.SendMessage)
}

func (s *Server) registerAdminRoutes() {
	admin := s.engine.Group("/admin", s.APIKeyRequired())

	credits := admin.Group("/credits")
	{
		credits.GET("/purchase-requests", s.authorize(authorization.ObjectPurchaseRequest, authorization.ActionView), s.ListPendingPurchaseRequests)
		credits.POST("/purchase-requests/:id/approve", s.authorize(authorization.ObjectPurchaseRequest, authorization.ActionApprove), s.ApprovePurchaseRequest)
		credits.POST("/purchase-requests/:id/reject", s.authorize(authorization.ObjectPurchaseRequest, authorization.ActionReject), s.RejectPurchaseRequest)
		credits.POST("/tenants/:tenant_id/credits", s.authorize(authorization.ObjectBalance, authorization.ActionCredit), s.AddCreditsManually)
		credits.POST("/tenants/:tenant_id/adjustments", s.authorize(authorization.ObjectBalance, authorization.ActionAdjust), s.AdjustCredits)
		credits.GET("/tenants/:tenant_id/balance", s.authorize(authorization.ObjectBalance, authorization.ActionView), s.AdminGetBalance)
		credits.PUT("/pricing/:channel", s.authorize(authorization.ObjectPricing, authorization.ActionUpdate), s.SetPricing)
	}

	payments := admin.Group("/payments")
	{
		payments.GET("/notifications", s.authorize(authorization.ObjectNotification, authorization.ActionView), s.ListPaymentNotifications)
		payments.POST("/notifications/replay", s.authorize(authorization.ObjectNotification, authorization.ActionReplay), s.ReplayPaymentNotifications)
	}

	keys := admin.Group("/api-keys")
	{
		keys.GET("", s.authorize(authorization.ObjectAPIKey, authorization.ActionView), s.ListAPIKeys)
		keys.POST("", s.authorize(authorization.ObjectAPIKey, authorization.ActionCreate), s.CreateAPIKey)
		keys.DELETE("/:key_id", s.authorize(authorization.ObjectAPIKey, authorization.ActionRevoke), s.RevokeAPIKey)
	}

	admin.GET("/audit-logs", s.authorize(authorization.ObjectAuditLog, authorization.ActionView), s.ListAuditLogs)
}

func (s *Server) registerFallback() {
	s.engine.NoRoute(func(c *gin.Context) {
		AbortWithError(c, ErrNotFound)
	})
}
