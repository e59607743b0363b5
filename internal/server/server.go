package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/photoledger/internal/authorization"
	"github.com/smallbiznis/photoledger/internal/config"
	invitedomain "github.com/smallbiznis/photoledger/internal/invite/domain"
	ledgerdomain "github.com/smallbiznis/photoledger/internal/ledger/domain"
	"github.com/smallbiznis/photoledger/internal/observability"
	obsmiddleware "github.com/smallbiznis/photoledger/internal/observability/logger"
	obstracing "github.com/smallbiznis/photoledger/internal/observability/tracing"
	orderdomain "github.com/smallbiznis/photoledger/internal/order/domain"
	paymentdomain "github.com/smallbiznis/photoledger/internal/payment/domain"
	"github.com/smallbiznis/photoledger/internal/payment/webhook"
	pricingdomain "github.com/smallbiznis/photoledger/internal/pricing/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("http.server",
	fx.Provide(NewEngine),
	fx.Provide(NewServer),
	fx.Invoke(RunHTTP),
)

func NewEngine(obsCfg observability.Config) *gin.Engine {
	if !obsCfg.Debug() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func RunHTTP(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           s.Engine(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					log.Fatal("http server stopped", zap.Error(err))
				}
			}()
			log.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

// paymentIngestor verifies and applies a raw gateway delivery.
type paymentIngestor interface {
	Apply(ctx context.Context, delivery paymentdomain.Delivery) (paymentdomain.Ack, error)
}

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	log        *zap.Logger
	orderSvc   orderdomain.Service
	inviteSvc  invitedomain.Service
	ledgerSvc  ledgerdomain.Service
	pricingSvc pricingdomain.Service
	authzSvc   authorization.Service
	ingestor   paymentIngestor
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Log        *zap.Logger
	OrderSvc   orderdomain.Service
	InviteSvc  invitedomain.Service
	LedgerSvc  ledgerdomain.Service
	PricingSvc pricingdomain.Service
	AuthzSvc   authorization.Service
	Ingestor   *webhook.Ingestor
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		log:        p.Log.Named("http.server"),
		orderSvc:   p.OrderSvc,
		inviteSvc:  p.InviteSvc,
		ledgerSvc:  p.LedgerSvc,
		pricingSvc: p.PricingSvc,
		authzSvc:   p.AuthzSvc,
		ingestor:   p.Ingestor,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	// -------- Orders --------
	v1.POST("/orders", s.CreateOrder)
	v1.GET("/orders/:id", s.GetOrder)
	v1.POST("/orders/:id/settle", s.SettleOrder)

	// -------- Users --------
	v1.POST("/users/register", s.RegisterUser)
	v1.GET("/users/:id/credits", s.GetCredits)
	v1.POST("/users/:id/credits/spend", s.SpendCredit)
	v1.GET("/users/:id/invites", s.GetInviteStats)

	// -------- Payment ingress --------
	s.engine.POST("/webhooks/payment", s.HandlePaymentWebhook)
	s.engine.POST("/internal/payment-events", s.InternalTokenRequired(), s.HandlePaymentNotification)

	// -------- Admin --------
	admin := s.engine.Group("/admin", s.InternalTokenRequired(), s.AdminActorRequired())
	{
		admin.POST("/orders/:id/status", s.OverrideOrderStatus)
		admin.POST("/orders/:id/refund", s.RefundOrder)
		admin.PUT("/prices/:item_type", s.UpdatePrice)
	}
}
