// Package server exposes the HTTP surface: gateway webhooks, payment source
// tokenization, and subscribe/unsubscribe.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/smallbiznis/rebill/internal/charge"
	"github.com/smallbiznis/rebill/internal/config"
	ledgerdomain "github.com/smallbiznis/rebill/internal/ledger/domain"
	sourcedomain "github.com/smallbiznis/rebill/internal/paymentsource/domain"
	plandomain "github.com/smallbiznis/rebill/internal/plan/domain"
	reconciledomain "github.com/smallbiznis/rebill/internal/reconcile/domain"
	subscriptiondomain "github.com/smallbiznis/rebill/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Provide(provideChargeExecutor),
	fx.Provide(NewServer),
	fx.Invoke(run),
)

// ChargeExecutor is the slice of the charge path the subscribe handler needs.
type ChargeExecutor interface {
	Execute(ctx context.Context, subscriberID snowflake.ID, planCode string) (*ledgerdomain.BillingAttempt, error)
}

func provideChargeExecutor(executor *charge.Executor) ChargeExecutor {
	return executor
}

func NewEngine(log *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogger(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return r
}

func registerGin(log *zap.Logger) *gin.Engine {
	return NewEngine(log)
}

func run(lc fx.Lifecycle, cfg config.Config, s *Server, log *zap.Logger) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: s.Engine(),
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	db            *gorm.DB
	executor      ChargeExecutor
	plans         plandomain.Repository
	sources       sourcedomain.Service
	subscriptions subscriptiondomain.Service
	reconciler    reconciledomain.Service
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	DB            *gorm.DB
	Executor      ChargeExecutor
	Plans         plandomain.Repository
	Sources       sourcedomain.Service
	Subscriptions subscriptiondomain.Service
	Reconciler    reconciledomain.Service
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("server"),
		db:            p.DB,
		executor:      p.Executor,
		plans:         p.Plans,
		sources:       p.Sources,
		subscriptions: p.Subscriptions,
		reconciler:    p.Reconciler,
	}

	svc.registerRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerRoutes() {
	v1 := s.engine.Group("/v1")

	v1.POST("/webhooks/gateway", s.HandleGatewayWebhook)

	subscribers := v1.Group("/subscribers/:subscriberId")
	{
		subscribers.POST("/payment-sources", s.CreatePaymentSource)
		subscribers.GET("/payment-sources/active", s.GetActivePaymentSource)
		subscribers.POST("/payment-sources/reactivate", s.ReactivatePaymentSource)
		subscribers.DELETE("/payment-sources", s.CancelPaymentSource)

		subscribers.POST("/subscription", s.Subscribe)
		subscribers.DELETE("/subscription", s.Unsubscribe)
	}
}
