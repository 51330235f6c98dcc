package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/entitled/internal/config"
	"github.com/smallbiznis/entitled/internal/entitlement"
	"github.com/smallbiznis/entitled/internal/entitlement/domain"
	"github.com/smallbiznis/entitled/internal/keylock"
	"github.com/smallbiznis/entitled/internal/observability"
	obsmiddleware "github.com/smallbiznis/entitled/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/entitled/internal/observability/metrics"
	obstracing "github.com/smallbiznis/entitled/internal/observability/tracing"
	"github.com/smallbiznis/entitled/internal/provider/dodo"
	"go.uber.org/fx"
)

var Module = fx.Module("http.server",
	config.Module,
	keylock.Module,
	dodo.Module,
	entitlement.Module,
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

func run(lc fx.Lifecycle, r *gin.Engine, cfg config.Config) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
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

type Server struct {
	engine     *gin.Engine
	cfg        config.Config
	verifier   *dodo.Verifier
	reconciler domain.Reconciler
	accessSvc  domain.AccessService
	links      *dodo.LinkBuilder
	lookup     *dodo.Client
	obsMetrics *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin        *gin.Engine
	Cfg        config.Config
	Verifier   *dodo.Verifier
	Reconciler domain.Reconciler
	AccessSvc  domain.AccessService
	Links      *dodo.LinkBuilder
	Lookup     *dodo.Client
	ObsMetrics *obsmetrics.Metrics `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:     p.Gin,
		cfg:        p.Cfg,
		verifier:   p.Verifier,
		reconciler: p.Reconciler,
		accessSvc:  p.AccessSvc,
		links:      p.Links,
		lookup:     p.Lookup,
		obsMetrics: p.ObsMetrics,
	}

	svc.registerAPIRoutes()
	svc.registerPageRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.POST("/webhook", s.HandleWebhook)
	api.GET("/user/:email/access", s.GetUserAccess)
}

func (s *Server) registerPageRoutes() {
	s.engine.GET("/", s.HomePage)
	s.engine.GET("/checkout/:productId", s.CheckoutRedirect)
	s.engine.GET("/success", s.SuccessPage)
}
