package http

import (
	"context"
	"log/slog"

	"github.com/geocoder89/edms/internal/auth"
	"github.com/geocoder89/edms/internal/config"
	"github.com/geocoder89/edms/internal/http/handlers"
	"github.com/geocoder89/edms/internal/http/middlewares"
	"github.com/geocoder89/edms/internal/observability"
	"github.com/geocoder89/edms/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// Deps are the collaborators the router wires into handlers.
type Deps struct {
	Accounts *service.AccountService
	Tokens   *auth.Manager
	// Ping backs /readyz; nil means always ready.
	Ping func(ctx context.Context) error
	// LoginCounter shares login throttling across instances; nil keeps it per process.
	LoginCounter middlewares.WindowCounter
	Prom         *observability.Prom
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

func NewRouter(log *slog.Logger, cfg config.Config, deps Deps) *gin.Engine {
	if cfg.Env != "dev" && cfg.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	// middleware
	r.Use(gin.Recovery())
	if cfg.OTELEndpoint != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(middlewares.RequestID())
	r.Use(middlewares.RequestLogger(log))
	r.Use(middlewares.SecurityHeaders())
	if len(cfg.CORSOrigins) > 0 {
		r.Use(middlewares.CORSMiddleware(cfg.CORSOrigins))
	}
	if cfg.MaxBodyBytes > 0 {
		r.Use(middlewares.MaxBodyBytes(cfg.MaxBodyBytes))
	}
	if deps.Prom != nil {
		r.Use(deps.Prom.GinHandleMiddleware())
	}

	// health
	h := handlers.NewHealthHandler(deps.Ping)
	r.GET("/healthz", h.Healthz)
	r.GET("/readyz", h.Readyz)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	}

	// auth
	loginLimiter := middlewares.NewRateLimiter(cfg.LoginRateLimit, cfg.LoginRateWindow, "edms:login:", deps.LoginCounter, log)
	loginLimiter.OnLimited = func(*gin.Context) { deps.Prom.ObserveLogin("throttled") }

	authHandler := handlers.NewAuthHandler(deps.Accounts, deps.Tokens, deps.Prom, log)
	r.POST("/token", loginLimiter.RateLimiterMiddleware(middlewares.KeyByIP), authHandler.IssueToken)

	// accounts
	gate := middlewares.NewGate(deps.Tokens, deps.Accounts, deps.Prom, log)
	accountsHandler := handlers.NewAccountsHandler(deps.Accounts, log)

	requireJSON := middlewares.RequireJSON()

	accounts := r.Group("/accounts")
	{
		accounts.POST("", gate.Authorize(middlewares.AdminOnly()), requireJSON, accountsHandler.CreateAccount)
		accounts.GET("", gate.Authorize(middlewares.AdminOnly()), accountsHandler.ListAccounts)
		accounts.GET("/:id", gate.Authorize(middlewares.AdminOrSelf("id")), accountsHandler.GetAccount)
		accounts.PUT("/:id", gate.Authorize(middlewares.AdminOrSelf("id")), requireJSON, accountsHandler.UpdateAccount)
		accounts.DELETE("/:id", gate.Authorize(middlewares.AdminOnly()), accountsHandler.DeleteAccount)
	}

	return r
}
