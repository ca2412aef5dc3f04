package handler

import (
	"timebank/config"
	"timebank/internal/adapter/http/middleware"
	redisStore "timebank/internal/adapter/storage/redis"
	"timebank/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc      ports.WalletService
	SupportSvc     ports.SupportService
	DonationSvc    ports.DonationService
	SettlementSvc  ports.SettlementService
	AccountSvc     ports.AccountService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	JWT            config.JWTConfig
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Prometheus scrape endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// --- JWT-authenticated member routes ---
	jwtAuth := middleware.JWTAuth(deps.JWT, deps.Logger)
	walletHandler := NewWalletHandler(deps.WalletSvc)
	supportHandler := NewSupportHandler(deps.SupportSvc, deps.DonationSvc)

	v1 := r.Group("/api/v1", jwtAuth)
	{
		v1.GET("/wallet", rl("wallet_read"), walletHandler.GetWallet)
		v1.GET("/wallet/history", rl("wallet_read"), walletHandler.History)
		v1.GET("/bank", rl("wallet_read"), walletHandler.GetBank)

		v1.GET("/support/eligibility", rl("wallet_read"), supportHandler.Eligibility)
		v1.POST("/support/claim", rl("support_claim"), supportHandler.Claim)
		v1.POST("/donations", rl("donate"), supportHandler.Donate)
	}

	// --- Internal service-to-service routes (audience-gated JWT) ---
	internalAuth := middleware.InternalAuth(deps.JWT, deps.Logger)
	settlementHandler := NewSettlementHandler(deps.SettlementSvc, deps.WalletSvc)
	accountHandler := NewAccountHandler(deps.AccountSvc, deps.WalletSvc)

	internal := r.Group("/internal/v1", internalAuth)
	{
		internal.POST("/settlements", rl("internal"), settlementHandler.Settle)
		internal.GET("/obligations", rl("internal"), settlementHandler.Obligations)
		internal.POST("/obligations/collect", rl("internal"), settlementHandler.CollectObligations)
		internal.POST("/postings", rl("internal"), settlementHandler.Posting)
		internal.POST("/accounts", rl("internal"), accountHandler.Create)
		internal.GET("/accounts/:id", rl("internal"), accountHandler.Get)
	}

	return r
}
