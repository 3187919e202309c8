package handler

import (
	"net/http"

	"wallet-ledger/internal/adapter/gateway/paystack"
	"wallet-ledger/internal/adapter/http/middleware"
	"wallet-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	WalletSvc         ports.WalletService
	PayoutSvc         ports.PayoutService
	ReconciliationSvc ports.ReconciliationService
	TokenSvc          ports.TokenService
	Verifier          middleware.SignatureVerifier
	RateLimitStore    middleware.Limiter // nil = rate limiting disabled
	HealthCheckers    []ports.HealthChecker
	MetricsHandler    http.Handler // nil = /metrics not exposed
	Mode              string
	Logger            zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	if deps.Mode != "" {
		gin.SetMode(deps.Mode)
	}
	r := gin.New()

	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(middleware.DefaultMaxBodyBytes))

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(deps.MetricsHandler))
	}

	rules := middleware.DefaultRateLimitRules()
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

	v1 := r.Group("/api/v1")

	// --- Provider callbacks (signature-authenticated) ---
	webhookHandler := NewWebhookHandler(deps.ReconciliationSvc, deps.Logger)
	v1.POST("/webhooks/paystack",
		rl("webhooks"),
		middleware.ProviderSignature(paystack.SignatureHeader, deps.Verifier, deps.Logger),
		webhookHandler.Paystack,
	)

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	walletHandler := NewWalletHandler(deps.WalletSvc)
	payoutHandler := NewPayoutHandler(deps.PayoutSvc)

	wallets := v1.Group("/wallets", jwtAuth)
	{
		wallets.POST("", rl("reads"), walletHandler.CreateOrFind)
		wallets.GET("", rl("reads"), walletHandler.GetWallet)
		wallets.GET("/balance", rl("reads"), walletHandler.GetBalance)
		wallets.POST("/fund", rl("wallets_fund"), walletHandler.Fund)
		wallets.POST("/transfer", rl("wallets_transfer"), walletHandler.Transfer)
		wallets.GET("/transactions", rl("reads"), walletHandler.ListTransactions)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.GET("/:id", rl("reads"), walletHandler.GetTransaction)
	}

	transfers := v1.Group("/transfers", jwtAuth)
	{
		transfers.POST("/bank", rl("payouts"), payoutHandler.InitiatePayout)
		transfers.GET("/banks", rl("reads"), payoutHandler.ListBanks)
		transfers.GET("/:reference", rl("reads"), payoutHandler.GetPayoutStatus)
	}

	return r
}
