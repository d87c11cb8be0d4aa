package router

import (
	"log/slog"
	"net/http"
	"time"

	"referpay/config"
	"referpay/internal/handler"
	"referpay/internal/middleware"
	"referpay/internal/repository"
	"referpay/internal/service"
	"referpay/pkg/payment"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Setup wires repositories, services and handlers. The retry sweeper is
// returned unstarted; the caller owns its lifetime.
func Setup(cfg *config.Config, db *gorm.DB, provider payment.TransferProvider, log *slog.Logger) (*gin.Engine, *service.RetrySweeper) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Repositories
	userRepo := repository.NewUserRepository(db)
	referralRepo := repository.NewReferralRepository(db)
	settingRepo := repository.NewSettingRepository(db)
	auditRepo := repository.NewAuditLogRepository(db)
	ledger := repository.NewLedger(db)

	// Services
	policy := service.NewPolicySource(settingRepo, cfg.Referral)
	evaluator := service.NewRewardEvaluator(ledger, auditRepo, cfg.Stripe.Currency, log)
	payouts := service.NewPayoutService(ledger, userRepo, auditRepo, provider, policy, cfg.Stripe.Currency, cfg.Stripe.RequestTimeout, log)
	ingest := service.NewIngestService(ledger, policy, evaluator, payouts, log)
	reconcile := service.NewReconcileService(ledger, auditRepo, log)
	sweeper := service.NewRetrySweeper(ledger, payouts, policy, cfg.Referral.RetryInterval, cfg.Referral.RetryBackoff, log)

	// Handlers
	jobWebhookHandler := handler.NewJobWebhookHandler(ingest, &cfg.JobPlatform)
	stripeWebhookHandler := handler.NewStripeWebhookHandler(reconcile, &cfg.Stripe)
	referralHandler := handler.NewReferralHandler(referralRepo, ledger)
	payoutHandler := handler.NewPayoutHandler(ledger, payouts)
	settingHandler := handler.NewSettingHandler(settingRepo)
	userHandler := handler.NewUserHandler(userRepo)

	authMw := middleware.AuthRequired(&cfg.JWT)
	adminMw := middleware.AdminRequired()
	dashboardLimit := middleware.RateLimit(middleware.NewInMemoryRateLimiter(100, 60*time.Second))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api/v1")
	{
		// Webhook senders retry aggressively; they are not rate limited.
		hooks := api.Group("/webhooks")
		{
			hooks.POST("/jobs", jobWebhookHandler.Handle)
			hooks.POST("/stripe", stripeWebhookHandler.Handle)
		}

		api.POST("/referrals", dashboardLimit, authMw, adminMw, referralHandler.Create)

		me := api.Group("/me")
		me.Use(dashboardLimit, authMw)
		{
			me.GET("/referral-code", referralHandler.GetMyReferralCode)
			me.POST("/referral-code/rotate", referralHandler.RotateMyReferralCode)
			me.PUT("/payout-account", userHandler.SetPayoutAccount)
			me.GET("/referrals", referralHandler.GetMyReferrals)
			me.GET("/payouts", payoutHandler.GetMyPayouts)
		}

		admin := api.Group("/admin")
		admin.Use(authMw, adminMw)
		{
			admin.POST("/referrals/:id/payouts/retry", payoutHandler.Retry)
			admin.GET("/settings", settingHandler.List)
			admin.PUT("/settings/:key", settingHandler.Update)
		}
	}
	return r, sweeper
}
