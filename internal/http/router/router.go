package router

import (
	"github.com/gin-gonic/gin"

	"github.com/Amineeeeee523/khalilos/internal/config"
	"github.com/Amineeeeee523/khalilos/internal/http/handlers"
	"github.com/Amineeeeee523/khalilos/internal/http/middleware"
	"github.com/Amineeeeee523/khalilos/internal/service"
)

func SetupRouter(
	cfg *config.Config,
	escrowHandler *handlers.EscrowHandler,
	webhookHandler *handlers.WebhookHandler,
	wsHandler *handlers.WSHandler,
	healthHandler *handlers.HealthHandler,
	tokenManager *service.TokenManager,
) *gin.Engine {
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.CORSMiddleware(cfg.AllowedOrigins))

	r.GET("/health", healthHandler.Health)

	api := r.Group("/api")

	// Коллбеки шлюза: без авторизации, но с rate limit.
	webhooks := api.Group("/webhooks")
	webhooks.Use(middleware.RateLimitMiddleware(cfg.RateLimitLimit, cfg.RateLimitPeriod))
	{
		webhooks.POST("/paymee", webhookHandler.HandlePaymee)
	}

	api.GET("/ws", wsHandler.Handle)

	// Защищённые маршруты платежей.
	payments := api.Group("/payments")
	payments.Use(middleware.AuthMiddleware(tokenManager))
	{
		payments.POST("/milestones", escrowHandler.CreateMilestone)
		payments.PUT("/milestones/:id/amount", middleware.UUIDValidator("id"), escrowHandler.UpdateAmount)
		payments.POST("/milestones/:id/checkout", middleware.UUIDValidator("id"), escrowHandler.Checkout)
		payments.POST("/milestones/:id/approve", middleware.UUIDValidator("id"), escrowHandler.Approve)
		payments.POST("/milestones/:id/reject", middleware.UUIDValidator("id"), escrowHandler.Reject)
		payments.GET("/milestones/:id/audit", middleware.UUIDValidator("id"), escrowHandler.Audit)
		payments.GET("/jobs/:id/summary", middleware.UUIDValidator("id"), escrowHandler.Summary)
		payments.GET("/balance", escrowHandler.Balance)
	}

	return r
}
