package router

import (
	"broadcast-engine/api/handlers"
	"broadcast-engine/api/middleware"
	"broadcast-engine/config"
	"broadcast-engine/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers groups the route handlers.
type Handlers struct {
	Campaigns *handlers.CampaignHandler
	Segments  *handlers.SegmentHandler
	Webhook   *handlers.WebhookHandler
	Tracking  *handlers.TrackingHandler
}

func Setup(logger *logger.Logger, h Handlers, cfg *config.Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	// Initialize security middleware
	security := middleware.NewSecurityMiddleware(
		logger.Desugar(),
		cfg.Security.APIKeys,
		cfg.Security.APIKeyHeader,
		cfg.Security.AllowedOrigins,
	)

	// Apply global middleware
	router.Use(security.CORS())

	// Health check endpoint (no authentication required)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Metrics endpoint for Prometheus (no authentication required)
	router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))

	// Gateway callbacks authenticate with the verify token and signature
	router.GET("/webhook", h.Webhook.Verify)
	router.POST("/webhook", h.Webhook.HandleWebhook)

	// Click tracking is public; recipients follow these links
	router.GET("/t/:token", h.Tracking.Redirect)
	router.GET("/t/:token/:index", h.Tracking.Redirect)

	api := router.Group("/api")
	api.Use(
		security.Authenticate(),
		security.RateLimit(cfg.Security.RateLimit, cfg.Security.RateBurst),
		security.ValidatePayload(),
	)
	{
		campaigns := api.Group("/campaigns")
		campaigns.POST("", h.Campaigns.Create)
		campaigns.GET("/:id", h.Campaigns.Get)
		campaigns.PUT("/:id", h.Campaigns.Update)
		campaigns.DELETE("/:id", h.Campaigns.Delete)
		campaigns.POST("/:id/launch", h.Campaigns.Launch)
		campaigns.POST("/:id/cancel", h.Campaigns.Cancel)
		campaigns.GET("/:id/messages", h.Campaigns.Messages)

		segments := api.Group("/segments")
		segments.POST("", h.Segments.Create)
		segments.GET("", h.Segments.List)
		segments.POST("/preview", h.Segments.Preview)
		segments.POST("/insights", h.Segments.Insights)
		segments.GET("/:id", h.Segments.Get)
		segments.PUT("/:id", h.Segments.Update)
		segments.DELETE("/:id", h.Segments.Delete)
		segments.POST("/:id/evaluate", h.Segments.Evaluate)
		segments.POST("/:id/static", h.Segments.ConvertToStatic)
		segments.POST("/:id/contacts", h.Segments.AddContacts)
		segments.DELETE("/:id/contacts", h.Segments.RemoveContacts)
	}

	logger.Desugar().Info("Router configured with security middleware",
		zap.String("api_key_header", cfg.Security.APIKeyHeader),
		zap.Int("configured_clients", len(cfg.Security.APIKeys)),
	)

	return router
}
