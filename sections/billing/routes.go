package billing

import (
	"webnova-backend/billing"
	"webnova-backend/middleware"
	"webnova-backend/sections"
	"webnova-backend/sections/common/auth"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers billing routes
func RegisterRoutes(frontendRoutes, callbackRoutes *gin.RouterGroup, deps *sections.Dependencies, jwtManager *auth.JWTManager, gateway StripeGateway, engine EventProcessor, store billing.Store) {
	handler := NewHandler(deps, gateway, engine, store)

	// Protected routes (requires authentication)
	api := frontendRoutes.Group("/api/v1/billing")
	api.Use(auth.JWTAuthMiddleware(jwtManager))
	{
		api.POST("/checkout", handler.CreateCheckoutSession)
		api.POST("/portal", handler.CreatePortalSession)
		api.POST("/cancel", handler.CancelSubscription)
		api.GET("/subscription", handler.GetSubscription)
		api.GET("/payments", handler.ListPayments)
		api.GET("/notifications", handler.ListNotifications)
	}

	// Internal operational routes (API key auth)
	internal := frontendRoutes.Group("/internal/v1/billing")
	internal.Use(middleware.APIKeyAuthMiddleware(deps.Config))
	{
		internal.GET("/webhook-logs", handler.ListWebhookLogs)
		internal.GET("/retries/due", handler.ListDueRetries)
	}

	// Webhook routes (no authentication, verified via Stripe signature).
	// Must be registered ahead of any JSON body parsing middleware: the
	// signature check needs the raw request bytes.
	webhooks := callbackRoutes.Group("/stripe")
	{
		webhooks.POST("/webhook", handler.HandleWebhook)
	}
}
