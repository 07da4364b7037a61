package billing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"webnova-backend/billing"
	"webnova-backend/common"
	"webnova-backend/sections"
	"webnova-backend/sections/common/auth"
	"webnova-backend/sections/models"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v84"
)

const webhookBodyLimit = 1 << 20 // 1MiB

// StripeGateway is the narrow slice of the Stripe service the handler consumes.
type StripeGateway interface {
	ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error)
	GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error)
	CreateCheckoutSessionForPlan(ctx context.Context, customerID, planID, billingCycle string, metadata map[string]string) (*stripe.CheckoutSession, error)
	CreateBillingPortalSession(ctx context.Context, customerID string) (*stripe.BillingPortalSession, error)
	CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*stripe.Subscription, error)
}

// EventProcessor runs a verified event through the billing engine.
type EventProcessor interface {
	Process(ctx context.Context, ev *billing.Event) (*billing.Outcome, error)
}

// Handler handles billing-related requests
type Handler struct {
	logger  *slog.Logger
	deps    *sections.Dependencies
	gateway StripeGateway
	engine  EventProcessor
	store   billing.Store
}

// NewHandler creates a new billing handler
func NewHandler(deps *sections.Dependencies, gateway StripeGateway, engine EventProcessor, store billing.Store) *Handler {
	return &Handler{
		logger:  slog.With("handler", "BillingHandler"),
		deps:    deps,
		gateway: gateway,
		engine:  engine,
		store:   store,
	}
}

// HandleWebhook processes Stripe webhook deliveries. The body must reach the
// verifier unparsed: the signature covers the exact bytes on the wire. 4xx is
// reserved for signature/format failures; once an event is admitted the
// response is 200 even when the business handler recorded an error, so
// non-retryable application errors never cause redelivery storms.
func (h *Handler) HandleWebhook(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, webhookBodyLimit)
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		h.logger.Error("Failed to read webhook body", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	signature := c.GetHeader("Stripe-Signature")
	event, err := h.gateway.ConstructWebhookEvent(payload, signature)
	if err != nil {
		h.logger.Error("Failed to verify webhook", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid signature"})
		return
	}

	outcome, err := h.engine.Process(c.Request.Context(), billing.EventFromStripe(event, payload))
	if err != nil {
		// Datastore failures escalate so the provider redelivers the event.
		h.logger.Error("Webhook processing failed", "event_id", event.ID, "type", event.Type, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	status := "processed"
	switch {
	case outcome.Duplicate:
		status = "duplicate"
	case !outcome.Handled:
		status = "ignored"
	case outcome.HandlerErr != nil:
		status = "deferred"
	}

	c.JSON(http.StatusOK, gin.H{"received": true, "status": status})
}

// CreateCheckoutRequest represents a checkout session creation request
type CreateCheckoutRequest struct {
	PlanID       string            `json:"planId" binding:"required"`
	BillingCycle string            `json:"billingCycle" binding:"required,oneof=monthly yearly"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// CheckoutSessionResponse represents the response containing session URL
type CheckoutSessionResponse struct {
	SessionID    string `json:"sessionId"`
	SessionURL   string `json:"sessionUrl"`
	ClientSecret string `json:"clientSecret,omitempty"`
}

// CreateCheckoutSession creates a Stripe checkout session for a subscription plan
func (h *Handler) CreateCheckoutSession(c *gin.Context) {
	var req CreateCheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil || user == nil {
		h.logger.Error("Failed to get user", "error", err, "user_id", claims.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}

	if common.GetPlan(h.deps.Plans, req.PlanID) == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown plan"})
		return
	}

	customerName := user.FirstName + " " + user.LastName
	metadata := map[string]string{
		"user_id": fmt.Sprintf("%d", user.ID),
		"email":   user.Email,
	}

	var customerID string
	if user.StripeCustomerID != nil {
		customerID = *user.StripeCustomerID
	} else {
		customer, err := h.gateway.GetOrCreateCustomer(c.Request.Context(), user.Email, customerName, metadata)
		if err != nil {
			h.logger.Error("Failed to get or create customer", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create customer"})
			return
		}
		customerID = customer.ID
	}

	if req.Metadata == nil {
		req.Metadata = make(map[string]string)
	}
	req.Metadata["user_id"] = fmt.Sprintf("%d", user.ID)

	session, err := h.gateway.CreateCheckoutSessionForPlan(c.Request.Context(), customerID, req.PlanID, req.BillingCycle, req.Metadata)
	if err != nil {
		h.logger.Error("Failed to create checkout session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create checkout session"})
		return
	}

	h.logger.Info("Created checkout session", "plan_id", req.PlanID, "session_id", session.ID, "user_id", user.ID)

	data := CheckoutSessionResponse{
		SessionID:    session.ID,
		SessionURL:   session.URL,
		ClientSecret: session.ClientSecret,
	}

	c.JSON(http.StatusOK, common.ApiResponse[CheckoutSessionResponse]{
		Data:    data,
		Success: true,
	})
}

// PortalSessionResponse represents a billing portal session response
type PortalSessionResponse struct {
	SessionURL string `json:"sessionUrl"`
}

// CreatePortalSession creates a Stripe billing portal session
func (h *Handler) CreatePortalSession(c *gin.Context) {
	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	user, err := h.store.GetUser(c.Request.Context(), claims.UserID)
	if err != nil || user == nil {
		h.logger.Error("Failed to get user", "error", err, "user_id", claims.UserID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get user"})
		return
	}
	if user.StripeCustomerID == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no billing account"})
		return
	}

	session, err := h.gateway.CreateBillingPortalSession(c.Request.Context(), *user.StripeCustomerID)
	if err != nil {
		h.logger.Error("Failed to create portal session", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create portal session"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[PortalSessionResponse]{
		Data:    PortalSessionResponse{SessionURL: session.URL},
		Success: true,
	})
}

// CancelSubscriptionRequest controls cancellation timing
type CancelSubscriptionRequest struct {
	Immediately bool `json:"immediately,omitempty"`
}

// CancelSubscription asks the provider to cancel the user's subscription. The
// local state change lands through the resulting subscription webhooks.
func (h *Handler) CancelSubscription(c *gin.Context) {
	var req CancelSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil && err != io.EOF {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.store.GetUserSubscription(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}
	if sub == nil || sub.StripeSubscriptionID == "" || sub.Status == models.SubscriptionCancelled {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no active subscription"})
		return
	}

	if _, err := h.gateway.CancelSubscription(c.Request.Context(), sub.StripeSubscriptionID, !req.Immediately); err != nil {
		h.logger.Error("Failed to cancel subscription", "error", err, "subscription_id", sub.ID)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel subscription"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[gin.H]{
		Data:    gin.H{"cancelAtPeriodEnd": !req.Immediately},
		Success: true,
	})
}

// GetSubscription returns the user's current subscription
func (h *Handler) GetSubscription(c *gin.Context) {
	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	sub, err := h.store.GetUserSubscription(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get subscription"})
		return
	}
	if sub == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no subscription"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[models.Subscription]{Data: *sub, Success: true})
}

// ListPayments returns the user's payment ledger
func (h *Handler) ListPayments(c *gin.Context) {
	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	payments, err := h.store.GetPaymentsByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get payments"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]models.Payment]{Data: payments, Success: true})
}

// ListNotifications returns the user's billing notifications
func (h *Handler) ListNotifications(c *gin.Context) {
	claims, ok := auth.GetClaimsFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	notifications, err := h.store.GetNotificationsByUser(c.Request.Context(), claims.UserID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get notifications"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]models.Notification]{Data: notifications, Success: true})
}

// ListWebhookLogs returns recent webhook log rows for operational visibility
func (h *Handler) ListWebhookLogs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	logs, err := h.store.GetRecentWebhookLogs(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get webhook logs"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]models.WebhookLog]{Data: logs, Success: true})
}

// ListDueRetries returns pending payment retries currently due
func (h *Handler) ListDueRetries(c *gin.Context) {
	retries, err := h.store.GetPendingPaymentRetries(c.Request.Context(), time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get payment retries"})
		return
	}

	c.JSON(http.StatusOK, common.ApiResponse[[]models.PaymentRetry]{Data: retries, Success: true})
}
