package services

import (
	"context"
	"fmt"
	"log/slog"

	"webnova-backend/common"

	"github.com/stripe/stripe-go/v84"
	portalsession "github.com/stripe/stripe-go/v84/billingportal/session"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/customer"
	"github.com/stripe/stripe-go/v84/invoice"
	"github.com/stripe/stripe-go/v84/subscription"
	"github.com/stripe/stripe-go/v84/webhook"
)

// StripeService handles Stripe API interactions
type StripeService struct {
	plans         []common.Plan
	secretKey     string
	webhookSecret string
	successURL    string
	cancelURL     string
	returnURL     string
	logger        *slog.Logger
}

// NewStripeService creates a new Stripe service
func NewStripeService(plans []common.Plan, cfg *common.Config) *StripeService {
	stripe.Key = cfg.StripeSecretKey

	return &StripeService{
		plans:         plans,
		secretKey:     cfg.StripeSecretKey,
		webhookSecret: cfg.StripeWebhookSecret,
		successURL:    cfg.CheckoutSuccessURL,
		cancelURL:     cfg.CheckoutCancelURL,
		returnURL:     cfg.PortalReturnURL,
		logger:        slog.With("service", "StripeService"),
	}
}

// GetOrCreateCustomer retrieves an existing customer or creates a new one
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*stripe.Customer, error) {
	// Try to find existing customer by email
	searchParams := &stripe.CustomerSearchParams{
		SearchParams: stripe.SearchParams{
			Query: fmt.Sprintf("email:'%s'", email),
		},
	}
	iter := customer.Search(searchParams)

	if iter.Next() {
		cust := iter.Customer()
		s.logger.Info("Found existing Stripe customer", "customer_id", cust.ID, "email", email)
		return cust, nil
	}

	// Create new customer
	params := &stripe.CustomerParams{
		Email:    stripe.String(email),
		Name:     stripe.String(name),
		Metadata: metadata,
	}

	cust, err := customer.New(params)
	if err != nil {
		s.logger.Error("Failed to create Stripe customer", "error", err)
		return nil, fmt.Errorf("failed to create customer: %w", err)
	}

	s.logger.Info("Created new Stripe customer", "customer_id", cust.ID, "email", email)
	return cust, nil
}

// CreateCheckoutSessionForPlan creates a subscription checkout session. The
// metadata it embeds (user_id, plan_id, billing_cycle) is what the
// checkout.session.completed handler resolves the subscription from.
func (s *StripeService) CreateCheckoutSessionForPlan(ctx context.Context, customerID, planID, billingCycle string, metadata map[string]string) (*stripe.CheckoutSession, error) {
	plan := common.GetPlan(s.plans, planID)
	if plan == nil {
		return nil, fmt.Errorf("plan not found: %s", planID)
	}

	priceID := plan.PriceIdForCycle(billingCycle)
	if priceID == "" {
		return nil, fmt.Errorf("plan %s has no price for cycle %s", planID, billingCycle)
	}

	if metadata == nil {
		metadata = make(map[string]string)
	}
	metadata["plan_id"] = plan.ID
	metadata["billing_cycle"] = billingCycle
	metadata["checkout_ref"] = common.RandomID()

	sessionParams := &stripe.CheckoutSessionParams{
		Mode:       stripe.String("subscription"),
		Customer:   stripe.String(customerID),
		Metadata:   metadata,
		SuccessURL: stripe.String(s.successURL),
		CancelURL:  stripe.String(s.cancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: metadata,
		},
	}

	sess, err := session.New(sessionParams)
	if err != nil {
		s.logger.Error("Failed to create checkout session", "error", err)
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}

	s.logger.Info("Created checkout session", "session_id", sess.ID, "plan_id", planID, "billing_cycle", billingCycle)
	return sess, nil
}

// CreateBillingPortalSession creates a customer billing portal session
func (s *StripeService) CreateBillingPortalSession(ctx context.Context, customerID string) (*stripe.BillingPortalSession, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(s.returnURL),
	}

	sess, err := portalsession.New(params)
	if err != nil {
		s.logger.Error("Failed to create billing portal session", "error", err)
		return nil, fmt.Errorf("failed to create billing portal session: %w", err)
	}

	s.logger.Info("Created billing portal session", "customer_id", customerID)
	return sess, nil
}

// CancelSubscription cancels a subscription
func (s *StripeService) CancelSubscription(ctx context.Context, subscriptionID string, cancelAtPeriodEnd bool) (*stripe.Subscription, error) {
	var sub *stripe.Subscription
	var err error

	if cancelAtPeriodEnd {
		// Schedule cancellation at period end
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		sub, err = subscription.Update(subscriptionID, params)
	} else {
		// Cancel immediately
		sub, err = subscription.Cancel(subscriptionID, nil)
	}

	if err != nil {
		s.logger.Error("Failed to cancel subscription", "error", err, "subscription_id", subscriptionID)
		return nil, fmt.Errorf("failed to cancel subscription: %w", err)
	}

	s.logger.Info("Canceled subscription", "subscription_id", subscriptionID, "cancel_at_period_end", cancelAtPeriodEnd)
	return sub, nil
}

// PayInvoice attempts to collect payment for an open invoice. The idempotency
// key keeps a scheduler re-run from charging the customer twice.
func (s *StripeService) PayInvoice(ctx context.Context, invoiceID, idempotencyKey string) error {
	params := &stripe.InvoicePayParams{}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey)
	}

	inv, err := invoice.Pay(invoiceID, params)
	if err != nil {
		s.logger.Error("Failed to pay invoice", "error", err, "invoice_id", invoiceID)
		return fmt.Errorf("failed to pay invoice: %w", err)
	}

	s.logger.Info("Invoice payment submitted", "invoice_id", inv.ID, "status", inv.Status)
	return nil
}

// ConstructWebhookEvent constructs and validates a webhook event
func (s *StripeService) ConstructWebhookEvent(payload []byte, signature string) (stripe.Event, error) {
	options := &webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, *options)
	if err != nil {
		s.logger.Error("Failed to verify webhook signature", "error", err)
		return stripe.Event{}, fmt.Errorf("failed to verify webhook: %w", err)
	}

	s.logger.Debug("Webhook event verified", "type", event.Type, "id", event.ID)
	return event, nil
}
