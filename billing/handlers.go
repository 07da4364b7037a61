package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"webnova-backend/common"
	"webnova-backend/sections/models"
)

func (e *Engine) handleCheckoutCompleted(ctx context.Context, ev *Event) (uint, error) {
	var session checkoutSessionPayload
	if err := json.Unmarshal(ev.Object, &session); err != nil {
		return 0, handlerErrorf("failed to parse checkout session: %w", err)
	}

	if session.Mode != "" && session.Mode != "subscription" {
		e.logger.Info("Non-subscription checkout completed, nothing to do", "session_id", session.ID, "mode", session.Mode)
		return 0, nil
	}

	userID, err := parseUserID(session.Metadata)
	if err != nil {
		return 0, err
	}
	planID := session.Metadata["plan_id"]
	billingCycle := session.Metadata["billing_cycle"]
	if billingCycle == "" {
		billingCycle = "monthly"
	}

	plan := common.GetPlan(e.plans, planID)
	if plan == nil {
		return userID, handlerErrorf("unknown plan in checkout metadata: %q", planID)
	}

	user, err := e.store.GetUser(ctx, userID)
	if err != nil {
		return userID, err
	}
	if user == nil {
		return userID, handlerErrorf("user %d not found for checkout session %s", userID, session.ID)
	}

	// Bind provider ids and the plan role onto the user. Target-state writes:
	// redelivery lands on the same values.
	if session.Customer != "" {
		user.StripeCustomerID = &session.Customer
	}
	if session.Subscription != "" {
		user.StripeSubscriptionID = &session.Subscription
	}
	user.Role = plan.Role
	if err := e.store.UpdateUser(ctx, user); err != nil {
		return userID, err
	}

	now := e.now()
	periodEnd := now.AddDate(0, 1, 0)
	if billingCycle == "yearly" {
		periodEnd = now.AddDate(1, 0, 0)
	}

	sub, err := e.store.GetUserSubscription(ctx, userID)
	if err != nil {
		return userID, err
	}

	previousPlan := ""
	created := false
	if sub == nil || sub.Status == models.SubscriptionCancelled {
		// cancelled is terminal for the old row; a fresh checkout opens a new one
		sub = &models.Subscription{
			UserID:               userID,
			PlanID:               planID,
			StripeSubscriptionID: session.Subscription,
			StripeCustomerID:     session.Customer,
			Status:               models.SubscriptionActive,
			BillingCycle:         billingCycle,
			CurrentPeriodStart:   now,
			CurrentPeriodEnd:     periodEnd,
		}
		if err := e.store.CreateSubscription(ctx, sub); err != nil {
			return userID, err
		}
		created = true
	} else {
		previousPlan = sub.PlanID
		sub.PlanID = planID
		sub.Status = models.SubscriptionActive
		sub.BillingCycle = billingCycle
		if session.Subscription != "" {
			sub.StripeSubscriptionID = session.Subscription
		}
		if session.Customer != "" {
			sub.StripeCustomerID = session.Customer
		}
		sub.CurrentPeriodStart = now
		sub.CurrentPeriodEnd = periodEnd
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return userID, err
		}
	}

	if created || previousPlan != planID {
		subEvent := &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			UserID:         userID,
			EventType:      "subscription_created",
			PreviousPlan:   previousPlan,
			NewPlan:        planID,
		}
		if err := e.store.CreateSubscriptionEvent(ctx, subEvent); err != nil {
			return userID, err
		}
	}

	n := &models.Notification{
		UserID:    userID,
		Type:      "subscription_activated",
		Title:     "Subscription activated",
		TitleAr:   "تم تفعيل الاشتراك",
		Message:   fmt.Sprintf("Your %s subscription is now active.", plan.Name),
		MessageAr: fmt.Sprintf("اشتراكك في باقة %s أصبح فعالاً الآن.", plan.Name),
	}
	if err := e.notify(ctx, n); err != nil {
		return userID, err
	}

	e.logger.Info("Checkout completed", "user_id", userID, "plan_id", planID, "billing_cycle", billingCycle)
	return userID, nil
}

func (e *Engine) handleSubscriptionLifecycle(ctx context.Context, ev *Event) (uint, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(ev.Object, &payload); err != nil {
		return 0, handlerErrorf("failed to parse subscription: %w", err)
	}

	sub, err := e.findSubscription(ctx, payload.ID, payload.Customer)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		// The checkout handler may not have landed yet; redelivery will retry.
		return 0, handlerErrorf("no subscription for customer %s (event %s)", payload.Customer, ev.ID)
	}

	newStatus := MapProviderStatus(payload.Status)
	if !CanTransition(sub.Status, newStatus) {
		e.logger.Warn("Rejected subscription status transition",
			"subscription_id", sub.ID, "from", sub.Status, "to", newStatus, "provider_status", payload.Status)
		return sub.UserID, nil
	}

	sub.Status = newStatus
	if payload.ID != "" {
		sub.StripeSubscriptionID = payload.ID
	}
	applyPeriod(sub, &payload)
	if err := e.store.UpdateSubscription(ctx, sub); err != nil {
		return sub.UserID, err
	}

	subEvent := &models.SubscriptionEvent{
		SubscriptionID: sub.ID,
		UserID:         sub.UserID,
		EventType:      "subscription_" + lifecycleSuffix(ev.Type),
		NewPlan:        sub.PlanID,
	}
	if err := e.store.CreateSubscriptionEvent(ctx, subEvent); err != nil {
		return sub.UserID, err
	}

	e.logger.Info("Subscription lifecycle applied", "subscription_id", sub.ID, "status", newStatus)
	return sub.UserID, nil
}

func (e *Engine) handleSubscriptionDeleted(ctx context.Context, ev *Event) (uint, error) {
	var payload subscriptionPayload
	if err := json.Unmarshal(ev.Object, &payload); err != nil {
		return 0, handlerErrorf("failed to parse subscription: %w", err)
	}

	sub, err := e.findSubscription(ctx, payload.ID, payload.Customer)
	if err != nil {
		return 0, err
	}
	if sub == nil {
		e.logger.Warn("Subscription deletion for unknown subscription", "stripe_id", payload.ID, "customer", payload.Customer)
		return 0, nil
	}

	now := e.now()
	if sub.Status != models.SubscriptionCancelled {
		sub.Status = models.SubscriptionCancelled
		sub.CancelledAt = &now
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return sub.UserID, err
		}

		subEvent := &models.SubscriptionEvent{
			SubscriptionID: sub.ID,
			UserID:         sub.UserID,
			EventType:      "subscription_cancelled",
			PreviousPlan:   sub.PlanID,
			NewPlan:        sub.PlanID,
		}
		if err := e.store.CreateSubscriptionEvent(ctx, subEvent); err != nil {
			return sub.UserID, err
		}
	}

	user, err := e.store.GetUser(ctx, sub.UserID)
	if err != nil {
		return sub.UserID, err
	}
	if user != nil {
		user.Role = common.FREE_ROLE
		user.StripeSubscriptionID = nil
		if err := e.store.UpdateUser(ctx, user); err != nil {
			return sub.UserID, err
		}
	}

	n := &models.Notification{
		UserID:    sub.UserID,
		Type:      "subscription_cancelled",
		Title:     "Subscription cancelled",
		TitleAr:   "تم إلغاء الاشتراك",
		Message:   "Your subscription has been cancelled.",
		MessageAr: "تم إلغاء اشتراكك.",
	}
	if err := e.notify(ctx, n); err != nil {
		return sub.UserID, err
	}

	e.logger.Info("Subscription cancelled", "subscription_id", sub.ID, "user_id", sub.UserID)
	return sub.UserID, nil
}

// handleInvoicePaid appends the completed ledger row, resolves pending retries
// and restores a past_due subscription. It has no invoice-id uniqueness check
// of its own: single execution per event id is guaranteed by the dedup gate.
func (e *Engine) handleInvoicePaid(ctx context.Context, ev *Event) (uint, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(ev.Object, &invoice); err != nil {
		return 0, handlerErrorf("failed to parse invoice: %w", err)
	}

	user, err := e.store.GetUserByCustomerID(ctx, invoice.Customer)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, handlerErrorf("no user for customer %s (invoice %s)", invoice.Customer, invoice.ID)
	}

	sub, err := e.findSubscription(ctx, invoice.subscriptionID(), invoice.Customer)
	if err != nil {
		return user.ID, err
	}

	payment := &models.Payment{
		UserID:                user.ID,
		StripePaymentIntentID: invoice.PaymentIntent,
		Amount:                invoice.AmountPaid,
		Currency:              currencyOrDefault(invoice.Currency),
		Status:                models.PaymentCompleted,
		Description:           "Subscription payment",
	}
	if sub != nil {
		payment.SubscriptionID = &sub.ID
	}
	if err := e.store.CreatePayment(ctx, payment); err != nil {
		return user.ID, err
	}

	if sub != nil {
		retries, err := e.store.GetPaymentRetriesBySubscription(ctx, sub.ID)
		if err != nil {
			return user.ID, err
		}
		for i := range retries {
			if retries[i].Status != models.RetryPending {
				continue
			}
			retries[i].Status = models.RetrySucceeded
			if err := e.store.UpdatePaymentRetry(ctx, &retries[i]); err != nil {
				return user.ID, err
			}
		}

		if sub.Status == models.SubscriptionPastDue && CanTransition(sub.Status, models.SubscriptionActive) {
			sub.Status = models.SubscriptionActive
			if err := e.store.UpdateSubscription(ctx, sub); err != nil {
				return user.ID, err
			}
		}
	}

	n := &models.Notification{
		UserID:    user.ID,
		Type:      "payment_received",
		Title:     "Payment received",
		TitleAr:   "تم استلام الدفعة",
		Message:   fmt.Sprintf("We received your payment of %s.", formatAmount(invoice.AmountPaid, payment.Currency)),
		MessageAr: fmt.Sprintf("تم استلام دفعتك بقيمة %s.", formatAmount(invoice.AmountPaid, payment.Currency)),
	}
	if err := e.notify(ctx, n); err != nil {
		return user.ID, err
	}

	e.logger.Info("Invoice paid", "invoice_id", invoice.ID, "user_id", user.ID, "amount", invoice.AmountPaid)
	return user.ID, nil
}

func (e *Engine) handleInvoiceFailed(ctx context.Context, ev *Event) (uint, error) {
	var invoice invoicePayload
	if err := json.Unmarshal(ev.Object, &invoice); err != nil {
		return 0, handlerErrorf("failed to parse invoice: %w", err)
	}

	user, err := e.store.GetUserByCustomerID(ctx, invoice.Customer)
	if err != nil {
		return 0, err
	}
	if user == nil {
		return 0, handlerErrorf("no user for customer %s (invoice %s)", invoice.Customer, invoice.ID)
	}

	sub, err := e.findSubscription(ctx, invoice.subscriptionID(), invoice.Customer)
	if err != nil {
		return user.ID, err
	}
	if sub == nil {
		return user.ID, handlerErrorf("no subscription for customer %s (invoice %s)", invoice.Customer, invoice.ID)
	}

	payment := &models.Payment{
		UserID:                user.ID,
		SubscriptionID:        &sub.ID,
		StripePaymentIntentID: invoice.PaymentIntent,
		Amount:                invoice.AmountDue,
		Currency:              currencyOrDefault(invoice.Currency),
		Status:                models.PaymentFailed,
		Description:           "Subscription payment attempt failed",
	}
	if err := e.store.CreatePayment(ctx, payment); err != nil {
		return user.ID, err
	}

	now := e.now()
	attemptNumber := invoice.AttemptCount
	if attemptNumber < 1 {
		attemptNumber = 1
	}
	retry := &models.PaymentRetry{
		UserID:          user.ID,
		SubscriptionID:  sub.ID,
		StripeInvoiceID: invoice.ID,
		Amount:          invoice.AmountDue,
		Currency:        currencyOrDefault(invoice.Currency),
		AttemptNumber:   attemptNumber,
		NextRetryAt:     now.Add(e.cfg.RetryDelay()),
		GracePeriodEnd:  now.Add(e.cfg.GracePeriod()),
		Status:          models.RetryPending,
	}
	if err := e.store.CreatePaymentRetry(ctx, retry); err != nil {
		return user.ID, err
	}

	if CanTransition(sub.Status, models.SubscriptionPastDue) {
		sub.Status = models.SubscriptionPastDue
		if err := e.store.UpdateSubscription(ctx, sub); err != nil {
			return user.ID, err
		}
	}

	n := &models.Notification{
		UserID:    user.ID,
		Type:      "payment_failed",
		Title:     "Payment failed",
		TitleAr:   "فشلت عملية الدفع",
		Message:   "We could not process your subscription payment. We will retry automatically.",
		MessageAr: "تعذر إتمام دفعة اشتراكك. سنعيد المحاولة تلقائياً.",
	}
	if err := e.notify(ctx, n); err != nil {
		return user.ID, err
	}

	e.logger.Info("Invoice payment failed", "invoice_id", invoice.ID, "user_id", user.ID, "attempt", attemptNumber)
	return user.ID, nil
}

// handlePaymentIntent correlates the event to a user for observability only.
// The same money movement is reported via invoice events, which own the
// payment ledger; writing here would double-book it.
func (e *Engine) handlePaymentIntent(ctx context.Context, ev *Event) (uint, error) {
	var intent paymentIntentPayload
	if err := json.Unmarshal(ev.Object, &intent); err != nil {
		return 0, handlerErrorf("failed to parse payment intent: %w", err)
	}

	var userID uint
	if intent.Customer != "" {
		user, err := e.store.GetUserByCustomerID(ctx, intent.Customer)
		if err != nil {
			return 0, err
		}
		if user != nil {
			userID = user.ID
		}
	}

	e.logger.Info("Payment intent event observed", "event_type", ev.Type, "payment_intent_id", intent.ID, "user_id", userID)
	return userID, nil
}

func (e *Engine) handleChargeRefunded(ctx context.Context, ev *Event) (uint, error) {
	var charge chargePayload
	if err := json.Unmarshal(ev.Object, &charge); err != nil {
		return 0, handlerErrorf("failed to parse charge: %w", err)
	}

	payment, err := e.store.GetPaymentByIntentID(ctx, charge.PaymentIntent)
	if err != nil {
		return 0, err
	}
	if payment == nil {
		// The invoice event recording the payment may arrive after the refund;
		// leave the log row unprocessed so redelivery picks it up.
		return 0, handlerErrorf("no payment for intent %s (charge %s)", charge.PaymentIntent, charge.ID)
	}

	existing, err := e.store.GetRefundByPaymentID(ctx, payment.ID)
	if err != nil {
		return payment.UserID, err
	}
	if existing != nil {
		e.logger.Info("Refund already recorded", "payment_id", payment.ID, "charge_id", charge.ID)
		return payment.UserID, nil
	}

	now := e.now()
	refund := &models.Refund{
		PaymentID:   payment.ID,
		UserID:      payment.UserID,
		Amount:      charge.AmountRefunded,
		Currency:    currencyOrDefault(charge.Currency),
		Status:      "completed",
		ProcessedAt: &now,
	}
	if len(charge.Refunds.Data) > 0 {
		refund.StripeRefundID = charge.Refunds.Data[0].ID
		refund.Reason = charge.Refunds.Data[0].Reason
		if charge.Refunds.Data[0].Status != "" {
			refund.Status = charge.Refunds.Data[0].Status
		}
	}
	err = e.store.CreateRefund(ctx, refund)
	if err == ErrDuplicateRefund {
		// Lost a race with another delivery referencing the same charge.
		e.logger.Info("Refund already recorded", "payment_id", payment.ID, "charge_id", charge.ID)
		return payment.UserID, nil
	}
	if err != nil {
		return payment.UserID, err
	}

	n := &models.Notification{
		UserID:    payment.UserID,
		Type:      "refund_processed",
		Title:     "Refund processed",
		TitleAr:   "تم تنفيذ الاسترداد",
		Message:   fmt.Sprintf("A refund of %s has been issued to your payment method.", formatAmount(charge.AmountRefunded, refund.Currency)),
		MessageAr: fmt.Sprintf("تم استرداد مبلغ %s إلى وسيلة الدفع الخاصة بك.", formatAmount(charge.AmountRefunded, refund.Currency)),
	}
	if err := e.notify(ctx, n); err != nil {
		return payment.UserID, err
	}

	e.logger.Info("Refund recorded", "payment_id", payment.ID, "amount", charge.AmountRefunded)
	return payment.UserID, nil
}

// handleCustomer is logging only; no entity mutation.
func (e *Engine) handleCustomer(ctx context.Context, ev *Event) (uint, error) {
	var customer customerPayload
	if err := json.Unmarshal(ev.Object, &customer); err != nil {
		return 0, handlerErrorf("failed to parse customer: %w", err)
	}

	var userID uint
	user, err := e.store.GetUserByCustomerID(ctx, customer.ID)
	if err != nil {
		return 0, err
	}
	if user != nil {
		userID = user.ID
	}

	e.logger.Info("Customer event observed", "event_type", ev.Type, "customer_id", customer.ID, "user_id", userID)
	return userID, nil
}

// findSubscription locates a subscription by provider subscription id, falling
// back to the customer id.
func (e *Engine) findSubscription(ctx context.Context, stripeSubscriptionID, customerID string) (*models.Subscription, error) {
	if stripeSubscriptionID != "" {
		sub, err := e.store.GetSubscriptionByStripeID(ctx, stripeSubscriptionID)
		if err != nil || sub != nil {
			return sub, err
		}
	}
	if customerID == "" {
		return nil, nil
	}
	return e.store.GetSubscriptionByCustomerID(ctx, customerID)
}

func parseUserID(metadata map[string]string) (uint, error) {
	raw := metadata["user_id"]
	if raw == "" {
		return 0, handlerErrorf("checkout metadata missing user_id")
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, handlerErrorf("invalid user_id in metadata: %q", raw)
	}
	return uint(id), nil
}

func applyPeriod(sub *models.Subscription, payload *subscriptionPayload) {
	if start := payload.periodStart(); start != 0 {
		sub.CurrentPeriodStart = unixTime(start)
	}
	if end := payload.periodEnd(); end != 0 {
		sub.CurrentPeriodEnd = unixTime(end)
	}
}

func lifecycleSuffix(eventType string) string {
	switch eventType {
	case "customer.subscription.created":
		return "created"
	case "customer.subscription.deleted":
		return "cancelled"
	default:
		return "updated"
	}
}

func currencyOrDefault(currency string) string {
	if currency == "" {
		return common.DEFAULT_CURRENCY
	}
	return currency
}

func formatAmount(cents int64, currency string) string {
	return fmt.Sprintf("%.2f %s", float64(cents)/100, currency)
}

func unixTime(sec int64) time.Time {
	return time.Unix(sec, 0)
}
