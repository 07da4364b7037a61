package billing

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"webnova-backend/sections/models"
)

func invoiceObject(invoiceID, customer, subscription, intent string, amount int64, attempt int) string {
	return fmt.Sprintf(`{
		"id": "%s",
		"customer": "%s",
		"subscription": "%s",
		"payment_intent": "%s",
		"amount_paid": %d,
		"amount_due": %d,
		"currency": "usd",
		"attempt_count": %d
	}`, invoiceID, customer, subscription, intent, amount, amount, attempt)
}

func seedActiveSubscription(store *memStore, userID uint) uint {
	return store.addSubscription(models.Subscription{
		UserID:               userID,
		PlanID:               "pro",
		StripeSubscriptionID: "sub_1",
		StripeCustomerID:     "cus_1",
		Status:               models.SubscriptionActive,
		BillingCycle:         "monthly",
	})
}

func TestCheckoutCompletedActivatesSubscription(t *testing.T) {
	engine, store := newTestEngine(t)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	userID := store.addUser(models.User{Email: "new@example.com", Role: "free", Active: true})

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_checkout", "checkout.session.completed", checkoutObject(userID, "pro", "monthly")))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	user, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "pro", user.Role)
	require.NotNil(t, user.StripeCustomerID)
	assert.Equal(t, "cus_1", *user.StripeCustomerID)
	require.NotNil(t, user.StripeSubscriptionID)
	assert.Equal(t, "sub_1", *user.StripeSubscriptionID)

	sub, err := store.GetUserSubscription(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, "monthly", sub.BillingCycle)
	assert.Equal(t, fixed, sub.CurrentPeriodStart)
	assert.Equal(t, fixed.AddDate(0, 1, 0), sub.CurrentPeriodEnd)

	require.Len(t, store.subEvents, 1)
	assert.Equal(t, "subscription_created", store.subEvents[0].EventType)
	assert.Equal(t, "pro", store.subEvents[0].NewPlan)

	notifications, err := store.GetNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "subscription_activated", notifications[0].Type)
	assert.NotEmpty(t, notifications[0].TitleAr)
}

func TestCheckoutCompletedUnknownPlanLeftForRedelivery(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := store.addUser(models.User{Email: "plan@example.com", Role: "free", Active: true})

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_bad_plan", "checkout.session.completed", checkoutObject(userID, "enterprise", "monthly")))
	require.NoError(t, err)
	require.Error(t, outcome.HandlerErr)
	assert.True(t, IsHandlerError(outcome.HandlerErr))
	assert.Equal(t, 0, store.subscriptionCount())
}

func TestCheckoutAfterCancellationOpensNewSubscription(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	cancelled := time.Now()
	store.addSubscription(models.Subscription{
		UserID:               userID,
		PlanID:               "starter",
		StripeSubscriptionID: "sub_old",
		StripeCustomerID:     "cus_1",
		Status:               models.SubscriptionCancelled,
		CancelledAt:          &cancelled,
	})

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_rejoin", "checkout.session.completed", checkoutObject(userID, "pro", "yearly")))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	assert.Equal(t, 2, store.subscriptionCount(), "the cancelled row is terminal; a fresh checkout opens a new one")
	sub, err := store.GetUserSubscription(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, "yearly", sub.BillingCycle)
}

func TestInvoiceFailedSchedulesRetryAndMarksPastDue(t *testing.T) {
	engine, store := newTestEngine(t)
	fixed := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	engine.now = func() time.Time { return fixed }

	userID := seedCustomer(store, "cus_1")
	subID := seedActiveSubscription(store, userID)

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_fail", "invoice.payment_failed", invoiceObject("in_1", "cus_1", "sub_1", "pi_fail", 2900, 1)))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	payments, err := store.GetPaymentsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentFailed, payments[0].Status)
	assert.Equal(t, int64(2900), payments[0].Amount)

	retries, err := store.GetPaymentRetriesBySubscription(context.Background(), subID)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	retry := retries[0]
	assert.Equal(t, models.RetryPending, retry.Status)
	assert.Equal(t, 1, retry.AttemptNumber)
	assert.Equal(t, "in_1", retry.StripeInvoiceID)
	assert.Equal(t, fixed.Add(3*24*time.Hour), retry.NextRetryAt)
	assert.Equal(t, fixed.Add(7*24*time.Hour), retry.GracePeriodEnd)

	sub, err := store.GetSubscriptionByStripeID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)

	notifications, err := store.GetNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "payment_failed", notifications[0].Type)
}

func TestInvoiceFailedRedeliveryAddsNoSecondRetry(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	seedActiveSubscription(store, userID)

	ev := newEvent("evt_fail_dup", "invoice.payment_failed", invoiceObject("in_1", "cus_1", "sub_1", "pi_fail", 2900, 1))

	_, err := engine.Process(context.Background(), ev)
	require.NoError(t, err)
	second, err := engine.Process(context.Background(), ev)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)

	assert.Equal(t, 1, store.retryCount())
	assert.Equal(t, 1, store.paymentCount())
}

func TestInvoicePaidResolvesRetriesAndRestoresSubscription(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	seedActiveSubscription(store, userID)

	_, err := engine.Process(context.Background(),
		newEvent("evt_fail", "invoice.payment_failed", invoiceObject("in_1", "cus_1", "sub_1", "pi_fail", 2900, 1)))
	require.NoError(t, err)

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_paid", "invoice.paid", invoiceObject("in_2", "cus_1", "sub_1", "pi_ok", 2900, 2)))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	sub, err := store.GetSubscriptionByStripeID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionActive, sub.Status)

	retries, err := store.GetPaymentRetriesBySubscription(context.Background(), sub.ID)
	require.NoError(t, err)
	require.Len(t, retries, 1)
	assert.Equal(t, models.RetrySucceeded, retries[0].Status)

	payments, err := store.GetPaymentsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, payments, 2, "the failed row is never mutated; success appends a new one")
}

func TestSubscriptionUpdatedAppliesMappedStatus(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	seedActiveSubscription(store, userID)

	object := `{
		"id": "sub_1",
		"customer": "cus_1",
		"status": "past_due",
		"current_period_start": 1767225600,
		"current_period_end": 1769904000
	}`
	outcome, err := engine.Process(context.Background(),
		newEvent("evt_sub_upd", "customer.subscription.updated", object))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	sub, err := store.GetSubscriptionByStripeID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionPastDue, sub.Status)
	assert.Equal(t, time.Unix(1767225600, 0), sub.CurrentPeriodStart)
	assert.Equal(t, time.Unix(1769904000, 0), sub.CurrentPeriodEnd)

	require.Len(t, store.subEvents, 1)
	assert.Equal(t, "subscription_updated", store.subEvents[0].EventType)
}

func TestSubscriptionUpdatedAfterDeletedStaysCancelled(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	seedActiveSubscription(store, userID)

	deleted := `{"id": "sub_1", "customer": "cus_1", "status": "canceled"}`
	_, err := engine.Process(context.Background(),
		newEvent("evt_deleted", "customer.subscription.deleted", deleted))
	require.NoError(t, err)

	// An out-of-order update delivered after the deletion must not revive it.
	updated := `{"id": "sub_1", "customer": "cus_1", "status": "active"}`
	outcome, err := engine.Process(context.Background(),
		newEvent("evt_late_update", "customer.subscription.updated", updated))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr, "the rejected transition is logged, not an error")

	sub, err := store.GetSubscriptionByStripeID(context.Background(), "sub_1")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	assert.NotNil(t, sub.CancelledAt)
}

func TestSubscriptionDeletedDowngradesUser(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	subRef := "sub_1"
	user, err := store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	user.Role = "pro"
	user.StripeSubscriptionID = &subRef
	require.NoError(t, store.UpdateUser(context.Background(), user))
	seedActiveSubscription(store, userID)

	outcome, err := engine.Process(context.Background(),
		newEvent("evt_deleted", "customer.subscription.deleted", `{"id":"sub_1","customer":"cus_1","status":"canceled"}`))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	user, err = store.GetUser(context.Background(), userID)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "free", user.Role)
	assert.Nil(t, user.StripeSubscriptionID)

	notifications, err := store.GetNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "subscription_cancelled", notifications[0].Type)
}

func TestChargeRefundedRecordsSingleRefund(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	paymentID := store.addPayment(models.Payment{
		UserID:                userID,
		StripePaymentIntentID: "pi_1",
		Amount:                2900,
		Currency:              "usd",
		Status:                models.PaymentCompleted,
	})

	object := `{
		"id": "ch_1",
		"customer": "cus_1",
		"payment_intent": "pi_1",
		"amount_refunded": 2900,
		"currency": "usd",
		"refunds": {"data": [{"id": "re_1", "reason": "requested_by_customer", "status": "succeeded"}]}
	}`
	outcome, err := engine.Process(context.Background(), newEvent("evt_refund", "charge.refunded", object))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)

	refund, err := store.GetRefundByPaymentID(context.Background(), paymentID)
	require.NoError(t, err)
	require.NotNil(t, refund)
	assert.Equal(t, int64(2900), refund.Amount)
	assert.Equal(t, "re_1", refund.StripeRefundID)
	assert.Equal(t, "succeeded", refund.Status)

	notifications, err := store.GetNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, notifications, 1)
	assert.Equal(t, "refund_processed", notifications[0].Type)

	// Redelivery of the same event.
	second, err := engine.Process(context.Background(), newEvent("evt_refund", "charge.refunded", object))
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, 1, store.refundCount())
}

func TestChargeRefundedDedupAcrossDistinctEventIDs(t *testing.T) {
	engine, store := newTestEngine(t)
	userID := seedCustomer(store, "cus_1")
	store.addPayment(models.Payment{
		UserID:                userID,
		StripePaymentIntentID: "pi_1",
		Amount:                2900,
		Currency:              "usd",
		Status:                models.PaymentCompleted,
	})

	object := `{"id":"ch_1","customer":"cus_1","payment_intent":"pi_1","amount_refunded":2900,"currency":"usd"}`

	_, err := engine.Process(context.Background(), newEvent("evt_refund_a", "charge.refunded", object))
	require.NoError(t, err)

	// charge.updated style redelivery under a fresh event id slips past the
	// event gate; the refund's payment uniqueness catches it.
	outcome, err := engine.Process(context.Background(), newEvent("evt_refund_b", "charge.refunded", object))
	require.NoError(t, err)
	require.NoError(t, outcome.HandlerErr)
	assert.False(t, outcome.Duplicate)

	assert.Equal(t, 1, store.refundCount())

	notifications, err := store.GetNotificationsByUser(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, notifications, 1)
}

func TestChargeRefundedBeforePaymentRecorded(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(store, "cus_1")

	object := `{"id":"ch_1","customer":"cus_1","payment_intent":"pi_unseen","amount_refunded":2900,"currency":"usd"}`
	outcome, err := engine.Process(context.Background(), newEvent("evt_early_refund", "charge.refunded", object))
	require.NoError(t, err)
	require.Error(t, outcome.HandlerErr)
	assert.True(t, IsHandlerError(outcome.HandlerErr))
	assert.Equal(t, 0, store.refundCount())
}

func TestPaymentIntentEventsNeverTouchLedger(t *testing.T) {
	engine, store := newTestEngine(t)
	seedCustomer(store, "cus_1")

	object := `{"id":"pi_1","customer":"cus_1","amount":2900,"currency":"usd"}`
	for _, eventType := range []string{"payment_intent.succeeded", "payment_intent.payment_failed"} {
		outcome, err := engine.Process(context.Background(), newEvent("evt_"+eventType, eventType, object))
		require.NoError(t, err)
		require.NoError(t, outcome.HandlerErr)
	}

	assert.Equal(t, 0, store.paymentCount())
	assert.Equal(t, 2, store.logCount(), "both events were logged")
}
