package billing

import (
	"context"
	"sync"
	"time"

	"webnova-backend/sections/models"
)

// memStore is an in-memory Store used by the engine and scheduler tests. It
// mirrors the datastore semantics the engine depends on: unique event ids,
// unique refund payment ids, and value-copy reads.
type memStore struct {
	mu  sync.Mutex
	seq uint

	users         map[uint]models.User
	subs          map[uint]models.Subscription
	payments      []models.Payment
	retries       map[uint]models.PaymentRetry
	subEvents     []models.SubscriptionEvent
	refunds       map[uint]models.Refund
	notifications []models.Notification
	logs          map[string]models.WebhookLog

	// failures maps an operation name to an error returned on its next call
	failures map[string]error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[uint]models.User),
		subs:     make(map[uint]models.Subscription),
		retries:  make(map[uint]models.PaymentRetry),
		refunds:  make(map[uint]models.Refund),
		logs:     make(map[string]models.WebhookLog),
		failures: make(map[string]error),
	}
}

func (m *memStore) nextID() uint {
	m.seq++
	return m.seq
}

func (m *memStore) failWith(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[op] = err
}

func (m *memStore) takeFailure(op string) error {
	if err, ok := m.failures[op]; ok {
		delete(m.failures, op)
		return err
	}
	return nil
}

func (m *memStore) addUser(user models.User) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if user.ID == 0 {
		user.ID = m.nextID()
	}
	m.users[user.ID] = user
	return user.ID
}

func (m *memStore) addSubscription(sub models.Subscription) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = m.nextID()
	}
	m.subs[sub.ID] = sub
	return sub.ID
}

func (m *memStore) addPayment(payment models.Payment) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if payment.ID == 0 {
		payment.ID = m.nextID()
	}
	m.payments = append(m.payments, payment)
	return payment.ID
}

func (m *memStore) addRetry(retry models.PaymentRetry) uint {
	m.mu.Lock()
	defer m.mu.Unlock()
	if retry.ID == 0 {
		retry.ID = m.nextID()
	}
	m.retries[retry.ID] = retry
	return retry.ID
}

func (m *memStore) GetUser(ctx context.Context, id uint) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetUser"); err != nil {
		return nil, err
	}
	user, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &user, nil
}

func (m *memStore) GetUserByCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.StripeCustomerID != nil && *user.StripeCustomerID == customerID {
			u := user
			return &u, nil
		}
	}
	return nil, nil
}

func (m *memStore) UpdateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = *user
	return nil
}

func (m *memStore) GetUserSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Subscription
	for id := range m.subs {
		sub := m.subs[id]
		if sub.UserID != userID {
			continue
		}
		if latest == nil || sub.ID > latest.ID {
			s := sub
			latest = &s
		}
	}
	return latest, nil
}

func (m *memStore) GetSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.subs {
		sub := m.subs[id]
		if sub.StripeSubscriptionID == stripeSubscriptionID && stripeSubscriptionID != "" {
			return &sub, nil
		}
	}
	return nil, nil
}

func (m *memStore) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.Subscription
	for id := range m.subs {
		sub := m.subs[id]
		if sub.StripeCustomerID != customerID || customerID == "" {
			continue
		}
		if latest == nil || sub.ID > latest.ID {
			s := sub
			latest = &s
		}
	}
	return latest, nil
}

func (m *memStore) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.ID = m.nextID()
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memStore) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = *sub
	return nil
}

func (m *memStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreatePayment"); err != nil {
		return err
	}
	payment.ID = m.nextID()
	m.payments = append(m.payments, *payment)
	return nil
}

func (m *memStore) GetPaymentsByUser(ctx context.Context, userID uint) ([]models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Payment
	for _, p := range m.payments {
		if p.UserID == userID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) GetPaymentByIntentID(ctx context.Context, paymentIntentID string) (*models.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if paymentIntentID == "" {
		return nil, nil
	}
	for _, p := range m.payments {
		if p.StripePaymentIntentID == paymentIntentID {
			payment := p
			return &payment, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	retry.ID = m.nextID()
	m.retries[retry.ID] = *retry
	return nil
}

func (m *memStore) UpdatePaymentRetry(ctx context.Context, retry *models.PaymentRetry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries[retry.ID] = *retry
	return nil
}

func (m *memStore) GetPaymentRetriesBySubscription(ctx context.Context, subscriptionID uint) ([]models.PaymentRetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRetry
	for id := range m.retries {
		if m.retries[id].SubscriptionID == subscriptionID {
			out = append(out, m.retries[id])
		}
	}
	return out, nil
}

func (m *memStore) GetPendingPaymentRetries(ctx context.Context, now time.Time) ([]models.PaymentRetry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.PaymentRetry
	for id := range m.retries {
		r := m.retries[id]
		if r.Status == models.RetryPending && !r.NextRetryAt.After(now) && r.GracePeriodEnd.After(now) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) CreateSubscriptionEvent(ctx context.Context, event *models.SubscriptionEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event.ID = m.nextID()
	m.subEvents = append(m.subEvents, *event)
	return nil
}

func (m *memStore) CreateRefund(ctx context.Context, refund *models.Refund) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.refunds {
		if m.refunds[id].PaymentID == refund.PaymentID {
			return ErrDuplicateRefund
		}
	}
	refund.ID = m.nextID()
	m.refunds[refund.ID] = *refund
	return nil
}

func (m *memStore) GetRefundByPaymentID(ctx context.Context, paymentID uint) (*models.Refund, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id := range m.refunds {
		if m.refunds[id].PaymentID == paymentID {
			refund := m.refunds[id]
			return &refund, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateNotification(ctx context.Context, n *models.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	n.ID = m.nextID()
	m.notifications = append(m.notifications, *n)
	return nil
}

func (m *memStore) GetNotificationsByUser(ctx context.Context, userID uint) ([]models.Notification, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Notification
	for _, n := range m.notifications {
		if n.UserID == userID {
			out = append(out, n)
		}
	}
	return out, nil
}

func (m *memStore) CreateWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("CreateWebhookLog"); err != nil {
		return err
	}
	if _, exists := m.logs[log.EventID]; exists {
		return ErrDuplicateEvent
	}
	log.ID = m.nextID()
	m.logs[log.EventID] = *log
	return nil
}

func (m *memStore) UpdateWebhookLog(ctx context.Context, log *models.WebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("UpdateWebhookLog"); err != nil {
		return err
	}
	m.logs[log.EventID] = *log
	return nil
}

func (m *memStore) GetWebhookLogByEventID(ctx context.Context, eventID string) (*models.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.takeFailure("GetWebhookLogByEventID"); err != nil {
		return nil, err
	}
	log, ok := m.logs[eventID]
	if !ok {
		return nil, nil
	}
	return &log, nil
}

func (m *memStore) GetRecentWebhookLogs(ctx context.Context, limit int) ([]models.WebhookLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WebhookLog
	for id := range m.logs {
		out = append(out, m.logs[id])
	}
	return out, nil
}

func (m *memStore) paymentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.payments)
}

func (m *memStore) retryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.retries)
}

func (m *memStore) refundCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.refunds)
}

func (m *memStore) subscriptionCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

func (m *memStore) logCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.logs)
}
