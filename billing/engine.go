package billing

import (
	"context"
	"log/slog"
	"time"

	"webnova-backend/common"
	"webnova-backend/sections/models"
)

// HandlerFunc processes a verified, deduplicated event. It returns the id of
// the user the event relates to (0 if unknown) for observability on the
// webhook log. Handlers must be safe to re-run: a prior attempt may have
// crashed after some of their writes committed.
type HandlerFunc func(ctx context.Context, ev *Event) (relatedUserID uint, err error)

// Outcome describes how a delivery was concluded.
type Outcome struct {
	EventID   string
	EventType string
	// Duplicate means the event was already processed, or another worker holds
	// the gate; no handler ran.
	Duplicate bool
	// Handled is false for event types with no registered handler.
	Handled bool
	// HandlerErr is set when the handler failed recoverably. The delivery is
	// still acked; the log row stays unprocessed for redelivery.
	HandlerErr error
}

// Engine is the idempotent webhook processing core: dedup gate, router, and
// state transition handlers over a Store.
type Engine struct {
	store    Store
	cfg      *common.Config
	plans    []common.Plan
	notifier Notifier
	logger   *slog.Logger
	handlers map[string]HandlerFunc

	now func() time.Time
}

// NewEngine creates an engine with the default handler registry.
func NewEngine(store Store, cfg *common.Config, plans []common.Plan, notifier Notifier) *Engine {
	if notifier == nil {
		notifier = NoopNotifier{}
	}
	e := &Engine{
		store:    store,
		cfg:      cfg,
		plans:    plans,
		notifier: notifier,
		logger:   slog.With("service", "BillingEngine"),
		handlers: make(map[string]HandlerFunc),
		now:      time.Now,
	}
	e.registerDefaultHandlers()
	return e
}

// Register binds a handler to an event type, replacing any existing binding.
func (e *Engine) Register(eventType string, fn HandlerFunc) {
	e.handlers[eventType] = fn
}

func (e *Engine) registerDefaultHandlers() {
	e.Register("checkout.session.completed", e.handleCheckoutCompleted)
	e.Register("customer.subscription.created", e.handleSubscriptionLifecycle)
	e.Register("customer.subscription.updated", e.handleSubscriptionLifecycle)
	e.Register("customer.subscription.deleted", e.handleSubscriptionDeleted)
	e.Register("invoice.paid", e.handleInvoicePaid)
	e.Register("invoice.payment_succeeded", e.handleInvoicePaid)
	e.Register("invoice.payment_failed", e.handleInvoiceFailed)
	e.Register("payment_intent.succeeded", e.handlePaymentIntent)
	e.Register("payment_intent.payment_failed", e.handlePaymentIntent)
	e.Register("charge.refunded", e.handleChargeRefunded)
	e.Register("customer.created", e.handleCustomer)
	e.Register("customer.updated", e.handleCustomer)
}

// Process runs a verified event through the dedup gate and its handler.
//
// The returned error is non-nil only for datastore failures, which the caller
// escalates so the provider redelivers. Recoverable handler failures are
// reported on Outcome.HandlerErr and the delivery is acked.
func (e *Engine) Process(ctx context.Context, ev *Event) (*Outcome, error) {
	outcome := &Outcome{EventID: ev.ID, EventType: ev.Type}
	now := e.now()

	log, err := e.store.GetWebhookLogByEventID(ctx, ev.ID)
	if err != nil {
		return nil, err
	}

	switch {
	case log != nil && log.Processed:
		// Idempotent no-op: return the previously recorded outcome.
		e.logger.Info("Duplicate webhook event ignored", "event_id", ev.ID, "type", ev.Type)
		outcome.Duplicate = true
		outcome.Handled = true
		return outcome, nil

	case log != nil:
		// A prior attempt did not complete. Re-run the handler; handlers are
		// idempotent with respect to re-execution.
		log.Attempts++
		log.LastAttemptAt = now
		if err := e.store.UpdateWebhookLog(ctx, log); err != nil {
			return nil, err
		}

	default:
		log = &models.WebhookLog{
			EventID:       ev.ID,
			EventType:     ev.Type,
			Provider:      ev.Provider,
			PayloadHash:   ev.PayloadHash(),
			Payload:       string(ev.Raw),
			Processed:     false,
			Attempts:      1,
			LastAttemptAt: now,
		}
		err := e.store.CreateWebhookLog(ctx, log)
		if err == ErrDuplicateEvent {
			// A concurrent worker won the gate; ack without running a handler.
			e.logger.Info("Webhook event already in flight", "event_id", ev.ID, "type", ev.Type)
			outcome.Duplicate = true
			return outcome, nil
		}
		if err != nil {
			return nil, err
		}
	}

	handler, ok := e.handlers[ev.Type]
	if !ok {
		// Unknown event types are acked and recorded so they never cause
		// provider retry storms.
		e.logger.Info("Unhandled webhook event type", "event_id", ev.ID, "type", ev.Type)
		if err := e.markProcessed(ctx, log, 0); err != nil {
			return nil, err
		}
		return outcome, nil
	}

	relatedUserID, herr := handler(ctx, ev)
	if herr != nil {
		if IsDatastoreError(herr) {
			// Escalate so the provider retries the whole event. The log row is
			// left unprocessed; the error message write is best effort since
			// the datastore is already failing.
			log.ErrorMessage = herr.Error()
			_ = e.store.UpdateWebhookLog(ctx, log)
			return nil, herr
		}

		e.logger.Error("Webhook handler failed", "event_id", ev.ID, "type", ev.Type, "error", herr)
		log.ErrorMessage = herr.Error()
		if relatedUserID != 0 {
			log.RelatedUserID = &relatedUserID
		}
		if err := e.store.UpdateWebhookLog(ctx, log); err != nil {
			return nil, err
		}
		outcome.Handled = true
		outcome.HandlerErr = herr
		return outcome, nil
	}

	if err := e.markProcessed(ctx, log, relatedUserID); err != nil {
		return nil, err
	}

	e.logger.Info("Webhook event processed", "event_id", ev.ID, "type", ev.Type, "user_id", relatedUserID)
	outcome.Handled = true
	return outcome, nil
}

// markProcessed records the completed outcome. Processed flips to true only
// after all handler side effects have committed.
func (e *Engine) markProcessed(ctx context.Context, log *models.WebhookLog, relatedUserID uint) error {
	now := e.now()
	log.Processed = true
	log.ProcessedAt = &now
	log.ErrorMessage = ""
	if relatedUserID != 0 {
		log.RelatedUserID = &relatedUserID
	}
	return e.store.UpdateWebhookLog(ctx, log)
}

// notify stores a notification row and fans it out. Fan-out failures are
// logged, not propagated: the durable row is what downstream reads.
func (e *Engine) notify(ctx context.Context, n *models.Notification) error {
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return err
	}
	if err := e.notifier.PublishNotification(ctx, n); err != nil {
		e.logger.Warn("Failed to publish notification", "user_id", n.UserID, "type", n.Type, "error", err)
	}
	return nil
}
