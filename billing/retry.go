package billing

import (
	"context"
	"log/slog"
	"time"

	"webnova-backend/common"

	"github.com/google/uuid"
)

// InvoiceCharger attempts the provider charge for an invoice. A successful
// attempt makes the provider emit an invoice.paid webhook, which does the
// bookkeeping (retry resolution, subscription restore) through the engine.
type InvoiceCharger interface {
	PayInvoice(ctx context.Context, invoiceID, idempotencyKey string) error
}

// RetryScheduler acts on pending PaymentRetry rows on its own cadence. Rows
// whose grace period has elapsed are never attempted; they are an external
// escalation policy's responsibility.
type RetryScheduler struct {
	store   Store
	charger InvoiceCharger
	cfg     *common.Config
	logger  *slog.Logger

	now func() time.Time
}

// NewRetryScheduler creates a scheduler over the given store and charger.
func NewRetryScheduler(store Store, charger InvoiceCharger, cfg *common.Config) *RetryScheduler {
	return &RetryScheduler{
		store:   store,
		charger: charger,
		cfg:     cfg,
		logger:  slog.With("service", "RetryScheduler"),
		now:     time.Now,
	}
}

// Run polls for due retries until the context is cancelled.
func (s *RetryScheduler) Run(ctx context.Context) {
	interval := s.cfg.RetryPollInterval()
	s.logger.Info("Retry scheduler started", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Retry scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.ProcessDue(ctx); err != nil {
				s.logger.Error("Retry pass failed", "error", err)
			}
		}
	}
}

// ProcessDue attempts every pending retry that is due and still inside its
// grace period. It returns the number of attempted charges.
func (s *RetryScheduler) ProcessDue(ctx context.Context) (int, error) {
	now := s.now()
	retries, err := s.store.GetPendingPaymentRetries(ctx, now)
	if err != nil {
		return 0, err
	}

	attempted := 0
	for i := range retries {
		retry := &retries[i]
		attempted++

		err := s.charger.PayInvoice(ctx, retry.StripeInvoiceID, uuid.NewString())
		if err != nil {
			s.logger.Warn("Invoice retry attempt failed",
				"invoice_id", retry.StripeInvoiceID, "attempt", retry.AttemptNumber, "error", err)
			retry.LastFailureReason = err.Error()
		} else {
			s.logger.Info("Invoice retry attempt submitted",
				"invoice_id", retry.StripeInvoiceID, "attempt", retry.AttemptNumber)
		}

		// Push the next attempt out regardless of outcome: a success resolves
		// the row through the invoice.paid webhook, and a failure waits the
		// configured delay. Attempts never extend the grace period.
		retry.AttemptNumber++
		retry.NextRetryAt = now.Add(s.cfg.RetryDelay())
		if err := s.store.UpdatePaymentRetry(ctx, retry); err != nil {
			return attempted, err
		}
	}

	if attempted > 0 {
		s.logger.Info("Retry pass complete", "attempted", attempted)
	}
	return attempted, nil
}
