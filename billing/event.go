package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"webnova-backend/common"

	"github.com/stripe/stripe-go/v84"
)

// Event is a verified provider event, normalized for processing. Object holds
// the provider's data.object JSON; Raw holds the exact request bytes the
// signature was verified against.
type Event struct {
	ID       string
	Type     string
	Provider string
	Object   []byte
	Raw      []byte
	Created  time.Time
}

// EventFromStripe normalizes a verified Stripe event.
func EventFromStripe(event stripe.Event, rawBody []byte) *Event {
	var object []byte
	if event.Data != nil {
		object = event.Data.Raw
	}
	return &Event{
		ID:       event.ID,
		Type:     string(event.Type),
		Provider: common.PROVIDER_STRIPE,
		Object:   object,
		Raw:      rawBody,
		Created:  time.Unix(event.Created, 0),
	}
}

// PayloadHash is the content hash recorded on the webhook log for diagnostics.
func (e *Event) PayloadHash() string {
	sum := sha256.Sum256(e.Raw)
	return hex.EncodeToString(sum[:])
}

// Local payload shapes. Only the fields the handlers read are declared, so
// provider API version drift in unrelated fields cannot break decoding.

type checkoutSessionPayload struct {
	ID            string            `json:"id"`
	Mode          string            `json:"mode"`
	Customer      string            `json:"customer"`
	Subscription  string            `json:"subscription"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	PaymentIntent string            `json:"payment_intent"`
	Metadata      map[string]string `json:"metadata"`
}

type subscriptionPayload struct {
	ID                 string `json:"id"`
	Customer           string `json:"customer"`
	Status             string `json:"status"`
	CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
	CurrentPeriodStart int64  `json:"current_period_start"`
	CurrentPeriodEnd   int64  `json:"current_period_end"`
	Items              struct {
		Data []struct {
			CurrentPeriodStart int64 `json:"current_period_start"`
			CurrentPeriodEnd   int64 `json:"current_period_end"`
			Price              struct {
				ID string `json:"id"`
			} `json:"price"`
		} `json:"data"`
	} `json:"items"`
}

func (p *subscriptionPayload) periodStart() int64 {
	if p.CurrentPeriodStart != 0 {
		return p.CurrentPeriodStart
	}
	if len(p.Items.Data) > 0 {
		return p.Items.Data[0].CurrentPeriodStart
	}
	return 0
}

func (p *subscriptionPayload) periodEnd() int64 {
	if p.CurrentPeriodEnd != 0 {
		return p.CurrentPeriodEnd
	}
	if len(p.Items.Data) > 0 {
		return p.Items.Data[0].CurrentPeriodEnd
	}
	return 0
}

type invoicePayload struct {
	ID            string `json:"id"`
	Customer      string `json:"customer"`
	Subscription  string `json:"subscription"`
	PaymentIntent string `json:"payment_intent"`
	AmountPaid    int64  `json:"amount_paid"`
	AmountDue     int64  `json:"amount_due"`
	Currency      string `json:"currency"`
	AttemptCount  int    `json:"attempt_count"`
	Parent        struct {
		SubscriptionDetails struct {
			Subscription string `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

func (p *invoicePayload) subscriptionID() string {
	if p.Subscription != "" {
		return p.Subscription
	}
	return p.Parent.SubscriptionDetails.Subscription
}

type paymentIntentPayload struct {
	ID       string `json:"id"`
	Customer string `json:"customer"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	LastPaymentError struct {
		Message string `json:"message"`
	} `json:"last_payment_error"`
}

type chargePayload struct {
	ID             string `json:"id"`
	Customer       string `json:"customer"`
	PaymentIntent  string `json:"payment_intent"`
	AmountRefunded int64  `json:"amount_refunded"`
	Currency       string `json:"currency"`
	Refunds        struct {
		Data []struct {
			ID     string `json:"id"`
			Reason string `json:"reason"`
			Status string `json:"status"`
		} `json:"data"`
	} `json:"refunds"`
}

type customerPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}
