package billing

import "webnova-backend/sections/models"

// MapProviderStatus maps a Stripe subscription status to the internal enum.
func MapProviderStatus(providerStatus string) string {
	switch providerStatus {
	case "active", "trialing":
		return models.SubscriptionActive
	case "canceled", "unpaid":
		return models.SubscriptionCancelled
	case "past_due":
		return models.SubscriptionPastDue
	case "paused":
		return models.SubscriptionPaused
	default:
		return models.SubscriptionPending
	}
}

// CanTransition reports whether the subscription state machine allows moving
// from one status to another. cancelled is terminal.
func CanTransition(from, to string) bool {
	if from == to {
		return true
	}
	switch from {
	case models.SubscriptionCancelled:
		return false
	case models.SubscriptionPending:
		return to == models.SubscriptionActive || to == models.SubscriptionCancelled
	case models.SubscriptionActive:
		return to == models.SubscriptionPastDue || to == models.SubscriptionPaused || to == models.SubscriptionCancelled
	case models.SubscriptionPastDue:
		return to == models.SubscriptionActive || to == models.SubscriptionCancelled
	case models.SubscriptionPaused:
		return to == models.SubscriptionActive || to == models.SubscriptionCancelled
	default:
		return false
	}
}
