package common

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

type Plan struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	PriceCents     int64  `json:"priceCents"`
	Currency       string `json:"currency"`
	Role           string `json:"role"` // user role granted while the plan is active
	ProductId      string `json:"productId"`
	MonthlyPriceId string `json:"monthlyPriceId"`
	YearlyPriceId  string `json:"yearlyPriceId"`
}

func LoadPlans(cfgDir string) ([]Plan, error) {
	buf, err := os.ReadFile(filepath.Join(cfgDir, "plans.json"))
	if err != nil {
		return nil, fmt.Errorf("failed to read plans.json: %w", err)
	}

	var plans []Plan
	if err := json.Unmarshal(buf, &plans); err != nil {
		return nil, fmt.Errorf("failed to parse plans.json: %w", err)
	}

	return plans, nil
}

func GetPlan(plans []Plan, planID string) *Plan {
	for _, plan := range plans {
		if plan.ID == planID {
			return &plan
		}
	}
	return nil
}

// GetPlanByPriceId resolves a plan and billing cycle from a Stripe price id.
func GetPlanByPriceId(plans []Plan, priceID string) (*Plan, string) {
	for _, plan := range plans {
		if plan.MonthlyPriceId == priceID {
			return &plan, "monthly"
		}
		if plan.YearlyPriceId == priceID {
			return &plan, "yearly"
		}
	}
	return nil, ""
}

// PriceIdForCycle returns the Stripe price id for the given billing cycle.
func (p *Plan) PriceIdForCycle(billingCycle string) string {
	if billingCycle == "yearly" {
		return p.YearlyPriceId
	}
	return p.MonthlyPriceId
}
