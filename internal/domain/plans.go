package domain

// FreeTier is the plan reported when a tenant has no paid subscription, and
// the conservative default clients fall back to when billing is unreachable.
const FreeTier = "free"

// Plan represents a purchasable tier on the marketing site.
type Plan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	StripePriceID string `json:"stripePriceId"`
	PriceUSD      int    `json:"priceUsd"` // Monthly price in USD cents (1900 = $19)
	Popular       bool   `json:"popular"`  // Show "Most Popular" badge
}

// AvailablePlans returns all purchasable plans.
func AvailablePlans() []Plan {
	return []Plan{
		{
			ID:            "starter",
			Name:          "Starter",
			StripePriceID: "price_starter_monthly",
			PriceUSD:      1900, // $19/mo
			Popular:       false,
		},
		{
			ID:            "growth",
			Name:          "Growth",
			StripePriceID: "price_growth_monthly",
			PriceUSD:      4900, // $49/mo
			Popular:       true,
		},
		{
			ID:            "scale",
			Name:          "Scale",
			StripePriceID: "price_scale_monthly",
			PriceUSD:      9900, // $99/mo
			Popular:       false,
		},
	}
}

// PlanByPriceID returns the plan matching a Stripe price id, or nil.
func PlanByPriceID(priceID string) *Plan {
	for _, p := range AvailablePlans() {
		if p.StripePriceID == priceID {
			return &p
		}
	}
	return nil
}
