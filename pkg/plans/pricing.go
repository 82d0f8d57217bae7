package plans

// Pricing defines display and pricing data for a plan tier
type Pricing struct {
	Tier              PlanTier `json:"tier"`
	DisplayName       string   `json:"display_name"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	AnnualPriceCents  int64    `json:"annual_price_cents"`
}

// DefaultPricing returns list pricing for each tier
func DefaultPricing() map[PlanTier]Pricing {
	return map[PlanTier]Pricing{
		PlanFree: {
			Tier:              PlanFree,
			DisplayName:       "Free",
			MonthlyPriceCents: 0,
			AnnualPriceCents:  0,
		},
		PlanBasic: {
			Tier:              PlanBasic,
			DisplayName:       "Basic",
			MonthlyPriceCents: 1900,  // $19/month
			AnnualPriceCents:  19000, // two months free
		},
		PlanPro: {
			Tier:              PlanPro,
			DisplayName:       "Pro",
			MonthlyPriceCents: 7900, // $79/month
			AnnualPriceCents:  79000,
		},
		PlanEnterprise: {
			Tier:              PlanEnterprise,
			DisplayName:       "Enterprise",
			MonthlyPriceCents: 29900, // $299/month
			AnnualPriceCents:  299000,
		},
	}
}

// DisplayName returns the human readable tier name
func (t PlanTier) DisplayName() string {
	if p, ok := DefaultPricing()[t]; ok {
		return p.DisplayName
	}
	return DefaultPricing()[PlanFree].DisplayName
}
