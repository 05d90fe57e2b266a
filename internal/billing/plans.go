// Package billing contains the subscription-state synchronization core: the
// plan catalog, the webhook event normalizer, the account resolver, and the
// reconciler that maintains the entitlement projection.
package billing

import (
	"log/slog"

	"platemask/internal/types"
)

// planDefaults is the authoritative static plan table. It is the single
// source of truth for what each tier costs and unlocks; the pricing page and
// the billing UI render it via the read API.
var planDefaults = []types.PlanDefinition{
	{
		Tier:              types.PlanFree,
		Name:              "Free",
		MonthlyPriceCents: 0,
		Features: []string{
			"10 masked images per month",
			"Standard processing queue",
			"Watermarked output",
		},
	},
	{
		Tier:              types.PlanStarter,
		Name:              "Starter",
		MonthlyPriceCents: 900,
		Features: []string{
			"500 masked images per month",
			"No watermark",
			"Batch upload",
		},
	},
	{
		Tier:              types.PlanPro,
		Name:              "Pro",
		MonthlyPriceCents: 2900,
		Features: []string{
			"5,000 masked images per month",
			"Priority processing queue",
			"API access",
			"Batch upload",
		},
	},
	{
		Tier:              types.PlanBusiness,
		Name:              "Business",
		MonthlyPriceCents: 9900,
		Features: []string{
			"Unlimited masked images",
			"Priority processing queue",
			"API access",
			"Team seats",
			"Dedicated support",
		},
	},
}

// Catalog maps provider price IDs onto plan tiers and serves the static plan
// table. The price map comes from configuration so environments (test mode,
// live mode) can point at their own Stripe price objects.
type Catalog struct {
	priceToPlan map[string]types.PlanTier
	logger      *slog.Logger
}

// NewCatalog builds a Catalog from a priceID -> tier-name map. Entries naming
// an unknown tier are dropped with a warning rather than failing startup.
func NewCatalog(priceMap map[string]string, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}

	known := make(map[string]types.PlanTier, len(planDefaults))
	for _, def := range planDefaults {
		known[string(def.Tier)] = def.Tier
	}

	m := make(map[string]types.PlanTier, len(priceMap))
	for priceID, tierName := range priceMap {
		tier, ok := known[tierName]
		if !ok {
			logger.Warn("plan price map references unknown tier",
				slog.String("price_id", priceID),
				slog.String("tier", tierName),
			)
			continue
		}
		m[priceID] = tier
	}

	return &Catalog{priceToPlan: m, logger: logger}
}

// PlanForPrice returns the tier granted by the given price ID. Unknown price
// IDs map to the free tier so a misconfigured price can never grant more than
// it should.
func (c *Catalog) PlanForPrice(priceID string) types.PlanTier {
	if tier, ok := c.priceToPlan[priceID]; ok {
		return tier
	}
	c.logger.Warn("unknown price id mapped to free tier", slog.String("price_id", priceID))
	return types.PlanFree
}

// Definitions returns the static plan table in display order.
func (c *Catalog) Definitions() []types.PlanDefinition {
	defs := make([]types.PlanDefinition, len(planDefaults))
	copy(defs, planDefaults)
	return defs
}
