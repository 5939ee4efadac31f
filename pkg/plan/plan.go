package plan

import "strings"

const (
	IntervalMonth = "month"
	IntervalYear  = "year"
)

type Plan struct {
	Name     string
	Interval string
}

var (
	Monthly = Plan{Name: "premium_monthly", Interval: IntervalMonth}
	Yearly  = Plan{Name: "premium_yearly", Interval: IntervalYear}
)

// Catalog maps Stripe price ids to the plans sold on the site.
type Catalog struct {
	byPrice map[string]Plan
}

func NewCatalog(monthlyPriceID, yearlyPriceID string) *Catalog {
	c := &Catalog{byPrice: make(map[string]Plan, 2)}
	if monthlyPriceID != "" {
		c.byPrice[monthlyPriceID] = Monthly
	}
	if yearlyPriceID != "" {
		c.byPrice[yearlyPriceID] = Yearly
	}
	return c
}

func (c *Catalog) Lookup(priceID string) (Plan, bool) {
	if c == nil {
		return Plan{}, false
	}
	p, ok := c.byPrice[priceID]
	return p, ok
}

// Resolve prefers the catalog entry for priceID and otherwise derives a plan from
// the recurring interval reported by Stripe.
func (c *Catalog) Resolve(priceID, interval string) Plan {
	if p, ok := c.Lookup(priceID); ok {
		return p
	}
	switch strings.ToLower(interval) {
	case IntervalYear:
		return Yearly
	case IntervalMonth:
		return Monthly
	}
	return Plan{Name: "premium", Interval: strings.ToLower(interval)}
}
