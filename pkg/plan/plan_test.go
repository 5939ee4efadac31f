package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog("price_month", "price_year")

	tests := []struct {
		priceID  string
		interval string
		want     Plan
	}{
		{priceID: "price_month", interval: "", want: Monthly},
		{priceID: "price_year", interval: "month", want: Yearly},
		{priceID: "price_other", interval: "year", want: Yearly},
		{priceID: "price_other", interval: "MONTH", want: Monthly},
		{priceID: "price_other", interval: "week", want: Plan{Name: "premium", Interval: "week"}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, c.Resolve(tt.priceID, tt.interval), "Resolve(%q, %q)", tt.priceID, tt.interval)
	}
}

func TestCatalogSkipsUnconfiguredPrices(t *testing.T) {
	c := NewCatalog("", "price_year")

	_, ok := c.Lookup("")
	assert.False(t, ok)

	p, ok := c.Lookup("price_year")
	assert.True(t, ok)
	assert.Equal(t, IntervalYear, p.Interval)
}

func TestNilCatalogLookup(t *testing.T) {
	var c *Catalog
	_, ok := c.Lookup("price_month")
	assert.False(t, ok)
	assert.Equal(t, Monthly, c.Resolve("price_month", "month"))
}
