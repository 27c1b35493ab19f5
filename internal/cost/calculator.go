// Package cost estimates Places API spend from call counts.
package cost

// Rates holds per-request-type pricing in USD per thousand calls.
type Rates struct {
	PerThousand map[string]float64 `yaml:"per_thousand" mapstructure:"per_thousand"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates. Request types
// missing from rates fall back to DefaultRates.
func NewCalculator(rates Rates) *Calculator {
	merged := DefaultRates()
	for t, r := range rates.PerThousand {
		merged.PerThousand[t] = r
	}
	return &Calculator{rates: merged}
}

// Call returns the cost of n calls of one request type. Unknown types cost 0.
func (c *Calculator) Call(requestType string, n int) float64 {
	return float64(n) / 1000 * c.rates.PerThousand[requestType]
}

// Estimate sums the cost of a map of request type to call count.
func (c *Calculator) Estimate(calls map[string]int) float64 {
	var total float64
	for t, n := range calls {
		total += c.Call(t, n)
	}
	return total
}

// DefaultRates returns list pricing for the request types the client issues.
func DefaultRates() Rates {
	return Rates{
		PerThousand: map[string]float64{
			"search":      32.00,
			"details":     17.00,
			"photo_list":  0,
			"photo_media": 7.00,
		},
	}
}
