package model

// Usage counter metric names.
const (
	MetricAPIPrefix       = "api."
	MetricRateLimitDenied = "ratelimit.denied"
	MetricBusinessCreated = "business.created"
	MetricBusinessUpdated = "business.updated"
	MetricAlertPrefix     = "alert."
)

// UsageCounter is one daily counter row. Day is formatted YYYY-MM-DD.
type UsageCounter struct {
	Day    string `json:"day"`
	Metric string `json:"metric"`
	Count  int    `json:"count"`
}
