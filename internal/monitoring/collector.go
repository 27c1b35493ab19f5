// Package monitoring rolls up daily usage counters and raises threshold
// alerts on API consumption, rate-limit denials and queue backlog.
package monitoring

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/places-sync/internal/cost"
	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/queue"
)

// UsageStore reads daily usage counters.
type UsageStore interface {
	ListUsage(ctx context.Context, fromDay, toDay string) ([]model.UsageCounter, error)
}

// QueueStatuser reports queue progress.
type QueueStatuser interface {
	Status(ctx context.Context) (*queue.Status, error)
}

// Rollup aggregates usage counters over an inclusive day range.
type Rollup struct {
	From     string         `json:"from"`
	To       string         `json:"to"`
	APICalls map[string]int `json:"api_calls"`
	APITotal int            `json:"api_total"`
	Denied   int            `json:"denied"`
	Created  int            `json:"created"`
	Updated  int            `json:"updated"`
	CostUSD  float64        `json:"est_cost_usd"`
}

// MetricsSnapshot holds a point-in-time view of usage and queue health.
type MetricsSnapshot struct {
	Day          string        `json:"day"`
	Daily        Rollup        `json:"daily"`
	Weekly       Rollup        `json:"weekly"`
	DailyLimit   int           `json:"daily_limit"`
	DailyUsedPct float64       `json:"daily_used_pct"`
	Queue        *queue.Status `json:"queue,omitempty"`
	CollectedAt  time.Time     `json:"collected_at"`
}

// CollectorOption configures a Collector.
type CollectorOption func(*Collector)

// WithLocation sets the timezone that defines calendar days.
func WithLocation(loc *time.Location) CollectorOption {
	return func(c *Collector) {
		if loc != nil {
			c.loc = loc
		}
	}
}

// WithCost attaches a calculator used to estimate spend on each rollup.
func WithCost(calc *cost.Calculator) CollectorOption {
	return func(c *Collector) {
		c.cost = calc
	}
}

// WithNow overrides time.Now, for tests.
func WithNow(now func() time.Time) CollectorOption {
	return func(c *Collector) {
		c.now = now
	}
}

// Collector gathers usage rollups from the store and queue.
type Collector struct {
	store      UsageStore
	queue      QueueStatuser
	dailyLimit int
	loc        *time.Location
	now        func() time.Time
	cost       *cost.Calculator
}

// NewCollector creates a collector. q may be nil when no queue runs in
// this process.
func NewCollector(st UsageStore, q QueueStatuser, dailyLimit int, opts ...CollectorOption) *Collector {
	c := &Collector{
		store:      st,
		queue:      q,
		dailyLimit: dailyLimit,
		loc:        time.UTC,
		now:        time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Today returns the current calendar day in the collector's timezone.
func (c *Collector) Today() time.Time {
	n := c.now().In(c.loc)
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, c.loc)
}

// Collect gathers today's snapshot.
func (c *Collector) Collect(ctx context.Context) (*MetricsSnapshot, error) {
	today := c.Today()

	daily, err := c.Daily(ctx, today)
	if err != nil {
		return nil, err
	}
	weekly, err := c.Weekly(ctx, today)
	if err != nil {
		return nil, err
	}

	snap := &MetricsSnapshot{
		Day:         today.Format(time.DateOnly),
		Daily:       *daily,
		Weekly:      *weekly,
		DailyLimit:  c.dailyLimit,
		CollectedAt: c.now().UTC(),
	}
	if c.dailyLimit > 0 {
		snap.DailyUsedPct = float64(daily.APITotal) / float64(c.dailyLimit)
	}

	if c.queue != nil {
		st, err := c.queue.Status(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: queue status")
		}
		snap.Queue = st
	}
	return snap, nil
}

// Daily rolls up a single day.
func (c *Collector) Daily(ctx context.Context, day time.Time) (*Rollup, error) {
	return c.rollup(ctx, day, day)
}

// Weekly rolls up the seven days ending on day.
func (c *Collector) Weekly(ctx context.Context, day time.Time) (*Rollup, error) {
	return c.rollup(ctx, day.AddDate(0, 0, -6), day)
}

// Series returns one daily rollup per day in [from, to], including days
// with no recorded usage.
func (c *Collector) Series(ctx context.Context, from, to time.Time) ([]Rollup, error) {
	if to.Before(from) {
		return nil, eris.New("monitoring: series end before start")
	}
	counters, err := c.store.ListUsage(ctx, from.Format(time.DateOnly), to.Format(time.DateOnly))
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list usage")
	}

	byDay := make(map[string][]model.UsageCounter)
	for _, uc := range counters {
		byDay[uc.Day] = append(byDay[uc.Day], uc)
	}

	var out []Rollup
	for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
		key := d.Format(time.DateOnly)
		out = append(out, c.priced(aggregate(key, key, byDay[key])))
	}
	return out, nil
}

// WeeklySeries returns consecutive seven-day rollups ending on to, oldest
// first, covering every day back to from.
func (c *Collector) WeeklySeries(ctx context.Context, from, to time.Time) ([]Rollup, error) {
	if to.Before(from) {
		return nil, eris.New("monitoring: series end before start")
	}
	var out []Rollup
	for end := to; !end.Before(from); end = end.AddDate(0, 0, -7) {
		r, err := c.Weekly(ctx, end)
		if err != nil {
			return nil, err
		}
		out = append([]Rollup{*r}, out...)
	}
	return out, nil
}

func (c *Collector) rollup(ctx context.Context, from, to time.Time) (*Rollup, error) {
	fromDay, toDay := from.Format(time.DateOnly), to.Format(time.DateOnly)
	counters, err := c.store.ListUsage(ctx, fromDay, toDay)
	if err != nil {
		return nil, eris.Wrapf(err, "monitoring: list usage %s..%s", fromDay, toDay)
	}
	r := c.priced(aggregate(fromDay, toDay, counters))
	return &r, nil
}

func (c *Collector) priced(r Rollup) Rollup {
	if c.cost != nil {
		r.CostUSD = c.cost.Estimate(r.APICalls)
	}
	return r
}

func aggregate(from, to string, counters []model.UsageCounter) Rollup {
	r := Rollup{From: from, To: to, APICalls: make(map[string]int)}
	for _, uc := range counters {
		switch {
		case strings.HasPrefix(uc.Metric, model.MetricAPIPrefix):
			r.APICalls[strings.TrimPrefix(uc.Metric, model.MetricAPIPrefix)] += uc.Count
			r.APITotal += uc.Count
		case uc.Metric == model.MetricRateLimitDenied:
			r.Denied += uc.Count
		case uc.Metric == model.MetricBusinessCreated:
			r.Created += uc.Count
		case uc.Metric == model.MetricBusinessUpdated:
			r.Updated += uc.Count
		}
	}
	return r
}

// CallTypes returns the request types present in the rollups, sorted.
func CallTypes(rollups ...Rollup) []string {
	seen := make(map[string]struct{})
	for _, r := range rollups {
		for t := range r.APICalls {
			seen[t] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for t := range seen {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
