// Package ratelimit gates every outbound Places API call through one shared
// daily + rolling per-minute budget.
package ratelimit

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

// RequestType buckets API calls for daily accounting.
type RequestType string

const (
	RequestSearch     RequestType = "search"
	RequestDetails    RequestType = "details"
	RequestPhotoList  RequestType = "photo_list"
	RequestPhotoMedia RequestType = "photo_media"
)

// AllRequestTypes lists every bucket in reporting order.
func AllRequestTypes() []RequestType {
	return []RequestType{RequestSearch, RequestDetails, RequestPhotoList, RequestPhotoMedia}
}

// Metric returns the usage counter name for the request type.
func (t RequestType) Metric() string {
	return model.MetricAPIPrefix + string(t)
}

const minuteWindow = 60 * time.Second

// Gate is the combined allow-and-record check every API call site uses.
type Gate interface {
	Acquire(ctx context.Context, t RequestType) error
}

// UsageStore persists daily counters so the daily ceiling survives restarts.
type UsageStore interface {
	IncrementUsage(ctx context.Context, day, metric string, delta int) error
	GetUsage(ctx context.Context, day string) (map[string]int, error)
}

// Config holds the ceilings. Zero disables a ceiling.
type Config struct {
	DailyLimit     int
	PerMinuteLimit int
	DailyByType    map[string]int
	Location       *time.Location
}

// DefaultConfig returns the stock ceilings: 100,000/day and 60/minute.
func DefaultConfig() Config {
	return Config{
		DailyLimit:     100000,
		PerMinuteLimit: 60,
		Location:       time.UTC,
	}
}

// Usage is a point-in-time view of the limiter state.
type Usage struct {
	Day            string         `json:"day"`
	DailyTotal     int            `json:"daily_total"`
	DailyLimit     int            `json:"daily_limit"`
	DailyByType    map[string]int `json:"daily_by_type"`
	PerMinute      int            `json:"per_minute"`
	PerMinuteLimit int            `json:"per_minute_limit"`
	LastDenial     string         `json:"last_denial,omitempty"`
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		l.now = now
	}
}

// WithUsageStore persists recorded calls and denials.
func WithUsageStore(s UsageStore) Option {
	return func(l *Limiter) {
		l.usage = s
	}
}

// Limiter tracks call volume in two independent windows: calendar-day
// counters per request type and a rolling 60-second timestamp list.
type Limiter struct {
	cfg   Config
	now   func() time.Time
	usage UsageStore
	log   *zap.Logger

	mu         sync.Mutex
	day        string
	daily      map[RequestType]int
	total      int
	window     []time.Time
	denying    bool
	lastDenial string
}

// New creates a Limiter.
func New(cfg Config, opts ...Option) *Limiter {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	l := &Limiter{
		cfg:   cfg,
		now:   time.Now,
		daily: make(map[RequestType]int),
		log:   zap.L().With(zap.String("component", "ratelimit")),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Restore loads today's persisted counters. Call once at startup.
func (l *Limiter) Restore(ctx context.Context) error {
	if l.usage == nil {
		return nil
	}
	day := l.today(l.now())
	counts, err := l.usage.GetUsage(ctx, day)
	if err != nil {
		return eris.Wrap(err, "ratelimit: restore usage")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.day = day
	l.daily = make(map[RequestType]int)
	l.total = 0
	for metric, n := range counts {
		name, ok := strings.CutPrefix(metric, model.MetricAPIPrefix)
		if !ok {
			continue
		}
		l.daily[RequestType(name)] += n
		l.total += n
	}
	l.log.Info("restored daily usage", zap.String("day", day), zap.Int("total", l.total))
	return nil
}

// Allow reports whether a call of type t may be made now. It does not
// consume a slot; use Acquire to check and record atomically.
func (l *Limiter) Allow(t RequestType) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.check(t, l.now()) == ""
}

// Record counts one accepted call of type t.
func (l *Limiter) Record(t RequestType) {
	l.mu.Lock()
	day := l.record(t, l.now())
	l.mu.Unlock()

	l.persist(context.Background(), day, t.Metric())
}

// Acquire checks both windows and, if allowed, records the call in the same
// critical section. A denial returns an error matching
// resilience.ErrRateLimited; it is an expected outcome, not a fault.
func (l *Limiter) Acquire(ctx context.Context, t RequestType) error {
	l.mu.Lock()
	now := l.now()
	reason := l.check(t, now)
	if reason != "" {
		day := l.day
		first := !l.denying
		l.denying = true
		l.lastDenial = reason
		l.mu.Unlock()

		if first {
			l.log.Warn("api call denied",
				zap.String("request_type", string(t)),
				zap.String("reason", reason),
			)
		}
		l.persist(ctx, day, model.MetricRateLimitDenied)
		return eris.Wrapf(resilience.ErrRateLimited, "ratelimit: %s", reason)
	}
	day := l.record(t, now)
	l.mu.Unlock()

	l.persist(ctx, day, t.Metric())
	return nil
}

// Usage returns a snapshot of both windows.
func (l *Limiter) Usage() Usage {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.rollover(now)
	l.purge(now)

	byType := make(map[string]int, len(l.daily))
	for t, n := range l.daily {
		byType[string(t)] = n
	}
	return Usage{
		Day:            l.day,
		DailyTotal:     l.total,
		DailyLimit:     l.cfg.DailyLimit,
		DailyByType:    byType,
		PerMinute:      len(l.window),
		PerMinuteLimit: l.cfg.PerMinuteLimit,
		LastDenial:     l.lastDenial,
	}
}

// LastDenial returns the most recent human-readable denial message.
func (l *Limiter) LastDenial() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastDenial
}

// check returns a denial reason, or "" when the call is allowed. Caller holds mu.
func (l *Limiter) check(t RequestType, now time.Time) string {
	l.rollover(now)
	l.purge(now)

	if l.cfg.DailyLimit > 0 && l.total >= l.cfg.DailyLimit {
		return fmt.Sprintf("daily API limit reached (%d/%d); resets at midnight %s",
			l.total, l.cfg.DailyLimit, l.cfg.Location)
	}
	if limit := l.cfg.DailyByType[string(t)]; limit > 0 && l.daily[t] >= limit {
		return fmt.Sprintf("daily %s limit reached (%d/%d)", t, l.daily[t], limit)
	}
	if l.cfg.PerMinuteLimit > 0 && len(l.window) >= l.cfg.PerMinuteLimit {
		wait := minuteWindow - now.Sub(l.window[0])
		return fmt.Sprintf("per-minute API limit reached (%d/%d); retry in %s",
			len(l.window), l.cfg.PerMinuteLimit, wait.Round(time.Second))
	}
	return ""
}

// record counts a call and returns the day it was counted in. Caller holds mu.
func (l *Limiter) record(t RequestType, now time.Time) string {
	l.rollover(now)
	l.daily[t]++
	l.total++
	l.window = append(l.window, now)
	l.denying = false
	return l.day
}

// rollover hard-resets daily counters when the calendar day changes.
func (l *Limiter) rollover(now time.Time) {
	day := l.today(now)
	if day == l.day {
		return
	}
	if l.day != "" {
		l.log.Info("daily usage reset", zap.String("previous_day", l.day), zap.Int("previous_total", l.total))
	}
	l.day = day
	l.daily = make(map[RequestType]int)
	l.total = 0
	l.denying = false
}

// purge drops timestamps at least one minute old.
func (l *Limiter) purge(now time.Time) {
	i := 0
	for i < len(l.window) && now.Sub(l.window[i]) >= minuteWindow {
		i++
	}
	if i > 0 {
		l.window = append(l.window[:0], l.window[i:]...)
	}
}

func (l *Limiter) today(now time.Time) string {
	return now.In(l.cfg.Location).Format(time.DateOnly)
}

func (l *Limiter) persist(ctx context.Context, day, metric string) {
	if l.usage == nil {
		return
	}
	if err := l.usage.IncrementUsage(ctx, day, metric, 1); err != nil {
		l.log.Warn("persist usage counter failed",
			zap.String("day", day),
			zap.String("metric", metric),
			zap.Error(err),
		)
	}
}
