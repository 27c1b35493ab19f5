package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/business"
	"github.com/sells-group/places-sync/internal/model"
)

// CounterStore increments daily usage counters.
type CounterStore interface {
	IncrementUsage(ctx context.Context, day, metric string, delta int) error
}

// UsageRecorder counts created and updated businesses. Register Record with
// Upserter.OnBusinessProcessed.
type UsageRecorder struct {
	store CounterStore
	loc   *time.Location
	now   func() time.Time
	log   *zap.Logger
}

// NewUsageRecorder creates a recorder that buckets events by calendar day
// in loc.
func NewUsageRecorder(s CounterStore, loc *time.Location) *UsageRecorder {
	if loc == nil {
		loc = time.UTC
	}
	return &UsageRecorder{
		store: s,
		loc:   loc,
		now:   time.Now,
		log:   zap.L().With(zap.String("component", "monitoring.recorder")),
	}
}

// Record is a business.Listener.
func (r *UsageRecorder) Record(ctx context.Context, ev business.Event) {
	metric := model.MetricBusinessCreated
	if ev.WasUpdate {
		metric = model.MetricBusinessUpdated
	}
	day := r.now().In(r.loc).Format(time.DateOnly)
	if err := r.store.IncrementUsage(ctx, day, metric, 1); err != nil {
		r.log.Warn("record business usage failed",
			zap.String("business_id", ev.ID),
			zap.String("metric", metric),
			zap.Error(err),
		)
	}
}
