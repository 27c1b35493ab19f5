package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/places-sync/internal/geo"
	"github.com/sells-group/places-sync/internal/model"
)

const defaultListLimit = 100

// Store defines the persistence interface for the place ingestion core.
type Store interface {
	// Businesses
	FindBusinessesByPlaceID(ctx context.Context, placeID string) ([]model.Business, error)
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	CreateBusiness(ctx context.Context, b *model.Business) error
	UpdateBusiness(ctx context.Context, b *model.Business) error
	SetBusinessPhotos(ctx context.Context, businessID string, refs []string, primary *string) error
	ListBusinesses(ctx context.Context, filter model.BusinessFilter) ([]model.Business, error)

	// Localities
	EnsureLocality(ctx context.Context, loc model.Locality) (bool, error)
	ListLocalities(ctx context.Context) ([]model.Locality, error)

	// Media
	GetMediaByRef(ctx context.Context, photoRef string) (*model.MediaAsset, error)
	ListMedia(ctx context.Context, businessID string) ([]model.MediaAsset, error)
	CreateMedia(ctx context.Context, m *model.MediaAsset) error
	UpdateMedia(ctx context.Context, m *model.MediaAsset) error
	DeleteMedia(ctx context.Context, id string) error

	// Queue
	EnqueueTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error)
	PeekTasks(ctx context.Context, limit int) ([]model.Task, error)
	DeleteTask(ctx context.Context, id string) error
	CountTasks(ctx context.Context) (int, error)
	GetQueueRun(ctx context.Context) (*model.QueueRun, error)
	RecordTaskFailure(ctx context.Context, f *model.TaskFailure) error
	ListTaskFailures(ctx context.Context, limit int) ([]model.TaskFailure, error)

	// Usage counters
	IncrementUsage(ctx context.Context, day, metric string, delta int) error
	GetUsage(ctx context.Context, day string) (map[string]int, error)
	ListUsage(ctx context.Context, fromDay, toDay string) ([]model.UsageCounter, error)

	// Search cache
	GetCachedSearch(ctx context.Context, key string) (*model.SearchCacheEntry, error)
	SetCachedSearch(ctx context.Context, entry *model.SearchCacheEntry) error
	DeleteExpiredSearches(ctx context.Context, now time.Time) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// radiusBox returns the SQL prefilter box for a radius filter, or nil.
func radiusBox(f model.BusinessFilter) *geo.Box {
	if f.Center == nil || f.RadiusMeters <= 0 {
		return nil
	}
	b := geo.BoxAround(f.Center.Latitude, f.Center.Longitude, f.RadiusMeters)
	return &b
}

// refineRadius applies the exact distance filter and pagination after a
// bounding-box query. Results come back nearest first.
func refineRadius(list []model.Business, f model.BusinessFilter) []model.Business {
	list = geo.WithinRadius(list, f.Center.Latitude, f.Center.Longitude, f.RadiusMeters)

	limit := f.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if f.Offset >= len(list) {
		return nil
	}
	list = list[f.Offset:]
	if len(list) > limit {
		list = list[:limit]
	}
	return list
}

// prepareTasks fills ids and timestamps and encodes nil payloads as {}.
func prepareTasks(tasks []model.Task, newID func() string, now time.Time) ([]model.Task, error) {
	out := make([]model.Task, len(tasks))
	for i, t := range tasks {
		if !t.Type.Valid() {
			return nil, eris.Errorf("store: unknown task type %q", t.Type)
		}
		if t.ID == "" {
			t.ID = newID()
		}
		if len(t.Payload) == 0 {
			t.Payload = json.RawMessage(`{}`)
		}
		t.EnqueuedAt = now
		out[i] = t
	}
	return out, nil
}

func marshalStrings(v []string) ([]byte, error) {
	if v == nil {
		v = []string{}
	}
	return json.Marshal(v)
}
