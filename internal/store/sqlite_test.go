package store

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "test.db")
	st, err := NewSQLite(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func strPtr(s string) *string { return &s }

// --- Businesses ---

func TestSQLite_Business_CreateAndGet(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b := &model.Business{
		PlaceID:    "place-1",
		Name:       "Bean There",
		Address:    "1 Main St",
		Locality:   "Springfield",
		Latitude:   39.78,
		Longitude:  -89.65,
		Categories: []string{"cafe", "food"},
		Rating:     4.5,
	}
	require.NoError(t, st.CreateBusiness(ctx, b))
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, model.BusinessStatusCreated, b.Status)

	got, err := st.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "Bean There", got.Name)
	assert.Equal(t, []string{"cafe", "food"}, got.Categories)
	assert.Empty(t, got.PhotoRefs)
	assert.Nil(t, got.PrimaryPhoto)
	assert.Equal(t, model.BusinessStatusCreated, got.Status)

	found, err := st.FindBusinessesByPlaceID(ctx, "place-1")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, b.ID, found[0].ID)
}

func TestSQLite_Business_DuplicatePlaceIDRejected(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.CreateBusiness(ctx, &model.Business{PlaceID: "dup", Name: "A"}))
	assert.Error(t, st.CreateBusiness(ctx, &model.Business{PlaceID: "dup", Name: "B"}))
}

func TestSQLite_Business_GetMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.GetBusiness(context.Background(), "nope")
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestSQLite_Business_UpdateOverwritesUpstreamFields(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	b := &model.Business{PlaceID: "p", Name: "Old", Website: "https://old.example", Categories: []string{"bar"}}
	require.NoError(t, st.CreateBusiness(ctx, b))
	require.NoError(t, st.SetBusinessPhotos(ctx, b.ID, []string{"r1"}, strPtr("r1")))

	b.Name = "New"
	b.Website = ""
	b.Categories = nil
	require.NoError(t, st.UpdateBusiness(ctx, b))

	got, err := st.GetBusiness(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, "New", got.Name)
	assert.Empty(t, got.Website)
	assert.Empty(t, got.Categories)
	// Photo fields belong to the photo ingestor.
	assert.Equal(t, []string{"r1"}, got.PhotoRefs)
	require.NotNil(t, got.PrimaryPhoto)
	assert.Equal(t, "r1", *got.PrimaryPhoto)
}

func TestSQLite_Business_UpdateMissing(t *testing.T) {
	st := newTestSQLiteStore(t)

	err := st.UpdateBusiness(context.Background(), &model.Business{ID: "ghost"})
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestSQLite_ListBusinesses_Filters(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, b := range []*model.Business{
		{PlaceID: "1", Name: "Bean There", Locality: "Springfield", Categories: []string{"cafe"}, Latitude: 39.781, Longitude: -89.65},
		{PlaceID: "2", Name: "Brew Pub", Locality: "Springfield", Categories: []string{"bar"}, Latitude: 39.80, Longitude: -89.65},
		{PlaceID: "3", Name: "Far Cafe", Locality: "Chicago", Categories: []string{"cafe"}, Latitude: 41.88, Longitude: -87.63},
	} {
		require.NoError(t, st.CreateBusiness(ctx, b))
	}

	list, err := st.ListBusinesses(ctx, model.BusinessFilter{Locality: "springfield"})
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = st.ListBusinesses(ctx, model.BusinessFilter{Category: "cafe"})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Bean There", list[0].Name)
	assert.Equal(t, "Far Cafe", list[1].Name)

	list, err = st.ListBusinesses(ctx, model.BusinessFilter{Query: "brew"})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "2", list[0].PlaceID)

	list, err = st.ListBusinesses(ctx, model.BusinessFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Brew Pub", list[0].Name)
}

func TestSQLite_ListBusinesses_Radius(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	for _, b := range []*model.Business{
		{PlaceID: "mid", Name: "A Mid", Latitude: 39.80, Longitude: -89.65},
		{PlaceID: "near", Name: "Z Near", Latitude: 39.781, Longitude: -89.65},
		{PlaceID: "corner", Name: "Corner", Latitude: 39.82, Longitude: -89.60},
		{PlaceID: "far", Name: "Far", Latitude: 41.88, Longitude: -87.63},
	} {
		require.NoError(t, st.CreateBusiness(ctx, b))
	}

	list, err := st.ListBusinesses(ctx, model.BusinessFilter{
		Center:       &model.LatLng{Latitude: 39.78, Longitude: -89.65},
		RadiusMeters: 5000,
	})
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "near", list[0].PlaceID)
	assert.Equal(t, "mid", list[1].PlaceID)

	list, err = st.ListBusinesses(ctx, model.BusinessFilter{
		Center:       &model.LatLng{Latitude: 39.78, Longitude: -89.65},
		RadiusMeters: 5000,
		Offset:       1,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "mid", list[0].PlaceID)
}

// --- Localities ---

func TestSQLite_EnsureLocality(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	created, err := st.EnsureLocality(ctx, model.Locality{Name: "Springfield", Slug: "springfield"})
	require.NoError(t, err)
	assert.True(t, created)

	created, err = st.EnsureLocality(ctx, model.Locality{Name: "Springfield", Slug: "springfield"})
	require.NoError(t, err)
	assert.False(t, created)

	locs, err := st.ListLocalities(ctx)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	assert.Equal(t, "springfield", locs[0].Slug)
}

// --- Media ---

func TestSQLite_Media_Lifecycle(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	m := &model.MediaAsset{PhotoRef: "ref-1", BusinessID: "b1", BlobKey: "b1/ref-1.jpg", ContentType: "image/jpeg", SizeBytes: 2048}
	require.NoError(t, st.CreateMedia(ctx, m))
	assert.NotEmpty(t, m.ID)

	got, err := st.GetMediaByRef(ctx, "ref-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, int64(2048), got.SizeBytes)
	assert.Nil(t, got.OptimizedAt)

	// A reference maps to at most one asset.
	assert.Error(t, st.CreateMedia(ctx, &model.MediaAsset{PhotoRef: "ref-1", BusinessID: "b2", BlobKey: "x"}))

	now := time.Now().UTC()
	got.Width, got.Height, got.OptimizedAt = 800, 600, &now
	require.NoError(t, st.UpdateMedia(ctx, got))

	list, err := st.ListMedia(ctx, "b1")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 800, list[0].Width)
	assert.NotNil(t, list[0].OptimizedAt)

	require.NoError(t, st.DeleteMedia(ctx, got.ID))
	missing, err := st.GetMediaByRef(ctx, "ref-1")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

// --- Queue ---

func TestSQLite_Queue_FIFOAndRunTotal(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	run, err := st.GetQueueRun(ctx)
	require.NoError(t, err)
	assert.Nil(t, run)

	var tasks []model.Task
	for i := 0; i < 3; i++ {
		payload, _ := json.Marshal(model.PhotoImportPayload{BusinessID: "b", PlaceID: string(rune('a' + i))})
		tasks = append(tasks, model.Task{Type: model.TaskPhotoImport, Payload: payload})
	}
	stored, err := st.EnqueueTasks(ctx, tasks)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Less(t, stored[0].Seq, stored[1].Seq)

	run, err = st.GetQueueRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, run.Total)

	// Appending mid-run grows the total.
	_, err = st.EnqueueTasks(ctx, []model.Task{{Type: model.TaskPhotoOptimization}})
	require.NoError(t, err)
	run, err = st.GetQueueRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, run.Total)

	head, err := st.PeekTasks(ctx, 2)
	require.NoError(t, err)
	require.Len(t, head, 2)
	assert.Equal(t, stored[0].ID, head[0].ID)
	assert.Equal(t, stored[1].ID, head[1].ID)
	assert.JSONEq(t, string(stored[0].Payload), string(head[0].Payload))

	for _, id := range []string{stored[0].ID, stored[1].ID, stored[2].ID} {
		require.NoError(t, st.DeleteTask(ctx, id))
	}
	rest, err := st.PeekTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, model.TaskPhotoOptimization, rest[0].Type)
	assert.JSONEq(t, `{}`, string(rest[0].Payload))
	require.NoError(t, st.DeleteTask(ctx, rest[0].ID))

	// A new enqueue on an empty queue starts a new run.
	_, err = st.EnqueueTasks(ctx, []model.Task{{Type: model.TaskPhotoOptimization}})
	require.NoError(t, err)
	run, err = st.GetQueueRun(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, run.Total)

	n, err := st.CountTasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSQLite_Queue_RejectsUnknownType(t *testing.T) {
	st := newTestSQLiteStore(t)

	_, err := st.EnqueueTasks(context.Background(), []model.Task{{Type: "reindex"}})
	assert.Error(t, err)
}

func TestSQLite_TaskFailures(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, st.RecordTaskFailure(ctx, &model.TaskFailure{
		TaskID: "t1", Type: model.TaskPhotoImport, Payload: json.RawMessage(`{"business_id":"b"}`),
		Error: "boom", ErrorKind: resilience.KindPermanent,
		FailedAt: time.Now().UTC().Add(-time.Minute),
	}))
	require.NoError(t, st.RecordTaskFailure(ctx, &model.TaskFailure{
		TaskID: "t2", Type: model.TaskPhotoOptimization, Payload: json.RawMessage(`{}`),
		Error: "bad", ErrorKind: resilience.KindNotFound,
	}))

	list, err := st.ListTaskFailures(ctx, 10)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "t2", list[0].TaskID)
	assert.Equal(t, resilience.KindNotFound, list[0].ErrorKind)
}

// --- Usage counters ---

func TestSQLite_Usage(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, st.IncrementUsage(ctx, "2026-03-10", "api.search", 1))
		}()
	}
	wg.Wait()
	require.NoError(t, st.IncrementUsage(ctx, "2026-03-10", "api.details", 5))
	require.NoError(t, st.IncrementUsage(ctx, "2026-03-11", "api.search", 2))

	day, err := st.GetUsage(ctx, "2026-03-10")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"api.search": 20, "api.details": 5}, day)

	all, err := st.ListUsage(ctx, "2026-03-10", "2026-03-11")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	one, err := st.ListUsage(ctx, "2026-03-11", "2026-03-11")
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, 2, one[0].Count)
}

// --- Search cache ---

func TestSQLite_SearchCache(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	miss, err := st.GetCachedSearch(ctx, "k1")
	require.NoError(t, err)
	assert.Nil(t, miss)

	require.NoError(t, st.SetCachedSearch(ctx, &model.SearchCacheEntry{
		Key: "k1", Data: []byte(`{"places":[]}`), CachedAt: now, ExpiresAt: now.Add(time.Hour),
	}))
	require.NoError(t, st.SetCachedSearch(ctx, &model.SearchCacheEntry{
		Key: "k2", Data: []byte(`{}`), CachedAt: now.Add(-2 * time.Hour), ExpiresAt: now.Add(-time.Hour),
	}))

	hit, err := st.GetCachedSearch(ctx, "k1")
	require.NoError(t, err)
	require.NotNil(t, hit)
	assert.Equal(t, `{"places":[]}`, string(hit.Data))
	assert.True(t, hit.ExpiresAt.Equal(now.Add(time.Hour)))
	assert.False(t, hit.Expired(now))

	n, err := st.DeleteExpiredSearches(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	gone, err := st.GetCachedSearch(ctx, "k2")
	require.NoError(t, err)
	assert.Nil(t, gone)
}
