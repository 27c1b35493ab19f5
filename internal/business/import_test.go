package business

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/places"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
)

type fakeSearcher struct {
	mu       sync.Mutex
	pages    map[string]*places.SearchPage // keyed by query|token
	missing  map[string]bool
	limitAt  int
	searches int
}

func (f *fakeSearcher) Search(_ context.Context, req places.SearchRequest) (*places.SearchPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searches++
	if f.limitAt > 0 && f.searches >= f.limitAt {
		return nil, eris.Wrap(resilience.ErrRateLimited, "places: search")
	}
	p, ok := f.pages[req.Query+"|"+req.PageToken]
	if !ok {
		return &places.SearchPage{Places: []google.Place{}}, nil
	}
	return p, nil
}

func (f *fakeSearcher) Details(_ context.Context, placeID string) (*google.PlaceDetails, error) {
	if f.missing[placeID] {
		return nil, eris.Wrapf(resilience.ErrNotFound, "places: details %s", placeID)
	}
	return detail(placeID, "Place "+placeID), nil
}

type fakeEnqueuer struct {
	tasks []model.Task
}

func (f *fakeEnqueuer) Enqueue(_ context.Context, tasks ...model.Task) (int, error) {
	f.tasks = append(f.tasks, tasks...)
	return len(tasks), nil
}

func results(ids ...string) []google.Place {
	out := make([]google.Place, len(ids))
	for i, id := range ids {
		out[i] = google.Place{ID: id}
	}
	return out
}

func TestImport_PagesDedupesAndEnqueues(t *testing.T) {
	st := newTestStore(t)
	s := &fakeSearcher{
		pages: map[string]*places.SearchPage{
			"coffee|":       {Places: results("p1", "p2"), NextPageToken: "t2"},
			"coffee|t2":     {Places: results("p3")},
			"espresso bar|": {Places: results("p2", "p4")},
		},
		missing: map[string]bool{"p3": true},
	}
	q := &fakeEnqueuer{}
	im := NewImporter(s, NewUpserter(st), q)

	report, err := im.Import(context.Background(), ImportOptions{
		Queries:       []Query{{Text: "coffee"}, {Text: "espresso bar"}},
		MaxPages:      3,
		Concurrency:   2,
		EnqueuePhotos: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 3, report.Pages)
	assert.Equal(t, 4, report.Found)
	assert.False(t, report.RateLimited)
	require.Len(t, report.DetailErrors, 1)
	assert.Equal(t, "p3", report.DetailErrors[0].ID)
	assert.Equal(t, resilience.KindNotFound, report.DetailErrors[0].Kind)

	assert.Equal(t, 3, report.Batch.Created)
	assert.Equal(t, 3, report.PhotoTasks)
	require.Len(t, q.tasks, 3)
	assert.Equal(t, model.TaskPhotoImport, q.tasks[0].Type)
	assert.Contains(t, string(q.tasks[0].Payload), `"place_id":"p1"`)
}

func TestImport_RateLimitStopsSearchButKeepsResults(t *testing.T) {
	st := newTestStore(t)
	s := &fakeSearcher{
		pages: map[string]*places.SearchPage{
			"coffee|": {Places: results("p1"), NextPageToken: "t2"},
		},
		limitAt: 2,
	}
	im := NewImporter(s, NewUpserter(st), nil)

	report, err := im.Import(context.Background(), ImportOptions{
		Queries:  []Query{{Text: "coffee"}, {Text: "tea"}},
		MaxPages: 5,
	})
	require.NoError(t, err)
	assert.True(t, report.RateLimited)
	assert.Equal(t, 2, s.searches, "no further searches after a denial")
	assert.Equal(t, 1, report.Batch.Created)
	require.Len(t, report.SearchErrors, 1)
}

func TestImport_PhotosWithoutQueueIsConfigError(t *testing.T) {
	im := NewImporter(&fakeSearcher{}, NewUpserter(&fakeStore{}), nil)
	_, err := im.Import(context.Background(), ImportOptions{EnqueuePhotos: true})
	assert.ErrorIs(t, err, resilience.ErrConfiguration)
}

func TestLoadQueries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
queries:
  - query: coffee in Springfield
    radius_meters: 5000
    limit: 10
  - query: "  "
  - query: bakery
`), 0o600))

	qs, err := LoadQueries(path)
	require.NoError(t, err)
	require.Len(t, qs, 2)
	assert.Equal(t, Query{Text: "coffee in Springfield", RadiusMeters: 5000, Limit: 10}, qs[0])
	assert.Equal(t, "bakery", qs[1].Text)
}

func TestLoadQueries_Empty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queries.yaml")
	require.NoError(t, os.WriteFile(path, []byte("queries: []\n"), 0o600))

	_, err := LoadQueries(path)
	assert.ErrorIs(t, err, resilience.ErrConfiguration)
}
