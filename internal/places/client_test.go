package places

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/ratelimit"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
	"github.com/sells-group/places-sync/pkg/google/mocks"
)

type fakeGate struct {
	mu    sync.Mutex
	deny  bool
	calls []ratelimit.RequestType
}

func (g *fakeGate) Acquire(_ context.Context, t ratelimit.RequestType) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.deny {
		return eris.Wrap(resilience.ErrRateLimited, "ratelimit: per-minute API limit reached")
	}
	g.calls = append(g.calls, t)
	return nil
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*model.SearchCacheEntry
}

func newMemCache() *memCache {
	return &memCache{entries: make(map[string]*model.SearchCacheEntry)}
}

func (c *memCache) GetCachedSearch(_ context.Context, key string) (*model.SearchCacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entries[key], nil
}

func (c *memCache) SetCachedSearch(_ context.Context, e *model.SearchCacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[e.Key] = e
	return nil
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestClient(t *testing.T) (*Client, *mocks.MockClient, *fakeGate, *testClock) {
	t.Helper()
	api := mocks.NewMockClient(t)
	gate := &fakeGate{}
	clock := &testClock{now: time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)}
	c := New(api, gate, newMemCache(), WithClock(clock.Now), WithCenter(39.78, -89.65))
	return c, api, gate, clock
}

func page(ids ...string) *google.SearchTextResponse {
	resp := &google.SearchTextResponse{}
	for _, id := range ids {
		resp.Places = append(resp.Places, google.Place{ID: id, DisplayName: google.DisplayName{Text: "Place " + id}})
	}
	return resp
}

func TestCacheKey(t *testing.T) {
	base := SearchRequest{Query: "coffee", RadiusMeters: 5000, Limit: 20}
	assert.Len(t, CacheKey(base), 64)
	assert.Equal(t, CacheKey(base), CacheKey(SearchRequest{Query: "  coffee ", RadiusMeters: 5000, Limit: 20}))
	assert.NotEqual(t, CacheKey(base), CacheKey(SearchRequest{Query: "Coffee", RadiusMeters: 5000, Limit: 20}),
		"query case is part of the key")

	withToken := base
	withToken.PageToken = "tok-2"
	assert.NotEqual(t, CacheKey(base), CacheKey(withToken))

	wider := base
	wider.RadiusMeters = 10000
	assert.NotEqual(t, CacheKey(base), CacheKey(wider))

	fewer := base
	fewer.Limit = 5
	assert.NotEqual(t, CacheKey(base), CacheKey(fewer))
}

func TestSearch_CacheHitSkipsAPI(t *testing.T) {
	c, api, gate, _ := newTestClient(t)
	ctx := context.Background()

	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == ""
	})).Return(&google.SearchTextResponse{Places: page("a", "b").Places, NextPageToken: "tok-2"}, nil).Once()

	req := SearchRequest{Query: "coffee", RadiusMeters: 5000, Limit: 20}
	first, err := c.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Equal(t, "tok-2", first.NextPageToken)

	second, err := c.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Places, second.Places)
	assert.Equal(t, "tok-2", second.NextPageToken)

	assert.Len(t, gate.calls, 1)
}

func TestSearch_DifferentPageTokenCallsAPI(t *testing.T) {
	c, api, gate, _ := newTestClient(t)
	ctx := context.Background()

	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == ""
	})).Return(page("a"), nil).Once()
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageToken == "tok-2"
	})).Return(page("b"), nil).Once()

	_, err := c.Search(ctx, SearchRequest{Query: "coffee", Limit: 20})
	require.NoError(t, err)
	p2, err := c.Search(ctx, SearchRequest{Query: "coffee", Limit: 20, PageToken: "tok-2"})
	require.NoError(t, err)
	assert.Equal(t, "b", p2.Places[0].ID)
	assert.Len(t, gate.calls, 2)
}

func TestSearch_ExpiredEntryRefetches(t *testing.T) {
	c, api, _, clock := newTestClient(t)
	ctx := context.Background()

	api.On("SearchText", mock.Anything, mock.Anything).Return(page("a"), nil).Twice()

	req := SearchRequest{Query: "coffee", Limit: 20}
	_, err := c.Search(ctx, req)
	require.NoError(t, err)

	clock.Advance(59 * time.Minute)
	hit, err := c.Search(ctx, req)
	require.NoError(t, err)
	assert.True(t, hit.Cached)

	clock.Advance(time.Minute)
	miss, err := c.Search(ctx, req)
	require.NoError(t, err)
	assert.False(t, miss.Cached)
}

func TestSearch_RateLimitedIsDistinct(t *testing.T) {
	c, _, gate, _ := newTestClient(t)
	gate.deny = true

	_, err := c.Search(context.Background(), SearchRequest{Query: "coffee"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrRateLimited)
	assert.NotErrorIs(t, err, resilience.ErrTransientNetwork)
	assert.Equal(t, resilience.KindRateLimited, resilience.ClassifyError(err))
}

func TestSearch_EmptyResultsAreNotAnError(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("SearchText", mock.Anything, mock.Anything).Return(&google.SearchTextResponse{}, nil).Once()

	p, err := c.Search(context.Background(), SearchRequest{Query: "nothing here"})
	require.NoError(t, err)
	assert.NotNil(t, p.Places)
	assert.Empty(t, p.Places)
}

func TestSearch_TruncatesToLimitAndBiases(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("SearchText", mock.Anything, mock.MatchedBy(func(r google.SearchTextRequest) bool {
		return r.PageSize == 2 && r.LocationBias != nil && r.LocationBias.Circle.Radius == 1500
	})).Return(page("a", "b", "c"), nil).Once()

	p, err := c.Search(context.Background(), SearchRequest{Query: "coffee", RadiusMeters: 1500, Limit: 2})
	require.NoError(t, err)
	assert.Len(t, p.Places, 2)
}

func TestSearch_MalformedResponse(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, &google.DecodeError{BodySize: 12, Err: errors.New("unexpected EOF")}).Once()

	_, err := c.Search(context.Background(), SearchRequest{Query: "coffee"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrMalformedResponse)
	assert.True(t, resilience.IsTransient(err))
	assert.Contains(t, err.Error(), "12 byte body")
}

func TestSearch_ServerErrorIsTransient(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("SearchText", mock.Anything, mock.Anything).
		Return(nil, &google.APIError{StatusCode: 503, Body: "unavailable"}).Once()

	_, err := c.Search(context.Background(), SearchRequest{Query: "coffee"})
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrTransientNetwork)

	var te *resilience.TransientError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, 503, te.StatusCode)
}

func TestSearch_EmptyQuery(t *testing.T) {
	c, _, gate, _ := newTestClient(t)
	_, err := c.Search(context.Background(), SearchRequest{Query: "   "})
	require.Error(t, err)
	assert.Empty(t, gate.calls)
}

func TestDetails_NeverCached(t *testing.T) {
	c, api, gate, _ := newTestClient(t)
	api.On("PlaceDetails", mock.Anything, "p1").Return(&google.PlaceDetails{ID: "p1"}, nil).Twice()

	for range 2 {
		d, err := c.Details(context.Background(), "p1")
		require.NoError(t, err)
		assert.Equal(t, "p1", d.ID)
	}
	assert.Equal(t, []ratelimit.RequestType{ratelimit.RequestDetails, ratelimit.RequestDetails}, gate.calls)
}

func TestDetails_Non200IsNotFound(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("PlaceDetails", mock.Anything, "gone").
		Return(nil, &google.APIError{StatusCode: 400, Body: "INVALID_ARGUMENT"}).Once()

	_, err := c.Details(context.Background(), "gone")
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestDetails_UnparsableIsNotFound(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("PlaceDetails", mock.Anything, "p1").
		Return(nil, &google.DecodeError{BodySize: 3, Err: errors.New("bad json")}).Once()

	_, err := c.Details(context.Background(), "p1")
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestDetails_NetworkErrorIsTransient(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("PlaceDetails", mock.Anything, "p1").
		Return(nil, errors.New("dial tcp: connection refused")).Once()

	_, err := c.Details(context.Background(), "p1")
	assert.ErrorIs(t, err, resilience.ErrTransientNetwork)
}

func TestDetails_RateLimited(t *testing.T) {
	c, _, gate, _ := newTestClient(t)
	gate.deny = true

	_, err := c.Details(context.Background(), "p1")
	assert.ErrorIs(t, err, resilience.ErrRateLimited)
}

func TestPhotoList_NotFound(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("PlacePhotos", mock.Anything, "p1").
		Return(nil, &google.APIError{StatusCode: 404}).Once()

	_, err := c.PhotoList(context.Background(), "p1")
	assert.ErrorIs(t, err, resilience.ErrNotFound)
}

func TestDownloadPhoto_GatedAndSized(t *testing.T) {
	api := mocks.NewMockClient(t)
	gate := &fakeGate{}
	c := New(api, gate, nil, WithMaxWidth(800))

	api.On("PhotoMedia", mock.Anything, "places/p1/photos/r1", 800).
		Return(&google.Media{Data: []byte("jpeg"), ContentType: "image/jpeg"}, nil).Once()

	m, err := c.DownloadPhoto(context.Background(), "places/p1/photos/r1")
	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", m.ContentType)
	assert.Equal(t, []ratelimit.RequestType{ratelimit.RequestPhotoMedia}, gate.calls)
}

func TestDownloadPhoto_CanceledContext(t *testing.T) {
	c, api, _, _ := newTestClient(t)
	api.On("PhotoMedia", mock.Anything, "r1", 1600).Return(nil, eris.Wrap(context.Canceled, "google: send request")).Once()

	_, err := c.DownloadPhoto(context.Background(), "r1")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, resilience.ErrTransientNetwork)
}
