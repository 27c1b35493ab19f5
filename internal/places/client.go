// Package places wraps the Google Places client with the shared call gate,
// a search page cache and the outcome taxonomy used by the rest of the core.
package places

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/ratelimit"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
)

const (
	// DefaultCacheTTL is how long a search page is served from cache.
	DefaultCacheTTL = time.Hour

	// MaxPageSize is the largest page the upstream text search returns.
	MaxPageSize = 20
)

// Cache stores search pages keyed by a hash of the request parameters.
type Cache interface {
	GetCachedSearch(ctx context.Context, key string) (*model.SearchCacheEntry, error)
	SetCachedSearch(ctx context.Context, entry *model.SearchCacheEntry) error
}

// SearchRequest is one page request of a text search.
type SearchRequest struct {
	Query        string `json:"query" validate:"required"`
	RadiusMeters int    `json:"radius_meters" validate:"gte=0"`
	Limit        int    `json:"limit" validate:"gte=0,lte=20"`
	PageToken    string `json:"page_token,omitempty"`
}

// SearchPage is one page of search results.
type SearchPage struct {
	Places        []google.Place `json:"places"`
	NextPageToken string         `json:"next_page_token,omitempty"`
	Cached        bool           `json:"cached"`
}

// Option configures a Client.
type Option func(*Client)

// WithCacheTTL overrides DefaultCacheTTL.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.ttl = d
		}
	}
}

// WithCenter biases searches toward a point. The request radius sets the
// size of the bias circle.
func WithCenter(lat, lng float64) Option {
	return func(c *Client) {
		c.center = &google.LatLng{Latitude: lat, Longitude: lng}
	}
}

// WithMaxWidth sets the width requested for photo downloads.
func WithMaxWidth(px int) Option {
	return func(c *Client) {
		c.maxWidthPx = px
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// Client issues gated Places API calls. Every call passes the shared
// rate-limit gate first; only search pages are cached.
type Client struct {
	api        google.Client
	gate       ratelimit.Gate
	cache      Cache
	ttl        time.Duration
	center     *google.LatLng
	maxWidthPx int
	now        func() time.Time
	log        *zap.Logger
}

// New creates a Client. cache may be nil to disable caching.
func New(api google.Client, gate ratelimit.Gate, cache Cache, opts ...Option) *Client {
	c := &Client{
		api:        api,
		gate:       gate,
		cache:      cache,
		ttl:        DefaultCacheTTL,
		maxWidthPx: 1600,
		now:        time.Now,
		log:        zap.L().With(zap.String("component", "places")),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// CacheKey returns the SHA-256 hex of the search parameters. The query is
// trimmed but keeps its case, since upstream ranking can depend on it.
func CacheKey(req SearchRequest) string {
	normalized := fmt.Sprintf("%s|%d|%d|%s",
		strings.TrimSpace(req.Query),
		req.RadiusMeters,
		req.Limit,
		req.PageToken,
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// Search returns one page of text search results. A cached page younger than
// the TTL is returned without an API call. A gate denial returns an error
// matching resilience.ErrRateLimited, which is distinct from an empty page.
func (c *Client) Search(ctx context.Context, req SearchRequest) (*SearchPage, error) {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return nil, eris.New("places: search query is required")
	}
	if req.Limit <= 0 || req.Limit > MaxPageSize {
		req.Limit = MaxPageSize
	}

	key := CacheKey(req)
	if page := c.cached(ctx, key); page != nil {
		return page, nil
	}

	if err := c.gate.Acquire(ctx, ratelimit.RequestSearch); err != nil {
		return nil, eris.Wrap(err, "places: search")
	}

	apiReq := google.SearchTextRequest{
		TextQuery: req.Query,
		PageSize:  req.Limit,
		PageToken: req.PageToken,
	}
	if c.center != nil && req.RadiusMeters > 0 {
		apiReq.LocationBias = &google.LocationBias{
			Circle: google.Circle{Center: *c.center, Radius: float64(req.RadiusMeters)},
		}
	}

	resp, err := c.api.SearchText(ctx, apiReq)
	if err != nil {
		return nil, c.failure("search", req.Query, err)
	}

	page := &SearchPage{Places: resp.Places, NextPageToken: resp.NextPageToken}
	if len(page.Places) > req.Limit {
		page.Places = page.Places[:req.Limit]
	}
	if page.Places == nil {
		page.Places = []google.Place{}
	}
	c.store(ctx, key, page)

	c.log.Debug("search page fetched",
		zap.String("query", req.Query),
		zap.Int("results", len(page.Places)),
		zap.Bool("has_next", page.NextPageToken != ""),
	)
	return page, nil
}

// Details fetches the authoritative record for a place. Detail records are
// never cached. Any non-200 status or unparsable body yields an error
// matching resilience.ErrNotFound.
func (c *Client) Details(ctx context.Context, placeID string) (*google.PlaceDetails, error) {
	if err := c.gate.Acquire(ctx, ratelimit.RequestDetails); err != nil {
		return nil, eris.Wrapf(err, "places: details %s", placeID)
	}

	d, err := c.api.PlaceDetails(ctx, placeID)
	if err == nil {
		return d, nil
	}

	var apiErr *google.APIError
	var decErr *google.DecodeError
	switch {
	case errors.As(err, &apiErr):
		c.log.Info("details not available",
			zap.String("place_id", placeID),
			zap.Int("status", apiErr.StatusCode),
		)
		return nil, eris.Wrapf(resilience.ErrNotFound, "places: details %s: status %d", placeID, apiErr.StatusCode)
	case errors.As(err, &decErr):
		c.log.Warn("details body unparsable",
			zap.String("place_id", placeID),
			zap.Int("body_size", decErr.BodySize),
		)
		return nil, eris.Wrapf(resilience.ErrNotFound, "places: details %s: unparsable body", placeID)
	}
	return nil, c.failure("details", placeID, err)
}

// PhotoList returns the photo references attached to a place, in upstream order.
func (c *Client) PhotoList(ctx context.Context, placeID string) ([]google.Photo, error) {
	if err := c.gate.Acquire(ctx, ratelimit.RequestPhotoList); err != nil {
		return nil, eris.Wrapf(err, "places: photo list %s", placeID)
	}

	photos, err := c.api.PlacePhotos(ctx, placeID)
	if err != nil {
		return nil, c.failure("photo list", placeID, err)
	}
	return photos, nil
}

// DownloadPhoto fetches the binary for one photo reference.
func (c *Client) DownloadPhoto(ctx context.Context, photoRef string) (*google.Media, error) {
	if err := c.gate.Acquire(ctx, ratelimit.RequestPhotoMedia); err != nil {
		return nil, eris.Wrapf(err, "places: photo media %s", photoRef)
	}

	media, err := c.api.PhotoMedia(ctx, photoRef, c.maxWidthPx)
	if err != nil {
		return nil, c.failure("photo media", photoRef, err)
	}
	return media, nil
}

// failure maps a client error onto the outcome taxonomy: 404 is NotFound,
// an unparsable body is MalformedResponse and everything else is transient.
func (c *Client) failure(op, id string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return eris.Wrapf(err, "places: %s %s", op, id)
	}

	var apiErr *google.APIError
	var decErr *google.DecodeError
	switch {
	case errors.As(err, &decErr):
		c.log.Warn("malformed response",
			zap.String("op", op),
			zap.String("id", id),
			zap.Int("body_size", decErr.BodySize),
		)
		return eris.Wrapf(resilience.ErrMalformedResponse, "places: %s %s: %d byte body", op, id, decErr.BodySize)
	case errors.As(err, &apiErr) && apiErr.StatusCode == 404:
		c.log.Info("upstream not found", zap.String("op", op), zap.String("id", id))
		return eris.Wrapf(resilience.ErrNotFound, "places: %s %s", op, id)
	case errors.As(err, &apiErr):
		c.log.Warn("upstream error",
			zap.String("op", op),
			zap.String("id", id),
			zap.Int("status", apiErr.StatusCode),
		)
		return eris.Wrapf(resilience.NewTransientError(err, apiErr.StatusCode), "places: %s %s", op, id)
	default:
		c.log.Warn("upstream call failed",
			zap.String("op", op),
			zap.String("id", id),
			zap.Error(err),
		)
		return eris.Wrapf(resilience.NewTransientError(err, 0), "places: %s %s", op, id)
	}
}

// cached returns a fresh cached page, or nil. Cache read failures are
// treated as misses.
func (c *Client) cached(ctx context.Context, key string) *SearchPage {
	if c.cache == nil {
		return nil
	}
	entry, err := c.cache.GetCachedSearch(ctx, key)
	if err != nil {
		c.log.Warn("search cache read failed", zap.Error(err))
		return nil
	}
	if entry == nil || entry.Expired(c.now()) {
		return nil
	}

	var page SearchPage
	if err := json.Unmarshal(entry.Data, &page); err != nil {
		c.log.Warn("search cache entry unreadable", zap.Int("body_size", len(entry.Data)), zap.Error(err))
		return nil
	}
	page.Cached = true
	c.log.Debug("search cache hit", zap.String("key", key[:12]))
	return &page
}

func (c *Client) store(ctx context.Context, key string, page *SearchPage) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(page)
	if err != nil {
		c.log.Warn("search cache encode failed", zap.Error(err))
		return
	}
	now := c.now().UTC()
	entry := &model.SearchCacheEntry{
		Key:       key,
		Data:      data,
		CachedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	if err := c.cache.SetCachedSearch(ctx, entry); err != nil {
		c.log.Warn("search cache write failed", zap.Error(err))
	}
}
