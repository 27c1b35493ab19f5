package google

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchText_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/places:searchText", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("X-Goog-Api-Key"))
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "places.id")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "nextPageToken")

		var body SearchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "coffee in Springfield", body.TextQuery)
		assert.Equal(t, 20, body.PageSize)
		require.NotNil(t, body.LocationBias)
		assert.InDelta(t, 39.78, body.LocationBias.Circle.Center.Latitude, 0.001)
		assert.InDelta(t, 5000, body.LocationBias.Circle.Radius, 0.001)

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(SearchTextResponse{
			Places: []Place{
				{
					ID:              "ChIJ-cafe1",
					DisplayName:     DisplayName{Text: "Bean There"},
					Rating:          4.5,
					UserRatingCount: 127,
					Location:        &LatLng{Latitude: 39.79, Longitude: -89.64},
				},
			},
			NextPageToken: "page-2",
		})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), SearchTextRequest{
		TextQuery: "coffee in Springfield",
		PageSize:  20,
		LocationBias: &LocationBias{Circle: Circle{
			Center: LatLng{Latitude: 39.78, Longitude: -89.65},
			Radius: 5000,
		}},
	})

	require.NoError(t, err)
	require.Len(t, resp.Places, 1)
	assert.Equal(t, "ChIJ-cafe1", resp.Places[0].ID)
	assert.Equal(t, "Bean There", resp.Places[0].DisplayName.Text)
	assert.InDelta(t, 4.5, resp.Places[0].Rating, 0.001)
	assert.Equal(t, "page-2", resp.NextPageToken)
}

func TestSearchText_PageTokenSent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body SearchTextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "page-2", body.PageToken)
		assert.Nil(t, body.LocationBias)
		_ = json.NewEncoder(w).Encode(SearchTextResponse{})
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "q", PageToken: "page-2"})

	require.NoError(t, err)
	assert.Empty(t, resp.Places)
	assert.Empty(t, resp.NextPageToken)
}

func TestSearchText_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error": "invalid API key"}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("bad-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "test"})

	require.Error(t, err)
	assert.Nil(t, resp)
	assert.Contains(t, err.Error(), "403")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.StatusCode)
}

func TestSearchText_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"places": [`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.SearchText(context.Background(), SearchTextRequest{TextQuery: "test"})

	var decErr *DecodeError
	require.True(t, errors.As(err, &decErr))
	assert.Equal(t, 12, decErr.BodySize)
}

func TestSearchText_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	resp, err := client.SearchText(ctx, SearchTextRequest{TextQuery: "test"})

	assert.Error(t, err)
	assert.Nil(t, resp)
}

func TestPlaceDetails_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/places/ChIJ-cafe1", r.URL.Path)
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "addressComponents")
		assert.Contains(t, r.Header.Get("X-Goog-FieldMask"), "photos")

		_, _ = w.Write([]byte(`{
			"id": "ChIJ-cafe1",
			"displayName": {"text": "Bean There"},
			"formattedAddress": "1 Main St, Springfield, IL",
			"addressComponents": [
				{"longText": "Springfield", "shortText": "Springfield", "types": ["locality", "political"]}
			],
			"location": {"latitude": 39.79, "longitude": -89.64},
			"types": ["cafe", "food"],
			"websiteUri": "https://beanthere.example",
			"photos": [{"name": "places/ChIJ-cafe1/photos/ref-1", "widthPx": 800, "heightPx": 600}]
		}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	d, err := client.PlaceDetails(context.Background(), "ChIJ-cafe1")

	require.NoError(t, err)
	assert.Equal(t, "Bean There", d.DisplayName.Text)
	require.Len(t, d.AddressComponents, 1)
	assert.Equal(t, []string{"locality", "political"}, d.AddressComponents[0].Types)
	assert.Equal(t, []string{"cafe", "food"}, d.Types)
	require.Len(t, d.Photos, 1)
	assert.Equal(t, "places/ChIJ-cafe1/photos/ref-1", d.Photos[0].Name)
}

func TestPlaceDetails_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	_, err := client.PlaceDetails(context.Background(), "missing")

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestPlacePhotos(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "id,photos", r.Header.Get("X-Goog-FieldMask"))
		_, _ = w.Write([]byte(`{"id":"p1","photos":[{"name":"places/p1/photos/a"},{"name":"places/p1/photos/b"}]}`)) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	photos, err := client.PlacePhotos(context.Background(), "p1")

	require.NoError(t, err)
	require.Len(t, photos, 2)
	assert.Equal(t, "places/p1/photos/b", photos[1].Name)
}

func TestPhotoMedia(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/places/p1/photos/a/media", r.URL.Path)
		assert.Equal(t, "1600", r.URL.Query().Get("maxWidthPx"))
		assert.Empty(t, r.Header.Get("X-Goog-FieldMask"))
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write([]byte("jpeg-bytes")) //nolint:errcheck
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL+"/"), WithTimeout(time.Second))
	m, err := client.PhotoMedia(context.Background(), "places/p1/photos/a", 1600)

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", m.ContentType)
	assert.Equal(t, []byte("jpeg-bytes"), m.Data)
}

func TestPhotoMedia_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewClient("test-key", WithBaseURL(srv.URL))
	m, err := client.PhotoMedia(context.Background(), "places/p1/photos/a", 0)

	assert.Nil(t, m)
	assert.Contains(t, err.Error(), "502")
}
