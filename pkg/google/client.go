package google

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

const defaultBaseURL = "https://places.googleapis.com/v1"

const (
	searchFieldMask = "places.id,places.displayName,places.formattedAddress,places.location," +
		"places.types,places.rating,places.userRatingCount,places.businessStatus,places.googleMapsUri,nextPageToken"
	detailsFieldMask = "id,displayName,formattedAddress,addressComponents,location,types,primaryType," +
		"rating,userRatingCount,businessStatus,googleMapsUri,websiteUri,nationalPhoneNumber," +
		"internationalPhoneNumber,photos"
	photosFieldMask = "id,photos"
)

// Client performs Google Places API (v1) operations.
type Client interface {
	SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error)
	PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error)
	PlacePhotos(ctx context.Context, placeID string) ([]Photo, error)
	PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*Media, error)
}

// SearchTextRequest is the body of a Text Search call.
type SearchTextRequest struct {
	TextQuery    string        `json:"textQuery"`
	PageSize     int           `json:"pageSize,omitempty"`
	PageToken    string        `json:"pageToken,omitempty"`
	LocationBias *LocationBias `json:"locationBias,omitempty"`
}

// LocationBias biases results toward a circle.
type LocationBias struct {
	Circle Circle `json:"circle"`
}

// Circle is a center point plus a radius in meters.
type Circle struct {
	Center LatLng  `json:"center"`
	Radius float64 `json:"radius"`
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// SearchTextResponse is one page of Text Search results.
type SearchTextResponse struct {
	Places        []Place `json:"places"`
	NextPageToken string  `json:"nextPageToken,omitempty"`
}

// Place is a search result summary.
type Place struct {
	ID               string      `json:"id"`
	DisplayName      DisplayName `json:"displayName"`
	FormattedAddress string      `json:"formattedAddress,omitempty"`
	Location         *LatLng     `json:"location,omitempty"`
	Types            []string    `json:"types,omitempty"`
	Rating           float64     `json:"rating,omitempty"`
	UserRatingCount  int         `json:"userRatingCount,omitempty"`
	BusinessStatus   string      `json:"businessStatus,omitempty"`
	GoogleMapsURI    string      `json:"googleMapsUri,omitempty"`
}

// DisplayName holds the place's display name.
type DisplayName struct {
	Text         string `json:"text"`
	LanguageCode string `json:"languageCode,omitempty"`
}

// AddressComponent is one structured part of a formatted address.
type AddressComponent struct {
	LongText  string   `json:"longText"`
	ShortText string   `json:"shortText,omitempty"`
	Types     []string `json:"types"`
}

// Photo is a photo reference attached to a place. Name is the opaque
// resource name ("places/{id}/photos/{ref}") used to fetch the binary.
type Photo struct {
	Name     string `json:"name"`
	WidthPx  int    `json:"widthPx,omitempty"`
	HeightPx int    `json:"heightPx,omitempty"`
}

// PlaceDetails is the full detail record for one place.
type PlaceDetails struct {
	ID                       string             `json:"id"`
	DisplayName              DisplayName        `json:"displayName"`
	FormattedAddress         string             `json:"formattedAddress,omitempty"`
	AddressComponents        []AddressComponent `json:"addressComponents,omitempty"`
	Location                 *LatLng            `json:"location,omitempty"`
	Types                    []string           `json:"types,omitempty"`
	PrimaryType              string             `json:"primaryType,omitempty"`
	Rating                   float64            `json:"rating,omitempty"`
	UserRatingCount          int                `json:"userRatingCount,omitempty"`
	BusinessStatus           string             `json:"businessStatus,omitempty"`
	GoogleMapsURI            string             `json:"googleMapsUri,omitempty"`
	WebsiteURI               string             `json:"websiteUri,omitempty"`
	NationalPhoneNumber      string             `json:"nationalPhoneNumber,omitempty"`
	InternationalPhoneNumber string             `json:"internationalPhoneNumber,omitempty"`
	Photos                   []Photo            `json:"photos,omitempty"`
}

// Media is a downloaded photo binary.
type Media struct {
	Data        []byte
	ContentType string
}

// APIError is returned for any non-200 response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("google: unexpected status %d: %s", e.StatusCode, e.Body)
}

// DecodeError is returned when a 200 response body cannot be parsed.
type DecodeError struct {
	BodySize int
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("google: decode response (%d bytes): %v", e.BodySize, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(url string) Option {
	return func(c *httpClient) {
		c.baseURL = strings.TrimRight(url, "/")
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithTimeout sets the per-request timeout of the default http.Client.
func WithTimeout(d time.Duration) Option {
	return func(c *httpClient) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

// NewClient creates a Google Places API client.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *httpClient) SearchText(ctx context.Context, req SearchTextRequest) (*SearchTextResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, eris.Wrap(err, "google: marshal request")
	}

	respBody, _, err := c.do(ctx, http.MethodPost, c.baseURL+"/places:searchText", bytes.NewReader(body), searchFieldMask)
	if err != nil {
		return nil, err
	}

	var result SearchTextResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &DecodeError{BodySize: len(respBody), Err: err}
	}
	return &result, nil
}

func (c *httpClient) PlaceDetails(ctx context.Context, placeID string) (*PlaceDetails, error) {
	respBody, _, err := c.do(ctx, http.MethodGet, c.placeURL(placeID), nil, detailsFieldMask)
	if err != nil {
		return nil, err
	}

	var result PlaceDetails
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &DecodeError{BodySize: len(respBody), Err: err}
	}
	return &result, nil
}

func (c *httpClient) PlacePhotos(ctx context.Context, placeID string) ([]Photo, error) {
	respBody, _, err := c.do(ctx, http.MethodGet, c.placeURL(placeID), nil, photosFieldMask)
	if err != nil {
		return nil, err
	}

	var result struct {
		Photos []Photo `json:"photos"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, &DecodeError{BodySize: len(respBody), Err: err}
	}
	return result.Photos, nil
}

func (c *httpClient) PhotoMedia(ctx context.Context, photoName string, maxWidthPx int) (*Media, error) {
	u := c.baseURL + "/" + strings.TrimLeft(photoName, "/") + "/media"
	if maxWidthPx > 0 {
		u += "?maxWidthPx=" + strconv.Itoa(maxWidthPx)
	}

	data, header, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}

	ct := header.Get("Content-Type")
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Media{Data: data, ContentType: ct}, nil
}

func (c *httpClient) placeURL(placeID string) string {
	return c.baseURL + "/places/" + url.PathEscape(placeID)
}

// do sends a request and returns the body of a 200 response. Any other
// status is returned as *APIError.
func (c *httpClient) do(ctx context.Context, method, u string, body io.Reader, fieldMask string) ([]byte, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "google: create request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-Goog-Api-Key", c.apiKey)
	if fieldMask != "" {
		req.Header.Set("X-Goog-FieldMask", fieldMask)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, eris.Wrap(err, "google: send request")
	}
	defer resp.Body.Close() //nolint:errcheck

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, eris.Wrap(err, "google: read response")
	}

	if resp.StatusCode != http.StatusOK {
		return nil, nil, &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	return respBody, resp.Header, nil
}
