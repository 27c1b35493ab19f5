// Package model defines the entities persisted by the place ingestion core.
package model

import (
	"slices"
	"time"
)

// BusinessStatus is the lifecycle status of a stored business.
type BusinessStatus string

const (
	// BusinessStatusCreated is assigned on first insert. Archival statuses
	// are owned by the surrounding content system.
	BusinessStatusCreated BusinessStatus = "created"
)

// Business is the canonical entity for one upstream place.
type Business struct {
	ID             string         `json:"id"`
	PlaceID        string         `json:"place_id"`
	Name           string         `json:"name"`
	Address        string         `json:"address,omitempty"`
	Locality       string         `json:"locality,omitempty"`
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	Categories     []string       `json:"categories,omitempty"`
	Rating         float64        `json:"rating"`
	RatingCount    int            `json:"rating_count"`
	Status         BusinessStatus `json:"status"`
	UpstreamStatus string         `json:"upstream_status,omitempty"`
	MapsURL        string         `json:"maps_url,omitempty"`
	Website        string         `json:"website,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	PrimaryPhoto   *string        `json:"primary_photo,omitempty"`
	PhotoRefs      []string       `json:"photo_refs,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasPhoto reports whether ref is in the business's photo set.
func (b *Business) HasPhoto(ref string) bool {
	return slices.Contains(b.PhotoRefs, ref)
}

// Coordinates returns the business location as (lat, lng).
func (b Business) Coordinates() (float64, float64) {
	return b.Latitude, b.Longitude
}

// DedupRefs returns refs in their original order with repeats removed.
func DedupRefs(refs []string) []string {
	seen := make(map[string]struct{}, len(refs))
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		if r == "" {
			continue
		}
		if _, ok := seen[r]; ok {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// Locality is a lazily-created grouping label (e.g. a city). Businesses
// reference it by name only.
type Locality struct {
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// LatLng is a WGS84 coordinate.
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// BusinessFilter specifies criteria for listing businesses.
type BusinessFilter struct {
	Locality     string  `json:"locality,omitempty"`
	Category     string  `json:"category,omitempty"`
	Query        string  `json:"query,omitempty"`
	Center       *LatLng `json:"center,omitempty"`
	RadiusMeters float64 `json:"radius_meters,omitempty"`
	Limit        int     `json:"limit,omitempty"`
	Offset       int     `json:"offset,omitempty"`
}
