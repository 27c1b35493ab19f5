package model

import "time"

// MediaAsset is a locally stored photo binary linked to its upstream
// reference and owning business.
type MediaAsset struct {
	ID          string     `json:"id"`
	PhotoRef    string     `json:"photo_ref"`
	BusinessID  string     `json:"business_id"`
	BlobKey     string     `json:"blob_key"`
	ContentType string     `json:"content_type"`
	SizeBytes   int64      `json:"size_bytes"`
	Width       int        `json:"width,omitempty"`
	Height      int        `json:"height,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	OptimizedAt *time.Time `json:"optimized_at,omitempty"`
}
