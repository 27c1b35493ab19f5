package photos

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"image/png"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"golang.org/x/image/draw"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

// MediaStore is the persistence the optimizer needs.
type MediaStore interface {
	ListMedia(ctx context.Context, businessID string) ([]model.MediaAsset, error)
	UpdateMedia(ctx context.Context, m *model.MediaAsset) error
}

// OptimizeResult reports one optimization pass over a business's photos.
type OptimizeResult struct {
	BusinessID string                      `json:"business_id"`
	Checked    int                         `json:"checked"`
	Resized    int                         `json:"resized"`
	Failed     int                         `json:"failed"`
	Items      []resilience.ItemDiagnostic `json:"items,omitempty"`
}

// Optimizer downsizes stored photos whose longest side exceeds MaxDimension.
// It never calls the Places API.
type Optimizer struct {
	store        MediaStore
	bucket       *blob.Bucket
	maxDimension int
	quality      int
	now          func() time.Time
	log          *zap.Logger
}

// NewOptimizer creates an Optimizer.
func NewOptimizer(s MediaStore, bucket *blob.Bucket, maxDimension, jpegQuality int) *Optimizer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = jpeg.DefaultQuality
	}
	return &Optimizer{
		store:        s,
		bucket:       bucket,
		maxDimension: maxDimension,
		quality:      jpegQuality,
		now:          time.Now,
		log:          zap.L().With(zap.String("component", "photos.optimize")),
	}
}

// Optimize resizes oversized images in place and refreshes their size
// metadata. Per-asset failures are collected; the pass continues.
func (o *Optimizer) Optimize(ctx context.Context, businessID string) (*OptimizeResult, error) {
	assets, err := o.store.ListMedia(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "photos: list media %s", businessID)
	}

	res := &OptimizeResult{BusinessID: businessID}
	var causes []error
	for i := range assets {
		if ctx.Err() != nil {
			return res, eris.Wrap(ctx.Err(), "photos: optimize interrupted")
		}
		m := &assets[i]
		res.Checked++

		resized, err := o.optimizeOne(ctx, m)
		if err != nil {
			res.Failed++
			res.Items = append(res.Items, resilience.NewItemDiagnostic(i+1, m.PhotoRef, err))
			causes = append(causes, err)
			o.log.Warn("optimize failed",
				zap.String("business_id", businessID),
				zap.String("photo_ref", m.PhotoRef),
				zap.Error(err),
			)
			continue
		}
		if resized {
			res.Resized++
		}
	}

	if res.Failed > 0 {
		return res, &resilience.BatchError{
			Op:     "photo optimize " + businessID,
			Total:  res.Checked,
			Failed: res.Failed,
			Items:  res.Items,
			Causes: causes,
		}
	}
	return res, nil
}

func (o *Optimizer) optimizeOne(ctx context.Context, m *model.MediaAsset) (bool, error) {
	data, err := o.bucket.ReadAll(ctx, m.BlobKey)
	if err != nil {
		return false, eris.Wrapf(err, "photos: read blob %s", m.BlobKey)
	}
	src, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return false, eris.Wrapf(resilience.ErrMalformedResponse, "photos: decode %s: %v", m.BlobKey, err)
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	now := o.now().UTC()
	m.OptimizedAt = &now

	nw, nh := fit(w, h, o.maxDimension)
	if nw == w && nh == h {
		m.Width, m.Height = w, h
		return false, o.store.UpdateMedia(ctx, m)
	}

	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, draw.Over, nil)

	var buf bytes.Buffer
	contentType := "image/jpeg"
	if format == "png" {
		contentType = "image/png"
		err = png.Encode(&buf, dst)
	} else {
		// webp has no encoder in x/image; re-encode as JPEG.
		err = jpeg.Encode(&buf, dst, &jpeg.Options{Quality: o.quality})
	}
	if err != nil {
		return false, eris.Wrapf(err, "photos: encode %s", m.BlobKey)
	}

	// A format change moves the object to a key with the matching extension.
	oldKey, key := m.BlobKey, m.BlobKey
	if contentType != m.ContentType {
		key = blobKey(m.BusinessID, m.PhotoRef, contentType)
	}
	if err := o.bucket.WriteAll(ctx, key, buf.Bytes(), &blob.WriterOptions{ContentType: contentType}); err != nil {
		return false, eris.Wrapf(err, "photos: write blob %s", key)
	}

	m.BlobKey = key
	m.ContentType = contentType
	m.SizeBytes = int64(buf.Len())
	m.Width, m.Height = nw, nh
	if err := o.store.UpdateMedia(ctx, m); err != nil {
		return false, eris.Wrapf(err, "photos: update media %s", m.ID)
	}
	if key != oldKey {
		if err := o.bucket.Delete(ctx, oldKey); err != nil && !isBlobNotFound(err) {
			o.log.Warn("old blob not removed", zap.String("blob_key", oldKey), zap.Error(err))
		}
	}

	o.log.Debug("photo resized",
		zap.String("photo_ref", m.PhotoRef),
		zap.Int("from_width", w),
		zap.Int("to_width", nw),
	)
	return true, nil
}

// fit scales (w, h) down so the longest side is at most maxDim, keeping
// the aspect ratio. Images already within bounds are returned unchanged.
func fit(w, h, maxDim int) (int, int) {
	if maxDim <= 0 || (w <= maxDim && h <= maxDim) {
		return w, h
	}
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
