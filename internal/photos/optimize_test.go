package photos

import (
	"bytes"
	"context"
	"image"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/blob"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

func TestFit(t *testing.T) {
	tests := []struct {
		w, h, max    int
		wantW, wantH int
	}{
		{400, 200, 100, 100, 50},
		{200, 400, 100, 50, 100},
		{80, 60, 100, 80, 60},
		{100, 100, 100, 100, 100},
		{5000, 1, 100, 100, 1},
		{400, 200, 0, 400, 200},
	}
	for _, tt := range tests {
		w, h := fit(tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantW, w, "%dx%d max %d", tt.w, tt.h, tt.max)
		assert.Equal(t, tt.wantH, h, "%dx%d max %d", tt.w, tt.h, tt.max)
	}
}

func seedAsset(t *testing.T, fx *fixture, ref string, data []byte) *model.MediaAsset {
	t.Helper()
	return seedAssetAs(t, fx, ref, data, "image/jpeg")
}

func seedAssetAs(t *testing.T, fx *fixture, ref string, data []byte, contentType string) *model.MediaAsset {
	t.Helper()
	ctx := context.Background()
	key := blobKey(fx.business.ID, ref, contentType)
	require.NoError(t, fx.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{ContentType: contentType}))
	m := &model.MediaAsset{
		PhotoRef:    ref,
		BusinessID:  fx.business.ID,
		BlobKey:     key,
		ContentType: contentType,
		SizeBytes:   int64(len(data)),
	}
	require.NoError(t, fx.store.CreateMedia(ctx, m))
	return m
}

func TestOptimize_ResizesOversizedInPlace(t *testing.T) {
	fx := newFixture(t, 10)
	ctx := context.Background()

	big := seedAsset(t, fx, "big", jpegBytes(t, 400, 200))
	seedAsset(t, fx, "small", jpegBytes(t, 80, 60))

	o := NewOptimizer(fx.store, fx.bucket, 100, 85)
	res, err := o.Optimize(ctx, fx.business.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, 1, res.Resized)

	data, err := fx.bucket.ReadAll(ctx, big.BlobKey)
	require.NoError(t, err)
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 100, cfg.Width)
	assert.Equal(t, 50, cfg.Height)

	media, err := fx.store.ListMedia(ctx, fx.business.ID)
	require.NoError(t, err)
	byRef := map[string]model.MediaAsset{}
	for _, m := range media {
		byRef[m.PhotoRef] = m
	}
	assert.Equal(t, 100, byRef["big"].Width)
	assert.Equal(t, int64(len(data)), byRef["big"].SizeBytes)
	assert.NotNil(t, byRef["big"].OptimizedAt)
	assert.Equal(t, 80, byRef["small"].Width, "small images only get their metadata filled")
	assert.NotNil(t, byRef["small"].OptimizedAt)
}

func TestOptimize_ReencodedAssetMovesToJPEGKey(t *testing.T) {
	fx := newFixture(t, 10)
	ctx := context.Background()

	// Anything that is not PNG is written back as JPEG, webp included.
	m := seedAssetAs(t, fx, "wide", jpegBytes(t, 400, 200), "image/webp")
	oldKey := m.BlobKey
	require.True(t, strings.HasSuffix(oldKey, ".webp"))

	res, err := NewOptimizer(fx.store, fx.bucket, 100, 85).Optimize(ctx, fx.business.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Resized)

	got, err := fx.store.GetMediaByRef(ctx, "wide")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "image/jpeg", got.ContentType)
	assert.Equal(t, blobKey(fx.business.ID, "wide", "image/jpeg"), got.BlobKey)
	assert.True(t, strings.HasSuffix(got.BlobKey, ".jpg"))

	exists, err := fx.bucket.Exists(ctx, got.BlobKey)
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = fx.bucket.Exists(ctx, oldKey)
	require.NoError(t, err)
	assert.False(t, exists, "old webp key removed")
}

func TestOptimize_CorruptBlobIsReported(t *testing.T) {
	fx := newFixture(t, 10)
	seedAsset(t, fx, "broken", []byte("not an image at all"))
	seedAsset(t, fx, "fine", jpegBytes(t, 20, 20))

	o := NewOptimizer(fx.store, fx.bucket, 100, 85)
	res, err := o.Optimize(context.Background(), fx.business.ID)

	var batchErr *resilience.BatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, 1, batchErr.Failed)
	assert.Equal(t, 2, res.Checked)
	assert.Equal(t, "broken", res.Items[0].ID)
}

func TestOptimize_NoMedia(t *testing.T) {
	fx := newFixture(t, 10)
	res, err := NewOptimizer(fx.store, fx.bucket, 100, 85).Optimize(context.Background(), fx.business.ID)
	require.NoError(t, err)
	assert.Zero(t, res.Checked)
}
