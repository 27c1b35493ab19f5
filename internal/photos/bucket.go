package photos

import (
	"context"
	"crypto/sha256"
	"fmt"
	"net/url"
	"os"
	"path"

	"github.com/rotisserie/eris"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	"gocloud.dev/gcerrors"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

// OpenBucket opens the media bucket at urlstr. Local file:// directories
// are created when missing.
func OpenBucket(ctx context.Context, urlstr string) (*blob.Bucket, error) {
	u, err := url.Parse(urlstr)
	if err != nil {
		return nil, eris.Wrapf(err, "photos: parse bucket url %s", urlstr)
	}
	if u.Scheme == "file" {
		if err := os.MkdirAll(u.Path, 0o755); err != nil {
			return nil, eris.Wrapf(err, "photos: create bucket dir %s", u.Path)
		}
	}
	b, err := blob.OpenBucket(ctx, urlstr)
	if err != nil {
		return nil, eris.Wrapf(err, "photos: open bucket %s", urlstr)
	}
	return b, nil
}

// blobKey derives a stable object key for a photo reference. References
// contain slashes and can be long, so the key uses a digest.
func blobKey(businessID, photoRef, contentType string) string {
	h := sha256.Sum256([]byte(photoRef))
	return path.Join("businesses", businessID, fmt.Sprintf("%x%s", h[:12], extension(contentType)))
}

func extension(contentType string) string {
	switch contentType {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

// OpenPhoto returns the stored asset for a photo reference and a reader for
// its binary. The caller closes the reader. A reference with no stored asset
// yields an error matching resilience.ErrNotFound.
func (in *Ingestor) OpenPhoto(ctx context.Context, photoRef string) (*model.MediaAsset, *blob.Reader, error) {
	m, err := in.store.GetMediaByRef(ctx, photoRef)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "photos: lookup %s", photoRef)
	}
	if m == nil {
		return nil, nil, eris.Wrapf(resilience.ErrNotFound, "photos: %s", photoRef)
	}
	r, err := in.bucket.NewReader(ctx, m.BlobKey, nil)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, nil, eris.Wrapf(resilience.ErrNotFound, "photos: blob %s", m.BlobKey)
		}
		return nil, nil, eris.Wrapf(err, "photos: open blob %s", m.BlobKey)
	}
	return m, r, nil
}
