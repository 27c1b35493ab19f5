// Package photos downloads place photos into the media bucket, keeps each
// business's photo set in sync with upstream and optimizes stored images.
package photos

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg" // register decoders
	_ "image/png"
	"mime"
	"slices"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
	_ "golang.org/x/image/webp" // register decoder
	"golang.org/x/time/rate"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
)

// Store is the persistence the ingestor needs.
type Store interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	SetBusinessPhotos(ctx context.Context, businessID string, refs []string, primary *string) error
	GetMediaByRef(ctx context.Context, photoRef string) (*model.MediaAsset, error)
	ListMedia(ctx context.Context, businessID string) ([]model.MediaAsset, error)
	CreateMedia(ctx context.Context, m *model.MediaAsset) error
	UpdateMedia(ctx context.Context, m *model.MediaAsset) error
	DeleteMedia(ctx context.Context, id string) error
}

// Fetcher is the gated Places client used for photo calls.
type Fetcher interface {
	PhotoList(ctx context.Context, placeID string) ([]google.Photo, error)
	DownloadPhoto(ctx context.Context, photoRef string) (*google.Media, error)
}

// Config controls photo ingestion.
type Config struct {
	// Limit caps photos per business. Zero or less disables importing.
	Limit int
	// MinBytes rejects downloads smaller than this.
	MinBytes int
	// DownloadRPS paces binary downloads. Zero means unpaced.
	DownloadRPS float64
}

// RefreshResult reports one refresh. Attached counts photos linked to the
// business after the refresh; Added counts the ones downloaded this run.
type RefreshResult struct {
	BusinessID string                      `json:"business_id"`
	Requested  int                         `json:"requested"`
	Attached   int                         `json:"attached"`
	Added      int                         `json:"added"`
	Reused     int                         `json:"reused"`
	Removed    int                         `json:"removed"`
	Failed     int                         `json:"failed"`
	Primary    *string                     `json:"primary,omitempty"`
	Items      []resilience.ItemDiagnostic `json:"items,omitempty"`
}

// Ingestor refreshes a business's photo set from upstream.
type Ingestor struct {
	store   Store
	fetcher Fetcher
	bucket  *blob.Bucket
	cfg     Config
	pace    *rate.Limiter
	log     *zap.Logger
}

// NewIngestor creates an Ingestor.
func NewIngestor(s Store, f Fetcher, bucket *blob.Bucket, cfg Config) *Ingestor {
	pace := rate.NewLimiter(rate.Inf, 1)
	if cfg.DownloadRPS > 0 {
		pace = rate.NewLimiter(rate.Limit(cfg.DownloadRPS), 1)
	}
	return &Ingestor{
		store:   s,
		fetcher: f,
		bucket:  bucket,
		cfg:     cfg,
		pace:    pace,
		log:     zap.L().With(zap.String("component", "photos")),
	}
}

// RefreshPhotos replaces the business's photos with the first Limit photos
// upstream lists for placeID (the business's own place id when empty).
// Photos already stored under the same reference are reused, the rest are
// downloaded. Assets whose reference is no longer listed are deleted. The
// first successfully attached photo becomes primary. If nothing could be
// attached from a non-empty list, the result comes back together with a
// *resilience.BatchError describing every failed reference.
func (in *Ingestor) RefreshPhotos(ctx context.Context, businessID, placeID string) (*RefreshResult, error) {
	if in.cfg.Limit <= 0 {
		return nil, resilience.NewConfigError("photos: import disabled (photos.max_per_business is 0)")
	}

	b, err := in.store.GetBusiness(ctx, businessID)
	if err != nil {
		return nil, eris.Wrapf(err, "photos: load business %s", businessID)
	}
	if placeID == "" {
		placeID = b.PlaceID
	}
	log := in.log.With(zap.String("business_id", businessID), zap.String("place_id", placeID))

	list, err := in.fetcher.PhotoList(ctx, placeID)
	if err != nil {
		return nil, eris.Wrapf(err, "photos: list %s", placeID)
	}

	res := &RefreshResult{BusinessID: businessID}
	if len(list) == 0 {
		log.Info("no photos available")
		return res, nil
	}

	refs := make([]string, 0, len(list))
	for _, p := range list {
		refs = append(refs, p.Name)
	}
	refs = model.DedupRefs(refs)
	if len(refs) > in.cfg.Limit {
		refs = refs[:in.cfg.Limit]
	}
	res.Requested = len(refs)

	removed, err := in.removeStale(ctx, businessID, refs)
	res.Removed = removed
	if err != nil {
		return nil, err
	}
	if err := in.store.SetBusinessPhotos(ctx, businessID, nil, nil); err != nil {
		return nil, eris.Wrapf(err, "photos: clear photos %s", businessID)
	}

	attached := make([]string, 0, len(refs))
	var causes []error
	for i, ref := range refs {
		if ctx.Err() != nil {
			break
		}
		reused, err := in.attach(ctx, businessID, ref)
		if err != nil {
			res.Failed++
			res.Items = append(res.Items, resilience.NewItemDiagnostic(i+1, ref, err))
			causes = append(causes, err)
			log.Warn("photo failed",
				zap.String("photo_ref", ref),
				zap.String("kind", resilience.ClassifyError(err)),
				zap.Error(err),
			)
			continue
		}
		if reused {
			res.Reused++
		} else {
			res.Added++
		}
		attached = append(attached, ref)
		if res.Primary == nil {
			primary := ref
			res.Primary = &primary
		}
	}
	res.Attached = len(attached)

	if err := in.store.SetBusinessPhotos(ctx, businessID, attached, res.Primary); err != nil {
		return res, eris.Wrapf(err, "photos: save photos %s", businessID)
	}

	log.Info("photos refreshed",
		zap.Int("requested", res.Requested),
		zap.Int("added", res.Added),
		zap.Int("reused", res.Reused),
		zap.Int("removed", res.Removed),
		zap.Int("failed", res.Failed),
	)

	if ctx.Err() != nil {
		return res, eris.Wrap(ctx.Err(), "photos: refresh interrupted")
	}
	if res.Attached == 0 {
		return res, &resilience.BatchError{
			Op:     "photo refresh " + businessID,
			Total:  res.Requested,
			Failed: res.Failed,
			Items:  res.Items,
			Causes: causes,
		}
	}
	return res, nil
}

// RateLimited reports whether any photo of the refresh was denied by the
// rate limiter and is worth retrying on a later tick.
func (r *RefreshResult) RateLimited() bool {
	if r == nil {
		return false
	}
	for _, item := range r.Items {
		if item.Kind == resilience.KindRateLimited {
			return true
		}
	}
	return false
}

// removeStale deletes the business's assets whose reference is not in keep.
func (in *Ingestor) removeStale(ctx context.Context, businessID string, keep []string) (int, error) {
	current, err := in.store.ListMedia(ctx, businessID)
	if err != nil {
		return 0, eris.Wrapf(err, "photos: list media %s", businessID)
	}

	keepSet := make(map[string]struct{}, len(keep))
	for _, r := range keep {
		keepSet[r] = struct{}{}
	}

	removed := 0
	for _, m := range current {
		if _, ok := keepSet[m.PhotoRef]; ok {
			continue
		}
		if err := in.deleteAsset(ctx, m); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

func (in *Ingestor) deleteAsset(ctx context.Context, m model.MediaAsset) error {
	if err := in.bucket.Delete(ctx, m.BlobKey); err != nil && !isBlobNotFound(err) {
		return eris.Wrapf(err, "photos: delete blob %s", m.BlobKey)
	}
	if err := in.store.DeleteMedia(ctx, m.ID); err != nil {
		return eris.Wrapf(err, "photos: delete media %s", m.ID)
	}
	return nil
}

// release drops ref from a former owner's photo set before the asset moves
// to another business. The primary falls back to the next remaining photo.
func (in *Ingestor) release(ctx context.Context, ownerID, ref string) error {
	owner, err := in.store.GetBusiness(ctx, ownerID)
	if errors.Is(err, resilience.ErrNotFound) {
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "photos: load former owner %s", ownerID)
	}

	refs := slices.DeleteFunc(slices.Clone(owner.PhotoRefs), func(r string) bool { return r == ref })
	primary := owner.PrimaryPhoto
	if primary != nil && *primary == ref {
		primary = nil
		if len(refs) > 0 {
			next := refs[0]
			primary = &next
		}
	}
	if len(refs) == len(owner.PhotoRefs) && primary == owner.PrimaryPhoto {
		return nil
	}
	if err := in.store.SetBusinessPhotos(ctx, ownerID, refs, primary); err != nil {
		return eris.Wrapf(err, "photos: release %s from %s", ref, ownerID)
	}
	in.log.Info("photo moved to another business",
		zap.String("photo_ref", ref),
		zap.String("former_owner", ownerID),
	)
	return nil
}

// attach links ref to the business, downloading it only when no asset
// exists for the reference. It reports whether an existing asset was reused.
func (in *Ingestor) attach(ctx context.Context, businessID, ref string) (bool, error) {
	existing, err := in.store.GetMediaByRef(ctx, ref)
	if err != nil {
		return false, err
	}
	if existing != nil {
		if existing.BusinessID != businessID {
			if err := in.release(ctx, existing.BusinessID, ref); err != nil {
				return false, err
			}
			existing.BusinessID = businessID
			if err := in.store.UpdateMedia(ctx, existing); err != nil {
				return false, err
			}
		}
		return true, nil
	}

	if err := in.pace.Wait(ctx); err != nil {
		return false, eris.Wrap(err, "photos: download pacing")
	}
	media, err := in.fetcher.DownloadPhoto(ctx, ref)
	if err != nil {
		return false, err
	}
	if len(media.Data) < in.cfg.MinBytes {
		return false, eris.Wrapf(resilience.ErrMalformedResponse,
			"photo too small (%d bytes, minimum %d)", len(media.Data), in.cfg.MinBytes)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(media.Data))
	if err != nil {
		return false, eris.Wrapf(resilience.ErrMalformedResponse, "photo is not a decodable image: %v", err)
	}

	contentType := mediaType(media.ContentType, format)
	key := blobKey(businessID, ref, contentType)
	if err := in.bucket.WriteAll(ctx, key, media.Data, &blob.WriterOptions{ContentType: contentType}); err != nil {
		return false, eris.Wrapf(err, "photos: write blob %s", key)
	}

	asset := &model.MediaAsset{
		PhotoRef:    ref,
		BusinessID:  businessID,
		BlobKey:     key,
		ContentType: contentType,
		SizeBytes:   int64(len(media.Data)),
		Width:       cfg.Width,
		Height:      cfg.Height,
	}
	if err := in.store.CreateMedia(ctx, asset); err != nil {
		_ = in.bucket.Delete(ctx, key)
		return false, eris.Wrapf(err, "photos: save media %s", ref)
	}
	return false, nil
}

// mediaType prefers the upstream content type and falls back to the
// decoded image format.
func mediaType(contentType, format string) string {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && strings.HasPrefix(mt, "image/") {
		return mt
	}
	return fmt.Sprintf("image/%s", format)
}

func isBlobNotFound(err error) bool {
	return gcerrors.Code(err) == gcerrors.NotFound
}
