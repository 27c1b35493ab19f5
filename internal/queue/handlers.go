package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/photos"
	"github.com/sells-group/places-sync/internal/resilience"
)

// PhotoRefresher refreshes a business's photos from upstream.
type PhotoRefresher interface {
	RefreshPhotos(ctx context.Context, businessID, placeID string) (*photos.RefreshResult, error)
}

// PhotoOptimizer resizes a business's stored photos.
type PhotoOptimizer interface {
	Optimize(ctx context.Context, businessID string) (*photos.OptimizeResult, error)
}

// PhotoImportHandler refreshes photos for the task's business. A rate-limit
// denial, on the list call or on any single download, puts the task back at
// the tail so a later tick retries it. When optimize is set and new photos
// were downloaded, a photo_optimization task is enqueued for the same
// business.
func PhotoImportHandler(r PhotoRefresher, q *Queue, optimize bool) Handler {
	log := zap.L().With(zap.String("component", "queue.photo_import"))
	return func(ctx context.Context, task model.Task) error {
		var p model.PhotoImportPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return eris.Wrap(err, "photo import: decode payload")
		}
		if p.BusinessID == "" {
			return eris.New("photo import: payload has no business_id")
		}

		res, err := r.RefreshPhotos(ctx, p.BusinessID, p.PlaceID)
		if errors.Is(err, resilience.ErrRateLimited) || (err == nil && res.RateLimited()) {
			if _, qerr := q.Enqueue(ctx, model.Task{Type: task.Type, Payload: task.Payload}); qerr != nil {
				return eris.Wrap(qerr, "photo import: requeue after rate limit")
			}
			log.Info("rate limited; task requeued", zap.String("business_id", p.BusinessID))
			if err != nil {
				return nil
			}
		} else if err != nil {
			return eris.Wrapf(err, "photo import %s", p.BusinessID)
		}

		if optimize && res.Added > 0 {
			t, err := model.NewPhotoOptimizationTask(p.BusinessID)
			if err != nil {
				return eris.Wrap(err, "photo import: build optimization task")
			}
			if _, err := q.Enqueue(ctx, t); err != nil {
				return eris.Wrap(err, "photo import: enqueue optimization")
			}
		}
		return nil
	}
}

// PhotoOptimizationHandler optimizes the task's business photos. It never
// calls the Places API.
func PhotoOptimizationHandler(o PhotoOptimizer) Handler {
	return func(ctx context.Context, task model.Task) error {
		var p model.PhotoOptimizationPayload
		if err := json.Unmarshal(task.Payload, &p); err != nil {
			return eris.Wrap(err, "photo optimization: decode payload")
		}
		if p.BusinessID == "" {
			return eris.New("photo optimization: payload has no business_id")
		}
		_, err := o.Optimize(ctx, p.BusinessID)
		return eris.Wrapf(err, "photo optimization %s", p.BusinessID)
	}
}
