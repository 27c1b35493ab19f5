// Package business turns upstream detail records into stored Business
// entities and notifies listeners after each successful write.
package business

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
)

// ErrMissingPlaceID is returned for a record without a stable upstream id.
var ErrMissingPlaceID = eris.New("record has no place id")

// Store is the persistence the upserter needs.
type Store interface {
	FindBusinessesByPlaceID(ctx context.Context, placeID string) ([]model.Business, error)
	CreateBusiness(ctx context.Context, b *model.Business) error
	UpdateBusiness(ctx context.Context, b *model.Business) error
	EnsureLocality(ctx context.Context, loc model.Locality) (bool, error)
}

// Event is emitted once per successful create or update.
type Event struct {
	ID        string
	Details   *google.PlaceDetails
	WasUpdate bool
}

// Listener receives business-processed events. Listeners run synchronously
// in registration order.
type Listener func(ctx context.Context, ev Event)

// UpsertResult reports the outcome of one upsert.
type UpsertResult struct {
	ID      string `json:"id"`
	PlaceID string `json:"place_id"`
	Created bool   `json:"created"`
}

// Upserter performs create-or-update keyed on the upstream place id.
type Upserter struct {
	store Store
	log   *zap.Logger

	mu        sync.RWMutex
	listeners []Listener
}

// NewUpserter creates an Upserter.
func NewUpserter(s Store) *Upserter {
	return &Upserter{
		store: s,
		log:   zap.L().With(zap.String("component", "business")),
	}
}

// OnBusinessProcessed registers a listener.
func (u *Upserter) OnBusinessProcessed(l Listener) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.listeners = append(u.listeners, l)
}

// Normalize maps a detail record onto the upstream-owned Business fields.
// Fields absent from the record come back zero so an update clears them.
func Normalize(d *google.PlaceDetails) model.Business {
	b := model.Business{
		PlaceID:        d.ID,
		Name:           d.DisplayName.Text,
		Address:        d.FormattedAddress,
		Locality:       LocalityFromComponents(d.AddressComponents),
		Categories:     categories(d),
		Rating:         d.Rating,
		RatingCount:    d.UserRatingCount,
		UpstreamStatus: d.BusinessStatus,
		MapsURL:        d.GoogleMapsURI,
		Website:        d.WebsiteURI,
		Phone:          d.NationalPhoneNumber,
	}
	if b.Phone == "" {
		b.Phone = d.InternationalPhoneNumber
	}
	if d.Location != nil {
		b.Latitude = d.Location.Latitude
		b.Longitude = d.Location.Longitude
	}
	return b
}

// categories returns the primary type first, then the remaining types in
// upstream order without repeats.
func categories(d *google.PlaceDetails) []string {
	var out []string
	if d.PrimaryType != "" {
		out = append(out, d.PrimaryType)
	}
	for _, t := range d.Types {
		if t != "" && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// Upsert creates or overwrites the Business for d.ID. On success the
// locality grouping is ensured and listeners are notified.
func (u *Upserter) Upsert(ctx context.Context, d *google.PlaceDetails) (*UpsertResult, error) {
	if d == nil || d.ID == "" {
		return nil, eris.Wrap(ErrMissingPlaceID, "business: upsert")
	}
	log := u.log.With(zap.String("place_id", d.ID))

	existing, err := u.store.FindBusinessesByPlaceID(ctx, d.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "business: lookup %s", d.ID)
	}
	if len(existing) > 1 {
		log.Warn("multiple businesses share a place id; updating the first",
			zap.Int("matches", len(existing)),
		)
	}

	b := Normalize(d)
	created := len(existing) == 0
	if created {
		b.Status = model.BusinessStatusCreated
		if err := u.store.CreateBusiness(ctx, &b); err != nil {
			return nil, eris.Wrapf(err, "business: create %s", d.ID)
		}
	} else {
		cur := existing[0]
		b.ID = cur.ID
		b.Status = cur.Status
		b.CreatedAt = cur.CreatedAt
		b.PrimaryPhoto = cur.PrimaryPhoto
		b.PhotoRefs = cur.PhotoRefs
		if err := u.store.UpdateBusiness(ctx, &b); err != nil {
			return nil, eris.Wrapf(err, "business: update %s", d.ID)
		}
	}

	if b.Locality != "" {
		if _, err := u.store.EnsureLocality(ctx, model.Locality{Name: b.Locality, Slug: Slug(b.Locality)}); err != nil {
			log.Warn("ensure locality failed", zap.String("locality", b.Locality), zap.Error(err))
		}
	}

	log.Debug("business upserted", zap.String("id", b.ID), zap.Bool("created", created))
	u.emit(ctx, Event{ID: b.ID, Details: d, WasUpdate: !created})

	return &UpsertResult{ID: b.ID, PlaceID: d.ID, Created: created}, nil
}

func (u *Upserter) emit(ctx context.Context, ev Event) {
	u.mu.RLock()
	listeners := slices.Clone(u.listeners)
	u.mu.RUnlock()

	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					u.log.Error("business listener panicked",
						zap.String("id", ev.ID),
						zap.String("panic", fmt.Sprint(r)),
					)
				}
			}()
			l(ctx, ev)
		}()
	}
}

// BatchResult aggregates a batch import. Failed items never abort the batch.
type BatchResult struct {
	Total   int                         `json:"total"`
	Created int                         `json:"created"`
	Updated int                         `json:"updated"`
	Failed  int                         `json:"failed"`
	Results []UpsertResult              `json:"results"`
	Items   []resilience.ItemDiagnostic `json:"items,omitempty"`
}

// Err returns a *resilience.BatchError when any item failed, otherwise nil.
func (r *BatchResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return &resilience.BatchError{Op: "business import", Total: r.Total, Failed: r.Failed, Items: r.Items}
}

// ImportBatch upserts each record independently, in order. Index values in
// diagnostics are 1-based positions in records.
func (u *Upserter) ImportBatch(ctx context.Context, records []*google.PlaceDetails) *BatchResult {
	res := &BatchResult{Total: len(records)}

	for i, d := range records {
		var placeID string
		if d != nil {
			placeID = d.ID
		}

		r, err := u.Upsert(ctx, d)
		if err != nil {
			res.Failed++
			res.Items = append(res.Items, resilience.NewItemDiagnostic(i+1, placeID, err))
			u.log.Warn("batch record skipped",
				zap.Int("index", i+1),
				zap.String("place_id", placeID),
				zap.String("kind", resilience.ClassifyError(err)),
				zap.Error(err),
			)
			continue
		}
		if r.Created {
			res.Created++
		} else {
			res.Updated++
		}
		res.Results = append(res.Results, *r)
	}

	u.log.Info("batch import complete",
		zap.Int("total", res.Total),
		zap.Int("created", res.Created),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res
}
