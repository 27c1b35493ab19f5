package business

import (
	"context"
	"errors"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/places"
	"github.com/sells-group/places-sync/internal/resilience"
	"github.com/sells-group/places-sync/pkg/google"
)

// Searcher is the gated Places client used by the importer.
type Searcher interface {
	Search(ctx context.Context, req places.SearchRequest) (*places.SearchPage, error)
	Details(ctx context.Context, placeID string) (*google.PlaceDetails, error)
}

// Enqueuer accepts deferred tasks.
type Enqueuer interface {
	Enqueue(ctx context.Context, tasks ...model.Task) (int, error)
}

// Query is one text search to import.
type Query struct {
	Text         string `yaml:"query" json:"query" validate:"required"`
	RadiusMeters int    `yaml:"radius_meters" json:"radius_meters" validate:"gte=0"`
	Limit        int    `yaml:"limit" json:"limit" validate:"gte=0,lte=20"`
}

// ImportOptions controls one import run.
type ImportOptions struct {
	Queries       []Query
	MaxPages      int
	Concurrency   int
	EnqueuePhotos bool
}

// ImportReport summarizes an import run.
type ImportReport struct {
	Queries      int                         `json:"queries"`
	Pages        int                         `json:"pages"`
	Found        int                         `json:"found"`
	RateLimited  bool                        `json:"rate_limited"`
	SearchErrors []string                    `json:"search_errors,omitempty"`
	DetailErrors []resilience.ItemDiagnostic `json:"detail_errors,omitempty"`
	Batch        *BatchResult                `json:"batch"`
	PhotoTasks   int                         `json:"photo_tasks"`
}

// Importer runs searches, fetches details for every hit and upserts them.
type Importer struct {
	client   Searcher
	upserter *Upserter
	queue    Enqueuer
	log      *zap.Logger
}

// NewImporter creates an Importer. queue may be nil when photo tasks are
// never requested.
func NewImporter(client Searcher, upserter *Upserter, queue Enqueuer) *Importer {
	return &Importer{
		client:   client,
		upserter: upserter,
		queue:    queue,
		log:      zap.L().With(zap.String("component", "import")),
	}
}

// Import searches every query, pages up to opts.MaxPages, fetches details
// concurrently and upserts the results in discovery order. A rate-limit
// denial stops further calls; everything found so far is still imported.
func (im *Importer) Import(ctx context.Context, opts ImportOptions) (*ImportReport, error) {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 1
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.EnqueuePhotos && im.queue == nil {
		return nil, resilience.NewConfigError("business: photo tasks requested without a queue")
	}

	report := &ImportReport{Queries: len(opts.Queries)}
	ids := im.collect(ctx, opts, report)
	report.Found = len(ids)

	details := im.fetchDetails(ctx, ids, opts.Concurrency, report)

	var records []*google.PlaceDetails
	for _, d := range details {
		if d != nil {
			records = append(records, d)
		}
	}
	report.Batch = im.upserter.ImportBatch(ctx, records)

	if opts.EnqueuePhotos && len(report.Batch.Results) > 0 {
		tasks := make([]model.Task, 0, len(report.Batch.Results))
		for _, r := range report.Batch.Results {
			t, err := model.NewPhotoImportTask(r.ID, r.PlaceID)
			if err != nil {
				return report, eris.Wrap(err, "business: build photo task")
			}
			tasks = append(tasks, t)
		}
		n, err := im.queue.Enqueue(ctx, tasks...)
		if err != nil {
			return report, eris.Wrap(err, "business: enqueue photo tasks")
		}
		report.PhotoTasks = n
	}

	im.log.Info("import complete",
		zap.Int("queries", report.Queries),
		zap.Int("pages", report.Pages),
		zap.Int("found", report.Found),
		zap.Int("created", report.Batch.Created),
		zap.Int("updated", report.Batch.Updated),
		zap.Int("failed", report.Batch.Failed+len(report.DetailErrors)),
		zap.Bool("rate_limited", report.RateLimited),
	)
	return report, nil
}

// collect pages through every query and returns unique place ids in
// discovery order.
func (im *Importer) collect(ctx context.Context, opts ImportOptions, report *ImportReport) []string {
	seen := make(map[string]struct{})
	var ids []string

	for _, q := range opts.Queries {
		token := ""
		for page := 0; page < opts.MaxPages; page++ {
			if report.RateLimited || ctx.Err() != nil {
				return ids
			}
			res, err := im.client.Search(ctx, places.SearchRequest{
				Query:        q.Text,
				RadiusMeters: q.RadiusMeters,
				Limit:        q.Limit,
				PageToken:    token,
			})
			if err != nil {
				if errors.Is(err, resilience.ErrRateLimited) {
					report.RateLimited = true
				}
				report.SearchErrors = append(report.SearchErrors, err.Error())
				im.log.Warn("search failed",
					zap.String("query", q.Text),
					zap.Int("page", page+1),
					zap.String("kind", resilience.ClassifyError(err)),
					zap.Error(err),
				)
				break
			}
			report.Pages++
			for _, p := range res.Places {
				if _, ok := seen[p.ID]; ok || p.ID == "" {
					continue
				}
				seen[p.ID] = struct{}{}
				ids = append(ids, p.ID)
			}
			if res.NextPageToken == "" {
				break
			}
			token = res.NextPageToken
		}
	}
	return ids
}

// fetchDetails returns one slot per id; failed lookups stay nil and are
// recorded as diagnostics.
func (im *Importer) fetchDetails(ctx context.Context, ids []string, concurrency int, report *ImportReport) []*google.PlaceDetails {
	out := make([]*google.PlaceDetails, len(ids))
	errs := make([]error, len(ids))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, id := range ids {
		g.Go(func() error {
			d, err := im.client.Details(gctx, id)
			if err != nil {
				errs[i] = err
				return nil // don't abort siblings on one failure
			}
			out[i] = d
			return nil
		})
	}
	_ = g.Wait()

	for i, err := range errs {
		if err == nil {
			continue
		}
		if errors.Is(err, resilience.ErrRateLimited) {
			report.RateLimited = true
		}
		report.DetailErrors = append(report.DetailErrors, resilience.NewItemDiagnostic(i+1, ids[i], err))
	}
	return out
}

// LoadQueries reads a YAML file of the form:
//
//	queries:
//	  - query: coffee in Springfield
//	    radius_meters: 5000
//	    limit: 20
func LoadQueries(path string) ([]Query, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "business: read queries %s", path)
	}

	var file struct {
		Queries []Query `yaml:"queries"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, eris.Wrap(err, "business: parse queries")
	}

	out := file.Queries[:0]
	for _, q := range file.Queries {
		q.Text = strings.TrimSpace(q.Text)
		if q.Text != "" {
			out = append(out, q)
		}
	}
	if len(out) == 0 {
		return nil, resilience.NewConfigError("business: queries file has no queries")
	}
	return out, nil
}
