package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"

	"github.com/sells-group/places-sync/internal/business"
	"github.com/sells-group/places-sync/internal/cost"
	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/monitoring"
	"github.com/sells-group/places-sync/internal/photos"
	"github.com/sells-group/places-sync/internal/places"
	"github.com/sells-group/places-sync/internal/queue"
	"github.com/sells-group/places-sync/internal/ratelimit"
	"github.com/sells-group/places-sync/internal/store"
	"github.com/sells-group/places-sync/pkg/google"
)

// appEnv holds the wired components shared by the commands.
type appEnv struct {
	Store     store.Store
	Location  *time.Location
	Limiter   *ratelimit.Limiter
	Places    *places.Client
	Upserter  *business.Upserter
	Importer  *business.Importer
	Bucket    *blob.Bucket
	Ingestor  *photos.Ingestor
	Optimizer *photos.Optimizer
	Queue     *queue.Queue
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Bucket != nil {
		_ = e.Bucket.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv wires every component. mode is passed to cfg.Validate; "store"
// skips the API key check for commands that only read local data.
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.RateLimit.Timezone)
	if err != nil {
		return nil, eris.Wrapf(err, "load timezone %q", cfg.RateLimit.Timezone)
	}

	st, err := openStore(ctx)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Location: loc}

	env.Limiter = ratelimit.New(ratelimit.Config{
		DailyLimit:     cfg.RateLimit.DailyLimit,
		PerMinuteLimit: cfg.RateLimit.PerMinuteLimit,
		DailyByType:    cfg.RateLimit.DailyByType,
		Location:       loc,
	}, ratelimit.WithUsageStore(st))
	if err := env.Limiter.Restore(ctx); err != nil {
		zap.L().Warn("restore rate limiter usage failed", zap.Error(err))
	}

	api := google.NewClient(cfg.Google.Key,
		google.WithBaseURL(cfg.Google.BaseURL),
		google.WithTimeout(time.Duration(cfg.Google.TimeoutSecs)*time.Second),
	)
	placeOpts := []places.Option{
		places.WithCacheTTL(time.Duration(cfg.Search.CacheTTLMins) * time.Minute),
		places.WithMaxWidth(cfg.Photos.MaxWidthPx),
	}
	if cfg.Search.CenterLat != 0 || cfg.Search.CenterLng != 0 {
		placeOpts = append(placeOpts, places.WithCenter(cfg.Search.CenterLat, cfg.Search.CenterLng))
	}
	env.Places = places.New(api, env.Limiter, st, placeOpts...)

	env.Queue = queue.New(st,
		queue.WithBatchSize(cfg.Queue.BatchSize),
		queue.WithInterval(time.Duration(cfg.Queue.IntervalSecs)*time.Second),
	)

	env.Upserter = business.NewUpserter(st)
	env.Upserter.OnBusinessProcessed(monitoring.NewUsageRecorder(st, loc).Record)
	env.Importer = business.NewImporter(env.Places, env.Upserter, env.Queue)

	env.Bucket, err = photos.OpenBucket(ctx, cfg.Photos.BucketURL)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Ingestor = photos.NewIngestor(st, env.Places, env.Bucket, photos.Config{
		Limit:       cfg.Photos.MaxPerBusiness,
		MinBytes:    cfg.Photos.MinBytes,
		DownloadRPS: cfg.Photos.DownloadRPS,
	})
	env.Optimizer = photos.NewOptimizer(st, env.Bucket, cfg.Photos.MaxDimension, cfg.Photos.JPEGQuality)

	env.Queue.Handle(model.TaskPhotoImport, queue.PhotoImportHandler(env.Ingestor, env.Queue, cfg.Photos.Optimize))
	env.Queue.Handle(model.TaskPhotoOptimization, queue.PhotoOptimizationHandler(env.Optimizer))

	env.Collector = monitoring.NewCollector(st, env.Queue, cfg.RateLimit.DailyLimit, monitoring.WithLocation(loc), monitoring.WithCost(cost.NewCalculator(cfg.Pricing)))

	return env, nil
}
