// Package api exposes businesses and cached photos to collaborators and
// gives operators HTTP access to search, import, photo refresh and the
// queue.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"gocloud.dev/blob"

	"github.com/sells-group/places-sync/internal/business"
	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/monitoring"
	"github.com/sells-group/places-sync/internal/photos"
	"github.com/sells-group/places-sync/internal/places"
	"github.com/sells-group/places-sync/internal/queue"
	"github.com/sells-group/places-sync/internal/ratelimit"
)

// BusinessReader reads persisted businesses.
type BusinessReader interface {
	GetBusiness(ctx context.Context, id string) (*model.Business, error)
	ListBusinesses(ctx context.Context, filter model.BusinessFilter) ([]model.Business, error)
}

// Searcher runs a single text search page.
type Searcher interface {
	Search(ctx context.Context, req places.SearchRequest) (*places.SearchPage, error)
}

// Importer runs a search-driven import.
type Importer interface {
	Import(ctx context.Context, opts business.ImportOptions) (*business.ImportReport, error)
}

// PhotoService refreshes and serves business photos.
type PhotoService interface {
	RefreshPhotos(ctx context.Context, businessID, placeID string) (*photos.RefreshResult, error)
	OpenPhoto(ctx context.Context, photoRef string) (*model.MediaAsset, *blob.Reader, error)
}

// TaskQueue is the background photo queue.
type TaskQueue interface {
	Enqueue(ctx context.Context, tasks ...model.Task) (int, error)
	Tick(ctx context.Context) (*queue.TickResult, error)
	Status(ctx context.Context) (*queue.Status, error)
}

// UsageSource reports live rate limiter usage.
type UsageSource interface {
	Usage() ratelimit.Usage
}

// Deps are the components behind the routes. Any operator dependency left
// nil disables its routes with 503.
type Deps struct {
	Businesses BusinessReader
	Search     Searcher
	Import     Importer
	Photos     PhotoService
	Queue      TaskQueue
	Limiter    UsageSource
	Usage      *monitoring.Collector

	ImportDefaults business.ImportOptions
}

// Options configure the router.
type Options struct {
	AllowedOrigins []string
	Timeout        time.Duration
}

// Server holds the handler dependencies.
type Server struct {
	deps     Deps
	validate *validator.Validate
}

// NewRouter builds the HTTP handler.
func NewRouter(d Deps, opts Options) http.Handler {
	s := &Server{deps: d, validate: validator.New()}

	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		requestLogger,
		middleware.Recoverer,
	)
	if len(opts.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	if opts.Timeout > 0 {
		r.Use(middleware.Timeout(opts.Timeout))
	}

	r.Get("/health", s.health)

	// collaborator reads
	r.Get("/businesses", s.listBusinesses)
	r.Get("/businesses/{id}", s.getBusiness)
	r.Get("/photos/*", s.getPhoto)

	// operator actions
	r.Post("/search", s.search)
	r.Post("/import", s.runImport)
	r.Post("/businesses/{id}/photos/refresh", s.refreshPhotos)
	r.Post("/queue/tasks", s.enqueueTasks)
	r.Get("/queue/status", s.queueStatus)
	r.Post("/queue/tick", s.queueTick)
	r.Get("/ratelimit/usage", s.rateLimitUsage)
	r.Get("/usage", s.usage)

	return r
}
