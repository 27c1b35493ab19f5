package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/places-sync/internal/business"
	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/places"
)

// decodeBody strictly decodes a JSON body. An empty body leaves v untouched
// when allowEmpty is set.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	err := dec.Decode(v)
	if errors.Is(err, io.EOF) && allowEmpty {
		return nil
	}
	return err
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	if s.deps.Search == nil {
		unavailable(w, r, "search")
		return
	}
	var req places.SearchRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	page, err := s.deps.Search.Search(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

type importRequest struct {
	Queries  []business.Query `json:"queries" validate:"required,min=1,dive"`
	MaxPages int              `json:"max_pages" validate:"gte=0,lte=10"`
	Photos   bool             `json:"photos"`
}

func (s *Server) runImport(w http.ResponseWriter, r *http.Request) {
	if s.deps.Import == nil {
		unavailable(w, r, "import")
		return
	}
	var req importRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	opts := s.deps.ImportDefaults
	opts.Queries = req.Queries
	opts.EnqueuePhotos = req.Photos
	if req.MaxPages > 0 {
		opts.MaxPages = req.MaxPages
	}

	report, err := s.deps.Import.Import(r.Context(), opts)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

type refreshRequest struct {
	PlaceID string `json:"place_id"`
	Async   bool   `json:"async"`
}

func (s *Server) refreshPhotos(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req refreshRequest
	if err := decodeBody(r, &req, true); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}

	if req.Async {
		if s.deps.Queue == nil {
			unavailable(w, r, "queue")
			return
		}
		t, err := model.NewPhotoImportTask(id, req.PlaceID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if _, err := s.deps.Queue.Enqueue(r.Context(), t); err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "business_id": id})
		return
	}

	if s.deps.Photos == nil {
		unavailable(w, r, "photo ingestion")
		return
	}
	res, err := s.deps.Photos.RefreshPhotos(r.Context(), id, req.PlaceID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type enqueueRequest struct {
	Type        model.TaskType `json:"type" validate:"omitempty,oneof=photo_import photo_optimization"`
	BusinessIDs []string       `json:"business_ids" validate:"required,min=1,max=1000,dive,required"`
}

func (s *Server) enqueueTasks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		unavailable(w, r, "queue")
		return
	}
	var req enqueueRequest
	if err := decodeBody(r, &req, false); err != nil {
		badRequest(w, r, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if req.Type == "" {
		req.Type = model.TaskPhotoImport
	}

	tasks := make([]model.Task, 0, len(req.BusinessIDs))
	for _, id := range req.BusinessIDs {
		var (
			t   model.Task
			err error
		)
		if req.Type == model.TaskPhotoOptimization {
			t, err = model.NewPhotoOptimizationTask(id)
		} else {
			t, err = model.NewPhotoImportTask(id, "")
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		tasks = append(tasks, t)
	}

	n, err := s.deps.Queue.Enqueue(r.Context(), tasks...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"enqueued": n, "type": req.Type})
}

func (s *Server) queueStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		unavailable(w, r, "queue")
		return
	}
	st, err := s.deps.Queue.Status(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) queueTick(w http.ResponseWriter, r *http.Request) {
	if s.deps.Queue == nil {
		unavailable(w, r, "queue")
		return
	}
	res, err := s.deps.Queue.Tick(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) rateLimitUsage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Limiter == nil {
		unavailable(w, r, "rate limiter")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Limiter.Usage())
}

func (s *Server) usage(w http.ResponseWriter, r *http.Request) {
	if s.deps.Usage == nil {
		unavailable(w, r, "usage reporting")
		return
	}
	day := s.deps.Usage.Today()
	if raw := r.URL.Query().Get("day"); raw != "" {
		d, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			badRequest(w, r, "day must be YYYY-MM-DD")
			return
		}
		day = d
	}

	daily, err := s.deps.Usage.Daily(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	weekly, err := s.deps.Usage.Weekly(r.Context(), day)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"day":    day.Format(time.DateOnly),
		"daily":  daily,
		"weekly": weekly,
	})
}
