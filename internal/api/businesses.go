package api

import (
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/places-sync/internal/model"
)

const defaultListLimit = 50

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type listQuery struct {
	Locality string   `validate:"omitempty,max=200"`
	Category string   `validate:"omitempty,max=100"`
	Query    string   `validate:"omitempty,max=200"`
	Lat      *float64 `validate:"omitempty,gte=-90,lte=90"`
	Lng      *float64 `validate:"omitempty,gte=-180,lte=180"`
	Radius   float64  `validate:"gte=0,lte=50000"`
	Limit    int      `validate:"gte=0,lte=200"`
	Offset   int      `validate:"gte=0"`
}

func parseListQuery(v url.Values) (*listQuery, error) {
	q := &listQuery{
		Locality: v.Get("locality"),
		Category: v.Get("category"),
		Query:    v.Get("q"),
	}
	var err error
	if q.Lat, err = optFloat(v, "lat"); err != nil {
		return nil, err
	}
	if q.Lng, err = optFloat(v, "lng"); err != nil {
		return nil, err
	}
	if (q.Lat == nil) != (q.Lng == nil) {
		return nil, &paramError{key: "lat/lng", value: "both or neither"}
	}
	radius, err := optFloat(v, "radius")
	if err != nil {
		return nil, err
	}
	if radius != nil {
		q.Radius = *radius
	}
	if q.Limit, err = optInt(v, "limit"); err != nil {
		return nil, err
	}
	if q.Offset, err = optInt(v, "offset"); err != nil {
		return nil, err
	}
	return q, nil
}

func (q *listQuery) filter() model.BusinessFilter {
	f := model.BusinessFilter{
		Locality: q.Locality,
		Category: q.Category,
		Query:    q.Query,
		Limit:    q.Limit,
		Offset:   q.Offset,
	}
	if f.Limit == 0 {
		f.Limit = defaultListLimit
	}
	if q.Lat != nil && q.Lng != nil && q.Radius > 0 {
		f.Center = &model.LatLng{Latitude: *q.Lat, Longitude: *q.Lng}
		f.RadiusMeters = q.Radius
	}
	return f
}

func (s *Server) listBusinesses(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r.URL.Query())
	if err != nil {
		badRequest(w, r, err.Error())
		return
	}
	if err := s.validate.Struct(q); err != nil {
		badRequest(w, r, err.Error())
		return
	}

	list, err := s.deps.Businesses.ListBusinesses(r.Context(), q.filter())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if list == nil {
		list = []model.Business{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"businesses": list,
		"count":      len(list),
	})
}

func (s *Server) getBusiness(w http.ResponseWriter, r *http.Request) {
	b, err := s.deps.Businesses.GetBusiness(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// getPhoto streams a cached photo. Photo references contain slashes, so
// the reference is the whole wildcard tail.
func (s *Server) getPhoto(w http.ResponseWriter, r *http.Request) {
	if s.deps.Photos == nil {
		unavailable(w, r, "photo storage")
		return
	}
	ref := chi.URLParam(r, "*")
	if ref == "" {
		badRequest(w, r, "photo reference is required")
		return
	}

	asset, rd, err := s.deps.Photos.OpenPhoto(r.Context(), ref)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rd.Close() //nolint:errcheck

	w.Header().Set("Content-Type", asset.ContentType)
	w.Header().Set("Content-Length", strconv.FormatInt(rd.Size(), 10))
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rd); err != nil {
		zap.L().Warn("api: photo stream interrupted", zap.String("photo_ref", ref), zap.Error(err))
	}
}

func optFloat(v url.Values, key string) (*float64, error) {
	raw := v.Get(key)
	if raw == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, &paramError{key: key, value: raw}
	}
	return &f, nil
}

func optInt(v url.Values, key string) (int, error) {
	raw := v.Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &paramError{key: key, value: raw}
	}
	return n, nil
}

type paramError struct {
	key, value string
}

func (e *paramError) Error() string {
	return "invalid " + e.key + " " + strconv.Quote(e.value)
}
