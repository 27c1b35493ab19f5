package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/places-sync/internal/db"
	"github.com/sells-group/places-sync/internal/geo"
	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

// PostgresStore implements Store using pgxpool and PostGIS.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS postgis;

CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	place_id        TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	locality        TEXT NOT NULL DEFAULT '',
	latitude        DOUBLE PRECISION NOT NULL DEFAULT 0,
	longitude       DOUBLE PRECISION NOT NULL DEFAULT 0,
	geom            geometry(Point, 4326),
	categories      JSONB NOT NULL DEFAULT '[]',
	rating          DOUBLE PRECISION NOT NULL DEFAULT 0,
	rating_count    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'created',
	upstream_status TEXT NOT NULL DEFAULT '',
	maps_url        TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	primary_photo   TEXT,
	photo_refs      JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_businesses_locality ON businesses(lower(locality));
CREATE INDEX IF NOT EXISTS idx_businesses_geom ON businesses USING GIST (geom);
CREATE INDEX IF NOT EXISTS idx_businesses_categories ON businesses USING GIN (categories);

CREATE TABLE IF NOT EXISTS localities (
	name       TEXT PRIMARY KEY,
	slug       TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_localities_slug ON localities(slug);

CREATE TABLE IF NOT EXISTS media_assets (
	id           TEXT PRIMARY KEY,
	photo_ref    TEXT NOT NULL UNIQUE,
	business_id  TEXT NOT NULL,
	blob_key     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   BIGINT NOT NULL DEFAULT 0,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	optimized_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_media_assets_business ON media_assets(business_id);

CREATE TABLE IF NOT EXISTS queue_tasks (
	seq         BIGSERIAL PRIMARY KEY,
	id          TEXT NOT NULL UNIQUE,
	type        TEXT NOT NULL,
	payload     JSONB NOT NULL,
	enqueued_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queue_run (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	total      INTEGER NOT NULL,
	started_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS task_failures (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	payload    JSONB NOT NULL,
	error      TEXT NOT NULL,
	error_kind TEXT NOT NULL,
	failed_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_task_failures_failed_at ON task_failures(failed_at DESC);

CREATE TABLE IF NOT EXISTS usage_counters (
	day    TEXT NOT NULL,
	metric TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, metric)
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	data       JSONB NOT NULL,
	cached_at  TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Businesses

func (s *PostgresStore) FindBusinessesByPlaceID(ctx context.Context, placeID string) ([]model.Business, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE place_id = $1 ORDER BY created_at`,
		placeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: find business %s", placeID)
	}
	return collectBusinesses(rows)
}

func (s *PostgresStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = $1`, id)
	b, err := scanPgBusiness(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(resilience.ErrNotFound, "postgres: business %s", id)
	}
	return b, err
}

func (s *PostgresStore) CreateBusiness(ctx context.Context, b *model.Business) error {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.Status == "" {
		b.Status = model.BusinessStatusCreated
	}
	now := time.Now().UTC()
	b.CreatedAt, b.UpdatedAt = now, now

	cats, err := marshalStrings(b.Categories)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal categories")
	}
	refs, err := marshalStrings(b.PhotoRefs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal photo refs")
	}
	point, err := geo.EncodePoint(b.Latitude, b.Longitude)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO businesses (id, place_id, name, address, locality, latitude, longitude, geom, categories,
		 rating, rating_count, status, upstream_status, maps_url, website, phone,
		 primary_photo, photo_refs, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, ST_GeomFromEWKB($8), $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)`,
		b.ID, b.PlaceID, b.Name, b.Address, b.Locality, b.Latitude, b.Longitude, point, cats,
		b.Rating, b.RatingCount, string(b.Status), b.UpstreamStatus, b.MapsURL, b.Website, b.Phone,
		b.PrimaryPhoto, refs, now, now,
	)
	return eris.Wrapf(err, "postgres: insert business %s", b.PlaceID)
}

func (s *PostgresStore) UpdateBusiness(ctx context.Context, b *model.Business) error {
	cats, err := marshalStrings(b.Categories)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal categories")
	}
	point, err := geo.EncodePoint(b.Latitude, b.Longitude)
	if err != nil {
		return err
	}
	b.UpdatedAt = time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET name = $1, address = $2, locality = $3, latitude = $4, longitude = $5,
		 geom = ST_GeomFromEWKB($6), categories = $7, rating = $8, rating_count = $9, upstream_status = $10,
		 maps_url = $11, website = $12, phone = $13, updated_at = $14
		 WHERE id = $15`,
		b.Name, b.Address, b.Locality, b.Latitude, b.Longitude,
		point, cats, b.Rating, b.RatingCount, b.UpstreamStatus,
		b.MapsURL, b.Website, b.Phone, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update business %s", b.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "business %s", b.ID)
	}
	return nil
}

func (s *PostgresStore) SetBusinessPhotos(ctx context.Context, businessID string, refs []string, primary *string) error {
	refsJSON, err := marshalStrings(refs)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal photo refs")
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE businesses SET photo_refs = $1, primary_photo = $2, updated_at = $3 WHERE id = $4`,
		refsJSON, primary, time.Now().UTC(), businessID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: set photos %s", businessID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "business %s", businessID)
	}
	return nil
}

func (s *PostgresStore) ListBusinesses(ctx context.Context, filter model.BusinessFilter) ([]model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Locality != "" {
		query += fmt.Sprintf(` AND lower(locality) = lower($%d)`, argIdx)
		args = append(args, filter.Locality)
		argIdx++
	}
	if filter.Category != "" {
		query += fmt.Sprintf(` AND categories ? $%d`, argIdx)
		args = append(args, filter.Category)
		argIdx++
	}
	if filter.Query != "" {
		query += fmt.Sprintf(` AND (name ILIKE $%d OR address ILIKE $%d)`, argIdx, argIdx)
		args = append(args, "%"+filter.Query+"%")
		argIdx++
	}

	box := radiusBox(filter)
	if box != nil {
		query += fmt.Sprintf(` AND geom && ST_MakeEnvelope($%d, $%d, $%d, $%d, %d)`,
			argIdx, argIdx+1, argIdx+2, argIdx+3, geo.SRID)
		args = append(args, box.MinLng, box.MinLat, box.MaxLng, box.MaxLat)
		argIdx += 4
	}
	query += ` ORDER BY name, id`

	if box == nil {
		limit := filter.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, limit)
		argIdx++
		if filter.Offset > 0 {
			query += fmt.Sprintf(` OFFSET $%d`, argIdx)
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list businesses")
	}
	list, err := collectBusinesses(rows)
	if err != nil {
		return nil, err
	}
	if box != nil {
		list = refineRadius(list, filter)
	}
	return list, nil
}

// Localities

func (s *PostgresStore) EnsureLocality(ctx context.Context, loc model.Locality) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`INSERT INTO localities (name, slug, created_at) VALUES ($1, $2, $3) ON CONFLICT (name) DO NOTHING`,
		loc.Name, loc.Slug, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres: ensure locality %s", loc.Name)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListLocalities(ctx context.Context) ([]model.Locality, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, slug, created_at FROM localities ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list localities")
	}
	defer rows.Close()

	var out []model.Locality
	for rows.Next() {
		var l model.Locality
		if err := rows.Scan(&l.Name, &l.Slug, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan locality")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list localities iterate")
}

// Media

func (s *PostgresStore) GetMediaByRef(ctx context.Context, photoRef string) (*model.MediaAsset, error) {
	var m model.MediaAsset
	err := s.pool.QueryRow(ctx,
		`SELECT `+mediaColumns+` FROM media_assets WHERE photo_ref = $1`, photoRef,
	).Scan(&m.ID, &m.PhotoRef, &m.BusinessID, &m.BlobKey, &m.ContentType, &m.SizeBytes,
		&m.Width, &m.Height, &m.CreatedAt, &m.OptimizedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get media by ref")
	}
	return &m, nil
}

func (s *PostgresStore) ListMedia(ctx context.Context, businessID string) ([]model.MediaAsset, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+mediaColumns+` FROM media_assets WHERE business_id = $1 ORDER BY created_at, id`,
		businessID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list media %s", businessID)
	}
	defer rows.Close()

	var out []model.MediaAsset
	for rows.Next() {
		var m model.MediaAsset
		if err := rows.Scan(&m.ID, &m.PhotoRef, &m.BusinessID, &m.BlobKey, &m.ContentType, &m.SizeBytes,
			&m.Width, &m.Height, &m.CreatedAt, &m.OptimizedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan media")
		}
		out = append(out, m)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list media iterate")
}

func (s *PostgresStore) CreateMedia(ctx context.Context, m *model.MediaAsset) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO media_assets (`+mediaColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		m.ID, m.PhotoRef, m.BusinessID, m.BlobKey, m.ContentType, m.SizeBytes, m.Width, m.Height,
		m.CreatedAt, m.OptimizedAt,
	)
	return eris.Wrapf(err, "postgres: insert media %s", m.PhotoRef)
}

func (s *PostgresStore) UpdateMedia(ctx context.Context, m *model.MediaAsset) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE media_assets SET business_id = $1, blob_key = $2, content_type = $3, size_bytes = $4,
		 width = $5, height = $6, optimized_at = $7 WHERE id = $8`,
		m.BusinessID, m.BlobKey, m.ContentType, m.SizeBytes, m.Width, m.Height, m.OptimizedAt, m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update media %s", m.ID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "media %s", m.ID)
	}
	return nil
}

func (s *PostgresStore) DeleteMedia(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM media_assets WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete media %s", id)
}

// Queue

var queueTaskColumns = []string{"id", "type", "payload", "enqueued_at"}

func (s *PostgresStore) EnqueueTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	out, err := prepareTasks(tasks, func() string { return uuid.New().String() }, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: begin enqueue")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var remaining int
	if err := tx.QueryRow(ctx, `SELECT COUNT(*) FROM queue_tasks`).Scan(&remaining); err != nil {
		return nil, eris.Wrap(err, "postgres: count queue")
	}

	rows := make([][]any, len(out))
	for i, t := range out {
		rows[i] = []any{t.ID, string(t.Type), []byte(t.Payload), now}
	}
	if _, err := db.CopyFrom(ctx, tx, "queue_tasks", queueTaskColumns, rows); err != nil {
		return nil, err
	}

	if remaining == 0 {
		_, err = tx.Exec(ctx,
			`INSERT INTO queue_run (id, total, started_at) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO UPDATE SET total = EXCLUDED.total, started_at = EXCLUDED.started_at`,
			len(out), now,
		)
	} else {
		_, err = tx.Exec(ctx,
			`INSERT INTO queue_run (id, total, started_at) VALUES (1, $1, $2)
			 ON CONFLICT (id) DO UPDATE SET total = queue_run.total + $3`,
			remaining+len(out), now, len(out),
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: update queue run")
	}

	return out, eris.Wrap(tx.Commit(ctx), "postgres: commit enqueue")
}

func (s *PostgresStore) PeekTasks(ctx context.Context, limit int) ([]model.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT seq, id, type, payload, enqueued_at FROM queue_tasks ORDER BY seq LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: peek tasks")
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		var t model.Task
		var payload []byte
		if err := rows.Scan(&t.Seq, &t.ID, &t.Type, &payload, &t.EnqueuedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task")
		}
		t.Payload = json.RawMessage(payload)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: peek tasks iterate")
}

func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM queue_tasks WHERE id = $1`, id)
	return eris.Wrapf(err, "postgres: delete task %s", id)
}

func (s *PostgresStore) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM queue_tasks`).Scan(&n)
	return n, eris.Wrap(err, "postgres: count tasks")
}

func (s *PostgresStore) GetQueueRun(ctx context.Context) (*model.QueueRun, error) {
	var r model.QueueRun
	err := s.pool.QueryRow(ctx, `SELECT total, started_at FROM queue_run WHERE id = 1`).
		Scan(&r.Total, &r.StartedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get queue run")
	}
	return &r, nil
}

func (s *PostgresStore) RecordTaskFailure(ctx context.Context, f *model.TaskFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}
	payload := []byte(f.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO task_failures (id, task_id, type, payload, error, error_kind, failed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		f.ID, f.TaskID, string(f.Type), payload, f.Error, f.ErrorKind, f.FailedAt,
	)
	return eris.Wrapf(err, "postgres: record task failure %s", f.TaskID)
}

func (s *PostgresStore) ListTaskFailures(ctx context.Context, limit int) ([]model.TaskFailure, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, task_id, type, payload, error, error_kind, failed_at
		 FROM task_failures ORDER BY failed_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list task failures")
	}
	defer rows.Close()

	var out []model.TaskFailure
	for rows.Next() {
		var f model.TaskFailure
		var payload []byte
		if err := rows.Scan(&f.ID, &f.TaskID, &f.Type, &payload, &f.Error, &f.ErrorKind, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan task failure")
		}
		f.Payload = json.RawMessage(payload)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list task failures iterate")
}

// Usage counters

func (s *PostgresStore) IncrementUsage(ctx context.Context, day, metric string, delta int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_counters (day, metric, count) VALUES ($1, $2, $3)
		 ON CONFLICT (day, metric) DO UPDATE SET count = usage_counters.count + EXCLUDED.count`,
		day, metric, delta,
	)
	return eris.Wrapf(err, "postgres: increment usage %s %s", day, metric)
}

func (s *PostgresStore) GetUsage(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT metric, count FROM usage_counters WHERE day = $1`, day)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get usage %s", day)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var metric string
		var n int
		if err := rows.Scan(&metric, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage")
		}
		out[metric] = n
	}
	return out, eris.Wrap(rows.Err(), "postgres: get usage iterate")
}

func (s *PostgresStore) ListUsage(ctx context.Context, fromDay, toDay string) ([]model.UsageCounter, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT day, metric, count FROM usage_counters WHERE day >= $1 AND day <= $2 ORDER BY day, metric`,
		fromDay, toDay,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list usage")
	}
	defer rows.Close()

	var out []model.UsageCounter
	for rows.Next() {
		var c model.UsageCounter
		if err := rows.Scan(&c.Day, &c.Metric, &c.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan usage counter")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list usage iterate")
}

// Search cache

func (s *PostgresStore) GetCachedSearch(ctx context.Context, key string) (*model.SearchCacheEntry, error) {
	var e model.SearchCacheEntry
	err := s.pool.QueryRow(ctx,
		`SELECT key, data, cached_at, expires_at FROM search_cache WHERE key = $1`, key,
	).Scan(&e.Key, &e.Data, &e.CachedAt, &e.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: get cached search")
	}
	return &e, nil
}

func (s *PostgresStore) SetCachedSearch(ctx context.Context, e *model.SearchCacheEntry) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO search_cache (key, data, cached_at, expires_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE SET data = $2, cached_at = $3, expires_at = $4`,
		e.Key, e.Data, e.CachedAt, e.ExpiresAt,
	)
	return eris.Wrap(err, "postgres: set cached search")
}

func (s *PostgresStore) DeleteExpiredSearches(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM search_cache WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired searches")
	}
	return int(tag.RowsAffected()), nil
}

// helpers

func scanPgBusiness(row pgx.Row) (*model.Business, error) {
	var b model.Business
	var cats, refs []byte

	err := row.Scan(&b.ID, &b.PlaceID, &b.Name, &b.Address, &b.Locality, &b.Latitude, &b.Longitude, &cats,
		&b.Rating, &b.RatingCount, &b.Status, &b.UpstreamStatus, &b.MapsURL, &b.Website, &b.Phone,
		&b.PrimaryPhoto, &refs, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan business")
	}
	if err := json.Unmarshal(cats, &b.Categories); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal categories")
	}
	if err := json.Unmarshal(refs, &b.PhotoRefs); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal photo refs")
	}
	return &b, nil
}

func collectBusinesses(rows pgx.Rows) ([]model.Business, error) {
	defer rows.Close()
	var out []model.Business
	for rows.Next() {
		b, err := scanPgBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "postgres: businesses iterate")
}
