package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/places-sync/internal/model"
	"github.com/sells-group/places-sync/internal/resilience"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection: pragmas are per-connection and SQLite has a single writer.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS businesses (
	id              TEXT PRIMARY KEY,
	place_id        TEXT NOT NULL UNIQUE,
	name            TEXT NOT NULL DEFAULT '',
	address         TEXT NOT NULL DEFAULT '',
	locality        TEXT NOT NULL DEFAULT '',
	latitude        REAL NOT NULL DEFAULT 0,
	longitude       REAL NOT NULL DEFAULT 0,
	categories      TEXT NOT NULL DEFAULT '[]',
	rating          REAL NOT NULL DEFAULT 0,
	rating_count    INTEGER NOT NULL DEFAULT 0,
	status          TEXT NOT NULL DEFAULT 'created',
	upstream_status TEXT NOT NULL DEFAULT '',
	maps_url        TEXT NOT NULL DEFAULT '',
	website         TEXT NOT NULL DEFAULT '',
	phone           TEXT NOT NULL DEFAULT '',
	primary_photo   TEXT,
	photo_refs      TEXT NOT NULL DEFAULT '[]',
	created_at      DATETIME NOT NULL,
	updated_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS localities (
	name       TEXT PRIMARY KEY,
	slug       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS media_assets (
	id           TEXT PRIMARY KEY,
	photo_ref    TEXT NOT NULL UNIQUE,
	business_id  TEXT NOT NULL,
	blob_key     TEXT NOT NULL,
	content_type TEXT NOT NULL DEFAULT '',
	size_bytes   INTEGER NOT NULL DEFAULT 0,
	width        INTEGER NOT NULL DEFAULT 0,
	height       INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL,
	optimized_at DATETIME
);

CREATE TABLE IF NOT EXISTS queue_tasks (
	seq         INTEGER PRIMARY KEY AUTOINCREMENT,
	id          TEXT NOT NULL UNIQUE,
	type        TEXT NOT NULL,
	payload     TEXT NOT NULL,
	enqueued_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS queue_run (
	id         INTEGER PRIMARY KEY CHECK (id = 1),
	total      INTEGER NOT NULL,
	started_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS task_failures (
	id         TEXT PRIMARY KEY,
	task_id    TEXT NOT NULL,
	type       TEXT NOT NULL,
	payload    TEXT NOT NULL,
	error      TEXT NOT NULL,
	error_kind TEXT NOT NULL,
	failed_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS usage_counters (
	day    TEXT NOT NULL,
	metric TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (day, metric)
);

CREATE TABLE IF NOT EXISTS search_cache (
	key        TEXT PRIMARY KEY,
	data       BLOB NOT NULL,
	cached_at  INTEGER NOT NULL,
	expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_locality ON businesses(locality);
CREATE INDEX IF NOT EXISTS idx_businesses_lat_lng ON businesses(latitude, longitude);
CREATE INDEX IF NOT EXISTS idx_localities_slug ON localities(slug);
CREATE INDEX IF NOT EXISTS idx_media_assets_business ON media_assets(business_id);
CREATE INDEX IF NOT EXISTS idx_task_failures_failed_at ON task_failures(failed_at);
CREATE INDEX IF NOT EXISTS idx_search_cache_expires_at ON search_cache(expires_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Businesses

const businessColumns = `id, place_id, name, address, locality, latitude, longitude, categories,
	rating, rating_count, status, upstream_status, maps_url, website, phone,
	primary_photo, photo_refs, created_at, updated_at`

func (s *SQLiteStore) FindBusinessesByPlaceID(ctx context.Context, placeID string) ([]model.Business, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+businessColumns+` FROM businesses WHERE place_id = ? ORDER BY created_at`,
		placeID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: find business %s", placeID)
	}
	return scanBusinessRows(rows)
}

func (s *SQLiteStore) GetBusiness(ctx context.Context, id string) (*model.Business, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+businessColumns+` FROM businesses WHERE id = ?`, id)
	b, err := scanBusiness(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(resilience.ErrNotFound, "sqlite: business %s", id)
	}
	return b, err
}

func (s *SQLiteStore) CreateBusiness(ctx context.Context, b *model.Business) error {
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
		return eris.Wrap(err, "sqlite: marshal categories")
	}
	refs, err := marshalStrings(b.PhotoRefs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal photo refs")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO businesses (`+businessColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.PlaceID, b.Name, b.Address, b.Locality, b.Latitude, b.Longitude, string(cats),
		b.Rating, b.RatingCount, string(b.Status), b.UpstreamStatus, b.MapsURL, b.Website, b.Phone,
		b.PrimaryPhoto, string(refs), now, now,
	)
	return eris.Wrapf(err, "sqlite: insert business %s", b.PlaceID)
}

func (s *SQLiteStore) UpdateBusiness(ctx context.Context, b *model.Business) error {
	cats, err := marshalStrings(b.Categories)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal categories")
	}
	b.UpdatedAt = time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET name = ?, address = ?, locality = ?, latitude = ?, longitude = ?,
		 categories = ?, rating = ?, rating_count = ?, upstream_status = ?, maps_url = ?,
		 website = ?, phone = ?, updated_at = ?
		 WHERE id = ?`,
		b.Name, b.Address, b.Locality, b.Latitude, b.Longitude,
		string(cats), b.Rating, b.RatingCount, b.UpstreamStatus, b.MapsURL,
		b.Website, b.Phone, b.UpdatedAt, b.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update business %s", b.ID)
	}
	return checkRowsAffected(res, "business", b.ID)
}

func (s *SQLiteStore) SetBusinessPhotos(ctx context.Context, businessID string, refs []string, primary *string) error {
	refsJSON, err := marshalStrings(refs)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal photo refs")
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE businesses SET photo_refs = ?, primary_photo = ?, updated_at = ? WHERE id = ?`,
		string(refsJSON), primary, time.Now().UTC(), businessID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: set photos %s", businessID)
	}
	return checkRowsAffected(res, "business", businessID)
}

func (s *SQLiteStore) ListBusinesses(ctx context.Context, filter model.BusinessFilter) ([]model.Business, error) {
	query := `SELECT ` + businessColumns + ` FROM businesses WHERE 1=1`
	var args []any

	if filter.Locality != "" {
		query += ` AND locality = ? COLLATE NOCASE`
		args = append(args, filter.Locality)
	}
	if filter.Category != "" {
		query += ` AND EXISTS (SELECT 1 FROM json_each(businesses.categories) WHERE json_each.value = ?)`
		args = append(args, filter.Category)
	}
	if filter.Query != "" {
		query += ` AND (name LIKE ? OR address LIKE ?)`
		like := "%" + filter.Query + "%"
		args = append(args, like, like)
	}

	box := radiusBox(filter)
	if box != nil {
		query += ` AND latitude BETWEEN ? AND ? AND longitude BETWEEN ? AND ?`
		args = append(args, box.MinLat, box.MaxLat, box.MinLng, box.MaxLng)
	}
	query += ` ORDER BY name, id`

	if box == nil {
		limit := filter.Limit
		if limit <= 0 {
			limit = defaultListLimit
		}
		query += ` LIMIT ?`
		args = append(args, limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list businesses")
	}
	list, err := scanBusinessRows(rows)
	if err != nil {
		return nil, err
	}
	if box != nil {
		list = refineRadius(list, filter)
	}
	return list, nil
}

// Localities

func (s *SQLiteStore) EnsureLocality(ctx context.Context, loc model.Locality) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO localities (name, slug, created_at) VALUES (?, ?, ?) ON CONFLICT (name) DO NOTHING`,
		loc.Name, loc.Slug, time.Now().UTC(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: ensure locality %s", loc.Name)
	}
	n, err := res.RowsAffected()
	return n == 1, eris.Wrap(err, "sqlite: rows affected")
}

func (s *SQLiteStore) ListLocalities(ctx context.Context) ([]model.Locality, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, slug, created_at FROM localities ORDER BY name`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list localities")
	}
	defer rows.Close()

	var out []model.Locality
	for rows.Next() {
		var l model.Locality
		if err := rows.Scan(&l.Name, &l.Slug, &l.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan locality")
		}
		out = append(out, l)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list localities iterate")
}

// Media

const mediaColumns = `id, photo_ref, business_id, blob_key, content_type, size_bytes, width, height, created_at, optimized_at`

func (s *SQLiteStore) GetMediaByRef(ctx context.Context, photoRef string) (*model.MediaAsset, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mediaColumns+` FROM media_assets WHERE photo_ref = ?`, photoRef)
	m, err := scanMedia(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return m, err
}

func (s *SQLiteStore) ListMedia(ctx context.Context, businessID string) ([]model.MediaAsset, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+mediaColumns+` FROM media_assets WHERE business_id = ? ORDER BY created_at, id`,
		businessID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list media %s", businessID)
	}
	defer rows.Close()

	var out []model.MediaAsset
	for rows.Next() {
		m, err := scanMedia(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list media iterate")
}

func (s *SQLiteStore) CreateMedia(ctx context.Context, m *model.MediaAsset) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO media_assets (`+mediaColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.PhotoRef, m.BusinessID, m.BlobKey, m.ContentType, m.SizeBytes, m.Width, m.Height,
		m.CreatedAt, m.OptimizedAt,
	)
	return eris.Wrapf(err, "sqlite: insert media %s", m.PhotoRef)
}

func (s *SQLiteStore) UpdateMedia(ctx context.Context, m *model.MediaAsset) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE media_assets SET business_id = ?, blob_key = ?, content_type = ?, size_bytes = ?,
		 width = ?, height = ?, optimized_at = ? WHERE id = ?`,
		m.BusinessID, m.BlobKey, m.ContentType, m.SizeBytes, m.Width, m.Height, m.OptimizedAt, m.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update media %s", m.ID)
	}
	return checkRowsAffected(res, "media", m.ID)
}

func (s *SQLiteStore) DeleteMedia(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM media_assets WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete media %s", id)
}

// Queue

func (s *SQLiteStore) EnqueueTasks(ctx context.Context, tasks []model.Task) ([]model.Task, error) {
	if len(tasks) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	out, err := prepareTasks(tasks, func() string { return uuid.New().String() }, now)
	if err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: begin enqueue")
	}
	defer tx.Rollback() //nolint:errcheck

	var remaining int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_tasks`).Scan(&remaining); err != nil {
		return nil, eris.Wrap(err, "sqlite: count queue")
	}

	for i := range out {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO queue_tasks (id, type, payload, enqueued_at) VALUES (?, ?, ?, ?)`,
			out[i].ID, string(out[i].Type), string(out[i].Payload), now,
		)
		if err != nil {
			return nil, eris.Wrapf(err, "sqlite: insert task %s", out[i].ID)
		}
		if out[i].Seq, err = res.LastInsertId(); err != nil {
			return nil, eris.Wrap(err, "sqlite: task seq")
		}
	}

	if remaining == 0 {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO queue_run (id, total, started_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET total = excluded.total, started_at = excluded.started_at`,
			len(out), now,
		)
	} else {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO queue_run (id, total, started_at) VALUES (1, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET total = queue_run.total + ?`,
			remaining+len(out), now, len(out),
		)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: update queue run")
	}

	return out, eris.Wrap(tx.Commit(), "sqlite: commit enqueue")
}

func (s *SQLiteStore) PeekTasks(ctx context.Context, limit int) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT seq, id, type, payload, enqueued_at FROM queue_tasks ORDER BY seq LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: peek tasks")
	}
	defer rows.Close()

	var out []model.Task
	for rows.Next() {
		var t model.Task
		var payload string
		if err := rows.Scan(&t.Seq, &t.ID, &t.Type, &payload, &t.EnqueuedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task")
		}
		t.Payload = json.RawMessage(payload)
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: peek tasks iterate")
}

func (s *SQLiteStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM queue_tasks WHERE id = ?`, id)
	return eris.Wrapf(err, "sqlite: delete task %s", id)
}

func (s *SQLiteStore) CountTasks(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queue_tasks`).Scan(&n)
	return n, eris.Wrap(err, "sqlite: count tasks")
}

func (s *SQLiteStore) GetQueueRun(ctx context.Context) (*model.QueueRun, error) {
	var r model.QueueRun
	err := s.db.QueryRowContext(ctx, `SELECT total, started_at FROM queue_run WHERE id = 1`).
		Scan(&r.Total, &r.StartedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get queue run")
	}
	return &r, nil
}

func (s *SQLiteStore) RecordTaskFailure(ctx context.Context, f *model.TaskFailure) error {
	if f.ID == "" {
		f.ID = uuid.New().String()
	}
	if f.FailedAt.IsZero() {
		f.FailedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO task_failures (id, task_id, type, payload, error, error_kind, failed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		f.ID, f.TaskID, string(f.Type), string(f.Payload), f.Error, f.ErrorKind, f.FailedAt,
	)
	return eris.Wrapf(err, "sqlite: record task failure %s", f.TaskID)
}

func (s *SQLiteStore) ListTaskFailures(ctx context.Context, limit int) ([]model.TaskFailure, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, task_id, type, payload, error, error_kind, failed_at
		 FROM task_failures ORDER BY failed_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list task failures")
	}
	defer rows.Close()

	var out []model.TaskFailure
	for rows.Next() {
		var f model.TaskFailure
		var payload string
		if err := rows.Scan(&f.ID, &f.TaskID, &f.Type, &payload, &f.Error, &f.ErrorKind, &f.FailedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan task failure")
		}
		f.Payload = json.RawMessage(payload)
		out = append(out, f)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list task failures iterate")
}

// Usage counters

func (s *SQLiteStore) IncrementUsage(ctx context.Context, day, metric string, delta int) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO usage_counters (day, metric, count) VALUES (?, ?, ?)
		 ON CONFLICT (day, metric) DO UPDATE SET count = count + excluded.count`,
		day, metric, delta,
	)
	return eris.Wrapf(err, "sqlite: increment usage %s %s", day, metric)
}

func (s *SQLiteStore) GetUsage(ctx context.Context, day string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT metric, count FROM usage_counters WHERE day = ?`, day)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get usage %s", day)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var metric string
		var n int
		if err := rows.Scan(&metric, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage")
		}
		out[metric] = n
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get usage iterate")
}

func (s *SQLiteStore) ListUsage(ctx context.Context, fromDay, toDay string) ([]model.UsageCounter, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT day, metric, count FROM usage_counters WHERE day >= ? AND day <= ? ORDER BY day, metric`,
		fromDay, toDay,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list usage")
	}
	defer rows.Close()

	var out []model.UsageCounter
	for rows.Next() {
		var c model.UsageCounter
		if err := rows.Scan(&c.Day, &c.Metric, &c.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan usage counter")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list usage iterate")
}

// Search cache

func (s *SQLiteStore) GetCachedSearch(ctx context.Context, key string) (*model.SearchCacheEntry, error) {
	var e model.SearchCacheEntry
	var cachedAt, expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT key, data, cached_at, expires_at FROM search_cache WHERE key = ?`, key,
	).Scan(&e.Key, &e.Data, &cachedAt, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get cached search")
	}
	e.CachedAt = time.UnixMilli(cachedAt).UTC()
	e.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return &e, nil
}

func (s *SQLiteStore) SetCachedSearch(ctx context.Context, e *model.SearchCacheEntry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO search_cache (key, data, cached_at, expires_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (key) DO UPDATE SET data = excluded.data, cached_at = excluded.cached_at,
		 expires_at = excluded.expires_at`,
		e.Key, e.Data, e.CachedAt.UnixMilli(), e.ExpiresAt.UnixMilli(),
	)
	return eris.Wrap(err, "sqlite: set cached search")
}

func (s *SQLiteStore) DeleteExpiredSearches(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM search_cache WHERE expires_at <= ?`, now.UnixMilli())
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired searches")
	}
	n, err := res.RowsAffected()
	return int(n), eris.Wrap(err, "sqlite: rows affected")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(resilience.ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanBusiness(row scannable) (*model.Business, error) {
	var b model.Business
	var cats, refs string
	var primary sql.NullString

	err := row.Scan(&b.ID, &b.PlaceID, &b.Name, &b.Address, &b.Locality, &b.Latitude, &b.Longitude, &cats,
		&b.Rating, &b.RatingCount, &b.Status, &b.UpstreamStatus, &b.MapsURL, &b.Website, &b.Phone,
		&primary, &refs, &b.CreatedAt, &b.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan business")
	}

	if err := json.Unmarshal([]byte(cats), &b.Categories); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal categories")
	}
	if err := json.Unmarshal([]byte(refs), &b.PhotoRefs); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal photo refs")
	}
	if primary.Valid {
		b.PrimaryPhoto = &primary.String
	}
	return &b, nil
}

func scanBusinessRows(rows *sql.Rows) ([]model.Business, error) {
	defer rows.Close()
	var out []model.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: businesses iterate")
}

func scanMedia(row scannable) (*model.MediaAsset, error) {
	var m model.MediaAsset
	var optimized sql.NullTime
	err := row.Scan(&m.ID, &m.PhotoRef, &m.BusinessID, &m.BlobKey, &m.ContentType, &m.SizeBytes,
		&m.Width, &m.Height, &m.CreatedAt, &optimized)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan media")
	}
	if optimized.Valid {
		t := optimized.Time
		m.OptimizedAt = &t
	}
	return &m, nil
}
