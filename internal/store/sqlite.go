package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/audience-cli/internal/model"
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
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close() //nolint:errcheck
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	matched_records     INTEGER NOT NULL DEFAULT 0,
	number_of_customers INTEGER NOT NULL DEFAULT 0,
	created_at          DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS audiences (
	job_id         TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	source_id      TEXT NOT NULL,
	size_method_id TEXT NOT NULL,
	features       TEXT NOT NULL,
	processed      INTEGER NOT NULL DEFAULT 0,
	total          INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_sources_name ON sources(name);
CREATE INDEX IF NOT EXISTS idx_audiences_source_id ON audiences(source_id);
CREATE INDEX IF NOT EXISTS idx_audiences_created_at ON audiences(created_at);
`

const sourceUpsertSQLite = `INSERT INTO sources (id, name, matched_records, number_of_customers, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	name = excluded.name,
	matched_records = excluded.matched_records,
	number_of_customers = excluded.number_of_customers`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertSource(ctx context.Context, src model.Source) error {
	if src.ID == "" {
		return eris.New("sqlite: source id is required")
	}
	_, err := s.db.ExecContext(ctx, sourceUpsertSQLite,
		src.ID, src.Name, src.MatchedRecords, src.NumberOfCustomers, time.Now().UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert source %s", src.ID)
}

func (s *SQLiteStore) ImportSources(ctx context.Context, srcs []model.Source) (int64, error) {
	if len(srcs) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import sources: begin tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, sourceUpsertSQLite)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: import sources: prepare")
	}
	defer stmt.Close() //nolint:errcheck

	now := time.Now().UTC()
	var n int64
	for _, src := range srcs {
		if src.ID == "" {
			return 0, eris.Errorf("sqlite: import sources: row %d has no id", n+1)
		}
		if _, err := stmt.ExecContext(ctx, src.ID, src.Name, src.MatchedRecords, src.NumberOfCustomers, now); err != nil {
			return 0, eris.Wrapf(err, "sqlite: import source %s", src.ID)
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: import sources: commit")
	}
	return n, nil
}

func (s *SQLiteStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, matched_records, number_of_customers, created_at FROM sources WHERE id = ?`,
		id,
	)
	src, err := scanSource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "source %s", id)
	}
	return src, eris.Wrapf(err, "sqlite: get source %s", id)
}

func (s *SQLiteStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT id, name, matched_records, number_of_customers, created_at FROM sources WHERE 1=1`
	var args []any

	if filter.Query != "" {
		query += ` AND name LIKE ? ESCAPE '\'`
		args = append(args, "%"+escapeLike(filter.Query)+"%")
	}
	query += ` ORDER BY name, id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sources")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan source")
		}
		out = append(out, *src)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sources iterate")
}

func (s *SQLiteStore) CreateAudience(ctx context.Context, a model.Audience) (*model.Audience, error) {
	if a.JobID == "" {
		return nil, eris.New("sqlite: audience job id is required")
	}
	featuresJSON, err := json.Marshal(nonNilFeatures(a.Features))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal features")
	}

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO audiences (job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.JobID, a.Name, a.SourceID, a.SizeMethodID, string(featuresJSON),
		a.Progress.Processed, a.Progress.Total, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: insert audience %s", a.JobID)
	}
	return &a, nil
}

func (s *SQLiteStore) GetAudience(ctx context.Context, jobID string) (*model.Audience, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at
		 FROM audiences WHERE job_id = ?`,
		jobID,
	)
	a, err := scanAudience(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "audience %s", jobID)
	}
	return a, eris.Wrapf(err, "sqlite: get audience %s", jobID)
}

func (s *SQLiteStore) ListAudiences(ctx context.Context, filter AudienceFilter) ([]model.Audience, error) {
	query := `SELECT job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at
		FROM audiences WHERE 1=1`
	var args []any

	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.ActiveOnly {
		query += ` AND (total = 0 OR processed < total)`
	}
	query += ` ORDER BY created_at DESC, job_id LIMIT ?`
	args = append(args, listLimit(filter.Limit))
	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list audiences")
	}
	defer rows.Close() //nolint:errcheck

	var out []model.Audience
	for rows.Next() {
		a, err := scanAudience(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan audience")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list audiences iterate")
}

func (s *SQLiteStore) UpdateAudienceProgress(ctx context.Context, jobID string, p model.ProgressSample) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE audiences SET processed = MAX(processed, ?), total = MAX(total, ?), updated_at = ? WHERE job_id = ?`,
		p.Processed, p.Total, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update audience progress %s", jobID)
	}
	return checkRowsAffected(res, "audience", jobID)
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanSource(row scannable) (*model.Source, error) {
	var src model.Source
	if err := row.Scan(&src.ID, &src.Name, &src.MatchedRecords, &src.NumberOfCustomers, &src.CreatedAt); err != nil {
		return nil, err
	}
	return &src, nil
}

func scanAudience(row scannable) (*model.Audience, error) {
	var a model.Audience
	var featuresJSON string
	err := row.Scan(&a.JobID, &a.Name, &a.SourceID, &a.SizeMethodID, &featuresJSON,
		&a.Progress.Processed, &a.Progress.Total, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(featuresJSON), &a.Features); err != nil {
		return nil, eris.Wrap(err, "unmarshal features")
	}
	return &a, nil
}

func nonNilFeatures(fs []model.Feature) []model.Feature {
	if fs == nil {
		return []model.Feature{}
	}
	return fs
}
