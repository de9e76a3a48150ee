package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/audience-cli/internal/db"
	"github.com/sells-group/audience-cli/internal/model"
)

// PostgresStore implements Store using a pgx pool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a PostgresStore.
func NewPostgres(ctx context.Context, connString string, poolCfg db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Close is a no-op.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS sources (
	id                  TEXT PRIMARY KEY,
	name                TEXT NOT NULL,
	matched_records     BIGINT NOT NULL DEFAULT 0,
	number_of_customers BIGINT NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS audiences (
	job_id         TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	source_id      TEXT NOT NULL,
	size_method_id TEXT NOT NULL,
	features       JSONB NOT NULL DEFAULT '[]',
	processed      BIGINT NOT NULL DEFAULT 0 CHECK (processed >= 0),
	total          BIGINT NOT NULL DEFAULT 0 CHECK (total >= 0),
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_sources_name_lower ON sources(lower(name));
CREATE INDEX IF NOT EXISTS idx_audiences_source_id ON audiences(source_id);
CREATE INDEX IF NOT EXISTS idx_audiences_created_at ON audiences(created_at DESC);
`

var sourceColumns = []string{"id", "name", "matched_records", "number_of_customers", "created_at"}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
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

func (s *PostgresStore) UpsertSource(ctx context.Context, src model.Source) error {
	if src.ID == "" {
		return eris.New("postgres: source id is required")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, name, matched_records, number_of_customers, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			matched_records = EXCLUDED.matched_records,
			number_of_customers = EXCLUDED.number_of_customers`,
		src.ID, src.Name, src.MatchedRecords, src.NumberOfCustomers, time.Now().UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert source %s", src.ID)
}

// ImportSources bulk-loads sources through COPY. Existing rows keep their
// created_at.
func (s *PostgresStore) ImportSources(ctx context.Context, srcs []model.Source) (int64, error) {
	now := time.Now().UTC()
	rows := make([][]any, 0, len(srcs))
	for i, src := range srcs {
		if src.ID == "" {
			return 0, eris.Errorf("postgres: import sources: row %d has no id", i+1)
		}
		rows = append(rows, []any{src.ID, src.Name, src.MatchedRecords, src.NumberOfCustomers, now})
	}

	n, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "sources",
		Columns:      sourceColumns,
		ConflictKeys: []string{"id"},
		UpdateCols:   []string{"name", "matched_records", "number_of_customers"},
	}, rows)
	return n, eris.Wrap(err, "postgres: import sources")
}

func (s *PostgresStore) GetSource(ctx context.Context, id string) (*model.Source, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, name, matched_records, number_of_customers, created_at FROM sources WHERE id = $1`,
		id,
	)
	src, err := scanSource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "source %s", id)
	}
	return src, eris.Wrapf(err, "postgres: get source %s", id)
}

func (s *PostgresStore) ListSources(ctx context.Context, filter SourceFilter) ([]model.Source, error) {
	query := `SELECT id, name, matched_records, number_of_customers, created_at FROM sources WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Query != "" {
		query += fmt.Sprintf(` AND name ILIKE $%d`, argIdx)
		args = append(args, "%"+escapeLike(filter.Query)+"%")
		argIdx++
	}
	query += fmt.Sprintf(` ORDER BY name, id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sources")
	}
	defer rows.Close()

	var out []model.Source
	for rows.Next() {
		src, err := scanSource(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan source")
		}
		out = append(out, *src)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sources iterate")
}

func (s *PostgresStore) CreateAudience(ctx context.Context, a model.Audience) (*model.Audience, error) {
	if a.JobID == "" {
		return nil, eris.New("postgres: audience job id is required")
	}
	featuresJSON, err := json.Marshal(nonNilFeatures(a.Features))
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal features")
	}

	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	_, err = s.pool.Exec(ctx,
		`INSERT INTO audiences (job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.JobID, a.Name, a.SourceID, a.SizeMethodID, featuresJSON,
		a.Progress.Processed, a.Progress.Total, now, now,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert audience %s", a.JobID)
	}
	return &a, nil
}

func (s *PostgresStore) GetAudience(ctx context.Context, jobID string) (*model.Audience, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at
		 FROM audiences WHERE job_id = $1`,
		jobID,
	)
	a, err := scanAudiencePG(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "audience %s", jobID)
	}
	return a, eris.Wrapf(err, "postgres: get audience %s", jobID)
}

func (s *PostgresStore) ListAudiences(ctx context.Context, filter AudienceFilter) ([]model.Audience, error) {
	query := `SELECT job_id, name, source_id, size_method_id, features, processed, total, created_at, updated_at
		FROM audiences WHERE true`
	args := []any{}
	argIdx := 1

	if filter.SourceID != "" {
		query += fmt.Sprintf(` AND source_id = $%d`, argIdx)
		args = append(args, filter.SourceID)
		argIdx++
	}
	if filter.ActiveOnly {
		query += ` AND (total = 0 OR processed < total)`
	}
	query += fmt.Sprintf(` ORDER BY created_at DESC, job_id LIMIT $%d`, argIdx)
	args = append(args, listLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list audiences")
	}
	defer rows.Close()

	var out []model.Audience
	for rows.Next() {
		a, err := scanAudiencePG(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan audience")
		}
		out = append(out, *a)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list audiences iterate")
}

func (s *PostgresStore) UpdateAudienceProgress(ctx context.Context, jobID string, p model.ProgressSample) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE audiences SET processed = GREATEST(processed, $1), total = GREATEST(total, $2), updated_at = $3 WHERE job_id = $4`,
		p.Processed, p.Total, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update audience progress %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "audience %s", jobID)
	}
	return nil
}

func scanAudiencePG(row scannable) (*model.Audience, error) {
	var a model.Audience
	var featuresJSON []byte
	err := row.Scan(&a.JobID, &a.Name, &a.SourceID, &a.SizeMethodID, &featuresJSON,
		&a.Progress.Processed, &a.Progress.Total, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(featuresJSON, &a.Features); err != nil {
		return nil, eris.Wrap(err, "unmarshal features")
	}
	return &a, nil
}
