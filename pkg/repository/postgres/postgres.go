// Package postgres is a pgxpool-backed implementation of
// repository.Repository. Studies and jobs live in plain tenant_id-scoped
// tables rather than a per-tenant schema/search_path model — a single
// shared deployment doesn't need that extra isolation layer; manifest,
// cost and result payloads are stored as JSONB columns scanned/encoded
// with encoding/json using a column-list-and-scan idiom.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/study"
)

const studyColumns = `id, tenant_id, manifest, status, total_cells, completed_cells, failed_cells,
	cancelled, created_at, started_at, completed_at, estimated_cost, actual_cost, failure_cause`

const jobColumns = `id, study_id, query_index, surface_id, location_id, status, attempts, last_error_code, result`

// Store is a Postgres-backed repository.Repository.
type Store struct {
	pool *pgxpool.Pool
}

// New returns a Store backed by the given pool. Schema migration is the
// deploying operator's responsibility; see schema.sql in this package.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func scanStudy(row pgx.Row) (*study.Study, error) {
	var s study.Study
	var manifestJSON, estCostJSON, actCostJSON []byte
	var failureCause *string

	err := row.Scan(
		&s.ID, &s.TenantID, &manifestJSON, &s.Status, &s.TotalCells, &s.CompletedCells, &s.FailedCells,
		&s.Cancelled, &s.CreatedAt, &s.StartedAt, &s.CompletedAt, &estCostJSON, &actCostJSON, &failureCause,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(manifestJSON, &s.Manifest); err != nil {
		return nil, fmt.Errorf("decoding study manifest: %w", err)
	}
	if len(estCostJSON) > 0 {
		if err := json.Unmarshal(estCostJSON, &s.EstimatedCost); err != nil {
			return nil, fmt.Errorf("decoding estimated cost: %w", err)
		}
	}
	if len(actCostJSON) > 0 {
		if err := json.Unmarshal(actCostJSON, &s.ActualCost); err != nil {
			return nil, fmt.Errorf("decoding actual cost: %w", err)
		}
	}
	if failureCause != nil {
		s.FailureCause = *failureCause
	}
	return &s, nil
}

func (s *Store) CreateStudy(ctx context.Context, st *study.Study) error {
	manifestJSON, err := json.Marshal(st.Manifest)
	if err != nil {
		return fmt.Errorf("encoding study manifest: %w", err)
	}
	estCostJSON, err := json.Marshal(st.EstimatedCost)
	if err != nil {
		return fmt.Errorf("encoding estimated cost: %w", err)
	}

	query := `INSERT INTO bentham.studies (id, tenant_id, manifest, status, total_cells, created_at, estimated_cost)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err = s.pool.Exec(ctx, query, st.ID, st.TenantID, manifestJSON, st.Status, st.TotalCells, st.CreatedAt, estCostJSON)
	if err != nil {
		return fmt.Errorf("creating study: %w", err)
	}
	return nil
}

func (s *Store) FindStudy(ctx context.Context, tenantID, studyID uuid.UUID) (*study.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM bentham.studies WHERE id = $1 AND tenant_id = $2`
	row := s.pool.QueryRow(ctx, query, studyID, tenantID)
	st, err := scanStudy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding study: %w", err)
	}
	return st, nil
}

// UpdateStudyStatus performs the compare-and-set update inside a single
// statement's WHERE clause: the UPDATE only matches a row when
// expected_status also matches, so a racing writer's update is a no-op
// that reports zero rows affected, surfaced as ErrConflict.
func (s *Store) UpdateStudyStatus(ctx context.Context, tenantID, studyID uuid.UUID, u repository.StudyUpdate) error {
	var actCostJSON []byte
	var err error
	if u.ActualCost != nil {
		actCostJSON, err = json.Marshal(*u.ActualCost)
		if err != nil {
			return fmt.Errorf("encoding actual cost: %w", err)
		}
	}

	query := `UPDATE bentham.studies SET
			status = COALESCE($3, status),
			completed_cells = completed_cells + $4,
			failed_cells = failed_cells + $5,
			started_at = CASE WHEN $6 AND started_at IS NULL THEN now() ELSE started_at END,
			completed_at = CASE WHEN $7 AND completed_at IS NULL THEN now() ELSE completed_at END,
			cancelled = COALESCE($8, cancelled),
			failure_cause = COALESCE($9, failure_cause),
			actual_cost = COALESCE($10, actual_cost)
		WHERE id = $1 AND tenant_id = $2 AND ($11::text IS NULL OR status = $11)`

	var expected *string
	if u.ExpectedStatus != nil {
		v := string(*u.ExpectedStatus)
		expected = &v
	}

	tag, err := s.pool.Exec(ctx, query,
		studyID, tenantID,
		u.Status, u.CompletedDelta, u.FailedDelta,
		boolOrFalse(u.StartedAt), boolOrFalse(u.CompletedAt),
		u.Cancelled, u.FailureCause, nilIfEmpty(actCostJSON), expected,
	)
	if err != nil {
		return fmt.Errorf("updating study: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "doesn't exist" from "CAS mismatch" with a lookup;
		// tenant-scoped existence failure also reports ErrNotFound.
		if _, err := s.FindStudy(ctx, tenantID, studyID); errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}
	return nil
}

// FindStudyByID is the Executor's tenant-agnostic lookup; never call it
// from a tenant-facing path.
func (s *Store) FindStudyByID(ctx context.Context, studyID uuid.UUID) (*study.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM bentham.studies WHERE id = $1`
	row := s.pool.QueryRow(ctx, query, studyID)
	st, err := scanStudy(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding study by id: %w", err)
	}
	return st, nil
}

func (s *Store) FindActiveStudies(ctx context.Context) ([]*study.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM bentham.studies WHERE status IN ($1, $2)`
	rows, err := s.pool.Query(ctx, query, study.Queued, study.Executing)
	if err != nil {
		return nil, fmt.Errorf("listing active studies: %w", err)
	}
	defer rows.Close()

	var out []*study.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning study row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func (s *Store) FindStudiesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*study.Study, error) {
	query := `SELECT ` + studyColumns + ` FROM bentham.studies WHERE tenant_id = $1 ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("listing studies: %w", err)
	}
	defer rows.Close()

	var out []*study.Study
	for rows.Next() {
		st, err := scanStudy(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning study row: %w", err)
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

func scanJob(row pgx.Row) (*job.Job, error) {
	var j job.Job
	var resultJSON []byte
	err := row.Scan(&j.ID, &j.StudyID, &j.QueryIndex, &j.SurfaceID, &j.LocationID, &j.Status, &j.Attempts, &j.LastErrorCode, &resultJSON)
	if err != nil {
		return nil, err
	}
	if len(resultJSON) > 0 {
		var r job.Result
		if err := json.Unmarshal(resultJSON, &r); err != nil {
			return nil, fmt.Errorf("decoding job result: %w", err)
		}
		j.Result = &r
	}
	return &j, nil
}

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	query := `INSERT INTO bentham.jobs (id, study_id, query_index, surface_id, location_id, status)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := s.pool.Exec(ctx, query, j.ID, j.StudyID, j.QueryIndex, j.SurfaceID, j.LocationID, j.Status)
	if err != nil {
		return fmt.Errorf("creating job: %w", err)
	}
	return nil
}

func (s *Store) FindJob(ctx context.Context, studyID, jobID uuid.UUID) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM bentham.jobs WHERE id = $1 AND study_id = $2`
	row := s.pool.QueryRow(ctx, query, jobID, studyID)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("finding job: %w", err)
	}
	return j, nil
}

func (s *Store) UpdateJob(ctx context.Context, studyID, jobID uuid.UUID, u repository.JobUpdate) error {
	var resultJSON []byte
	var err error
	if u.Result != nil {
		resultJSON, err = json.Marshal(*u.Result)
		if err != nil {
			return fmt.Errorf("encoding job result: %w", err)
		}
	}

	var expected *string
	if u.ExpectedStatus != nil {
		v := string(*u.ExpectedStatus)
		expected = &v
	}

	query := `UPDATE bentham.jobs SET
			status = COALESCE($3, status),
			attempts = attempts + $4,
			last_error_code = COALESCE($5, last_error_code),
			result = COALESCE($6, result)
		WHERE id = $1 AND study_id = $2 AND ($7::text IS NULL OR status = $7)`

	tag, err := s.pool.Exec(ctx, query, jobID, studyID, u.Status, u.AttemptsDelta, u.LastErrorCode, nilIfEmpty(resultJSON), expected)
	if err != nil {
		return fmt.Errorf("updating job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.FindJob(ctx, studyID, jobID); errors.Is(err, repository.ErrNotFound) {
			return repository.ErrNotFound
		}
		return repository.ErrConflict
	}
	return nil
}

func (s *Store) FindJobsByStudy(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM bentham.jobs WHERE study_id = $1`, studyID)
}

func (s *Store) FindPendingJobs(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error) {
	return s.queryJobs(ctx, `SELECT `+jobColumns+` FROM bentham.jobs WHERE study_id = $1 AND status = $2`, studyID, job.Pending)
}

func (s *Store) queryJobs(ctx context.Context, query string, args ...any) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning job row: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func boolOrFalse(b *bool) bool {
	if b == nil {
		return false
	}
	return *b
}

func nilIfEmpty(b []byte) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

var _ repository.Repository = (*Store)(nil)
