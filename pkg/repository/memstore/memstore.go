// Package memstore is an in-memory, mutex-guarded implementation of
// repository.Repository. It is the zero-config default wiring (no
// external database required) and the backing store for the package's
// own unit tests; pkg/repository/postgres is the production-grade
// alternative.
package memstore

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/benthamhq/bentham/pkg/job"
	"github.com/benthamhq/bentham/pkg/repository"
	"github.com/benthamhq/bentham/pkg/study"
)

// Store is an in-memory Repository. All methods are safe for concurrent
// use; a single RWMutex guards both maps, matching the short-critical-
// section discipline shared study/job state needs under concurrent access.
type Store struct {
	mu       sync.RWMutex
	studies  map[uuid.UUID]*study.Study
	jobs     map[uuid.UUID]map[uuid.UUID]*job.Job // studyID -> jobID -> job
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		studies: make(map[uuid.UUID]*study.Study),
		jobs:    make(map[uuid.UUID]map[uuid.UUID]*job.Job),
	}
}

func (s *Store) CreateStudy(ctx context.Context, st *study.Study) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := st.Clone()
	s.studies[st.ID] = &cp
	s.jobs[st.ID] = make(map[uuid.UUID]*job.Job)
	return nil
}

func (s *Store) FindStudy(ctx context.Context, tenantID, studyID uuid.UUID) (*study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[studyID]
	if !ok || st.TenantID != tenantID {
		return nil, repository.ErrNotFound
	}
	cp := st.Clone()
	return &cp, nil
}

func (s *Store) UpdateStudyStatus(ctx context.Context, tenantID, studyID uuid.UUID, u repository.StudyUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.studies[studyID]
	if !ok || st.TenantID != tenantID {
		return repository.ErrNotFound
	}

	if u.ExpectedStatus != nil && st.Status != *u.ExpectedStatus {
		return repository.ErrConflict
	}

	if u.Status != nil {
		st.Status = *u.Status
	}
	st.CompletedCells += u.CompletedDelta
	st.FailedCells += u.FailedDelta
	if u.StartedAt != nil && *u.StartedAt && st.StartedAt == nil {
		now := time.Now()
		st.StartedAt = &now
	}
	if u.CompletedAt != nil && *u.CompletedAt && st.CompletedAt == nil {
		now := time.Now()
		st.CompletedAt = &now
	}
	if u.Cancelled != nil {
		st.Cancelled = *u.Cancelled
	}
	if u.FailureCause != nil {
		st.FailureCause = *u.FailureCause
	}
	if u.ActualCost != nil {
		st.ActualCost = *u.ActualCost
	}
	return nil
}

func (s *Store) FindStudyByID(ctx context.Context, studyID uuid.UUID) (*study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.studies[studyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := st.Clone()
	return &cp, nil
}

func (s *Store) FindActiveStudies(ctx context.Context) ([]*study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*study.Study
	for _, st := range s.studies {
		if st.Status == study.Queued || st.Status == study.Executing {
			cp := st.Clone()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) FindStudiesByTenant(ctx context.Context, tenantID uuid.UUID) ([]*study.Study, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*study.Study
	for _, st := range s.studies {
		if st.TenantID == tenantID {
			cp := st.Clone()
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStudy, ok := s.jobs[j.StudyID]
	if !ok {
		byStudy = make(map[uuid.UUID]*job.Job)
		s.jobs[j.StudyID] = byStudy
	}
	cp := *j
	byStudy[j.ID] = &cp
	return nil
}

func (s *Store) FindJob(ctx context.Context, studyID, jobID uuid.UUID) (*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStudy, ok := s.jobs[studyID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	j, ok := byStudy[jobID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *Store) UpdateJob(ctx context.Context, studyID, jobID uuid.UUID, u repository.JobUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	byStudy, ok := s.jobs[studyID]
	if !ok {
		return repository.ErrNotFound
	}
	j, ok := byStudy[jobID]
	if !ok {
		return repository.ErrNotFound
	}

	if u.ExpectedStatus != nil && j.Status != *u.ExpectedStatus {
		return repository.ErrConflict
	}

	if u.Status != nil {
		j.Status = *u.Status
	}
	j.Attempts += u.AttemptsDelta
	if u.LastErrorCode != nil {
		j.LastErrorCode = *u.LastErrorCode
	}
	if u.Result != nil {
		j.Result = u.Result
	}
	return nil
}

func (s *Store) FindJobsByStudy(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStudy, ok := s.jobs[studyID]
	if !ok {
		return nil, nil
	}
	out := make([]*job.Job, 0, len(byStudy))
	for _, j := range byStudy {
		cp := *j
		out = append(out, &cp)
	}
	return out, nil
}

func (s *Store) FindPendingJobs(ctx context.Context, studyID uuid.UUID) ([]*job.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	byStudy, ok := s.jobs[studyID]
	if !ok {
		return nil, nil
	}
	var out []*job.Job
	for _, j := range byStudy {
		if j.Status == job.Pending {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

var _ repository.Repository = (*Store)(nil)
