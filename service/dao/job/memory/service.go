// Package memory provides the in-memory job store. Claim is a
// compare-and-set under the store mutex – the same winner-takes-all
// semantics the relational store gets from its conditional UPDATE.
package memory

import (
	"context"
	"sync"
	"time"

	modeljob "github.com/autoact/autoact/model/job"
	"github.com/autoact/autoact/service/dao"
	daojob "github.com/autoact/autoact/service/dao/job"
)

type service struct {
	mu   sync.RWMutex
	jobs map[string]*modeljob.Job
}

var _ daojob.Store = (*service)(nil)

// New creates an empty in-memory job store.
func New() daojob.Store {
	return &service{jobs: map[string]*modeljob.Job{}}
}

func (s *service) Insert(_ context.Context, record *modeljob.Job) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[record.ID]; ok {
		return dao.ErrConflict
	}
	// one active job per (type, entity) slot, checked under the same lock
	// the relational store covers with its partial unique index
	if record.Status.Active() {
		for _, existing := range s.jobs {
			if existing.Type == record.Type && existing.EntityID == record.EntityID && existing.Status.Active() {
				return dao.ErrConflict
			}
		}
	}
	s.jobs[record.ID] = record.Clone()
	return nil
}

func (s *service) Load(_ context.Context, id string) (*modeljob.Job, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.jobs[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return record.Clone(), nil
}

func (s *service) FindActive(_ context.Context, jobType modeljob.Type, entityID string) (*modeljob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.jobs {
		if record.Type == jobType && record.EntityID == entityID && record.Status.Active() {
			return record.Clone(), nil
		}
	}
	return nil, nil
}

func (s *service) Claim(_ context.Context, id string) (bool, error) {
	if id == "" {
		return false, dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.jobs[id]
	if !ok {
		return false, dao.ErrNotFound
	}
	if record.Status != modeljob.StatusQueued {
		return false, nil
	}
	now := time.Now()
	record.Status = modeljob.StatusRunning
	record.StartedAt = &now
	record.Attempts++
	return true, nil
}

func (s *service) Update(_ context.Context, record *modeljob.Job) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[record.ID]; !ok {
		return dao.ErrNotFound
	}
	// an update reviving a job must not occupy an already-held slot
	if record.Status.Active() {
		for _, existing := range s.jobs {
			if existing.ID != record.ID && existing.Type == record.Type &&
				existing.EntityID == record.EntityID && existing.Status.Active() {
				return dao.ErrConflict
			}
		}
	}
	s.jobs[record.ID] = record.Clone()
	return nil
}

func (s *service) List(_ context.Context, parameters ...*dao.Parameter) ([]*modeljob.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*modeljob.Job, 0, len(s.jobs))
	for _, record := range s.jobs {
		fields := map[string]string{
			"Status":         string(record.Status),
			"Type":           string(record.Type),
			"OrganizationID": record.OrganizationID,
			"EntityID":       record.EntityID,
		}
		if !dao.MatchAll(fields, parameters) {
			continue
		}
		out = append(out, record.Clone())
	}
	return out, nil
}
