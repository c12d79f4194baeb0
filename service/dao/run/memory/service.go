// Package memory provides the in-memory run/step store.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/dao"
	daorun "github.com/autoact/autoact/service/dao/run"
)

type service struct {
	mu    sync.RWMutex
	runs  map[string]*playbook.Run
	steps map[string]*playbook.RunStep
	byRun map[string][]string
}

var _ daorun.Store = (*service)(nil)

// New creates an empty in-memory run store.
func New() daorun.Store {
	return &service{
		runs:  map[string]*playbook.Run{},
		steps: map[string]*playbook.RunStep{},
		byRun: map[string][]string{},
	}
}

func (s *service) SaveRun(_ context.Context, record *playbook.Run) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *record
	s.runs[record.ID] = &copied
	return nil
}

func (s *service) LoadRun(_ context.Context, id string) (*playbook.Run, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.runs[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *service) ListRuns(_ context.Context, parameters ...*dao.Parameter) ([]*playbook.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.Run, 0, len(s.runs))
	for _, record := range s.runs {
		fields := map[string]string{
			"Status":         string(record.Status),
			"OrganizationID": record.OrganizationID,
			"TemplateID":     record.TemplateID,
		}
		if !dao.MatchAll(fields, parameters) {
			continue
		}
		copied := *record
		out = append(out, &copied)
	}
	return out, nil
}

func (s *service) SaveStep(_ context.Context, record *playbook.RunStep) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.steps[record.ID]; !ok {
		s.byRun[record.RunID] = append(s.byRun[record.RunID], record.ID)
	}
	copied := *record
	s.steps[record.ID] = &copied
	return nil
}

func (s *service) LoadStep(_ context.Context, id string) (*playbook.RunStep, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.steps[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	copied := *record
	return &copied, nil
}

func (s *service) ListSteps(_ context.Context, runID string) ([]*playbook.RunStep, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*playbook.RunStep, 0, len(s.byRun[runID]))
	for _, id := range s.byRun[runID] {
		if record, ok := s.steps[id]; ok {
			copied := *record
			out = append(out, &copied)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Order < out[j].Order })
	return out, nil
}
