// Package memory provides the in-memory execution record store.
package memory

import (
	"context"
	"sync"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/dao"
	"github.com/autoact/autoact/service/dao/execution"
)

type service struct {
	mu         sync.RWMutex
	byID       map[string]*action.Execution
	byDecision map[string][]*action.Execution
}

var _ execution.Store = (*service)(nil)

// New creates an empty in-memory execution store.
func New() execution.Store {
	return &service{
		byID:       map[string]*action.Execution{},
		byDecision: map[string][]*action.Execution{},
	}
}

func (s *service) Insert(_ context.Context, record *action.Execution) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Status == action.ExecutionSuccess {
		for _, existing := range s.byDecision[record.DecisionID] {
			if existing.Status == action.ExecutionSuccess {
				return dao.ErrConflict
			}
		}
	}
	s.byID[record.ID] = record
	s.byDecision[record.DecisionID] = append(s.byDecision[record.DecisionID], record)
	return nil
}

func (s *service) Load(_ context.Context, id string) (*action.Execution, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byID[id]
	if !ok {
		return nil, dao.ErrNotFound
	}
	return record, nil
}

func (s *service) FindSuccess(_ context.Context, decisionID string) (*action.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.byDecision[decisionID] {
		if record.Status == action.ExecutionSuccess {
			return record, nil
		}
	}
	return nil, nil
}

func (s *service) ListByDecision(_ context.Context, decisionID string) ([]*action.Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*action.Execution(nil), s.byDecision[decisionID]...), nil
}
