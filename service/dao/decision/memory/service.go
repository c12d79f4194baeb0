// Package memory provides an in-memory decision store. The
// single-active-approval invariant is enforced with a check-then-insert
// under the store mutex, matching what the relational store does with a
// partial unique index.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/dao"
	"github.com/autoact/autoact/service/dao/decision"
)

type service struct {
	mu         sync.RWMutex
	byID       map[string]*action.Decision
	byProposal map[string][]*action.Decision
}

var _ decision.Store = (*service)(nil)

// New creates an empty in-memory decision store.
func New() decision.Store {
	return &service{
		byID:       map[string]*action.Decision{},
		byProposal: map[string][]*action.Decision{},
	}
}

func (s *service) Insert(_ context.Context, record *action.Decision) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.Decision.Active() {
		for _, existing := range s.byProposal[record.ProposalID] {
			if existing.Decision.Active() {
				return dao.ErrConflict
			}
		}
	}
	s.byID[record.ID] = record
	s.byProposal[record.ProposalID] = append(s.byProposal[record.ProposalID], record)
	return nil
}

func (s *service) Load(_ context.Context, id string) (*action.Decision, error) {
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

func (s *service) FindActive(_ context.Context, proposalID string) (*action.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, record := range s.byProposal[proposalID] {
		if record.Decision.Active() {
			return record, nil
		}
	}
	return nil, nil
}

func (s *service) ListByProposal(_ context.Context, proposalID string) ([]*action.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*action.Decision(nil), s.byProposal[proposalID]...), nil
}

func (s *service) CountByDeciderSince(_ context.Context, orgID, deciderID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, record := range s.byID {
		if record.OrganizationID == orgID && record.DecidedBy == deciderID && !record.CreatedAt.Before(since) {
			count++
		}
	}
	return count, nil
}
