// Package memory provides the in-memory policy rule store.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/autoact/autoact/policy"
	"github.com/autoact/autoact/service/dao"
	daorule "github.com/autoact/autoact/service/dao/rule"
	"github.com/autoact/autoact/service/dao/store"
)

type service struct {
	store *store.MemoryStore[string, policy.Rule]

	mu  sync.Mutex
	seq int64
}

var _ daorule.Store = (*service)(nil)

func ruleKey(r *policy.Rule) string { return r.ID }

func ruleFields(r *policy.Rule) map[string]string {
	return map[string]string{
		"OrganizationID": r.OrganizationID,
		"ActionType":     r.ActionType,
		"Scope":          r.Scope,
	}
}

// New creates an empty in-memory rule store.
func New() daorule.Store {
	return &service{store: store.NewMemoryStore[string, policy.Rule](ruleKey, ruleFields)}
}

func (s *service) Save(ctx context.Context, record *policy.Rule) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	s.mu.Lock()
	if record.Seq == 0 {
		s.seq++
		record.Seq = s.seq
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}
	s.mu.Unlock()
	return s.store.Save(ctx, record)
}

func (s *service) Load(ctx context.Context, id string) (*policy.Rule, error) {
	return s.store.Load(ctx, id)
}

func (s *service) Delete(ctx context.Context, id string) error {
	return s.store.Delete(ctx, id)
}

func (s *service) ListByOrg(ctx context.Context, orgID string) ([]*policy.Rule, error) {
	return s.store.List(ctx, dao.NewParameter("OrganizationID", orgID))
}

func (s *service) ListEnabled(ctx context.Context, orgID, actionType, scope string) ([]*policy.Rule, error) {
	rules, err := s.store.List(ctx,
		dao.NewParameter("OrganizationID", orgID),
		dao.NewParameter("ActionType", actionType),
		dao.NewParameter("Scope", scope))
	if err != nil {
		return nil, err
	}
	out := make([]*policy.Rule, 0, len(rules))
	for _, rule := range rules {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out, nil
}
