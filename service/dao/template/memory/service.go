// Package memory provides the in-memory template store.
package memory

import (
	"context"
	"fmt"

	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/dao"
	"github.com/autoact/autoact/service/dao/store"
	daotemplate "github.com/autoact/autoact/service/dao/template"
)

type service struct {
	store *store.MemoryStore[string, playbook.Template]
}

var _ daotemplate.Store = (*service)(nil)

func templateKey(t *playbook.Template) string { return t.ID }

func templateFields(t *playbook.Template) map[string]string {
	return map[string]string{"Key": t.Key, "Status": string(t.Status)}
}

// New creates an empty in-memory template store.
func New() daotemplate.Store {
	return &service{store: store.NewMemoryStore[string, playbook.Template](templateKey, templateFields)}
}

func (s *service) Save(ctx context.Context, record *playbook.Template) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}
	existing, err := s.store.Load(ctx, record.ID)
	if err == nil && existing != nil && !existing.Mutable() && existing.Status == record.Status {
		return fmt.Errorf("template %s is %s and cannot be modified: %w", record.Key, existing.Status, dao.ErrConflict)
	}
	return s.store.Save(ctx, record)
}

func (s *service) Load(ctx context.Context, id string) (*playbook.Template, error) {
	return s.store.Load(ctx, id)
}

func (s *service) LoadByKey(ctx context.Context, key string) (*playbook.Template, error) {
	matches, err := s.store.List(ctx, dao.NewParameter("Key", key))
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, dao.ErrNotFound
	}
	return matches[0], nil
}

func (s *service) List(ctx context.Context) ([]*playbook.Template, error) {
	return s.store.List(ctx)
}
