// Package fs implements a filesystem-backed template store so playbook
// definitions can be authored as YAML files and versioned alongside code.
package fs

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/autoact/autoact/model/playbook"
	"github.com/autoact/autoact/service/dao"
	daotemplate "github.com/autoact/autoact/service/dao/template"
)

// Service stores each template as <basePath>/<id>.yaml.
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

var _ daotemplate.Store = (*Service)(nil)

// New creates a filesystem template store rooted at basePath, creating the
// directory when missing.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fileService := afs.New()
	ctx := context.Background()
	exists, _ := fileService.Exists(ctx, basePath)
	if !exists {
		if err := fileService.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	return &Service{
		basePath: url.Normalize(basePath, file.Scheme),
		fs:       fileService,
	}, nil
}

// Save persists a template as YAML. Published and deprecated templates are
// frozen snapshots and refuse further edits.
func (s *Service) Save(ctx context.Context, record *playbook.Template) error {
	if record == nil {
		return dao.ErrNilEntity
	}
	if record.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.load(ctx, record.ID); err == nil && existing != nil {
		if !existing.Mutable() && existing.Status == record.Status {
			return fmt.Errorf("template %s is %s and cannot be modified: %w", record.Key, existing.Status, dao.ErrConflict)
		}
	}

	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal template: %w", err)
	}
	filePath := s.templatePath(record.ID)
	if err := s.fs.Upload(ctx, filePath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to save template to %s: %w", filePath, err)
	}
	return nil
}

// Load retrieves a template by id.
func (s *Service) Load(ctx context.Context, id string) (*playbook.Template, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load(ctx, id)
}

func (s *Service) load(ctx context.Context, id string) (*playbook.Template, error) {
	filePath := s.templatePath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check template %s: %w", id, err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}
	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read template file: %w", err)
	}
	var record playbook.Template
	if err := yaml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to unmarshal template %s: %w", id, err)
	}
	return &record, nil
}

// LoadByKey scans the base path for a template with the given key.
func (s *Service) LoadByKey(ctx context.Context, key string) (*playbook.Template, error) {
	templates, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for _, record := range templates {
		if record.Key == key {
			return record, nil
		}
	}
	return nil, dao.ErrNotFound
}

// List returns every template stored under the base path.
func (s *Service) List(ctx context.Context) ([]*playbook.Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(true))
	if err != nil {
		return nil, fmt.Errorf("failed to list template files: %w", err)
	}
	var templates []*playbook.Template
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".yaml") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var record playbook.Template
		if err := yaml.Unmarshal(data, &record); err != nil {
			continue
		}
		templates = append(templates, &record)
	}
	return templates, nil
}

func (s *Service) templatePath(id string) string {
	return path.Join(s.basePath, fmt.Sprintf("%s.yaml", id))
}
