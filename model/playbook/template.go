// Package playbook defines playbook templates, runs and run steps.
// Templates are authored as graphs (model/graph); a run materialises the
// template into per-step state rows at creation time and owns them
// exclusively afterwards.
package playbook

import (
	"fmt"
	"time"

	"github.com/autoact/autoact/model/graph"
)

// TemplateStatus is the template lifecycle state.
type TemplateStatus string

const (
	TemplateDraft      TemplateStatus = "DRAFT"
	TemplatePublished  TemplateStatus = "PUBLISHED"
	TemplateDeprecated TemplateStatus = "DEPRECATED"
)

// Template is a playbook definition. Only DRAFT templates are mutable;
// publishing freezes the graph into a snapshot consumed by runs.
type Template struct {
	ID            string         `json:"id" yaml:"id"`
	Key           string         `json:"key" yaml:"key"`
	Title         string         `json:"title" yaml:"title"`
	TriggerSignal string         `json:"triggerSignal" yaml:"triggerSignal"`
	Graph         *graph.Graph   `json:"graph" yaml:"graph"`
	Version       int            `json:"version" yaml:"version"`
	Status        TemplateStatus `json:"status" yaml:"status"`
	CreatedAt     time.Time      `json:"createdAt" yaml:"createdAt"`
	UpdatedAt     time.Time      `json:"updatedAt" yaml:"updatedAt"`
}

// Validate checks template-level requirements on top of full graph
// validation: a trigger signal and a non-nil graph.
func (t *Template) Validate() []graph.Issue {
	var issues []graph.Issue
	if t.TriggerSignal == "" {
		issues = append(issues, graph.Issue{Code: "trigger_signal_missing", Message: "template requires a trigger signal"})
	}
	if t.Graph == nil {
		issues = append(issues, graph.Issue{Code: "graph_missing", Message: "template requires a graph"})
		return issues
	}
	return append(issues, t.Graph.Validate()...)
}

// Mutable reports whether the template may still be edited.
func (t *Template) Mutable() bool {
	return t.Status == TemplateDraft
}

// Publish freezes a valid draft. The version is bumped so consumers can
// tell snapshots apart.
func (t *Template) Publish() error {
	if t.Status != TemplateDraft {
		return fmt.Errorf("template %s is %s, only drafts can be published", t.Key, t.Status)
	}
	if issues := t.Validate(); len(issues) > 0 {
		return fmt.Errorf("template %s is invalid: %s", t.Key, issues[0])
	}
	t.Status = TemplatePublished
	t.Version++
	t.UpdatedAt = time.Now()
	return nil
}

// Deprecate retires a published template. Existing runs keep their frozen
// snapshot; new runs must not be created from it.
func (t *Template) Deprecate() error {
	if t.Status != TemplatePublished {
		return fmt.Errorf("template %s is %s, only published templates can be deprecated", t.Key, t.Status)
	}
	t.Status = TemplateDeprecated
	t.UpdatedAt = time.Now()
	return nil
}

// Steps returns the template's linearised step view.
func (t *Template) Steps() []*graph.Step {
	if t.Graph == nil {
		return nil
	}
	return graph.GraphToSteps(t.Graph)
}
