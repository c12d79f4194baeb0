// Package nop provides an executor that performs no side effect. It is used
// in tests and as a placeholder binding for action types whose integration
// is not yet wired.
package nop

import (
	"context"

	"github.com/autoact/autoact/model/action"
	"github.com/autoact/autoact/service/executor"
)

// Service is the no-op executor.
type Service struct{}

var (
	_ executor.Executor  = (*Service)(nil)
	_ executor.DryRunner = (*Service)(nil)
)

// New creates the no-op executor.
func New() *Service {
	return &Service{}
}

// Execute does nothing and reports success.
func (s *Service) Execute(_ context.Context, payload map[string]interface{}, _ executor.Metadata) (map[string]interface{}, error) {
	return map[string]interface{}{"noop": true, "payload_keys": len(payload)}, nil
}

// Plan describes the (absent) side effect.
func (s *Service) Plan(_ context.Context, _ map[string]interface{}, _ executor.Metadata) (*action.Plan, error) {
	return &action.Plan{WouldDo: []string{"perform no operation"}}, nil
}
