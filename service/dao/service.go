// Package dao defines the generic persistence contract shared by the
// engine's stores, plus the sentinel errors callers rely on to detect
// missing entities without string comparisons.
package dao

import (
	"context"
)

// Service is the generic CRUD contract implemented by entity stores.
// Domain stores extend it with invariant-enforcing operations (conditional
// claims, active-row lookups) on their own interfaces.
type Service[K comparable, T any] interface {
	Save(ctx context.Context, t *T) error

	Load(ctx context.Context, id K) (*T, error)

	Delete(ctx context.Context, id K) error

	List(ctx context.Context, parameters ...*Parameter) ([]*T, error)
}
