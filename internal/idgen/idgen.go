// Package idgen issues the uuid identifiers used for decisions, executions,
// jobs and runs.
package idgen

import "github.com/google/uuid"

// NewFunc produces identifiers. Tests swap it for a deterministic sequence.
var NewFunc = func() string { return uuid.New().String() }

// New returns a fresh identifier from NewFunc.
func New() string { return NewFunc() }
