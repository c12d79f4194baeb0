// Package autoact is an action orchestration engine: proposed automated
// actions flow through an append-only decision ledger, approved actions are
// executed exactly once through registered executors, and multi-step
// playbooks advance one settled step at a time through a durable job queue.
//
// The root Service wires the sub-services together with in-memory defaults
// so that an engine is usable out of the box:
//
//	svc, err := autoact.New()
//	if err != nil { ... }
//	svc.Executors().Register(action.TypeTaskCreate, myExecutor)
//	if err := svc.Start(ctx); err != nil { ... }
//	defer svc.Shutdown()
//
// Production deployments swap the defaults for the SQLite-backed stores via
// WithStorage.
package autoact
