// Package model contains the in-memory representation of the engine's
// domain: action proposals, decisions and executions (model/action),
// playbook templates and runs (model/playbook, model/graph) and async jobs
// (model/job). The sub-packages hold pure data and invariant helpers; all
// behaviour lives in the services that operate on them.
package model
