// Package policy decides whether an action proposal may bypass human
// approval.  Evaluation is deterministic and side-effect free apart from a
// bounded count query; guardrails hard-block auto-approval regardless of
// rule configuration and unknown condition kinds fail closed.
package policy
