package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/autoact/autoact/model/graph"
	"github.com/autoact/autoact/model/playbook"
)

// evalContext carries everything a routing rule may address: the run's
// context snapshot, step outputs keyed by template step id, and the step
// rows for time_since_step_gte.
type evalContext struct {
	snapshot map[string]interface{}
	steps    map[string]*playbook.RunStep
	now      time.Time
}

// evalRule evaluates one routing rule. Unknown kinds and unresolvable
// fields never match.
func evalRule(rule *graph.Rule, ec *evalContext) (bool, string) {
	switch rule.Kind {
	case graph.RuleFieldEq:
		actual, ok := lookupField(ec, rule.Field)
		if !ok {
			return false, fmt.Sprintf("field %s not present", rule.Field)
		}
		matched := fmt.Sprint(actual) == fmt.Sprint(rule.Value)
		return matched, fmt.Sprintf("field %s = %v, want %v", rule.Field, actual, rule.Value)
	case graph.RuleFieldIn:
		actual, ok := lookupField(ec, rule.Field)
		if !ok {
			return false, fmt.Sprintf("field %s not present", rule.Field)
		}
		for _, candidate := range valueList(rule.Value) {
			if fmt.Sprint(actual) == candidate {
				return true, fmt.Sprintf("field %s = %v in %v", rule.Field, actual, rule.Value)
			}
		}
		return false, fmt.Sprintf("field %s = %v not in %v", rule.Field, actual, rule.Value)
	case graph.RuleFieldGte:
		actual, ok := lookupField(ec, rule.Field)
		if !ok {
			return false, fmt.Sprintf("field %s not present", rule.Field)
		}
		left, lok := toFloat(actual)
		right, rok := toFloat(rule.Value)
		if !lok || !rok {
			return false, fmt.Sprintf("field %s = %v not comparable to %v", rule.Field, actual, rule.Value)
		}
		return left >= right, fmt.Sprintf("field %s = %v >= %v", rule.Field, actual, rule.Value)
	case graph.RuleTimeSinceStepGte:
		step, ok := ec.steps[rule.Field]
		if !ok || !step.Settled() {
			return false, fmt.Sprintf("step %s has not settled yet", rule.Field)
		}
		threshold, ok := toDuration(rule.Value)
		if !ok {
			return false, fmt.Sprintf("unparseable duration %v", rule.Value)
		}
		elapsed := ec.now.Sub(step.UpdatedAt)
		return elapsed >= threshold, fmt.Sprintf("elapsed since step %s: %s, want >= %s", rule.Field, elapsed.Round(time.Second), threshold)
	default:
		return false, fmt.Sprintf("unknown rule kind %q never matches", rule.Kind)
	}
}

// lookupField resolves a dotted path. Paths starting with "steps.<id>."
// address a settled step's outputs; everything else addresses the run
// context snapshot.
func lookupField(ec *evalContext, path string) (interface{}, bool) {
	if path == "" {
		return nil, false
	}
	parts := strings.Split(path, ".")
	if parts[0] == "steps" && len(parts) > 2 {
		step, ok := ec.steps[parts[1]]
		if !ok {
			return nil, false
		}
		return lookupMap(step.Outputs, parts[2:])
	}
	return lookupMap(ec.snapshot, parts)
}

func lookupMap(m map[string]interface{}, parts []string) (interface{}, bool) {
	var current interface{} = m
	for _, part := range parts {
		asMap, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = asMap[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func valueList(value interface{}) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []interface{}:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	case nil:
		return nil
	default:
		return []string{fmt.Sprint(v)}
	}
}

func toFloat(value interface{}) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toDuration accepts either a duration string ("48h") or a number of
// seconds.
func toDuration(value interface{}) (time.Duration, bool) {
	switch v := value.(type) {
	case string:
		d, err := time.ParseDuration(v)
		return d, err == nil
	default:
		seconds, ok := toFloat(value)
		if !ok {
			return 0, false
		}
		return time.Duration(seconds * float64(time.Second)), true
	}
}
