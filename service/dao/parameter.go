package dao

// Parameter is a name/value filter passed to List. A string value matches
// exactly; a []string value matches any of its members.
type Parameter struct {
	Name  string
	Value interface{}
}

// NewParameter creates a filter parameter. With a single value it matches
// that value, with several it matches any of them.
func NewParameter(name string, values ...string) *Parameter {
	if len(values) == 1 {
		return &Parameter{Name: name, Value: values[0]}
	}
	return &Parameter{Name: name, Value: values}
}

// Matches reports whether a field value satisfies the parameter.
func (p *Parameter) Matches(actual string) bool {
	switch expected := p.Value.(type) {
	case string:
		return actual == expected
	case []string:
		for _, value := range expected {
			if actual == value {
				return true
			}
		}
		return false
	}
	return true
}

// MatchAll evaluates every parameter against the field snapshot produced
// by a store's field selector. Parameters naming unknown fields do not
// match, so filters fail closed rather than returning everything.
func MatchAll(fields map[string]string, parameters []*Parameter) bool {
	for _, parameter := range parameters {
		actual, ok := fields[parameter.Name]
		if !ok {
			return false
		}
		if !parameter.Matches(actual) {
			return false
		}
	}
	return true
}
