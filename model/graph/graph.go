// Package graph models a playbook template as a typed directed graph.  The
// graph is the domain representation – persistence layers serialise it to a
// blob at the storage boundary and deserialise it back through this package.
package graph

type (
	// NodeType is the closed set of node kinds a template may contain.
	NodeType string

	// Node is a single vertex of a playbook template.
	Node struct {
		ID         string                 `json:"id" yaml:"id"`
		Type       NodeType               `json:"type" yaml:"type"`
		Title      string                 `json:"title,omitempty" yaml:"title,omitempty"`
		ActionType string                 `json:"actionType,omitempty" yaml:"actionType,omitempty"`
		Payload    map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`
		Rules      []*Rule                `json:"rules,omitempty" yaml:"rules,omitempty"`
		Optional   bool                   `json:"optional,omitempty" yaml:"optional,omitempty"`
	}

	// Edge is a directed, optionally labelled connection between two nodes.
	// Branch nodes label their edges with the matching rule ("else" marks
	// the fallback path).
	Edge struct {
		From  string `json:"from" yaml:"from"`
		To    string `json:"to" yaml:"to"`
		Label string `json:"label,omitempty" yaml:"label,omitempty"`
	}

	// Graph is the full template body: vertices, edges and free-form meta.
	Graph struct {
		Nodes []*Node                `json:"nodes" yaml:"nodes"`
		Edges []*Edge                `json:"edges" yaml:"edges"`
		Meta  map[string]interface{} `json:"meta,omitempty" yaml:"meta,omitempty"`
	}

	// RuleKind is the closed set of branch/check/wait condition kinds.
	// Unknown kinds never match – routing fails closed.
	RuleKind string

	// Rule is one routing condition attached to a BRANCH, CHECK, WAIT or
	// AI_ROUTER node. Field addresses a dotted path into the run context.
	Rule struct {
		ID       string      `json:"id,omitempty" yaml:"id,omitempty"`
		Kind     RuleKind    `json:"kind" yaml:"kind"`
		Field    string      `json:"field,omitempty" yaml:"field,omitempty"`
		Value    interface{} `json:"value,omitempty" yaml:"value,omitempty"`
		Goto     string      `json:"goto,omitempty" yaml:"goto,omitempty"`
		ElseGoto string      `json:"elseGoto,omitempty" yaml:"elseGoto,omitempty"`
	}
)

const (
	NodeStart    NodeType = "START"
	NodeAction   NodeType = "ACTION"
	NodeBranch   NodeType = "BRANCH"
	NodeCheck    NodeType = "CHECK"
	NodeWait     NodeType = "WAIT"
	NodeAIRouter NodeType = "AI_ROUTER"
	NodeEnd      NodeType = "END"
)

const (
	RuleFieldEq          RuleKind = "field_eq"
	RuleFieldIn          RuleKind = "field_in"
	RuleFieldGte         RuleKind = "field_gte"
	RuleTimeSinceStepGte RuleKind = "time_since_step_gte"
)

// Lookup returns the node with the given id, or nil.
func (g *Graph) Lookup(id string) *Node {
	for _, node := range g.Nodes {
		if node.ID == id {
			return node
		}
	}
	return nil
}

// Start returns the START nodes of the graph.
func (g *Graph) Start() []*Node {
	return g.nodesOfType(NodeStart)
}

// Outgoing returns all edges leaving the given node, in declaration order.
func (g *Graph) Outgoing(id string) []*Edge {
	var out []*Edge
	for _, edge := range g.Edges {
		if edge.From == id {
			out = append(out, edge)
		}
	}
	return out
}

func (g *Graph) nodesOfType(nodeType NodeType) []*Node {
	var out []*Node
	for _, node := range g.Nodes {
		if node.Type == nodeType {
			out = append(out, node)
		}
	}
	return out
}

// WithNode appends a node and returns the graph for chaining.
func (g *Graph) WithNode(node *Node) *Graph {
	g.Nodes = append(g.Nodes, node)
	return g
}

// WithEdge appends an edge and returns the graph for chaining.
func (g *Graph) WithEdge(from, to, label string) *Graph {
	g.Edges = append(g.Edges, &Edge{From: from, To: to, Label: label})
	return g
}

// Clone creates a deep copy of the graph.
func (g *Graph) Clone() *Graph {
	if g == nil {
		return nil
	}
	clone := &Graph{}
	for _, node := range g.Nodes {
		copied := *node
		if node.Payload != nil {
			copied.Payload = make(map[string]interface{}, len(node.Payload))
			for k, v := range node.Payload {
				copied.Payload[k] = v
			}
		}
		if node.Rules != nil {
			copied.Rules = make([]*Rule, len(node.Rules))
			for i, rule := range node.Rules {
				r := *rule
				copied.Rules[i] = &r
			}
		}
		clone.Nodes = append(clone.Nodes, &copied)
	}
	for _, edge := range g.Edges {
		copied := *edge
		clone.Edges = append(clone.Edges, &copied)
	}
	if g.Meta != nil {
		clone.Meta = make(map[string]interface{}, len(g.Meta))
		for k, v := range g.Meta {
			clone.Meta[k] = v
		}
	}
	return clone
}
