package graph

import "sort"

// Step is the linear, step_order-sorted representation of a template node.
// Older storage keeps templates as a flat step array; the graph form and
// the step form convert losslessly into each other.
type Step struct {
	ID         string                 `json:"id" yaml:"id"`
	Order      int                    `json:"stepOrder" yaml:"stepOrder"`
	Type       NodeType               `json:"type" yaml:"type"`
	Title      string                 `json:"title,omitempty" yaml:"title,omitempty"`
	ActionType string                 `json:"actionType,omitempty" yaml:"actionType,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty" yaml:"payload,omitempty"`
	Rules      []*Rule                `json:"rules,omitempty" yaml:"rules,omitempty"`
	NextStepID string                 `json:"nextStepId,omitempty" yaml:"nextStepId,omitempty"`
	Optional   bool                   `json:"optional,omitempty" yaml:"optional,omitempty"`
}

// Reserved ids of the synthetic boundary nodes added by StepsToGraph.
// A step whose NextStepID is EndStepID terminates the run path explicitly
// instead of falling through to the next step in linear order.
const (
	StartStepID = "__start__"
	EndStepID   = "__end__"
)

// StepsToGraph converts a linear step array into graph form. Steps are
// sorted by Order, wrapped in synthetic START/END nodes, and connected by
// their declared NextStepID or, absent one, by linear succession. Rule
// gotos become labelled edges so branch topology survives the conversion.
func StepsToGraph(steps []*Step) *Graph {
	sorted := append([]*Step(nil), steps...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	g := &Graph{}
	g.WithNode(&Node{ID: StartStepID, Type: NodeStart})
	for _, step := range sorted {
		g.WithNode(&Node{
			ID:         step.ID,
			Type:       step.Type,
			Title:      step.Title,
			ActionType: step.ActionType,
			Payload:    step.Payload,
			Rules:      step.Rules,
			Optional:   step.Optional,
		})
	}
	g.WithNode(&Node{ID: EndStepID, Type: NodeEnd})

	if len(sorted) == 0 {
		return g.WithEdge(StartStepID, EndStepID, "")
	}

	g.WithEdge(StartStepID, sorted[0].ID, "")
	for i, step := range sorted {
		next := step.NextStepID
		if next == "" {
			if i+1 < len(sorted) {
				next = sorted[i+1].ID
			} else {
				next = EndStepID
			}
		}
		g.WithEdge(step.ID, next, "")
		for _, rule := range step.Rules {
			if rule.Goto != "" && rule.Goto != next {
				g.WithEdge(step.ID, rule.Goto, rule.ID)
			}
			if rule.ElseGoto != "" && rule.ElseGoto != next {
				g.WithEdge(step.ID, rule.ElseGoto, "else")
			}
		}
	}
	return g
}

// GraphToSteps converts a graph back into the linear form: a breadth-first
// traversal from START assigns step_order, START/END nodes are elided and
// NextStepID is recovered from the first unlabelled outgoing edge.
func GraphToSteps(g *Graph) []*Step {
	var steps []*Step
	starts := g.Start()
	if len(starts) == 0 {
		return steps
	}

	visited := map[string]bool{starts[0].ID: true}
	queue := []string{starts[0].ID}
	order := 0
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		node := g.Lookup(current)
		if node == nil {
			continue
		}
		if node.Type != NodeStart && node.Type != NodeEnd {
			steps = append(steps, &Step{
				ID:         node.ID,
				Order:      order,
				Type:       node.Type,
				Title:      node.Title,
				ActionType: node.ActionType,
				Payload:    node.Payload,
				Rules:      node.Rules,
				NextStepID: g.nextStepID(node.ID),
				Optional:   node.Optional,
			})
			order++
		}
		for _, edge := range g.Outgoing(current) {
			if visited[edge.To] || g.Lookup(edge.To) == nil {
				continue
			}
			visited[edge.To] = true
			queue = append(queue, edge.To)
		}
	}
	return steps
}

// nextStepID returns the target of the first unlabelled outgoing edge.
// Edges into an END node yield the EndStepID sentinel so the explicit
// termination is not confused with "continue in linear order".
func (g *Graph) nextStepID(id string) string {
	for _, edge := range g.Outgoing(id) {
		if edge.Label != "" {
			continue
		}
		target := g.Lookup(edge.To)
		if target == nil {
			continue
		}
		if target.Type == NodeEnd {
			return EndStepID
		}
		return edge.To
	}
	return ""
}
