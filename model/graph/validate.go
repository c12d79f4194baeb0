package graph

import (
	"fmt"
	"sort"
	"strings"
)

// Issue describes a single template validation problem.
type Issue struct {
	Code    string `json:"code"`
	NodeID  string `json:"nodeId,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.NodeID == "" {
		return fmt.Sprintf("%s: %s", i.Code, i.Message)
	}
	return fmt.Sprintf("%s[%s]: %s", i.Code, i.NodeID, i.Message)
}

// dfs colors for cycle detection.
const (
	white = iota // unvisited
	gray         // on the current path
	black        // fully explored
)

// ValidateDAG runs a 3-color depth-first search over every node and returns
// each discovered cycle as an ordered node-id list. An empty result means
// the graph is acyclic.
func (g *Graph) ValidateDAG() [][]string {
	color := make(map[string]int, len(g.Nodes))
	var cycles [][]string
	var path []string

	var visit func(id string)
	visit = func(id string) {
		color[id] = gray
		path = append(path, id)
		for _, edge := range g.Outgoing(id) {
			if g.Lookup(edge.To) == nil {
				continue // dangling edges are reported separately
			}
			switch color[edge.To] {
			case white:
				visit(edge.To)
			case gray:
				// the cycle is the path suffix starting at edge.To, closed
				// by edge.To itself
				start := 0
				for i, nodeID := range path {
					if nodeID == edge.To {
						start = i
						break
					}
				}
				cycle := append(append([]string{}, path[start:]...), edge.To)
				cycles = append(cycles, cycle)
			}
		}
		path = path[:len(path)-1]
		color[id] = black
	}

	for _, node := range g.Nodes {
		if color[node.ID] == white {
			visit(node.ID)
		}
	}
	return cycles
}

// FindDeadEnds returns ids of nodes other than END that have no outgoing
// edge, sorted for deterministic reporting.
func (g *Graph) FindDeadEnds() []string {
	var out []string
	for _, node := range g.Nodes {
		if node.Type == NodeEnd {
			continue
		}
		if len(g.Outgoing(node.ID)) == 0 {
			out = append(out, node.ID)
		}
	}
	sort.Strings(out)
	return out
}

// FindBranchesWithoutElse returns ids of BRANCH (and AI_ROUTER) nodes whose
// outgoing edges never carry an else-labelled edge. The match is a
// case-insensitive substring so "Else", "else-path" etc. all qualify.
func (g *Graph) FindBranchesWithoutElse() []string {
	var out []string
	for _, node := range g.Nodes {
		if node.Type != NodeBranch && node.Type != NodeAIRouter {
			continue
		}
		hasElse := false
		for _, edge := range g.Outgoing(node.ID) {
			if strings.Contains(strings.ToLower(edge.Label), "else") {
				hasElse = true
				break
			}
		}
		if !hasElse {
			out = append(out, node.ID)
		}
	}
	sort.Strings(out)
	return out
}

// FindReachableNodes breadth-first walks the graph from its START node and
// returns the set of reachable node ids.
func (g *Graph) FindReachableNodes() map[string]bool {
	reachable := make(map[string]bool)
	starts := g.Start()
	if len(starts) == 0 {
		return reachable
	}
	queue := []string{starts[0].ID}
	reachable[starts[0].ID] = true
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, edge := range g.Outgoing(current) {
			if reachable[edge.To] || g.Lookup(edge.To) == nil {
				continue
			}
			reachable[edge.To] = true
			queue = append(queue, edge.To)
		}
	}
	return reachable
}

// Validate performs full structural validation of a template graph:
// exactly one START, at least one END, acyclic, no dangling edges, every
// ACTION node carrying an action type, no dead ends and no unreachable
// nodes. Issues are accumulated rather than returned on first failure so a
// template author sees everything at once.
func (g *Graph) Validate() []Issue {
	var issues []Issue

	starts := g.Start()
	if len(starts) != 1 {
		issues = append(issues, Issue{Code: "start_count", Message: fmt.Sprintf("expected exactly one START node, found %d", len(starts))})
	}
	if len(g.nodesOfType(NodeEnd)) == 0 {
		issues = append(issues, Issue{Code: "end_missing", Message: "at least one END node is required"})
	}

	known := map[NodeType]bool{
		NodeStart: true, NodeAction: true, NodeBranch: true, NodeCheck: true,
		NodeWait: true, NodeAIRouter: true, NodeEnd: true,
	}
	seen := make(map[string]bool, len(g.Nodes))
	for _, node := range g.Nodes {
		if node.ID == "" {
			issues = append(issues, Issue{Code: "node_id_empty", Message: "node id must not be empty"})
			continue
		}
		if seen[node.ID] {
			issues = append(issues, Issue{Code: "node_id_duplicate", NodeID: node.ID, Message: "duplicate node id"})
		}
		seen[node.ID] = true
		if !known[node.Type] {
			issues = append(issues, Issue{Code: "node_type_unknown", NodeID: node.ID, Message: fmt.Sprintf("unknown node type %q", node.Type)})
		}
		if node.Type == NodeAction && node.ActionType == "" {
			issues = append(issues, Issue{Code: "action_type_missing", NodeID: node.ID, Message: "ACTION node requires an action type"})
		}
	}

	for _, edge := range g.Edges {
		if g.Lookup(edge.From) == nil {
			issues = append(issues, Issue{Code: "edge_from_unknown", NodeID: edge.From, Message: fmt.Sprintf("edge references unknown source node %q", edge.From)})
		}
		if g.Lookup(edge.To) == nil {
			issues = append(issues, Issue{Code: "edge_to_unknown", NodeID: edge.To, Message: fmt.Sprintf("edge references unknown target node %q", edge.To)})
		}
	}

	for _, cycle := range g.ValidateDAG() {
		issues = append(issues, Issue{Code: "cycle", NodeID: cycle[0], Message: fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> "))})
	}

	for _, id := range g.FindDeadEnds() {
		issues = append(issues, Issue{Code: "dead_end", NodeID: id, Message: "node has no outgoing edge"})
	}

	if len(starts) == 1 {
		reachable := g.FindReachableNodes()
		for _, node := range g.Nodes {
			if !reachable[node.ID] {
				issues = append(issues, Issue{Code: "unreachable", NodeID: node.ID, Message: "node is not reachable from START"})
			}
		}
	}

	return issues
}
