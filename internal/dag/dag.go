// Package dag validates a flow definition's node/edge graph and
// produces a deterministic execution order via Kahn's algorithm with
// declaration-order tie-breaking.
package dag

import "fmt"

// NodeDecl is the minimal shape C1 needs from a flow definition node.
type NodeDecl struct {
	ID   string
	Type string
}

// EdgeDecl is one connection between two node handles.
type EdgeDecl struct {
	Source       string
	Target       string
	SourceHandle string
	TargetHandle string
}

// ValidationError reports a structural flaw in the flow definition that
// is not a cycle (duplicate/empty ids, dangling edge endpoints,
// self-loops, unknown node type).
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "dag: " + e.Reason }

// CycleDetected reports that the graph is not acyclic, with a concrete
// path (list of node ids) demonstrating the cycle.
type CycleDetected struct {
	Path []string
}

func (e *CycleDetected) Error() string {
	return fmt.Sprintf("dag: cycle detected: %v", e.Path)
}

// DAG is the validated, indexed representation of a flow's graph.
// Construction never mutates the input slices.
type DAG struct {
	Nodes   []NodeDecl
	byID    map[string]int // node id -> index into Nodes
	forward map[string][]EdgeDecl
	inverse map[string][]EdgeDecl
	indegree map[string]int

	// Order is the validated topological execution order (node ids),
	// computed once at construction time and cached for reuse across
	// every invocation of the owning executor.
	Order []string
	// Levels groups Order into independence tiers for diagnostics and
	// optional parallel execution; it plays no role in the single
	// terminal-result resolution rule.
	Levels [][]string
}

// KnownTypeChecker reports whether a node type string is a member of
// the closed node-type registry. Passing nil disables the check (used
// by tests that only exercise graph shape).
type KnownTypeChecker func(nodeType string) bool

// Build validates the declared nodes/edges and computes the
// topological order. It never returns a DAG when it also returns an
// error.
func Build(nodes []NodeDecl, edges []EdgeDecl, isKnownType KnownTypeChecker) (*DAG, error) {
	byID := make(map[string]int, len(nodes))
	seen := make(map[string]bool, len(nodes))
	for i, n := range nodes {
		if n.ID == "" {
			return nil, &ValidationError{Reason: "node id must not be empty"}
		}
		if seen[n.ID] {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate node id %q", n.ID)}
		}
		seen[n.ID] = true
		byID[n.ID] = i
		if isKnownType != nil && !isKnownType(n.Type) {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown node type %q on node %q", n.Type, n.ID)}
		}
	}

	forward := make(map[string][]EdgeDecl, len(nodes))
	inverse := make(map[string][]EdgeDecl, len(nodes))
	indegree := make(map[string]int, len(nodes))
	for _, n := range nodes {
		indegree[n.ID] = 0
	}

	seenEdge := make(map[string]bool, len(edges))
	for _, e := range edges {
		if _, ok := byID[e.Source]; !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references unknown source node %q", e.Source)}
		}
		if _, ok := byID[e.Target]; !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("edge references unknown target node %q", e.Target)}
		}
		if e.Source == e.Target {
			return nil, &ValidationError{Reason: fmt.Sprintf("self-loop on node %q is not permitted", e.Source)}
		}
		edgeKey := fmt.Sprintf("%s|%s->%s|%s", e.Source, e.SourceHandle, e.Target, e.TargetHandle)
		if seenEdge[edgeKey] {
			return nil, &ValidationError{Reason: fmt.Sprintf("duplicate edge (%s,%s)->(%s,%s)", e.Source, e.SourceHandle, e.Target, e.TargetHandle)}
		}
		seenEdge[edgeKey] = true
		forward[e.Source] = append(forward[e.Source], e)
		inverse[e.Target] = append(inverse[e.Target], e)
		indegree[e.Target]++
	}

	rootCount := 0
	for _, n := range nodes {
		if indegree[n.ID] == 0 {
			rootCount++
		}
	}
	if len(nodes) > 0 && rootCount == 0 {
		return nil, &CycleDetected{Path: findCyclePath(nodes, forward, indegree)}
	}

	order, levels, err := topoSort(nodes, forward, indegree)
	if err != nil {
		return nil, err
	}

	return &DAG{
		Nodes:    nodes,
		byID:     byID,
		forward:  forward,
		inverse:  inverse,
		indegree: indegree,
		Order:    order,
		Levels:   levels,
	}, nil
}

// topoSort runs Kahn's algorithm. The ready queue is seeded and
// re-filled in node-declaration order, so ties between simultaneously
// ready nodes are always broken by their position in the original
// nodes slice rather than by id ordering or insertion order into maps.
func topoSort(nodes []NodeDecl, forward map[string][]EdgeDecl, indegree map[string]int) ([]string, [][]string, error) {
	declIndex := make(map[string]int, len(nodes))
	for i, n := range nodes {
		declIndex[n.ID] = i
	}
	remaining := make(map[string]int, len(indegree))
	for k, v := range indegree {
		remaining[k] = v
	}

	var order []string
	var levels [][]string

	// queue holds ids with remaining[id]==0, kept sorted by declIndex.
	queue := make([]string, 0, len(nodes))
	for _, n := range nodes {
		if remaining[n.ID] == 0 {
			queue = append(queue, n.ID)
		}
	}

	for len(queue) > 0 {
		level := append([]string(nil), queue...)
		levels = append(levels, level)

		var next []string
		for _, id := range queue {
			order = append(order, id)
			for _, e := range forward[id] {
				remaining[e.Target]--
				if remaining[e.Target] == 0 {
					next = append(next, e.Target)
				}
			}
		}
		// Re-sort by declaration order so the next level's FIFO
		// discipline matches spec's tie-breaking rule exactly, even
		// though nodes were appended to `next` in queue-processing
		// order (which is already decl-ordered within a level but not
		// necessarily across levels once multiple parents fire).
		sortByDecl(next, declIndex)
		queue = next
	}

	if len(order) != len(nodes) {
		path := findCyclePath(nodes, forward, remaining)
		return nil, nil, &CycleDetected{Path: path}
	}

	return order, levels, nil
}

func sortByDecl(ids []string, declIndex map[string]int) {
	for i := 1; i < len(ids); i++ {
		j := i
		for j > 0 && declIndex[ids[j-1]] > declIndex[ids[j]] {
			ids[j-1], ids[j] = ids[j], ids[j-1]
			j--
		}
	}
}

// findCyclePath runs a DFS restricted to nodes that never reached
// zero in-degree (the residual subgraph containing every cycle) and
// returns the first concrete cycle it finds as an ordered node-id path
// that starts and ends on the repeated node.
func findCyclePath(nodes []NodeDecl, forward map[string][]EdgeDecl, remaining map[string]int) []string {
	residual := make(map[string]bool)
	for id, deg := range remaining {
		if deg > 0 {
			residual[id] = true
		}
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(residual))
	var pathStack []string
	var cyclePath []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		pathStack = append(pathStack, id)
		for _, e := range forward[id] {
			if !residual[e.Target] {
				continue
			}
			switch color[e.Target] {
			case white:
				if visit(e.Target) {
					return true
				}
			case gray:
				// Found the back edge; extract the cycle portion of
				// the path stack from e.Target's first occurrence.
				start := 0
				for i, v := range pathStack {
					if v == e.Target {
						start = i
						break
					}
				}
				cyclePath = append(append([]string(nil), pathStack[start:]...), e.Target)
				return true
			}
		}
		pathStack = pathStack[:len(pathStack)-1]
		color[id] = black
		return false
	}

	for _, n := range nodes {
		if residual[n.ID] && color[n.ID] == white {
			if visit(n.ID) {
				return cyclePath
			}
		}
	}
	return cyclePath
}

// Predecessors returns the edges feeding into nid, in declaration order.
func (d *DAG) Predecessors(nid string) []EdgeDecl { return d.inverse[nid] }

// Successors returns the edges leaving nid, in declaration order.
func (d *DAG) Successors(nid string) []EdgeDecl { return d.forward[nid] }

// NodeType returns the declared type of a node id.
func (d *DAG) NodeType(nid string) (string, bool) {
	idx, ok := d.byID[nid]
	if !ok {
		return "", false
	}
	return d.Nodes[idx].Type, true
}
