package flow

import "github.com/flowforge/flowexec/internal/dag"

// scope names the try_catch node that protects a given downstream node.
type scope struct {
	tryCatchID string
}

// newProtectionIndex computes, for every node protected by some
// try_catch, which try_catch protects it. A try_catch's protection
// scope is its transitive successor set, stopping traversal at the
// next merge node or a node with no outgoing edges; that merge or
// terminus is itself protected, nothing past it is (spec §4.2.4). When scopes from two try_catch nodes overlap, the
// try_catch that is topologically closer to the protected node wins —
// computed by processing try_catch nodes in reverse execution order so
// a nearer try_catch's assignment is written after (and so overrides)
// a farther one's.
func newProtectionIndex(g *dag.DAG, byID map[string]NodeDefinition, registry Registry) map[string]scope {
	index := map[string]scope{}

	var tryCatchIDs []string
	for _, nid := range g.Order {
		if byID[nid].Type == "try_catch" {
			tryCatchIDs = append(tryCatchIDs, nid)
		}
	}

	// Reverse order: later (more deeply nested / closer) try_catch
	// nodes are applied last and so take precedence on overlap.
	for i := len(tryCatchIDs) - 1; i >= 0; i-- {
		tcID := tryCatchIDs[i]
		visited := map[string]bool{tcID: true}
		var walk func(id string)
		walk = func(id string) {
			for _, e := range g.Successors(id) {
				if visited[e.Target] {
					continue
				}
				visited[e.Target] = true
				index[e.Target] = scope{tryCatchID: tcID}
				if byID[e.Target].Type == "merge" {
					continue // protection ends at the converging merge
				}
				if len(g.Successors(e.Target)) == 0 {
					continue // protection ends at a flow terminus
				}
				walk(e.Target)
			}
		}
		walk(tcID)
	}

	return index
}
