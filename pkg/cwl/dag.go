package cwl

import (
	"fmt"
	"sort"
	"strings"
)

// DAGResult holds the result of DAG analysis.
type DAGResult struct {
	// Edges maps each step ID to the step IDs it depends on (upstream).
	Edges map[string][]string
	// Order is the topological sort of steps (execution order).
	Order []string
}

// BuildDAG constructs a directed acyclic graph from workflow step source
// references using Kahn's algorithm.
//
// Source "echo/output" in a step's inputs creates an edge: echo -> this step.
// Bare sources (workflow inputs like "message") create no edges.
func BuildDAG(steps []Step) (*DAGResult, error) {
	stepIDs := make(map[string]bool, len(steps))
	for _, st := range steps {
		stepIDs[st.ID] = true
	}

	// forward[A] = [B, C] means A must complete before B and C.
	forward := make(map[string][]string, len(steps))
	deps := make(map[string][]string, len(steps))
	inDegree := make(map[string]int, len(steps))
	for _, st := range steps {
		inDegree[st.ID] = 0
	}

	for _, st := range steps {
		seen := make(map[string]bool)
		for _, si := range st.In {
			for _, source := range si.Sources {
				depID, _, ok := strings.Cut(source, "/")
				if !ok {
					continue
				}
				if depID == st.ID {
					return nil, fmt.Errorf("workflow contains a cycle involving steps: %s", st.ID)
				}
				if stepIDs[depID] && !seen[depID] {
					seen[depID] = true
					forward[depID] = append(forward[depID], st.ID)
					deps[st.ID] = append(deps[st.ID], depID)
					inDegree[st.ID]++
				}
			}
		}
	}

	for id := range deps {
		sort.Strings(deps[id])
	}

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []string
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		successors := forward[node]
		sort.Strings(successors)
		for _, succ := range successors {
			inDegree[succ]--
			if inDegree[succ] == 0 {
				queue = append(queue, succ)
			}
		}
		sort.Strings(queue)
	}

	if len(order) != len(stepIDs) {
		var cycleNodes []string
		for id, deg := range inDegree {
			if deg > 0 {
				cycleNodes = append(cycleNodes, id)
			}
		}
		sort.Strings(cycleNodes)
		return nil, fmt.Errorf("workflow contains a cycle involving steps: %s",
			strings.Join(cycleNodes, ", "))
	}

	return &DAGResult{Edges: deps, Order: order}, nil
}
