package core

import "sort"

// dependencyOrder sorts nodes so that every node follows the nodes it
// depends on (Kahn's algorithm). Ties are broken by identifier. Edges to
// nodes outside the set are ignored. When the graph has a cycle the
// returned order is partial and cycle holds the unordered nodes.
func dependencyOrder(nodes []string, deps map[string][]string) (order []string, cycle []string) {
	inSet := make(map[string]bool, len(nodes))
	for _, node := range nodes {
		inSet[node] = true
	}

	inDegree := make(map[string]int, len(nodes))
	dependents := map[string][]string{}
	for node := range inSet {
		inDegree[node] = 0
	}
	for node := range inSet {
		seen := map[string]bool{}
		for _, dep := range deps[node] {
			if !inSet[dep] || dep == node || seen[dep] {
				continue
			}
			seen[dep] = true
			inDegree[node]++
			dependents[dep] = append(dependents[dep], node)
		}
	}

	ready := make([]string, 0, len(nodes))
	for node, degree := range inDegree {
		if degree == 0 {
			ready = append(ready, node)
		}
	}
	sort.Strings(ready)

	order = make([]string, 0, len(inDegree))
	for len(ready) > 0 {
		node := ready[0]
		ready = ready[1:]
		order = append(order, node)
		released := false
		for _, dependent := range dependents[node] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, dependent)
				released = true
			}
		}
		if released {
			sort.Strings(ready)
		}
	}

	if len(order) != len(inDegree) {
		for node, degree := range inDegree {
			if degree > 0 {
				cycle = append(cycle, node)
			}
		}
		sort.Strings(cycle)
	}
	return order, cycle
}

// reverseStrings returns a reversed copy.
func reverseStrings(values []string) []string {
	out := make([]string, len(values))
	for i, value := range values {
		out[len(values)-1-i] = value
	}
	return out
}
