package strategy

import "sort"

// TopologicalOrder returns the factor ids in dependency order using Kahn's
// algorithm. Ties are broken lexicographically by factor id so the order is
// deterministic for display and execution. Returns a CycleDetected
// validation error when the dependency graph is not acyclic.
func (s *Strategy) TopologicalOrder() ([]string, error) {
	edges, indegree := s.Edges()

	ready := make([]string, 0, len(s.factors))
	for _, id := range s.sortedIDs() {
		if indegree[id] == 0 {
			ready = append(ready, id)
		}
	}

	order := make([]string, 0, len(s.factors))
	for len(ready) > 0 {
		id := ready[0]
		ready = ready[1:]
		order = append(order, id)

		released := make([]string, 0, len(edges[id]))
		for _, dependent := range edges[id] {
			indegree[dependent]--
			if indegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		ready = mergeSorted(ready, released)
	}

	if len(order) != len(s.factors) {
		// Some factor never reached in-degree zero; report one of them.
		remaining := ""
		for _, id := range s.sortedIDs() {
			if indegree[id] > 0 {
				remaining = id
				break
			}
		}
		return nil, &ValidationError{Kind: CycleDetected, FactorID: remaining}
	}
	return order, nil
}

// mergeSorted merges two lexicographically sorted id slices.
func mergeSorted(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	out := make([]string, 0, len(a)+len(b))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		if a[i] <= b[j] {
			out = append(out, a[i])
			i++
		} else {
			out = append(out, b[j])
			j++
		}
	}
	out = append(out, a[i:]...)
	out = append(out, b[j:]...)
	return out
}
