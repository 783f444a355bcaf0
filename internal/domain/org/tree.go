package org

// closureFrom walks parent->children edges iteratively from root and returns
// root plus every reachable id exactly once. Persisted data is assumed
// acyclic, but a corrupted row must not hang the walk, so visited ids are
// tracked and never re-queued.
func closureFrom(rootID int64, children map[int64][]int64) []int64 {
	visited := map[int64]bool{rootID: true}
	result := []int64{rootID}
	queue := []int64{rootID}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, child := range children[current] {
			if visited[child] {
				continue
			}
			visited[child] = true
			result = append(result, child)
			queue = append(queue, child)
		}
	}
	return result
}

func buildDepartmentTree(departments []Department, parentID *int64) []*DepartmentNode {
	var nodes []*DepartmentNode
	for _, dept := range departments {
		if !sameParent(dept.ParentID, parentID) {
			continue
		}
		id := dept.ID
		nodes = append(nodes, &DepartmentNode{
			Department: dept,
			Children:   buildDepartmentTree(departments, &id),
		})
	}
	return nodes
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
