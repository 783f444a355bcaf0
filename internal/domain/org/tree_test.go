package org

import "testing"

func TestClosureFromReturnsEachIDOnce(t *testing.T) {
	children := map[int64][]int64{
		1: {2, 3},
		2: {4, 5},
		3: {6},
	}

	ids := closureFrom(1, children)
	if len(ids) != 6 {
		t.Fatalf("expected 6 ids, got %d: %v", len(ids), ids)
	}

	seen := map[int64]int{}
	for _, id := range ids {
		seen[id]++
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("id %d returned %d times", id, count)
		}
	}
	if ids[0] != 1 {
		t.Fatalf("expected root first, got %v", ids)
	}
}

func TestClosureFromLeaf(t *testing.T) {
	ids := closureFrom(9, map[int64][]int64{1: {2}})
	if len(ids) != 1 || ids[0] != 9 {
		t.Fatalf("expected only the root, got %v", ids)
	}
}

func TestClosureFromTerminatesOnCycle(t *testing.T) {
	children := map[int64][]int64{
		1: {2},
		2: {3},
		3: {1, 2},
	}

	ids := closureFrom(1, children)
	if len(ids) != 3 {
		t.Fatalf("expected 3 ids on cyclic graph, got %v", ids)
	}
}

func TestClosureFromDiamondGraph(t *testing.T) {
	children := map[int64][]int64{
		1: {2, 3},
		2: {4},
		3: {4},
	}

	ids := closureFrom(1, children)
	if len(ids) != 4 {
		t.Fatalf("expected shared descendant once, got %v", ids)
	}
}

func TestBuildDepartmentTree(t *testing.T) {
	one, two := int64(1), int64(2)
	departments := []Department{
		{ID: 1, Name: "HQ"},
		{ID: 2, Name: "Engineering", ParentID: &one},
		{ID: 3, Name: "Platform", ParentID: &two},
		{ID: 4, Name: "Sales", ParentID: &one},
	}

	tree := buildDepartmentTree(departments, nil)
	if len(tree) != 1 || tree[0].Name != "HQ" {
		t.Fatalf("expected single root HQ, got %+v", tree)
	}
	if len(tree[0].Children) != 2 {
		t.Fatalf("expected 2 children under HQ, got %d", len(tree[0].Children))
	}
	if len(tree[0].Children[0].Children) != 1 {
		t.Fatalf("expected Platform under Engineering, got %+v", tree[0].Children[0])
	}
}
