package readmodel

import (
	"errors"
	"testing"

	"vlog-platform/internal/domain"
)

func cat(id, parent string, order int, name string) domain.Category {
	return domain.Category{ID: id, ParentID: parent, Order: order, Name: name, IsActive: true}
}

func TestDetectCycleRejectsMutatedRoot(t *testing.T) {
	cats := []domain.Category{cat("A", "", 0, "a"), cat("B", "A", 0, "b"), cat("C", "B", 0, "c")}
	cats[0].ParentID = "C"

	for i := 0; i < 3; i++ {
		err := DetectCycle(cats)
		if !errors.Is(err, domain.ErrCycle) {
			t.Fatalf("expected ErrCycle, got %v", err)
		}
		if err.Error() != "category hierarchy contains a cycle: A -> C -> B -> A" {
			t.Fatalf("unexpected cycle report: %v", err)
		}
	}
}

func TestDetectCycleLastRecordWins(t *testing.T) {
	cats := []domain.Category{cat("A", "", 0, "a"), cat("B", "A", 0, "b"), cat("C", "B", 0, "c"), cat("A", "C", 0, "a")}
	if err := DetectCycle(cats); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
	if _, _, err := BuildTree(cats); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected BuildTree to refuse cyclic input, got %v", err)
	}
}

func TestDetectCycleSelfParent(t *testing.T) {
	if err := DetectCycle([]domain.Category{cat("A", "A", 0, "a")}); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle, got %v", err)
	}
}

func TestDetectCycleAcceptsForest(t *testing.T) {
	cats := []domain.Category{
		cat("A", "", 0, "a"), cat("B", "A", 0, "b"), cat("C", "B", 0, "c"),
		cat("D", "", 0, "d"), cat("E", "D", 0, "e"), cat("F", "missing", 0, "f"),
	}
	if err := DetectCycle(cats); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckReparent(t *testing.T) {
	cats := []domain.Category{cat("A", "", 0, "a"), cat("B", "A", 0, "b"), cat("C", "B", 0, "c")}
	if err := CheckReparent(cats, "A", "C"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle moving A under C, got %v", err)
	}
	if err := CheckReparent(cats, "C", "C"); !errors.Is(err, domain.ErrCycle) {
		t.Fatalf("expected ErrCycle for self parent, got %v", err)
	}
	if err := CheckReparent(cats, "C", "A"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := CheckReparent(cats, "N", "C"); err != nil {
		t.Fatalf("new category under C should be fine: %v", err)
	}
}

func TestBuildTreeOrdersAndNests(t *testing.T) {
	inactive := cat("X", "A", 0, "x")
	inactive.IsActive = false
	cats := []domain.Category{
		cat("B", "", 2, "Beta"),
		cat("A", "", 1, "Alpha"),
		cat("A2", "A", 1, "Zed"),
		cat("A1", "A", 1, "Ant"),
		cat("A0", "A", 0, "Last by name"),
		cat("A11", "A1", 0, "Leaf"),
		inactive,
		cat("XY", "X", 0, "under inactive"),
		cat("O", "gone", 0, "orphan"),
	}

	roots, orphans, err := BuildTree(cats)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if len(roots) != 2 || roots[0].ID != "A" || roots[1].ID != "B" {
		t.Fatalf("unexpected roots: %+v", roots)
	}
	kids := roots[0].Children
	if len(kids) != 3 || kids[0].ID != "A0" || kids[1].ID != "A1" || kids[2].ID != "A2" {
		t.Fatalf("unexpected children order: %+v", kids)
	}
	if len(kids[1].Children) != 1 || kids[1].Children[0].ID != "A11" {
		t.Fatalf("expected A11 under A1, got %+v", kids[1].Children)
	}
	if len(orphans) != 2 || orphans[0] != "O" || orphans[1] != "XY" {
		t.Fatalf("unexpected orphans: %v", orphans)
	}
	if roots[1].Children == nil {
		t.Fatalf("leaf children should marshal as an empty list")
	}
}

func TestBuildTreeEmpty(t *testing.T) {
	roots, orphans, err := BuildTree(nil)
	if err != nil || len(roots) != 0 || roots == nil || len(orphans) != 0 {
		t.Fatalf("unexpected result: %v %v %v", roots, orphans, err)
	}
}
