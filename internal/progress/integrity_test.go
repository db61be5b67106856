package progress_test

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"summit/internal/domain"
)

// buildFullGrid creates a goal with the full 8x8 shape, every action holding
// one completed task (computed progress 100 everywhere), and stored values
// matching.
func buildFullGrid(store *fakeStore, goalID string) {
	store.addGoal(goalID)
	store.goals[goalID].Progress = 100
	task := 0
	for i := 1; i <= 8; i++ {
		sid := fmt.Sprintf("%s-s%d", goalID, i)
		store.addSubGoal(sid, goalID)
		store.subGoals[sid].Progress = 100
		for j := 1; j <= 8; j++ {
			aid := fmt.Sprintf("%s-a%d", sid, j)
			store.addAction(aid, sid)
			store.actions[aid].Progress = 100
			task++
			store.addTask(fmt.Sprintf("%s-t%d", goalID, task), aid, "ship it", domain.TaskCompleted, completedAt(1))
		}
	}
}

func TestValidateIntegrityReportsStructure(t *testing.T) {
	store := newFakeStore()
	store.addGoal("g")
	store.addSubGoal("s1", "g")
	store.addAction("a1", "s1")

	e := newTestEngine(store)
	report := e.ValidateIntegrity(context.Background(), "g")

	if report.IsValid {
		t.Fatal("expected invalid report")
	}
	wantGoal := "should have 8 sub-goals, but has 1"
	wantSub := "should have 8 actions, but has 1"
	var foundGoal, foundSub bool
	for _, msg := range report.Errors {
		if strings.Contains(msg, wantGoal) {
			foundGoal = true
		}
		if strings.Contains(msg, wantSub) {
			foundSub = true
		}
	}
	if !foundGoal {
		t.Fatalf("missing goal structure error in %v", report.Errors)
	}
	if !foundSub {
		t.Fatalf("missing sub-goal structure error in %v", report.Errors)
	}
}

func TestValidateIntegrityMissingGoal(t *testing.T) {
	e := newTestEngine(newFakeStore())
	report := e.ValidateIntegrity(context.Background(), "nope")
	if report.IsValid {
		t.Fatal("expected invalid report")
	}
	if len(report.Errors) != 1 || !strings.Contains(report.Errors[0], "failed to load goal") {
		t.Fatalf("unexpected errors: %v", report.Errors)
	}
}

func TestValidateIntegrityToleratesRoundingDrift(t *testing.T) {
	store := newFakeStore()
	buildFullGrid(store, "g")
	// within the one-point tolerance
	store.actions["g-s1-a1"].Progress = 99.5

	e := newTestEngine(store)
	report := e.ValidateIntegrity(context.Background(), "g")
	if !report.IsValid {
		t.Fatalf("expected valid report, got %v", report.Errors)
	}
}

func TestValidateIntegrityFlagsDrift(t *testing.T) {
	store := newFakeStore()
	buildFullGrid(store, "g")
	store.actions["g-s1-a1"].Progress = 10

	e := newTestEngine(store)
	report := e.ValidateIntegrity(context.Background(), "g")
	if report.IsValid {
		t.Fatal("expected invalid report")
	}
	var found bool
	for _, msg := range report.Errors {
		if strings.Contains(msg, "g-s1-a1") && strings.Contains(msg, "differs from computed") {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing drift error in %v", report.Errors)
	}
}

func TestRepairIntegrityFixesDriftedValues(t *testing.T) {
	store := newFakeStore()
	buildFullGrid(store, "g")
	store.actions["g-s1-a1"].Progress = 10
	store.subGoals["g-s2"].Progress = 40
	store.goals["g"].Progress = 70

	e := newTestEngine(store)
	report, err := e.RepairIntegrity(context.Background(), "g", "fixer")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Repairs) != 3 {
		t.Fatalf("expected 3 repairs, got %d: %v", len(report.Repairs), report.Repairs)
	}
	var foundAction bool
	for _, r := range report.Repairs {
		if strings.Contains(r, "Action g-s1-a1 progress updated to 100%") {
			foundAction = true
		}
	}
	if !foundAction {
		t.Fatalf("missing action repair in %v", report.Repairs)
	}

	after := e.ValidateIntegrity(context.Background(), "g")
	if !after.IsValid {
		t.Fatalf("expected valid report after repair, got %v", after.Errors)
	}
}

func TestRepairIntegrityNoopOnValidGoal(t *testing.T) {
	store := newFakeStore()
	buildFullGrid(store, "g")

	e := newTestEngine(store)
	report, err := e.RepairIntegrity(context.Background(), "g", "")
	if err != nil {
		t.Fatal(err)
	}
	if len(report.Repairs) != 0 {
		t.Fatalf("expected no repairs, got %v", report.Repairs)
	}
}

func TestBatchRepairIsolatesFailures(t *testing.T) {
	store := newFakeStore()
	buildFullGrid(store, "g1")
	store.actions["g1-s1-a1"].Progress = 10

	e := newTestEngine(store)
	result := e.BatchRepair(context.Background(), []string{"g1", "missing"}, "")

	if result.Updated != 1 {
		t.Fatalf("expected 1 updated goal, got %d", result.Updated)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "missing") {
		t.Fatalf("unexpected errors: %v", result.Errors)
	}

	after := e.ValidateIntegrity(context.Background(), "g1")
	if !after.IsValid {
		t.Fatalf("g1 should be repaired despite the failing goal, got %v", after.Errors)
	}
}
