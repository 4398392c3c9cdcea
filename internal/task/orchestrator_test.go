package task

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/matome/internal/fingerprint"
	"github.com/hyperjump/matome/internal/generation"
	"github.com/hyperjump/matome/internal/models"
)

const testDocument = "spec"

func genPlan(section, original, fragment string) models.MergePlan {
	return models.MergePlan{
		Strategy:     models.MergeGenerative,
		SectionTitle: section,
		Original:     original,
		Fragment:     fragment,
	}
}

// waitStatus polls until the task reaches status or the deadline passes.
func waitStatus(t *testing.T, o *Orchestrator, id, status string) models.Task {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		task, err := o.Poll(id)
		if err != nil {
			t.Fatalf("Poll(%s): %v", id, err)
		}
		if task.Status == status {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	task, _ := o.Poll(id)
	t.Fatalf("task %s stuck in %s, want %s", id, task.Status, status)
	return models.Task{}
}

func TestSubmitDeterministicCompletesInline(t *testing.T) {
	o := NewOrchestrator(NewStore(), generation.NewMockGenerator())
	defer o.Close()

	plan := models.MergePlan{
		Strategy:     models.MergeDirectReplace,
		SectionTitle: "Auth",
		Original:     "## Auth\n\nOld.\n",
		Merged:       "## Auth\n\nNew.\n",
	}
	id, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task, err := o.Poll(id)
	if err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if task.Status != models.TaskCompleted {
		t.Fatalf("status = %s, want completed without waiting", task.Status)
	}
	if task.Result == nil || task.Result.MergedBody != plan.Merged {
		t.Fatalf("result = %+v", task.Result)
	}
	if task.Result.Fingerprint != fingerprint.Body(plan.Merged) {
		t.Errorf("fingerprint = %q", task.Result.Fingerprint)
	}
	if task.Result.Diff == "" {
		t.Error("expected a diff preview")
	}
}

func TestSubmitGenerativePreservesHeading(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Script("New rules.\n", "# Renamed Heading\n\nMerged prose.\n")
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	id, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "New rules.\n"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	task := waitStatus(t, o, id, models.TaskCompleted)
	if !strings.HasPrefix(task.Result.MergedBody, "## Auth\n") {
		t.Errorf("heading not preserved: %q", task.Result.MergedBody)
	}
	if !strings.Contains(task.Result.MergedBody, "Merged prose.") {
		t.Errorf("generated body lost: %q", task.Result.MergedBody)
	}
}

func TestDedupSharesOneCollaboratorCall(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Block()
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	plan := genPlan("Auth", "## Auth\n\nOld.\n", "New rules.\n")
	first, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	second, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("second Submit: %v", err)
	}
	if second != first {
		t.Fatalf("identical in-flight submissions got distinct tasks %s / %s", first, second)
	}

	g.Release()
	waitStatus(t, o, first, models.TaskCompleted)
	if g.CallCount() != 1 {
		t.Errorf("collaborator calls = %d, want 1", g.CallCount())
	}

	// A completed task still satisfies resubmission until its result is
	// consumed.
	third, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("third Submit: %v", err)
	}
	if third != first {
		t.Errorf("completed task not reused: %s / %s", first, third)
	}

	o.Release(first)
	fourth, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("fourth Submit: %v", err)
	}
	if fourth == first {
		t.Error("released task still satisfies resubmission")
	}
	waitStatus(t, o, fourth, models.TaskCompleted)
}

func TestDedupIsPerDocument(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Block()
	defer g.Release()
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	plan := genPlan("Auth", "## Auth\n\nOld.\n", "New rules.\n")
	a, _ := o.Submit(context.Background(), "doc-a", plan)
	b, _ := o.Submit(context.Background(), "doc-b", plan)
	if a == b {
		t.Error("tasks shared across documents")
	}
}

func TestSectionQueueFIFOAndBound(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Block()
	o := NewOrchestrator(NewStore(), g, WithQueueSize(1))
	defer o.Close()

	first, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "First.\n"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, o, first, models.TaskRunning)

	second, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "Second.\n"))
	if err != nil {
		t.Fatalf("queued Submit: %v", err)
	}
	if task, _ := o.Poll(second); task.Status != models.TaskPending {
		t.Fatalf("queued task status = %s, want pending", task.Status)
	}

	if _, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "Third.\n")); !errors.Is(err, ErrSectionBusy) {
		t.Fatalf("err = %v, want ErrSectionBusy at queue bound", err)
	}

	// A different section is an independent unit and is not queued.
	other, err := o.Submit(context.Background(), testDocument,
		genPlan("Billing", "## Billing\n\nOld.\n", "Other.\n"))
	if err != nil {
		t.Fatalf("other-section Submit: %v", err)
	}

	g.Release()
	waitStatus(t, o, first, models.TaskCompleted)
	waitStatus(t, o, second, models.TaskCompleted)
	waitStatus(t, o, other, models.TaskCompleted)
}

func TestCancelRunningTask(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Block()
	defer g.Release()
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	id, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "New.\n"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, o, id, models.TaskRunning)

	if err := o.Cancel(id); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if task, _ := o.Poll(id); task.Status != models.TaskCancelled {
		t.Fatalf("status right after Cancel = %s, want cancelled", task.Status)
	}

	// The cancelled collaborator call must not resurrect the task.
	time.Sleep(50 * time.Millisecond)
	if task, _ := o.Poll(id); task.Status != models.TaskCancelled || task.Result != nil {
		t.Errorf("cancelled task changed afterwards: %+v", task)
	}
}

func TestCancelQueuedTaskNeverRuns(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Block()
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	first, _ := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "First.\n"))
	waitStatus(t, o, first, models.TaskRunning)
	second, _ := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "Second.\n"))

	if err := o.Cancel(second); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	g.Release()
	waitStatus(t, o, first, models.TaskCompleted)

	if task, _ := o.Poll(second); task.Status != models.TaskCancelled {
		t.Errorf("queued task status = %s, want cancelled", task.Status)
	}
	if g.CallCount() != 1 {
		t.Errorf("collaborator calls = %d, want 1 (cancelled task ran)", g.CallCount())
	}
}

func TestCancelIsIdempotentOnTerminal(t *testing.T) {
	g := generation.NewMockGenerator()
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	id, err := o.Submit(context.Background(), testDocument,
		genPlan("Auth", "## Auth\n\nOld.\n", "New.\n"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitStatus(t, o, id, models.TaskCompleted)

	if err := o.Cancel(id); err != nil {
		t.Fatalf("Cancel on completed task: %v", err)
	}
	if task, _ := o.Poll(id); task.Status != models.TaskCompleted {
		t.Errorf("completed task reverted to %s", task.Status)
	}
}

func TestCancelUnknownTask(t *testing.T) {
	o := NewOrchestrator(NewStore(), generation.NewMockGenerator())
	defer o.Close()
	if err := o.Cancel("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestFailedTaskRecordsErrorAndIsNotReused(t *testing.T) {
	g := generation.NewMockGenerator()
	g.Fail(generation.ErrGenerationFailed)
	o := NewOrchestrator(NewStore(), g)
	defer o.Close()

	plan := genPlan("Auth", "## Auth\n\nOld.\n", "New.\n")
	id, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	task := waitStatus(t, o, id, models.TaskFailed)
	if task.Error == "" {
		t.Error("failed task carries no error detail")
	}

	g.Fail(nil)
	retry, err := o.Submit(context.Background(), testDocument, plan)
	if err != nil {
		t.Fatalf("resubmit: %v", err)
	}
	if retry == id {
		t.Error("failed task satisfied a resubmission")
	}
	waitStatus(t, o, retry, models.TaskCompleted)
}
