package task

import (
	"errors"
	"testing"
	"time"

	"github.com/hyperjump/matome/internal/models"
)

func TestStoreGetReturnsSnapshot(t *testing.T) {
	s := NewStore()
	s.Create(&models.Task{
		ID:     "t1",
		Status: models.TaskCompleted,
		Result: &models.TaskResult{MergedBody: "body"},
	})

	got, err := s.Get("t1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got.Status = models.TaskFailed
	got.Result.MergedBody = "mutated"

	again, _ := s.Get("t1")
	if again.Status != models.TaskCompleted || again.Result.MergedBody != "body" {
		t.Errorf("store shared memory with snapshot: %+v", again)
	}
}

func TestStoreGetUnknown(t *testing.T) {
	s := NewStore()
	if _, err := s.Get("nope"); !errors.Is(err, ErrTaskNotFound) {
		t.Errorf("err = %v, want ErrTaskNotFound", err)
	}
}

func TestStoreTransitionTerminalGuard(t *testing.T) {
	s := NewStore()
	s.Create(&models.Task{ID: "t1", Status: models.TaskPending})

	if !s.transition("t1", models.TaskRunning, nil) {
		t.Fatal("pending -> running refused")
	}
	if !s.transition("t1", models.TaskCancelled, nil) {
		t.Fatal("running -> cancelled refused")
	}
	if s.transition("t1", models.TaskCompleted, func(task *models.Task) {
		task.Result = &models.TaskResult{MergedBody: "late"}
	}) {
		t.Fatal("terminal task accepted a transition")
	}

	got, _ := s.Get("t1")
	if got.Status != models.TaskCancelled || got.Result != nil {
		t.Errorf("late result leaked into terminal task: %+v", got)
	}
}

func TestStoreTransitionUnknown(t *testing.T) {
	s := NewStore()
	if s.transition("nope", models.TaskRunning, nil) {
		t.Error("unknown task accepted a transition")
	}
}

func TestStoreListCreationOrder(t *testing.T) {
	s := NewStore()
	for _, id := range []string{"a", "b", "c"} {
		s.Create(&models.Task{ID: id, Status: models.TaskPending})
	}
	list := s.List()
	if len(list) != 3 || list[0].ID != "a" || list[1].ID != "b" || list[2].ID != "c" {
		t.Errorf("list order = %+v", list)
	}
}

func TestStoreSweepDropsOnlyOldTerminal(t *testing.T) {
	s := NewStore()
	s.Create(&models.Task{ID: "done", Status: models.TaskPending})
	s.Create(&models.Task{ID: "live", Status: models.TaskPending})
	s.transition("done", models.TaskCompleted, nil)

	// A negative retention puts the cutoff in the future, so every
	// terminal task counts as expired. Non-terminal tasks must survive.
	if dropped := s.Sweep(-time.Second); dropped != 1 {
		t.Fatalf("dropped = %d, want 1", dropped)
	}
	if _, err := s.Get("done"); !errors.Is(err, ErrTaskNotFound) {
		t.Error("expired terminal task still present")
	}
	if _, err := s.Get("live"); err != nil {
		t.Errorf("pending task swept: %v", err)
	}

	// A generous retention keeps fresh terminal tasks around.
	s.transition("live", models.TaskFailed, nil)
	if dropped := s.Sweep(time.Hour); dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
}
