package models

import "testing"

func TestFragmentValidate(t *testing.T) {
	f := &Fragment{TargetLabel: "Auth", Body: "content"}
	if err := f.Validate(); err != nil {
		t.Errorf("valid fragment rejected: %v", err)
	}

	empty := &Fragment{TargetLabel: "Auth"}
	if err := empty.Validate(); err == nil {
		t.Error("expected error for empty body")
	}
}

func TestTaskTerminal(t *testing.T) {
	for _, status := range []string{TaskCompleted, TaskFailed, TaskCancelled} {
		task := &Task{Status: status}
		if !task.Terminal() {
			t.Errorf("status %q should be terminal", status)
		}
	}
	for _, status := range []string{TaskPending, TaskRunning} {
		task := &Task{Status: status}
		if task.Terminal() {
			t.Errorf("status %q should not be terminal", status)
		}
	}
}
