package models

import "testing"

func TestCanTransitionTask(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskPending, TaskInProgress, true},
		{TaskPending, TaskBlocked, true},
		{TaskPending, TaskCompleted, true},
		{TaskInProgress, TaskCompleted, true},
		{TaskInProgress, TaskPending, false},
		{TaskBlocked, TaskPending, true},
		{TaskBlocked, TaskCompleted, false},
		{TaskCompleted, TaskPending, false},
		{TaskFailed, TaskPending, true},
		{TaskCompleted, TaskCompleted, true},
	}
	for _, c := range cases {
		if got := CanTransitionTask(c.from, c.to); got != c.want {
			t.Errorf("CanTransitionTask(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
