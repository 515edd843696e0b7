package models

import "testing"

func TestCanTransitionSession(t *testing.T) {
	cases := []struct {
		from, to SessionStatus
		want     bool
	}{
		{SessionPending, SessionStarting, true},
		{SessionPending, SessionRunning, false},
		{SessionStarting, SessionRunning, true},
		{SessionStarting, SessionError, true},
		{SessionRunning, SessionIdle, true},
		{SessionRunning, SessionHibernated, true},
		{SessionIdle, SessionRunning, true},
		{SessionIdle, SessionStarting, false},
		{SessionHibernated, SessionStarting, true},
		{SessionHibernated, SessionRunning, false},
		{SessionError, SessionTerminated, true},
		{SessionError, SessionRunning, false},
		{SessionTerminated, SessionStarting, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
