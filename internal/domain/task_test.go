package domain

import "testing"

func TestProgressMapping(t *testing.T) {
	cases := map[string]int{
		TaskPending:   0,
		TaskPulling:   20,
		TaskBuilding:  50,
		TaskDeploying: 80,
		TaskCompleted: 100,
		TaskFailed:    100,
	}
	for status, want := range cases {
		if got := Progress(status); got != want {
			t.Fatalf("Progress(%q) = %d, want %d", status, got, want)
		}
	}
	if got := Progress("unknown"); got != 0 {
		t.Fatalf("unknown status progress = %d, want 0", got)
	}
}

func TestTerminalStatus(t *testing.T) {
	for _, status := range []string{TaskPending, TaskPulling, TaskBuilding, TaskDeploying} {
		if TerminalStatus(status) {
			t.Fatalf("%q must not be terminal", status)
		}
	}
	for _, status := range []string{TaskCompleted, TaskFailed} {
		if !TerminalStatus(status) {
			t.Fatalf("%q must be terminal", status)
		}
	}
}
