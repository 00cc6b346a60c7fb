package work

import "testing"

func TestTerminalStatesAreFinal(t *testing.T) {
	all := []State{
		StateNew, StateQueued, StateAssigned, StateInProgress,
		StateCompleted, StateFailedRetry, StateFailedTerminal, StateEscalated,
	}
	for _, from := range []State{StateCompleted, StateFailedTerminal, StateEscalated} {
		for _, to := range all {
			if CanTransition(from, to) {
				t.Fatalf("terminal %s must not transition to %s", from, to)
			}
		}
	}
}

func TestRetryIsOnlyCycle(t *testing.T) {
	if !CanTransition(StateFailedRetry, StateQueued) {
		t.Fatalf("FAILED_RETRY -> QUEUED must be allowed")
	}
	if CanTransition(StateCompleted, StateQueued) || CanTransition(StateEscalated, StateQueued) {
		t.Fatalf("no other path back to QUEUED")
	}
}

func TestWithdrawalFromAnyNonTerminal(t *testing.T) {
	for _, from := range []State{StateNew, StateQueued, StateAssigned, StateInProgress, StateFailedRetry} {
		if !CanTransition(from, StateFailedTerminal) {
			t.Fatalf("%s -> FAILED_TERMINAL (withdrawal) must be allowed", from)
		}
	}
}

func TestHappyPath(t *testing.T) {
	path := []State{StateNew, StateQueued, StateAssigned, StateInProgress, StateCompleted}
	for i := 0; i < len(path)-1; i++ {
		if !CanTransition(path[i], path[i+1]) {
			t.Fatalf("%s -> %s must be allowed", path[i], path[i+1])
		}
	}
}

func TestParsePriority(t *testing.T) {
	p, err := ParsePriority("P2")
	if err != nil || p != P2 {
		t.Fatalf("parse P2: %v %v", p, err)
	}
	if _, err := ParsePriority("P5"); err == nil {
		t.Fatalf("want error for P5")
	}
	if P0.String() != "P0" || P4.String() != "P4" {
		t.Fatalf("priority strings")
	}
}
