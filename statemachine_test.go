package sr

import "testing"

func TestLoopTransitions(t *testing.T) {
	cases := []struct {
		current    LoopState
		transition LoopTransition
		want       LoopState
		wantErr    bool
	}{
		{LoopCreated, TransitionActivate, LoopActive, false},
		{LoopActive, TransitionStop, LoopPaused, false},
		{LoopPaused, TransitionResume, LoopActive, false},
		{LoopCreated, TransitionClose, LoopClosed, false},
		{LoopActive, TransitionClose, LoopClosed, false},
		{LoopPaused, TransitionClose, LoopClosed, false},
		{LoopClosed, TransitionClose, LoopClosed, true},
		{LoopCreated, TransitionStop, LoopCreated, true},
		{LoopCreated, TransitionResume, LoopCreated, true},
		{LoopActive, TransitionActivate, LoopActive, true},
		{LoopPaused, TransitionStop, LoopPaused, true},
		{LoopClosed, TransitionActivate, LoopClosed, true},
	}
	for _, c := range cases {
		got, err := NextLoopState(c.current, c.transition)
		if c.wantErr {
			if err == nil {
				t.Errorf("%s via %s: expected error", c.current, c.transition)
			}
			if CodeOf(err) != InvalidTransition {
				t.Errorf("%s via %s: expected InvalidTransition code", c.current, c.transition)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s via %s: unexpected error: %v", c.current, c.transition, err)
		}
		if got != c.want {
			t.Errorf("%s via %s = %s, want %s", c.current, c.transition, got, c.want)
		}
	}
}

func TestEventForLoopTransition(t *testing.T) {
	if EventForLoopTransition(TransitionActivate) != EventLoopActivated {
		t.Error("Activate should emit LoopActivated")
	}
	if EventForLoopTransition(TransitionStop) != EventLoopPaused {
		t.Error("Stop should emit LoopPaused")
	}
	if EventForLoopTransition(TransitionResume) != EventLoopResumed {
		t.Error("Resume should emit LoopResumed")
	}
	if EventForLoopTransition(TransitionClose) != EventLoopClosed {
		t.Error("Close should emit LoopClosed")
	}
}
