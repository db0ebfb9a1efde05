package sr

// LoopTransition names an attempted loop state change.
type LoopTransition string

const (
	TransitionActivate LoopTransition = "Activate"
	TransitionStop     LoopTransition = "Stop"
	TransitionResume   LoopTransition = "Resume"
	TransitionClose    LoopTransition = "Close"
)

// NextLoopState validates and computes the next state for a loop transition.
//
// CREATED -> ACTIVE via Activate; ACTIVE -> PAUSED via Stop;
// PAUSED -> ACTIVE via Resume; any state except CLOSED -> CLOSED via Close.
func NextLoopState(current LoopState, t LoopTransition) (LoopState, error) {
	switch {
	case current == LoopCreated && t == TransitionActivate:
		return LoopActive, nil
	case current == LoopActive && t == TransitionStop:
		return LoopPaused, nil
	case current == LoopPaused && t == TransitionResume:
		return LoopActive, nil
	case t == TransitionClose && current != LoopClosed:
		return LoopClosed, nil
	default:
		return current, TransitionError(string(current), string(t))
	}
}

// EventForLoopTransition maps a transition to the event type it emits.
func EventForLoopTransition(t LoopTransition) string {
	switch t {
	case TransitionActivate:
		return EventLoopActivated
	case TransitionStop:
		return EventLoopPaused
	case TransitionResume:
		return EventLoopResumed
	case TransitionClose:
		return EventLoopClosed
	}
	return ""
}
