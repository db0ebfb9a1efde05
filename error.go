package sr

import "fmt"

type ErrorCode int

const (
	Unknown ErrorCode = iota
	InvalidTransition
	InvariantViolation
	BudgetExceeded
	MissingReference
	IntegrityCondition
	ConcurrencyConflict
	StreamNotFound
	EvidenceNotFound
	HashMismatch
)

// Error is the SOLVER-Ralph custom error: a code plus optional wrapped cause and
// user data for callers that need structured context.
type Error struct {
	Code     ErrorCode
	Err      error
	UserData any
}

func (e Error) Error() string {
	return fmt.Sprintf("error code: %d, user data: %v, details: %v", e.Code, e.UserData, e.Err)
}

func (e Error) Unwrap() error {
	return e.Err
}

// TransitionError reports an invalid state machine transition.
func TransitionError(current, attempted string) error {
	return Error{
		Code: InvalidTransition,
		Err:  fmt.Errorf("cannot transition from %s via %s", current, attempted),
	}
}

// ConflictError reports an optimistic concurrency failure on append.
func ConflictError(streamID string, expected, actual uint64) error {
	return Error{
		Code:     ConcurrencyConflict,
		Err:      fmt.Errorf("stream %s: expected version %d, got %d", streamID, expected, actual),
		UserData: streamID,
	}
}

// NotFoundError reports a missing stream.
func NotFoundError(streamID string) error {
	return Error{
		Code:     StreamNotFound,
		Err:      fmt.Errorf("stream not found: %s", streamID),
		UserData: streamID,
	}
}

// CodeOf extracts the ErrorCode from an error, or Unknown if it is not an sr.Error.
func CodeOf(err error) ErrorCode {
	if e, ok := err.(Error); ok {
		return e.Code
	}
	return Unknown
}
