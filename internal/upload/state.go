package upload

import "fmt"

// State is a step of a single submission
type State int

const (
	StateIdle State = iota
	StateValidating
	StateUploadingAudio
	StateUploadingImage
	StateInsertingRecord
	StateSucceeded
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateValidating:
		return "validating"
	case StateUploadingAudio:
		return "uploading_audio"
	case StateUploadingImage:
		return "uploading_image"
	case StateInsertingRecord:
		return "inserting_record"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// canMove allows forward steps only. Failed is reachable from any
// non-terminal state.
func canMove(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == StateFailed {
		return true
	}
	if to == StateSucceeded {
		return from == StateInsertingRecord
	}
	return to == from+1
}

// StepError reports the step a submission failed in
type StepError struct {
	Step State
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}
