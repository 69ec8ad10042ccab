package pipeline

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a stage failure for the retry policy.
type ErrorKind int

const (
	// KindRetryable failures are re-enqueued with backoff until the retry
	// budget runs out, then dead-lettered.
	KindRetryable ErrorKind = iota
	// KindFatal failures mark the event failed immediately. One retry unit
	// is still consumed so repeated fatals on a re-published event cannot
	// loop forever.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	default:
		return fmt.Sprintf("ErrorKind(%d)", int(k))
	}
}

// StageError is a pipeline failure attributed to a stage.
type StageError struct {
	Stage Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage (%s): %v", e.Stage, e.Kind, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

func retryable(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindRetryable, Err: err}
}

func fatal(stage Stage, err error) *StageError {
	return &StageError{Stage: stage, Kind: KindFatal, Err: err}
}

// AsStageError extracts a StageError from an error chain. Unattributed
// errors default to retryable so transient faults are not silently fatal.
func AsStageError(err error) *StageError {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr
	}
	return &StageError{Stage: StageReasoning, Kind: KindRetryable, Err: err}
}
