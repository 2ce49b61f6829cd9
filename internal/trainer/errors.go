package trainer

import (
	"errors"
	"fmt"
)

// ErrEpochFailure is matched by every EpochError
var ErrEpochFailure = errors.New("epoch failure")

// Stage names the part of an epoch that failed
type Stage string

const (
	StageTransition Stage = "transition"
	StageTrain      Stage = "train"
	StageEval       Stage = "eval"
)

// EpochError reports an abandoned epoch. LAST still holds the previous
// epoch, so the run can be restarted and resumed from there.
type EpochError struct {
	Epoch int
	Stage Stage
	Err   error
}

func (e *EpochError) Error() string {
	return fmt.Sprintf("epoch %d failed during %s: %v", e.Epoch, e.Stage, e.Err)
}

func (e *EpochError) Unwrap() error { return e.Err }

func (e *EpochError) Is(target error) bool {
	return target == ErrEpochFailure
}
