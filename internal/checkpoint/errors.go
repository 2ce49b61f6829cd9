package checkpoint

import (
	"errors"
	"fmt"

	"github.com/lamim/dermaforge/pkg/models"
)

var (
	// ErrCorruptCheckpoint is matched by every CorruptCheckpointError
	ErrCorruptCheckpoint = errors.New("corrupt checkpoint")
	// ErrStorageFailure is matched by every StorageError
	ErrStorageFailure = errors.New("checkpoint storage failure")
	// ErrClassMapMismatch reports a checkpoint from a run with different classes or architecture
	ErrClassMapMismatch = errors.New("checkpoint does not match the current run")
)

// CorruptCheckpointError means a slot exists but its required fields are
// missing or unreadable
type CorruptCheckpointError struct {
	Slot   models.Slot
	Reason string
	Err    error
}

func (e *CorruptCheckpointError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("corrupt %s checkpoint: %s: %v", e.Slot, e.Reason, e.Err)
	}
	return fmt.Sprintf("corrupt %s checkpoint: %s", e.Slot, e.Reason)
}

func (e *CorruptCheckpointError) Unwrap() error { return e.Err }

func (e *CorruptCheckpointError) Is(target error) bool {
	return target == ErrCorruptCheckpoint
}

// StorageError wraps an I/O failure on a slot
type StorageError struct {
	Slot models.Slot
	Op   string
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("failed to %s %s checkpoint: %v", e.Op, e.Slot, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool {
	return target == ErrStorageFailure
}
