// Package engine defines the collaborators the training controller drives:
// the trainable model, its optimizer and learning-rate scheduler, the gradient
// scaler, and the runner that executes one training or evaluation epoch.
//
// The controller never looks inside these objects. It only moves their opaque
// state in and out of checkpoints and decides which parameters are trainable.
package engine

import (
	"context"
	"errors"
	"fmt"
)

// Stateful is implemented by every component whose state is checkpointed
type Stateful interface {
	StateDict() ([]byte, error)
	LoadStateDict(state []byte) error
}

// Param is a named parameter tensor of a model
type Param interface {
	Name() string
	Trainable() bool
	SetTrainable(trainable bool)
}

// Mode switches a model between training and inference behavior
type Mode int

const (
	ModeTrain Mode = iota
	ModeEval
)

// Model is the trainable network
type Model interface {
	Stateful
	Params() []Param
	SetMode(mode Mode)
	NumClasses() int
}

// Optimizer updates trainable parameters
type Optimizer interface {
	Stateful
}

// Scheduler adjusts an optimizer's learning rate once per step
type Scheduler interface {
	Stateful
	LR() float64
}

// Scaler is the mixed-precision gradient scaling helper
type Scaler interface {
	Stateful
}

// ScheduleSpec sizes a one-cycle learning-rate schedule
type ScheduleSpec struct {
	MaxLR      float64
	TotalSteps int
	PctStart   float64
}

// Toolkit constructs optimizers and schedulers for a phase
type Toolkit interface {
	NewOptimizer(params []Param, lr, weightDecay float64) (Optimizer, error)
	NewScheduler(opt Optimizer, spec ScheduleSpec) (Scheduler, error)
}

// Session is the live set of components one epoch operates on.
// Scaler is nil when mixed precision is disabled.
type Session struct {
	Model     Model
	Optimizer Optimizer
	Scheduler Scheduler
	Scaler    Scaler
	Epoch     int
}

// TrainResult is the outcome of one training epoch
type TrainResult struct {
	Loss     float64
	Accuracy float64
}

// EvalResult is the outcome of one evaluation epoch
type EvalResult struct {
	Loss      float64
	Accuracy  float64
	Precision float64
	Recall    float64
	F1        float64
}

// Runner executes full passes over the training and validation data
type Runner interface {
	StepsPerEpoch() int
	TrainEpoch(ctx context.Context, s Session) (TrainResult, error)
	EvalEpoch(ctx context.Context, m Model) (EvalResult, error)
}

// ErrStateShapeMismatch is matched by every StateShapeMismatchError
var ErrStateShapeMismatch = errors.New("state shape mismatch")

// StateShapeMismatchError reports a restored tensor whose shape disagrees
// with the constructed model, e.g. after the class count changed.
type StateShapeMismatchError struct {
	Tensor   string
	Expected []int
	Actual   []int
}

func (e *StateShapeMismatchError) Error() string {
	if e.Actual == nil {
		return fmt.Sprintf("state shape mismatch: tensor %q missing from state (expected %v)", e.Tensor, e.Expected)
	}
	if e.Expected == nil {
		return fmt.Sprintf("state shape mismatch: unexpected tensor %q with shape %v", e.Tensor, e.Actual)
	}
	return fmt.Sprintf("state shape mismatch: tensor %q expected %v, got %v", e.Tensor, e.Expected, e.Actual)
}

func (e *StateShapeMismatchError) Is(target error) bool {
	return target == ErrStateShapeMismatch
}

// TrainableParams filters params to the ones currently marked trainable
func TrainableParams(params []Param) []Param {
	out := make([]Param, 0, len(params))
	for _, p := range params {
		if p.Trainable() {
			out = append(out, p)
		}
	}
	return out
}
