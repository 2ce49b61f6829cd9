package models

import (
	"fmt"
	"time"
)

// TrainingPhase represents which parameters are being trained
type TrainingPhase string

const (
	// PhaseHead trains only the embedding/classifier head, backbone frozen
	PhaseHead TrainingPhase = "head"
	// PhaseFinetune trains every parameter
	PhaseFinetune TrainingPhase = "finetune"
)

// ParsePhase validates a phase string read from disk or flags
func ParsePhase(s string) (TrainingPhase, error) {
	switch TrainingPhase(s) {
	case PhaseHead, PhaseFinetune:
		return TrainingPhase(s), nil
	default:
		return "", fmt.Errorf("unknown training phase %q", s)
	}
}

// Slot names one of the two checkpoint locations
type Slot string

const (
	// SlotLast is rewritten after every completed epoch for resumption
	SlotLast Slot = "last"
	// SlotBest holds the deployable weights of the best validation loss
	SlotBest Slot = "best"
)

// ParseSlot validates a slot name given on the command line
func ParseSlot(s string) (Slot, error) {
	switch Slot(s) {
	case SlotLast, SlotBest:
		return Slot(s), nil
	default:
		return "", fmt.Errorf("unknown checkpoint slot %q (want last or best)", s)
	}
}

// Hyperparameters is the informational record written into every checkpoint.
// The serving layer rebuilds the model from it.
type Hyperparameters struct {
	Arch         string `json:"arch"`
	NumClasses   int    `json:"num_classes"`
	EmbeddingDim int    `json:"embedding_dim"`
	HiddenDim    int    `json:"hidden_dim,omitempty"`
	ImageSize    int    `json:"image_size,omitempty"`
}

// EarlyStoppingState is the persisted part of the early-stopping monitor.
// BestLoss is nil until a finite loss has been recorded.
type EarlyStoppingState struct {
	BestLoss   *float64 `json:"best_loss,omitempty"`
	StaleCount int      `json:"stale_count"`
}

// Checkpoint represents one persisted snapshot of a training run.
// Optional byte fields are nil when the component was not in use.
type Checkpoint struct {
	Epoch          int    `json:"epoch"`
	ModelState     []byte `json:"model_state"`
	OptimizerState []byte `json:"optimizer_state,omitempty"`
	SchedulerState []byte `json:"scheduler_state,omitempty"`
	ScalerState    []byte `json:"scaler_state,omitempty"`

	TrainingPhase   TrainingPhase    `json:"training_phase"`
	ClassIndexMap   map[int]string   `json:"idx_to_class"`
	Hyperparameters *Hyperparameters `json:"hparams,omitempty"`

	RunID         string              `json:"run_id,omitempty"`
	SavedAt       time.Time           `json:"saved_at"`
	ValLoss       *float64            `json:"val_loss,omitempty"`
	EarlyStopping *EarlyStoppingState `json:"early_stopping,omitempty"`
}

// NumClasses returns the number of classes recorded in the class index map
func (c *Checkpoint) NumClasses() int {
	return len(c.ClassIndexMap)
}

// CopyClassIndexMap returns an independent copy of a class index map
func CopyClassIndexMap(m map[int]string) map[int]string {
	if m == nil {
		return nil
	}
	out := make(map[int]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
