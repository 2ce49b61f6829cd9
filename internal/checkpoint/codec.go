package checkpoint

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/lamim/dermaforge/pkg/models"
)

// wireCheckpoint mirrors models.Checkpoint with pointer fields so that a
// missing required key can be told apart from a zero value
type wireCheckpoint struct {
	Epoch          *int              `json:"epoch"`
	ModelState     *[]byte           `json:"model_state"`
	OptimizerState []byte            `json:"optimizer_state"`
	SchedulerState []byte            `json:"scheduler_state"`
	ScalerState    []byte            `json:"scaler_state"`
	TrainingPhase  string            `json:"training_phase"`
	ClassIndexMap  map[string]string `json:"idx_to_class"`

	Hyperparameters *models.Hyperparameters    `json:"hparams"`
	RunID           string                     `json:"run_id"`
	SavedAt         time.Time                  `json:"saved_at"`
	ValLoss         *float64                   `json:"val_loss"`
	EarlyStopping   *models.EarlyStoppingState `json:"early_stopping"`
}

// Encode serializes a checkpoint
func Encode(cp *models.Checkpoint) ([]byte, error) {
	if cp == nil {
		return nil, fmt.Errorf("failed to encode checkpoint: nil checkpoint")
	}
	if len(cp.ModelState) == 0 {
		return nil, fmt.Errorf("failed to encode checkpoint: model state is empty")
	}
	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal checkpoint: %w", err)
	}
	return data, nil
}

// Decode parses a checkpoint read from slot. Missing optional keys decode
// as nil; a missing or malformed epoch, model state or phase is corrupt.
func Decode(slot models.Slot, data []byte) (*models.Checkpoint, error) {
	var w wireCheckpoint
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &CorruptCheckpointError{Slot: slot, Reason: "malformed record", Err: err}
	}

	if w.Epoch == nil {
		return nil, &CorruptCheckpointError{Slot: slot, Reason: "missing epoch"}
	}
	if *w.Epoch < 1 {
		return nil, &CorruptCheckpointError{Slot: slot, Reason: fmt.Sprintf("invalid epoch %d", *w.Epoch)}
	}
	if w.ModelState == nil || len(*w.ModelState) == 0 {
		return nil, &CorruptCheckpointError{Slot: slot, Reason: "missing model_state"}
	}

	cp := &models.Checkpoint{
		Epoch:           *w.Epoch,
		ModelState:      *w.ModelState,
		OptimizerState:  w.OptimizerState,
		SchedulerState:  w.SchedulerState,
		ScalerState:     w.ScalerState,
		Hyperparameters: w.Hyperparameters,
		RunID:           w.RunID,
		SavedAt:         w.SavedAt,
		ValLoss:         w.ValLoss,
		EarlyStopping:   w.EarlyStopping,
	}

	if w.TrainingPhase != "" {
		phase, err := models.ParsePhase(w.TrainingPhase)
		if err != nil {
			return nil, &CorruptCheckpointError{Slot: slot, Reason: "invalid training_phase", Err: err}
		}
		cp.TrainingPhase = phase
	}

	if w.ClassIndexMap != nil {
		cp.ClassIndexMap = make(map[int]string, len(w.ClassIndexMap))
		for k, v := range w.ClassIndexMap {
			idx, err := strconv.Atoi(k)
			if err != nil {
				return nil, &CorruptCheckpointError{Slot: slot, Reason: fmt.Sprintf("non-integer class index %q", k)}
			}
			cp.ClassIndexMap[idx] = v
		}
	}

	return cp, nil
}
