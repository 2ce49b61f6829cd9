package checkpoint

import (
	"fmt"
	"maps"

	"github.com/lamim/dermaforge/pkg/models"
)

// ValidateCheckpoint verifies a checkpoint belongs to a run with the same
// classes and architecture as the current one
func ValidateCheckpoint(cp *models.Checkpoint, classMap map[int]string, hp *models.Hyperparameters) error {
	if !maps.Equal(cp.ClassIndexMap, classMap) {
		return fmt.Errorf("%w: checkpoint has %d classes %v, dataset has %d classes %v",
			ErrClassMapMismatch, len(cp.ClassIndexMap), cp.ClassIndexMap, len(classMap), classMap)
	}

	if cp.Hyperparameters == nil || hp == nil {
		return nil
	}
	saved, cur := cp.Hyperparameters, hp
	if saved.Arch != cur.Arch {
		return fmt.Errorf("%w: arch %q vs %q", ErrClassMapMismatch, saved.Arch, cur.Arch)
	}
	if saved.EmbeddingDim != cur.EmbeddingDim {
		return fmt.Errorf("%w: embedding_dim %d vs %d", ErrClassMapMismatch, saved.EmbeddingDim, cur.EmbeddingDim)
	}
	if saved.HiddenDim != 0 && saved.HiddenDim != cur.HiddenDim {
		return fmt.Errorf("%w: hidden_dim %d vs %d", ErrClassMapMismatch, saved.HiddenDim, cur.HiddenDim)
	}
	if saved.ImageSize != 0 && saved.ImageSize != cur.ImageSize {
		return fmt.Errorf("%w: image_size %d vs %d", ErrClassMapMismatch, saved.ImageSize, cur.ImageSize)
	}
	return nil
}

// Summary is the metadata of a slot shown by the CLI
type Summary struct {
	Slot       models.Slot
	Location   string
	Present    bool
	Epoch      int
	Phase      models.TrainingPhase
	NumClasses int
	RunID      string
	ValLoss    *float64
	HasOptim   bool
	HasSched   bool
	HasScaler  bool
}

// Summarize extracts display metadata from a checkpoint
func Summarize(slot models.Slot, location string, cp *models.Checkpoint) Summary {
	s := Summary{Slot: slot, Location: location}
	if cp == nil {
		return s
	}
	s.Present = true
	s.Epoch = cp.Epoch
	s.Phase = cp.TrainingPhase
	s.NumClasses = cp.NumClasses()
	s.RunID = cp.RunID
	s.ValLoss = cp.ValLoss
	s.HasOptim = cp.OptimizerState != nil
	s.HasSched = cp.SchedulerState != nil
	s.HasScaler = cp.ScalerState != nil
	return s
}
