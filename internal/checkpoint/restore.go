package checkpoint

import (
	"fmt"

	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/pkg/models"
)

// Target is the live state a checkpoint is restored into. Nil components
// are not in use and their saved state is ignored.
type Target struct {
	Model     engine.Model
	Optimizer engine.Optimizer
	Scheduler engine.Scheduler
	Scaler    engine.Scaler
}

// Restore loads model state, then optimizer, scheduler and scaler state
// when both the component and its saved state exist. A component without
// saved state keeps its freshly constructed state.
func Restore(cp *models.Checkpoint, t Target) error {
	if t.Model == nil {
		return fmt.Errorf("failed to restore checkpoint: no model")
	}
	if err := t.Model.LoadStateDict(cp.ModelState); err != nil {
		return fmt.Errorf("failed to load model state: %w", err)
	}

	optional := []struct {
		name      string
		component engine.Stateful
		state     []byte
	}{
		{"optimizer", t.Optimizer, cp.OptimizerState},
		{"scheduler", t.Scheduler, cp.SchedulerState},
		{"scaler", t.Scaler, cp.ScalerState},
	}
	for _, o := range optional {
		if o.component == nil || o.state == nil {
			continue
		}
		if err := o.component.LoadStateDict(o.state); err != nil {
			return fmt.Errorf("failed to load %s state: %w", o.name, err)
		}
	}
	return nil
}
