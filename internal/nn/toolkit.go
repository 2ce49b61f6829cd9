package nn

import (
	"fmt"

	"github.com/lamim/dermaforge/internal/engine"
)

// Toolkit builds AdamW optimizers and one-cycle schedules for the classifier
type Toolkit struct{}

func (Toolkit) NewOptimizer(params []engine.Param, lr, weightDecay float64) (engine.Optimizer, error) {
	concrete := make([]*Parameter, 0, len(params))
	for _, p := range params {
		cp, ok := p.(*Parameter)
		if !ok {
			return nil, fmt.Errorf("parameter %q is %T, want *nn.Parameter", p.Name(), p)
		}
		concrete = append(concrete, cp)
	}
	return NewAdamW(concrete, lr, weightDecay)
}

func (Toolkit) NewScheduler(opt engine.Optimizer, spec engine.ScheduleSpec) (engine.Scheduler, error) {
	adam, ok := opt.(*AdamW)
	if !ok {
		return nil, fmt.Errorf("optimizer is %T, want *nn.AdamW", opt)
	}
	return NewOneCycle(adam, spec.MaxLR, spec.TotalSteps, spec.PctStart)
}
