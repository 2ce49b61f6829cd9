// Package phase owns the two-phase training schedule: a head phase where the
// backbone is frozen, followed by a finetune phase over every parameter. Each
// phase gets its own freshly built optimizer and one-cycle scheduler.
package phase

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/pkg/models"
)

// BackboneMarker identifies parameters frozen during the head phase
const BackboneMarker = "backbone"

// Controller switches the model between phases and holds the optimizer and
// scheduler of the current one.
type Controller struct {
	model         engine.Model
	toolkit       engine.Toolkit
	cfg           config.TrainingConfig
	stepsPerEpoch int
	logger        *slog.Logger

	phase        models.TrainingPhase
	optimizer    engine.Optimizer
	scheduler    engine.Scheduler
	transitioned bool
}

// New creates a controller with no phase entered yet
func New(model engine.Model, toolkit engine.Toolkit, cfg config.TrainingConfig, stepsPerEpoch int, logger *slog.Logger) (*Controller, error) {
	if stepsPerEpoch < 1 {
		return nil, fmt.Errorf("steps per epoch must be at least 1 (got %d)", stepsPerEpoch)
	}
	if cfg.FreezeEpochs < 1 || cfg.FreezeEpochs >= cfg.Epochs {
		return nil, fmt.Errorf("freeze epochs must be in [1, %d) (got %d)", cfg.Epochs, cfg.FreezeEpochs)
	}
	return &Controller{
		model:         model,
		toolkit:       toolkit,
		cfg:           cfg,
		stepsPerEpoch: stepsPerEpoch,
		logger:        logger,
	}, nil
}

func (c *Controller) Phase() models.TrainingPhase { return c.phase }
func (c *Controller) Optimizer() engine.Optimizer { return c.optimizer }
func (c *Controller) Scheduler() engine.Scheduler { return c.scheduler }
func (c *Controller) Transitioned() bool          { return c.transitioned }

// EnterHead freezes the backbone and schedules the head phase
func (c *Controller) EnterHead() error {
	frozen := 0
	for _, p := range c.model.Params() {
		backbone := strings.Contains(p.Name(), BackboneMarker)
		p.SetTrainable(!backbone)
		if backbone {
			frozen++
		}
	}
	spec := engine.ScheduleSpec{
		MaxLR:      c.cfg.LRFrozen,
		TotalSteps: c.cfg.FreezeEpochs * c.stepsPerEpoch,
		PctStart:   c.cfg.HeadPctStart,
	}
	if err := c.rebuild(models.PhaseHead, spec); err != nil {
		return err
	}
	c.logger.Info("Entered head phase",
		"frozen_params", frozen,
		"max_lr", spec.MaxLR,
		"total_steps", spec.TotalSteps)
	return nil
}

// EnterFinetune unfreezes every parameter and schedules the remaining epochs
func (c *Controller) EnterFinetune() error {
	return c.enterFinetune((c.cfg.Epochs - c.cfg.FreezeEpochs) * c.stepsPerEpoch)
}

// WarmStart enters the finetune phase with a budget covering the whole run
func (c *Controller) WarmStart() error {
	return c.enterFinetune(c.cfg.Epochs * c.stepsPerEpoch)
}

func (c *Controller) enterFinetune(totalSteps int) error {
	for _, p := range c.model.Params() {
		p.SetTrainable(true)
	}
	spec := engine.ScheduleSpec{
		MaxLR:      c.cfg.LRFull,
		TotalSteps: totalSteps,
		PctStart:   c.cfg.FullPctStart,
	}
	if err := c.rebuild(models.PhaseFinetune, spec); err != nil {
		return err
	}
	c.logger.Info("Entered finetune phase",
		"max_lr", spec.MaxLR,
		"total_steps", spec.TotalSteps)
	return nil
}

// Resume rebuilds the trainable set and optimizer of a recorded phase so that
// saved optimizer and scheduler state can be loaded into them. A resumed
// finetune phase never transitions again.
func (c *Controller) Resume(phase models.TrainingPhase) error {
	switch phase {
	case models.PhaseHead:
		return c.EnterHead()
	case models.PhaseFinetune:
		c.transitioned = true
		return c.EnterFinetune()
	default:
		return fmt.Errorf("cannot resume unknown phase %q", phase)
	}
}

// MaybeTransition enters the finetune phase once the head phase has used its
// epochs. It reports whether a transition happened.
func (c *Controller) MaybeTransition(epoch int) (bool, error) {
	if c.phase != models.PhaseHead || epoch < c.cfg.FreezeEpochs+1 {
		return false, nil
	}
	if err := c.EnterFinetune(); err != nil {
		return false, fmt.Errorf("failed to enter finetune phase at epoch %d: %w", epoch, err)
	}
	c.transitioned = true
	return true, nil
}

func (c *Controller) rebuild(phase models.TrainingPhase, spec engine.ScheduleSpec) error {
	opt, err := c.toolkit.NewOptimizer(engine.TrainableParams(c.model.Params()), spec.MaxLR, c.cfg.WeightDecay)
	if err != nil {
		return fmt.Errorf("failed to build %s optimizer: %w", phase, err)
	}
	sched, err := c.toolkit.NewScheduler(opt, spec)
	if err != nil {
		return fmt.Errorf("failed to build %s scheduler: %w", phase, err)
	}
	c.phase = phase
	c.optimizer = opt
	c.scheduler = sched
	return nil
}
