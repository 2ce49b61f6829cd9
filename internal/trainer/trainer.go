// Package trainer drives a two-phase training run: it resolves how the run
// starts (resume, warm-start or fresh), executes the epoch loop, keeps the
// LAST slot current after every epoch and stops when early stopping fires
// or the epoch budget is spent.
package trainer

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"

	"github.com/lamim/dermaforge/internal/checkpoint"
	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/internal/earlystop"
	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/internal/metrics"
	"github.com/lamim/dermaforge/internal/phase"
	"github.com/lamim/dermaforge/internal/writer"
	"github.com/lamim/dermaforge/pkg/models"
)

// Options wires the driver to its collaborators
type Options struct {
	Config          *config.Config
	Model           engine.Model
	Toolkit         engine.Toolkit
	Runner          engine.Runner
	Scaler          engine.Scaler // nil disables loss scaling
	Store           *checkpoint.Store
	ClassIndexMap   map[int]string
	Hyperparameters *models.Hyperparameters
	History         *writer.HistoryWriter // optional
	Metrics         *metrics.Collector    // optional
	Progress        io.Writer             // nil hides the progress bar
	Logger          *slog.Logger
}

// Driver owns the run state; it is the only writer of both slots
type Driver struct {
	cfg       *config.Config
	model     engine.Model
	runner    engine.Runner
	scaler    engine.Scaler
	store     *checkpoint.Store
	classMap  map[int]string
	hparams   *models.Hyperparameters
	history   *writer.HistoryWriter
	metrics   *metrics.Collector
	progress  io.Writer
	logger    *slog.Logger
	phases    *phase.Controller
	monitor   *earlystop.Monitor
	slots     *slotWriter
	runID     string
	epoch     int
	mode      models.StartupMode
	startTime time.Time
}

// slotWriter times every slot write for the metrics collector
type slotWriter struct {
	store   *checkpoint.Store
	metrics *metrics.Collector
}

func (w *slotWriter) Write(ctx context.Context, slot models.Slot, cp *models.Checkpoint) error {
	start := time.Now()
	err := w.store.Write(ctx, slot, cp)
	w.metrics.RecordCheckpointWrite(slot, time.Since(start), err == nil)
	return err
}

// New validates the options and builds a driver ready to Run
func New(opts Options) (*Driver, error) {
	switch {
	case opts.Config == nil:
		return nil, fmt.Errorf("trainer needs a config")
	case opts.Model == nil || opts.Toolkit == nil || opts.Runner == nil:
		return nil, fmt.Errorf("trainer needs a model, toolkit and runner")
	case opts.Store == nil:
		return nil, fmt.Errorf("trainer needs a checkpoint store")
	case opts.Logger == nil:
		return nil, fmt.Errorf("trainer needs a logger")
	}
	if got, want := len(opts.ClassIndexMap), opts.Model.NumClasses(); got != want {
		return nil, fmt.Errorf("class index map has %d classes but the model outputs %d", got, want)
	}

	collector := opts.Metrics
	if collector == nil {
		collector = metrics.NewCollector(opts.Logger)
	}

	phases, err := phase.New(opts.Model, opts.Toolkit, opts.Config.Training, opts.Runner.StepsPerEpoch(), opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create phase controller: %w", err)
	}

	slots := &slotWriter{store: opts.Store, metrics: collector}
	monitor, err := earlystop.New(opts.Config.EarlyStopping.Patience, opts.Config.EarlyStopping.MinDelta, slots, opts.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create early-stopping monitor: %w", err)
	}

	return &Driver{
		cfg:      opts.Config,
		model:    opts.Model,
		runner:   opts.Runner,
		scaler:   opts.Scaler,
		store:    opts.Store,
		classMap: models.CopyClassIndexMap(opts.ClassIndexMap),
		hparams:  opts.Hyperparameters,
		history:  opts.History,
		metrics:  collector,
		progress: opts.Progress,
		logger:   opts.Logger,
		phases:   phases,
		monitor:  monitor,
		slots:    slots,
	}, nil
}

// Run executes the whole training session. Epoch failures come back as
// *EpochError; checkpoint failures are returned wrapped and are fatal.
func (d *Driver) Run(ctx context.Context) (*models.RunStats, error) {
	d.startTime = time.Now()
	if err := d.resolveStartup(ctx); err != nil {
		return nil, err
	}

	stats := &models.RunStats{
		RunID:      d.runID,
		Mode:       d.mode,
		StartEpoch: d.epoch,
		LastEpoch:  d.epoch - 1,
		StartTime:  d.startTime,
	}

	d.logger.Info("Starting training",
		"run_id", d.runID,
		"mode", d.mode,
		"start_epoch", d.epoch,
		"total_epochs", d.cfg.Training.Epochs,
		"phase", d.phases.Phase(),
		"steps_per_epoch", d.runner.StepsPerEpoch(),
		"amp", d.scaler != nil)

	bar := d.newProgressBar()
	defer func() { _ = bar.Close() }()

	for d.epoch <= d.cfg.Training.Epochs && !d.monitor.Stopped() {
		rec, err := d.runEpoch(ctx)
		d.finishStats(stats)
		if err != nil {
			return stats, err
		}

		stats.LastEpoch = rec.Epoch
		stats.EpochsCompleted++
		_ = bar.Add(1)
		d.epoch++
	}
	d.finishStats(stats)

	if stats.EarlyStopped {
		d.logger.Info("Early stopping triggered",
			"epoch", stats.LastEpoch,
			"patience", d.cfg.EarlyStopping.Patience,
			"best_loss", stats.BestLoss)
	}

	if d.cfg.Checkpoint.RemoveLastOnComplete {
		if err := d.store.Remove(ctx, models.SlotLast); err != nil {
			return stats, fmt.Errorf("failed to remove last checkpoint after completion: %w", err)
		}
	}

	d.logger.Info("Training complete",
		"run_id", d.runID,
		"epochs_completed", stats.EpochsCompleted,
		"last_epoch", stats.LastEpoch,
		"final_phase", stats.FinalPhase,
		"best_loss", stats.BestLoss,
		"best_checkpoint", d.store.Location(models.SlotBest),
		"duration", stats.TotalDuration.Round(time.Second))
	return stats, nil
}

func (d *Driver) finishStats(stats *models.RunStats) {
	stats.FinalPhase = d.phases.Phase()
	stats.BestLoss = d.monitor.BestLoss()
	stats.EarlyStopped = d.monitor.Stopped()
	stats.TotalDuration = time.Since(d.startTime)
}

func (d *Driver) newProgressBar() *progressbar.ProgressBar {
	remaining := d.cfg.Training.Epochs - d.epoch + 1
	if remaining < 0 {
		remaining = 0
	}
	out := d.progress
	if out == nil {
		out = io.Discard
	}
	return progressbar.NewOptions(remaining,
		progressbar.OptionSetWriter(out),
		progressbar.OptionSetDescription("Training"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("epoch"),
		progressbar.OptionShowIts())
}

// resolveStartup picks resume, warm-start or fresh and prepares the phase
func (d *Driver) resolveStartup(ctx context.Context) error {
	last, err := d.store.Read(ctx, models.SlotLast)
	if err != nil {
		return fmt.Errorf("failed to read last checkpoint: %w", err)
	}
	if last != nil {
		return d.resume(last)
	}

	best, err := d.store.Read(ctx, models.SlotBest)
	if err != nil {
		return fmt.Errorf("failed to read best checkpoint: %w", err)
	}
	if best != nil {
		return d.warmStart(best)
	}

	d.mode = models.StartupFresh
	d.epoch = 1
	d.runID = uuid.NewString()
	if err := d.phases.EnterHead(); err != nil {
		return err
	}
	d.logger.Info("No checkpoint found, starting fresh")
	return nil
}

func (d *Driver) resume(last *models.Checkpoint) error {
	if last.TrainingPhase == "" {
		return &checkpoint.CorruptCheckpointError{Slot: models.SlotLast, Reason: "missing training_phase"}
	}
	if err := checkpoint.ValidateCheckpoint(last, d.classMap, d.hparams); err != nil {
		return fmt.Errorf("cannot resume from %s: %w", d.store.Location(models.SlotLast), err)
	}
	if err := d.phases.Resume(last.TrainingPhase); err != nil {
		return err
	}
	err := checkpoint.Restore(last, checkpoint.Target{
		Model:     d.model,
		Optimizer: d.phases.Optimizer(),
		Scheduler: d.phases.Scheduler(),
		Scaler:    d.scaler,
	})
	if err != nil {
		return fmt.Errorf("failed to restore last checkpoint: %w", err)
	}
	d.monitor.Restore(last.EarlyStopping)

	d.mode = models.StartupResume
	d.epoch = last.Epoch + 1
	d.runID = last.RunID
	if d.runID == "" {
		d.runID = uuid.NewString()
	}
	d.logger.Info("Resuming from last checkpoint",
		"location", d.store.Location(models.SlotLast),
		"completed_epoch", last.Epoch,
		"phase", last.TrainingPhase,
		"best_loss", d.monitor.BestLoss())
	return nil
}

// warmStart loads only the weights of BEST; its recorded phase is ignored
func (d *Driver) warmStart(best *models.Checkpoint) error {
	if err := checkpoint.ValidateCheckpoint(best, d.classMap, d.hparams); err != nil {
		return fmt.Errorf("cannot warm-start from %s: %w", d.store.Location(models.SlotBest), err)
	}
	if err := checkpoint.Restore(best, checkpoint.Target{Model: d.model}); err != nil {
		return fmt.Errorf("failed to restore best checkpoint: %w", err)
	}
	if err := d.phases.WarmStart(); err != nil {
		return err
	}

	d.mode = models.StartupWarm
	d.epoch = 1
	d.runID = uuid.NewString()
	d.logger.Info("Warm-starting from best checkpoint",
		"location", d.store.Location(models.SlotBest),
		"recorded_epoch", best.Epoch,
		"recorded_phase", best.TrainingPhase)
	return nil
}

func (d *Driver) runEpoch(ctx context.Context) (models.EpochRecord, error) {
	epoch := d.epoch
	start := time.Now()

	if err := ctx.Err(); err != nil {
		return models.EpochRecord{}, &EpochError{Epoch: epoch, Stage: StageTrain, Err: err}
	}

	transitioned, err := d.phases.MaybeTransition(epoch)
	if err != nil {
		return models.EpochRecord{}, &EpochError{Epoch: epoch, Stage: StageTransition, Err: err}
	}
	if transitioned {
		d.logger.Info("Unfroze backbone", "epoch", epoch)
	}

	d.model.SetMode(engine.ModeTrain)
	train, err := d.runner.TrainEpoch(ctx, engine.Session{
		Model:     d.model,
		Optimizer: d.phases.Optimizer(),
		Scheduler: d.phases.Scheduler(),
		Scaler:    d.scaler,
		Epoch:     epoch,
	})
	if err != nil {
		return models.EpochRecord{}, &EpochError{Epoch: epoch, Stage: StageTrain, Err: err}
	}

	d.model.SetMode(engine.ModeEval)
	eval, err := d.runner.EvalEpoch(ctx, d.model)
	if err != nil {
		return models.EpochRecord{}, &EpochError{Epoch: epoch, Stage: StageEval, Err: err}
	}

	decision, err := d.monitor.Evaluate(ctx, eval.Loss, func() (*models.Checkpoint, error) {
		best := eval.Loss
		return d.snapshot(epoch, eval.Loss, &models.EarlyStoppingState{BestLoss: &best})
	})
	if err != nil {
		return models.EpochRecord{}, fmt.Errorf("epoch %d: failed to update best checkpoint: %w", epoch, err)
	}

	last, err := d.snapshot(epoch, eval.Loss, d.monitor.State())
	if err != nil {
		return models.EpochRecord{}, fmt.Errorf("epoch %d: %w", epoch, err)
	}
	if err := d.slots.Write(ctx, models.SlotLast, last); err != nil {
		return models.EpochRecord{}, fmt.Errorf("epoch %d: failed to write last checkpoint: %w", epoch, err)
	}

	rec := models.EpochRecord{
		Epoch:         epoch,
		Phase:         d.phases.Phase(),
		TrainLoss:     train.Loss,
		TrainAccuracy: train.Accuracy,
		ValLoss:       eval.Loss,
		ValAccuracy:   eval.Accuracy,
		Precision:     eval.Precision,
		Recall:        eval.Recall,
		F1:            eval.F1,
		LearningRate:  d.phases.Scheduler().LR(),
		Improved:      decision.Improved,
		DurationMS:    time.Since(start).Milliseconds(),
		FinishedAt:    time.Now().UTC(),
	}
	d.record(rec, time.Since(start))
	return rec, nil
}

func (d *Driver) record(rec models.EpochRecord, duration time.Duration) {
	d.metrics.RecordEpoch(rec, duration)
	if best := d.monitor.BestLoss(); !math.IsInf(best, 1) {
		d.metrics.SetBestLoss(best)
	}
	if d.history != nil {
		if err := d.history.Append(rec); err != nil {
			d.logger.Warn("Failed to append epoch history", "epoch", rec.Epoch, "error", err)
		}
	}

	d.logger.Info("Epoch complete",
		"epoch", rec.Epoch,
		"phase", rec.Phase,
		"train_loss", rec.TrainLoss,
		"train_acc", rec.TrainAccuracy,
		"val_loss", rec.ValLoss,
		"val_acc", rec.ValAccuracy,
		"precision", rec.Precision,
		"recall", rec.Recall,
		"f1", rec.F1,
		"lr", rec.LearningRate,
		"improved", rec.Improved,
		"duration_ms", rec.DurationMS)
}

// snapshot captures the whole run state at the end of epoch
func (d *Driver) snapshot(epoch int, valLoss float64, es *models.EarlyStoppingState) (*models.Checkpoint, error) {
	modelState, err := d.model.StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to capture model state: %w", err)
	}
	optState, err := d.phases.Optimizer().StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to capture optimizer state: %w", err)
	}
	schedState, err := d.phases.Scheduler().StateDict()
	if err != nil {
		return nil, fmt.Errorf("failed to capture scheduler state: %w", err)
	}
	var scalerState []byte
	if d.scaler != nil {
		if scalerState, err = d.scaler.StateDict(); err != nil {
			return nil, fmt.Errorf("failed to capture scaler state: %w", err)
		}
	}

	cp := &models.Checkpoint{
		Epoch:          epoch,
		ModelState:     modelState,
		OptimizerState: optState,
		SchedulerState: schedState,
		ScalerState:    scalerState,
		TrainingPhase:  d.phases.Phase(),
		ClassIndexMap:  models.CopyClassIndexMap(d.classMap),
		RunID:          d.runID,
		SavedAt:        time.Now().UTC(),
		EarlyStopping:  es,
	}
	if d.hparams != nil {
		hp := *d.hparams
		cp.Hyperparameters = &hp
	}
	if !math.IsNaN(valLoss) && !math.IsInf(valLoss, 0) {
		cp.ValLoss = &valLoss
	}
	return cp, nil
}
