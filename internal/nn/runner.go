package nn

import (
	"context"
	"fmt"
	"math"

	"github.com/lamim/dermaforge/internal/dataset"
	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/internal/evalmetrics"
)

// RunnerConfig controls batching and the loss
type RunnerConfig struct {
	BatchSize      int
	Seed           int64
	HFlipProb      float64
	LabelSmoothing float64
}

// Runner trains and evaluates a Classifier over in-memory splits
type Runner struct {
	train *dataset.Split
	val   *dataset.Split
	cfg   RunnerConfig
}

// NewRunner creates a runner over the given splits
func NewRunner(train, val *dataset.Split, cfg RunnerConfig) (*Runner, error) {
	if cfg.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be positive (got %d)", cfg.BatchSize)
	}
	if train == nil || len(train.Samples) == 0 {
		return nil, fmt.Errorf("training split is empty")
	}
	if val == nil || len(val.Samples) == 0 {
		return nil, fmt.Errorf("validation split is empty")
	}
	return &Runner{train: train, val: val, cfg: cfg}, nil
}

func (r *Runner) StepsPerEpoch() int {
	return r.train.NumBatches(r.cfg.BatchSize)
}

type sessionParts struct {
	model  *Classifier
	opt    *AdamW
	sched  *OneCycle
	scaler *LossScaler
}

func unpack(s engine.Session) (sessionParts, error) {
	var parts sessionParts
	var ok bool
	if parts.model, ok = s.Model.(*Classifier); !ok {
		return parts, fmt.Errorf("model is %T, want *nn.Classifier", s.Model)
	}
	if parts.opt, ok = s.Optimizer.(*AdamW); !ok {
		return parts, fmt.Errorf("optimizer is %T, want *nn.AdamW", s.Optimizer)
	}
	if parts.sched, ok = s.Scheduler.(*OneCycle); !ok {
		return parts, fmt.Errorf("scheduler is %T, want *nn.OneCycle", s.Scheduler)
	}
	if s.Scaler != nil {
		if parts.scaler, ok = s.Scaler.(*LossScaler); !ok {
			return parts, fmt.Errorf("scaler is %T, want *nn.LossScaler", s.Scaler)
		}
	}
	return parts, nil
}

// TrainEpoch runs one pass over the training split, stepping the optimizer
// and scheduler once per batch
func (r *Runner) TrainEpoch(ctx context.Context, s engine.Session) (engine.TrainResult, error) {
	parts, err := unpack(s)
	if err != nil {
		return engine.TrainResult{}, err
	}
	parts.model.SetMode(engine.ModeTrain)

	batches := r.train.Batches(s.Epoch, dataset.BatchOptions{
		BatchSize: r.cfg.BatchSize,
		Shuffle:   true,
		Seed:      r.cfg.Seed,
		HFlipProb: r.cfg.HFlipProb,
	})

	var lossSum float64
	var labels, preds []int
	for i, b := range batches {
		if err := ctx.Err(); err != nil {
			return engine.TrainResult{}, err
		}

		parts.model.ZeroGrad()
		scale := 1.0
		if parts.scaler != nil {
			scale = parts.scaler.Scale()
		}
		loss, bp := parts.model.forwardBackward(b.Inputs, b.Labels, r.cfg.LabelSmoothing, scale)

		if parts.scaler != nil {
			if parts.scaler.Update(parts.opt.Params()) {
				parts.opt.Step(1 / scale)
			}
		} else {
			if math.IsNaN(loss) || math.IsInf(loss, 0) {
				return engine.TrainResult{}, fmt.Errorf("non-finite training loss at batch %d", i)
			}
			parts.opt.Step(1)
		}
		parts.sched.Step()

		lossSum += loss * float64(len(b.Labels))
		labels = append(labels, b.Labels...)
		preds = append(preds, bp...)
	}

	return engine.TrainResult{
		Loss:     lossSum / float64(len(labels)),
		Accuracy: evalmetrics.Accuracy(labels, preds),
	}, nil
}

// EvalEpoch scores the model on the validation split in fixed order
func (r *Runner) EvalEpoch(ctx context.Context, m engine.Model) (engine.EvalResult, error) {
	model, ok := m.(*Classifier)
	if !ok {
		return engine.EvalResult{}, fmt.Errorf("model is %T, want *nn.Classifier", m)
	}
	model.SetMode(engine.ModeEval)
	defer model.SetMode(engine.ModeTrain)

	var lossSum float64
	labels := make([]int, 0, len(r.val.Samples))
	preds := make([]int, 0, len(r.val.Samples))
	for i, s := range r.val.Samples {
		if i%r.cfg.BatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return engine.EvalResult{}, err
			}
		}
		loss, pred := model.EvalLoss(s.Pixels, s.Label, r.cfg.LabelSmoothing)
		lossSum += loss
		labels = append(labels, s.Label)
		preds = append(preds, pred)
	}

	p, rec, f1 := evalmetrics.MacroPrecisionRecallF1(labels, preds)
	return engine.EvalResult{
		Loss:      lossSum / float64(len(labels)),
		Accuracy:  evalmetrics.Accuracy(labels, preds),
		Precision: p,
		Recall:    rec,
		F1:        f1,
	}, nil
}
