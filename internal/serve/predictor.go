package serve

import (
	"errors"
	"fmt"
	"image"
	"slices"
	"time"

	"github.com/lamim/dermaforge/internal/config"
	"github.com/lamim/dermaforge/internal/dataset"
	"github.com/lamim/dermaforge/internal/engine"
	"github.com/lamim/dermaforge/internal/nn"
	"github.com/lamim/dermaforge/pkg/models"
)

// ErrInvalidModel is returned when a BEST checkpoint cannot be served
var ErrInvalidModel = errors.New("checkpoint cannot be served")

// PredictorDefaults fills hyperparameters older checkpoints did not record
type PredictorDefaults struct {
	ImageSize int
	HiddenDim int
	Norm      dataset.Normalization
}

// Predictor is an immutable classifier rebuilt from a BEST checkpoint.
// It is safe for concurrent use.
type Predictor struct {
	model     *nn.Classifier
	classes   []string
	imageSize int
	norm      dataset.Normalization
	epoch     int
	runID     string
	loadedAt  time.Time
}

// NewPredictor rebuilds the classifier described by cp's hparams and loads
// its weights. Only model_state, idx_to_class and hparams are read.
func NewPredictor(cp *models.Checkpoint, defaults PredictorDefaults) (*Predictor, error) {
	hp := cp.Hyperparameters
	if hp == nil {
		return nil, fmt.Errorf("%w: hparams missing", ErrInvalidModel)
	}
	if !slices.Contains(config.SupportedArchs, hp.Arch) {
		return nil, fmt.Errorf("%w: unsupported arch %q", ErrInvalidModel, hp.Arch)
	}

	classes, err := orderedClasses(cp.ClassIndexMap)
	if err != nil {
		return nil, err
	}
	if hp.NumClasses != 0 && hp.NumClasses != len(classes) {
		return nil, fmt.Errorf("%w: hparams record %d classes, idx_to_class has %d", ErrInvalidModel, hp.NumClasses, len(classes))
	}

	size := hp.ImageSize
	if size == 0 {
		size = defaults.ImageSize
	}
	hidden := hp.HiddenDim
	if hidden == 0 {
		hidden = defaults.HiddenDim
	}

	model, err := nn.NewClassifier(nn.ClassifierConfig{
		InFeatures:   3 * size * size,
		HiddenDim:    hidden,
		EmbeddingDim: hp.EmbeddingDim,
		NumClasses:   len(classes),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	if err := model.LoadStateDict(cp.ModelState); err != nil {
		return nil, fmt.Errorf("failed to load model weights: %w", err)
	}
	model.SetMode(engine.ModeEval)

	return &Predictor{
		model:     model,
		classes:   classes,
		imageSize: size,
		norm:      defaults.Norm,
		epoch:     cp.Epoch,
		runID:     cp.RunID,
		loadedAt:  time.Now().UTC(),
	}, nil
}

// orderedClasses requires the indices to be exactly 0..n-1
func orderedClasses(m map[int]string) ([]string, error) {
	if len(m) < 2 {
		return nil, fmt.Errorf("%w: need at least 2 classes, got %d", ErrInvalidModel, len(m))
	}
	out := make([]string, len(m))
	for idx, name := range m {
		if idx < 0 || idx >= len(m) {
			return nil, fmt.Errorf("%w: class index %d out of range", ErrInvalidModel, idx)
		}
		out[idx] = name
	}
	return out, nil
}

func (p *Predictor) Epoch() int          { return p.epoch }
func (p *Predictor) RunID() string       { return p.runID }
func (p *Predictor) Classes() []string   { return slices.Clone(p.classes) }
func (p *Predictor) LoadedAt() time.Time { return p.loadedAt }
func (p *Predictor) ImageSize() int      { return p.imageSize }

// Predict classifies one decoded image
func (p *Predictor) Predict(img image.Image) (models.Prediction, error) {
	x := dataset.Preprocess(img, p.imageSize, p.norm)
	logits, err := p.model.Logits(x)
	if err != nil {
		return models.Prediction{}, err
	}
	probs := nn.Softmax(logits)
	best := nn.Argmax(probs)

	byLabel := make(map[string]float64, len(probs))
	for i, prob := range probs {
		byLabel[p.classes[i]] = prob
	}
	return models.Prediction{
		Label:         p.classes[best],
		ClassIndex:    best,
		Confidence:    probs[best],
		Probabilities: byLabel,
	}, nil
}
