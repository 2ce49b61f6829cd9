package nn

import (
	"fmt"
	"math"
	"math/rand"
	"strings"

	"github.com/lamim/dermaforge/internal/engine"
)

// Arch is the architecture name recorded in checkpoint hyperparameters
const Arch = "mlp_b1"

// Parameter names; names containing "backbone" are frozen in the head phase.
const (
	ParamBackboneWeight   = "backbone.fc.weight"
	ParamBackboneBias     = "backbone.fc.bias"
	ParamEmbeddingWeight  = "head.embedding.weight"
	ParamEmbeddingBias    = "head.embedding.bias"
	ParamClassifierWeight = "head.classifier.weight"
	ParamClassifierBias   = "head.classifier.bias"
)

// IsBackbone reports whether a parameter belongs to the feature extractor
func IsBackbone(name string) bool {
	return strings.Contains(name, "backbone")
}

// Parameter is a named tensor with its gradient buffer
type Parameter struct {
	name      string
	Value     *Tensor
	Grad      []float64
	trainable bool
}

func newParameter(name string, shape ...int) *Parameter {
	t := NewTensor(shape...)
	return &Parameter{name: name, Value: t, Grad: make([]float64, t.Len()), trainable: true}
}

func (p *Parameter) Name() string                { return p.name }
func (p *Parameter) Trainable() bool             { return p.trainable }
func (p *Parameter) SetTrainable(trainable bool) { p.trainable = trainable }

// ClassifierConfig sizes the network. NumClasses is fixed at construction
// from the class index map.
type ClassifierConfig struct {
	InFeatures   int
	HiddenDim    int
	EmbeddingDim int
	NumClasses   int
	Seed         int64
}

// Classifier is a three-layer perceptron: backbone dense layer, embedding
// head and linear classifier, each dense layer followed by ReLU.
type Classifier struct {
	cfg  ClassifierConfig
	mode engine.Mode

	fcW, fcB   *Parameter
	embW, embB *Parameter
	clsW, clsB *Parameter
}

// NewClassifier creates a classifier with He-initialized weights
func NewClassifier(cfg ClassifierConfig) (*Classifier, error) {
	if cfg.InFeatures < 1 || cfg.HiddenDim < 1 || cfg.EmbeddingDim < 1 {
		return nil, fmt.Errorf("classifier dimensions must be positive (in=%d hidden=%d embedding=%d)",
			cfg.InFeatures, cfg.HiddenDim, cfg.EmbeddingDim)
	}
	if cfg.NumClasses < 2 {
		return nil, fmt.Errorf("classifier needs at least 2 classes (got %d)", cfg.NumClasses)
	}

	c := &Classifier{
		cfg:  cfg,
		fcW:  newParameter(ParamBackboneWeight, cfg.HiddenDim, cfg.InFeatures),
		fcB:  newParameter(ParamBackboneBias, cfg.HiddenDim),
		embW: newParameter(ParamEmbeddingWeight, cfg.EmbeddingDim, cfg.HiddenDim),
		embB: newParameter(ParamEmbeddingBias, cfg.EmbeddingDim),
		clsW: newParameter(ParamClassifierWeight, cfg.NumClasses, cfg.EmbeddingDim),
		clsB: newParameter(ParamClassifierBias, cfg.NumClasses),
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	heInit(rng, c.fcW.Value, cfg.InFeatures)
	heInit(rng, c.embW.Value, cfg.HiddenDim)
	heInit(rng, c.clsW.Value, cfg.EmbeddingDim)
	return c, nil
}

func heInit(rng *rand.Rand, t *Tensor, fanIn int) {
	std := math.Sqrt(2 / float64(fanIn))
	for i := range t.Data {
		t.Data[i] = rng.NormFloat64() * std
	}
}

// Config returns the construction parameters
func (c *Classifier) Config() ClassifierConfig {
	return c.cfg
}

// Parameters returns the concrete parameters in a fixed order
func (c *Classifier) Parameters() []*Parameter {
	return []*Parameter{c.fcW, c.fcB, c.embW, c.embB, c.clsW, c.clsB}
}

// Params implements engine.Model
func (c *Classifier) Params() []engine.Param {
	ps := c.Parameters()
	out := make([]engine.Param, len(ps))
	for i, p := range ps {
		out[i] = p
	}
	return out
}

func (c *Classifier) SetMode(mode engine.Mode) { c.mode = mode }
func (c *Classifier) Mode() engine.Mode        { return c.mode }
func (c *Classifier) NumClasses() int          { return c.cfg.NumClasses }

// StateDict serializes the weights as a tensor dictionary
func (c *Classifier) StateDict() ([]byte, error) {
	return encodeTensors(c.Parameters())
}

// LoadStateDict restores weights; shapes must match exactly
func (c *Classifier) LoadStateDict(state []byte) error {
	return decodeTensors(state, c.Parameters())
}

// ZeroGrad clears every gradient buffer
func (c *Classifier) ZeroGrad() {
	for _, p := range c.Parameters() {
		clear(p.Grad)
	}
}

type activations struct {
	z1, a1 []float64
	z2, a2 []float64
	logits []float64
}

func dense(w, b *Parameter, x []float64, out []float64) {
	cols := len(x)
	for r := range out {
		row := w.Value.Data[r*cols : (r+1)*cols]
		s := b.Value.Data[r]
		for j, v := range x {
			s += row[j] * v
		}
		out[r] = s
	}
}

func relu(z []float64) []float64 {
	a := make([]float64, len(z))
	for i, v := range z {
		if v > 0 {
			a[i] = v
		}
	}
	return a
}

func (c *Classifier) forward(x []float64) activations {
	var act activations
	act.z1 = make([]float64, c.cfg.HiddenDim)
	dense(c.fcW, c.fcB, x, act.z1)
	act.a1 = relu(act.z1)

	act.z2 = make([]float64, c.cfg.EmbeddingDim)
	dense(c.embW, c.embB, act.a1, act.z2)
	act.a2 = relu(act.z2)

	act.logits = make([]float64, c.cfg.NumClasses)
	dense(c.clsW, c.clsB, act.a2, act.logits)
	return act
}

// Logits runs inference on one feature vector
func (c *Classifier) Logits(x []float64) ([]float64, error) {
	if len(x) != c.cfg.InFeatures {
		return nil, fmt.Errorf("input has %d features, model expects %d", len(x), c.cfg.InFeatures)
	}
	return c.forward(x).logits, nil
}

// Softmax converts logits to probabilities
func Softmax(logits []float64) []float64 {
	maxV := math.Inf(-1)
	for _, v := range logits {
		maxV = math.Max(maxV, v)
	}
	out := make([]float64, len(logits))
	sum := 0.0
	for i, v := range logits {
		out[i] = math.Exp(v - maxV)
		sum += out[i]
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value
func Argmax(v []float64) int {
	best := 0
	for i := range v {
		if v[i] > v[best] {
			best = i
		}
	}
	return best
}

// smoothedCrossEntropy returns the loss and dLoss/dlogits for one sample
func smoothedCrossEntropy(logits []float64, label int, smoothing float64) (float64, []float64) {
	k := float64(len(logits))
	probs := Softmax(logits)
	grad := make([]float64, len(logits))
	loss := 0.0
	for i, p := range probs {
		q := smoothing / k
		if i == label {
			q += 1 - smoothing
		}
		loss -= q * math.Log(math.Max(p, 1e-300))
		grad[i] = p - q
	}
	return loss, grad
}

// EvalLoss returns the smoothed cross-entropy loss and prediction for one sample
func (c *Classifier) EvalLoss(x []float64, label int, smoothing float64) (float64, int) {
	logits := c.forward(x).logits
	loss, _ := smoothedCrossEntropy(logits, label, smoothing)
	return loss, Argmax(logits)
}

// forwardBackward accumulates gradients of the mean batch loss multiplied by
// gradScale. Frozen parameters receive no gradient.
func (c *Classifier) forwardBackward(inputs [][]float64, labels []int, smoothing, gradScale float64) (float64, []int) {
	n := len(inputs)
	preds := make([]int, n)
	total := 0.0
	g := gradScale / float64(n)

	for s, x := range inputs {
		act := c.forward(x)
		loss, d3 := smoothedCrossEntropy(act.logits, labels[s], smoothing)
		total += loss
		preds[s] = Argmax(act.logits)

		for k := range d3 {
			d3[k] *= g
		}
		d2 := c.backDense(c.clsW, c.clsB, act.a2, d3, act.z2)
		if !c.embW.trainable && !c.fcW.trainable {
			continue
		}
		d1 := c.backDense(c.embW, c.embB, act.a1, d2, act.z1)
		if c.fcW.trainable || c.fcB.trainable {
			c.backDense(c.fcW, c.fcB, x, d1, nil)
		}
	}
	return total / float64(n), preds
}

// backDense accumulates weight/bias gradients for out = W·in + b and returns
// the gradient w.r.t. the pre-activation of the previous layer (masked by
// ReLU on prevZ). It returns nil when prevZ is nil.
func (c *Classifier) backDense(w, b *Parameter, in, dOut, prevZ []float64) []float64 {
	cols := len(in)
	if w.trainable || b.trainable {
		for r, d := range dOut {
			if d == 0 {
				continue
			}
			if b.trainable {
				b.Grad[r] += d
			}
			if w.trainable {
				row := w.Grad[r*cols : (r+1)*cols]
				for j, v := range in {
					row[j] += d * v
				}
			}
		}
	}
	if prevZ == nil {
		return nil
	}

	dIn := make([]float64, cols)
	for r, d := range dOut {
		if d == 0 {
			continue
		}
		row := w.Value.Data[r*cols : (r+1)*cols]
		for j := range dIn {
			dIn[j] += row[j] * d
		}
	}
	for j := range dIn {
		if prevZ[j] <= 0 {
			dIn[j] = 0
		}
	}
	return dIn
}
