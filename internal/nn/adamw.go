package nn

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"
)

// AdamW implements Adam with decoupled weight decay over a fixed set of
// trainable parameters.
type AdamW struct {
	params []*Parameter
	lr     float64
	wd     float64
	beta1  float64
	beta2  float64
	eps    float64
	step   int
	m      [][]float64
	v      [][]float64
}

type adamWState struct {
	Step     int         `json:"step"`
	LR       float64     `json:"lr"`
	WD       float64     `json:"weight_decay"`
	Beta1    float64     `json:"beta1"`
	Beta2    float64     `json:"beta2"`
	Eps      float64     `json:"eps"`
	Params   []string    `json:"params"`
	ExpAvg   [][]float64 `json:"exp_avg"`
	ExpAvgSq [][]float64 `json:"exp_avg_sq"`
}

// NewAdamW creates an optimizer with the usual betas (0.9, 0.999)
func NewAdamW(params []*Parameter, lr, weightDecay float64) (*AdamW, error) {
	if len(params) == 0 {
		return nil, fmt.Errorf("optimizer needs at least one trainable parameter")
	}
	if lr <= 0 {
		return nil, fmt.Errorf("learning rate must be positive (got %g)", lr)
	}
	o := &AdamW{
		params: params,
		lr:     lr,
		wd:     weightDecay,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		m:      make([][]float64, len(params)),
		v:      make([][]float64, len(params)),
	}
	for i, p := range params {
		o.m[i] = make([]float64, p.Value.Len())
		o.v[i] = make([]float64, p.Value.Len())
	}
	return o, nil
}

func (o *AdamW) LR() float64          { return o.lr }
func (o *AdamW) SetLR(lr float64)     { o.lr = lr }
func (o *AdamW) Steps() int           { return o.step }
func (o *AdamW) Params() []*Parameter { return o.params }

// Step applies one update from the accumulated gradients, which are first
// divided by invScale (1 without loss scaling).
func (o *AdamW) Step(invScale float64) {
	o.step++
	bc1 := 1 - math.Pow(o.beta1, float64(o.step))
	bc2 := 1 - math.Pow(o.beta2, float64(o.step))

	for i, p := range o.params {
		m, v := o.m[i], o.v[i]
		for j := range p.Value.Data {
			g := p.Grad[j] * invScale
			p.Value.Data[j] -= o.lr * o.wd * p.Value.Data[j]
			m[j] = o.beta1*m[j] + (1-o.beta1)*g
			v[j] = o.beta2*v[j] + (1-o.beta2)*g*g
			mHat := m[j] / bc1
			vHat := v[j] / bc2
			p.Value.Data[j] -= o.lr * mHat / (math.Sqrt(vHat) + o.eps)
		}
	}
}

func (o *AdamW) paramNames() []string {
	names := make([]string, len(o.params))
	for i, p := range o.params {
		names[i] = p.name
	}
	return names
}

func (o *AdamW) StateDict() ([]byte, error) {
	st := adamWState{
		Step:     o.step,
		LR:       o.lr,
		WD:       o.wd,
		Beta1:    o.beta1,
		Beta2:    o.beta2,
		Eps:      o.eps,
		Params:   o.paramNames(),
		ExpAvg:   o.m,
		ExpAvgSq: o.v,
	}
	data, err := json.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("failed to encode optimizer state: %w", err)
	}
	return data, nil
}

// LoadStateDict restores moments. The saved parameter group must name the
// same parameters with the same sizes.
func (o *AdamW) LoadStateDict(state []byte) error {
	var st adamWState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("failed to decode optimizer state: %w", err)
	}
	if !slices.Equal(st.Params, o.paramNames()) {
		return fmt.Errorf("optimizer state covers parameters %v, optimizer has %v", st.Params, o.paramNames())
	}
	if len(st.ExpAvg) != len(o.params) || len(st.ExpAvgSq) != len(o.params) {
		return fmt.Errorf("optimizer state has %d moment buffers, want %d", len(st.ExpAvg), len(o.params))
	}
	for i, p := range o.params {
		if len(st.ExpAvg[i]) != p.Value.Len() || len(st.ExpAvgSq[i]) != p.Value.Len() {
			return fmt.Errorf("optimizer state for %q has wrong size", p.name)
		}
	}

	o.step = st.Step
	o.lr = st.LR
	o.wd = st.WD
	o.beta1, o.beta2, o.eps = st.Beta1, st.Beta2, st.Eps
	o.m = st.ExpAvg
	o.v = st.ExpAvgSq
	return nil
}
