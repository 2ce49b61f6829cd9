package nn

import (
	"encoding/json"
	"fmt"
	"math"
)

// LossScaler implements dynamic loss scaling. Gradients are computed on the
// scaled loss; a step with non-finite gradients is skipped and the scale
// backs off, while a run of clean steps grows it.
type LossScaler struct {
	scale          float64
	growthFactor   float64
	backoffFactor  float64
	growthInterval int
	growthTracker  int
}

type lossScalerState struct {
	Scale          float64 `json:"scale"`
	GrowthFactor   float64 `json:"growth_factor"`
	BackoffFactor  float64 `json:"backoff_factor"`
	GrowthInterval int     `json:"growth_interval"`
	GrowthTracker  int     `json:"growth_tracker"`
}

// NewLossScaler returns a scaler with initial scale 2^16
func NewLossScaler() *LossScaler {
	return &LossScaler{
		scale:          65536,
		growthFactor:   2,
		backoffFactor:  0.5,
		growthInterval: 2000,
	}
}

func (s *LossScaler) Scale() float64 { return s.scale }

// Update adjusts the scale after a step and reports whether the step's
// gradients were finite and should be applied.
func (s *LossScaler) Update(params []*Parameter) bool {
	for _, p := range params {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				s.scale *= s.backoffFactor
				s.growthTracker = 0
				return false
			}
		}
	}
	s.growthTracker++
	if s.growthTracker >= s.growthInterval {
		s.scale *= s.growthFactor
		s.growthTracker = 0
	}
	return true
}

func (s *LossScaler) StateDict() ([]byte, error) {
	data, err := json.Marshal(lossScalerState{
		Scale:          s.scale,
		GrowthFactor:   s.growthFactor,
		BackoffFactor:  s.backoffFactor,
		GrowthInterval: s.growthInterval,
		GrowthTracker:  s.growthTracker,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scaler state: %w", err)
	}
	return data, nil
}

func (s *LossScaler) LoadStateDict(state []byte) error {
	var st lossScalerState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("failed to decode scaler state: %w", err)
	}
	if st.Scale <= 0 || st.GrowthInterval < 1 {
		return fmt.Errorf("scaler state is invalid (scale=%g)", st.Scale)
	}
	s.scale = st.Scale
	s.growthFactor = st.GrowthFactor
	s.backoffFactor = st.BackoffFactor
	s.growthInterval = st.GrowthInterval
	s.growthTracker = st.GrowthTracker
	return nil
}
