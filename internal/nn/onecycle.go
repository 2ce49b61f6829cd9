package nn

import (
	"encoding/json"
	"fmt"
	"math"
)

const (
	defaultDivFactor      = 25.0
	defaultFinalDivFactor = 1e4
)

// OneCycle is a one-cycle cosine-annealed learning-rate schedule. The rate
// warms from MaxLR/25 to MaxLR over the first PctStart of the budget, then
// anneals to the initial rate divided by 1e4.
type OneCycle struct {
	opt            *AdamW
	maxLR          float64
	totalSteps     int
	pctStart       float64
	divFactor      float64
	finalDivFactor float64
	step           int
}

type oneCycleState struct {
	Step           int     `json:"step"`
	MaxLR          float64 `json:"max_lr"`
	TotalSteps     int     `json:"total_steps"`
	PctStart       float64 `json:"pct_start"`
	DivFactor      float64 `json:"div_factor"`
	FinalDivFactor float64 `json:"final_div_factor"`
}

// NewOneCycle attaches a schedule to opt and sets its initial rate
func NewOneCycle(opt *AdamW, maxLR float64, totalSteps int, pctStart float64) (*OneCycle, error) {
	if totalSteps < 1 {
		return nil, fmt.Errorf("schedule total steps must be at least 1 (got %d)", totalSteps)
	}
	if pctStart <= 0 || pctStart >= 1 {
		return nil, fmt.Errorf("schedule pct_start must be in (0, 1) (got %g)", pctStart)
	}
	s := &OneCycle{
		opt:            opt,
		maxLR:          maxLR,
		totalSteps:     totalSteps,
		pctStart:       pctStart,
		divFactor:      defaultDivFactor,
		finalDivFactor: defaultFinalDivFactor,
	}
	opt.SetLR(s.rateAt(0))
	return s, nil
}

func (s *OneCycle) initialLR() float64 { return s.maxLR / s.divFactor }
func (s *OneCycle) minLR() float64     { return s.initialLR() / s.finalDivFactor }

func cosAnneal(start, end, pct float64) float64 {
	return end + (start-end)/2*(math.Cos(math.Pi*pct)+1)
}

// rateAt computes the rate after step updates. Steps past the budget hold
// the final rate.
func (s *OneCycle) rateAt(step int) float64 {
	warmEnd := s.pctStart*float64(s.totalSteps) - 1
	end := float64(s.totalSteps - 1)
	x := math.Min(float64(step), end)

	if x <= warmEnd {
		if warmEnd <= 0 {
			return s.maxLR
		}
		return cosAnneal(s.initialLR(), s.maxLR, x/warmEnd)
	}
	span := end - warmEnd
	if span <= 0 {
		return s.minLR()
	}
	return cosAnneal(s.maxLR, s.minLR(), (x-warmEnd)/span)
}

// Step advances the schedule by one optimizer step
func (s *OneCycle) Step() {
	s.step++
	s.opt.SetLR(s.rateAt(s.step))
}

func (s *OneCycle) LR() float64     { return s.opt.LR() }
func (s *OneCycle) Steps() int      { return s.step }
func (s *OneCycle) TotalSteps() int { return s.totalSteps }

func (s *OneCycle) StateDict() ([]byte, error) {
	data, err := json.Marshal(oneCycleState{
		Step:           s.step,
		MaxLR:          s.maxLR,
		TotalSteps:     s.totalSteps,
		PctStart:       s.pctStart,
		DivFactor:      s.divFactor,
		FinalDivFactor: s.finalDivFactor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode scheduler state: %w", err)
	}
	return data, nil
}

func (s *OneCycle) LoadStateDict(state []byte) error {
	var st oneCycleState
	if err := json.Unmarshal(state, &st); err != nil {
		return fmt.Errorf("failed to decode scheduler state: %w", err)
	}
	if st.TotalSteps < 1 || st.DivFactor <= 0 || st.FinalDivFactor <= 0 {
		return fmt.Errorf("scheduler state is invalid (total_steps=%d)", st.TotalSteps)
	}
	s.step = st.Step
	s.maxLR = st.MaxLR
	s.totalSteps = st.TotalSteps
	s.pctStart = st.PctStart
	s.divFactor = st.DivFactor
	s.finalDivFactor = st.FinalDivFactor
	s.opt.SetLR(s.rateAt(s.step))
	return nil
}
