// Package nn is a small CPU implementation of the engine collaborators: a
// backbone+head classifier, AdamW, a one-cycle learning-rate schedule, a
// dynamic loss scaler and an epoch runner.
package nn

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/lamim/dermaforge/internal/engine"
)

// Tensor is a dense row-major float64 array
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NewTensor allocates a zero tensor of the given shape
func NewTensor(shape ...int) *Tensor {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Tensor{Shape: append([]int(nil), shape...), Data: make([]float64, n)}
}

// Len returns the number of elements
func (t *Tensor) Len() int {
	return len(t.Data)
}

// stateDict is the serialized form of a set of named tensors
type stateDict struct {
	Tensors map[string]*Tensor `json:"tensors"`
}

func encodeTensors(params []*Parameter) ([]byte, error) {
	sd := stateDict{Tensors: make(map[string]*Tensor, len(params))}
	for _, p := range params {
		sd.Tensors[p.name] = &Tensor{
			Shape: append([]int(nil), p.Value.Shape...),
			Data:  append([]float64(nil), p.Value.Data...),
		}
	}
	data, err := json.Marshal(sd)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tensors: %w", err)
	}
	return data, nil
}

// decodeTensors checks every shape before copying so a failed load leaves
// params untouched.
func decodeTensors(data []byte, params []*Parameter) error {
	var sd stateDict
	if err := json.Unmarshal(data, &sd); err != nil {
		return fmt.Errorf("failed to decode tensors: %w", err)
	}

	known := make(map[string]bool, len(params))
	for _, p := range params {
		known[p.name] = true
		src, ok := sd.Tensors[p.name]
		if !ok {
			return &engine.StateShapeMismatchError{Tensor: p.name, Expected: p.Value.Shape}
		}
		if !slices.Equal(src.Shape, p.Value.Shape) || len(src.Data) != p.Value.Len() {
			return &engine.StateShapeMismatchError{Tensor: p.name, Expected: p.Value.Shape, Actual: src.Shape}
		}
	}
	for name, src := range sd.Tensors {
		if !known[name] {
			return &engine.StateShapeMismatchError{Tensor: name, Actual: src.Shape}
		}
	}

	for _, p := range params {
		copy(p.Value.Data, sd.Tensors[p.name].Data)
	}
	return nil
}
