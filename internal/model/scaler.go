package model

import (
	"fmt"
	"math"
)

// Scaler standardizes raw features to the distribution the classifiers
// were trained on: (x - mean) / scale per column.
type Scaler struct {
	mean  []float64
	scale []float64
}

// NewScaler builds a scaler from fitted per-column parameters.
func NewScaler(mean, scale []float64) (*Scaler, error) {
	if len(mean) == 0 || len(mean) != len(scale) {
		return nil, fmt.Errorf("scaler parameter lengths differ: mean=%d scale=%d", len(mean), len(scale))
	}
	for i, s := range scale {
		if s == 0 || math.IsNaN(s) {
			return nil, fmt.Errorf("scaler column %d has degenerate scale %f", i, s)
		}
	}
	return &Scaler{mean: mean, scale: scale}, nil
}

// Dim returns the number of columns the scaler was fitted on.
func (s *Scaler) Dim() int { return len(s.mean) }

// Transform standardizes one raw feature vector. NaN inputs (the null
// marker) are imputed to the column mean, which standardizes to zero.
func (s *Scaler) Transform(raw []float64) ([]float64, error) {
	if len(raw) != len(s.mean) {
		return nil, fmt.Errorf("%w: got %d columns, scaler fitted on %d", ErrDimensionMismatch, len(raw), len(s.mean))
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		if math.IsNaN(v) {
			out[i] = 0
			continue
		}
		out[i] = (v - s.mean[i]) / s.scale[i]
	}
	return out, nil
}
