package services

import (
	"errors"
	"fmt"
	"math"
)

// StandardScaler standardizes features to zero mean and unit variance.
// It is fit once on the training population and never refit at inference.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

// FitStandardScaler computes per-feature mean and population standard deviation.
// Constant features get a scale of 1 so they transform to 0.
func FitStandardScaler(data [][]float64) (*StandardScaler, error) {
	if len(data) == 0 {
		return nil, errors.New("cannot fit scaler on empty data")
	}
	dims := len(data[0])
	mean := make([]float64, dims)
	scale := make([]float64, dims)

	for i, row := range data {
		if len(row) != dims {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), dims)
		}
		for d, v := range row {
			mean[d] += v
		}
	}
	n := float64(len(data))
	for d := range mean {
		mean[d] /= n
	}

	for _, row := range data {
		for d, v := range row {
			diff := v - mean[d]
			scale[d] += diff * diff
		}
	}
	for d := range scale {
		std := math.Sqrt(scale[d] / n)
		if std <= 1e-12*math.Max(1, math.Abs(mean[d])) {
			std = 1
		}
		scale[d] = std
	}

	return &StandardScaler{Mean: mean, Scale: scale}, nil
}

// Transform standardizes a single vector
func (s *StandardScaler) Transform(x []float64) []float64 {
	out := make([]float64, len(x))
	for d, v := range x {
		out[d] = (v - s.Mean[d]) / s.Scale[d]
	}
	return out
}

// TransformAll standardizes every row
func (s *StandardScaler) TransformAll(data [][]float64) [][]float64 {
	out := make([][]float64, len(data))
	for i, row := range data {
		out[i] = s.Transform(row)
	}
	return out
}
