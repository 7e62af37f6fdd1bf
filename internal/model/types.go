package model

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	LayoutNHWC = "NHWC"
	LayoutNCHW = "NCHW"
)

type Metadata struct {
	InputShape  []int64  `json:"input_shape"`
	OutputShape []int64  `json:"output_shape"`
	Classes     []string `json:"classes"`
	Layout      string   `json:"layout,omitempty"`
}

// DefaultMetadata describes the bundled MNIST model: one 28x28 greyscale
// image in, ten digit scores out.
func DefaultMetadata() Metadata {
	classes := make([]string, 10)
	for i := range classes {
		classes[i] = strconv.Itoa(i)
	}
	return Metadata{
		InputShape:  []int64{1, 28, 28, 1},
		OutputShape: []int64{1, 10},
		Classes:     classes,
		Layout:      LayoutNHWC,
	}
}

func (m Metadata) Validate() error {
	if len(m.InputShape) != 4 {
		return fmt.Errorf("input shape %v: want 4 dimensions", m.InputShape)
	}
	for _, d := range m.InputShape {
		if d <= 0 {
			return fmt.Errorf("input shape %v: dimensions must be positive", m.InputShape)
		}
	}
	if m.InputShape[0] != 1 {
		return fmt.Errorf("input shape %v: batch size must be 1", m.InputShape)
	}

	switch m.Layout {
	case "", LayoutNHWC, LayoutNCHW:
	default:
		return fmt.Errorf("unknown layout %q", m.Layout)
	}
	if _, _, c := m.ImageSize(); c != 1 {
		return fmt.Errorf("input shape %v: want a single greyscale channel", m.InputShape)
	}

	if len(m.OutputShape) != 2 || m.OutputShape[0] != 1 {
		return fmt.Errorf("output shape %v: want [1, classes]", m.OutputShape)
	}
	if len(m.Classes) == 0 {
		return errors.New("no classes")
	}
	if int(m.OutputShape[1]) != len(m.Classes) {
		return fmt.Errorf("output shape %v does not match %d classes", m.OutputShape, len(m.Classes))
	}
	return nil
}

// ImageSize returns width, height and channels of the input tensor.
func (m Metadata) ImageSize() (width, height, channels int) {
	s := m.InputShape
	if m.Layout == LayoutNCHW {
		return int(s[3]), int(s[2]), int(s[1])
	}
	return int(s[2]), int(s[1]), int(s[3])
}

func (m Metadata) InputSize() int {
	n := 1
	for _, d := range m.InputShape {
		n *= int(d)
	}
	return n
}

// Prediction is the winning class of one classification.
type Prediction struct {
	Digit      int     `json:"digit"`
	Label      string  `json:"label"`
	Confidence float32 `json:"confidence"`
}

// Result holds the raw scores of one forward pass. Best is nil when no score
// is above zero.
type Result struct {
	Best   *Prediction
	Scores []float32
	Labels []string
}

type PredictionRequest struct {
	Image []float32 `json:"image"`
}

type PredictionResponse struct {
	Digit       *int               `json:"digit"`
	Class       string             `json:"class,omitempty"`
	Confidence  float32            `json:"confidence"`
	Confident   bool               `json:"confident"`
	Predictions map[string]float32 `json:"predictions"`
	Display     string             `json:"display"`
}

func (r *Result) Response() *PredictionResponse {
	resp := &PredictionResponse{
		Predictions: make(map[string]float32, len(r.Scores)),
		Display:     r.Display(),
	}
	for i, v := range r.Scores {
		if i < len(r.Labels) {
			resp.Predictions[r.Labels[i]] = v
		}
	}
	if r.Best != nil {
		digit := r.Best.Digit
		resp.Digit = &digit
		resp.Class = r.Best.Label
		resp.Confidence = r.Best.Confidence
		resp.Confident = true
	}
	return resp
}
