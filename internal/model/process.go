package model

import (
	"fmt"
	"image"

	"github.com/Brownie44l1/digit-api/internal/imaging"
)

// Preprocess scales img to the model input size and converts it to
// normalised greyscale intensities in row-major order.
func (c *Classifier) Preprocess(img image.Image) ([]float32, error) {
	width, height, _ := c.Metadata.ImageSize()

	scaled, err := c.scaler.Scale(img, width, height)
	if err != nil {
		return nil, err
	}
	return imaging.Greyscale(scaled), nil
}

// Postprocess picks the first highest score that is strictly above zero.
// It reports false when every score is zero or negative.
func Postprocess(scores []float32) (Prediction, bool) {
	best := -1
	var top float32
	for i, v := range scores {
		if v > top {
			top = v
			best = i
		}
	}
	if best < 0 {
		return Prediction{}, false
	}
	return Prediction{Digit: best, Confidence: top}, true
}

// Display renders the result the way the drawing app shows it.
func (r *Result) Display() string {
	if r == nil || r.Best == nil {
		return "Prediction Number : none\nConfidence: 0.000000"
	}
	return fmt.Sprintf("Prediction Number : %d\nConfidence: %.6f", r.Best.Digit, r.Best.Confidence)
}
