//go:build !gocv
// +build !gocv

package imaging

import (
	"errors"
	"image"
)

// OpenCVScaler is a placeholder when the binary is built without OpenCV.
type OpenCVScaler struct{}

func NewOpenCVScaler() *OpenCVScaler {
	return &OpenCVScaler{}
}

// Scale always fails without the gocv build tag.
func (s *OpenCVScaler) Scale(image.Image, int, int) (*image.NRGBA, error) {
	return nil, errors.New("gocv build tag is not enabled")
}
