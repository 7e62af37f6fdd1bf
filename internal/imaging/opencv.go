//go:build gocv
// +build gocv

package imaging

import (
	"errors"
	"image"

	"gocv.io/x/gocv"
)

// OpenCVScaler resamples with OpenCV area interpolation, which suits
// downscaling photographs of paper drawings.
type OpenCVScaler struct {
	Interpolation gocv.InterpolationFlags
}

func NewOpenCVScaler() *OpenCVScaler {
	return &OpenCVScaler{Interpolation: gocv.InterpolationArea}
}

func (s *OpenCVScaler) Scale(src image.Image, width, height int) (*image.NRGBA, error) {
	if err := checkBounds(src, width, height); err != nil {
		return nil, err
	}

	mat, err := gocv.ImageToMatRGB(src)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	if mat.Empty() {
		return nil, errors.New("empty mat")
	}

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(mat, &resized, image.Pt(width, height), 0, 0, s.Interpolation)

	img, err := resized.ToImage()
	if err != nil {
		return nil, err
	}
	return ToNRGBA(img), nil
}
