package imaging

import (
	"errors"
	"fmt"
	"image"
	stddraw "image/draw"
	"strings"

	"github.com/nfnt/resize"
	"golang.org/x/image/draw"
)

var ErrEmptyImage = errors.New("image has no pixels")

// Scaler resizes a raster to an exact width and height. Aspect ratio is not
// preserved.
type Scaler interface {
	Scale(src image.Image, width, height int) (*image.NRGBA, error)
}

// NearestScaler point-samples the source without interpolation.
type NearestScaler struct{}

func (NearestScaler) Scale(src image.Image, width, height int) (*image.NRGBA, error) {
	if err := checkBounds(src, width, height); err != nil {
		return nil, err
	}

	b := src.Bounds()
	if n, ok := src.(*image.NRGBA); ok && b.Dx() == width && b.Dy() == height {
		return cloneNRGBA(n), nil
	}

	dst := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.NearestNeighbor.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst, nil
}

// FilterScaler resamples through one of the nfnt/resize kernels.
type FilterScaler struct {
	Filter resize.InterpolationFunction
}

func (s FilterScaler) Scale(src image.Image, width, height int) (*image.NRGBA, error) {
	if err := checkBounds(src, width, height); err != nil {
		return nil, err
	}

	resized := resize.Resize(uint(width), uint(height), src, s.Filter)
	return ToNRGBA(resized), nil
}

var filters = map[string]resize.InterpolationFunction{
	"bilinear": resize.Bilinear,
	"bicubic":  resize.Bicubic,
	"mitchell": resize.MitchellNetravali,
	"lanczos2": resize.Lanczos2,
	"lanczos3": resize.Lanczos3,
}

// NewScaler returns the scaler registered under name. An empty name selects
// point sampling.
func NewScaler(name string) (Scaler, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "", "nearest":
		return NearestScaler{}, nil
	case "opencv":
		return NewOpenCVScaler(), nil
	}

	if f, ok := filters[name]; ok {
		return FilterScaler{Filter: f}, nil
	}
	return nil, fmt.Errorf("unknown resize filter %q", name)
}

// ToNRGBA returns img as *image.NRGBA anchored at the origin, copying when
// necessary.
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	if n, ok := img.(*image.NRGBA); ok && b.Min == (image.Point{}) {
		return n
	}
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(dst, dst.Bounds(), img, b.Min, stddraw.Src)
	return dst
}

func cloneNRGBA(src *image.NRGBA) *image.NRGBA {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		from := src.PixOffset(src.Rect.Min.X, src.Rect.Min.Y+y)
		copy(dst.Pix[y*dst.Stride:y*dst.Stride+4*w], src.Pix[from:from+4*w])
	}
	return dst
}

func checkBounds(src image.Image, width, height int) error {
	if src == nil || src.Bounds().Empty() {
		return ErrEmptyImage
	}
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid target size %dx%d", width, height)
	}
	return nil
}
