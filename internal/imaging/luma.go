package imaging

import "image"

const (
	weightR float32 = 0.299
	weightG float32 = 0.587
	weightB float32 = 0.114
)

// Luma returns the truncated perceptual brightness of an RGB triple.
//
// Every product and partial sum is rounded to float32 explicitly so no
// multiply-add gets fused. Some grey levels truncate one below their input
// (37 → 36).
func Luma(r, g, b uint8) int {
	lr := float32(weightR * float32(r))
	lg := float32(weightG * float32(g))
	lb := float32(weightB * float32(b))
	sum := float32(lr + lg)
	sum = float32(sum + lb)
	return int(sum)
}

// Intensity normalises a truncated luma value into [0, 1].
func Intensity(luma int) float32 {
	return float32(luma) / 255.0
}

// Greyscale flattens img into row-major normalised intensities. Alpha is
// ignored.
func Greyscale(img *image.NRGBA) []float32 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float32, 0, w*h)

	for y := 0; y < h; y++ {
		row := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		for x := 0; x < w; x++ {
			p := img.Pix[row+4*x : row+4*x+3]
			out = append(out, Intensity(Luma(p[0], p[1], p[2])))
		}
	}
	return out
}
