package render

import (
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// FrameBuffer holds the rendering target as flat slices for cache locality.
type FrameBuffer struct {
	Width  int
	Height int
	Color  []uint8   // RGBA interleaved, len = W*H*4
	ZBuf   []float64 // depth per pixel, greater is closer, initialized to -inf
}

// NewFrameBuffer allocates a buffer cleared to bg with an empty z-buffer.
func NewFrameBuffer(w, h int, bg color.RGBA) *FrameBuffer {
	n := w * h
	zbuf := make([]float64, n)
	for i := range zbuf {
		zbuf[i] = math.Inf(-1)
	}
	pix := make([]uint8, n*4)
	for i := 0; i < n; i++ {
		pix[i*4] = bg.R
		pix[i*4+1] = bg.G
		pix[i*4+2] = bg.B
		pix[i*4+3] = 255
	}
	return &FrameBuffer{Width: w, Height: h, Color: pix, ZBuf: zbuf}
}

// Image wraps the color buffer without copying.
func (fb *FrameBuffer) Image() *image.RGBA {
	return &image.RGBA{
		Pix:    fb.Color,
		Stride: fb.Width * 4,
		Rect:   image.Rect(0, 0, fb.Width, fb.Height),
	}
}

// LightConfig is a headlight: diffuse light arriving along the view direction
// plus a constant ambient term.
type LightConfig struct {
	Ambient float64
	Diffuse float64
}

// DefaultLightConfig returns the standard viewer lighting.
func DefaultLightConfig() LightConfig {
	return LightConfig{Ambient: 0.25, Diffuse: 0.75}
}

// Shade returns the lighting scalar for a screen space triangle. Both faces
// are lit.
func (lc LightConfig) Shade(a, b, c r3.Vec) float64 {
	n := r3.Cross(r3.Sub(b, a), r3.Sub(c, a))
	nl := r3.Norm(n)
	if nl < 1e-12 {
		return lc.Ambient
	}
	return lc.Ambient + lc.Diffuse*math.Abs(n.Z/nl)
}

func clamp255(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}
