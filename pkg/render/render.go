// Package render draws the inner-ear scene with a small software rasterizer:
// flat shaded surfaces, textured slice planes and the volume outline.
package render

import (
	"cmp"
	"image"
	"image/color"
	"slices"

	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/spatial/r3"

	"innerear/pkg/config"
	"innerear/pkg/planes"
	"innerear/pkg/scene"
)

// Options controls one rendered frame.
type Options struct {
	Width       int
	Height      int
	Supersample int
	Background  color.RGBA
	Window      float64
	Level       float64
	Light       LightConfig
}

// OptionsFromConfig builds frame options from the display configuration.
func OptionsFromConfig(d config.Display) Options {
	bg := color.RGBA{A: 255}
	if len(d.Background) == 3 {
		bg.R = clamp255(d.Background[0] * 255)
		bg.G = clamp255(d.Background[1] * 255)
		bg.B = clamp255(d.Background[2] * 255)
	}
	return Options{
		Width:       d.Width,
		Height:      d.Height,
		Supersample: d.Supersample,
		Background:  bg,
		Window:      d.ColorWindow,
		Level:       d.ColorLevel,
		Light:       DefaultLightConfig(),
	}
}

var outlineColor = [3]uint8{255, 255, 255}

type translucentTri struct {
	p     [3]r3.Vec
	depth float64
	rgb   [3]float64
	alpha float64
}

// Render draws the scene as seen by cam. planeSet may be nil.
func Render(s *scene.Scene, planeSet *planes.Set, cam *Camera, opt Options) *image.RGBA {
	ss := opt.Supersample
	if ss < 1 {
		ss = 1
	}
	w, h := opt.Width*ss, opt.Height*ss
	fb := NewFrameBuffer(w, h, opt.Background)
	view := cam.View(w, h)

	// Opaque pass
	var translucent []translucentTri
	for _, surf := range s.Surfaces {
		pts := make([]r3.Vec, len(surf.Vertices))
		for i, v := range surf.Vertices {
			pts[i] = view.Project(v)
		}
		for _, t := range surf.Triangles {
			a, b, c := pts[t[0]], pts[t[1]], pts[t[2]]
			shade := opt.Light.Shade(a, b, c)
			rgb := [3]float64{surf.Color[0] * shade, surf.Color[1] * shade, surf.Color[2] * shade}
			if !surf.Translucent() {
				fb.FillTriangle(a, b, c, rgb, 1)
				continue
			}
			translucent = append(translucent, translucentTri{
				p:     [3]r3.Vec{a, b, c},
				depth: (a.Z + b.Z + c.Z) / 3,
				rgb:   rgb,
				alpha: surf.Opacity,
			})
		}
	}

	if planeSet != nil {
		for _, wd := range planeSet.All() {
			drawSlice(fb, view, wd, opt.Window, opt.Level)
		}
	}

	bias := 0.5 * float64(ss)
	for _, e := range s.Outline {
		fb.DrawLine(view.Project(e[0]), view.Project(e[1]), outlineColor, bias)
	}

	// Translucent pass, back to front
	slices.SortFunc(translucent, func(a, b translucentTri) int {
		return cmp.Compare(a.depth, b.depth)
	})
	for _, t := range translucent {
		fb.FillTriangle(t.p[0], t.p[1], t.p[2], t.rgb, t.alpha)
	}

	img := fb.Image()
	if ss == 1 {
		return img
	}
	return Downsample(img, opt.Width, opt.Height)
}

func drawSlice(fb *FrameBuffer, view View, wd *planes.Widget, window, level float64) {
	tex := wd.Slice(window, level)
	c := wd.Corners()
	var p [4]r3.Vec
	for i := range c {
		p[i] = view.Project(c[i])
	}
	fb.TextureTriangle(p[0], p[1], p[2], [3][2]float64{{0, 0}, {1, 0}, {1, 1}}, tex)
	fb.TextureTriangle(p[0], p[2], p[3], [3][2]float64{{0, 0}, {1, 1}, {0, 1}}, tex)
}

// Downsample scales img to w x h with CatmullRom filtering.
func Downsample(img *image.RGBA, w, h int) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, img.Bounds(), draw.Src, nil)
	return dst
}

// Frame frames the whole scene with a fresh camera.
func Frame(s *scene.Scene) *Camera {
	lo, hi := s.Bounds()
	return NewCamera(lo, hi)
}
