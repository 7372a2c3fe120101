package render

import (
	"image"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// scan calls fn for every pixel whose center lies inside the screen space
// triangle a, b, c and passes the depth test. fn receives the pixel offset,
// the barycentric weights and the interpolated depth.
func (fb *FrameBuffer) scan(a, b, c r3.Vec, fn func(i int, w0, w1, w2, z float64)) {
	minX := int(math.Floor(math.Min(math.Min(a.X, b.X), c.X)))
	maxX := int(math.Ceil(math.Max(math.Max(a.X, b.X), c.X)))
	minY := int(math.Floor(math.Min(math.Min(a.Y, b.Y), c.Y)))
	maxY := int(math.Ceil(math.Max(math.Max(a.Y, b.Y), c.Y)))

	if minX < 0 {
		minX = 0
	}
	if maxX >= fb.Width {
		maxX = fb.Width - 1
	}
	if minY < 0 {
		minY = 0
	}
	if maxY >= fb.Height {
		maxY = fb.Height - 1
	}
	if minX > maxX || minY > maxY {
		return
	}

	// Barycentric setup
	det := (b.Y-c.Y)*(a.X-c.X) + (c.X-b.X)*(a.Y-c.Y)
	if det > -1e-8 && det < 1e-8 {
		return
	}
	invDet := 1.0 / det

	dy12 := b.Y - c.Y
	dx21 := c.X - b.X
	dy20 := c.Y - a.Y
	dx02 := a.X - c.X

	for sy := minY; sy <= maxY; sy++ {
		dsy := float64(sy) + 0.5 - c.Y
		rowOff := sy * fb.Width
		for sx := minX; sx <= maxX; sx++ {
			dsx := float64(sx) + 0.5 - c.X
			w0 := (dy12*dsx + dx21*dsy) * invDet
			w1 := (dy20*dsx + dx02*dsy) * invDet
			w2 := 1.0 - w0 - w1

			if w0 < -0.001 || w1 < -0.001 || w2 < -0.001 {
				continue
			}

			z := w0*a.Z + w1*b.Z + w2*c.Z
			i := rowOff + sx
			if z <= fb.ZBuf[i] {
				continue
			}
			fn(i, w0, w1, w2, z)
		}
	}
}

// FillTriangle draws a flat colored triangle. Opaque triangles (alpha 1)
// write depth; translucent ones blend over the existing color without
// writing depth.
func (fb *FrameBuffer) FillTriangle(a, b, c r3.Vec, rgb [3]float64, alpha float64) {
	r, g, bl := rgb[0]*255, rgb[1]*255, rgb[2]*255
	opaque := alpha >= 1

	fb.scan(a, b, c, func(i int, _, _, _, z float64) {
		p := i * 4
		if opaque {
			fb.ZBuf[i] = z
			fb.Color[p] = clamp255(r)
			fb.Color[p+1] = clamp255(g)
			fb.Color[p+2] = clamp255(bl)
			return
		}
		fb.Color[p] = clamp255(r*alpha + float64(fb.Color[p])*(1-alpha))
		fb.Color[p+1] = clamp255(g*alpha + float64(fb.Color[p+1])*(1-alpha))
		fb.Color[p+2] = clamp255(bl*alpha + float64(fb.Color[p+2])*(1-alpha))
	})
}

// TextureTriangle draws an opaque triangle sampling tex with nearest
// filtering. uv holds texture coordinates in [0,1] for each vertex.
func (fb *FrameBuffer) TextureTriangle(a, b, c r3.Vec, uv [3][2]float64, tex *image.Gray) {
	tb := tex.Bounds()
	lastX := float64(tb.Dx() - 1)
	lastY := float64(tb.Dy() - 1)

	fb.scan(a, b, c, func(i int, w0, w1, w2, z float64) {
		u := w0*uv[0][0] + w1*uv[1][0] + w2*uv[2][0]
		v := w0*uv[0][1] + w1*uv[1][1] + w2*uv[2][1]
		tx := int(math.Round(math.Max(0, math.Min(1, u)) * lastX))
		ty := int(math.Round(math.Max(0, math.Min(1, v)) * lastY))
		g := tex.Pix[ty*tex.Stride+tx]

		fb.ZBuf[i] = z
		p := i * 4
		fb.Color[p] = g
		fb.Color[p+1] = g
		fb.Color[p+2] = g
	})
}

// DrawLine draws a depth tested line between two screen space points. bias
// is added to the line depth so lines on a surface stay visible.
func (fb *FrameBuffer) DrawLine(a, b r3.Vec, rgb [3]uint8, bias float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	steps := int(math.Ceil(math.Max(math.Abs(dx), math.Abs(dy))))
	if steps == 0 {
		steps = 1
	}
	for s := 0; s <= steps; s++ {
		t := float64(s) / float64(steps)
		x := int(math.Floor(a.X + dx*t))
		y := int(math.Floor(a.Y + dy*t))
		if x < 0 || y < 0 || x >= fb.Width || y >= fb.Height {
			continue
		}
		z := a.Z + (b.Z-a.Z)*t + bias
		i := y*fb.Width + x
		if z <= fb.ZBuf[i] {
			continue
		}
		p := i * 4
		fb.Color[p] = rgb[0]
		fb.Color[p+1] = rgb[1]
		fb.Color[p+2] = rgb[2]
	}
}
