package render

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

const (
	// RotateSpeed is radians of rotation per pixel of mouse drag.
	RotateSpeed = 0.01

	minZoom  = 0.1
	maxZoom  = 50
	maxPitch = math.Pi/2 - 0.01

	defaultYaw   = math.Pi / 6
	defaultPitch = math.Pi / 9
)

// Camera is an orthographic trackball camera orbiting Target.
type Camera struct {
	Target r3.Vec
	Yaw    float64
	Pitch  float64
	Zoom   float64
	// Radius is the half size of the framed region in mm
	Radius float64

	home    pose
	version uint64
}

type pose struct {
	target     r3.Vec
	yaw, pitch float64
	zoom       float64
}

// NewCamera frames the axis-aligned box lo..hi.
func NewCamera(lo, hi r3.Vec) *Camera {
	radius := r3.Norm(r3.Sub(hi, lo)) / 2
	if radius < 1e-6 {
		radius = 1
	}
	c := &Camera{
		Target: r3.Scale(0.5, r3.Add(lo, hi)),
		Yaw:    defaultYaw,
		Pitch:  defaultPitch,
		Zoom:   1,
		Radius: radius,
	}
	c.home = pose{target: c.Target, yaw: c.Yaw, pitch: c.Pitch, zoom: c.Zoom}
	return c
}

// Rotate orbits the camera by a mouse drag of dx, dy pixels.
func (c *Camera) Rotate(dx, dy float64) {
	if dx == 0 && dy == 0 {
		return
	}
	c.Yaw -= dx * RotateSpeed
	c.Pitch = math.Max(-maxPitch, math.Min(maxPitch, c.Pitch+dy*RotateSpeed))
	c.version++
}

// ZoomBy multiplies the zoom factor, clamped to a sane range.
func (c *Camera) ZoomBy(factor float64) {
	z := math.Max(minZoom, math.Min(maxZoom, c.Zoom*factor))
	if z == c.Zoom {
		return
	}
	c.Zoom = z
	c.version++
}

// Reset restores the initial view.
func (c *Camera) Reset() {
	c.Target, c.Yaw, c.Pitch, c.Zoom = c.home.target, c.home.yaw, c.home.pitch, c.home.zoom
	c.version++
}

// Version changes whenever the view changes.
func (c *Camera) Version() uint64 { return c.version }

// View is a camera resolved for one viewport size.
type View struct {
	Right, Up, Back r3.Vec
	target          r3.Vec
	scale           float64
	cx, cy          float64
}

// View computes the projection for a w x h viewport.
func (c *Camera) View(w, h int) View {
	cp, sp := math.Cos(c.Pitch), math.Sin(c.Pitch)
	cy, sy := math.Cos(c.Yaw), math.Sin(c.Yaw)

	// Back points from the target towards the eye; +Z is up
	back := r3.Vec{X: cp * sy, Y: -cp * cy, Z: sp}
	right := r3.Unit(r3.Cross(r3.Scale(-1, back), r3.Vec{Z: 1}))
	up := r3.Cross(right, r3.Scale(-1, back))

	return View{
		Right:  right,
		Up:     up,
		Back:   back,
		target: c.Target,
		scale:  0.9 * c.Zoom * float64(min(w, h)) / (2 * c.Radius),
		cx:     float64(w) / 2,
		cy:     float64(h) / 2,
	}
}

// Project maps a world point to pixel coordinates. Z grows towards the
// viewer and uses the same pixel scale as X and Y.
func (v View) Project(p r3.Vec) r3.Vec {
	rel := r3.Sub(p, v.target)
	return r3.Vec{
		X: v.cx + r3.Dot(rel, v.Right)*v.scale,
		Y: v.cy - r3.Dot(rel, v.Up)*v.scale,
		Z: r3.Dot(rel, v.Back) * v.scale,
	}
}

// Scale is pixels per mm.
func (v View) Scale() float64 { return v.scale }
