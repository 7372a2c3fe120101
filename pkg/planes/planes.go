// Package planes implements the three orthogonal cutting planes through the
// CT volume. Each widget shows the slice at its current index and can be
// dragged along its normal.
package planes

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
)

// Widget is one cutting plane bound to a volume.
type Widget struct {
	axis  models.Axis
	vol   *models.Volume
	index int

	// version increases on every position change
	version uint64

	cache       *image.Gray
	cacheIndex  int
	cacheWindow float64
	cacheLevel  float64
}

// Set holds the sagittal, coronal and axial widgets of one volume.
type Set struct {
	widgets [3]*Widget
}

// NewSet creates one widget per axis, each at the volume's center slice.
func NewSet(vol *models.Volume) *Set {
	center := vol.CenterIndex()
	s := &Set{}
	for _, a := range models.Axes {
		s.widgets[a] = &Widget{axis: a, vol: vol, index: center[a], cacheIndex: -1}
	}
	return s
}

// Widget returns the widget for axis a.
func (s *Set) Widget(a models.Axis) *Widget {
	return s.widgets[a]
}

// All returns the widgets in sagittal, coronal, axial order.
func (s *Set) All() []*Widget {
	return s.widgets[:]
}

// Version changes whenever any widget moves.
func (s *Set) Version() uint64 {
	var v uint64
	for _, w := range s.widgets {
		v += w.version
	}
	return v
}

// Reset moves every widget back to the center slice.
func (s *Set) Reset() {
	center := s.widgets[0].vol.CenterIndex()
	for _, w := range s.widgets {
		w.SetIndex(center[w.axis])
	}
}

func (w *Widget) Axis() models.Axis { return w.axis }

func (w *Widget) Index() int { return w.index }

// Count is the number of slices along the widget's normal.
func (w *Widget) Count() int { return w.vol.Dims[w.axis] }

func (w *Widget) Version() uint64 { return w.version }

// SetIndex moves the plane to slice i, clamped to the volume. It reports
// whether the plane moved.
func (w *Widget) SetIndex(i int) bool {
	if i < 0 {
		i = 0
	}
	if last := w.Count() - 1; i > last {
		i = last
	}
	if i == w.index {
		return false
	}
	w.index = i
	w.version++
	return true
}

// Step moves the plane by n slices.
func (w *Widget) Step(n int) bool {
	return w.SetIndex(w.index + n)
}

// Position is the distance in mm of the plane from the volume's first slice.
func (w *Widget) Position() float64 {
	return float64(w.index) * w.vol.Spacing[w.axis]
}

// Range returns the valid position interval in mm.
func (w *Widget) Range() (lo, hi float64) {
	return 0, w.vol.Extent(w.axis)
}

// SetPosition snaps mm to the nearest slice.
func (w *Widget) SetPosition(mm float64) bool {
	if math.IsNaN(mm) {
		return false
	}
	idx := math.Round(mm / w.vol.Spacing[w.axis])
	idx = max(0, min(float64(w.Count()-1), idx))
	return w.SetIndex(int(idx))
}

// Drag moves the plane by delta mm along its normal.
func (w *Widget) Drag(delta float64) bool {
	return w.SetPosition(w.Position() + delta)
}

// inPlane returns the two volume axes spanning the slice image, as
// (columns, rows).
func inPlane(a models.Axis) (u, v models.Axis) {
	switch a {
	case models.Sagittal:
		return models.Coronal, models.Axial
	case models.Coronal:
		return models.Sagittal, models.Axial
	}
	return models.Sagittal, models.Coronal
}

// Corners returns the world positions of the slice image corners in the
// order (0,0), (cols-1,0), (cols-1,rows-1), (0,rows-1).
func (w *Widget) Corners() [4]r3.Vec {
	u, v := inPlane(w.axis)
	lastU := float64(w.vol.Dims[u] - 1)
	lastV := float64(w.vol.Dims[v] - 1)

	at := func(cu, cv float64) r3.Vec {
		var idx [3]float64
		idx[w.axis] = float64(w.index)
		idx[u] = cu
		idx[v] = cv
		return w.vol.IndexToWorld(idx[0], idx[1], idx[2])
	}
	return [4]r3.Vec{at(0, 0), at(lastU, 0), at(lastU, lastV), at(0, lastV)}
}

// MinWindow is the narrowest window Slice renders with.
const MinWindow = 1

// Slice returns the current slice mapped to gray with the given window and
// level: level-window/2 maps to black and level+window/2 to white. Column c,
// row r of the image is the sample at in-plane index (c, r). Windows below
// MinWindow are widened to it.
func (w *Widget) Slice(window, level float64) *image.Gray {
	if !(window >= MinWindow) {
		window = MinWindow
	}
	if w.cache != nil && w.cacheIndex == w.index && w.cacheWindow == window && w.cacheLevel == level {
		return w.cache
	}

	img, err := ExtractSlice(w.vol, w.axis, w.index, window, level)
	if err != nil {
		return image.NewGray(image.Rect(0, 0, 1, 1))
	}
	w.cache, w.cacheIndex, w.cacheWindow, w.cacheLevel = img, w.index, window, level
	return img
}

// ExtractSlice extracts a 2D slice from the volume along the given axis
func ExtractSlice(vol *models.Volume, axis models.Axis, position int, window, level float64) (*image.Gray, error) {
	if axis < models.Sagittal || axis > models.Axial {
		return nil, fmt.Errorf("invalid axis: %v", axis)
	}
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}
	if position >= vol.Dims[axis] {
		return nil, fmt.Errorf("position %d exceeds %s size %d", position, axis, vol.Dims[axis])
	}
	if window <= 0 {
		return nil, fmt.Errorf("window must be positive, got %g", window)
	}

	u, v := inPlane(axis)
	img := image.NewGray(image.Rect(0, 0, vol.Dims[u], vol.Dims[v]))
	lower := level - window/2

	var idx [3]int
	idx[axis] = position
	for r := 0; r < vol.Dims[v]; r++ {
		idx[v] = r
		for c := 0; c < vol.Dims[u]; c++ {
			idx[u] = c
			value := vol.At(idx[0], idx[1], idx[2])
			g := (value - lower) / window * 255
			img.SetGray(c, r, color.Gray{Y: uint8(math.Max(0, math.Min(255, g)))})
		}
	}
	return img, nil
}
