package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/spatial/r3"
	"gonum.org/v1/gonum/stat"
)

// Axis identifies one of the three canonical volume axes
type Axis int

const (
	// Sagittal planes are normal to the volume's first (x) axis
	Sagittal Axis = iota
	// Coronal planes are normal to the second (y) axis
	Coronal
	// Axial planes are normal to the third (z) axis
	Axial
)

// Axes lists the canonical axes in widget order.
var Axes = [3]Axis{Sagittal, Coronal, Axial}

func (a Axis) String() string {
	switch a {
	case Sagittal:
		return "Sagittal"
	case Coronal:
		return "Coronal"
	case Axial:
		return "Axial"
	}
	return fmt.Sprintf("Axis(%d)", int(a))
}

// Volume represents a CT scan as a 3D grid of scalar samples
type Volume struct {
	// Data holds the samples in x-fastest order: i + j*nx + k*nx*ny
	Data []float64

	// Dims is the number of samples along each axis
	Dims [3]int

	// Spacing is the physical distance between samples along each axis in mm
	Spacing [3]float64

	// Origin is the world position of sample (0,0,0)
	Origin r3.Vec

	// Directions are the unit vectors of the three index axes in world space
	Directions [3]r3.Vec
}

// NewVolume wraps data with axis-aligned directions and the given spacing.
func NewVolume(data []float64, dims [3]int, spacing [3]float64, origin r3.Vec) (*Volume, error) {
	v := &Volume{
		Data:    data,
		Dims:    dims,
		Spacing: spacing,
		Origin:  origin,
		Directions: [3]r3.Vec{
			{X: 1}, {Y: 1}, {Z: 1},
		},
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	return v, nil
}

// MaxSamples is the largest sample count a volume may hold.
const MaxSamples = math.MaxInt32

// SampleCount returns the number of samples in a grid of the given
// dimensions. It fails when a dimension is not positive or the product
// exceeds MaxSamples.
func SampleCount(dims [3]int) (int, error) {
	n := 1
	for i, d := range dims {
		if d <= 0 {
			return 0, fmt.Errorf("dimension %d must be positive, got %d", i, d)
		}
		if n > MaxSamples/d {
			return 0, fmt.Errorf("volume %dx%dx%d exceeds %d samples", dims[0], dims[1], dims[2], MaxSamples)
		}
		n *= d
	}
	return n, nil
}

// Validate checks that dimensions, spacing and sample count agree.
func (v *Volume) Validate() error {
	n, err := SampleCount(v.Dims)
	if err != nil {
		return err
	}
	for i, sp := range v.Spacing {
		if sp <= 0 {
			return fmt.Errorf("spacing %d must be positive, got %g", i, sp)
		}
	}
	if len(v.Data) != n {
		return fmt.Errorf("expected %d samples for %dx%dx%d, got %d", n, v.Dims[0], v.Dims[1], v.Dims[2], len(v.Data))
	}
	return nil
}

// Index returns the offset of sample (i,j,k) in Data.
func (v *Volume) Index(i, j, k int) int {
	return i + j*v.Dims[0] + k*v.Dims[0]*v.Dims[1]
}

// At returns sample (i,j,k). Out of range indices return 0.
func (v *Volume) At(i, j, k int) float64 {
	if i < 0 || j < 0 || k < 0 || i >= v.Dims[0] || j >= v.Dims[1] || k >= v.Dims[2] {
		return 0
	}
	return v.Data[v.Index(i, j, k)]
}

// IndexToWorld maps a continuous index position to world coordinates.
func (v *Volume) IndexToWorld(i, j, k float64) r3.Vec {
	p := v.Origin
	p = r3.Add(p, r3.Scale(i*v.Spacing[0], v.Directions[0]))
	p = r3.Add(p, r3.Scale(j*v.Spacing[1], v.Directions[1]))
	p = r3.Add(p, r3.Scale(k*v.Spacing[2], v.Directions[2]))
	return p
}

// CenterIndex returns the index of the middle sample along each axis.
func (v *Volume) CenterIndex() [3]int {
	return [3]int{(v.Dims[0] - 1) / 2, (v.Dims[1] - 1) / 2, (v.Dims[2] - 1) / 2}
}

// Center returns the geometric center of the sampled region.
func (v *Volume) Center() r3.Vec {
	return v.IndexToWorld(
		float64(v.Dims[0]-1)/2,
		float64(v.Dims[1]-1)/2,
		float64(v.Dims[2]-1)/2,
	)
}

// Extent returns the physical length covered along axis a in mm.
func (v *Volume) Extent(a Axis) float64 {
	return float64(v.Dims[a]-1) * v.Spacing[a]
}

// Corners returns the eight world-space corners of the sampled region.
// Bit 0 of the index selects the far x side, bit 1 y and bit 2 z.
func (v *Volume) Corners() [8]r3.Vec {
	var c [8]r3.Vec
	last := [3]float64{float64(v.Dims[0] - 1), float64(v.Dims[1] - 1), float64(v.Dims[2] - 1)}
	for n := 0; n < 8; n++ {
		var idx [3]float64
		for a := 0; a < 3; a++ {
			if n&(1<<a) != 0 {
				idx[a] = last[a]
			}
		}
		c[n] = v.IndexToWorld(idx[0], idx[1], idx[2])
	}
	return c
}

// Range returns the minimum and maximum sample values.
func (v *Volume) Range() (lo, hi float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	return floats.Min(v.Data), floats.Max(v.Data)
}

// Stats returns the mean and standard deviation of all samples.
func (v *Volume) Stats() (mean, std float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	return stat.MeanStdDev(v.Data, nil)
}
