package models

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"
)

// RGB is a display color with components in [0,1]
type RGB [3]float64

// White is used for the volume outline.
var White = RGB{1, 1, 1}

// Surface is a named triangle mesh for one anatomical structure
type Surface struct {
	// Name is the human readable structure name, e.g. "Cochlea"
	Name string

	// Path is the file the mesh was loaded from
	Path string

	// Vertices in the dataset's world frame
	Vertices []r3.Vec

	// Triangles index into Vertices
	Triangles [][3]int

	// Color and Opacity are assigned by the scene builder
	Color   RGB
	Opacity float64
}

// Validate checks that every triangle references an existing vertex.
func (s *Surface) Validate() error {
	n := len(s.Vertices)
	for t, tri := range s.Triangles {
		for _, idx := range tri {
			if idx < 0 || idx >= n {
				return fmt.Errorf("triangle %d references vertex %d of %d", t, idx, n)
			}
		}
	}
	return nil
}

// Bounds returns the axis-aligned bounding box of the vertices.
func (s *Surface) Bounds() (lo, hi r3.Vec) {
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for _, p := range s.Vertices {
		lo.X, hi.X = math.Min(lo.X, p.X), math.Max(hi.X, p.X)
		lo.Y, hi.Y = math.Min(lo.Y, p.Y), math.Max(hi.Y, p.Y)
		lo.Z, hi.Z = math.Min(lo.Z, p.Z), math.Max(hi.Z, p.Z)
	}
	return lo, hi
}

// Translucent reports whether the surface needs blending.
func (s *Surface) Translucent() bool {
	return s.Opacity < 1
}
