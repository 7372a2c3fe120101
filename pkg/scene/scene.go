// Package scene assembles the loaded CT volume and structure surfaces into
// one scene with per-structure display colors.
package scene

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
	"innerear/pkg/config"
	"innerear/pkg/dataset"
	"innerear/pkg/formats"
	"innerear/pkg/stl"
)

// Style holds the default display rules for structures without explicit
// manifest colors.
type Style struct {
	Palette             []config.NamedColor
	ReducedOpacity      []string
	ReducedOpacityValue float64
}

// StyleFromConfig extracts the display rules from the configuration.
func StyleFromConfig(d config.Display) Style {
	return Style{
		Palette:             d.Palette,
		ReducedOpacity:      d.ReducedOpacity,
		ReducedOpacityValue: d.ReducedOpacityValue,
	}
}

// Entry records how one structure was styled, for logging and tests.
type Entry struct {
	Name      string
	File      string
	ColorName string
	Reduced   bool
}

// Scene is everything shown in the viewer window.
type Scene struct {
	Volume   *models.Volume
	Surfaces []*models.Surface
	// Entries parallels Surfaces
	Entries []Entry
	// Outline holds the 12 edges of the volume's bounding box
	Outline [][2]r3.Vec
}

// Builder loads files through a format registry.
type Builder struct {
	registry *formats.Registry
	style    Style
	logger   *zap.Logger
}

// NewBuilder returns a builder. A nil registry means formats.Default and a
// nil logger disables logging.
func NewBuilder(registry *formats.Registry, style Style, logger *zap.Logger) *Builder {
	if registry == nil {
		registry = formats.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{registry: registry, style: style, logger: logger}
}

// Build loads the volume and every surface. Any failure aborts the build
// and no partial scene is returned.
func (b *Builder) Build(paths *dataset.Paths) (*Scene, error) {
	if paths == nil {
		return nil, errors.New("scene: no dataset paths")
	}
	if len(b.style.Palette) == 0 {
		return nil, errors.New("scene: empty color palette")
	}

	vol, err := b.registry.LoadVolume(paths.Volume)
	if err != nil {
		return nil, err
	}
	lo, hi := vol.Range()
	mean, std := vol.Stats()
	b.logger.Info("loaded volume",
		zap.String("path", paths.Volume),
		zap.Ints("dims", vol.Dims[:]),
		zap.Float64s("spacing", vol.Spacing[:]),
		zap.Float64("min", lo),
		zap.Float64("max", hi),
		zap.Float64("mean", mean),
		zap.Float64("std", std),
	)

	s := &Scene{Volume: vol, Outline: Outline(vol)}

	for i, sp := range paths.Surfaces {
		surf, err := b.registry.LoadMesh(sp.Path)
		if err != nil {
			return nil, err
		}
		surf.Name = sp.Name

		entry := b.style.apply(i, sp, surf)
		s.Surfaces = append(s.Surfaces, surf)
		s.Entries = append(s.Entries, entry)

		fields := []zap.Field{
			zap.String("structure", surf.Name),
			zap.String("color", entry.ColorName),
			zap.Float64("opacity", surf.Opacity),
			zap.Int("vertices", len(surf.Vertices)),
			zap.Int("triangles", len(surf.Triangles)),
		}
		if entry.Reduced {
			b.logger.Info("loaded structure with reduced opacity", fields...)
		} else {
			b.logger.Info("loaded structure", fields...)
		}
	}

	return s, nil
}

// apply assigns color and opacity to surface i.
func (st Style) apply(i int, sp dataset.SurfacePath, surf *models.Surface) Entry {
	e := Entry{Name: surf.Name, File: sp.File}

	if len(sp.Color) == 3 {
		surf.Color = models.RGB{sp.Color[0], sp.Color[1], sp.Color[2]}
		e.ColorName = fmt.Sprintf("rgb(%.2f, %.2f, %.2f)", sp.Color[0], sp.Color[1], sp.Color[2])
	} else {
		c := st.Palette[i%len(st.Palette)]
		surf.Color = models.RGB(c.RGB)
		e.ColorName = c.Name
	}

	switch {
	case sp.Opacity != nil:
		surf.Opacity = *sp.Opacity
	case st.reduced(sp.File):
		surf.Opacity = st.ReducedOpacityValue
		e.Reduced = true
	default:
		surf.Opacity = 1
	}
	return e
}

func (st Style) reduced(file string) bool {
	for _, f := range st.ReducedOpacity {
		if f == file {
			return true
		}
	}
	return false
}

// Bounds returns the box enclosing the volume and every surface.
func (s *Scene) Bounds() (lo, hi r3.Vec) {
	lo = r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	hi = r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	grow := func(p r3.Vec) {
		lo = r3.Vec{X: math.Min(lo.X, p.X), Y: math.Min(lo.Y, p.Y), Z: math.Min(lo.Z, p.Z)}
		hi = r3.Vec{X: math.Max(hi.X, p.X), Y: math.Max(hi.Y, p.Y), Z: math.Max(hi.Z, p.Z)}
	}
	if s.Volume != nil {
		for _, c := range s.Volume.Corners() {
			grow(c)
		}
	}
	for _, surf := range s.Surfaces {
		if len(surf.Vertices) == 0 {
			continue
		}
		a, b := surf.Bounds()
		grow(a)
		grow(b)
	}
	if lo.X > hi.X {
		return r3.Vec{}, r3.Vec{}
	}
	return lo, hi
}

// Outline returns the bounding box edges of the volume in world space.
func Outline(vol *models.Volume) [][2]r3.Vec {
	c := vol.Corners()
	var edges [][2]r3.Vec
	// Corners differing in exactly one index bit share an edge
	for a := 0; a < 8; a++ {
		for bit := 0; bit < 3; bit++ {
			b := a | 1<<bit
			if b != a {
				edges = append(edges, [2]r3.Vec{c[a], c[b]})
			}
		}
	}
	return edges
}

// ExportSTL writes every surface as a binary STL file named after its source
// file and returns the written paths.
func (s *Scene) ExportSTL(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	var paths []string
	for i, surf := range s.Surfaces {
		base := filepath.Base(s.Entries[i].File)
		path := filepath.Join(dir, strings.TrimSuffix(base, filepath.Ext(base))+".stl")
		if err := stl.SaveToSTL(path, stl.FromSurface(surf)); err != nil {
			return paths, fmt.Errorf("export %s: %w", surf.Name, err)
		}
		paths = append(paths, path)
	}
	return paths, nil
}
