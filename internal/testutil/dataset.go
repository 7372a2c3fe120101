// Package testutil writes small synthetic inner-ear datasets for tests.
package testutil

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"innerear/pkg/config"
)

// Dims and Spacing describe the volume written by WriteDataset.
var (
	Dims    = [3]int{8, 6, 4}
	Spacing = [3]float64{0.5, 0.5, 1}
)

// Sample is the value written at voxel (i,j,k).
func Sample(i, j, k int) int16 {
	return int16(1000*k + 100*j + 10*i)
}

// NRRD returns an attached raw little-endian int16 NRRD volume.
func NRRD(dims [3]int, spacing [3]float64, sample func(i, j, k int) int16) []byte {
	header := fmt.Sprintf("NRRD0004\n"+
		"type: short\n"+
		"dimension: 3\n"+
		"space: left-posterior-superior\n"+
		"sizes: %d %d %d\n"+
		"space directions: (%g,0,0) (0,%g,0) (0,0,%g)\n"+
		"kinds: domain domain domain\n"+
		"endian: little\n"+
		"encoding: raw\n"+
		"space origin: (0,0,0)\n\n",
		dims[0], dims[1], dims[2], spacing[0], spacing[1], spacing[2])

	buf := []byte(header)
	for k := 0; k < dims[2]; k++ {
		for j := 0; j < dims[1]; j++ {
			for i := 0; i < dims[0]; i++ {
				buf = binary.LittleEndian.AppendUint16(buf, uint16(sample(i, j, k)))
			}
		}
	}
	return buf
}

// Tetra returns an ASCII VTK tetrahedron with one corner at (x,y,z).
func Tetra(name string, x, y, z, size float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# vtk DataFile Version 3.0\n%s\nASCII\nDATASET POLYDATA\nPOINTS 4 float\n", name)
	fmt.Fprintf(&b, "%g %g %g\n", x, y, z)
	fmt.Fprintf(&b, "%g %g %g\n", x+size, y, z)
	fmt.Fprintf(&b, "%g %g %g\n", x, y+size, z)
	fmt.Fprintf(&b, "%g %g %g\n", x, y, z+size)
	b.WriteString("POLYGONS 4 16\n3 0 2 1\n3 0 1 3\n3 0 3 2\n3 1 2 3\n")
	return b.String()
}

// WriteDataset writes the default manifest (volume.ct plus four structure
// meshes) into dir and returns a dataset config pointing at it.
func WriteDataset(t testing.TB, dir string) config.Dataset {
	t.Helper()
	cfg := config.DefaultConfig().Dataset
	cfg.Dir = dir

	write(t, filepath.Join(dir, cfg.VolumeFile), NRRD(Dims, Spacing, Sample))
	for i, s := range cfg.Structures {
		off := 0.3 * float64(i)
		write(t, filepath.Join(dir, s.File), []byte(Tetra(s.File, 0.5+off, 0.5+off, 0.5, 1)))
	}
	return cfg
}

// WriteAtlas writes the upstream zip layout with the given model file names
// and returns a discover-mode config.
func WriteAtlas(t testing.TB, dir string, models ...string) config.Dataset {
	t.Helper()
	cfg := config.DefaultConfig().Dataset
	cfg.Mode = config.ModeDiscover
	cfg.Dir = dir

	write(t, filepath.Join(dir, cfg.VolumeDir, "inner-ear.nrrd"), NRRD(Dims, Spacing, Sample))
	for i, m := range models {
		write(t, filepath.Join(dir, cfg.ModelDir, m), []byte(Tetra(m, 0.2*float64(i), 0.5, 0.5, 1)))
	}
	return cfg
}

func write(t testing.TB, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create %s: %v", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}
