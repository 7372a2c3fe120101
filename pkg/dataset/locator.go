// Package dataset resolves the files of an inner-ear dataset on disk.
//
// Two layouts are understood. A manifest lists the exact file names of the
// CT volume and of every structure. Discovery follows the upstream atlas
// zip, taking the first volume found in its image directory and every
// model found in its model directory.
package dataset

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"innerear/pkg/config"
)

// MissingFileError reports an expected input that is not on disk.
type MissingFileError struct {
	// Name is the expected file name or pattern, e.g. "cochlea.mesh"
	Name string
	// Path is where it was looked for
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("missing dataset file %s (looked for %s)", e.Name, e.Path)
}

// SurfacePath is one structure file and how to display it.
type SurfacePath struct {
	// File is the base name used for opacity rules and logs
	File string
	Path string
	Name string

	// Color and Opacity are nil unless the manifest overrides them
	Color   []float64
	Opacity *float64
}

// Paths is the resolved dataset.
type Paths struct {
	Dir      string
	Volume   string
	Surfaces []SurfacePath
}

// Locate resolves every expected file or fails on the first missing one.
func Locate(cfg config.Dataset) (*Paths, error) {
	dir := cfg.Dir
	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolving working directory: %w", err)
		}
		dir = wd
	}

	switch cfg.Mode {
	case config.ModeManifest, "":
		return locateManifest(dir, cfg)
	case config.ModeDiscover:
		return discover(dir, cfg)
	}
	return nil, fmt.Errorf("unknown dataset mode %q", cfg.Mode)
}

func locateManifest(dir string, cfg config.Dataset) (*Paths, error) {
	p := &Paths{Dir: dir}

	vol := filepath.Join(dir, cfg.VolumeFile)
	if err := requireFile(cfg.VolumeFile, vol); err != nil {
		return nil, err
	}
	p.Volume = vol

	for _, s := range cfg.Structures {
		path := filepath.Join(dir, s.File)
		if err := requireFile(s.File, path); err != nil {
			return nil, err
		}
		name := s.Name
		if name == "" {
			name = StructureName(s.File)
		}
		p.Surfaces = append(p.Surfaces, SurfacePath{
			File:    filepath.Base(s.File),
			Path:    path,
			Name:    name,
			Color:   s.Color,
			Opacity: s.Opacity,
		})
	}
	return p, nil
}

func discover(dir string, cfg config.Dataset) (*Paths, error) {
	p := &Paths{Dir: dir}

	volDir := filepath.Join(dir, cfg.VolumeDir)
	vols, err := listByExt(volDir, cfg.VolumeExt)
	if err != nil {
		return nil, err
	}
	if len(vols) == 0 {
		return nil, &MissingFileError{Name: "*" + cfg.VolumeExt, Path: volDir}
	}
	// Only the first volume is used
	p.Volume = filepath.Join(volDir, vols[0])

	modelDir := filepath.Join(dir, cfg.ModelDir)
	models, err := listByExt(modelDir, cfg.ModelExt)
	if err != nil {
		return nil, err
	}
	if len(models) == 0 {
		return nil, &MissingFileError{Name: "*" + cfg.ModelExt, Path: modelDir}
	}
	for _, m := range models {
		p.Surfaces = append(p.Surfaces, SurfacePath{
			File: m,
			Path: filepath.Join(modelDir, m),
			Name: StructureName(m),
		})
	}
	return p, nil
}

// listByExt returns the regular files in dir with extension ext, sorted.
func listByExt(dir, ext string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &MissingFileError{Name: filepath.Base(dir), Path: dir}
	}
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ext) {
			continue
		}
		out = append(out, e.Name())
	}
	sort.Strings(out)
	return out, nil
}

func requireFile(name, path string) error {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &MissingFileError{Name: name, Path: path}
	}
	if err != nil {
		return fmt.Errorf("checking %s: %w", path, err)
	}
	if info.IsDir() {
		return &MissingFileError{Name: name, Path: path}
	}
	return nil
}

// StructureName turns an atlas file name such as
// "Model_21_Internal_Jugular_Vein.vtk" into "Internal Jugular Vein".
// Names without the Model_<n>_ prefix only lose their extension.
func StructureName(file string) string {
	base := filepath.Base(file)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	parts := strings.SplitN(base, "_", 3)
	if len(parts) == 3 && strings.EqualFold(parts[0], "Model") && isDigits(parts[1]) {
		base = parts[2]
	}
	return strings.ReplaceAll(base, "_", " ")
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
