package visualization

import (
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/HugoSmits86/nativewebp"
	"golang.org/x/image/draw"

	"innerear/internal/models"
	"innerear/pkg/planes"
)

// SaveImage writes img as a lossless WebP file, creating parent directories.
func SaveImage(img image.Image, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return err
	}
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	if err := nativewebp.Encode(file, img, nil); err != nil {
		file.Close()
		return fmt.Errorf("WebP encode %s: %w", filename, err)
	}
	return file.Close()
}

// Snapshot renders the current view and writes it to filename.
func (s *Session) Snapshot(filename string) error {
	img, _ := s.Frame()
	if img == nil {
		return fmt.Errorf("visualization: cannot snapshot in state %s", s.state)
	}
	return SaveImage(img, filename)
}

// SnapshotNext writes the current view to a new timestamped file in the
// snapshot directory and returns its path.
func (s *Session) SnapshotNext() (string, error) {
	s.snapshots++
	name := fmt.Sprintf("snapshot_%s_%03d.webp", s.now().Format("20060102_150405"), s.snapshots)
	path := filepath.Join(s.display.SnapshotDir, name)
	return path, s.Snapshot(path)
}

// isotropic scales a slice so one pixel covers the same distance along both
// image axes.
func isotropic(img *image.Gray, du, dv float64) image.Image {
	if du == dv {
		return img
	}
	step := min(du, dv)
	b := img.Bounds()
	w := max(1, int(float64(b.Dx())*du/step+0.5))
	h := max(1, int(float64(b.Dy())*dv/step+0.5))
	dst := image.NewGray(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// pixelSpacing returns the mm per pixel of a slice image along its columns
// and rows.
func pixelSpacing(vol *models.Volume, a models.Axis) (du, dv float64) {
	switch a {
	case models.Sagittal:
		return vol.Spacing[models.Coronal], vol.Spacing[models.Axial]
	case models.Coronal:
		return vol.Spacing[models.Sagittal], vol.Spacing[models.Axial]
	}
	return vol.Spacing[models.Sagittal], vol.Spacing[models.Coronal]
}

func sliceName(a models.Axis, pos int) string {
	return fmt.Sprintf("slice_%s_%03d.webp", strings.ToLower(a.String()), pos)
}

// ExportSlices writes the three current slices, window/level mapped and
// resampled to square pixels, into outputDir.
func (s *Session) ExportSlices(outputDir string) ([]string, error) {
	if s.planes == nil {
		return nil, errors.New("visualization: no scene loaded")
	}
	var paths []string
	for _, w := range s.planes.All() {
		du, dv := pixelSpacing(s.scene.Volume, w.Axis())
		img := isotropic(w.Slice(s.opts.Window, s.opts.Level), du, dv)
		path := filepath.Join(outputDir, sliceName(w.Axis(), w.Index()))
		if err := SaveImage(img, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

// ExportSliceSequence extracts and saves every slice along the axis, split
// across the given number of workers. It returns the number of files written.
func ExportSliceSequence(vol *models.Volume, axis models.Axis, window, level float64, outputDir string, cores int) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}
	if cores < 1 {
		cores = 1
	}
	du, dv := pixelSpacing(vol, axis)
	numSlices := vol.Dims[axis]
	slicesPerCore := (numSlices + cores - 1) / cores

	var wg sync.WaitGroup
	errs := make([]error, cores)
	for c := 0; c < cores; c++ {
		wg.Add(1)

		go func(coreID int) {
			defer wg.Done()

			startSlice := coreID * slicesPerCore
			endSlice := min((coreID+1)*slicesPerCore, numSlices)

			for pos := startSlice; pos < endSlice; pos++ {
				img, err := planes.ExtractSlice(vol, axis, pos, window, level)
				if err != nil {
					errs[coreID] = err
					return
				}
				if err := SaveImage(isotropic(img, du, dv), filepath.Join(outputDir, sliceName(axis, pos))); err != nil {
					errs[coreID] = err
					return
				}
			}
		}(c)
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return 0, err
	}
	return numSlices, nil
}
