package scene

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"innerear/internal/models"
	"innerear/internal/testutil"
	"innerear/pkg/config"
	"innerear/pkg/dataset"
	"innerear/pkg/formats"
	"innerear/pkg/stl"
)

func defaultStyle() Style {
	return StyleFromConfig(config.DefaultConfig().Display)
}

func buildFrom(t *testing.T, cfg config.Dataset) (*Scene, error) {
	t.Helper()
	paths, err := dataset.Locate(cfg)
	require.NoError(t, err)
	return NewBuilder(nil, defaultStyle(), nil).Build(paths)
}

func TestBuildManifestScene(t *testing.T) {
	cfg := testutil.WriteDataset(t, t.TempDir())

	s, err := buildFrom(t, cfg)
	require.NoError(t, err)

	require.NotNil(t, s.Volume)
	assert.Equal(t, testutil.Dims, s.Volume.Dims)
	assert.Len(t, s.Surfaces, 4)
	assert.Len(t, s.Entries, 4)
	assert.Len(t, s.Outline, 12)

	palette := config.DefaultPalette()
	for i, surf := range s.Surfaces {
		assert.Equal(t, models.RGB(palette[i].RGB), surf.Color)
		assert.Equal(t, 1.0, surf.Opacity)
		assert.Equal(t, cfg.Structures[i].Name, surf.Name)
		assert.Equal(t, palette[i].Name, s.Entries[i].ColorName)
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	cfg := testutil.WriteDataset(t, t.TempDir())

	first, err := buildFrom(t, cfg)
	require.NoError(t, err)
	second, err := buildFrom(t, cfg)
	require.NoError(t, err)

	require.Equal(t, len(first.Surfaces), len(second.Surfaces))
	for i := range first.Surfaces {
		assert.Equal(t, first.Surfaces[i].Color, second.Surfaces[i].Color)
		assert.Equal(t, first.Surfaces[i].Opacity, second.Surfaces[i].Opacity)
		assert.Equal(t, first.Surfaces[i].Name, second.Surfaces[i].Name)
	}
	assert.Equal(t, first.Entries, second.Entries)
}

func TestBuildAtlasReducedOpacityAndPaletteCycle(t *testing.T) {
	files := []string{
		"Model_1_Cochlea.vtk",
		"Model_21_Internal_Jugular_Vein.vtk",
		"Model_24_Internal_Carotid_Artery.vtk",
		"Model_3_Temporal_Bone.vtk",
		"Model_4_A.vtk", "Model_5_B.vtk", "Model_6_C.vtk", "Model_7_D.vtk", "Model_8_E.vtk",
	}
	cfg := testutil.WriteAtlas(t, t.TempDir(), files...)

	core, logs := observer.New(zap.InfoLevel)
	paths, err := dataset.Locate(cfg)
	require.NoError(t, err)
	s, err := NewBuilder(nil, defaultStyle(), zap.New(core)).Build(paths)
	require.NoError(t, err)
	require.Len(t, s.Surfaces, len(files))

	reduced := map[string]bool{}
	for i, e := range s.Entries {
		reduced[e.File] = e.Reduced
		if e.Reduced {
			assert.Equal(t, 0.1, s.Surfaces[i].Opacity, e.File)
		} else {
			assert.Equal(t, 1.0, s.Surfaces[i].Opacity, e.File)
		}
	}
	assert.True(t, reduced["Model_3_Temporal_Bone.vtk"])
	assert.True(t, reduced["Model_21_Internal_Jugular_Vein.vtk"])
	assert.True(t, reduced["Model_24_Internal_Carotid_Artery.vtk"])
	assert.False(t, reduced["Model_1_Cochlea.vtk"])

	// nine structures wrap around the eight color palette
	assert.Equal(t, s.Surfaces[0].Color, s.Surfaces[8].Color)

	assert.Equal(t, 1, logs.FilterMessage("loaded volume").Len())
	assert.Equal(t, 3, logs.FilterMessage("loaded structure with reduced opacity").Len())
	assert.Equal(t, 6, logs.FilterMessage("loaded structure").Len())
}

func TestBuildManifestOverrides(t *testing.T) {
	dir := t.TempDir()
	cfg := testutil.WriteDataset(t, dir)
	half := 0.5
	cfg.Structures[1].Color = []float64{0.1, 0.2, 0.3}
	cfg.Structures[1].Opacity = &half

	s, err := buildFrom(t, cfg)
	require.NoError(t, err)
	assert.Equal(t, models.RGB{0.1, 0.2, 0.3}, s.Surfaces[1].Color)
	assert.Equal(t, 0.5, s.Surfaces[1].Opacity)
	assert.True(t, s.Surfaces[1].Translucent())
}

func TestBuildMalformedFiles(t *testing.T) {
	for _, name := range []string{"volume.ct", "cochlea.mesh", "canal_superior.mesh"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			cfg := testutil.WriteDataset(t, dir)
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("garbage"), 0644))

			s, err := buildFrom(t, cfg)
			assert.Nil(t, s)

			var le *formats.LoadError
			require.True(t, errors.As(err, &le), "got %v", err)
			assert.Equal(t, filepath.Join(dir, name), le.Path)
		})
	}
}

func TestBuildRejectsBadInput(t *testing.T) {
	_, err := NewBuilder(nil, defaultStyle(), nil).Build(nil)
	assert.Error(t, err)

	cfg := testutil.WriteDataset(t, t.TempDir())
	paths, err := dataset.Locate(cfg)
	require.NoError(t, err)
	_, err = NewBuilder(nil, Style{}, nil).Build(paths)
	assert.Error(t, err)
}

func TestOutlineEdgesAreAxisAligned(t *testing.T) {
	cfg := testutil.WriteDataset(t, t.TempDir())
	s, err := buildFrom(t, cfg)
	require.NoError(t, err)

	for _, e := range s.Outline {
		d := 0
		if e[0].X != e[1].X {
			d++
		}
		if e[0].Y != e[1].Y {
			d++
		}
		if e[0].Z != e[1].Z {
			d++
		}
		assert.Equal(t, 1, d, "edge %v changes exactly one coordinate", e)
	}
}

func TestExportSTL(t *testing.T) {
	cfg := testutil.WriteDataset(t, t.TempDir())
	s, err := buildFrom(t, cfg)
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "meshes")
	paths, err := s.ExportSTL(dir)
	require.NoError(t, err)
	require.Len(t, paths, len(s.Surfaces))
	assert.Equal(t, filepath.Join(dir, "cochlea.stl"), paths[0])

	for i, p := range paths {
		f, err := os.Open(p)
		require.NoError(t, err)
		tris, err := stl.Read(f)
		f.Close()
		require.NoError(t, err)
		assert.Len(t, tris, len(s.Surfaces[i].Triangles), p)
	}
}
