package visualization

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"innerear/internal/models"
	"innerear/internal/testutil"
	"innerear/pkg/config"
	"innerear/pkg/dataset"
	"innerear/pkg/scene"
)

func testDisplay(t *testing.T) config.Display {
	t.Helper()
	d := config.DefaultConfig().Display
	d.Width, d.Height = 400, 300
	d.SnapshotDir = t.TempDir()
	return d
}

func testScene(t *testing.T) *scene.Scene {
	t.Helper()
	cfg := testutil.WriteDataset(t, t.TempDir())
	paths, err := dataset.Locate(cfg)
	require.NoError(t, err)
	sc, err := scene.NewBuilder(nil, scene.StyleFromConfig(config.DefaultConfig().Display), nil).Build(paths)
	require.NoError(t, err)
	return sc
}

// openSession returns a session in the rendering state, closed at test end.
func openSession(t *testing.T, d config.Display, logger *zap.Logger) *Session {
	t.Helper()
	s, err := Open(d, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		if s.State() != StateClosed {
			s.Close()
		}
	})
	require.NoError(t, s.Load(testScene(t)))
	require.NoError(t, s.Start())
	s.now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func isWebP(t *testing.T, path string) bool {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return len(data) > 12 && bytes.Equal(data[:4], []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WEBP"))
}

func TestOpenIsExclusive(t *testing.T) {
	first, err := Open(testDisplay(t), nil)
	require.NoError(t, err)

	_, err = Open(testDisplay(t), nil)
	assert.ErrorIs(t, err, ErrSessionActive)

	require.NoError(t, first.Close())

	second, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	require.NoError(t, second.Close())
}

func TestLifecycleOnlyMovesForward(t *testing.T) {
	s, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	defer func() {
		if s.State() != StateClosed {
			s.Close()
		}
	}()
	sc := testScene(t)

	assert.Equal(t, StateUninitialized, s.State())
	assert.Error(t, s.Start(), "start before load")

	require.NoError(t, s.Load(sc))
	assert.Equal(t, StateLoaded, s.State())
	assert.Error(t, s.Load(sc), "repeated load")

	require.NoError(t, s.Start())
	assert.Equal(t, StateRendering, s.State())
	assert.Error(t, s.Start(), "repeated start")
	assert.Error(t, s.Load(sc), "load after start")

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, s.Close(), ErrClosed)
	assert.ErrorIs(t, s.Load(sc), ErrClosed)
}

func TestCloseBeforeLoad(t *testing.T) {
	s, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	assert.Equal(t, "closed", s.State().String())
}

func TestLoadRejectsEmptyScene(t *testing.T) {
	s, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	defer s.Close()

	assert.Error(t, s.Load(nil))
	assert.Error(t, s.Load(&scene.Scene{}))
	assert.Equal(t, StateUninitialized, s.State())
}

func TestPlanesStartAtCenter(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	center := [3]int{(testutil.Dims[0] - 1) / 2, (testutil.Dims[1] - 1) / 2, (testutil.Dims[2] - 1) / 2}
	for _, w := range s.Planes().All() {
		assert.Equal(t, center[w.Axis()], w.Index(), w.Axis().String())
	}
}

func TestFrameRendersOnlyOnChange(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)

	img, changed := s.Frame()
	require.NotNil(t, img)
	assert.True(t, changed)
	assert.Equal(t, 400, img.Bounds().Dx())
	assert.Equal(t, 300, img.Bounds().Dy())

	again, changed := s.Frame()
	assert.False(t, changed)
	assert.Same(t, img, again)

	s.Wheel(1)
	assert.True(t, s.NeedsRender())
	_, changed = s.Frame()
	assert.True(t, changed)

	s.Planes().Widget(models.Axial).Step(1)
	_, changed = s.Frame()
	assert.True(t, changed, "plane move")

	s.Resize(320, 240)
	img, changed = s.Frame()
	assert.True(t, changed, "resize")
	assert.Equal(t, 320, img.Bounds().Dx())

	s.Resize(320, 240)
	s.Resize(0, -1)
	assert.False(t, s.NeedsRender())
}

func TestFrameOutsideRendering(t *testing.T) {
	s, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	defer s.Close()

	img, changed := s.Frame()
	assert.Nil(t, img)
	assert.False(t, changed)

	require.NoError(t, s.Load(testScene(t)))
	img, _ = s.Frame()
	assert.Nil(t, img)
	assert.Error(t, s.Snapshot(filepath.Join(t.TempDir(), "x.webp")))
}

func TestSliderDrag(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	sliders := s.Sliders()
	require.Len(t, sliders, 3)

	coronal := sliders[models.Coronal]
	assert.Equal(t, models.Coronal, coronal.Axis)
	y := coronal.Track.Min.Y + coronal.Track.Dy()/2
	w := s.Planes().Widget(models.Coronal)
	camera := s.Camera().Version()

	s.Press(coronal.Track.Min.X, y)
	assert.Equal(t, 0, w.Index())
	assert.Equal(t, models.Coronal, s.Selected())

	s.Move(coronal.Track.Max.X+50, y+3)
	assert.Equal(t, w.Count()-1, w.Index())
	assert.Equal(t, coronal.Track.Max.X-1, s.KnobX(coronal))

	s.Release()
	s.Move(coronal.Track.Min.X, y)
	assert.Equal(t, w.Count()-1, w.Index(), "move after release is ignored")
	assert.Equal(t, camera, s.Camera().Version(), "slider drag does not rotate")
}

func TestDragOnEmptySpaceRotates(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	planes := s.Planes().Version()
	yaw := s.Camera().Yaw

	s.Press(50, 50)
	s.Move(70, 40)
	s.Release()

	assert.NotEqual(t, yaw, s.Camera().Yaw)
	assert.Equal(t, planes, s.Planes().Version())
}

func TestKeys(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	sag := s.Planes().Widget(models.Sagittal)
	start := sag.Index()

	require.NoError(t, s.Key(KeyStepUp))
	assert.Equal(t, start+1, sag.Index())
	require.NoError(t, s.Key(KeyStepDown))
	require.NoError(t, s.Key(KeyStepDown))
	assert.Equal(t, start-1, sag.Index())

	for _, want := range []models.Axis{models.Coronal, models.Axial, models.Sagittal} {
		require.NoError(t, s.Key(KeyNextPlane))
		assert.Equal(t, want, s.Selected())
	}

	yaw := s.Camera().Yaw
	s.Press(10, 10)
	s.Move(60, 10)
	s.Release()
	require.NoError(t, s.Key(KeyReset))
	assert.Equal(t, yaw, s.Camera().Yaw)

	require.NoError(t, s.Key(KeyStepUp))
	require.NoError(t, s.Key(KeyStepUp))
	require.NoError(t, s.Key(KeyStepUp))
	assert.Equal(t, start+2, sag.Index())
	require.NoError(t, s.Key(KeyCenterPlanes))
	assert.Equal(t, start, sag.Index())

	assert.NoError(t, s.Key(KeyNone))
}

func TestInputIgnoredBeforeStart(t *testing.T) {
	s, err := Open(testDisplay(t), nil)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Load(testScene(t)))

	cam := s.Camera().Version()
	planes := s.Planes().Version()
	s.Press(10, 10)
	s.Move(80, 80)
	s.Wheel(3)
	require.NoError(t, s.Key(KeyStepUp))

	assert.Equal(t, cam, s.Camera().Version())
	assert.Equal(t, planes, s.Planes().Version())
}

func TestSnapshotKey(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := testDisplay(t)
	s := openSession(t, d, zap.New(core))

	require.NoError(t, s.Key(KeySnapshot))
	require.NoError(t, s.Key(KeySnapshot))

	entries := logs.FilterMessage("wrote snapshot").All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()["path"].(string)
	assert.Equal(t, filepath.Join(d.SnapshotDir, "snapshot_20240301_120000_001.webp"), first)
	assert.True(t, isWebP(t, first))
}

func TestSnapshotFailureIsReported(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	d := testDisplay(t)
	blocker := filepath.Join(d.SnapshotDir, "file")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0644))
	d.SnapshotDir = filepath.Join(blocker, "sub")
	s := openSession(t, d, zap.New(core))

	assert.Error(t, s.Key(KeySnapshot))
	assert.Equal(t, 1, logs.FilterMessage("snapshot failed").Len())
	assert.Equal(t, StateRendering, s.State(), "failure is not fatal")
}

func TestExportKey(t *testing.T) {
	d := testDisplay(t)
	s := openSession(t, d, nil)
	s.Planes().Widget(models.Axial).SetIndex(3)

	require.NoError(t, s.Key(KeyExport))
	for _, name := range []string{"slice_sagittal_003.webp", "slice_coronal_002.webp", "slice_axial_003.webp"} {
		assert.True(t, isWebP(t, filepath.Join(d.SnapshotDir, name)), name)
	}
}

func TestExportSliceSequence(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	dir := t.TempDir()

	n, err := ExportSliceSequence(s.scene.Volume, models.Axial, 2000, 1000, dir, 3)
	require.NoError(t, err)
	assert.Equal(t, testutil.Dims[2], n)

	files, err := filepath.Glob(filepath.Join(dir, "slice_axial_*.webp"))
	require.NoError(t, err)
	assert.Len(t, files, testutil.Dims[2])

	_, err = ExportSliceSequence(s.scene.Volume, models.Axial, 0, 1000, t.TempDir(), 1)
	assert.Error(t, err, "invalid window")
}

func TestIsotropicResample(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	vol := s.scene.Volume

	// Sagittal slices span y (0.5mm) by z (1mm)
	w := s.Planes().Widget(models.Sagittal)
	du, dv := pixelSpacing(vol, models.Sagittal)
	img := isotropic(w.Slice(2000, 1000), du, dv)
	assert.Equal(t, testutil.Dims[1], img.Bounds().Dx())
	assert.Equal(t, 2*testutil.Dims[2], img.Bounds().Dy())

	// Axial pixels are already square
	a := s.Planes().Widget(models.Axial).Slice(2000, 1000)
	du, dv = pixelSpacing(vol, models.Axial)
	assert.Same(t, a, isotropic(a, du, dv))
}

func TestSliderLabels(t *testing.T) {
	s := openSession(t, testDisplay(t), nil)
	labels := s.SliderLabels()
	require.Len(t, labels, 3)
	assert.Contains(t, labels[0].Text, ">")
	assert.Contains(t, labels[0].Text, "Sagittal")
	assert.NotContains(t, labels[1].Text, ">")
	assert.Contains(t, labels[2].Text, "Axial")
}
