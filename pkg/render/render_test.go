package render

import (
	"image/color"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"

	"innerear/internal/models"
	"innerear/pkg/config"
	"innerear/pkg/planes"
	"innerear/pkg/scene"
)

func constantVolume(t *testing.T, value float64) *models.Volume {
	t.Helper()
	dims := [3]int{8, 6, 4}
	data := make([]float64, dims[0]*dims[1]*dims[2])
	for i := range data {
		data[i] = value
	}
	vol, err := models.NewVolume(data, dims, [3]float64{0.5, 0.5, 1}, r3.Vec{})
	require.NoError(t, err)
	return vol
}

// frontTriangle lies in an XZ plane between the camera and the volume when
// looking along +Y.
func frontTriangle(rgb models.RGB, opacity float64) *models.Surface {
	return &models.Surface{
		Name: "front",
		Vertices: []r3.Vec{
			{X: -2, Y: -1, Z: -2},
			{X: 6, Y: -1, Z: -2},
			{X: 1.75, Y: -1, Z: 6},
		},
		Triangles: [][3]int{{0, 1, 2}},
		Color:     rgb,
		Opacity:   opacity,
	}
}

func testOptions() Options {
	opt := OptionsFromConfig(config.DefaultConfig().Display)
	opt.Width, opt.Height = 64, 64
	return opt
}

// frontView looks along +Y at the volume center.
func frontView(s *scene.Scene) *Camera {
	cam := Frame(s)
	cam.Target = s.Volume.Center()
	cam.Yaw, cam.Pitch = 0, 0
	return cam
}

func TestCameraBasisIsOrthonormal(t *testing.T) {
	cam := NewCamera(r3.Vec{}, r3.Vec{X: 10, Y: 10, Z: 10})
	for _, yaw := range []float64{0, 0.7, 2, -3} {
		cam.Yaw = yaw
		v := cam.View(100, 100)
		assert.InDelta(t, 1, r3.Norm(v.Right), 1e-9)
		assert.InDelta(t, 1, r3.Norm(v.Up), 1e-9)
		assert.InDelta(t, 1, r3.Norm(v.Back), 1e-9)
		assert.InDelta(t, 0, r3.Dot(v.Right, v.Up), 1e-9)
		assert.InDelta(t, 0, r3.Dot(v.Right, v.Back), 1e-9)
		assert.InDelta(t, 0, r3.Dot(v.Up, v.Back), 1e-9)

		c := v.Project(cam.Target)
		assert.InDelta(t, 50, c.X, 1e-9)
		assert.InDelta(t, 50, c.Y, 1e-9)
	}
}

func TestCameraInteraction(t *testing.T) {
	cam := NewCamera(r3.Vec{}, r3.Vec{X: 2, Y: 2, Z: 2})
	home := struct{ Yaw, Pitch, Zoom float64 }{cam.Yaw, cam.Pitch, cam.Zoom}

	v := cam.Version()
	cam.Rotate(0, 0)
	assert.Equal(t, v, cam.Version(), "zero drag does not change the view")

	cam.Rotate(30, 10000)
	assert.NotEqual(t, v, cam.Version())
	assert.Less(t, cam.Pitch, math.Pi/2)
	assert.InDelta(t, home.Yaw-30*RotateSpeed, cam.Yaw, 1e-12)

	cam.ZoomBy(1e6)
	assert.Equal(t, float64(maxZoom), cam.Zoom)
	v = cam.Version()
	cam.ZoomBy(2)
	assert.Equal(t, v, cam.Version(), "clamped zoom does not change the view")

	cam.Reset()
	assert.Equal(t, home.Yaw, cam.Yaw)
	assert.Equal(t, home.Pitch, cam.Pitch)
	assert.Equal(t, home.Zoom, cam.Zoom)
	assert.NotEqual(t, v, cam.Version())

	// Reset stays repeatable
	cam.Rotate(5, 5)
	cam.Reset()
	assert.Equal(t, home.Yaw, cam.Yaw)
}

func TestDepthTest(t *testing.T) {
	near := [3]r3.Vec{{X: 0, Y: 0, Z: 5}, {X: 10, Y: 0, Z: 5}, {X: 0, Y: 10, Z: 5}}
	far := [3]r3.Vec{{X: 0, Y: 0, Z: 1}, {X: 10, Y: 0, Z: 1}, {X: 0, Y: 10, Z: 1}}

	for _, order := range [][2][3]r3.Vec{{near, far}, {far, near}} {
		fb := NewFrameBuffer(10, 10, color.RGBA{})
		first, second := order[0], order[1]
		firstColor, secondColor := [3]float64{1, 0, 0}, [3]float64{0, 1, 0}
		fb.FillTriangle(first[0], first[1], first[2], firstColor, 1)
		fb.FillTriangle(second[0], second[1], second[2], secondColor, 1)

		img := fb.Image()
		px := img.RGBAAt(2, 2)
		if first == near {
			assert.Equal(t, color.RGBA{255, 0, 0, 255}, px)
		} else {
			assert.Equal(t, color.RGBA{0, 255, 0, 255}, px)
		}
	}
}

func TestTranslucentBlend(t *testing.T) {
	fb := NewFrameBuffer(10, 10, color.RGBA{})
	tri := [3]r3.Vec{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 0, Y: 10}}
	fb.FillTriangle(tri[0], tri[1], tri[2], [3]float64{1, 1, 1}, 0.5)

	assert.Equal(t, color.RGBA{128, 128, 128, 255}, fb.Image().RGBAAt(1, 1))
	assert.True(t, math.IsInf(fb.ZBuf[1*10+1], -1), "translucent fill does not write depth")
}

func TestDrawLineRespectsDepth(t *testing.T) {
	fb := NewFrameBuffer(10, 10, color.RGBA{})
	fb.FillTriangle(r3.Vec{X: 0, Y: 0, Z: 3}, r3.Vec{X: 10, Y: 0, Z: 3}, r3.Vec{X: 0, Y: 10, Z: 3}, [3]float64{0, 0, 1}, 1)

	white := [3]uint8{255, 255, 255}
	fb.DrawLine(r3.Vec{X: 0, Y: 1.5, Z: 0}, r3.Vec{X: 9, Y: 1.5, Z: 0}, white, 0.5)
	assert.Equal(t, color.RGBA{0, 0, 255, 255}, fb.Image().RGBAAt(1, 1), "hidden line")

	fb.DrawLine(r3.Vec{X: 0, Y: 1.5, Z: 2.8}, r3.Vec{X: 9, Y: 1.5, Z: 2.8}, white, 0.5)
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, fb.Image().RGBAAt(1, 1), "line on the surface")
}

func TestRenderEmptyScene(t *testing.T) {
	s := &scene.Scene{}
	opt := testOptions()
	img := Render(s, nil, Frame(s), opt)

	require.Equal(t, 64, img.Bounds().Dx())
	for y := 0; y < 64; y += 7 {
		for x := 0; x < 64; x += 7 {
			assert.Equal(t, opt.Background, img.RGBAAt(x, y))
		}
	}
}

func TestRenderSlices(t *testing.T) {
	vol := constantVolume(t, 2000)
	s := &scene.Scene{Volume: vol, Outline: scene.Outline(vol)}

	img := Render(s, planes.NewSet(vol), frontView(s), testOptions())
	assert.Equal(t, color.RGBA{255, 255, 255, 255}, img.RGBAAt(32, 32), "coronal slice faces the camera")
	assert.Equal(t, color.RGBA{0, 0, 0, 255}, img.RGBAAt(1, 1), "background outside the volume")
}

func TestRenderOpaqueSurfaceHidesSlice(t *testing.T) {
	vol := constantVolume(t, 2000)
	s := &scene.Scene{
		Volume:   vol,
		Outline:  scene.Outline(vol),
		Surfaces: []*models.Surface{frontTriangle(models.RGB{1, 0, 0}, 1)},
	}

	img := Render(s, planes.NewSet(vol), frontView(s), testOptions())
	assert.Equal(t, color.RGBA{255, 0, 0, 255}, img.RGBAAt(32, 32))
}

func TestRenderTranslucentSurfaceBlendsOverSlice(t *testing.T) {
	vol := constantVolume(t, 2000)
	s := &scene.Scene{
		Volume:   vol,
		Outline:  scene.Outline(vol),
		Surfaces: []*models.Surface{frontTriangle(models.RGB{1, 0, 0}, 0.5)},
	}

	img := Render(s, planes.NewSet(vol), frontView(s), testOptions())
	assert.Equal(t, color.RGBA{255, 128, 128, 255}, img.RGBAAt(32, 32))
}

func TestRenderSupersample(t *testing.T) {
	vol := constantVolume(t, 2000)
	s := &scene.Scene{Volume: vol, Outline: scene.Outline(vol)}
	opt := testOptions()
	opt.Supersample = 3

	img := Render(s, planes.NewSet(vol), frontView(s), opt)
	assert.Equal(t, 64, img.Bounds().Dx())
	assert.Equal(t, 64, img.Bounds().Dy())
	c := img.RGBAAt(32, 32)
	assert.Greater(t, c.R, uint8(240))
}

func TestOptionsFromConfig(t *testing.T) {
	d := config.DefaultConfig().Display
	d.Background = []float64{1, 0.5, 0}
	opt := OptionsFromConfig(d)
	assert.Equal(t, color.RGBA{255, 128, 0, 255}, opt.Background)
	assert.Equal(t, 800, opt.Width)
	assert.Equal(t, 2000.0, opt.Window)
	assert.Equal(t, 1000.0, opt.Level)
}
