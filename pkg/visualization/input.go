package visualization

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"go.uber.org/zap"
	"golang.org/x/image/draw"

	"innerear/internal/models"
	"innerear/pkg/planes"
)

// Key is a viewer command bound to a keyboard key by the window.
type Key int

const (
	KeyNone Key = iota
	// KeyStepUp moves the selected plane one slice forward
	KeyStepUp
	// KeyStepDown moves the selected plane one slice back
	KeyStepDown
	// KeyNextPlane selects the next plane for stepping
	KeyNextPlane
	// KeyReset restores the initial camera
	KeyReset
	// KeyCenterPlanes moves every plane back to the volume center
	KeyCenterPlanes
	// KeySnapshot writes the current frame to the snapshot directory
	KeySnapshot
	// KeyExport writes the three current slices to the snapshot directory
	KeyExport
)

// WheelStep is the zoom factor per wheel notch.
const WheelStep = 1.1

// Slider layout in pixels
const (
	sliderMargin     = 16
	sliderLabelWidth = 200
	sliderHeight     = 8
	sliderGap        = 16
	knobWidth        = 6
)

var (
	trackColor         = color.RGBA{70, 70, 70, 255}
	selectedTrackColor = color.RGBA{140, 140, 140, 255}

	// Plane colors follow the slice viewer convention: red axial, yellow
	// sagittal, green coronal.
	knobColors = [3]color.RGBA{
		models.Sagittal: {237, 213, 76, 255},
		models.Coronal:  {110, 176, 75, 255},
		models.Axial:    {241, 128, 105, 255},
	}
)

type input struct {
	pressed  bool
	slider   int
	lastX    int
	lastY    int
	selected models.Axis
}

// Slider is the on-screen control of one cutting plane.
type Slider struct {
	Axis  models.Axis
	Track image.Rectangle
}

// Label is overlay text drawn by the window next to a slider.
type Label struct {
	Text string
	X, Y int
}

// Sliders returns the slider tracks for the current viewport, stacked at the
// bottom of the window in sagittal, coronal, axial order.
func (s *Session) Sliders() []Slider {
	w, h := s.Size()
	out := make([]Slider, 0, len(models.Axes))
	for i, a := range models.Axes {
		y := h - sliderMargin - (len(models.Axes)-i)*(sliderHeight+sliderGap) + sliderGap
		out = append(out, Slider{
			Axis:  a,
			Track: image.Rect(sliderMargin+sliderLabelWidth, y, w-sliderMargin, y+sliderHeight),
		})
	}
	return out
}

// hit returns the slider under (x, y) or -1.
func (s *Session) hit(x, y int) int {
	p := image.Pt(x, y)
	for i, sl := range s.Sliders() {
		if sl.Track.Dx() <= 0 {
			continue
		}
		r := sl.Track.Inset(-sliderGap / 2)
		if p.In(r) {
			return i
		}
	}
	return -1
}

func sliderFraction(w *planes.Widget) float64 {
	if w.Count() <= 1 {
		return 0
	}
	return float64(w.Index()) / float64(w.Count()-1)
}

// KnobX returns the x coordinate of a slider's knob center.
func (s *Session) KnobX(sl Slider) int {
	f := sliderFraction(s.planes.Widget(sl.Axis))
	return sl.Track.Min.X + int(math.Round(f*float64(sl.Track.Dx()-1)))
}

func (s *Session) setFromSlider(sl Slider, x int) {
	w := s.planes.Widget(sl.Axis)
	f := float64(x-sl.Track.Min.X) / float64(max(1, sl.Track.Dx()-1))
	f = math.Max(0, math.Min(1, f))
	w.SetIndex(int(math.Round(f * float64(w.Count()-1))))
}

func (s *Session) interactive() bool {
	return s.state == StateRendering
}

// Press starts a left-button drag at (x, y): on a slider it moves that plane,
// elsewhere it rotates the camera.
func (s *Session) Press(x, y int) {
	if !s.interactive() {
		return
	}
	s.input.pressed = true
	s.input.lastX, s.input.lastY = x, y
	s.input.slider = s.hit(x, y)
	if s.input.slider >= 0 {
		sl := s.Sliders()[s.input.slider]
		s.selectPlane(sl.Axis)
		s.setFromSlider(sl, x)
	}
}

// Move continues a drag.
func (s *Session) Move(x, y int) {
	if !s.interactive() || !s.input.pressed {
		return
	}
	if s.input.slider >= 0 {
		s.setFromSlider(s.Sliders()[s.input.slider], x)
	} else {
		s.camera.Rotate(float64(x-s.input.lastX), float64(y-s.input.lastY))
	}
	s.input.lastX, s.input.lastY = x, y
}

// Release ends a drag.
func (s *Session) Release() {
	s.input.pressed = false
	s.input.slider = -1
}

// Wheel zooms by notches; positive zooms in.
func (s *Session) Wheel(notches float64) {
	if !s.interactive() || notches == 0 {
		return
	}
	s.camera.ZoomBy(math.Pow(WheelStep, notches))
}

// Selected returns the plane that keyboard stepping moves.
func (s *Session) Selected() models.Axis { return s.input.selected }

func (s *Session) selectPlane(a models.Axis) {
	if s.input.selected != a {
		s.input.selected = a
		s.dirty = true
	}
}

// Key runs a keyboard command. Only snapshot and export can fail.
func (s *Session) Key(k Key) error {
	if !s.interactive() {
		return nil
	}
	switch k {
	case KeyStepUp:
		s.planes.Widget(s.input.selected).Step(1)
	case KeyStepDown:
		s.planes.Widget(s.input.selected).Step(-1)
	case KeyNextPlane:
		s.selectPlane((s.input.selected + 1) % models.Axis(len(models.Axes)))
	case KeyReset:
		s.camera.Reset()
	case KeyCenterPlanes:
		s.planes.Reset()
	case KeySnapshot:
		path, err := s.SnapshotNext()
		if err != nil {
			s.logger.Warn("snapshot failed", zap.Error(err))
			return err
		}
		s.logger.Info("wrote snapshot", zap.String("path", path))
	case KeyExport:
		paths, err := s.ExportSlices(s.display.SnapshotDir)
		if err != nil {
			s.logger.Warn("slice export failed", zap.Error(err))
			return err
		}
		s.logger.Info("exported slices", zap.Strings("paths", paths))
	}
	return nil
}

// SliderLabels returns the text shown left of each slider.
func (s *Session) SliderLabels() []Label {
	var out []Label
	for _, sl := range s.Sliders() {
		w := s.planes.Widget(sl.Axis)
		mark := " "
		if sl.Axis == s.input.selected {
			mark = ">"
		}
		out = append(out, Label{
			Text: fmt.Sprintf("%s %-8s %4d/%-4d %6.1fmm", mark, sl.Axis, w.Index(), w.Count()-1, w.Position()),
			X:    sliderMargin,
			Y:    sl.Track.Min.Y - 4,
		})
	}
	return out
}

func (s *Session) drawSliders(img *image.RGBA) {
	for _, sl := range s.Sliders() {
		if sl.Track.Dx() <= 0 {
			continue
		}
		track := trackColor
		if sl.Axis == s.input.selected {
			track = selectedTrackColor
		}
		draw.Draw(img, sl.Track, &image.Uniform{C: track}, image.Point{}, draw.Src)

		x := s.KnobX(sl)
		knob := image.Rect(x-knobWidth/2, sl.Track.Min.Y-4, x+knobWidth/2, sl.Track.Max.Y+4)
		draw.Draw(img, knob, &image.Uniform{C: knobColors[sl.Axis]}, image.Point{}, draw.Src)
	}
}
