// Package visualization owns the interactive viewer state: the loaded scene,
// the cutting planes, the camera and the input model. It renders frames but
// does not open windows; see internal/window for the display loop.
package visualization

import (
	"errors"
	"fmt"
	"image"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"innerear/pkg/config"
	"innerear/pkg/planes"
	"innerear/pkg/render"
	"innerear/pkg/scene"
)

// ErrSessionActive is returned by Open while another session is open in the
// process.
var ErrSessionActive = errors.New("visualization: a viewer session is already open")

// ErrClosed is returned by operations on a closed session.
var ErrClosed = errors.New("visualization: session closed")

var active atomic.Bool

// State is the viewer lifecycle. It only moves forward.
type State int

const (
	StateUninitialized State = iota
	StateLoaded
	StateRendering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateLoaded:
		return "loaded"
	case StateRendering:
		return "rendering"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Session is the single viewer of the process.
type Session struct {
	state   State
	display config.Display
	opts    render.Options
	logger  *zap.Logger

	scene  *scene.Scene
	planes *planes.Set
	camera *render.Camera

	input input

	frame          *image.RGBA
	dirty          bool
	renderedCamera uint64
	renderedPlanes uint64

	now       func() time.Time
	snapshots int
}

// Open claims the process-wide viewer slot. The caller must Close the
// session to release it.
func Open(display config.Display, logger *zap.Logger) (*Session, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrSessionActive
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		state:   StateUninitialized,
		display: display,
		opts:    render.OptionsFromConfig(display),
		logger:  logger,
		input:   input{slider: -1},
		now:     time.Now,
	}, nil
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

func (s *Session) transition(to State) error {
	if s.state == StateClosed {
		return ErrClosed
	}
	if to <= s.state {
		return fmt.Errorf("visualization: invalid transition %s -> %s", s.state, to)
	}
	// Closing is allowed from any state; otherwise states advance one at a time
	if to != StateClosed && to != s.state+1 {
		return fmt.Errorf("visualization: invalid transition %s -> %s", s.state, to)
	}
	s.logger.Debug("viewer state", zap.Stringer("from", s.state), zap.Stringer("to", to))
	s.state = to
	return nil
}

// Load attaches the scene and creates the cutting planes and camera.
func (s *Session) Load(sc *scene.Scene) error {
	if sc == nil || sc.Volume == nil {
		return errors.New("visualization: scene has no volume")
	}
	if err := s.transition(StateLoaded); err != nil {
		return err
	}
	s.scene = sc
	s.planes = planes.NewSet(sc.Volume)
	s.camera = render.Frame(sc)
	s.dirty = true
	return nil
}

// Start enters the interactive phase.
func (s *Session) Start() error {
	if err := s.transition(StateRendering); err != nil {
		return err
	}
	s.logger.Info("viewer started",
		zap.Int("width", s.opts.Width),
		zap.Int("height", s.opts.Height),
		zap.Int("structures", len(s.scene.Surfaces)),
	)
	return nil
}

// Close ends the session and releases the process-wide slot.
func (s *Session) Close() error {
	if err := s.transition(StateClosed); err != nil {
		return err
	}
	s.frame = nil
	active.Store(false)
	s.logger.Info("viewer closed")
	return nil
}

// Planes returns the cutting planes, nil before Load.
func (s *Session) Planes() *planes.Set { return s.planes }

// Camera returns the view camera, nil before Load.
func (s *Session) Camera() *render.Camera { return s.camera }

// Title is the window title.
func (s *Session) Title() string { return s.display.Title }

// Size returns the current viewport size.
func (s *Session) Size() (w, h int) { return s.opts.Width, s.opts.Height }

// Resize changes the viewport size. Non-positive sizes are ignored.
func (s *Session) Resize(w, h int) {
	if w <= 0 || h <= 0 || (w == s.opts.Width && h == s.opts.Height) {
		return
	}
	s.opts.Width, s.opts.Height = w, h
	s.dirty = true
}

// NeedsRender reports whether the next Frame call will draw a new image.
func (s *Session) NeedsRender() bool {
	if s.state != StateRendering {
		return false
	}
	return s.dirty || s.frame == nil ||
		s.camera.Version() != s.renderedCamera ||
		s.planes.Version() != s.renderedPlanes
}

// Frame returns the current frame and whether it changed since the last call.
// It returns nil outside the rendering state.
func (s *Session) Frame() (*image.RGBA, bool) {
	if s.state != StateRendering {
		return nil, false
	}
	if !s.NeedsRender() {
		return s.frame, false
	}

	start := time.Now()
	img := render.Render(s.scene, s.planes, s.camera, s.opts)
	s.drawSliders(img)

	s.frame = img
	s.dirty = false
	s.renderedCamera = s.camera.Version()
	s.renderedPlanes = s.planes.Version()
	s.logger.Debug("rendered frame", zap.Duration("elapsed", time.Since(start)))
	return img, true
}
