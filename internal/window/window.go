// Package window runs the viewer session in a desktop window.
package window

import (
	"context"
	"fmt"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/hajimehoshi/ebiten/v2/ebitenutil"
	"github.com/hajimehoshi/ebiten/v2/inpututil"
	"go.uber.org/zap"

	"innerear/pkg/visualization"
)

const help = "drag: rotate  wheel: zoom  tab/arrows: step plane  r: reset  c: center planes  s: snapshot  e: export"

type binding struct {
	keys []ebiten.Key
	cmd  visualization.Key
}

var bindings = []binding{
	{[]ebiten.Key{ebiten.KeyArrowUp, ebiten.KeyArrowRight}, visualization.KeyStepUp},
	{[]ebiten.Key{ebiten.KeyArrowDown, ebiten.KeyArrowLeft}, visualization.KeyStepDown},
	{[]ebiten.Key{ebiten.KeyTab}, visualization.KeyNextPlane},
	{[]ebiten.Key{ebiten.KeyR}, visualization.KeyReset},
	{[]ebiten.Key{ebiten.KeyC}, visualization.KeyCenterPlanes},
	{[]ebiten.Key{ebiten.KeyS}, visualization.KeySnapshot},
	{[]ebiten.Key{ebiten.KeyE}, visualization.KeyExport},
}

// Run opens the window and blocks until it is closed or ctx is cancelled.
// Both end the loop cleanly and return nil; a backend failure is returned.
func Run(ctx context.Context, s *visualization.Session, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	w, h := s.Size()
	g := &viewerGame{ctx: ctx, s: s, logger: logger, width: w, height: h}

	ebiten.SetWindowTitle(s.Title())
	ebiten.SetWindowSize(w, h)
	ebiten.SetWindowResizingMode(ebiten.WindowResizingModeEnabled)
	ebiten.SetTPS(60)

	if err := ebiten.RunGame(g); err != nil {
		return fmt.Errorf("window: %w", err)
	}
	if ctx.Err() != nil {
		logger.Info("window closed by signal")
	} else {
		logger.Info("window closed")
	}
	return nil
}

type viewerGame struct {
	ctx    context.Context
	s      *visualization.Session
	logger *zap.Logger

	width, height int
	frame         *ebiten.Image
}

func (g *viewerGame) Update() error {
	if g.ctx.Err() != nil {
		g.release()
		return ebiten.Termination
	}
	g.s.Resize(g.width, g.height)

	x, y := ebiten.CursorPosition()
	switch {
	case inpututil.IsMouseButtonJustPressed(ebiten.MouseButtonLeft):
		g.s.Press(x, y)
	case inpututil.IsMouseButtonJustReleased(ebiten.MouseButtonLeft):
		g.s.Release()
	case ebiten.IsMouseButtonPressed(ebiten.MouseButtonLeft):
		g.s.Move(x, y)
	}

	if _, dy := ebiten.Wheel(); dy != 0 {
		g.s.Wheel(dy)
	}

	for _, b := range bindings {
		for _, k := range b.keys {
			if inpututil.IsKeyJustPressed(k) {
				// Snapshot and export failures are logged by the session
				_ = g.s.Key(b.cmd)
			}
		}
	}
	return nil
}

func (g *viewerGame) Draw(screen *ebiten.Image) {
	img, changed := g.s.Frame()
	if img == nil {
		return
	}
	b := img.Bounds()
	if g.frame == nil || g.frame.Bounds().Dx() != b.Dx() || g.frame.Bounds().Dy() != b.Dy() {
		if g.frame != nil {
			g.frame.Deallocate()
		}
		g.frame = ebiten.NewImage(b.Dx(), b.Dy())
		changed = true
	}
	if changed {
		g.frame.WritePixels(img.Pix)
	}
	screen.DrawImage(g.frame, nil)

	ebitenutil.DebugPrintAt(screen, help, 8, 4)
	for _, l := range g.s.SliderLabels() {
		ebitenutil.DebugPrintAt(screen, l.Text, l.X, l.Y-6)
	}
}

func (g *viewerGame) Layout(outsideWidth, outsideHeight int) (int, int) {
	g.width, g.height = outsideWidth, outsideHeight
	return outsideWidth, outsideHeight
}

func (g *viewerGame) release() {
	if g.frame != nil {
		g.frame.Deallocate()
		g.frame = nil
	}
}
