// Package termpage shows a session in a terminal.
//
// The first row holds the heading, the second row the mute button and the
// rest of the screen is the canvas. Clicking the button or pressing m toggles
// mute; clicking anywhere else (or pressing space or enter) is a background
// click. q, Esc and Ctrl-C quit.
package termpage

import (
	"context"
	"image/color"
	"sync"

	"github.com/gdamore/tcell/v2"
	"github.com/pkg/errors"
	"libdb.so/micvis"
	"libdb.so/micvis/internal/visualizer"
)

// CanvasHeight is the logical height of the canvas surface.
const CanvasHeight = 150

const (
	headingRow = 0
	buttonRow  = 1
	canvasRow  = 2
)

// Page is a micvis.Page drawn on a tcell screen.
type Page struct {
	screen  tcell.Screen
	events  chan micvis.Event
	surface *Surface
	fini    sync.Once

	// mu guards the screen and everything below.
	mu        sync.Mutex
	heading   string
	muteLabel string
	pressed   bool
}

var _ micvis.Page = (*Page)(nil)

// New initializes screen and creates a page on it. The canvas surface is
// sized after the screen at this point; later resizes rescale it.
func New(screen tcell.Screen) (*Page, error) {
	if err := screen.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to initialize terminal")
	}
	screen.EnableMouse()
	screen.HideCursor()
	screen.Clear()

	p := &Page{
		screen: screen,
		events: make(chan micvis.Event, 16),
	}

	cols, rows := screen.Size()
	p.surface = newSurface(p, cols, max(rows-canvasRow, 1))
	return p, nil
}

// Close restores the terminal. It is safe to call more than once.
func (p *Page) Close() {
	p.fini.Do(p.screen.Fini)
}

func (p *Page) SetHeading(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.heading = text
	p.drawChrome()
	p.screen.Show()
}

func (p *Page) SetMuteLabel(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.muteLabel = text
	p.drawChrome()
	p.screen.Show()
}

func (p *Page) Surface() visualizer.Surface { return p.surface }
func (p *Page) Events() <-chan micvis.Event { return p.events }

// Run polls terminal input until ctx is canceled. The terminal is restored
// when it returns.
func (p *Page) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, p.Close)
	defer stop()
	defer p.Close()

	for {
		// PollEvent returns nil once the screen is finalized.
		ev := p.screen.PollEvent()
		if ev == nil {
			return ctx.Err()
		}

		kind, ok := p.translate(ev)
		if !ok {
			continue
		}

		select {
		case p.events <- micvis.Event{Kind: kind}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *Page) translate(ev tcell.Event) (micvis.EventKind, bool) {
	switch ev := ev.(type) {
	case *tcell.EventKey:
		switch ev.Key() {
		case tcell.KeyEscape, tcell.KeyCtrlC:
			return micvis.Quit, true
		case tcell.KeyEnter:
			return micvis.BackgroundClick, true
		case tcell.KeyRune:
			switch ev.Rune() {
			case 'q', 'Q':
				return micvis.Quit, true
			case 'm', 'M':
				return micvis.MuteClick, true
			case ' ':
				return micvis.BackgroundClick, true
			}
		}

	case *tcell.EventMouse:
		p.mu.Lock()
		defer p.mu.Unlock()

		down := ev.Buttons()&tcell.Button1 != 0
		click := down && !p.pressed
		p.pressed = down
		if !click {
			return 0, false
		}

		x, y := ev.Position()
		if y == buttonRow && x < len(p.buttonText()) {
			return micvis.MuteClick, true
		}
		return micvis.BackgroundClick, true

	case *tcell.EventResize:
		p.mu.Lock()
		defer p.mu.Unlock()

		p.screen.Clear()
		p.drawChrome()
		p.surface.draw()
		p.screen.Sync()
	}

	return 0, false
}

func (p *Page) buttonText() string {
	return "[ " + p.muteLabel + " ]"
}

// drawChrome draws the heading and button rows. mu must be held.
func (p *Page) drawChrome() {
	cols, _ := p.screen.Size()

	heading := tcell.StyleDefault.Bold(true)
	clearRow(p.screen, headingRow, cols)
	drawText(p.screen, max((cols-len(p.heading))/2, 0), headingRow, p.heading, heading)

	button := tcell.StyleDefault.Reverse(true)
	clearRow(p.screen, buttonRow, cols)
	if p.muteLabel != "" {
		drawText(p.screen, 0, buttonRow, p.buttonText(), button)
	}
}

func clearRow(s tcell.Screen, y, cols int) {
	for x := 0; x < cols; x++ {
		s.SetContent(x, y, ' ', nil, tcell.StyleDefault)
	}
}

func drawText(s tcell.Screen, x, y int, text string, style tcell.Style) {
	for _, r := range text {
		s.SetContent(x, y, r, nil, style)
		x++
	}
}

func cellColor(c color.RGBA) tcell.Color {
	return tcell.NewRGBColor(int32(c.R), int32(c.G), int32(c.B))
}
