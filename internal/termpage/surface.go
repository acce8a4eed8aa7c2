package termpage

import (
	"image"
	"image/color"
	"math"

	"github.com/gdamore/tcell/v2"
	"libdb.so/micvis/internal/visualizer"
)

// Surface is the canvas of a Page. Shapes are rasterized at the logical
// resolution and sampled into cells on Present; text is placed in the cell
// under its starting point.
type Surface struct {
	page *Page

	canvas *visualizer.ImageSurface
	texts  []label // drawn since the last Clear
	shown  []label
	frame  *image.RGBA
}

type label struct {
	text string
	x, y float64
	c    color.RGBA
}

var _ visualizer.Surface = (*Surface)(nil)

// newSurface sizes the canvas after a grid of cols by rows cells. Terminal
// cells are roughly twice as tall as wide.
func newSurface(p *Page, cols, rows int) *Surface {
	width := int(math.Round(float64(cols) * CanvasHeight / float64(2*rows)))
	return &Surface{
		page:   p,
		canvas: visualizer.NewImageSurface(max(width, 1), CanvasHeight),
	}
}

func (s *Surface) Size() (int, int) {
	return s.canvas.Size()
}

func (s *Surface) Clear(c color.RGBA) {
	s.canvas.Clear(c)
	s.texts = s.texts[:0]
}

func (s *Surface) FillRect(x, y, w, h float64, c color.RGBA) {
	s.canvas.FillRect(x, y, w, h, c)
}

func (s *Surface) FillText(text string, x, y float64, c color.RGBA) {
	s.texts = append(s.texts, label{text, x, y, c})
}

// Present draws the frame onto the screen.
func (s *Surface) Present() error {
	if err := s.canvas.Present(); err != nil {
		return err
	}
	frame := s.canvas.Snapshot()

	s.page.mu.Lock()
	defer s.page.mu.Unlock()

	s.frame = frame
	s.shown = append(s.shown[:0], s.texts...)
	s.draw()
	s.page.screen.Show()
	return nil
}

// draw samples the last presented frame into the canvas cells. The page's
// mu must be held.
func (s *Surface) draw() {
	if s.frame == nil {
		return
	}

	cols, rows := s.page.screen.Size()
	rows -= canvasRow
	if cols <= 0 || rows <= 0 {
		return
	}

	b := s.frame.Bounds()
	sx := float64(b.Dx()) / float64(cols)
	sy := float64(b.Dy()) / float64(rows)

	for row := 0; row < rows; row++ {
		py := int((float64(row) + 0.5) * sy)
		for col := 0; col < cols; col++ {
			px := int((float64(col) + 0.5) * sx)
			c := s.frame.RGBAAt(px, py)
			style := tcell.StyleDefault.Background(cellColor(c))
			s.page.screen.SetContent(col, canvasRow+row, ' ', nil, style)
		}
	}

	for _, l := range s.shown {
		col := int(l.x / sx)
		row := min(int(l.y/sy), rows-1)
		for _, r := range l.text {
			if col >= 0 && col < cols && row >= 0 {
				bg := s.frame.RGBAAt(int((float64(col)+0.5)*sx), int((float64(row)+0.5)*sy))
				style := tcell.StyleDefault.
					Foreground(cellColor(l.c)).
					Background(cellColor(bg))
				s.page.screen.SetContent(col, canvasRow+row, r, nil, style)
			}
			col++
		}
	}
}
