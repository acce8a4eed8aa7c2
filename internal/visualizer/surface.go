package visualizer

import (
	"image/color"

	"github.com/pkg/errors"
)

// Surface is a 2D drawing target. Coordinates are in surface units with the
// origin at the top left. Implementations clip anything outside their size.
type Surface interface {
	// Size returns the surface size. It does not change after creation.
	Size() (width, height int)
	// Clear fills the whole surface with c.
	Clear(c color.RGBA)
	// FillRect fills the rectangle at (x, y) with size (w, h).
	FillRect(x, y, w, h float64, c color.RGBA)
	// FillText draws text with its baseline starting at (x, y).
	FillText(text string, x, y float64, c color.RGBA)
	// Present makes the frame drawn since the last Present visible.
	Present() error
}

type teeSurface struct {
	primary Surface
	others  []Surface
	scales  [][2]float64
}

// Tee returns a surface that draws onto primary and mirrors every call onto
// others, rescaled to their own sizes. Size reports the primary size.
func Tee(primary Surface, others ...Surface) Surface {
	if len(others) == 0 {
		return primary
	}

	pw, ph := primary.Size()
	scales := make([][2]float64, len(others))
	for i, o := range others {
		w, h := o.Size()
		scales[i] = [2]float64{ratio(w, pw), ratio(h, ph)}
	}

	return &teeSurface{primary: primary, others: others, scales: scales}
}

func ratio(a, b int) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}

func (t *teeSurface) Size() (int, int) {
	return t.primary.Size()
}

func (t *teeSurface) Clear(c color.RGBA) {
	t.primary.Clear(c)
	for _, o := range t.others {
		o.Clear(c)
	}
}

func (t *teeSurface) FillRect(x, y, w, h float64, c color.RGBA) {
	t.primary.FillRect(x, y, w, h, c)
	for i, o := range t.others {
		sx, sy := t.scales[i][0], t.scales[i][1]
		o.FillRect(x*sx, y*sy, w*sx, h*sy, c)
	}
}

func (t *teeSurface) FillText(text string, x, y float64, c color.RGBA) {
	t.primary.FillText(text, x, y, c)
	for i, o := range t.others {
		o.FillText(text, x*t.scales[i][0], y*t.scales[i][1], c)
	}
}

// Present presents every surface. The first error is returned after all of
// them were presented.
func (t *teeSurface) Present() error {
	err := t.primary.Present()
	for _, o := range t.others {
		if oerr := o.Present(); oerr != nil && err == nil {
			err = errors.Wrap(oerr, "mirror surface")
		}
	}
	return err
}
