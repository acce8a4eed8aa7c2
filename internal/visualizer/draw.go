// Package visualizer draws frequency frames as bar charts and drives the
// per-frame redraw loop.
package visualizer

import (
	"fmt"
	"image/color"
	"strconv"
)

// RedOffset is added to a bin's magnitude to get its bar's red channel.
const RedOffset = 100

// Bar colors other than red.
const (
	barGreen = 50
	barBlue  = 50
)

var (
	// Black is the background color.
	Black = color.RGBA{0, 0, 0, 255}
	// White is the color of value labels.
	White = color.RGBA{255, 255, 255, 255}
)

// RedOverflow decides what happens to red channel values above 255.
type RedOverflow string

const (
	// ClampRed saturates the red channel at 255.
	ClampRed RedOverflow = "clamp"
	// WrapRed wraps the red channel modulo 256.
	WrapRed RedOverflow = "wrap"
)

// Validate checks that p is a known policy.
func (p RedOverflow) Validate() error {
	switch p {
	case ClampRed, WrapRed:
		return nil
	default:
		return fmt.Errorf("unknown red overflow policy %q", string(p))
	}
}

// Config is the drawing configuration. It is fixed once the loop starts.
type Config struct {
	// BarScale multiplies the width of every bar.
	BarScale float64
	// ShowValues draws each bin's magnitude at the base of its bar.
	ShowValues bool
	// RedOverflow is the policy for red channel values above 255.
	RedOverflow RedOverflow
}

// BarColor returns the color of a bar for magnitude m.
func BarColor(m uint8, policy RedOverflow) color.RGBA {
	r := int(m) + RedOffset
	switch policy {
	case WrapRed:
		r %= 256
	default:
		if r > 255 {
			r = 255
		}
	}
	return color.RGBA{uint8(r), barGreen, barBlue, 255}
}

// Bar is the geometry of one bar in surface coordinates.
type Bar struct {
	X, Y          float64
	Width, Height float64
	Color         color.RGBA
	Magnitude     uint8
}

// Bars lays out one bar per bin. Bars are anchored at the bottom edge and
// separated by a one unit gap. Bars may extend past the right edge; surfaces
// clip them.
func Bars(frame []uint8, width, height int, cfg Config) []Bar {
	if len(frame) == 0 {
		return nil
	}

	bars := make([]Bar, len(frame))
	barWidth := float64(width) / float64(len(frame)) * cfg.BarScale

	var x float64
	for i, m := range frame {
		h := float64(m) / 2
		bars[i] = Bar{
			X:         x,
			Y:         float64(height) - h,
			Width:     barWidth,
			Height:    h,
			Color:     BarColor(m, cfg.RedOverflow),
			Magnitude: m,
		}
		x += barWidth + 1
	}

	return bars
}

// Draw clears s to black and draws frame onto it.
func Draw(s Surface, frame []uint8, cfg Config) {
	width, height := s.Size()
	s.Clear(Black)

	for _, bar := range Bars(frame, width, height, cfg) {
		s.FillRect(bar.X, bar.Y, bar.Width, bar.Height, bar.Color)
		if cfg.ShowValues {
			s.FillText(strconv.Itoa(int(bar.Magnitude)), bar.X, float64(height), White)
		}
	}
}
