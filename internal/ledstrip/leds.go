package ledstrip

import (
	"image/color"
	"unsafe"
)

// RGBColor is the color of a single LED, in wire order.
type RGBColor [3]uint8

// FromRGBA converts c to an LED color scaled by brightness, which is clamped
// to [0, 1]. Alpha is ignored.
func FromRGBA(c color.RGBA, brightness float64) RGBColor {
	switch {
	case brightness <= 0:
		return RGBColor{}
	case brightness > 1:
		brightness = 1
	}
	return RGBColor{
		uint8(float64(c.R) * brightness),
		uint8(float64(c.G) * brightness),
		uint8(float64(c.B) * brightness),
	}
}

// LEDs describes a strip of LEDs. It is a preallocated slice of RGBColor.
type LEDs []RGBColor

// NewLEDs creates a new strip of LEDs. Colors are initialized to black
// (off).
func NewLEDs(numLEDs int) LEDs {
	return make(LEDs, numLEDs)
}

// AsPixels returns the LED strip as a slice of uint8 values. Each LED is
// represented by three values, one for each color channel. The returned
// slice shares memory with l.
func (l LEDs) AsPixels() []uint8 {
	if len(l) == 0 {
		return nil
	}
	return unsafe.Slice((*uint8)(unsafe.Pointer(&l[0])), 3*len(l))
}

// Fill sets every LED to c.
func (l LEDs) Fill(c RGBColor) {
	for i := range l {
		l[i] = c
	}
}

// Max brightens the LEDs in [start, end) to at least c, channel by channel.
// The range is clipped to the strip.
func (l LEDs) Max(start, end int, c RGBColor) {
	start = max(start, 0)
	end = min(end, len(l))
	for i := start; i < end; i++ {
		for ch := range c {
			l[i][ch] = max(l[i][ch], c[ch])
		}
	}
}
