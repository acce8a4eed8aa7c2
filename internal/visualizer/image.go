package visualizer

import (
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// ImageSurface draws into an in-memory RGBA image. Present copies the drawn
// frame into a snapshot that Snapshot and WritePNG read, so readers never see
// a half drawn frame.
type ImageSurface struct {
	img *image.RGBA

	mu   sync.Mutex
	last *image.RGBA
}

var _ Surface = (*ImageSurface)(nil)

// NewImageSurface creates a black surface of the given size.
func NewImageSurface(width, height int) *ImageSurface {
	s := &ImageSurface{
		img:  image.NewRGBA(image.Rect(0, 0, width, height)),
		last: image.NewRGBA(image.Rect(0, 0, width, height)),
	}
	s.Clear(Black)
	copy(s.last.Pix, s.img.Pix)
	return s
}

func (s *ImageSurface) Size() (int, int) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy()
}

func (s *ImageSurface) Clear(c color.RGBA) {
	draw.Draw(s.img, s.img.Bounds(), image.NewUniform(c), image.Point{}, draw.Src)
}

func (s *ImageSurface) FillRect(x, y, w, h float64, c color.RGBA) {
	r := image.Rect(
		int(math.Round(x)), int(math.Round(y)),
		int(math.Round(x+w)), int(math.Round(y+h)),
	)
	draw.Draw(s.img, r.Intersect(s.img.Bounds()), image.NewUniform(c), image.Point{}, draw.Src)
}

func (s *ImageSurface) FillText(text string, x, y float64, c color.RGBA) {
	d := font.Drawer{
		Dst:  s.img,
		Src:  image.NewUniform(c),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(int(math.Round(x)), int(math.Round(y))),
	}
	d.DrawString(text)
}

func (s *ImageSurface) Present() error {
	s.mu.Lock()
	copy(s.last.Pix, s.img.Pix)
	s.mu.Unlock()
	return nil
}

// Snapshot returns a copy of the last presented frame.
func (s *ImageSurface) Snapshot() *image.RGBA {
	s.mu.Lock()
	defer s.mu.Unlock()

	img := image.NewRGBA(s.last.Bounds())
	copy(img.Pix, s.last.Pix)
	return img
}

// WritePNG encodes the last presented frame as PNG.
func (s *ImageSurface) WritePNG(w io.Writer) error {
	if err := png.Encode(w, s.Snapshot()); err != nil {
		return errors.Wrap(err, "failed to encode snapshot")
	}
	return nil
}
