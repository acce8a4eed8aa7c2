package audiograph

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

// Analyser constants. They are fixed for the whole program.
const (
	FFTSize               = 256
	BinCount              = FFTSize / 2
	MinDecibels           = -90.0
	MaxDecibels           = -10.0
	SmoothingTimeConstant = 0.85
)

// Analyser extracts frequency magnitudes from the samples passing through it.
// It does not alter the samples. It is safe for concurrent use: the graph
// writes samples while the frame loop reads magnitudes.
type Analyser struct {
	mu       sync.Mutex
	ring     [FFTSize]float64
	pos      int
	fft      *fourier.FFT
	scratch  []float64
	coeffs   []complex128
	smoothed [BinCount]float64
}

// NewAnalyser creates an analyser with an empty (silent) history.
func NewAnalyser() *Analyser {
	return &Analyser{
		fft:     fourier.NewFFT(FFTSize),
		scratch: make([]float64, FFTSize),
		coeffs:  make([]complex128, FFTSize/2+1),
	}
}

// FrequencyBinCount returns the number of bins, half the FFT size.
func (a *Analyser) FrequencyBinCount() int {
	return BinCount
}

// Process records block as the most recent samples.
func (a *Analyser) Process(block []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(block) > FFTSize {
		block = block[len(block)-FFTSize:]
	}
	for _, v := range block {
		a.ring[a.pos] = v
		a.pos = (a.pos + 1) % FFTSize
	}
}

// ByteFrequencyData writes the current magnitude of each bin, scaled from
// [MinDecibels, MaxDecibels] onto [0, 255], into dst. At most BinCount values
// are written. Every call advances the smoothing by one step.
func (a *Analyser) ByteFrequencyData(dst []uint8) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.update()

	const scale = 255 / (MaxDecibels - MinDecibels)

	n := min(len(dst), BinCount)
	for i := 0; i < n; i++ {
		db := 20 * math.Log10(a.smoothed[i])
		v := math.Floor(scale * (db - MinDecibels))
		switch {
		case math.IsNaN(v), v < 0:
			dst[i] = 0
		case v > 255:
			dst[i] = 255
		default:
			dst[i] = uint8(v)
		}
	}
}

// update computes the smoothed magnitudes of the current window.
func (a *Analyser) update() {
	// Oldest sample first.
	n := copy(a.scratch, a.ring[a.pos:])
	copy(a.scratch[n:], a.ring[:a.pos])

	window.Blackman(a.scratch)
	a.coeffs = a.fft.Coefficients(a.coeffs, a.scratch)

	for i := range a.smoothed {
		mag := cmplx.Abs(a.coeffs[i]) / FFTSize
		a.smoothed[i] = SmoothingTimeConstant*a.smoothed[i] + (1-SmoothingTimeConstant)*mag
	}
}
