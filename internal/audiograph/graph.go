// Package audiograph implements the fixed processing chain between the
// microphone and the speakers: source → gain → analyser → destination.
//
// The analyser sits after the gain, so muting also flattens what the analyser
// sees.
package audiograph

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/pkg/errors"
	"libdb.so/micvis/internal/capture"
)

// Gain scales the amplitude of the samples passing through it.
type Gain struct {
	bits atomic.Uint64
}

// NewGain creates a gain stage with unity gain.
func NewGain() *Gain {
	g := &Gain{}
	g.SetValue(1)
	return g
}

// SetValue sets the gain factor.
func (g *Gain) SetValue(v float64) {
	g.bits.Store(math.Float64bits(v))
}

// Value returns the gain factor.
func (g *Gain) Value() float64 {
	return math.Float64frombits(g.bits.Load())
}

// Apply writes src scaled by the gain into dst and returns it.
func (g *Gain) Apply(dst, src []float64) []float64 {
	dst = append(dst[:0], src...)
	v := g.Value()
	if v == 1 {
		return dst
	}
	for i := range dst {
		dst[i] *= v
	}
	return dst
}

// Destination is the end of the graph, usually the speakers.
type Destination interface {
	Write(block []float64) error
}

// Discard is a Destination that drops everything.
var Discard Destination = discard{}

type discard struct{}

func (discard) Write([]float64) error { return nil }

// Graph wires a stream through gain and analyser into a destination.
type Graph struct {
	source   capture.Stream
	gain     *Gain
	analyser *Analyser
	dest     Destination // nil after a write failure
	output   Destination
	logger   *slog.Logger
	buf      []float64
}

var _ capture.Sink = (*Graph)(nil)

// Build creates the graph. A nil destination is treated as Discard.
func Build(source capture.Stream, dest Destination, logger *slog.Logger) *Graph {
	if dest == nil {
		dest = Discard
	}
	return &Graph{
		source:   source,
		gain:     NewGain(),
		analyser: NewAnalyser(),
		dest:     dest,
		output:   dest,
		logger:   logger,
	}
}

// Gain returns the gain stage.
func (g *Graph) Gain() *Gain { return g.gain }

// Analyser returns the analyser stage.
func (g *Graph) Analyser() *Analyser { return g.analyser }

// Process pushes one block through the graph. It is called from the goroutine
// running Run.
func (g *Graph) Process(block []float64) {
	g.buf = g.gain.Apply(g.buf, block)
	g.analyser.Process(g.buf)

	if g.dest == nil {
		return
	}
	if err := g.dest.Write(g.buf); err != nil {
		g.logger.Warn(
			"audio output failed, continuing without it",
			"error", err)
		g.dest = nil
	}
}

// Run pumps the source through the graph until ctx is canceled or the source
// ends.
func (g *Graph) Run(ctx context.Context) error {
	if err := g.source.Run(ctx, g); err != nil && !errors.Is(err, context.Canceled) {
		return errors.Wrap(err, "audio source failed")
	}
	return nil
}

// Close closes the source and, if it has a Close method, the destination.
func (g *Graph) Close() error {
	err := g.source.Close()
	if c, ok := g.output.(interface{ Close() error }); ok {
		if cerr := c.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
