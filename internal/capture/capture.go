// Package capture obtains a live microphone stream from whichever capture
// mechanism the host provides.
//
// Hosts expose capture in several shapes. Some return a stream directly, some
// take a pair of callbacks. An Adapter probes a list of named strategies in
// priority order once, keeps the first available one and normalizes it into a
// single request contract that always resolves with exactly one Result.
package capture

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
)

// Constraints describes the requested stream. Only audio is supported.
type Constraints struct {
	// Audio must be true.
	Audio bool
	// Video must be false.
	Video bool
	// Device is a strategy specific device name. The empty string selects
	// the default input device.
	Device string
	// SampleRate is the preferred sample rate in Hz.
	SampleRate float64
	// BlockSize is the preferred number of frames delivered per block.
	BlockSize int
}

// AudioOnly returns constraints for the default audio device.
func AudioOnly(sampleRate float64, blockSize int) Constraints {
	return Constraints{
		Audio:      true,
		SampleRate: sampleRate,
		BlockSize:  blockSize,
	}
}

func (c Constraints) validate() error {
	if c.Video {
		return ErrVideoUnsupported
	}
	if !c.Audio {
		return errors.New("constraints request no audio")
	}
	return nil
}

// Sink receives mono sample blocks from a Stream. The block is only valid for
// the duration of the call.
type Sink interface {
	Process(block []float64)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(block []float64)

// Process calls f.
func (f SinkFunc) Process(block []float64) { f(block) }

// Stream is a live microphone input.
type Stream interface {
	// SampleRate returns the actual sample rate of the stream.
	SampleRate() float64
	// Run delivers blocks to sink until ctx is canceled or the stream ends.
	Run(ctx context.Context, sink Sink) error
	// Close releases the device.
	Close() error
}

// Func is a capture function that returns the stream directly.
type Func func(ctx context.Context, c Constraints) (Stream, error)

// LegacyFunc is a capture function that reports its outcome through
// callbacks. Exactly one of onStream or onError is expected to be called,
// possibly from another goroutine.
type LegacyFunc func(c Constraints, onStream func(Stream), onError func(error))

// Strategy is a named way of capturing audio. Probe reports the capture
// function the host offers under this name, or nil if it has none.
type Strategy struct {
	Name  string
	Probe func() Func
}

// Legacy returns a Strategy whose probed function is callback based. The
// callbacks are bridged onto a Func.
func Legacy(name string, probe func() LegacyFunc) Strategy {
	return Strategy{
		Name: name,
		Probe: func() Func {
			fn := probe()
			if fn == nil {
				return nil
			}
			return bridge(fn)
		},
	}
}

// bridge turns a callback based capture function into a blocking one. The
// first callback wins; later ones are dropped. A stream delivered after the
// caller gave up is closed.
func bridge(fn LegacyFunc) Func {
	return func(ctx context.Context, c Constraints) (Stream, error) {
		type outcome struct {
			stream Stream
			err    error
		}

		var once sync.Once
		done := make(chan outcome, 1)

		fn(c,
			func(s Stream) { once.Do(func() { done <- outcome{stream: s} }) },
			func(err error) { once.Do(func() { done <- outcome{err: err} }) },
		)

		select {
		case o := <-done:
			return o.stream, o.err
		case <-ctx.Done():
			// The host may still answer; release whatever it hands back.
			go func() {
				if o := <-done; o.stream != nil {
					o.stream.Close()
				}
			}()
			return nil, ctx.Err()
		}
	}
}

// Select probes strategies in order and returns the first available one.
// ok is false if none of them is available.
func Select(strategies []Strategy) (name string, fn Func, ok bool) {
	for _, s := range strategies {
		if s.Probe == nil {
			continue
		}
		if fn := s.Probe(); fn != nil {
			return s.Name, fn, true
		}
	}
	return "", nil, false
}

// Result is the outcome of a capture request.
type Result struct {
	Stream Stream
	Err    error
}

// Adapter is the normalized capture entry point.
type Adapter struct {
	name string
	fn   Func
}

// New creates an Adapter from the first available strategy. An Adapter with
// no available strategy is still valid; its requests fail with
// ErrUnsupported.
func New(strategies ...Strategy) *Adapter {
	name, fn, _ := Select(strategies)
	return &Adapter{name: name, fn: fn}
}

// Strategy returns the name of the selected strategy, or an empty string if
// capture is unsupported.
func (a *Adapter) Strategy() string {
	return a.name
}

// Supported reports whether any strategy was found.
func (a *Adapter) Supported() bool {
	return a.fn != nil
}

// Request asks for a microphone stream asynchronously. The returned channel
// receives exactly one Result and is never closed without one.
func (a *Adapter) Request(ctx context.Context, c Constraints) <-chan Result {
	ch := make(chan Result, 1)

	if err := c.validate(); err != nil {
		ch <- Result{Err: err}
		return ch
	}

	if a.fn == nil {
		ch <- Result{Err: ErrUnsupported}
		return ch
	}

	go func() {
		ch <- a.call(ctx, c)
	}()

	return ch
}

// RequestMicrophoneStream is the blocking form of Request. Strategies are
// expected to honor ctx.
func (a *Adapter) RequestMicrophoneStream(ctx context.Context, c Constraints) (Stream, error) {
	r := <-a.Request(ctx, c)
	return r.Stream, r.Err
}

func (a *Adapter) call(ctx context.Context, c Constraints) (r Result) {
	defer func() {
		if v := recover(); v != nil {
			r = Result{Err: &Error{
				Kind:     Generic,
				Strategy: a.name,
				Err:      fmt.Errorf("capture panicked: %v", v),
			}}
		}
	}()

	s, err := a.fn(ctx, c)
	switch {
	case err != nil:
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Result{Err: err}
		}
		return Result{Err: classify(a.name, err)}
	case s == nil:
		return Result{Err: &Error{Kind: Generic, Strategy: a.name, Err: errors.New("no stream returned")}}
	case ctx.Err() != nil:
		s.Close()
		return Result{Err: ctx.Err()}
	default:
		return Result{Stream: s}
	}
}
