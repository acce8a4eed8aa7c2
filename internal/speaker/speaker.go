// Package speaker plays the end of the audio graph on the default output
// device through PortAudio's blocking API.
package speaker

import (
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
	"libdb.so/micvis/internal/pahost"
)

// Output is an audiograph.Destination writing to the default output device.
type Output struct {
	stream  *portaudio.Stream
	buf     []float32
	release func()
	close   sync.Once
}

// Open opens the default output device for mono playback.
func Open(sampleRate float64, blockSize int) (*Output, error) {
	release, err := pahost.Acquire()
	if err != nil {
		return nil, err
	}

	o := &Output{
		buf:     make([]float32, blockSize),
		release: release,
	}

	stream, err := portaudio.OpenDefaultStream(0, 1, sampleRate, blockSize, o.buf)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "failed to open output stream")
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, errors.Wrap(err, "failed to start output stream")
	}

	o.stream = stream
	return o, nil
}

// Write plays block. Blocks longer than the device buffer are split; the
// remainder of a short block is padded with silence.
func (o *Output) Write(block []float64) error {
	for len(block) > 0 {
		n := len(block)
		if n > len(o.buf) {
			n = len(o.buf)
		}

		for i := range o.buf {
			if i < n {
				o.buf[i] = float32(block[i])
			} else {
				o.buf[i] = 0
			}
		}

		if err := o.stream.Write(); err != nil && !errors.Is(err, portaudio.OutputUnderflowed) {
			return errors.Wrap(err, "failed to write output stream")
		}

		block = block[n:]
	}
	return nil
}

// Close stops playback and releases the device.
func (o *Output) Close() error {
	var err error
	o.close.Do(func() {
		defer o.release()
		if stopErr := o.stream.Stop(); stopErr != nil {
			err = errors.Wrap(stopErr, "failed to stop output stream")
		}
		if closeErr := o.stream.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close output stream")
		}
	})
	return err
}
