package hostcapture

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
	"libdb.so/micvis/internal/capture"
	"libdb.so/micvis/internal/pahost"
)

// portAudioStrategy opens the input device through PortAudio's callback API.
// PortAudio reports the outcome of opening a device synchronously, so the
// callbacks are invoked from a separate goroutine to match the legacy shape.
func portAudioStrategy() capture.Strategy {
	return capture.Legacy(PortAudioName, func() capture.LegacyFunc {
		release, err := pahost.Acquire()
		if err != nil {
			return nil
		}
		defer release()

		if _, err := portaudio.DefaultInputDevice(); err != nil {
			return nil
		}

		return func(c capture.Constraints, onStream func(capture.Stream), onError func(error)) {
			go func() {
				s, err := openPortAudio(c)
				if err != nil {
					onError(err)
					return
				}
				onStream(s)
			}()
		}
	})
}

func inputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, errors.Wrap(err, "failed to list devices")
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}

	return nil, errors.Wrapf(capture.ErrDeviceNotFound, "no input device named %q", name)
}

func openPortAudio(c capture.Constraints) (capture.Stream, error) {
	release, err := pahost.Acquire()
	if err != nil {
		return nil, err
	}

	device, err := inputDevice(c.Device)
	if err != nil {
		release()
		return nil, err
	}

	params := portaudio.LowLatencyParameters(device, nil)
	params.Input.Channels = 1
	if c.SampleRate > 0 {
		params.SampleRate = c.SampleRate
	}
	if c.BlockSize > 0 {
		params.FramesPerBuffer = c.BlockSize
	}

	s := &portAudioStream{
		rate:    params.SampleRate,
		blocks:  make(chan []float64, 8),
		release: release,
	}

	stream, err := portaudio.OpenStream(params, s.callback)
	if err != nil {
		release()
		return nil, errors.Wrap(err, "failed to open input stream")
	}

	if err := stream.Start(); err != nil {
		stream.Close()
		release()
		return nil, errors.Wrap(err, "failed to start input stream")
	}

	s.stream = stream
	return s, nil
}

type portAudioStream struct {
	stream  *portaudio.Stream
	rate    float64
	blocks  chan []float64
	release func()
	close   sync.Once
}

// callback runs on the PortAudio thread. Blocks are dropped when the reader
// falls behind.
func (s *portAudioStream) callback(in []float32) {
	block := make([]float64, len(in))
	for i, v := range in {
		block[i] = float64(v)
	}

	select {
	case s.blocks <- block:
	default:
	}
}

func (s *portAudioStream) SampleRate() float64 {
	return s.rate
}

func (s *portAudioStream) Run(ctx context.Context, sink capture.Sink) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block := <-s.blocks:
			sink.Process(block)
		}
	}
}

func (s *portAudioStream) Close() error {
	var err error
	s.close.Do(func() {
		defer s.release()
		if stopErr := s.stream.Stop(); stopErr != nil {
			err = errors.Wrap(stopErr, "failed to stop input stream")
		}
		if closeErr := s.stream.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, "failed to close input stream")
		}
	})
	return err
}
