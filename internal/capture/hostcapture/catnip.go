package hostcapture

import (
	"context"
	"os/exec"
	"strings"
	"sync"

	"github.com/noriah/catnip/input"
	"github.com/pkg/errors"
	"libdb.so/micvis/internal/capture"
)

// lookPath finds the executable a backend shells out to.
var lookPath = exec.LookPath

// backendTool returns the executable the named catnip backend runs, or an
// empty string if it runs none.
func backendTool(name string) string {
	switch {
	case name == "pipewire":
		return "pw-cat"
	case name == "parec":
		return "parec"
	case strings.HasPrefix(name, "ffmpeg-"):
		return "ffmpeg"
	default:
		return ""
	}
}

// catnipAvailable reports whether b can capture on this host. Catnip's
// backends initialize without touching the system, so the executable behind
// them is looked up first.
func catnipAvailable(b input.NamedBackend) bool {
	if tool := backendTool(b.Name); tool != "" {
		if _, err := lookPath(tool); err != nil {
			return false
		}
	}
	if err := b.Init(); err != nil {
		return false
	}
	if _, err := b.DefaultDevice(); err != nil {
		return false
	}
	return true
}

func catnipStrategy(b input.NamedBackend) capture.Strategy {
	return capture.Strategy{
		Name: "catnip/" + b.Name,
		Probe: func() capture.Func {
			if !catnipAvailable(b) {
				return nil
			}
			return func(ctx context.Context, c capture.Constraints) (capture.Stream, error) {
				return startCatnip(b, c)
			}
		},
	}
}

func startCatnip(b input.NamedBackend, c capture.Constraints) (capture.Stream, error) {
	device, err := input.GetDevice(b.Backend, c.Device)
	if err != nil {
		return nil, wrapDevice(err, c.Device)
	}

	cfg := input.SessionConfig{
		Device:     device,
		FrameSize:  1,
		SampleSize: c.BlockSize,
		SampleRate: c.SampleRate,
	}
	if cfg.SampleSize <= 0 {
		cfg.SampleSize = 512
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}

	session, err := b.Start(cfg)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to start %s session", b.Name)
	}

	return &catnipStream{
		backend: b.Backend,
		session: session,
		cfg:     cfg,
	}, nil
}

// catnipStream reads mono blocks from a catnip session. The session fills a
// shared buffer under a mutex and kicks a channel after every block.
type catnipStream struct {
	backend input.Backend
	session input.Session
	cfg     input.SessionConfig
	close   sync.Once
}

func (s *catnipStream) SampleRate() float64 {
	return s.cfg.SampleRate
}

func (s *catnipStream) Run(ctx context.Context, sink capture.Sink) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var mu sync.Mutex
	buf := input.MakeBuffers(s.cfg.FrameSize, s.cfg.SampleSize)
	block := make([]float64, s.cfg.SampleSize)
	kick := make(chan bool, 1)

	sessionErr := make(chan error, 1)
	go func() {
		sessionErr <- s.session.Start(ctx, buf, kick, &mu)
	}()

	for {
		select {
		case <-ctx.Done():
			<-sessionErr
			return ctx.Err()

		case err := <-sessionErr:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err != nil {
				return errors.Wrap(err, "catnip session failed")
			}
			return errors.New("catnip session ended")

		case <-kick:
			mu.Lock()
			copy(block, buf[0])
			mu.Unlock()
			sink.Process(block)
		}
	}
}

func (s *catnipStream) Close() error {
	var err error
	s.close.Do(func() { err = s.backend.Close() })
	return err
}
