// Package micvis listens to the microphone and draws its frequency spectrum
// as an animated bar chart.
package micvis

import (
	"context"
	"log/slog"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"libdb.so/micvis/internal/audiograph"
	"libdb.so/micvis/internal/capture"
	"libdb.so/micvis/internal/visualizer"
)

// Scheduler paces the visualizer. Run drives the frames until ctx is
// canceled.
type Scheduler interface {
	visualizer.Scheduler
	Run(ctx context.Context) error
}

// Mirror is a secondary surface with its own lifetime, such as an LED strip.
type Mirror interface {
	visualizer.Surface
	Run(ctx context.Context) error
}

// OutputOpener opens the audio destination for a stream.
type OutputOpener func(sampleRate float64, blockSize int) (audiograph.Destination, error)

// Host holds the host specific collaborators of a session.
type Host struct {
	// Page is where the session draws and reads input from.
	Page Page
	// Capture obtains the microphone stream.
	Capture *capture.Adapter
	// OpenOutput opens the speakers. If nil, audio is discarded after
	// analysis.
	OpenOutput OutputOpener
	// Mirrors receive a rescaled copy of every frame.
	Mirrors []Mirror
	// Scheduler paces frames. If nil, a ticker at the configured rate is
	// used.
	Scheduler Scheduler
}

// Session is one run of micvis: it waits for the first click, then captures
// the microphone, wires the audio graph and starts the visualizer.
type Session struct {
	cfg    *Config
	host   Host
	logger *slog.Logger

	started chan struct{}

	// Owned by the event loop.
	initialized bool
	graph       *audiograph.Graph
	loop        *visualizer.Loop
	mute        *MuteController
}

// NewSession creates a new session.
func NewSession(cfg *Config, host Host, logger *slog.Logger) (*Session, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}
	if host.Page == nil {
		return nil, errors.New("session needs a page")
	}
	if host.Capture == nil {
		host.Capture = capture.New()
	}
	if host.Scheduler == nil {
		host.Scheduler = visualizer.NewTickerScheduler(cfg.Rate)
	}

	return &Session{
		cfg:     cfg,
		host:    host,
		logger:  logger,
		started: make(chan struct{}),
	}, nil
}

// Started is closed once the microphone is live and the visualizer runs.
// It is never closed if capture fails.
func (s *Session) Started() <-chan struct{} {
	return s.started
}

// Run runs the session. It blocks until ctx is canceled or the user quits.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		return s.host.Page.Run(ctx)
	})
	errg.Go(func() error {
		return s.host.Scheduler.Run(ctx)
	})
	for _, m := range s.host.Mirrors {
		m := m
		errg.Go(func() error {
			if err := m.Run(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error(
					"mirror stopped, continuing without it",
					"error", err)
			}
			return nil
		})
	}
	errg.Go(func() error {
		defer cancel()
		return s.eventLoop(ctx, errg)
	})

	err := errg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (s *Session) eventLoop(ctx context.Context, errg *errgroup.Group) error {
	var captured <-chan capture.Result // nil before the first click and after the result is read
	defer func() { s.shutdown(captured) }()

	page := s.host.Page
	page.SetHeading(StartHeading)
	page.SetMuteLabel(MuteLabel)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev := <-page.Events():
			s.logger.Debug("handling event", "kind", ev.Kind)

			switch ev.Kind {
			case BackgroundClick:
				if s.initialized {
					continue
				}
				s.initialized = true
				page.SetHeading(ListeningHeading)
				captured = s.host.Capture.Request(ctx, s.constraints())

			case MuteClick:
				// The control does nothing until the pipeline runs.
				if s.mute != nil {
					s.mute.Toggle()
				}

			case Quit:
				return nil
			}

		case r := <-captured:
			captured = nil
			if r.Err != nil {
				s.logger.Error(
					"microphone capture failed",
					"strategy", s.host.Capture.Strategy(),
					"error", r.Err)
				continue
			}
			s.startPipeline(ctx, errg, r.Stream)
		}
	}
}

func (s *Session) constraints() capture.Constraints {
	c := capture.AudioOnly(s.cfg.Capture.SampleRate, s.cfg.Capture.BlockSize)
	c.Device = s.cfg.Capture.Device
	return c
}

func (s *Session) startPipeline(ctx context.Context, errg *errgroup.Group, stream capture.Stream) {
	s.logger.Info(
		"microphone capture started",
		"strategy", s.host.Capture.Strategy(),
		"sample_rate", stream.SampleRate())

	var dest audiograph.Destination
	if s.host.OpenOutput != nil {
		out, err := s.host.OpenOutput(stream.SampleRate(), s.cfg.Capture.BlockSize)
		if err != nil {
			s.logger.Warn(
				"failed to open audio output, continuing without it",
				"error", err)
		} else {
			dest = out
		}
	}

	graph := audiograph.Build(stream, dest, s.logger)
	errg.Go(func() error {
		defer func() {
			if err := graph.Close(); err != nil {
				s.logger.Warn(
					"failed to close audio graph",
					"error", err)
			}
		}()
		if err := graph.Run(ctx); err != nil {
			s.logger.Error(
				"audio graph stopped",
				"error", err)
		}
		return nil
	})
	s.graph = graph

	surface := s.host.Page.Surface()
	if len(s.host.Mirrors) > 0 {
		mirrors := make([]visualizer.Surface, len(s.host.Mirrors))
		for i, m := range s.host.Mirrors {
			mirrors[i] = m
		}
		surface = visualizer.Tee(surface, mirrors...)
	}

	vcfg := s.cfg.Visualizer
	s.loop = visualizer.NewLoop(s.graph.Analyser(), surface, s.host.Scheduler, visualizer.Config{
		BarScale:    vcfg.BarScale,
		ShowValues:  vcfg.ShowValues,
		RedOverflow: vcfg.RedOverflow,
	}, s.logger)

	s.mute = NewMuteController(s.graph.Gain(), s.host.Page, s.logger)
	if vcfg.RestartOnUnmute {
		s.mute.unmuted = func() { s.loop.Start() }
	}
	if vcfg.PauseWhenMuted {
		s.loop.PauseWhen = s.mute.Muted
	}

	s.loop.Start()
	close(s.started)
}

// shutdown stops the visualizer. A capture request still in flight is
// released: its stream is closed as soon as it arrives.
func (s *Session) shutdown(captured <-chan capture.Result) {
	if s.loop != nil {
		s.loop.Stop()
	}

	if captured != nil {
		go func() {
			r := <-captured
			if r.Stream == nil {
				return
			}
			if err := r.Stream.Close(); err != nil {
				s.logger.Warn(
					"failed to close unused microphone stream",
					"error", err)
			}
		}()
	}
}
