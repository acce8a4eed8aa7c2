package visualizer

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Scheduler runs callbacks once before the next displayed frame.
type Scheduler interface {
	// RequestFrame arranges for fn to be called once on the next frame. It
	// never calls fn synchronously. The returned function cancels the request
	// if it has not run yet.
	RequestFrame(fn func()) (cancel func())
}

// TickerScheduler is a Scheduler paced by a fixed frame rate. Callbacks run
// on the goroutine calling Run, or on whichever goroutine calls Step.
type TickerScheduler struct {
	interval time.Duration

	mu      sync.Mutex
	pending map[uint64]func()
	next    uint64
}

var _ Scheduler = (*TickerScheduler)(nil)

// NewTickerScheduler creates a scheduler running rate frames per second.
func NewTickerScheduler(rate int) *TickerScheduler {
	if rate <= 0 {
		rate = 60
	}
	return &TickerScheduler{
		interval: time.Second / time.Duration(rate),
		pending:  make(map[uint64]func()),
	}
}

func (s *TickerScheduler) RequestFrame(fn func()) func() {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	s.pending[id] = fn

	return func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	}
}

// Pending returns the number of callbacks waiting for the next frame.
func (s *TickerScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Step runs one frame: every callback requested before the call runs once.
// Callbacks requested while stepping wait for the next frame. It returns the
// number of callbacks run.
func (s *TickerScheduler) Step() int {
	s.mu.Lock()
	due := s.pending
	s.pending = make(map[uint64]func())
	s.mu.Unlock()

	for _, fn := range due {
		fn()
	}
	return len(due)
}

// Run steps once per frame interval until ctx is canceled.
func (s *TickerScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// FrameSource provides frequency frames.
type FrameSource interface {
	FrequencyBinCount() int
	ByteFrequencyData(dst []uint8)
}

// LoopState is the state of a Loop.
type LoopState uint8

const (
	// Idle means no frame is scheduled.
	Idle LoopState = iota
	// Running means exactly one frame is scheduled.
	Running
)

func (s LoopState) String() string {
	switch s {
	case Idle:
		return "idle"
	case Running:
		return "running"
	default:
		return "unknown"
	}
}

// Loop redraws the surface from the frame source on every frame.
type Loop struct {
	src     FrameSource
	surface Surface
	sched   Scheduler
	cfg     Config
	logger  *slog.Logger

	// PauseWhen, if set, is checked at the start of every frame. A frame
	// that finds it true stops the loop without drawing.
	PauseWhen func() bool

	frame []uint8

	mu     sync.Mutex
	state  LoopState
	cancel func()
	drawn  uint64
}

// NewLoop creates an idle loop.
func NewLoop(src FrameSource, surface Surface, sched Scheduler, cfg Config, logger *slog.Logger) *Loop {
	return &Loop{
		src:     src,
		surface: surface,
		sched:   sched,
		cfg:     cfg,
		logger:  logger,
		frame:   make([]uint8, src.FrequencyBinCount()),
	}
}

// Start schedules the first frame. Starting a running loop does nothing, so
// at most one frame is ever scheduled. It reports whether the loop was
// started by this call.
func (l *Loop) Start() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state == Running {
		l.logger.Debug("visualizer already running")
		return false
	}

	l.state = Running
	l.cancel = l.sched.RequestFrame(l.frameCallback)
	l.logger.Debug("visualizer started")
	return true
}

// Stop cancels the scheduled frame.
func (l *Loop) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.state != Running {
		return
	}

	l.state = Idle
	l.cancel()
	l.cancel = nil
	l.logger.Debug("visualizer stopped")
}

// State returns the loop state.
func (l *Loop) State() LoopState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Frames returns the number of frames drawn so far.
func (l *Loop) Frames() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.drawn
}

func (l *Loop) frameCallback() {
	l.mu.Lock()
	if l.state != Running {
		l.mu.Unlock()
		return
	}
	if l.PauseWhen != nil && l.PauseWhen() {
		l.state = Idle
		l.cancel = nil
		l.mu.Unlock()
		l.logger.Debug("visualizer paused")
		return
	}
	// Schedule the next frame before drawing this one.
	l.cancel = l.sched.RequestFrame(l.frameCallback)
	l.mu.Unlock()

	l.src.ByteFrequencyData(l.frame)
	Draw(l.surface, l.frame, l.cfg)

	if err := l.surface.Present(); err != nil {
		l.logger.Warn(
			"failed to present frame",
			"error", err)
	}

	l.mu.Lock()
	l.drawn++
	l.mu.Unlock()
}
