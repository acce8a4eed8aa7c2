// Package ledstrip mirrors the spectrum onto an LED strip driven by a
// controller on a serial port.
package ledstrip

import (
	"context"
	"fmt"
	"image/color"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
	"golang.org/x/sync/errgroup"
	"libdb.so/micvis/ledserial"
)

// Height is the logical height of a strip surface. A bar as tall as the
// surface lights its LEDs at full brightness.
const Height = 100

// Config configures a strip.
type Config struct {
	// Device is the serial device, e.g. /dev/ttyUSB0.
	Device string
	// Baud is the serial baud rate.
	Baud int
	// Count is the number of LEDs.
	Count int
	// AckTimeout is how long to wait for the controller to acknowledge a
	// packet before the next frame is sent anyway.
	AckTimeout time.Duration
}

// Port is a serial connection to the controller.
type Port io.ReadWriteCloser

// Strip is an LED strip surface. Drawing calls update a back buffer; Present
// hands the buffer to Run, which sends it to the controller as soon as the
// previous frame was acknowledged. Frames presented in between are dropped
// except for the latest one.
type Strip struct {
	cfg    Config
	logger *slog.Logger
	open   func() (Port, error)

	// startDelay gives the controller time to reset after the port opens.
	startDelay time.Duration

	back LEDs

	mu      sync.Mutex
	latest  LEDs
	refresh chan struct{}
}

// New creates a strip that talks to the controller over a serial port.
func New(cfg Config, logger *slog.Logger) *Strip {
	return newStrip(cfg, logger, func() (Port, error) {
		return serial.Open(cfg.Device, &serial.Mode{
			BaudRate: cfg.Baud,
		})
	})
}

func newStrip(cfg Config, logger *slog.Logger, open func() (Port, error)) *Strip {
	return &Strip{
		cfg:        cfg,
		logger:     logger.With("leds", cfg.Device),
		open:       open,
		startDelay: 100 * time.Millisecond,
		back:       NewLEDs(cfg.Count),
		latest:     NewLEDs(cfg.Count),
		refresh:    make(chan struct{}, 1),
	}
}

func (s *Strip) Size() (int, int) {
	return s.cfg.Count, Height
}

func (s *Strip) Clear(c color.RGBA) {
	s.back.Fill(FromRGBA(c, 1))
}

// FillRect lights the LEDs under [x, x+w). The brightness follows the
// rectangle's height; where rectangles overlap the brightest wins.
func (s *Strip) FillRect(x, _, w, h float64, c color.RGBA) {
	start := int(math.Floor(x))
	end := int(math.Ceil(x + w))
	if end <= start {
		end = start + 1
	}
	s.back.Max(start, end, FromRGBA(c, h/Height))
}

// FillText does nothing. A strip has no room for text.
func (s *Strip) FillText(string, float64, float64, color.RGBA) {}

// Present queues the current frame for sending.
func (s *Strip) Present() error {
	s.mu.Lock()
	copy(s.latest, s.back)
	s.mu.Unlock()

	select {
	case s.refresh <- struct{}{}:
	default:
	}
	return nil
}

// Run opens the port and streams frames to the controller. It blocks until
// the given context is canceled or the controller reports an error.
func (s *Strip) Run(ctx context.Context) error {
	port, err := s.open()
	if err != nil {
		return errors.Wrap(err, "failed to open serial port")
	}
	defer port.Close()

	errg, ctx := errgroup.WithContext(ctx)
	errg.Go(func() error {
		<-ctx.Done()
		s.logger.Debug("closing serial port")
		if err := port.Close(); err != nil {
			return errors.Wrap(err, "failed to close serial port")
		}
		return ctx.Err()
	})

	packets := make(chan ledserial.OutgoingPacket)
	errg.Go(func() error {
		return s.mainLoop(ctx, port, packets)
	})
	errg.Go(func() error {
		return s.readPackets(ctx, port, packets)
	})

	return errg.Wait()
}

func (s *Strip) mainLoop(ctx context.Context, port Port, packets <-chan ledserial.OutgoingPacket) error {
	if s.startDelay > 0 {
		s.logger.Debug("waiting for the controller to start", "delay", s.startDelay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.startDelay):
		}
	}

	ackTimer := time.NewTimer(s.cfg.AckTimeout)
	defer ackTimer.Stop()

	stopAckTimer := func() {
		if !ackTimer.Stop() {
			select {
			case <-ackTimer.C:
			default:
			}
		}
	}
	awaitAck := func() {
		stopAckTimer()
		ackTimer.Reset(s.cfg.AckTimeout)
	}

	s.logger.Debug("sending initialize packet")
	if err := s.writePacket(port, ledserial.InitializePacket{
		NumLEDs: uint16(s.cfg.Count),
	}); err != nil {
		return errors.Wrap(err, "failed to initialize LEDs")
	}
	awaitAck()

	frame := NewLEDs(s.cfg.Count)
	ready := false   // controller acked the last packet
	pending := false // a frame was presented while waiting

	sendFrame := func() error {
		s.mu.Lock()
		copy(frame, s.latest)
		s.mu.Unlock()

		if err := s.writePacket(port, ledserial.SetPacket{Pix: frame.AsPixels()}); err != nil {
			return err
		}
		ready = false
		pending = false
		awaitAck()
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-s.refresh:
			if !ready {
				pending = true
				continue
			}
			if err := sendFrame(); err != nil {
				return err
			}

		case <-ackTimer.C:
			s.logger.Warn(
				"timed out waiting for ack from controller",
				"timeout", s.cfg.AckTimeout)
			ready = true
			if pending {
				if err := sendFrame(); err != nil {
					return err
				}
			}

		case p := <-packets:
			switch p := p.(type) {
			case ledserial.AckPacket:
				s.logger.Debug(
					"received ack packet from controller",
					"acked_for", p.IncomingPacketType)
				stopAckTimer()
				ready = true
				if pending {
					if err := sendFrame(); err != nil {
						return err
					}
				}

			case ledserial.ErrorPacket:
				s.logger.Warn(
					"received error packet from controller",
					"message", p.Message)
				return errors.New("controller reported error")

			case ledserial.PanicPacket:
				s.logger.Error(
					"controller unrecoverably panicked",
					"message", p.Message)
				return errors.New("controller panicked")

			case ledserial.LogPacket:
				s.logger.Info(
					"received log packet from controller",
					"message", p.Message)

			default:
				return fmt.Errorf("received unknown packet from controller: %s", p.Type())
			}
		}
	}
}

func (s *Strip) readPackets(ctx context.Context, port Port, dst chan<- ledserial.OutgoingPacket) error {
	if p, ok := port.(interface{ SetReadTimeout(time.Duration) error }); ok {
		if err := p.SetReadTimeout(serial.NoTimeout); err != nil {
			return errors.Wrap(err, "failed to reset read timeout")
		}
	}

	for ctx.Err() == nil {
		p, err := ledserial.ReadOutgoingPacket(port)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			// A short read indicates a timeout. Try again.
			if errors.Is(err, io.EOF) {
				continue
			}
			return errors.Wrap(err, "failed to read packet")
		}

		s.logger.Debug(
			"received packet from controller",
			"type", p.Type())

		select {
		case <-ctx.Done():
			return ctx.Err()
		case dst <- p:
		}
	}

	return ctx.Err()
}

func (s *Strip) writePacket(port Port, p ledserial.IncomingPacket) error {
	s.logger.Debug(
		"writing packet",
		"type", p.Type())

	if err := ledserial.WriteIncomingPacket(port, p); err != nil {
		s.logger.Warn(
			"failed to write packet",
			"packet", p.Type(),
			"error", err)
		return err
	}
	return nil
}
