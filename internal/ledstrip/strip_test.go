package ledstrip

import (
	"bytes"
	"context"
	"image/color"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"libdb.so/micvis/ledserial"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var red = color.RGBA{255, 50, 50, 255}

func TestFillRect(t *testing.T) {
	s := newStrip(Config{Count: 10}, discardLogger, nil)
	s.Clear(color.RGBA{0, 0, 0, 255})

	s.FillRect(2, 50, 3, 50, red)    // half height
	s.FillRect(4, 0, 1, 100, red)    // full height, overlapping LED 4
	s.FillRect(9.5, 0, 5, 100, red)  // clipped at the end
	s.FillRect(7.2, 0, 0.1, 20, red) // narrower than an LED

	want := LEDs{
		{}, {},
		{127, 25, 25}, {127, 25, 25}, {255, 50, 50},
		{}, {},
		{51, 10, 10},
		{},
		{255, 50, 50},
	}
	for i := range want {
		if s.back[i] != want[i] {
			t.Errorf("LED %d is %v, want %v", i, s.back[i], want[i])
		}
	}

	s.Clear(color.RGBA{0, 0, 0, 255})
	for i, c := range s.back {
		if c != (RGBColor{}) {
			t.Errorf("LED %d is %v after clear", i, c)
		}
	}
}

// controller plays the device side of a strip over an in-memory pipe.
type controller struct {
	t    *testing.T
	conn net.Conn
	ctx  ledserial.ReadContext
}

func (c *controller) read() ledserial.IncomingPacket {
	c.t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	p, err := ledserial.ReadIncomingPacket(c.conn, c.ctx)
	if err != nil {
		c.t.Fatal("controller read:", err)
	}
	return p
}

func (c *controller) write(p ledserial.OutgoingPacket) {
	c.t.Helper()
	c.conn.SetDeadline(time.Now().Add(5 * time.Second))
	if err := ledserial.WriteOutgoingPacket(c.conn, p); err != nil {
		c.t.Fatal("controller write:", err)
	}
}

func startStrip(t *testing.T, count int) (*Strip, *controller, <-chan error) {
	t.Helper()
	return startStripWith(t, Config{Device: "pipe", Count: count, AckTimeout: time.Minute}, discardLogger)
}

func startStripWith(t *testing.T, cfg Config, logger *slog.Logger) (*Strip, *controller, <-chan error) {
	t.Helper()

	host, device := net.Pipe()
	t.Cleanup(func() { device.Close() })

	s := newStrip(cfg, logger, func() (Port, error) { return host, nil })
	s.startDelay = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	stopped := make(chan struct{})
	go func() {
		done <- s.Run(ctx)
		close(stopped)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-stopped:
		case <-time.After(5 * time.Second):
			t.Error("strip did not stop")
		}
	})

	c := &controller{t: t, conn: device, ctx: ledserial.ReadContext{NumLEDs: uint16(cfg.Count)}}
	return s, c, done
}

func TestRunSendsFramesAfterAck(t *testing.T) {
	s, c, _ := startStrip(t, 3)

	ip, ok := c.read().(ledserial.InitializePacket)
	if !ok || ip.NumLEDs != 3 {
		t.Fatalf("first packet %#v, want initialize for 3 LEDs", ip)
	}

	// Presented before the controller is ready: held back until the ack.
	s.Clear(color.RGBA{0, 0, 0, 255})
	s.FillRect(1, 0, 1, 100, red)
	s.Present()

	c.write(ledserial.AckPacket{IncomingPacketType: ledserial.TypeInitializePacket})

	set, ok := c.read().(ledserial.SetPacket)
	if !ok {
		t.Fatal("expected a set packet")
	}
	want := []uint8{0, 0, 0, 255, 50, 50, 0, 0, 0}
	if string(set.Pix) != string(want) {
		t.Fatalf("pixels %v, want %v", set.Pix, want)
	}

	c.write(ledserial.AckPacket{IncomingPacketType: ledserial.TypeSetPacket})
	c.write(ledserial.LogPacket{Message: "frame applied"})

	s.Clear(color.RGBA{0, 0, 0, 255})
	s.Present()

	set, ok = c.read().(ledserial.SetPacket)
	if !ok {
		t.Fatal("expected a set packet")
	}
	if string(set.Pix) != string(make([]uint8, 9)) {
		t.Fatalf("pixels %v, want all off", set.Pix)
	}
}

func TestRunStopsOnControllerError(t *testing.T) {
	_, c, done := startStrip(t, 1)

	c.read()
	c.write(ledserial.ErrorPacket{Message: "bad checksum"})

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected an error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("strip kept running after a controller error")
	}
}

// lockedBuffer is a log sink shared with the strip's goroutines.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestPromptAckDoesNotTimeOut(t *testing.T) {
	var logs lockedBuffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	_, c, _ := startStripWith(t, Config{Device: "pipe", Count: 2, AckTimeout: 100 * time.Millisecond}, logger)

	c.read()
	c.write(ledserial.AckPacket{IncomingPacketType: ledserial.TypeInitializePacket})
	// Wait for the log line, which the strip writes after handling the
	// ack above.
	c.write(ledserial.LogPacket{Message: "idle"})

	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(logs.String(), "idle") {
		if time.Now().After(deadline) {
			t.Fatal("log packet never handled")
		}
		time.Sleep(time.Millisecond)
	}

	// No frame is queued, so nothing is waiting for an ack.
	time.Sleep(300 * time.Millisecond)

	if n := strings.Count(logs.String(), "timed out waiting for ack"); n != 0 {
		t.Fatalf("%d ack timeouts logged after a prompt ack", n)
	}
}
