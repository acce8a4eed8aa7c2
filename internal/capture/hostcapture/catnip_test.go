package hostcapture

import (
	"context"
	"errors"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/noriah/catnip/input"
	"libdb.so/micvis/internal/capture"
)

type fakeDevice string

func (d fakeDevice) String() string { return string(d) }

type fakeBackend struct {
	deviceErr error
	session   *fakeSession
}

func (b *fakeBackend) Init() error  { return nil }
func (b *fakeBackend) Close() error { return nil }

func (b *fakeBackend) Devices() ([]input.Device, error) {
	return []input.Device{fakeDevice("mic")}, nil
}

func (b *fakeBackend) DefaultDevice() (input.Device, error) {
	return fakeDevice("default"), b.deviceErr
}

func (b *fakeBackend) Start(cfg input.SessionConfig) (input.Session, error) {
	b.session.cfg = cfg
	return b.session, nil
}

// fakeSession writes its blocks into the shared buffer one at a time. It
// waits on next before writing the following block.
type fakeSession struct {
	cfg    input.SessionConfig
	blocks [][]float64
	next   chan struct{}
	end    error
}

func (s *fakeSession) Start(ctx context.Context, dst [][]input.Sample, kick chan bool, mu *sync.Mutex) error {
	if s.end != nil {
		return s.end
	}

	for _, block := range s.blocks {
		mu.Lock()
		copy(dst[0], block)
		mu.Unlock()

		select {
		case kick <- true:
		case <-ctx.Done():
			return ctx.Err()
		}

		select {
		case <-s.next:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func stubLookPath(t *testing.T, found map[string]bool) {
	t.Helper()

	old := lookPath
	lookPath = func(file string) (string, error) {
		if found[file] {
			return "/usr/bin/" + file, nil
		}
		return "", exec.ErrNotFound
	}
	t.Cleanup(func() { lookPath = old })
}

func TestCatnipProbeSkipsMissingTool(t *testing.T) {
	backend := input.NamedBackend{Name: "parec", Backend: &fakeBackend{}}

	stubLookPath(t, nil)
	if fn := catnipStrategy(backend).Probe(); fn != nil {
		t.Fatal("parec strategy available without the parec executable")
	}

	fallback := capture.Strategy{
		Name: PortAudioName,
		Probe: func() capture.Func {
			return func(context.Context, capture.Constraints) (capture.Stream, error) {
				return nil, nil
			}
		},
	}
	name, _, ok := capture.Select([]capture.Strategy{catnipStrategy(backend), fallback})
	if !ok || name != PortAudioName {
		t.Fatalf("selected %q, want the fallback %q", name, PortAudioName)
	}

	stubLookPath(t, map[string]bool{"parec": true})
	if fn := catnipStrategy(backend).Probe(); fn == nil {
		t.Fatal("parec strategy unavailable with the parec executable present")
	}
}

func TestCatnipProbeDeviceError(t *testing.T) {
	stubLookPath(t, nil)

	backend := input.NamedBackend{
		Name:    "custom",
		Backend: &fakeBackend{deviceErr: errors.New("no sound card")},
	}
	if fn := catnipStrategy(backend).Probe(); fn != nil {
		t.Fatal("strategy available without a default device")
	}
}

func TestBackendTool(t *testing.T) {
	tests := []struct {
		backend string
		tool    string
	}{
		{"pipewire", "pw-cat"},
		{"parec", "parec"},
		{"ffmpeg-alsa", "ffmpeg"},
		{"ffmpeg-pulse", "ffmpeg"},
		{"portaudio", ""},
	}

	for _, test := range tests {
		if got := backendTool(test.backend); got != test.tool {
			t.Errorf("%s: got %q, want %q", test.backend, got, test.tool)
		}
	}
}

func TestCatnipStreamRun(t *testing.T) {
	session := &fakeSession{
		blocks: [][]float64{{1, 2, 3, 4}, {5, 6, 7, 8}},
		next:   make(chan struct{}),
	}
	backend := input.NamedBackend{Name: "custom", Backend: &fakeBackend{session: session}}

	stream, err := startCatnip(backend, capture.AudioOnly(48000, 4))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	if rate := stream.SampleRate(); rate != 48000 {
		t.Errorf("sample rate %v, want 48000", rate)
	}
	if session.cfg.FrameSize != 1 || session.cfg.SampleSize != 4 {
		t.Errorf("session config %+v, want mono blocks of 4", session.cfg)
	}

	received := make(chan []float64, len(session.blocks))
	sink := capture.SinkFunc(func(block []float64) {
		received <- append([]float64(nil), block...)
		go func() { session.next <- struct{}{} }()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- stream.Run(ctx, sink) }()

	for i, want := range session.blocks {
		select {
		case got := <-received:
			for j := range want {
				if got[j] != want[j] {
					t.Fatalf("block %d is %v, want %v", i, got, want)
				}
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("block %d never arrived", i)
		}
	}

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop")
	}
}

func TestCatnipStreamSessionFailure(t *testing.T) {
	session := &fakeSession{end: errors.New("ffmpeg exited")}
	backend := input.NamedBackend{Name: "custom", Backend: &fakeBackend{session: session}}

	stream, err := startCatnip(backend, capture.AudioOnly(44100, 8))
	if err != nil {
		t.Fatal(err)
	}
	defer stream.Close()

	err = stream.Run(context.Background(), capture.SinkFunc(func([]float64) {}))
	if err == nil {
		t.Fatal("expected an error when the session fails")
	}
}
