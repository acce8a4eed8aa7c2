package capture

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
)

type fakeStream struct {
	closed atomic.Bool
}

func (s *fakeStream) SampleRate() float64                       { return 48000 }
func (s *fakeStream) Run(ctx context.Context, sink Sink) error { <-ctx.Done(); return ctx.Err() }
func (s *fakeStream) Close() error                              { s.closed.Store(true); return nil }

func unavailable(name string) Strategy {
	return Strategy{Name: name, Probe: func() Func { return nil }}
}

func native(name string, s Stream, err error) Strategy {
	return Strategy{Name: name, Probe: func() Func {
		return func(context.Context, Constraints) (Stream, error) { return s, err }
	}}
}

func TestRequestWithoutStrategies(t *testing.T) {
	a := New()
	if a.Supported() {
		t.Fatal("adapter with no strategies reports support")
	}

	var ch <-chan Result
	func() {
		defer func() {
			if v := recover(); v != nil {
				t.Fatalf("Request panicked: %v", v)
			}
		}()
		ch = a.Request(context.Background(), AudioOnly(44100, 512))
	}()

	r := <-ch
	if !errors.Is(r.Err, ErrUnsupported) {
		t.Fatalf("got error %v, want ErrUnsupported", r.Err)
	}
	if r.Stream != nil {
		t.Fatal("got a stream from an unsupported adapter")
	}
}

func TestRequestAllStrategiesUnavailable(t *testing.T) {
	a := New(unavailable("modern"), unavailable("webkit"), unavailable("moz"))
	_, err := a.RequestMicrophoneStream(context.Background(), AudioOnly(44100, 512))
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("got error %v, want ErrUnsupported", err)
	}
}

func TestSelectPriorityOrder(t *testing.T) {
	first := &fakeStream{}
	second := &fakeStream{}

	a := New(
		unavailable("modern"),
		native("webkit", first, nil),
		native("moz", second, nil),
	)
	if got := a.Strategy(); got != "webkit" {
		t.Fatalf("selected %q, want webkit", got)
	}

	s, err := a.RequestMicrophoneStream(context.Background(), AudioOnly(44100, 512))
	if err != nil {
		t.Fatal(err)
	}
	if s != first {
		t.Fatal("stream did not come from the first available strategy")
	}
}

func TestLegacyBridge(t *testing.T) {
	want := &fakeStream{}

	tests := []struct {
		name    string
		legacy  LegacyFunc
		wantErr error
		kind    ErrorKind
	}{
		{
			name: "success",
			legacy: func(_ Constraints, ok func(Stream), _ func(error)) {
				go ok(want)
			},
		},
		{
			name: "permission",
			legacy: func(_ Constraints, _ func(Stream), fail func(error)) {
				fail(errors.Wrap(ErrPermissionDenied, "user said no"))
			},
			wantErr: ErrCaptureFailed,
			kind:    PermissionDenied,
		},
		{
			name: "device",
			legacy: func(_ Constraints, _ func(Stream), fail func(error)) {
				fail(ErrDeviceNotFound)
			},
			wantErr: ErrCaptureFailed,
			kind:    DeviceNotFound,
		},
		{
			name: "generic",
			legacy: func(_ Constraints, _ func(Stream), fail func(error)) {
				fail(errors.New("device busy"))
			},
			wantErr: ErrCaptureFailed,
			kind:    Generic,
		},
		{
			name: "first callback wins",
			legacy: func(_ Constraints, ok func(Stream), fail func(error)) {
				ok(want)
				fail(errors.New("late failure"))
			},
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			a := New(unavailable("modern"), Legacy("legacy", func() LegacyFunc { return test.legacy }))
			if a.Strategy() != "legacy" {
				t.Fatalf("selected %q, want legacy", a.Strategy())
			}

			s, err := a.RequestMicrophoneStream(context.Background(), AudioOnly(44100, 512))
			if test.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if s != want {
					t.Fatal("got the wrong stream")
				}
				return
			}

			if !errors.Is(err, test.wantErr) {
				t.Fatalf("got error %v, want %v", err, test.wantErr)
			}

			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("error %v is not a *capture.Error", err)
			}
			if cerr.Kind != test.kind {
				t.Errorf("got kind %s, want %s", cerr.Kind, test.kind)
			}
			if cerr.Strategy != "legacy" {
				t.Errorf("got strategy %q, want legacy", cerr.Strategy)
			}
		})
	}
}

func TestLegacyBridgeCanceled(t *testing.T) {
	late := &fakeStream{}
	release := make(chan struct{})
	delivered := make(chan struct{})

	a := New(Legacy("legacy", func() LegacyFunc {
		return func(_ Constraints, ok func(Stream), _ func(error)) {
			go func() {
				<-release
				ok(late)
				close(delivered)
			}()
		}
	}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.RequestMicrophoneStream(ctx, AudioOnly(44100, 512))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got error %v, want context.Canceled", err)
	}

	close(release)
	<-delivered

	deadline := time.Now().Add(time.Second)
	for !late.closed.Load() {
		if time.Now().After(deadline) {
			t.Fatal("stream delivered after cancellation was not closed")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestRequestRejectsVideo(t *testing.T) {
	a := New(native("modern", &fakeStream{}, nil))

	c := AudioOnly(44100, 512)
	c.Video = true

	_, err := a.RequestMicrophoneStream(context.Background(), c)
	if !errors.Is(err, ErrVideoUnsupported) {
		t.Fatalf("got error %v, want ErrVideoUnsupported", err)
	}
}

func TestRequestRecoversPanic(t *testing.T) {
	a := New(Strategy{Name: "broken", Probe: func() Func {
		return func(context.Context, Constraints) (Stream, error) { panic("boom") }
	}})

	_, err := a.RequestMicrophoneStream(context.Background(), AudioOnly(44100, 512))
	if !errors.Is(err, ErrCaptureFailed) {
		t.Fatalf("got error %v, want ErrCaptureFailed", err)
	}
}
