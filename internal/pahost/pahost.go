// Package pahost reference counts PortAudio initialization so that capture and
// playback can share the library.
package pahost

import (
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/pkg/errors"
)

var (
	mu   sync.Mutex
	refs int
)

// Acquire initializes PortAudio if needed. Every successful Acquire must be
// paired with a call to the returned release function.
func Acquire() (release func(), err error) {
	mu.Lock()
	defer mu.Unlock()

	if refs == 0 {
		if err := portaudio.Initialize(); err != nil {
			return nil, errors.Wrap(err, "failed to initialize portaudio")
		}
	}
	refs++

	var once sync.Once
	return func() { once.Do(releaseRef) }, nil
}

func releaseRef() {
	mu.Lock()
	defer mu.Unlock()

	refs--
	if refs == 0 {
		portaudio.Terminate()
	}
}
