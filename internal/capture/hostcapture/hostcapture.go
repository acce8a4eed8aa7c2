// Package hostcapture provides the capture strategies available on a desktop
// host: every catnip input backend, then PortAudio.
package hostcapture

import (
	"fmt"

	"github.com/noriah/catnip/input"
	"github.com/pkg/errors"
	"libdb.so/micvis/internal/capture"

	_ "github.com/noriah/catnip/input/all"
)

// PortAudioName is the strategy name of the PortAudio strategy.
const PortAudioName = "portaudio"

// Default returns every known strategy in priority order.
func Default() []capture.Strategy {
	strategies := make([]capture.Strategy, 0, len(input.Backends)+1)
	for _, b := range input.Backends {
		strategies = append(strategies, catnipStrategy(b))
	}
	strategies = append(strategies, portAudioStrategy())
	return strategies
}

// Names returns the names of all known strategies in priority order.
func Names() []string {
	strategies := Default()
	names := make([]string, len(strategies))
	for i, s := range strategies {
		names[i] = s.Name
	}
	return names
}

// Named returns the strategies with the given names in the given order. An
// empty list returns Default.
func Named(names []string) ([]capture.Strategy, error) {
	all := Default()
	if len(names) == 0 {
		return all, nil
	}

	byName := make(map[string]capture.Strategy, len(all))
	for _, s := range all {
		byName[s.Name] = s
	}

	strategies := make([]capture.Strategy, 0, len(names))
	for _, name := range names {
		s, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown capture backend %q", name)
		}
		strategies = append(strategies, s)
	}

	return strategies, nil
}

func wrapDevice(err error, device string) error {
	if device == "" {
		return err
	}
	return errors.Wrapf(capture.ErrDeviceNotFound, "device %q: %v", device, err)
}
