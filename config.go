package micvis

import (
	"encoding"
	"fmt"
	"io"
	"time"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"libdb.so/micvis/internal/visualizer"
)

// Config is the configuration for micvis.
type Config struct {
	// Rate is the number of frames drawn per second.
	Rate int `toml:"rate"`
	// Capture configures the microphone.
	Capture CaptureConfig `toml:"capture"`
	// Audio configures the audio output.
	Audio AudioConfig `toml:"audio"`
	// Visualizer configures the bar chart.
	Visualizer VisualizerConfig `toml:"visualizer"`
	// LEDs, if set, mirrors the bar chart onto a serial LED strip.
	LEDs *LEDConfig `toml:"leds,omitempty"`
}

// CaptureConfig is the configuration for the microphone.
type CaptureConfig struct {
	// Backends lists capture backends in priority order. If empty, every
	// known backend is tried.
	Backends []string `toml:"backends"`
	// Device is the input device name. If empty, the default device is used.
	Device string `toml:"device"`
	// SampleRate is the requested sample rate in Hz.
	SampleRate float64 `toml:"sample_rate"`
	// BlockSize is the requested number of frames per block.
	BlockSize int `toml:"block_size"`
}

// AudioConfig is the configuration for the audio output.
type AudioConfig struct {
	// Speakers routes the microphone to the default output device.
	Speakers bool `toml:"speakers"`
}

// VisualizerConfig is the configuration for the visualizer.
type VisualizerConfig struct {
	// BarScale multiplies the width of each bar. Known values are 2.5 and 5.
	BarScale float64 `toml:"bar_scale"`
	// ShowValues draws each bin's magnitude below its bar.
	ShowValues bool `toml:"show_values"`
	// RedOverflow is either "clamp" or "wrap".
	RedOverflow visualizer.RedOverflow `toml:"red_overflow"`
	// PauseWhenMuted stops drawing while muted. It requires
	// RestartOnUnmute, otherwise nothing would resume the loop.
	PauseWhenMuted bool `toml:"pause_when_muted"`
	// RestartOnUnmute starts the visualizer again when unmuting. Starting a
	// running visualizer does nothing.
	RestartOnUnmute bool `toml:"restart_on_unmute"`
}

// LEDConfig is the configuration for the LED strip mirror.
type LEDConfig struct {
	// Device is the path to the serial device.
	// This is usually /dev/ttyUSB0 or /dev/ttyACM0.
	Device string `toml:"device"`
	// Baud is the baud rate for the serial connection.
	Baud int `toml:"baud"`
	// Count is the number of LEDs on the strip.
	Count int `toml:"count"`
	// AckTimeout is how long to wait for the controller to acknowledge a
	// frame before sending the next one anyway.
	AckTimeout TOMLDuration `toml:"ack_timeout"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		Rate: 60,
		Capture: CaptureConfig{
			SampleRate: 44100,
			BlockSize:  512,
		},
		Audio: AudioConfig{
			Speakers: true,
		},
		Visualizer: VisualizerConfig{
			BarScale:    2.5,
			RedOverflow: visualizer.ClampRed,
		},
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return fmt.Errorf("rate must be positive, got %d", c.Rate)
	}

	if c.Capture.SampleRate <= 0 {
		return fmt.Errorf("capture.sample_rate must be positive, got %v", c.Capture.SampleRate)
	}
	if c.Capture.BlockSize <= 0 {
		return fmt.Errorf("capture.block_size must be positive, got %d", c.Capture.BlockSize)
	}

	if c.Visualizer.BarScale <= 0 {
		return fmt.Errorf("visualizer.bar_scale must be positive, got %v", c.Visualizer.BarScale)
	}
	if err := c.Visualizer.RedOverflow.Validate(); err != nil {
		return errors.Wrap(err, "visualizer.red_overflow")
	}
	if c.Visualizer.PauseWhenMuted && !c.Visualizer.RestartOnUnmute {
		return errors.New("visualizer.pause_when_muted requires visualizer.restart_on_unmute")
	}

	if c.LEDs != nil {
		if c.LEDs.Device == "" {
			return errors.New("leds.device is required")
		}
		if c.LEDs.Count <= 0 || c.LEDs.Count > 0xFFFF {
			return fmt.Errorf("leds.count must be within 1..65535, got %d", c.LEDs.Count)
		}
		if c.LEDs.Baud <= 0 {
			return fmt.Errorf("leds.baud must be positive, got %d", c.LEDs.Baud)
		}
	}

	return nil
}

// TOMLDuration is a duration that can be parsed from TOML.
type TOMLDuration time.Duration

var (
	_ encoding.TextUnmarshaler = (*TOMLDuration)(nil)
	_ encoding.TextMarshaler   = (*TOMLDuration)(nil)
)

func (d *TOMLDuration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = TOMLDuration(duration)
	return nil
}

func (d TOMLDuration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// ParseConfig parses a configuration from a reader. Keys missing from the
// file keep their DefaultConfig values.
func ParseConfig(r io.Reader) (*Config, error) {
	config := DefaultConfig()
	if err := toml.NewDecoder(r).Decode(config); err != nil {
		return nil, err
	}
	if config.LEDs != nil && config.LEDs.AckTimeout == 0 {
		config.LEDs.AckTimeout = TOMLDuration(500 * time.Millisecond)
	}
	return config, nil
}
