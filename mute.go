package micvis

import (
	"log/slog"
	"sync"
)

// Mute control labels.
const (
	MuteLabel   = "Mute"
	UnmuteLabel = "Unmute"
)

// GainSetter is the part of the audio graph the mute controller drives.
type GainSetter interface {
	SetValue(v float64)
}

// MuteController toggles the graph between full gain and silence and keeps
// the control label in sync. The analyser sits after the gain, so muting also
// flattens the bars.
type MuteController struct {
	gain    GainSetter
	page    Page
	logger  *slog.Logger
	unmuted func() // called after unmuting, may be nil

	mu    sync.Mutex
	muted bool
}

// NewMuteController creates an unmuted controller and applies that state.
func NewMuteController(gain GainSetter, page Page, logger *slog.Logger) *MuteController {
	m := &MuteController{
		gain:   gain,
		page:   page,
		logger: logger,
	}
	m.apply()
	return m
}

// Toggle flips between muted and unmuted.
func (m *MuteController) Toggle() {
	m.mu.Lock()
	m.muted = !m.muted
	m.apply()
	muted := m.muted
	m.mu.Unlock()

	m.logger.Debug("mute toggled", "muted", muted)

	if !muted && m.unmuted != nil {
		m.unmuted()
	}
}

// Muted reports whether the gain is currently zero.
func (m *MuteController) Muted() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.muted
}

func (m *MuteController) apply() {
	if m.muted {
		m.gain.SetValue(0)
		m.page.SetMuteLabel(UnmuteLabel)
	} else {
		m.gain.SetValue(1)
		m.page.SetMuteLabel(MuteLabel)
	}
}
