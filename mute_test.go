package micvis

import "testing"

type fakeGain struct {
	value float64
	sets  int
}

func (g *fakeGain) SetValue(v float64) {
	g.value = v
	g.sets++
}

func TestMuteTogglePairs(t *testing.T) {
	tests := []struct {
		toggles   int
		wantGain  float64
		wantLabel string
		wantMuted bool
	}{
		{0, 1, MuteLabel, false},
		{1, 0, UnmuteLabel, true},
		{2, 1, MuteLabel, false},
		{3, 0, UnmuteLabel, true},
		{10, 1, MuteLabel, false},
		{11, 0, UnmuteLabel, true},
	}

	for _, test := range tests {
		gain := &fakeGain{}
		page := NewHeadlessPage(1, 1)
		m := NewMuteController(gain, page, discardLogger)

		for i := 0; i < test.toggles; i++ {
			m.Toggle()
		}

		if gain.value != test.wantGain {
			t.Errorf("%d toggles: gain %v, want %v", test.toggles, gain.value, test.wantGain)
		}
		if got := page.MuteLabel(); got != test.wantLabel {
			t.Errorf("%d toggles: label %q, want %q", test.toggles, got, test.wantLabel)
		}
		if m.Muted() != test.wantMuted {
			t.Errorf("%d toggles: muted %v, want %v", test.toggles, m.Muted(), test.wantMuted)
		}
		// muted if and only if the gain is zero
		if m.Muted() != (gain.value == 0) {
			t.Errorf("%d toggles: muted %v with gain %v", test.toggles, m.Muted(), gain.value)
		}
	}
}

func TestMuteUnmutedHook(t *testing.T) {
	m := NewMuteController(&fakeGain{}, NewHeadlessPage(1, 1), discardLogger)

	var calls int
	m.unmuted = func() { calls++ }

	m.Toggle() // mute
	if calls != 0 {
		t.Fatal("hook ran on mute")
	}
	m.Toggle() // unmute
	if calls != 1 {
		t.Fatalf("hook ran %d times on unmute, want 1", calls)
	}
}
