package attendance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseClock(t *testing.T) {
	fallback := NewClock(8, 0)

	tests := []struct {
		name        string
		value       string
		want        Clock
		usedDefault bool
	}{
		{"valid", "09:30", NewClock(9, 30), false},
		{"midnight", "00:00", NewClock(0, 0), false},
		{"end of day", "23:59", NewClock(23, 59), false},
		{"missing minutes", "09", fallback, true},
		{"too many parts", "09:30:00", fallback, true},
		{"garbage hour", "xx:30", fallback, true},
		{"garbage minute", "09:yy", fallback, true},
		{"hour out of range", "24:00", fallback, true},
		{"minute out of range", "09:60", fallback, true},
		{"negative", "-1:30", fallback, true},
		{"empty", "", fallback, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, usedDefault := ParseClock(tc.value, fallback)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.usedDefault, usedDefault)
		})
	}
}

func TestClockString(t *testing.T) {
	assert.Equal(t, "08:05", NewClock(8, 5).String())
	assert.Equal(t, "23:59", NewClock(23, 59).String())
}

func TestEffectiveDefaults(t *testing.T) {
	var cfg *Settings
	eff := cfg.Effective()

	assert.Equal(t, Defaults(), eff)
	assert.Equal(t, NewClock(8, 0), eff.SchoolStart)
	assert.Equal(t, NewClock(8, 15), eff.LateCutoff)
	assert.Equal(t, NewClock(9, 0), eff.AutoAbsent)
	assert.True(t, eff.AllowLateArrivals)
	assert.False(t, eff.MultipleCheckins)
}

func TestEffectiveFallsBackPerField(t *testing.T) {
	cfg := &Settings{
		SchoolStartTime:   "07:45",
		LateCutoffTime:    "not a clock",
		AutoAbsentTime:    "10:00",
		AllowLateArrivals: false,
		MultipleCheckins:  true,
	}
	eff := cfg.Effective()

	assert.Equal(t, NewClock(7, 45), eff.SchoolStart)
	assert.Equal(t, NewClock(8, 15), eff.LateCutoff) // defaulted, silently
	assert.Equal(t, NewClock(10, 0), eff.AutoAbsent)
	assert.False(t, eff.AllowLateArrivals)
	assert.True(t, eff.MultipleCheckins)
}
