package audio

import (
	"math"
	"sync/atomic"
	"time"
)

// SilenceFloor is the level reported for digital silence and before the
// first frame arrives.
const SilenceFloor = -100.0

// EnergySample is the loudness of the most recent capture frame.
type EnergySample struct {
	Level float64 // dB relative to the meter reference
	At    time.Time
}

// Level returns 20*log10(rms/ref) for a frame of PCM16 samples, clamped at
// SilenceFloor.
func Level(frame []int16, ref float64) float64 {
	if len(frame) == 0 || ref <= 0 {
		return SilenceFloor
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32768
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	if rms == 0 {
		return SilenceFloor
	}
	return math.Max(20*math.Log10(rms/ref), SilenceFloor)
}

// Meter holds the level of the latest frame. Observe is called from the
// capture goroutine, Load from the control loop.
type Meter struct {
	ref   float64
	level atomic.Uint64
}

// NewMeter creates a meter whose 0 dB point is ref (full scale = 1.0).
func NewMeter(ref float64) *Meter {
	m := &Meter{ref: ref}
	m.Reset()
	return m
}

// Observe records the level of frame.
func (m *Meter) Observe(frame []int16) {
	m.level.Store(math.Float64bits(Level(frame, m.ref)))
}

// Load returns the last observed level.
func (m *Meter) Load() float64 {
	return math.Float64frombits(m.level.Load())
}

// Reset returns the meter to SilenceFloor.
func (m *Meter) Reset() {
	m.level.Store(math.Float64bits(SilenceFloor))
}
