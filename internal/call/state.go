// Package call runs a half-duplex voice call: an energy-VAD turn controller
// driven by a single control loop per session.
package call

import (
	"time"

	"github.com/google/uuid"

	"github.com/roleplay-ai/voicecall/internal/audio"
)

// State of the turn controller.
type State int

const (
	Idle State = iota
	Recording
	Processing
	Playing
	Error
)

var stateNames = [...]string{"IDLE", "RECORDING", "PROCESSING", "PLAYING", "ERROR"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "UNKNOWN"
	}
	return stateNames[s]
}

// MarshalText lets states appear by name in JSON.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Thresholds tune the VAD. Levels are in the energy meter's dB scale.
type Thresholds struct {
	Silence         float64       // below this a sample counts as silence
	BargeInMargin   float64       // added to Silence to open an utterance
	SilenceDuration time.Duration // sustained silence that ends an utterance
}

// DefaultThresholds returns -10 dB, +10 dB margin and 2 s.
func DefaultThresholds() Thresholds {
	return Thresholds{Silence: -10, BargeInMargin: 10, SilenceDuration: 2 * time.Second}
}

// Speech is the level that opens an utterance or interrupts playback.
func (t Thresholds) Speech() float64 { return t.Silence + t.BargeInMargin }

// Utterance is one finalized span of user speech.
type Utterance struct {
	ID        string
	Audio     []byte // WAV
	Duration  time.Duration
	StartedAt time.Time
}

func newUtterance(a audio.Artifact) Utterance {
	return Utterance{
		ID:        uuid.NewString(),
		Audio:     a.WAV,
		Duration:  a.Duration,
		StartedAt: a.StartedAt,
	}
}

// Meta identifies the conversation a call belongs to. Values are opaque.
type Meta struct {
	ConversationID string
	UserID         string
}

// Transition records one state change of the controller.
type Transition struct {
	From   State
	To     State
	Reason string
	Err    error
	At     time.Time
}
