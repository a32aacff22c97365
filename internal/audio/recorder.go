package audio

import (
	"sync"
	"time"
)

// Mode is the accumulation mode of a Recorder.
type Mode int

const (
	ModeIdle Mode = iota
	ModeRecording
	ModePaused
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeRecording:
		return "recording"
	case ModePaused:
		return "paused"
	}
	return "unknown"
}

// Artifact is a finalized capture buffer.
type Artifact struct {
	WAV       []byte
	Duration  time.Duration
	StartedAt time.Time
}

// Recorder accumulates mono PCM16 frames while in ModeRecording. The device
// stays open across modes; only accumulation is switched.
type Recorder struct {
	mu         sync.Mutex
	mode       Mode
	samples    []int16
	startedAt  time.Time
	sampleRate int
	maxSamples int
	now        func() time.Time
}

// NewRecorder creates an idle recorder. maxLen bounds one buffer; frames
// beyond it are dropped until the buffer is finalized.
func NewRecorder(sampleRate int, maxLen time.Duration) *Recorder {
	return &Recorder{
		sampleRate: sampleRate,
		maxSamples: int(maxLen.Seconds() * float64(sampleRate)),
		now:        time.Now,
	}
}

// Write appends frame if recording.
func (r *Recorder) Write(frame []int16) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode != ModeRecording {
		return
	}
	if r.maxSamples > 0 {
		room := r.maxSamples - len(r.samples)
		if room <= 0 {
			return
		}
		if len(frame) > room {
			frame = frame[:room]
		}
	}
	r.samples = append(r.samples, frame...)
}

// Start begins a fresh buffer. Calling it while recording is a no-op.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.mode == ModeRecording {
		return
	}
	if r.mode == ModeIdle {
		r.samples = r.samples[:0]
		r.startedAt = r.now()
	}
	r.mode = ModeRecording
}

// Pause stops accumulation, keeping the buffer.
func (r *Recorder) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeRecording {
		r.mode = ModePaused
	}
}

// Resume continues accumulation into the current buffer, starting one if idle.
func (r *Recorder) Resume() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.mode == ModeIdle {
		r.samples = r.samples[:0]
		r.startedAt = r.now()
	}
	r.mode = ModeRecording
}

// Stop finalizes the buffer into a WAV artifact and re-arms an empty one.
// The mode is left unchanged so recording continues with no gap.
func (r *Recorder) Stop() Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := PCM{Samples: r.samples, SampleRate: r.sampleRate, Channels: 1}
	a := Artifact{
		WAV:       EncodeWAV(p),
		Duration:  p.Duration(),
		StartedAt: r.startedAt,
	}
	r.samples = make([]int16, 0, cap(r.samples))
	r.startedAt = r.now()
	return a
}

// Mode returns the current mode.
func (r *Recorder) Mode() Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// Len returns the number of buffered samples.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// Reset drops the buffer and returns to idle.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = ModeIdle
	r.samples = nil
	r.startedAt = time.Time{}
}
