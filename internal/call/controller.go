package call

import (
	"context"
	"log/slog"
	"time"

	"github.com/roleplay-ai/voicecall/internal/audio"
	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
)

// Pipeline is the device surface the controller drives.
type Pipeline interface {
	Open(ctx context.Context) error
	SampleEnergy() audio.EnergySample
	StartCapture() error
	PauseCapture()
	ResumeCapture()
	StopCapture() audio.Artifact
	Play(uri string) audio.PlaybackID
	StopPlayback()
	PlaybackEnded() <-chan audio.PlaybackEnd
	Faults() <-chan error
	Close() error
}

// Controller is the turn state machine. It is not safe for concurrent use;
// a Session calls it from its control loop only.
type Controller struct {
	pipe Pipeline
	th   Thresholds
	log  *slog.Logger

	state     State
	hasSpoken bool
	deadline  time.Time // armed silence deadline; zero when disarmed
	playback  audio.PlaybackID
	lastErr   error

	onTransition func(Transition)
}

// NewController creates a controller in IDLE.
func NewController(pipe Pipeline, th Thresholds) *Controller {
	return &Controller{pipe: pipe, th: th, log: slog.Default()}
}

// OnTransition registers a callback run after every state change.
func (c *Controller) OnTransition(fn func(Transition)) { c.onTransition = fn }

func (c *Controller) State() State    { return c.state }
func (c *Controller) HasSpoken() bool { return c.hasSpoken }
func (c *Controller) Err() error      { return c.lastErr }

// Armed reports whether a silence deadline is pending.
func (c *Controller) Armed() bool { return !c.deadline.IsZero() }

// Step evaluates one energy sample. It returns a finalized utterance when
// the sample ended one; the caller owns its upload.
func (c *Controller) Step(s audio.EnergySample) (*Utterance, error) {
	switch c.state {
	case Idle:
		if s.Level >= c.th.Speech() {
			if err := c.pipe.StartCapture(); err != nil {
				c.fail(err, s.At)
				return nil, err
			}
			c.openUtterance()
			c.transition(Recording, "speech", s.At)
		}

	case Recording:
		if c.hasSpoken {
			return c.stepUtterance(s), nil
		}
		c.stepWaiting(s)

	case Playing:
		if s.Level >= c.th.Speech() {
			c.pipe.StopPlayback()
			c.playback = 0
			c.pipe.ResumeCapture()
			c.openUtterance()
			c.transition(Recording, "barge-in", s.At)
		}
	}
	return nil, nil
}

// stepUtterance runs the single-shot silence timer of an open utterance.
func (c *Controller) stepUtterance(s audio.EnergySample) *Utterance {
	if s.Level >= c.th.Silence {
		c.deadline = time.Time{}
		return nil
	}
	if c.deadline.IsZero() {
		c.deadline = s.At.Add(c.th.SilenceDuration)
		return nil
	}
	if s.At.Before(c.deadline) {
		return nil
	}

	c.deadline = time.Time{}
	u := newUtterance(c.pipe.StopCapture())
	c.pipe.PauseCapture()
	c.hasSpoken = false
	c.transition(Processing, "silence", s.At)
	return &u
}

// stepWaiting handles RECORDING after playback, before the user speaks.
// Only speech-level samples open the utterance; otherwise idle audio is
// trimmed every SilenceDuration so the next utterance starts near speech.
func (c *Controller) stepWaiting(s audio.EnergySample) {
	if s.Level >= c.th.Speech() {
		c.openUtterance()
		c.log.Debug("utterance opened", "level", s.Level)
		return
	}
	if c.deadline.IsZero() {
		c.deadline = s.At.Add(c.th.SilenceDuration)
		return
	}
	if !s.At.Before(c.deadline) {
		_ = c.pipe.StopCapture()
		c.deadline = s.At.Add(c.th.SilenceDuration)
	}
}

func (c *Controller) openUtterance() {
	c.hasSpoken = true
	c.deadline = time.Time{}
}

// UploadSucceeded starts playback of the reply.
func (c *Controller) UploadSucceeded(uri string, at time.Time) {
	if c.state != Processing {
		c.log.Debug("ignoring stale upload result", "state", c.state)
		return
	}
	c.playback = c.pipe.Play(uri)
	c.transition(Playing, "reply", at)
}

// UploadFailed moves a pending turn to ERROR.
func (c *Controller) UploadFailed(err error, at time.Time) {
	if c.state != Processing {
		return
	}
	c.fail(err, at)
}

// PlaybackEnded handles a completion signal. Signals for anything but the
// current playback are ignored.
func (c *Controller) PlaybackEnded(end audio.PlaybackEnd, at time.Time) {
	if c.state != Playing || end.ID != c.playback {
		c.log.Debug("ignoring stale playback completion", "id", end.ID, "current", c.playback)
		return
	}
	c.playback = 0
	if end.Err != nil {
		c.fail(end.Err, at)
		return
	}
	c.pipe.ResumeCapture()
	c.hasSpoken = false
	c.deadline = time.Time{}
	c.transition(Recording, "playback finished", at)
}

// Fail moves to ERROR from any state and reports err once. Playback is stopped, capture paused
// and the timer disarmed; releasing the device is left to the session.
func (c *Controller) Fail(err error, at time.Time) {
	c.fail(err, at)
}

func (c *Controller) fail(err error, at time.Time) {
	if err == nil {
		err = apperrors.New(apperrors.Internal, "unknown failure")
	}
	c.halt()
	c.pipe.PauseCapture()
	c.lastErr = err
	c.transitionErr(Error, "failure", err, at)
}

// Reset returns to IDLE. The session calls it after re-opening the pipeline.
func (c *Controller) Reset(at time.Time) {
	c.halt()
	c.lastErr = nil
	c.transition(Idle, "restart", at)
}

// Stop disarms the timer and interrupts playback without a transition.
func (c *Controller) Stop() { c.halt() }

func (c *Controller) halt() {
	if c.playback != 0 {
		c.pipe.StopPlayback()
		c.playback = 0
	}
	c.hasSpoken = false
	c.deadline = time.Time{}
}

func (c *Controller) transition(to State, reason string, at time.Time) {
	c.transitionErr(to, reason, nil, at)
}

func (c *Controller) transitionErr(to State, reason string, err error, at time.Time) {
	from := c.state
	c.state = to
	if from == to && err == nil {
		return
	}
	if err != nil {
		c.log.Warn("call state changed", "from", from, "to", to, "reason", reason, "error", err)
	} else {
		c.log.Info("call state changed", "from", from, "to", to, "reason", reason)
	}
	if c.onTransition != nil {
		c.onTransition(Transition{From: from, To: to, Reason: reason, Err: err, At: at})
	}
}
