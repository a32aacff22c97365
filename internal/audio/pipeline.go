// Package audio owns the microphone and speaker of a call: capture with an
// energy meter and utterance recorder, and playback of server replies.
package audio

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
)

// Config for the audio pipeline.
type Config struct {
	SampleRate      int
	FramesPerBuffer int
	MaxUtterance    time.Duration
	EnergyReference float64
	HTTPClient      *http.Client // used to fetch reply audio
}

// Pipeline pairs one capture device with one playback handle. The capture
// device stays open between utterances; start/pause/resume/stop switch
// only what is accumulated.
type Pipeline struct {
	cfg     Config
	backend Backend
	meter   *Meter
	rec     *Recorder
	player  *Player
	faults  chan error
	now     func() time.Time

	mu     sync.Mutex
	open   bool
	input  InputStream
	device string
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPipeline creates a closed pipeline.
func NewPipeline(cfg Config, backend Backend) *Pipeline {
	return &Pipeline{
		cfg:     cfg,
		backend: backend,
		meter:   NewMeter(cfg.EnergyReference),
		rec:     NewRecorder(cfg.SampleRate, cfg.MaxUtterance),
		player:  NewPlayer(backend, cfg.HTTPClient, cfg.FramesPerBuffer),
		faults:  make(chan error, 1),
		now:     time.Now,
	}
}

// Open acquires the capture device. Calling Open on an open pipeline is a no-op.
func (p *Pipeline) Open(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.open {
		return nil
	}
	if err := p.backend.Init(); err != nil {
		return apperrors.Wrap(err, apperrors.DeviceUnavailable, "initialize audio")
	}
	in, name, err := p.backend.OpenInput(p.cfg.SampleRate, p.cfg.FramesPerBuffer)
	if err != nil {
		if terr := p.backend.Terminate(); terr != nil {
			slog.Warn("terminate audio backend", "error", terr)
		}
		return apperrors.Wrap(err, apperrors.DeviceUnavailable, "open microphone")
	}

	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.input = in
	p.device = name
	p.done = make(chan struct{})
	p.open = true

	go p.capture(p.ctx, in, p.done)
	slog.Info("audio capture opened", "device", name, "sample_rate", p.cfg.SampleRate)
	return nil
}

func (p *Pipeline) capture(ctx context.Context, in InputStream, done chan struct{}) {
	defer close(done)
	for {
		frame, err := in.Read()
		if err != nil {
			p.meter.Reset()
			if ctx.Err() != nil {
				return
			}
			slog.Warn("audio read failed", "device", p.device, "error", err)
			select {
			case p.faults <- apperrors.Wrap(err, apperrors.DeviceUnavailable, "read microphone"):
			default:
			}
			return
		}
		p.meter.Observe(frame)
		p.rec.Write(frame)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

// SampleEnergy returns the latest frame level stamped with the poll time.
func (p *Pipeline) SampleEnergy() EnergySample {
	return EnergySample{Level: p.meter.Load(), At: p.now()}
}

// Faults reports capture devices lost after Open.
func (p *Pipeline) Faults() <-chan error { return p.faults }

// StartCapture begins a fresh utterance buffer.
func (p *Pipeline) StartCapture() error {
	p.mu.Lock()
	open := p.open
	p.mu.Unlock()
	if !open {
		return apperrors.New(apperrors.DeviceUnavailable, "capture device not open")
	}
	p.rec.Start()
	return nil
}

func (p *Pipeline) PauseCapture()  { p.rec.Pause() }
func (p *Pipeline) ResumeCapture() { p.rec.Resume() }

// StopCapture finalizes the buffer as WAV and immediately re-arms.
func (p *Pipeline) StopCapture() Artifact { return p.rec.Stop() }

// CaptureMode reports the recorder mode.
func (p *Pipeline) CaptureMode() Mode { return p.rec.Mode() }

// Play starts uri on the pipeline's playback handle.
func (p *Pipeline) Play(uri string) PlaybackID {
	p.mu.Lock()
	ctx := p.ctx
	p.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return p.player.Play(ctx, uri)
}

func (p *Pipeline) StopPlayback()                     { p.player.Stop() }
func (p *Pipeline) PlaybackEnded() <-chan PlaybackEnd { return p.player.Ended() }

// Device returns the name of the open capture device.
func (p *Pipeline) Device() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.device
}

// IsOpen reports whether the capture device is held.
func (p *Pipeline) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

// Close releases playback then capture. Safe to call repeatedly.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.open {
		return nil
	}
	p.open = false

	p.player.Close()
	p.cancel()

	var errs []error
	if err := p.input.Close(); err != nil {
		errs = append(errs, err)
	}
	<-p.done
	p.rec.Reset()
	p.meter.Reset()
	if err := p.backend.Terminate(); err != nil {
		errs = append(errs, err)
	}

	slog.Info("audio pipeline closed", "device", p.device)
	p.input = nil
	p.ctx = nil
	p.device = ""
	return errors.Join(errs...)
}
