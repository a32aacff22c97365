package call

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/roleplay-ai/voicecall/internal/audio"
)

// fakePipeline records device calls. Level is settable from tests; the
// log is shared with fake uploaders to check teardown order.
type fakePipeline struct {
	mu      sync.Mutex
	calls   []string
	log     *callLog
	openErr error
	opens   int
	closes  int
	open    bool
	mode    audio.Mode
	lastID  audio.PlaybackID
	playing audio.PlaybackID
	plays   []string

	level  atomic.Uint64
	ended  chan audio.PlaybackEnd
	faults chan error
}

func newFakePipeline() *fakePipeline {
	p := &fakePipeline{
		log:    &callLog{},
		ended:  make(chan audio.PlaybackEnd, 4),
		faults: make(chan error, 1),
	}
	p.setLevel(-40)
	return p
}

func (p *fakePipeline) setLevel(db float64) { p.level.Store(math.Float64bits(db)) }

func (p *fakePipeline) record(call string) {
	p.mu.Lock()
	p.calls = append(p.calls, call)
	p.mu.Unlock()
	p.log.add("pipeline." + call)
}

func (p *fakePipeline) count(call string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		if c == call {
			n++
		}
	}
	return n
}

func (p *fakePipeline) Open(ctx context.Context) error {
	p.record("open")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.opens++
	if p.openErr != nil {
		return p.openErr
	}
	p.open = true
	return nil
}

func (p *fakePipeline) SampleEnergy() audio.EnergySample {
	return audio.EnergySample{Level: math.Float64frombits(p.level.Load()), At: time.Now()}
}

func (p *fakePipeline) StartCapture() error {
	p.record("start")
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return errors.New("not open")
	}
	p.mode = audio.ModeRecording
	return nil
}

func (p *fakePipeline) PauseCapture() {
	p.record("pause")
	p.mu.Lock()
	p.mode = audio.ModePaused
	p.mu.Unlock()
}

func (p *fakePipeline) ResumeCapture() {
	p.record("resume")
	p.mu.Lock()
	p.mode = audio.ModeRecording
	p.mu.Unlock()
}

func (p *fakePipeline) StopCapture() audio.Artifact {
	p.record("stop")
	return audio.Artifact{WAV: audio.EncodeWAV(audio.PCM{SampleRate: 16000, Channels: 1}), StartedAt: time.Now()}
}

func (p *fakePipeline) Play(uri string) audio.PlaybackID {
	p.record("play")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastID++
	p.playing = p.lastID
	p.plays = append(p.plays, uri)
	return p.lastID
}

func (p *fakePipeline) StopPlayback() {
	p.record("stopPlayback")
	p.mu.Lock()
	p.playing = 0
	p.mu.Unlock()
}

func (p *fakePipeline) PlaybackEnded() <-chan audio.PlaybackEnd { return p.ended }
func (p *fakePipeline) Faults() <-chan error                    { return p.faults }

// finish delivers a natural-end signal for the current playback.
func (p *fakePipeline) finish(err error) audio.PlaybackID {
	p.mu.Lock()
	id := p.playing
	p.playing = 0
	p.mu.Unlock()
	p.ended <- audio.PlaybackEnd{ID: id, Err: err}
	return id
}

func (p *fakePipeline) Close() error {
	p.record("close")
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closes++
	p.open = false
	p.mode = audio.ModeIdle
	p.playing = 0
	return nil
}

func (p *fakePipeline) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *fakePipeline) captureMode() audio.Mode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.mode
}

type callLog struct {
	mu      sync.Mutex
	entries []string
}

func (l *callLog) add(e string) {
	l.mu.Lock()
	l.entries = append(l.entries, e)
	l.mu.Unlock()
}

func (l *callLog) index(e string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, x := range l.entries {
		if x == e {
			return i
		}
	}
	return -1
}

// fakeUploader answers uploads from a channel of replies, or blocks until
// its context is cancelled when block is set.
type fakeUploader struct {
	mu      sync.Mutex
	log     *callLog
	block   bool
	uri     string
	err     error
	calls   int
	started chan Utterance
}

func newFakeUploader(log *callLog, uri string) *fakeUploader {
	return &fakeUploader{log: log, uri: uri, started: make(chan Utterance, 8)}
}

func (u *fakeUploader) UploadUtterance(ctx context.Context, utt Utterance, meta Meta) (string, error) {
	u.mu.Lock()
	u.calls++
	block, uri, err := u.block, u.uri, u.err
	u.mu.Unlock()
	u.started <- utt

	if block {
		<-ctx.Done()
		u.log.add("upload.cancelled")
		return "", ctx.Err()
	}
	return uri, err
}

func (u *fakeUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}
