package audio

import (
	"errors"
	"sync"
	"time"
)

// fakeInput replays a fixed frame until closed.
type fakeInput struct {
	frame  []int16
	mu     sync.Mutex
	closed chan struct{}
	once   sync.Once
	reads  int
	fail   error
}

func newFakeInput(frame []int16) *fakeInput {
	return &fakeInput{frame: frame, closed: make(chan struct{})}
}

func (f *fakeInput) Read() ([]int16, error) {
	time.Sleep(time.Millisecond)
	select {
	case <-f.closed:
		return nil, errors.New("stream closed")
	default:
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	f.reads++
	return append([]int16(nil), f.frame...), nil
}

func (f *fakeInput) Close() error {
	f.once.Do(func() { close(f.closed) })
	return nil
}

type fakeOutput struct {
	mu      sync.Mutex
	written []int16
	closed  bool
	block   chan struct{}
}

func (f *fakeOutput) Write(frame []int16) error {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.written = append(f.written, frame...)
	return nil
}

func (f *fakeOutput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeBackend struct {
	mu         sync.Mutex
	input      *fakeInput
	output     *fakeOutput
	inputErr   error
	inits      int
	terminates int
	rate       int
	channels   int
}

func (b *fakeBackend) Init() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.inits++
	return nil
}

func (b *fakeBackend) OpenInput(sampleRate, frames int) (InputStream, string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.inputErr != nil {
		return nil, "", b.inputErr
	}
	return b.input, "Fake Microphone", nil
}

func (b *fakeBackend) OpenOutput(sampleRate, channels, frames int) (OutputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rate, b.channels = sampleRate, channels
	if b.output == nil {
		b.output = &fakeOutput{}
	}
	return b.output, nil
}

func (b *fakeBackend) Terminate() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.terminates++
	return nil
}
