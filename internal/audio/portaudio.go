package audio

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// InputStream yields mono PCM16 frames from a capture device.
type InputStream interface {
	Read() ([]int16, error)
	Close() error
}

// OutputStream accepts interleaved PCM16 frames for a playback device.
type OutputStream interface {
	Write(frame []int16) error
	Close() error
}

// Backend opens audio devices. PortAudio is the production backend; tests
// substitute fakes.
type Backend interface {
	Init() error
	OpenInput(sampleRate, frames int) (InputStream, string, error)
	OpenOutput(sampleRate, channels, frames int) (OutputStream, error)
	Terminate() error
}

// PortAudio implements Backend on top of gordonklaus/portaudio.
type PortAudio struct {
	InputDevice     string
	ExcludedDevices []string

	mu     sync.Mutex
	inited bool
}

func (pa *PortAudio) Init() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if pa.inited {
		return nil
	}
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	pa.inited = true
	return nil
}

func (pa *PortAudio) Terminate() error {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	if !pa.inited {
		return nil
	}
	pa.inited = false
	return portaudio.Terminate()
}

func (pa *PortAudio) OpenInput(sampleRate, frames int) (InputStream, string, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, "", err
	}
	def, _ := portaudio.DefaultInputDevice()
	dev, err := selectInput(devices, def, pa.InputDevice, pa.ExcludedDevices)
	if err != nil {
		return nil, "", err
	}

	buf := make([]int16, frames)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(sampleRate),
		FramesPerBuffer: frames,
	}
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, "", fmt.Errorf("open %q: %w", dev.Name, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, "", fmt.Errorf("start %q: %w", dev.Name, err)
	}
	return &paInput{stream: stream, buf: buf}, dev.Name, nil
}

func (pa *PortAudio) OpenOutput(sampleRate, channels, frames int) (OutputStream, error) {
	buf := make([]int16, frames*channels)
	stream, err := portaudio.OpenDefaultStream(0, channels, float64(sampleRate), frames, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, err
	}
	return &paOutput{stream: stream, buf: buf}, nil
}

type paInput struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

func (in *paInput) Read() ([]int16, error) {
	if err := in.stream.Read(); err != nil {
		return nil, err
	}
	return append([]int16(nil), in.buf...), nil
}

func (in *paInput) Close() error {
	var err error
	in.once.Do(func() {
		_ = in.stream.Stop()
		err = in.stream.Close()
	})
	return err
}

type paOutput struct {
	stream *portaudio.Stream
	buf    []int16
	once   sync.Once
}

// Write plays one buffer; short frames are zero padded.
func (out *paOutput) Write(frame []int16) error {
	n := copy(out.buf, frame)
	clear(out.buf[n:])
	return out.stream.Write()
}

// Close aborts rather than drains so an interrupted reply stops at once.
func (out *paOutput) Close() error {
	var err error
	out.once.Do(func() {
		_ = out.stream.Abort()
		err = out.stream.Close()
	})
	return err
}
