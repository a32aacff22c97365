package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

const wavHeaderSize = 44

// PCM is interleaved signed 16-bit audio.
type PCM struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// Duration returns the playing time of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Samples) / p.Channels
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// EncodeWAV wraps PCM16 samples in a canonical RIFF/WAVE container.
func EncodeWAV(p PCM) []byte {
	dataSize := uint32(len(p.Samples) * 2)
	blockAlign := uint16(p.Channels * 2)

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize+int(dataSize)))
	buf.WriteString("RIFF")
	_ = binary.Write(buf, binary.LittleEndian, 36+dataSize)
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	_ = binary.Write(buf, binary.LittleEndian, uint16(p.Channels))
	_ = binary.Write(buf, binary.LittleEndian, uint32(p.SampleRate))
	_ = binary.Write(buf, binary.LittleEndian, uint32(p.SampleRate)*uint32(blockAlign))
	_ = binary.Write(buf, binary.LittleEndian, blockAlign)
	_ = binary.Write(buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(buf, binary.LittleEndian, dataSize)
	_ = binary.Write(buf, binary.LittleEndian, p.Samples)
	return buf.Bytes()
}

// DecodeWAV extracts PCM16 samples from a RIFF/WAVE container, walking
// chunks so LIST/fact chunks before "data" are tolerated.
func DecodeWAV(data []byte) (PCM, error) {
	if !isWAV(data) {
		return PCM{}, fmt.Errorf("not a WAV container")
	}

	var (
		format, channels, bits int
		rate                   int
		pcm                    []byte
	)
	pos := 12
	for pos+8 <= len(data) {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
		pos += 8
		if size < 0 || pos+size > len(data) {
			// Streamed WAVs often carry a bogus data size; take what is there.
			if id == "data" {
				pcm = data[pos:]
			}
			break
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return PCM{}, fmt.Errorf("fmt chunk too small: %d", size)
			}
			format = int(binary.LittleEndian.Uint16(data[pos : pos+2]))
			channels = int(binary.LittleEndian.Uint16(data[pos+2 : pos+4]))
			rate = int(binary.LittleEndian.Uint32(data[pos+4 : pos+8]))
			bits = int(binary.LittleEndian.Uint16(data[pos+14 : pos+16]))
		case "data":
			pcm = data[pos : pos+size]
		}
		pos += size + size%2
	}

	switch {
	case format != 1 || bits != 16:
		return PCM{}, fmt.Errorf("unsupported WAV encoding: format=%d bits=%d", format, bits)
	case channels < 1 || rate < 1:
		return PCM{}, fmt.Errorf("invalid WAV header: channels=%d rate=%d", channels, rate)
	case pcm == nil:
		return PCM{}, fmt.Errorf("WAV has no data chunk")
	}

	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return PCM{Samples: samples, SampleRate: rate, Channels: channels}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}
