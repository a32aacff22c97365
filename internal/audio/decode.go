package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"

	apperrors "github.com/roleplay-ai/voicecall/internal/errors"
)

// Decode turns a server audio resource into PCM. WAV and MP3 are
// recognised by their leading bytes; anything else is a PlaybackFailure.
func Decode(data []byte) (PCM, error) {
	switch {
	case isWAV(data):
		p, err := DecodeWAV(data)
		if err != nil {
			return PCM{}, apperrors.Wrap(err, apperrors.PlaybackFailure, "decode wav")
		}
		return p, nil
	case isMP3(data):
		p, err := decodeMP3(data)
		if err != nil {
			return PCM{}, apperrors.Wrap(err, apperrors.PlaybackFailure, "decode mp3")
		}
		return p, nil
	default:
		return PCM{}, apperrors.New(apperrors.PlaybackFailure, "unsupported audio container").
			WithMetadata("magic", fmt.Sprintf("%x", head(data, 4)))
	}
}

func isMP3(data []byte) bool {
	if len(data) >= 3 && string(data[:3]) == "ID3" {
		return true
	}
	// MPEG audio frame sync: 11 set bits.
	return len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0
}

// decodeMP3 always yields interleaved stereo; go-mp3 upmixes mono streams.
func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, err
	}
	raw, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, err
	}
	if len(raw)%4 != 0 {
		return PCM{}, fmt.Errorf("unexpected decoded length %d", len(raw))
	}

	samples := make([]int16, len(raw)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(raw[i*2:]))
	}
	return PCM{Samples: samples, SampleRate: dec.SampleRate(), Channels: 2}, nil
}

func head(b []byte, n int) []byte {
	if len(b) < n {
		return b
	}
	return b[:n]
}
