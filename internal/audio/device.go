package audio

import (
	"errors"
	"strings"

	"github.com/gordonklaus/portaudio"
)

type deviceClass int

const (
	classUnknown deviceClass = iota
	classMicrophone
	classLoopback
)

var (
	loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower", "stereo mix"}
	micKeywords      = []string{"microphone", "input", "mic", "built-in", "headset"}
	preferredMics    = []string{"macbook", "built-in"}
)

var errNoInputDevice = errors.New("no usable input device")

func classifyDevice(name string) deviceClass {
	for _, kw := range loopbackKeywords {
		if containsFold(name, kw) {
			return classLoopback
		}
	}
	for _, kw := range micKeywords {
		if containsFold(name, kw) {
			return classMicrophone
		}
	}
	return classUnknown
}

// selectInput picks the capture device. A configured name wins; otherwise
// the best-looking microphone, then the system default. Loopback devices
// would feed playback back into the VAD and are never used.
func selectInput(devices []*portaudio.DeviceInfo, def *portaudio.DeviceInfo, preferred string, excluded []string) (*portaudio.DeviceInfo, error) {
	usable := func(d *portaudio.DeviceInfo) bool {
		return d != nil && d.MaxInputChannels > 0 &&
			!isExcluded(d.Name, excluded) && classifyDevice(d.Name) != classLoopback
	}

	var mic *portaudio.DeviceInfo
	for _, d := range devices {
		if !usable(d) {
			continue
		}
		if preferred != "" && containsFold(d.Name, preferred) {
			return d, nil
		}
		if classifyDevice(d.Name) == classMicrophone && (mic == nil || preferDevice(d.Name, mic.Name)) {
			mic = d
		}
	}
	if mic != nil {
		return mic, nil
	}
	if usable(def) {
		return def, nil
	}
	return nil, errNoInputDevice
}

func isExcluded(name string, excluded []string) bool {
	for _, ex := range excluded {
		if containsFold(name, ex) {
			return true
		}
	}
	return false
}

func preferDevice(name, current string) bool {
	for _, p := range preferredMics {
		if containsFold(name, p) && !containsFold(current, p) {
			return true
		}
	}
	return false
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
