// Package config handles voice call client configuration
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Local UI bridge
	HTTPAddr string

	// Roleplay backend
	BackendURL     string
	AccessToken    string
	UploadPath     string
	RequestTimeout time.Duration
	ConversationID string
	UserID         string

	// Capture
	SampleRate      int
	FramesPerBuffer int
	InputDevice     string
	ExcludedDevices []string
	MaxUtterance    time.Duration

	// Voice activity detection
	EnergyReference  float64 // rms that maps to 0 dB
	SilenceThreshold float64 // dB
	BargeInMargin    float64 // dB above SilenceThreshold
	SilenceDuration  time.Duration
	PollInterval     time.Duration

	// Text path
	DeltaFields    []string
	HistoryEntries int
}

// Load reads configuration from the environment. A .env file in the working
// directory is applied first when present; real env vars take precedence.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:         getEnv("HTTP_ADDR", ":8000"),
		BackendURL:       strings.TrimRight(getEnv("BACKEND_URL", "http://localhost:8080"), "/"),
		AccessToken:      getEnv("ACCESS_TOKEN", ""),
		UploadPath:       getEnv("UPLOAD_PATH", "/api/audio/chat"),
		RequestTimeout:   getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
		ConversationID:   getEnv("CONVERSATION_ID", ""),
		UserID:           getEnv("USER_ID", ""),
		SampleRate:       getEnvInt("SAMPLE_RATE", 16000),
		FramesPerBuffer:  getEnvInt("FRAMES_PER_BUFFER", 512),
		InputDevice:      getEnv("INPUT_DEVICE", ""),
		ExcludedDevices:  getEnvList("EXCLUDED_AUDIO_DEVICES", []string{"iphone", "teams"}),
		MaxUtterance:     getEnvDuration("MAX_UTTERANCE", 60*time.Second),
		EnergyReference:  getEnvFloat("ENERGY_REFERENCE", 0.01),
		SilenceThreshold: getEnvFloat("SILENCE_THRESHOLD", -10),
		BargeInMargin:    getEnvFloat("BARGE_IN_MARGIN", 10),
		SilenceDuration:  getEnvDuration("SILENCE_DURATION", 2*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 16*time.Millisecond),
		DeltaFields:      getEnvList("DELTA_FIELDS", []string{"content", "text", "delta", "choices.0.delta.content", "data"}),
		HistoryEntries:   getEnvInt("HISTORY_ENTRIES", 50),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getEnvDuration accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getEnvDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return def
}

func getEnvList(key string, def []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				result = append(result, t)
			}
		}
		return result
	}
	return def
}
