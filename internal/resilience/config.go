package resilience

import "time"

// Circuit breaker configuration constants
const (
	// Upload: a handful of consecutive failed utterances means the backend is down.
	DefaultThreshold         = 5
	DefaultResetTimeout      = 30 * time.Second
	DefaultHalfOpenSuccesses = 2

	// Message streams are cheap to refuse; trip sooner.
	StreamThreshold         = 3
	StreamResetTimeout      = 10 * time.Second
	StreamHalfOpenSuccesses = 1
)

// Config holds circuit breaker settings.
type Config struct {
	Name              string        // used in logs
	Threshold         int           // consecutive failures before opening
	ResetTimeout      time.Duration // wait before half-open attempt
	HalfOpenSuccesses int           // successes needed to close
}

// DefaultConfig returns the breaker settings for utterance uploads.
func DefaultConfig() Config {
	return Config{
		Name:              "upload",
		Threshold:         DefaultThreshold,
		ResetTimeout:      DefaultResetTimeout,
		HalfOpenSuccesses: DefaultHalfOpenSuccesses,
	}
}

// StreamConfig returns the breaker settings for message streams.
func StreamConfig() Config {
	return Config{
		Name:              "stream",
		Threshold:         StreamThreshold,
		ResetTimeout:      StreamResetTimeout,
		HalfOpenSuccesses: StreamHalfOpenSuccesses,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = DefaultResetTimeout
	}
	if c.HalfOpenSuccesses <= 0 {
		c.HalfOpenSuccesses = DefaultHalfOpenSuccesses
	}
	return c
}
