package server

import "time"

// Server configuration constants
const (
	// Per-connection sliding window for client commands
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Outbound frames queued per connection before new ones are dropped
	SendBuffer = 64

	WriteTimeout = 5 * time.Second

	// Default and maximum entries returned by /api/history
	HistoryLimit    = 50
	HistoryLimitMax = 500
)
