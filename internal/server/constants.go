package server

import "time"

// Server configuration constants
const (
	// Inbound WebSocket messages per connection per window
	RateLimitMessages = 10
	RateLimitWindow   = time.Second

	// Bound on a single event write to a slow client
	WriteTimeout = 5 * time.Second

	MaxBodyBytes = 1 << 16

	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)
