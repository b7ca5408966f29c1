package audio

import "time"

// Capture defaults
const (
	DefaultChunkDuration   = 30 * time.Second
	DefaultFramesPerBuffer = 1024
	DefaultJoinTimeout     = 5 * time.Second

	maxConsecutiveReadErrors = 50
	readRetryDelay           = 100 * time.Millisecond
)
