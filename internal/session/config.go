package session

import (
	"time"

	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
)

// Session defaults
const (
	DefaultFlushEvery   = 5
	DefaultKeepInMemory = 10
	DefaultRetryBatch   = 3

	DefaultPopTimeout  = time.Second
	DefaultJoinTimeout = 45 * time.Second
	DefaultDrainBudget = 15 * time.Second
	// Bounds all external work for one chunk. Must stay below
	// DefaultJoinTimeout so Stop waits out a chunk in flight.
	DefaultCallTimeout = 40 * time.Second

	DefaultSilenceTimeout   = 180 * time.Second
	DefaultWatchdogInterval = 10 * time.Second
	// RMS on the int16 scale; quiet room noise sits well below this.
	DefaultActivityThreshold = 300.0

	DefaultEventBuffer = 100

	stopPollInterval = 50 * time.Millisecond
)

// Config holds session settings. Zero values take the defaults above.
type Config struct {
	// DataDir holds shards, session records and failed-chunk files.
	DataDir string

	FlushEvery   int
	KeepInMemory int
	RetryBatch   int

	PopTimeout  time.Duration
	JoinTimeout time.Duration
	DrainBudget time.Duration
	CallTimeout time.Duration

	SilenceTimeout    time.Duration
	WatchdogInterval  time.Duration
	ActivityThreshold float64

	// KeepAudio leaves chunk files on disk after they are processed.
	KeepAudio   bool
	EventBuffer int
	Retry       resilience.RetryConfig
}

func (c Config) withDefaults() Config {
	if c.FlushEvery <= 0 {
		c.FlushEvery = DefaultFlushEvery
	}
	if c.KeepInMemory <= 0 {
		c.KeepInMemory = DefaultKeepInMemory
	}
	if c.RetryBatch <= 0 {
		c.RetryBatch = DefaultRetryBatch
	}
	if c.PopTimeout <= 0 {
		c.PopTimeout = DefaultPopTimeout
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = DefaultJoinTimeout
	}
	if c.DrainBudget <= 0 {
		c.DrainBudget = DefaultDrainBudget
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	if c.WatchdogInterval <= 0 {
		c.WatchdogInterval = DefaultWatchdogInterval
	}
	if c.ActivityThreshold <= 0 {
		c.ActivityThreshold = DefaultActivityThreshold
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = DefaultEventBuffer
	}
	if c.Retry.BaseDelay == 0 && c.Retry.MaxDelay == 0 && c.Retry.IsRetryable == nil {
		c.Retry = resilience.DefaultRetryConfig()
	}
	return c
}
