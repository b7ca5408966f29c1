package resilience

import "time"

// Breaker and limiter configuration constants
const (
	DefaultThreshold         = 5
	DefaultMaxBackoff        = 300 * time.Second
	DefaultMaxCallsPerMinute = 10
	DefaultWindow            = time.Minute
	DefaultMaxWait           = 10 * time.Second
)

// Config holds circuit breaker settings.
type Config struct {
	Threshold  int           // consecutive failures before opening
	MaxBackoff time.Duration // cap on the open period
}

// DefaultConfig returns production-ready defaults.
func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		MaxBackoff: DefaultMaxBackoff,
	}
}

func (c Config) withDefaults() Config {
	if c.Threshold <= 0 {
		c.Threshold = DefaultThreshold
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	return c
}

// LimiterConfig holds admission control settings for one external service.
type LimiterConfig struct {
	Name              string
	MaxCallsPerMinute int
	Window            time.Duration
	Breaker           Config
}

// DefaultLimiterConfig returns defaults for a named service.
func DefaultLimiterConfig(name string) LimiterConfig {
	return LimiterConfig{
		Name:              name,
		MaxCallsPerMinute: DefaultMaxCallsPerMinute,
		Window:            DefaultWindow,
		Breaker:           DefaultConfig(),
	}
}

func (c LimiterConfig) withDefaults() LimiterConfig {
	if c.MaxCallsPerMinute <= 0 {
		c.MaxCallsPerMinute = DefaultMaxCallsPerMinute
	}
	if c.Window <= 0 {
		c.Window = DefaultWindow
	}
	c.Breaker = c.Breaker.withDefaults()
	return c
}
