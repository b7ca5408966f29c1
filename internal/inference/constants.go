package inference

import "time"

// Service methods.
const (
	MethodTranscribe = "/pilot.inference.v1.Inference/Transcribe"
	MethodAnalyze    = "/pilot.inference.v1.Inference/Analyze"
	MethodSummarize  = "/pilot.inference.v1.Inference/Summarize"
)

// Client configuration defaults
const (
	// Keepalive configuration
	DefaultKeepaliveTime    = 10 * time.Second
	DefaultKeepaliveTimeout = 3 * time.Second

	// Health check configuration
	DefaultHealthCheckInterval = 5 * time.Second
	HealthCheckTimeout         = 2 * time.Second

	// A 30s chunk at 48kHz is ~2.9MB of WAV, ~3.8MB once base64 encoded.
	MaxMessageSize = 32 << 20
)
