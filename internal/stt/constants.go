package stt

// Endpoint defaults
const (
	DefaultBaseURL     = "https://api.openai.com/v1"
	DefaultModel       = "whisper-1"
	TranscriptionsPath = "/audio/transcriptions"
)
