// Package config handles pilot configuration
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/ilyakaznacheev/cleanenv"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
)

// Config is the full runtime configuration. Values come from an optional
// TOML file, then PILOT_* environment variables, then the defaults below.
type Config struct {
	DataDir  string `toml:"data_dir" env:"PILOT_DATA_DIR"`
	HTTPAddr string `toml:"http_addr" env:"PILOT_HTTP_ADDR" env-default:"127.0.0.1:8000" validate:"required,hostname_port"`

	Audio     AudioConfig     `toml:"audio"`
	Session   SessionConfig   `toml:"session"`
	Limits    LimitsConfig    `toml:"limits"`
	Inference InferenceConfig `toml:"inference"`
	STT       STTConfig       `toml:"stt"`
	Log       LogConfig       `toml:"log"`
}

type AudioConfig struct {
	ChunkDuration   time.Duration `toml:"chunk_duration" env:"PILOT_CHUNK_DURATION" env-default:"30s" validate:"gte=1s"`
	FramesPerBuffer int           `toml:"frames_per_buffer" env:"PILOT_FRAMES_PER_BUFFER" env-default:"1024" validate:"gte=64,lte=16384"`
	// Loopback records system audio instead of a microphone.
	Loopback bool `toml:"loopback" env:"PILOT_LOOPBACK"`
	// DeviceIndex pins a device by index; empty selects automatically.
	DeviceIndex string   `toml:"device_index" env:"PILOT_DEVICE_INDEX" validate:"omitempty,number"`
	Excluded    []string `toml:"excluded_devices" env:"PILOT_EXCLUDED_DEVICES" env-separator:","`
	KeepAudio   bool     `toml:"keep_audio" env:"PILOT_KEEP_AUDIO"`
}

type SessionConfig struct {
	FlushEvery        int           `toml:"flush_every" env:"PILOT_FLUSH_EVERY" env-default:"5" validate:"gte=1"`
	KeepInMemory      int           `toml:"keep_in_memory" env:"PILOT_KEEP_IN_MEMORY" env-default:"10" validate:"gte=1"`
	RetryBatch        int           `toml:"retry_batch" env:"PILOT_RETRY_BATCH" env-default:"3" validate:"gte=1"`
	JoinTimeout       time.Duration `toml:"join_timeout" env:"PILOT_JOIN_TIMEOUT" env-default:"45s" validate:"gtfield=CallTimeout"`
	DrainBudget       time.Duration `toml:"drain_budget" env:"PILOT_DRAIN_BUDGET" env-default:"15s" validate:"gt=0"`
	CallTimeout       time.Duration `toml:"call_timeout" env:"PILOT_CALL_TIMEOUT" env-default:"40s" validate:"gt=0"`
	SilenceTimeout    time.Duration `toml:"silence_timeout" env:"PILOT_SILENCE_TIMEOUT" env-default:"180s" validate:"gtfield=WatchdogInterval"`
	WatchdogInterval  time.Duration `toml:"watchdog_interval" env:"PILOT_WATCHDOG_INTERVAL" env-default:"10s" validate:"gt=0"`
	ActivityThreshold float64       `toml:"activity_threshold" env:"PILOT_ACTIVITY_THRESHOLD" env-default:"300" validate:"gt=0"`
}

type LimitsConfig struct {
	TranscribePerMinute int           `toml:"transcribe_per_minute" env:"PILOT_TRANSCRIBE_PER_MINUTE" env-default:"10" validate:"gte=1"`
	AnalyzePerMinute    int           `toml:"analyze_per_minute" env:"PILOT_ANALYZE_PER_MINUTE" env-default:"10" validate:"gte=1"`
	FailureThreshold    int           `toml:"failure_threshold" env:"PILOT_FAILURE_THRESHOLD" env-default:"5" validate:"gte=1"`
	MaxBackoff          time.Duration `toml:"max_backoff" env:"PILOT_MAX_BACKOFF" env-default:"300s" validate:"gt=0"`
	MaxRetries          int           `toml:"max_retries" env:"PILOT_MAX_RETRIES" env-default:"2" validate:"gte=0,lte=10"`
	MaxWait             time.Duration `toml:"max_wait" env:"PILOT_MAX_WAIT" env-default:"10s" validate:"gte=0"`
}

type InferenceConfig struct {
	Addr string `toml:"addr" env:"PILOT_INFERENCE_ADDR" env-default:"localhost:50051" validate:"required"`
	// WaitRetries bounds the health probes made before the first session.
	WaitRetries int `toml:"wait_retries" env:"PILOT_INFERENCE_WAIT_RETRIES" env-default:"3" validate:"gte=0"`
}

// STTConfig picks the transcriber. "grpc" uses the inference service,
// "http" an OpenAI-compatible transcription endpoint.
type STTConfig struct {
	Backend  string `toml:"backend" env:"PILOT_STT_BACKEND" env-default:"grpc" validate:"oneof=grpc http"`
	BaseURL  string `toml:"base_url" env:"PILOT_STT_BASE_URL" env-default:"https://api.openai.com/v1" validate:"omitempty,url"`
	APIKey   string `toml:"api_key" env:"PILOT_STT_API_KEY"`
	Model    string `toml:"model" env:"PILOT_STT_MODEL" env-default:"whisper-1"`
	Language string `toml:"language" env:"PILOT_STT_LANGUAGE"`
}

type LogConfig struct {
	Level     string `toml:"level" env:"PILOT_LOG_LEVEL" env-default:"info" validate:"oneof=debug info warn error"`
	Format    string `toml:"format" env:"PILOT_LOG_FORMAT" env-default:"text" validate:"oneof=text json"`
	File      string `toml:"file" env:"PILOT_LOG_FILE"`
	MaxSizeMB int    `toml:"max_size_mb" env:"PILOT_LOG_MAX_SIZE_MB" env-default:"20" validate:"gte=1"`
	MaxFiles  int    `toml:"max_files" env:"PILOT_LOG_MAX_FILES" env-default:"5" validate:"gte=0"`
	MaxAge    int    `toml:"max_age_days" env:"PILOT_LOG_MAX_AGE_DAYS" env-default:"30" validate:"gte=0"`
	AddSource bool   `toml:"add_source" env:"PILOT_LOG_ADD_SOURCE"`
}

// Load reads path (if non-empty) and the environment, then validates.
func Load(path string) (*Config, error) {
	var cfg Config
	var err error
	if path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "read config")
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.CodeConfigInvalid, "resolve data dir")
		}
		cfg.DataDir = filepath.Join(home, DefaultDataDirName)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return apperrors.Wrap(err, apperrors.CodeConfigInvalid, "invalid config")
	}
	return nil
}

// Device returns the pinned device index, or nil for automatic selection.
func (a AudioConfig) Device() *int {
	i, err := strconv.Atoi(a.DeviceIndex)
	if err != nil || i < 0 {
		return nil
	}
	return &i
}

// Usage describes every environment variable.
func Usage() (string, error) {
	var cfg Config
	return cleanenv.GetDescription(&cfg, nil)
}

// RecordingsDir is where chunk WAV files are written.
func (c *Config) RecordingsDir() string { return filepath.Join(c.DataDir, RecordingsDirName) }

// StorePath is the persisted session history document.
func (c *Config) StorePath() string { return filepath.Join(c.DataDir, StoreFileName) }

// LogPath resolves a relative log file against DataDir. Empty means stderr only.
func (c *Config) LogPath() string {
	if c.Log.File == "" || filepath.IsAbs(c.Log.File) {
		return c.Log.File
	}
	return filepath.Join(c.DataDir, c.Log.File)
}
