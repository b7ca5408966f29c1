// Package app wires configuration into the running components.
package app

import (
	"context"
	"log/slog"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	"github.com/GriffinCanCode/meeting-pilot/internal/config"
	"github.com/GriffinCanCode/meeting-pilot/internal/inference"
	"github.com/GriffinCanCode/meeting-pilot/internal/resilience"
	"github.com/GriffinCanCode/meeting-pilot/internal/session"
	"github.com/GriffinCanCode/meeting-pilot/internal/store"
	"github.com/GriffinCanCode/meeting-pilot/internal/stt"
)

type App struct {
	Config    *config.Config
	Store     *store.Store
	Source    *audio.Source
	Inference *inference.Client
	Manager   *session.Manager

	analyzeLimiter *resilience.Limiter
}

// New opens the store and audio backend, connects to the inference service
// and builds the session manager.
func New(cfg *config.Config) (*App, error) {
	st, err := OpenStore(cfg)
	if err != nil {
		return nil, err
	}

	src, err := NewSource(cfg)
	if err != nil {
		return nil, err
	}

	inf, err := inference.New(cfg.Inference.Addr)
	if err != nil {
		src.Cleanup()
		return nil, err
	}

	var tr session.Transcriber = inf
	if cfg.STT.Backend == "http" {
		tr = stt.New(stt.Config{
			BaseURL:  cfg.STT.BaseURL,
			APIKey:   cfg.STT.APIKey,
			Model:    cfg.STT.Model,
			Language: cfg.STT.Language,
		})
	}

	tl := newLimiter("transcribe", cfg.Limits.TranscribePerMinute, cfg.Limits)
	al := newLimiter("analyze", cfg.Limits.AnalyzePerMinute, cfg.Limits)
	mgr, err := session.New(SessionConfig(cfg), session.Deps{
		Source:            src,
		Transcriber:       tr,
		Analyzer:          inf,
		History:           st,
		TranscribeLimiter: tl,
		AnalyzeLimiter:    al,
	})
	if err != nil {
		_ = inf.Close()
		src.Cleanup()
		return nil, err
	}

	return &App{
		Config:         cfg,
		Store:          st,
		Source:         src,
		Inference:      inf,
		Manager:        mgr,
		analyzeLimiter: al,
	}, nil
}

// WaitReady probes the inference service behind the analysis limiter. A
// service that is still down is logged, not fatal: chunks queue for retry
// until it comes up.
func (a *App) WaitReady(ctx context.Context) {
	if err := a.Inference.WaitReady(ctx, a.analyzeLimiter, a.Config.Inference.WaitRetries); err != nil {
		slog.Warn("inference service not ready", "addr", a.Config.Inference.Addr, "error", err)
	}
}

// StartOptions is the configured device selection.
func (a *App) StartOptions() session.StartOptions {
	return session.StartOptions{
		UseLineIn:   !a.Config.Audio.Loopback,
		DeviceIndex: a.Config.Audio.Device(),
	}
}

// Close stops any session, persists leftovers and releases every resource.
func (a *App) Close() {
	a.Manager.Cleanup()
	if err := a.Inference.Close(); err != nil {
		slog.Warn("inference close failed", "error", err)
	}
}

// OpenStore opens the history document.
func OpenStore(cfg *config.Config) (*store.Store, error) {
	return store.Open(cfg.StorePath())
}

// NewSource initializes PortAudio and a capture source.
func NewSource(cfg *config.Config) (*audio.Source, error) {
	backend, err := audio.NewPortAudio()
	if err != nil {
		return nil, err
	}
	return audio.NewSource(backend, audio.Config{
		Dir:             cfg.RecordingsDir(),
		ChunkDuration:   cfg.Audio.ChunkDuration,
		FramesPerBuffer: cfg.Audio.FramesPerBuffer,
		Excluded:        cfg.Audio.Excluded,
	}), nil
}

// SessionConfig maps configuration onto session settings.
func SessionConfig(cfg *config.Config) session.Config {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.Limits.MaxRetries
	retry.MaxWait = cfg.Limits.MaxWait

	s := cfg.Session
	return session.Config{
		DataDir:           cfg.DataDir,
		FlushEvery:        s.FlushEvery,
		KeepInMemory:      s.KeepInMemory,
		RetryBatch:        s.RetryBatch,
		JoinTimeout:       s.JoinTimeout,
		DrainBudget:       s.DrainBudget,
		CallTimeout:       s.CallTimeout,
		SilenceTimeout:    s.SilenceTimeout,
		WatchdogInterval:  s.WatchdogInterval,
		ActivityThreshold: s.ActivityThreshold,
		KeepAudio:         cfg.Audio.KeepAudio,
		Retry:             retry,
	}
}

func newLimiter(name string, perMinute int, limits config.LimitsConfig) *resilience.Limiter {
	lc := resilience.DefaultLimiterConfig(name)
	lc.MaxCallsPerMinute = perMinute
	lc.Breaker.Threshold = limits.FailureThreshold
	lc.Breaker.MaxBackoff = limits.MaxBackoff
	return resilience.NewLimiter(lc).WithHook(func(from, to resilience.State) {
		slog.Warn("circuit breaker state change", "service", name, "from", from, "to", to)
	})
}
