// Package audio captures a recording device and cuts the stream into
// fixed-duration WAV chunks.
package audio

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/syncx"
)

// Chunk is one captured segment. It is immutable once queued.
type Chunk struct {
	ID         string        `json:"id"`
	Path       string        `json:"path"`
	StartTime  time.Time     `json:"timestamp"`
	Duration   time.Duration `json:"-"`
	Frames     int           `json:"frames"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
}

// FrameFunc receives every raw buffer as it is read. It must not retain samples.
type FrameFunc func(samples []int16, sampleRate int) error

// StartOptions selects the device and an optional frame observer.
type StartOptions struct {
	UseLineIn   bool
	DeviceIndex *int
	OnFrame     FrameFunc
}

// Config holds capture settings.
type Config struct {
	Dir             string
	ChunkDuration   time.Duration
	FramesPerBuffer int
	Channels        int
	JoinTimeout     time.Duration
	Excluded        []string
}

// Source owns one capture stream at a time and hands chunks to a queue.
type Source struct {
	cfg     Config
	backend Backend
	queue   *syncx.Queue[Chunk]
	now     func() time.Time

	mu       sync.Mutex
	stream   InputStream
	device   Device
	done     chan struct{}
	stopping atomic.Bool

	// accumulator; shared with Stop only after the capture loop is told to exit
	accMu      sync.Mutex
	acc        []int16
	chunkStart time.Time
	sampleRate int
	channels   int
}

// NewSource creates a source over backend.
func NewSource(backend Backend, cfg Config) *Source {
	if cfg.ChunkDuration <= 0 {
		cfg.ChunkDuration = DefaultChunkDuration
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = DefaultJoinTimeout
	}
	return &Source{
		cfg:     cfg,
		backend: backend,
		queue:   syncx.NewQueue[Chunk](),
		now:     time.Now,
	}
}

// WithClock replaces the time source used for chunk boundaries.
func (s *Source) WithClock(now func() time.Time) *Source {
	s.now = now
	return s
}

// Devices lists the backend's devices.
func (s *Source) Devices() ([]Device, error) {
	return s.backend.Devices()
}

// Device returns the device of the current or last capture.
func (s *Source) Device() Device {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.device
}

// Start selects a device, opens it at its native sample rate and begins capture.
func (s *Source) Start(opts StartOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return apperrors.New(apperrors.CodeStreamFailed, "capture already running")
	}

	devices, err := s.backend.Devices()
	if err != nil {
		return apperrors.Wrap(err, apperrors.CodeStreamFailed, "enumerate devices")
	}
	var fallback *Device
	if d, err := s.backend.DefaultInput(); err == nil {
		fallback = &d
	}
	dev, err := SelectDevice(devices, fallback, SelectOptions{
		UseLineIn:   opts.UseLineIn,
		DeviceIndex: opts.DeviceIndex,
		Excluded:    s.cfg.Excluded,
	})
	if err != nil {
		return err
	}

	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStoreIO, "create recordings dir %s", s.cfg.Dir)
	}

	channels := min(s.cfg.Channels, dev.MaxInputChannels)
	stream, err := s.backend.Open(dev, channels, s.cfg.FramesPerBuffer)
	if err != nil {
		return apperrors.Wrapf(err, apperrors.CodeStreamFailed, "open %s", dev.Name)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return apperrors.Wrapf(err, apperrors.CodeStreamFailed, "start %s", dev.Name)
	}

	s.accMu.Lock()
	s.acc = s.acc[:0]
	s.chunkStart = s.now()
	s.sampleRate = int(dev.DefaultSampleRate)
	s.channels = channels
	s.accMu.Unlock()

	s.stream = stream
	s.device = dev
	s.done = make(chan struct{})
	s.stopping.Store(false)

	go s.capture(stream, opts.OnFrame, s.done)

	slog.Info("audio capture started",
		"device", dev.Name, "index", dev.Index,
		"sample_rate", s.sampleRate, "chunk_duration", s.cfg.ChunkDuration)
	return nil
}

func (s *Source) capture(stream InputStream, onFrame FrameFunc, done chan struct{}) {
	defer close(done)
	failures := 0

	for {
		samples, err := stream.Read()
		if err != nil {
			if s.stopping.Load() {
				return
			}
			failures++
			if failures >= maxConsecutiveReadErrors {
				slog.Error("audio capture giving up after repeated read errors", "error", err)
				return
			}
			slog.Warn("audio read error", "error", err)
			time.Sleep(readRetryDelay)
			continue
		}
		failures = 0

		s.accMu.Lock()
		s.acc = append(s.acc, samples...)
		due := s.now().Sub(s.chunkStart) >= s.cfg.ChunkDuration
		s.accMu.Unlock()

		s.deliver(onFrame, samples)

		// A boundary reached as Stop arrives is still cut here.
		if due {
			s.cut()
		}
		if s.stopping.Load() {
			return
		}
	}
}

func (s *Source) deliver(fn FrameFunc, samples []int16) {
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("frame callback panicked", "panic", r)
		}
	}()
	if err := fn(samples, s.sampleRate); err != nil {
		slog.Warn("frame callback failed", "error", err)
	}
}

// cut writes the accumulator as a chunk and queues it. On write failure the
// samples stay in the accumulator for the next boundary.
func (s *Source) cut() {
	s.accMu.Lock()
	defer s.accMu.Unlock()

	if len(s.acc) == 0 {
		s.chunkStart = s.now()
		return
	}
	chunk, err := s.writeChunk(s.acc, s.chunkStart)
	if err != nil {
		slog.Error("failed to write audio chunk", "error", err)
		return
	}
	s.queue.Push(chunk)
	s.acc = make([]int16, 0, cap(s.acc))
	s.chunkStart = s.now()

	slog.Debug("audio chunk queued", "chunk", chunk.ID, "duration", chunk.Duration, "queued", s.queue.Len())
}

func (s *Source) writeChunk(samples []int16, start time.Time) (Chunk, error) {
	id := uuid.NewString()
	name := fmt.Sprintf("chunk_%s_%s.wav", start.Format("20060102_150405"), id[:8])
	path := filepath.Join(s.cfg.Dir, name)

	if err := WriteWAV(path, samples, s.sampleRate, s.channels); err != nil {
		return Chunk{}, err
	}
	frames := len(samples) / s.channels
	return Chunk{
		ID:         id,
		Path:       path,
		StartTime:  start,
		Duration:   time.Duration(frames) * time.Second / time.Duration(s.sampleRate),
		Frames:     frames,
		SampleRate: s.sampleRate,
		Channels:   s.channels,
	}, nil
}

// Stop halts capture. The stream is stopped before the capture goroutine is
// joined so a blocked Read returns promptly; the remainder becomes a final chunk.
func (s *Source) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return
	}
	s.stopping.Store(true)

	if err := s.stream.Stop(); err != nil {
		slog.Warn("failed to stop audio stream", "error", err)
	}

	select {
	case <-s.done:
	case <-time.After(s.cfg.JoinTimeout):
		slog.Warn("audio capture did not exit in time", "timeout", s.cfg.JoinTimeout)
	}

	if err := s.stream.Close(); err != nil {
		slog.Warn("failed to close audio stream", "error", err)
	}
	s.stream = nil

	s.cut()
	slog.Info("audio capture stopped", "device", s.device.Name)
}

// NextChunk waits up to timeout for the next chunk.
func (s *Source) NextChunk(timeout time.Duration) (Chunk, bool) {
	return s.queue.Pop(timeout)
}

// Drain removes every queued chunk without waiting.
func (s *Source) Drain() []Chunk {
	return s.queue.Drain()
}

// Cleanup stops capture and releases the backend.
func (s *Source) Cleanup() {
	s.Stop()
	if err := s.backend.Terminate(); err != nil {
		slog.Warn("audio backend terminate failed", "error", err)
	}
}
