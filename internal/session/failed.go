package session

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/GriffinCanCode/meeting-pilot/internal/audio"
	apperrors "github.com/GriffinCanCode/meeting-pilot/internal/errors"
	"github.com/GriffinCanCode/meeting-pilot/internal/transcript"
)

const failedChunksPattern = "failed_chunks_*.json"

type failedFile struct {
	SessionID string        `json:"session_id,omitempty"`
	SavedAt   time.Time     `json:"saved_at"`
	Chunks    []failedEntry `json:"chunks"`
}

type failedEntry struct {
	Path            string             `json:"path"`
	DurationSeconds float64            `json:"duration_seconds"`
	Timestamp       time.Time          `json:"timestamp"`
	SampleRate      int                `json:"sample_rate"`
	Channels        int                `json:"channels"`
	Reason          string             `json:"reason"`
	Transcription   *transcript.Record `json:"transcription,omitempty"`
}

// saveFailedChunks writes chunks to a new failed-chunk file in dir.
func saveFailedChunks(dir, sessionID string, chunks []FailedChunk, now time.Time) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStoreIO, "create data dir")
	}
	f := failedFile{SessionID: sessionID, SavedAt: now, Chunks: make([]failedEntry, 0, len(chunks))}
	for _, fc := range chunks {
		f.Chunks = append(f.Chunks, failedEntry{
			Path:            fc.Chunk.Path,
			DurationSeconds: fc.Chunk.Duration.Seconds(),
			Timestamp:       fc.Chunk.StartTime,
			SampleRate:      fc.Chunk.SampleRate,
			Channels:        fc.Chunk.Channels,
			Reason:          fc.Reason,
			Transcription:   fc.Transcription,
		})
	}
	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeInternal, "encode failed chunks")
	}

	path := filepath.Join(dir, fmt.Sprintf("failed_chunks_%s.json", now.Format("20060102_150405")))
	for i := 1; fileExists(path); i++ {
		path = filepath.Join(dir, fmt.Sprintf("failed_chunks_%s_%d.json", now.Format("20060102_150405"), i))
	}
	if err := writeAtomic(path, data); err != nil {
		return "", apperrors.Wrap(err, apperrors.CodeStoreIO, "write failed chunks")
	}
	return path, nil
}

// loadFailedChunks reads and removes every failed-chunk file in dir.
// Entries whose audio is gone are dropped; unreadable files are left alone.
func loadFailedChunks(dir string) ([]FailedChunk, error) {
	paths, err := filepath.Glob(filepath.Join(dir, failedChunksPattern))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.CodeInternal, "list failed chunk files")
	}
	slices.Sort(paths)

	var out []FailedChunk
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("failed to read failed-chunk file", "path", path, "error", err)
			continue
		}
		var f failedFile
		if err := json.Unmarshal(data, &f); err != nil {
			slog.Warn("corrupt failed-chunk file, leaving it in place", "path", path, "error", err)
			continue
		}

		kept := 0
		for _, e := range f.Chunks {
			if !fileExists(e.Path) {
				slog.Warn("failed chunk audio missing, dropping", "path", e.Path)
				continue
			}
			out = append(out, e.failedChunk())
			kept++
		}
		if err := os.Remove(path); err != nil {
			slog.Warn("failed to remove failed-chunk file", "path", path, "error", err)
		}
		slog.Info("loaded failed chunks", "path", path, "kept", kept, "total", len(f.Chunks))
	}
	return out, nil
}

func (e failedEntry) failedChunk() FailedChunk {
	duration := time.Duration(e.DurationSeconds * float64(time.Second))
	reason := e.Reason
	if reason != ReasonAnalyze || e.Transcription == nil {
		reason = ReasonTranscribe
	}
	return FailedChunk{
		Chunk: audio.Chunk{
			ID:         strings.TrimSuffix(filepath.Base(e.Path), filepath.Ext(e.Path)),
			Path:       e.Path,
			StartTime:  e.Timestamp,
			Duration:   duration,
			Frames:     int(e.DurationSeconds * float64(e.SampleRate)),
			SampleRate: e.SampleRate,
			Channels:   e.Channels,
		},
		Reason:        reason,
		Transcription: e.Transcription,
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
